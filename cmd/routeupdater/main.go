/*
Copyright 2026 the ipv6pool authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command routeupdater installs the kernel route for the host's current
// global IPv6 prefix and reconciles the neighbor-discovery proxy
// configuration to match it. Run standalone (e.g. from cron or a network
// up-hook) on hosts that don't run the full pool server.
//
// SUDOPASS is needed for privileged operations (ip route, ndppd,
// /etc/ndppd.conf) unless the process already runs as root.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ipv6pool/server/internal/prefix"
	"github.com/ipv6pool/server/internal/routeeffector"
)

func main() {
	var (
		ndppdConf     string
		restartNdppd  bool
		excludedIface []string
	)

	cmd := &cobra.Command{
		Use:   "routeupdater",
		Short: "Reconcile the kernel route and ndppd.conf for the current IPv6 prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), ndppdConf, restartNdppd, excludedIface)
		},
	}
	cmd.Flags().StringVar(&ndppdConf, "ndppd-conf", "", fmt.Sprintf("ndppd.conf path (default: %s)", routeeffector.DefaultConfPath))
	cmd.Flags().BoolVar(&restartNdppd, "restart-ndppd", false, "force restart ndppd even if ndppd.conf is up-to-date")
	cmd.Flags().StringSliceVar(&excludedIface, "exclude-interface-prefix", []string{"cloudflare"}, "interface name prefixes to skip while probing")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, ndppdConf string, restartNdppd bool, excluded []string) error {
	zapLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer zapLog.Sync()
	log := zapr.NewLogger(zapLog).WithName("routeupdater")

	prober := prefix.NewInterfaceProber(excluded...)
	info, err := prober.Probe(ctx)
	if err != nil {
		return fmt.Errorf("no global IPv6 interface found: %w", err)
	}
	log.Info("found prefix", "prefix", info.Prefix, "bits", info.Bits, "interface", info.Interface)

	effector := routeeffector.NewExecEffector()
	re := routeeffector.New(info.Interface, info.Prefix, ndppdConf, effector, log)

	if effector.SudoPass != "" {
		log.Info("privilege: SUDOPASS env found, using sudo -S")
	} else if os.Geteuid() == 0 {
		log.Info("privilege: running as root, no sudo needed")
	} else {
		log.Info("privilege: not root and no SUDOPASS env, sudo may prompt interactively")
	}

	return re.Run(ctx, restartNdppd)
}
