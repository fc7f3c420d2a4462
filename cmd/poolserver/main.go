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

// Command poolserver runs the IPv6 address pool's HTTP lease API alongside
// its route-monitor and maintenance background loops.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ipv6pool/server/internal/checker"
	"github.com/ipv6pool/server/internal/config"
	"github.com/ipv6pool/server/internal/httpapi"
	"github.com/ipv6pool/server/internal/prefix"
	"github.com/ipv6pool/server/internal/routeeffector"
	"github.com/ipv6pool/server/internal/server"
)

func main() {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "poolserver",
		Short: "Serve the IPv6 address pool lease API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().SortFlags = false
	cfg.BindFlags(cmd.Flags())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	cfg.LoadSudoPass()

	zapLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer zapLog.Sync()
	log := zapr.NewLogger(zapLog).WithName("poolserver")

	prober := prefix.NewInterfaceProber(cfg.ExcludedInterfaces...)
	detector, err := buildDetector(cfg)
	if err != nil {
		log.Info("no fast-path prefix detector configured", "error", err)
	}

	chk := checker.New(cfg.CheckURL, cfg.CheckTimeout, log)

	effector := routeeffector.NewExecEffector()
	effector.SudoPass = cfg.SudoPass
	routeEffectorFactory := func(iface, prefixStr string) server.RouteEffector {
		re := routeeffector.New(iface, prefixStr, cfg.NdppdConfPath, effector, log)
		re.RestartGrace = cfg.RestartGrace
		return re
	}

	mirrorRanges, err := cfg.ParseMirrorRanges()
	if err != nil {
		return err
	}

	srv := server.New(
		server.Options{
			DBRoot:          cfg.DBRoot,
			UsableNum:       cfg.UsableNum,
			SpawnMaxRetries: cfg.SpawnMaxRetries,
			SpawnMaxAddrs:   cfg.SpawnMaxAddrs,
			MirrorRanges:    mirrorRanges,
		},
		chk,
		prober,
		detector,
		routeEffectorFactory,
		log,
	)
	srv.Load()

	bootstrapCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Bootstrap(bootstrapCtx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if detector != nil {
		if err := detector.Start(ctx); err != nil {
			log.Info("failed to start prefix detector, falling back to polling only", "error", err)
		} else {
			defer detector.Stop()
		}
	}

	go srv.RunRouteMonitor(ctx, cfg.RouteCheckInterval)
	go srv.RunMaintenance(ctx, cfg.MaintainInterval, cfg.UsableNum)

	api := httpapi.New(srv, chk, log)
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Info("http server failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Info("http server shutdown error", "error", err)
	}

	return srv.Save()
}

func buildDetector(cfg config.Config) (prefix.Receiver, error) {
	var dcfg prefix.DetectorConfig
	switch cfg.Detector {
	case config.DetectorNone, "":
		return nil, fmt.Errorf("detector disabled")
	case config.DetectorDHCPv6PD:
		dcfg.DHCPv6PD = &prefix.DHCPv6PDConfig{Interface: cfg.DetectorInterface, RequestedPrefixLength: cfg.RequestedPrefixLen}
	case config.DetectorRA:
		dcfg.RouterAdvertisement = &prefix.RouterAdvertisementConfig{Interface: cfg.DetectorInterface, Enabled: true}
	case config.DetectorComposite:
		dcfg.DHCPv6PD = &prefix.DHCPv6PDConfig{Interface: cfg.DetectorInterface, RequestedPrefixLength: cfg.RequestedPrefixLen}
		dcfg.RouterAdvertisement = &prefix.RouterAdvertisementConfig{Interface: cfg.DetectorInterface, Enabled: true}
	default:
		return nil, fmt.Errorf("unknown detector %q", cfg.Detector)
	}

	det, err := prefix.NewDetectorFactory().CreateDetector(dcfg)
	if err != nil {
		// CreateDetector's error paths can return a typed nil pointer;
		// hand back an untyped nil so callers' nil checks hold.
		return nil, err
	}
	return det, nil
}
