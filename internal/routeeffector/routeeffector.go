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

// Package routeeffector reconciles the kernel route and neighbor-discovery
// proxy configuration for a routed IPv6 prefix.
package routeeffector

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// DefaultConfPath is where the neighbor-discovery proxy daemon reads its
// configuration from on a stock install.
const DefaultConfPath = "/etc/ndppd.conf"

// DefaultRestartGrace is how long Run waits after a restart for the proxy
// daemon to come back up before returning.
const DefaultRestartGrace = 5 * time.Second

var (
	proxyPattern = func(iface string) *regexp.Regexp {
		return regexp.MustCompile(`proxy\s+` + regexp.QuoteMeta(iface))
	}
	rulePattern = func(prefix string) *regexp.Regexp {
		return regexp.MustCompile(`rule\s+` + regexp.QuoteMeta(prefix) + `::/64`)
	}
)

// Effector is the privileged-operation seam RouteEffector invokes through.
// Tests substitute a stub; production code runs os/exec.
type Effector interface {
	Exec(ctx context.Context, name string, args ...string) error
}

// ExecEffector shells out to the named command, optionally via sudo fed a
// password from stdin when SUDOPASS is set.
type ExecEffector struct {
	// SudoPass, if non-empty, causes every invocation to run under
	// `sudo -S` with this value piped to its stdin. Left empty, commands
	// run unprefixed and rely on the process's ambient privileges.
	SudoPass string
}

// NewExecEffector reads SUDOPASS from the environment once at construction.
func NewExecEffector() *ExecEffector {
	return &ExecEffector{SudoPass: os.Getenv("SUDOPASS")}
}

// Exec implements Effector.
func (e *ExecEffector) Exec(ctx context.Context, name string, args ...string) error {
	var cmd *exec.Cmd
	if e.SudoPass != "" {
		sudoArgs := append([]string{"-S", name}, args...)
		cmd = exec.CommandContext(ctx, "sudo", sudoArgs...)
		cmd.Stdin = strings.NewReader(e.SudoPass + "\n")
	} else {
		cmd = exec.CommandContext(ctx, name, args...)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w (output: %s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RouteEffector makes the kernel route and the neighbor-discovery proxy
// config agree with a given interface/prefix pair.
type RouteEffector struct {
	Iface        string
	Prefix       string
	ConfPath     string
	RestartGrace time.Duration

	exec Effector
	log  logr.Logger
}

// New builds a RouteEffector for the given interface and prefix. confPath
// defaults to DefaultConfPath when empty.
func New(iface, prefix, confPath string, effector Effector, log logr.Logger) *RouteEffector {
	if confPath == "" {
		confPath = DefaultConfPath
	}
	return &RouteEffector{
		Iface:        iface,
		Prefix:       prefix,
		ConfPath:     confPath,
		RestartGrace: DefaultRestartGrace,
		exec:         effector,
		log:          log.WithName("routeeffector"),
	}
}

// AddRoute installs the local route for the prefix using replace semantics,
// so repeated calls never fail because the route already exists.
func (r *RouteEffector) AddRoute(ctx context.Context) error {
	r.log.Info("adding route", "prefix", r.Prefix, "iface", r.Iface)
	return r.exec.Exec(ctx, "ip", "route", "replace", "local", r.Prefix+"::/64", "dev", r.Iface)
}

// IsConfigCurrent reports whether the configured file already declares both
// the expected proxy interface and the expected prefix rule.
func (r *RouteEffector) IsConfigCurrent() (bool, error) {
	f, err := os.Open(r.ConfPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", r.ConfPath, err)
	}
	defer f.Close()

	hasProxy, hasRule := false, false
	proxyRe := proxyPattern(r.Iface)
	ruleRe := rulePattern(r.Prefix)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !hasProxy && proxyRe.MatchString(line) {
			hasProxy = true
		}
		if !hasRule && ruleRe.MatchString(line) {
			hasRule = true
		}
		if hasProxy && hasRule {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("reading %s: %w", r.ConfPath, err)
	}

	return hasProxy && hasRule, nil
}

// RewriteConfig atomically replaces the configuration file with the
// canonical template for the current interface/prefix, via a temp file in
// the target directory followed by a privileged rename (mv) over it.
func (r *RouteEffector) RewriteConfig(ctx context.Context) error {
	content := fmt.Sprintf(
		"route-ttl 30000\nproxy %s {\n    router no\n    timeout 500\n    ttl 30000\n    rule %s::/64 {\n        static\n    }\n}\n",
		r.Iface, r.Prefix,
	)

	dir := filepath.Dir(r.ConfPath)
	tmp, err := os.CreateTemp(dir, "ndppd-*.conf")
	if err != nil {
		return fmt.Errorf("creating temp config in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config: %w", err)
	}

	r.log.Info("rewriting ndppd config", "path", r.ConfPath)
	if err := r.exec.Exec(ctx, "mv", tmpPath, r.ConfPath); err != nil {
		return fmt.Errorf("installing new config: %w", err)
	}
	return nil
}

// RestartProxyDaemon restarts the neighbor-discovery proxy daemon.
func (r *RouteEffector) RestartProxyDaemon(ctx context.Context) error {
	r.log.Info("restarting ndppd")
	return r.exec.Exec(ctx, "systemctl", "restart", "ndppd")
}

// Run installs the route, then reconciles the proxy config: if it is
// already current and forceRestart is false, nothing further happens.
// Otherwise the config is rewritten, the daemon restarted, and a grace
// period observed for it to stabilize.
func (r *RouteEffector) Run(ctx context.Context, forceRestart bool) error {
	if err := r.AddRoute(ctx); err != nil {
		return fmt.Errorf("adding route: %w", err)
	}

	current, err := r.IsConfigCurrent()
	if err != nil {
		return fmt.Errorf("checking config: %w", err)
	}

	if current && !forceRestart {
		r.log.Info("ndppd config up to date, skipping restart")
		return nil
	}

	if !current {
		r.log.Info("ndppd config stale, rewriting")
	}
	if err := r.RewriteConfig(ctx); err != nil {
		return fmt.Errorf("rewriting config: %w", err)
	}

	if err := r.RestartProxyDaemon(ctx); err != nil {
		return fmt.Errorf("restarting proxy daemon: %w", err)
	}

	grace := r.RestartGrace
	if grace <= 0 {
		grace = DefaultRestartGrace
	}
	select {
	case <-time.After(grace):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
