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

// Package config centralizes every tunable of the pool server and wires
// them to command-line flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/ipv6pool/server/internal/prefix"
)

// Detector selects which prefix-change fast path, if any, runs alongside
// the mandatory polling Prober.
type Detector string

const (
	DetectorNone      Detector = "none"
	DetectorDHCPv6PD  Detector = "dhcpv6-pd"
	DetectorRA        Detector = "router-advertisement"
	DetectorComposite Detector = "composite"
)

// Config carries every tunable named by the pool server's design.
type Config struct {
	DBRoot       string
	UsableNum    int
	CheckURL     string
	CheckTimeout time.Duration

	RouteCheckInterval time.Duration
	MaintainInterval   time.Duration

	SpawnMaxRetries int
	SpawnMaxAddrs   int

	NdppdConfPath string
	RestartGrace  time.Duration

	ListenAddr string

	ExcludedInterfaces []string

	Detector           Detector
	DetectorInterface  string
	RequestedPrefixLen int

	// MirrorRanges pins a tenant mirror to a reserved sub-range of the
	// current prefix. Each entry has the form "dbname=start,end", where
	// start/end are offset suffixes (e.g. "::f000:0:0:0") relative to the
	// current prefix, in the same form prefix.AddressRangeConfig expects.
	MirrorRanges []string

	SudoPass string
}

// Default returns a Config populated with the defaults implied by the
// original design: USABLE_NUM etc.
func Default() Config {
	return Config{
		DBRoot:             "/var/lib/ipv6pool",
		UsableNum:          10,
		CheckURL:           "https://api6.ipify.org",
		CheckTimeout:       10 * time.Second,
		RouteCheckInterval: 60 * time.Second,
		MaintainInterval:   10 * time.Second,
		SpawnMaxRetries:    100,
		SpawnMaxAddrs:      100,
		NdppdConfPath:      "/etc/ndppd.conf",
		RestartGrace:       5 * time.Second,
		ListenAddr:         ":8080",
		ExcludedInterfaces: []string{"cloudflare"},
		Detector:           DetectorNone,
	}
}

// BindFlags registers every Config field except SudoPass (which comes from
// the environment via LoadSudoPass) on fs, using c's current values as
// defaults (so callers typically start from Default()).
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.DBRoot, "db-root", c.DBRoot, "root directory for persisted pool and mirror state")
	fs.IntVar(&c.UsableNum, "usable-num", c.UsableNum, "target number of usable addresses the maintenance loop keeps warm")
	fs.StringVar(&c.CheckURL, "check-url", c.CheckURL, "echo URL used to verify external reachability")
	fs.DurationVar(&c.CheckTimeout, "check-timeout", c.CheckTimeout, "hard timeout for a single reachability check")
	fs.DurationVar(&c.RouteCheckInterval, "route-check-interval", c.RouteCheckInterval, "interval between prefix re-probes")
	fs.DurationVar(&c.MaintainInterval, "maintain-interval", c.MaintainInterval, "interval between maintenance passes")
	fs.IntVar(&c.SpawnMaxRetries, "spawn-max-retries", c.SpawnMaxRetries, "checker attempts against a single candidate before giving up")
	fs.IntVar(&c.SpawnMaxAddrs, "spawn-max-addrs", c.SpawnMaxAddrs, "consecutive spawn failures before a maintenance run signals degraded")
	fs.StringVar(&c.NdppdConfPath, "ndppd-conf", c.NdppdConfPath, "path to the neighbor-discovery proxy configuration file")
	fs.DurationVar(&c.RestartGrace, "restart-grace", c.RestartGrace, "grace period after restarting the proxy daemon")
	fs.StringVar(&c.ListenAddr, "listen-addr", c.ListenAddr, "address the HTTP lease API listens on")
	fs.StringSliceVar(&c.ExcludedInterfaces, "exclude-interface-prefix", c.ExcludedInterfaces, "interface name prefixes PrefixProbe should skip")
	fs.StringVar((*string)(&c.Detector), "detector", string(c.Detector), "optional fast-path prefix-change detector: none, dhcpv6-pd, router-advertisement, composite")
	fs.StringVar(&c.DetectorInterface, "detector-interface", c.DetectorInterface, "interface the configured detector listens/requests on")
	fs.IntVar(&c.RequestedPrefixLen, "requested-prefix-length", c.RequestedPrefixLen, "prefix length requested over DHCPv6-PD (0 = detector default)")
	fs.StringArrayVar(&c.MirrorRanges, "mirror-range", c.MirrorRanges, "reserve an address range for a mirror: dbname=start,end (offset suffixes relative to the current prefix, e.g. tenant-a=::f000:0:0:0,::ffff:ffff:ffff:ffff)")
}

// ParseMirrorRanges parses the --mirror-range flag's "dbname=start,end"
// entries into the form server.Options.MirrorRanges expects.
func (c *Config) ParseMirrorRanges() (map[string]prefix.AddressRangeConfig, error) {
	out := make(map[string]prefix.AddressRangeConfig, len(c.MirrorRanges))
	for _, entry := range c.MirrorRanges {
		dbname, bounds, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --mirror-range %q: want dbname=start,end", entry)
		}
		start, end, ok := strings.Cut(bounds, ",")
		if !ok {
			return nil, fmt.Errorf("invalid --mirror-range %q: want dbname=start,end", entry)
		}
		out[dbname] = prefix.AddressRangeConfig{Name: dbname, Start: start, End: end}
	}
	return out, nil
}

// LoadSudoPass reads SUDOPASS from the environment, per the documented
// environment-variable surface.
func (c *Config) LoadSudoPass() {
	c.SudoPass = os.Getenv("SUDOPASS")
}
