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

// Package server orchestrates the prefix probe, route effector, checker and
// the two-tier address store behind the lease API.
package server

import (
	"context"
	"fmt"
	"math/rand"
	"net/netip"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"

	"github.com/ipv6pool/server/internal/pool"
	"github.com/ipv6pool/server/internal/prefix"
)

// Checker is the interface PoolServer needs from a reachability checker.
type Checker interface {
	Check(ctx context.Context, addr string) bool
}

// RouteEffector is the interface PoolServer needs from a route reconciler.
type RouteEffector interface {
	Run(ctx context.Context, forceRestart bool) error
}

// RouteEffectorFactory builds a RouteEffector bound to a given
// interface/prefix pair, so the server can rebuild one whenever the prefix
// changes.
type RouteEffectorFactory func(iface, prefixStr string) RouteEffector

// Options configures a PoolServer's tunables; see config.Config for the
// concrete source of these values.
type Options struct {
	DBRoot          string
	UsableNum       int
	SpawnMaxRetries int
	SpawnMaxAddrs   int

	// MirrorRanges pins the named mirrors to a reserved sub-range of
	// whatever prefix is currently active, keyed by dbname. Recomputed
	// against the new prefix on every prefix change.
	MirrorRanges map[string]prefix.AddressRangeConfig
}

// PoolServer owns the global pool, every tenant mirror, the current prefix,
// a route effector and (indirectly, through Prober/Receiver) the means to
// detect prefix changes.
type PoolServer struct {
	opts Options
	log  logr.Logger

	global   *pool.GlobalPool
	checker  Checker
	prober   prefix.Prober
	detector prefix.Receiver // optional fast path; may be nil

	routeEffectorFactory RouteEffectorFactory

	mirrorsMu sync.Mutex
	mirrors   map[string]*pool.Mirror

	prefixMu sync.Mutex
	current  prefix.Info

	routeEffectorMu sync.Mutex
	routeEffector   RouteEffector

	degradedMu sync.Mutex
	degraded   bool
}

// Degraded reports whether the maintenance loop has terminated after
// sustained consecutive spawn failures. This is the surfaced form of the
// should_stop signal SpawnMany produces, observable via /stats.
func (s *PoolServer) Degraded() bool {
	s.degradedMu.Lock()
	defer s.degradedMu.Unlock()
	return s.degraded
}

func (s *PoolServer) setDegraded(v bool) {
	s.degradedMu.Lock()
	s.degraded = v
	s.degradedMu.Unlock()
}

// New builds a PoolServer. The caller is responsible for calling Load
// before starting the background loops if prior state should be restored.
func New(
	opts Options,
	checker Checker,
	prober prefix.Prober,
	detector prefix.Receiver,
	routeEffectorFactory RouteEffectorFactory,
	log logr.Logger,
) *PoolServer {
	return &PoolServer{
		opts:                 opts,
		log:                  log.WithName("poolserver"),
		global:               pool.NewGlobalPool(globalPoolPath(opts.DBRoot), log),
		checker:              checker,
		prober:               prober,
		detector:             detector,
		routeEffectorFactory: routeEffectorFactory,
		mirrors:              make(map[string]*pool.Mirror),
	}
}

func globalPoolPath(root string) string {
	return filepath.Join(root, "ipv6_global_addrs.json")
}

// Mirror resolves (lazily creating) the named mirror.
func (s *PoolServer) Mirror(name string) *pool.Mirror {
	s.mirrorsMu.Lock()
	defer s.mirrorsMu.Unlock()
	return s.mirrorLocked(name)
}

func (s *PoolServer) mirrorLocked(name string) *pool.Mirror {
	if m, ok := s.mirrors[name]; ok {
		return m
	}
	m := pool.NewMirror(name, pool.MirrorPath(s.opts.DBRoot, name), s.log)
	m.Load()
	s.applyMirrorRange(name, m)
	m.SyncFromGlobal(s.global.List())
	s.mirrors[name] = m
	return m
}

// applyMirrorRange pins m to its configured reservation, if any, against
// the current prefix. Called whenever a mirror is created and again
// whenever the prefix changes, since a reservation's offsets are relative
// to whatever prefix is active.
func (s *PoolServer) applyMirrorRange(name string, m *pool.Mirror) {
	cfg, ok := s.opts.MirrorRanges[name]
	if !ok {
		return
	}

	r, err := addrRangeFromConfig(s.CurrentPrefix(), cfg)
	if err != nil {
		s.log.Info("mirror range reservation invalid, leaving mirror unrestricted", "dbname", name, "error", err)
		return
	}
	m.WithRange(r)
}

// addrRangeFromConfig resolves cfg's offset suffixes against info's prefix
// into a concrete pool.AddrRange.
func addrRangeFromConfig(info prefix.Info, cfg prefix.AddressRangeConfig) (*pool.AddrRange, error) {
	base, err := netip.ParsePrefix(fmt.Sprintf("%s::/%d", info.Prefix, info.Bits))
	if err != nil {
		return nil, fmt.Errorf("parsing current prefix %q: %w", info.Prefix, err)
	}

	ar, err := prefix.CalculateAddressRange(base, cfg)
	if err != nil {
		return nil, err
	}
	return &pool.AddrRange{Start: ar.Start, End: ar.End}, nil
}

// CurrentPrefix returns the prefix the server currently believes is routed.
func (s *PoolServer) CurrentPrefix() prefix.Info {
	s.prefixMu.Lock()
	defer s.prefixMu.Unlock()
	return s.current
}

func (s *PoolServer) setCurrentPrefix(info prefix.Info) {
	s.prefixMu.Lock()
	s.current = info
	s.prefixMu.Unlock()

	s.global.SetPrefix(info.Prefix)

	s.routeEffectorMu.Lock()
	s.routeEffector = s.routeEffectorFactory(info.Interface, info.Prefix)
	s.routeEffectorMu.Unlock()
}

// RandomAddr generates a candidate address inside the current prefix:
// <prefix>:<g1>:<g2>:<g3>:<g4>, each gk four random lowercase hex digits
// with leading zeros stripped (but never empty — an all-zero group renders
// as "0").
func (s *PoolServer) RandomAddr() string {
	p := s.CurrentPrefix().Prefix
	groups := make([]string, 4)
	for i := range groups {
		groups[i] = randomHexGroup()
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s", p, groups[0], groups[1], groups[2], groups[3])
}

func randomHexGroup() string {
	v := rand.Intn(0x10000)
	if v == 0 {
		return "0"
	}
	return fmt.Sprintf("%x", v)
}

// Save persists the global pool and every currently known mirror.
func (s *PoolServer) Save() error {
	if err := s.global.Save(); err != nil {
		return fmt.Errorf("saving global pool: %w", err)
	}

	s.mirrorsMu.Lock()
	mirrors := make([]*pool.Mirror, 0, len(s.mirrors))
	for _, m := range s.mirrors {
		mirrors = append(mirrors, m)
	}
	s.mirrorsMu.Unlock()

	for _, m := range mirrors {
		if err := m.Save(); err != nil {
			return fmt.Errorf("saving mirror %s: %w", m.Name(), err)
		}
	}
	return nil
}

// Load restores the global pool. Each mirror file already present under
// DBRoot's mirror subdirectory is loaded lazily on first reference instead,
// since mirror names are not enumerable ahead of a request without
// scanning the filesystem.
func (s *PoolServer) Load() {
	s.global.Load()
}

// Flush clears and persists the global pool and every mirror when name is
// empty; otherwise it flushes only the named mirror and re-syncs it from
// the (unmodified) global pool.
func (s *PoolServer) Flush(name string) error {
	if name == "" {
		if err := s.global.Flush(); err != nil {
			return fmt.Errorf("flushing global pool: %w", err)
		}
		s.mirrorsMu.Lock()
		mirrors := make([]*pool.Mirror, 0, len(s.mirrors))
		for _, m := range s.mirrors {
			mirrors = append(mirrors, m)
		}
		s.mirrorsMu.Unlock()
		for _, m := range mirrors {
			if err := m.Flush(); err != nil {
				return fmt.Errorf("flushing mirror %s: %w", m.Name(), err)
			}
		}
		return nil
	}

	m := s.Mirror(name)
	if err := m.Flush(); err != nil {
		return fmt.Errorf("flushing mirror %s: %w", name, err)
	}
	m.SyncFromGlobal(s.global.List())
	return nil
}

// Bootstrap performs the initial prefix probe and route reconciliation.
// Failing to find a global IPv6 interface at startup is fatal per the
// configuration error-handling policy: the server refuses to start.
func (s *PoolServer) Bootstrap(ctx context.Context) error {
	info, err := s.prober.Probe(ctx)
	if err != nil {
		return fmt.Errorf("no global IPv6 interface at startup: %w", err)
	}

	s.setCurrentPrefix(info)

	s.routeEffectorMu.Lock()
	effector := s.routeEffector
	s.routeEffectorMu.Unlock()

	if err := effector.Run(ctx, false); err != nil {
		s.log.Info("initial route reconciliation failed", "error", err)
	}
	return nil
}

// GlobalStats reports the size of the durable global pool.
func (s *PoolServer) GlobalStats() int {
	return s.global.Len()
}

// MirrorStats reports lease-state counts for the named mirror.
func (s *PoolServer) MirrorStats(name string) pool.Stats {
	return s.Mirror(name).Stats()
}
