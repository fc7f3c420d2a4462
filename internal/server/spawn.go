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

package server

import (
	"context"

	"github.com/ipv6pool/server/internal/pool"
)

// SpawnOne generates a single candidate address and retries Checker.Check
// against that same candidate up to SpawnMaxRetries times. Retrying the
// same candidate (rather than resampling) assumes check failures are
// transient network faults, not address-specific ones. On any success the
// address is admitted to the global pool, every known mirror is re-synced,
// and the address is returned; if every retry fails, it returns ("", false).
func (s *PoolServer) SpawnOne(ctx context.Context) (string, bool) {
	candidate := s.RandomAddr()

	for attempt := 0; attempt < s.opts.SpawnMaxRetries; attempt++ {
		if ctx.Err() != nil {
			return "", false
		}
		if s.checker.Check(ctx, candidate) {
			s.global.Add(candidate)
			s.syncAllMirrors()
			return candidate, true
		}
	}
	return "", false
}

// SpawnMany attempts up to n successful spawns. A rolling
// consecutive-failures counter resets on every success and increments on
// every SpawnOne miss; once it reaches SpawnMaxAddrs the loop stops early
// and reports should_stop=true, signalling sustained loss of external
// connectivity rather than ordinary bad luck.
func (s *PoolServer) SpawnMany(ctx context.Context, n int) ([]string, bool) {
	admitted := make([]string, 0, n)
	consecutiveFailures := 0

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		addr, ok := s.SpawnOne(ctx)
		if ok {
			admitted = append(admitted, addr)
			consecutiveFailures = 0
			continue
		}

		consecutiveFailures++
		if consecutiveFailures >= s.opts.SpawnMaxAddrs {
			return admitted, true
		}
	}
	return admitted, false
}

func (s *PoolServer) syncAllMirrors() {
	globals := s.global.List()
	s.mirrorsMu.Lock()
	mirrors := make([]*pool.Mirror, 0, len(s.mirrors))
	for _, m := range s.mirrors {
		mirrors = append(mirrors, m)
	}
	s.mirrorsMu.Unlock()

	for _, m := range mirrors {
		m.SyncFromGlobal(globals)
	}
}

// Pick resolves (lazily creating) the named mirror and returns an address
// it has marked Using, or ("", false) if none is idle.
func (s *PoolServer) Pick(name string) (string, bool) {
	return s.Mirror(name).AcquireIdle()
}

// PickMany repeats Pick up to n times, stopping early at the first miss.
func (s *PoolServer) PickMany(name string, n int) []string {
	addrs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		addr, ok := s.Pick(name)
		if !ok {
			break
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

// ReportItem is a single (addr, status) pair from a lease report.
type ReportItem struct {
	Addr   string
	Status pool.Status
}

// Report releases addr in the named mirror back to the given status.
func (s *PoolServer) Report(name string, item ReportItem) {
	s.Mirror(name).Release(item.Addr, item.Status)
}

// ReportMany folds Report over every item.
func (s *PoolServer) ReportMany(name string, items []ReportItem) {
	m := s.Mirror(name)
	for _, item := range items {
		m.Release(item.Addr, item.Status)
	}
}
