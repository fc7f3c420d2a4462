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

package pool

import (
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// MirrorRecord is one (mirror, address) lease record.
type MirrorRecord struct {
	Addr       string     `json:"addr"`
	Status     Status     `json:"status"`
	LastUsedAt *time.Time `json:"last_used_at"`
	UseCount   int64      `json:"use_count"`
}

type mirrorDoc struct {
	DBName string                  `json:"dbname"`
	Addrs  map[string]MirrorRecord `json:"addrs"`
}

// Stats summarizes a Mirror's lease-state counts.
type Stats struct {
	Total    int `json:"total"`
	Idle     int `json:"idle"`
	Using    int `json:"using"`
	Unusable int `json:"unusable"`
}

// Mirror is a tenant's private lease-state view over the shared global
// address pool, optionally restricted to a reserved sub-range of it.
type Mirror struct {
	mu    sync.RWMutex
	name  string
	addrs map[string]MirrorRecord
	path  string
	log   logr.Logger

	// rangeFilter, if set, restricts which addresses SyncFromGlobal will
	// admit to those inside this inclusive [Start, End] range.
	rangeFilter *AddrRange
}

// AddrRange is an inclusive range of addresses a Mirror may be pinned to.
type AddrRange struct {
	Start netip.Addr
	End   netip.Addr
}

// Contains reports whether addr falls within the range.
func (r AddrRange) Contains(addr netip.Addr) bool {
	return addr.Compare(r.Start) >= 0 && addr.Compare(r.End) <= 0
}

// NewMirror creates an empty Mirror named name, persisted at path.
func NewMirror(name, path string, log logr.Logger) *Mirror {
	return &Mirror{
		name:  name,
		addrs: make(map[string]MirrorRecord),
		path:  path,
		log:   log.WithName("mirror").WithValues("dbname", name),
	}
}

// WithRange pins the mirror to an address range, restricting which global
// addresses SyncFromGlobal admits. Passing nil removes any restriction.
func (m *Mirror) WithRange(r *AddrRange) *Mirror {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rangeFilter = r
	return m
}

// Name returns the mirror's tenant name.
func (m *Mirror) Name() string { return m.name }

// SyncFromGlobal is the sole mechanism that enforces the "mirror addresses
// are a subset of the global pool" invariant: it admits any global address
// not yet present (as fresh Idle, subject to any configured range filter)
// and removes any mirror address no longer present in globals, preserving
// the state of every surviving address.
func (m *Mirror) SyncFromGlobal(globals []string) {
	present := make(map[string]struct{}, len(globals))
	for _, a := range globals {
		present[a] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for addr := range m.addrs {
		if _, ok := present[addr]; !ok {
			delete(m.addrs, addr)
		}
	}

	for addr := range present {
		if _, ok := m.addrs[addr]; ok {
			continue
		}
		if m.rangeFilter != nil {
			parsed, err := netip.ParseAddr(addr)
			if err != nil || !m.rangeFilter.Contains(parsed) {
				continue
			}
		}
		m.addrs[addr] = MirrorRecord{Addr: addr, Status: Idle}
	}
}

// IdleCount returns the number of addresses currently Idle.
func (m *Mirror) IdleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.addrs {
		if r.Status == Idle {
			n++
		}
	}
	return n
}

// AcquireIdle selects an arbitrary Idle address, atomically transitions it
// to Using, stamps LastUsedAt, and increments UseCount. Returns ("", false)
// if no Idle address exists. The selection order is intentionally
// unspecified.
func (m *Mirror) AcquireIdle() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for addr, rec := range m.addrs {
		if rec.Status != Idle {
			continue
		}
		now := time.Now()
		rec.Status = Using
		rec.LastUsedAt = &now
		rec.UseCount++
		m.addrs[addr] = rec
		return addr, true
	}
	return "", false
}

// Release sets addr's status to status if addr is known. An unknown
// address is silently ignored — it may be racing a prefix change that has
// just removed it from the mirror.
func (m *Mirror) Release(addr string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.addrs[addr]
	if !ok {
		return
	}
	rec.Status = status
	m.addrs[addr] = rec
}

// Stats reports total/idle/using/unusable counts.
func (m *Mirror) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Stats
	s.Total = len(m.addrs)
	for _, r := range m.addrs {
		switch r.Status {
		case Idle:
			s.Idle++
		case Using:
			s.Using++
		case Unusable:
			s.Unusable++
		}
	}
	return s
}

// Save persists the mirror via temp-file-plus-rename.
func (m *Mirror) Save() error {
	m.mu.RLock()
	doc := mirrorDoc{DBName: m.name, Addrs: cloneMirrorAddrs(m.addrs)}
	m.mu.RUnlock()

	return writeJSONAtomic(m.path, doc)
}

// Load reads the mirror's JSON file if present. A missing or malformed file
// is treated as empty, matching GlobalPool.Load's policy.
func (m *Mirror) Load() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Info("failed to read mirror file, starting empty", "path", m.path, "error", err)
		}
		return
	}

	var doc mirrorDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		m.log.Info("mirror file is malformed, starting empty", "path", m.path, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.Addrs == nil {
		doc.Addrs = make(map[string]MirrorRecord)
	}
	m.addrs = doc.Addrs
}

// Flush clears in-memory state and persists the now-empty mirror.
func (m *Mirror) Flush() error {
	m.mu.Lock()
	m.addrs = make(map[string]MirrorRecord)
	m.mu.Unlock()
	return m.Save()
}

// MirrorPath builds the on-disk path for a tenant's mirror file under root.
func MirrorPath(root, name string) string {
	return filepath.Join(root, "ipv6_mirrors", name+".json")
}

func cloneMirrorAddrs(m map[string]MirrorRecord) map[string]MirrorRecord {
	out := make(map[string]MirrorRecord, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
