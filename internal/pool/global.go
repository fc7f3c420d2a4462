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
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// GlobalRecord is one admitted address in a GlobalPool.
type GlobalRecord struct {
	Addr      string    `json:"addr"`
	CreatedAt time.Time `json:"created_at"`
}

type globalDoc struct {
	Prefix string                  `json:"prefix"`
	Addrs  map[string]GlobalRecord `json:"addrs"`
}

// GlobalPool is the durable set of externally-verified addresses for the
// currently routed prefix. All mutation and read access goes through a
// single mutex; Save and Load hold it only to copy state out or in, and do
// their file I/O outside it.
type GlobalPool struct {
	mu     sync.Mutex
	prefix string
	addrs  map[string]GlobalRecord
	path   string
	log    logr.Logger
}

// NewGlobalPool creates an empty GlobalPool persisted at path.
func NewGlobalPool(path string, log logr.Logger) *GlobalPool {
	return &GlobalPool{
		addrs: make(map[string]GlobalRecord),
		path:  path,
		log:   log.WithName("globalpool"),
	}
}

// Add inserts addr with CreatedAt=now if absent, reporting whether it was
// newly admitted.
func (g *GlobalPool) Add(addr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.addrs[addr]; ok {
		return false
	}
	g.addrs[addr] = GlobalRecord{Addr: addr, CreatedAt: time.Now()}
	return true
}

// Contains reports whether addr is currently admitted.
func (g *GlobalPool) Contains(addr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.addrs[addr]
	return ok
}

// List returns every admitted address. The order is unspecified.
func (g *GlobalPool) List() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.addrs))
	for a := range g.addrs {
		out = append(out, a)
	}
	return out
}

// Len returns the number of admitted addresses.
func (g *GlobalPool) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.addrs)
}

// SetPrefix records the prefix every address in the pool is expected to
// start with. It does not itself clear the pool; callers clear it
// separately on a prefix change.
func (g *GlobalPool) SetPrefix(p string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prefix = p
}

// Prefix returns the currently recorded prefix.
func (g *GlobalPool) Prefix() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prefix
}

// Save serializes the pool to its configured JSON path, creating parent
// directories as needed, via a temp-file-plus-rename so a crash mid-write
// never corrupts the existing file.
func (g *GlobalPool) Save() error {
	g.mu.Lock()
	doc := globalDoc{Prefix: g.prefix, Addrs: cloneGlobalAddrs(g.addrs)}
	g.mu.Unlock()

	return writeJSONAtomic(g.path, doc)
}

// Load reads the configured JSON path if it exists. A missing or malformed
// file is logged and treated as an empty pool rather than an error.
func (g *GlobalPool) Load() {
	data, err := os.ReadFile(g.path)
	if err != nil {
		if !os.IsNotExist(err) {
			g.log.Info("failed to read global pool file, starting empty", "path", g.path, "error", err)
		}
		return
	}

	var doc globalDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		g.log.Info("global pool file is malformed, starting empty", "path", g.path, "error", err)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.prefix = doc.Prefix
	if doc.Addrs == nil {
		doc.Addrs = make(map[string]GlobalRecord)
	}
	g.addrs = doc.Addrs
}

// Flush clears in-memory state and persists the now-empty pool.
func (g *GlobalPool) Flush() error {
	g.mu.Lock()
	g.addrs = make(map[string]GlobalRecord)
	g.mu.Unlock()
	return g.Save()
}

func cloneGlobalAddrs(m map[string]GlobalRecord) map[string]GlobalRecord {
	out := make(map[string]GlobalRecord, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
