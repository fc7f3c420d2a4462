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
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
)

func TestGlobalPool_AddContains(t *testing.T) {
	g := NewGlobalPool(filepath.Join(t.TempDir(), "global.json"), logr.Discard())

	if !g.Add("2001:db8:1:2::1") {
		t.Fatal("expected first Add to return true")
	}
	if g.Add("2001:db8:1:2::1") {
		t.Fatal("expected duplicate Add to return false")
	}
	if !g.Contains("2001:db8:1:2::1") {
		t.Fatal("expected Contains to find added address")
	}
	if g.Contains("2001:db8:1:2::2") {
		t.Fatal("expected Contains to miss unadded address")
	}
	if g.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", g.Len())
	}
}

func TestGlobalPool_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.json")
	g := NewGlobalPool(path, logr.Discard())
	g.SetPrefix("2001:db8:1:2")
	g.Add("2001:db8:1:2::1")
	g.Add("2001:db8:1:2::2")

	if err := g.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	g2 := NewGlobalPool(path, logr.Discard())
	g2.Load()

	if g2.Prefix() != "2001:db8:1:2" {
		t.Errorf("Prefix() = %q, want 2001:db8:1:2", g2.Prefix())
	}
	if g2.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", g2.Len())
	}
	if !g2.Contains("2001:db8:1:2::1") || !g2.Contains("2001:db8:1:2::2") {
		t.Error("loaded pool missing expected addresses")
	}
}

func TestGlobalPool_LoadMissingFile(t *testing.T) {
	g := NewGlobalPool(filepath.Join(t.TempDir(), "nope.json"), logr.Discard())
	g.Load()
	if g.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 for missing file", g.Len())
	}
}

func TestGlobalPool_LoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "global.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	g := NewGlobalPool(path, logr.Discard())
	g.Load()
	if g.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 for malformed file", g.Len())
	}
}

func TestGlobalPool_Flush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.json")
	g := NewGlobalPool(path, logr.Discard())
	g.Add("2001:db8:1:2::1")

	if err := g.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if g.Len() != 0 {
		t.Fatalf("Len() after Flush = %d, want 0", g.Len())
	}

	g2 := NewGlobalPool(path, logr.Discard())
	g2.Load()
	if g2.Len() != 0 {
		t.Fatalf("persisted Len() after Flush = %d, want 0", g2.Len())
	}
}
