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

package prefix

import (
	"context"
	"net"
	"testing"
)

func fakeInterfaces(ifaces ...net.Interface) func() ([]net.Interface, error) {
	return func() ([]net.Interface, error) { return ifaces, nil }
}

// net.Interface.Addrs() cannot be stubbed directly, so Probe's
// interface-selection branch is not driven here; tests instead call the
// unexported helpers prefixFromAddrAndMask and isExcluded, and exercise
// Probe only with an empty interface list and a failing list call.
func TestPrefixFromAddrAndMask(t *testing.T) {
	tests := []struct {
		name       string
		addr       string
		maskBits   int
		wantPrefix string
		wantBits   int
	}{
		{name: "slash 64", addr: "2001:db8:1234:5678::1", maskBits: 64, wantPrefix: "2001:db8:1234:5678", wantBits: 64},
		{name: "slash 56", addr: "2001:db8:12:3400::1", maskBits: 56, wantPrefix: "2001:db8:12", wantBits: 56},
		{name: "slash 48", addr: "2001:db8:1234::1", maskBits: 48, wantPrefix: "2001:db8:1234", wantBits: 48},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip := net.ParseIP(tt.addr)
			mask := net.CIDRMask(tt.maskBits, 128)

			prefix, bits := prefixFromAddrAndMask(ip, mask)
			if prefix != tt.wantPrefix {
				t.Errorf("prefix = %q, want %q", prefix, tt.wantPrefix)
			}
			if bits != tt.wantBits {
				t.Errorf("bits = %d, want %d", bits, tt.wantBits)
			}
		})
	}
}

func TestInterfaceProber_IsExcluded(t *testing.T) {
	p := NewInterfaceProber("cloudflare", "tun")

	tests := []struct {
		name string
		want bool
	}{
		{name: "cloudflare-warp", want: true},
		{name: "CloudFlare0", want: true},
		{name: "tun0", want: true},
		{name: "eth0", want: false},
		{name: "wlan0", want: false},
	}

	for _, tt := range tests {
		if got := p.isExcluded(tt.name); got != tt.want {
			t.Errorf("isExcluded(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestInterfaceProber_Probe_NoInterfaces(t *testing.T) {
	p := NewInterfaceProber()
	p.interfaces = fakeInterfaces()

	_, err := p.Probe(context.Background())
	if err != ErrNoGlobalIPv6 {
		t.Fatalf("err = %v, want ErrNoGlobalIPv6", err)
	}
}

func TestInterfaceProber_Probe_ListError(t *testing.T) {
	p := NewInterfaceProber()
	p.interfaces = func() ([]net.Interface, error) {
		return nil, net.UnknownNetworkError("boom")
	}

	if _, err := p.Probe(context.Background()); err == nil {
		t.Fatal("expected error from failing interface listing")
	}
}

func TestNewInterfaceProber_DefaultExclusion(t *testing.T) {
	p := NewInterfaceProber()
	if len(p.Excluded) != 1 || p.Excluded[0] != "cloudflare" {
		t.Fatalf("Excluded = %v, want [cloudflare]", p.Excluded)
	}
}
