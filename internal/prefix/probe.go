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
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNoGlobalIPv6 is returned when no qualifying interface carries a
// global-unicast IPv6 address.
var ErrNoGlobalIPv6 = errors.New("no interface with a global IPv6 address found")

// InterfaceProber enumerates local network interfaces and derives the
// current routed /64 the way the host's kernel sees it. It skips any
// interface whose name matches an excluded prefix (default: "cloudflare",
// to skip tunnel interfaces) and picks the first remaining interface
// carrying a global-unicast address (first hex digit "2").
type InterfaceProber struct {
	// Excluded holds lowercase name prefixes to skip, e.g. "cloudflare".
	Excluded []string

	// interfaces is overridable for tests; defaults to net.Interfaces.
	interfaces func() ([]net.Interface, error)
}

// NewInterfaceProber creates an InterfaceProber with the given exclusion set.
func NewInterfaceProber(excluded ...string) *InterfaceProber {
	if len(excluded) == 0 {
		excluded = []string{"cloudflare"}
	}
	return &InterfaceProber{Excluded: excluded, interfaces: net.Interfaces}
}

// Probe implements Prober.
func (p *InterfaceProber) Probe(ctx context.Context) (Info, error) {
	listIfaces := p.interfaces
	if listIfaces == nil {
		listIfaces = net.Interfaces
	}

	ifaces, err := listIfaces()
	if err != nil {
		return Info{}, fmt.Errorf("listing network interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if p.isExcluded(iface.Name) {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip6 := ipnet.IP.To16()
			if ip6 == nil || ipnet.IP.To4() != nil {
				continue
			}
			if !strings.HasPrefix(ip6.String(), "2") {
				continue
			}

			prefixStr, bits := prefixFromAddrAndMask(ip6, ipnet.Mask)
			return Info{Interface: iface.Name, Prefix: prefixStr, Bits: bits}, nil
		}
	}

	return Info{}, ErrNoGlobalIPv6
}

func (p *InterfaceProber) isExcluded(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range p.Excluded {
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// prefixFromAddrAndMask derives a colon-separated prefix (no trailing
// "::/N") from a full IPv6 address and its netmask: count the number of
// set ("f") nibbles in the mask, round down to whole 16-bit groups, and
// join that many groups from the address.
func prefixFromAddrAndMask(ip net.IP, mask net.IPMask) (string, int) {
	prefixBits := 0
	for _, b := range mask {
		if b>>4 == 0xf {
			prefixBits += 4
		}
		if b&0xf == 0xf {
			prefixBits += 4
		}
	}

	numGroups := prefixBits / 16
	groups := splitGroups(ip)
	if numGroups > len(groups) {
		numGroups = len(groups)
	}

	return strings.Join(groups[:numGroups], ":"), prefixBits
}

func popcount(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

// splitGroups renders a 16-byte IPv6 address as its eight colon-separated
// 16-bit hex groups, leading zeros stripped per group (matching how the
// original address strings were split on ":").
func splitGroups(ip net.IP) []string {
	ip16 := ip.To16()
	groups := make([]string, 8)
	for i := 0; i < 8; i++ {
		v := uint16(ip16[i*2])<<8 | uint16(ip16[i*2+1])
		groups[i] = fmt.Sprintf("%x", v)
	}
	return groups
}
