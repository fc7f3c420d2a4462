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

// Package checker verifies that a candidate IPv6 address is externally
// reachable by sourcing an HTTP GET from it.
package checker

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// DefaultCheckURL echoes the caller's source IP in the response body.
const DefaultCheckURL = "https://api6.ipify.org"

// DefaultTimeout bounds a single check end to end.
const DefaultTimeout = 10 * time.Second

// dialFunc matches net.Dialer.DialContext; Checker's tests substitute one
// that ignores the forced network/local-address binding and connects to an
// in-process httptest server instead.
type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Checker verifies address reachability against a configured echo URL.
type Checker struct {
	URL     string
	Timeout time.Duration
	log     logr.Logger

	dial dialFunc // nil in production; real dial used
}

// New builds a Checker. An empty url or non-positive timeout falls back to
// the package defaults.
func New(url string, timeout time.Duration, log logr.Logger) *Checker {
	if url == "" {
		url = DefaultCheckURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{URL: url, Timeout: timeout, log: log.WithName("checker")}
}

// Check reports whether addr is reachable: it opens an HTTP(S) connection
// sourced from addr, forcing IPv6 resolution so a dual-stack host cannot
// silently fall back to IPv4, and compares the (whitespace-trimmed)
// response body against addr. Any failure at any layer — DNS, dial, TLS,
// non-2xx status, body mismatch — yields false; Check never returns an
// error and never panics.
func (c *Checker) Check(ctx context.Context, addr string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	ip := net.ParseIP(addr)
	if ip == nil {
		c.log.V(1).Info("check given unparseable address", "addr", addr)
		return false
	}

	client := c.clientBoundTo(ip)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		c.log.V(1).Info("check: building request failed", "addr", addr, "error", err)
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		c.log.V(1).Info("check: request failed", "addr", addr, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.V(1).Info("check: non-2xx response", "addr", addr, "status", resp.StatusCode)
		return false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.V(1).Info("check: reading body failed", "addr", addr, "error", err)
		return false
	}

	got := strings.TrimSpace(string(body))
	return got == addr
}

// clientBoundTo builds an *http.Client whose transport is scoped to this
// single check: it forces a tcp6 dial and binds the local address to ip, so
// the family bias never leaks outside this call the way a process-wide flag
// would.
func (c *Checker) clientBoundTo(ip net.IP) *http.Client {
	dial := c.dial
	if dial == nil {
		dialer := &net.Dialer{
			Timeout:   c.Timeout,
			LocalAddr: &net.TCPAddr{IP: ip},
		}
		dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp6", addr)
		}
	}

	return &http.Client{
		Transport: &http.Transport{DialContext: dial},
		Timeout:   c.Timeout,
	}
}
