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

package checker

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func withLocalDial(c *Checker, target string) {
	c.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", target)
	}
}

func TestCheck_Success(t *testing.T) {
	addr := "2001:db8:1:2:aaaa:bbbb:cccc:dddd"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(addr + "\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, logr.Discard())
	withLocalDial(c, srv.Listener.Addr().String())

	if !c.Check(context.Background(), addr) {
		t.Fatal("expected Check to succeed on matching body")
	}
}

func TestCheck_BodyMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not-the-address"))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, logr.Discard())
	withLocalDial(c, srv.Listener.Addr().String())

	if c.Check(context.Background(), "2001:db8:1:2:aaaa:bbbb:cccc:dddd") {
		t.Fatal("expected Check to fail on body mismatch")
	}
}

func TestCheck_NonSuccessStatus(t *testing.T) {
	addr := "2001:db8:1:2:aaaa:bbbb:cccc:dddd"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(addr))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, logr.Discard())
	withLocalDial(c, srv.Listener.Addr().String())

	if c.Check(context.Background(), addr) {
		t.Fatal("expected Check to fail on 5xx status")
	}
}

func TestCheck_Timeout(t *testing.T) {
	addr := "2001:db8:1:2:aaaa:bbbb:cccc:dddd"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(addr))
	}))
	defer srv.Close()

	c := New(srv.URL, 10*time.Millisecond, logr.Discard())
	withLocalDial(c, srv.Listener.Addr().String())

	if c.Check(context.Background(), addr) {
		t.Fatal("expected Check to fail when the request times out")
	}
}

func TestCheck_UnparseableAddress(t *testing.T) {
	c := New("http://example.invalid", time.Second, logr.Discard())
	if c.Check(context.Background(), "not-an-address") {
		t.Fatal("expected Check to fail for an unparseable address")
	}
}

func TestCheck_DialFailure(t *testing.T) {
	c := New("http://127.0.0.1:1", time.Second, logr.Discard())
	if c.Check(context.Background(), "2001:db8::1") {
		t.Fatal("expected Check to fail when dialing fails")
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New("", 0, logr.Discard())
	if c.URL != DefaultCheckURL {
		t.Errorf("URL = %q, want default", c.URL)
	}
	if c.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want default", c.Timeout)
	}
}
