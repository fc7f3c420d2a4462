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

// Package httpapi is the thin JSON request/response envelope over the pool
// server. No error that can be represented as success:false is ever
// surfaced as a 5xx; 5xx is reserved for bugs.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ipv6pool/server/internal/metrics"
	"github.com/ipv6pool/server/internal/pool"
	"github.com/ipv6pool/server/internal/server"
)

const (
	minNum = 1
	maxNum = 100

	defaultDBName = "default"
)

// Server is the interface httpapi needs from the pool orchestrator.
type Server interface {
	SpawnOne(ctx context.Context) (string, bool)
	SpawnMany(ctx context.Context, n int) ([]string, bool)
	Pick(name string) (string, bool)
	PickMany(name string, n int) []string
	Report(name string, item server.ReportItem)
	ReportMany(name string, items []server.ReportItem)
	Save() error
	Flush(name string) error
	GlobalStats() int
	MirrorStats(name string) pool.Stats
	Degraded() bool
}

// Checker is the interface httpapi needs for the /check and /checks
// endpoints, which probe reachability directly rather than through the
// pool.
type Checker interface {
	Check(ctx context.Context, addr string) bool
}

// API wires a Server and Checker to gorilla/mux routes matching the lease
// protocol's external interface.
type API struct {
	server  Server
	checker Checker
	log     logr.Logger
}

// New builds an API. Call Router to obtain the http.Handler to serve.
func New(server Server, checker Checker, log logr.Logger) *API {
	return &API{server: server, checker: checker, log: log.WithName("httpapi")}
}

// Router builds the gorilla/mux router for this API, including /metrics.
func (a *API) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/spawn", a.handleSpawn).Methods(http.MethodGet)
	r.HandleFunc("/spawns", a.handleSpawns).Methods(http.MethodGet)
	r.HandleFunc("/pick", a.handlePick).Methods(http.MethodGet)
	r.HandleFunc("/picks", a.handlePicks).Methods(http.MethodGet)
	r.HandleFunc("/check", a.handleCheck).Methods(http.MethodGet)
	r.HandleFunc("/checks", a.handleChecks).Methods(http.MethodGet)
	r.HandleFunc("/report", a.handleReport).Methods(http.MethodPost)
	r.HandleFunc("/reports", a.handleReports).Methods(http.MethodPost)
	r.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/save", a.handleSave).Methods(http.MethodPost)
	r.HandleFunc("/flush", a.handleFlush).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Nothing useful to do: headers are already sent. This is the one
		// path where the success:false contract can't be honored, since
		// the body is already mid-write.
		return
	}
}

func dbNameOrDefault(r *http.Request) string {
	name := r.URL.Query().Get("dbname")
	if name == "" {
		return defaultDBName
	}
	return name
}

func parseNum(r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("num")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < minNum || n > maxNum {
		return 0, false
	}
	return n, true
}

func validStatus(s string) (pool.Status, bool) {
	st := pool.Status(s)
	return st, st.Valid()
}

func splitAddrs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
