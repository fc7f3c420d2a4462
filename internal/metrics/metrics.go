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

// Package metrics exposes Prometheus gauges mirroring the /stats endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	GlobalAddrs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ipv6pool_global_addrs",
		Help: "Number of addresses currently admitted to the global pool.",
	})

	MirrorIdle = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ipv6pool_mirror_idle",
		Help: "Number of idle addresses in a mirror.",
	}, []string{"dbname"})

	MirrorUsing = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ipv6pool_mirror_using",
		Help: "Number of addresses currently leased out in a mirror.",
	}, []string{"dbname"})

	MirrorUnusable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ipv6pool_mirror_unusable",
		Help: "Number of addresses parked as unusable in a mirror.",
	}, []string{"dbname"})
)

// Registry is a dedicated Prometheus registry so the four gauges above are
// the only series this process exports, rather than polluting the default
// global registry with Go-runtime collectors callers may not expect.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(GlobalAddrs, MirrorIdle, MirrorUsing, MirrorUnusable)
}

// ObserveGlobal sets the global pool gauge.
func ObserveGlobal(n int) {
	GlobalAddrs.Set(float64(n))
}

// MirrorStats is the subset of pool.Stats metrics cares about, kept
// independent of the pool package so metrics has no import-cycle risk.
type MirrorStats struct {
	Idle, Using, Unusable int
}

// ObserveMirror sets the three per-mirror gauges for dbname.
func ObserveMirror(dbname string, stats MirrorStats) {
	MirrorIdle.WithLabelValues(dbname).Set(float64(stats.Idle))
	MirrorUsing.WithLabelValues(dbname).Set(float64(stats.Using))
	MirrorUnusable.WithLabelValues(dbname).Set(float64(stats.Unusable))
}
