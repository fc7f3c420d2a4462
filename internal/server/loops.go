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
	"time"

	"github.com/go-logr/logr"

	"github.com/ipv6pool/server/internal/prefix"
)

// RunRouteMonitor re-probes the prefix on every tick of interval (and,
// when a detector is configured, immediately on any detector event). If the
// prefix is unchanged nothing happens; if it changed, the stored prefix and
// global pool prefix are updated, the route effector is rebuilt and run,
// and every store is flushed. Errors at any step are logged and swallowed
// so the loop keeps ticking. On cancellation the loop performs a final Save
// before returning.
func (s *PoolServer) RunRouteMonitor(ctx context.Context, interval time.Duration) {
	log := s.log.WithName("route-monitor")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var events <-chan prefix.Event
	if s.detector != nil {
		events = s.detector.Events()
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("route monitor stopping, saving state")
			if err := s.Save(); err != nil {
				log.Info("final save failed", "error", err)
			}
			return
		case <-ticker.C:
			s.reconcilePrefix(ctx, log)
		case <-events:
			s.reconcilePrefix(ctx, log)
		}
	}
}

func (s *PoolServer) reconcilePrefix(ctx context.Context, log logr.Logger) {
	info, err := s.prober.Probe(ctx)
	if err != nil {
		log.Info("prefix probe failed", "error", err)
		return
	}

	prev := s.CurrentPrefix()
	if prev.Prefix == info.Prefix && prev.Interface == info.Interface {
		return
	}

	log.Info("prefix changed", "previous", prev.Prefix, "current", info.Prefix)
	s.setCurrentPrefix(info)

	if err := s.global.Flush(); err != nil {
		log.Info("flushing global pool after prefix change failed", "error", err)
	}
	s.mirrorsMu.Lock()
	mirrors := make([]string, 0, len(s.mirrors))
	for name := range s.mirrors {
		mirrors = append(mirrors, name)
	}
	s.mirrorsMu.Unlock()
	for _, name := range mirrors {
		s.applyMirrorRange(name, s.Mirror(name))
		if err := s.Flush(name); err != nil {
			log.Info("flushing mirror after prefix change failed", "mirror", name, "error", err)
		}
	}

	s.routeEffectorMu.Lock()
	effector := s.routeEffector
	s.routeEffectorMu.Unlock()

	if effector != nil {
		if err := effector.Run(ctx, false); err != nil {
			log.Info("route effector run failed", "error", err)
		}
	}
}

// RunMaintenance keeps the global pool topped up to usableNum addresses
// every tick of interval. If a maintenance pass's SpawnMany signals
// should_stop, the loop marks the server degraded and returns for good:
// sustained consecutive failures likely reflect loss of external
// connectivity. Nothing in the server restarts the loop or clears the
// degraded flag afterwards, a later prefix change included. On
// cancellation the loop performs a final Save before returning.
func (s *PoolServer) RunMaintenance(ctx context.Context, interval time.Duration, usableNum int) {
	log := s.log.WithName("maintenance")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("maintenance loop stopping, saving state")
			if err := s.Save(); err != nil {
				log.Info("final save failed", "error", err)
			}
			return
		case <-ticker.C:
			deficit := usableNum - s.global.Len()
			if deficit <= 0 {
				continue
			}

			_, shouldStop := s.SpawnMany(ctx, deficit)
			if err := s.global.Save(); err != nil {
				log.Info("saving global pool after maintenance batch failed", "error", err)
			}

			if shouldStop {
				log.Info("consecutive spawn failures reached threshold, maintenance loop degraded and exiting")
				s.setDegraded(true)
				return
			}
		}
	}
}
