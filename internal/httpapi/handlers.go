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

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ipv6pool/server/internal/metrics"
	"github.com/ipv6pool/server/internal/server"
)

// handleSpawn implements GET /spawn. The optional reason field is set when
// a single-candidate spawn spends its whole retry budget without success;
// a single attempt cannot distinguish that from a broader connectivity
// loss, so no other reason code exists yet.
func (a *API) handleSpawn(w http.ResponseWriter, r *http.Request) {
	addr, ok := a.server.SpawnOne(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"reason":  "retries_exhausted",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "addr": addr})
}

// handleSpawns implements GET /spawns?num=. The additive degraded field
// surfaces SpawnMany's should_stop signal without breaking any client that
// only reads success/addrs.
func (a *API) handleSpawns(w http.ResponseWriter, r *http.Request) {
	num, ok := parseNum(r, 1)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}

	addrs, shouldStop := a.server.SpawnMany(r.Context(), num)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"addrs":    addrs,
		"degraded": shouldStop,
	})
}

// handlePick implements GET /pick?dbname=.
func (a *API) handlePick(w http.ResponseWriter, r *http.Request) {
	dbname := dbNameOrDefault(r)
	addr, ok := a.server.Pick(dbname)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "dbname": dbname})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "addr": addr, "dbname": dbname})
}

// handlePicks implements GET /picks?dbname=&num=.
func (a *API) handlePicks(w http.ResponseWriter, r *http.Request) {
	dbname := dbNameOrDefault(r)
	num, ok := parseNum(r, 1)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "dbname": dbname})
		return
	}

	addrs := a.server.PickMany(dbname, num)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "addrs": addrs, "dbname": dbname})
}

// handleCheck implements GET /check?addr=.
func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("addr")
	usable := a.checker.Check(r.Context(), addr)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "addr": addr, "usable": usable})
}

// handleChecks implements GET /checks?addrs=a,b,c.
func (a *API) handleChecks(w http.ResponseWriter, r *http.Request) {
	addrs := splitAddrs(r.URL.Query().Get("addrs"))
	results := make(map[string]bool, len(addrs))
	for _, addr := range addrs {
		results[addr] = a.checker.Check(r.Context(), addr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

type reportBody struct {
	DBName     string `json:"dbname"`
	ReportInfo struct {
		Addr   string `json:"addr"`
		Status string `json:"status"`
	} `json:"report_info"`
}

// handleReport implements POST /report.
func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	var body reportBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}
	dbname := body.DBName
	if dbname == "" {
		dbname = defaultDBName
	}

	status, ok := validStatus(body.ReportInfo.Status)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "dbname": dbname})
		return
	}

	a.server.Report(dbname, server.ReportItem{Addr: body.ReportInfo.Addr, Status: status})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "dbname": dbname})
}

type reportsBody struct {
	DBName      string `json:"dbname"`
	ReportInfos []struct {
		Addr   string `json:"addr"`
		Status string `json:"status"`
	} `json:"report_infos"`
}

// handleReports implements POST /reports.
func (a *API) handleReports(w http.ResponseWriter, r *http.Request) {
	var body reportsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}
	dbname := body.DBName
	if dbname == "" {
		dbname = defaultDBName
	}

	items := make([]server.ReportItem, 0, len(body.ReportInfos))
	for _, ri := range body.ReportInfos {
		status, ok := validStatus(ri.Status)
		if !ok {
			continue
		}
		items = append(items, server.ReportItem{Addr: ri.Addr, Status: status})
	}

	a.server.ReportMany(dbname, items)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "dbname": dbname})
}

// handleStats implements GET /stats?dbname=. Without dbname it reports
// global pool size plus the degraded flag; with dbname it reports that
// mirror's lease-state counts.
func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	dbname := r.URL.Query().Get("dbname")
	if dbname == "" {
		total := a.server.GlobalStats()
		metrics.ObserveGlobal(total)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"total_addrs": total,
			"degraded":    a.server.Degraded(),
		})
		return
	}

	stats := a.server.MirrorStats(dbname)
	metrics.ObserveMirror(dbname, metrics.MirrorStats{Idle: stats.Idle, Using: stats.Using, Unusable: stats.Unusable})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"dbname":  dbname,
		"total":   stats.Total,
		"idle":    stats.Idle,
		"using":   stats.Using,
		"unusable": stats.Unusable,
	})
}

// handleSave implements POST /save.
func (a *API) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := a.server.Save(); err != nil {
		a.log.Info("save failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleFlush implements POST /flush?dbname=.
func (a *API) handleFlush(w http.ResponseWriter, r *http.Request) {
	dbname := r.URL.Query().Get("dbname")
	if err := a.server.Flush(dbname); err != nil {
		a.log.Info("flush failed", "error", err, "dbname", dbname)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "dbname": dbname})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "dbname": dbname})
}
