package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/database"
	"github.com/KEithwy1030/BTHsports.com/work/logger"
	"github.com/KEithwy1030/BTHsports.com/work/ranker"

	"github.com/gorilla/mux"
)

// startTime anchors the uptime figure in the admin stats response.
var startTime = time.Now()

// domainStatusRequest is the body of POST /admin/domains/{domain}/status.
type domainStatusRequest struct {
	Status string `json:"status"`
}

// adminDeps carries what the admin surface needs from the wired application.
type adminDeps struct {
	cfg    *config.Config
	db     *database.DB
	ranker *ranker.Ranker
}

// setupAdminRoutes registers the operator endpoints: mirror health and
// overrides, mapping telemetry, and store maintenance.
func setupAdminRoutes(router *mux.Router, deps adminDeps) {

	// list every entry mirror with its live counters
	router.HandleFunc("/admin/domains", func(w http.ResponseWriter, r *http.Request) {
		adminJSON(w, http.StatusOK, map[string]any{
			"domains": deps.ranker.Domains().Snapshot(),
		})
	}).Methods("GET")

	// operator override: force a mirror active or inactive
	router.HandleFunc("/admin/domains/{domain}/status", func(w http.ResponseWriter, r *http.Request) {
		domain := mux.Vars(r)["domain"]

		var req domainStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			adminJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
			return
		}

		if err := deps.ranker.Domains().SetStatus(domain, req.Status); err != nil {
			adminJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}

		adminJSON(w, http.StatusOK, map[string]any{"domain": domain, "status": req.Status})
	}).Methods("POST")

	// mapping telemetry over the last week
	router.HandleFunc("/admin/mappings/stats", func(w http.ResponseWriter, r *http.Request) {
		if deps.db == nil {
			adminJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "mapping store unavailable"})
			return
		}
		stats, err := deps.db.MappingStats(7 * 24 * time.Hour)
		if err != nil {
			logger.Error("{admin - mappings/stats} %v", err)
			adminJSON(w, http.StatusInternalServerError, map[string]any{"error": "stats query failed"})
			return
		}
		adminJSON(w, http.StatusOK, stats)
	}).Methods("GET")

	// prune stale rows and compact the store
	router.HandleFunc("/admin/mappings/cleanup", func(w http.ResponseWriter, r *http.Request) {
		if deps.db == nil {
			adminJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "mapping store unavailable"})
			return
		}
		deleted, err := deps.db.CleanupOld(3*24*time.Hour, 7*24*time.Hour)
		if err != nil {
			logger.Error("{admin - mappings/cleanup} %v", err)
			adminJSON(w, http.StatusInternalServerError, map[string]any{"error": "cleanup failed"})
			return
		}
		if deleted > 0 {
			if err := deps.db.Vacuum(); err != nil {
				logger.Warn("{admin - mappings/cleanup} vacuum failed: %v", err)
			}
		}
		adminJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
	}).Methods("POST")

	// process-level stats for dashboards
	router.HandleFunc("/admin/stats", func(w http.ResponseWriter, r *http.Request) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		stats := map[string]any{
			"uptime":        time.Since(startTime).Round(time.Second).String(),
			"memoryUsage":   fmt.Sprintf("%.1f MB", float64(mem.Alloc)/(1024*1024)),
			"goroutines":    runtime.NumGoroutine(),
			"workerThreads": deps.cfg.WorkerThreads,
			"entryDomains":  len(deps.cfg.EntryDomains),
		}
		if deps.db != nil {
			if dbStats, err := deps.db.GetStats(); err == nil {
				for k, v := range dbStats {
					stats[k] = v
				}
			}
		}
		adminJSON(w, http.StatusOK, stats)
	}).Methods("GET")
}

// adminJSON renders a JSON response for the admin surface.
func adminJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
