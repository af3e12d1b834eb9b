package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/KEithwy1030/BTHsports.com/work/client"
	"github.com/KEithwy1030/BTHsports.com/work/database"
	"github.com/KEithwy1030/BTHsports.com/work/engine"
	"github.com/KEithwy1030/BTHsports.com/work/logger"
	"github.com/KEithwy1030/BTHsports.com/work/proxy"
	"github.com/KEithwy1030/BTHsports.com/work/refresher"
	"github.com/KEithwy1030/BTHsports.com/work/types"
)

// resolveRequest is the POST /resolve body.
type resolveRequest struct {
	MatchKey              string `json:"matchKey"`
	PreferredChannelIndex *int   `json:"preferredChannelIndex"`
}

// refreshRequest is the POST /refresh body.
type refreshRequest struct {
	MatchKey string `json:"matchKey"`
}

// HandleResolve resolves a match key into playable signals.
func HandleResolve(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MatchKey == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "matchKey is required"})
			return
		}

		preferred := -1
		if req.PreferredChannelIndex != nil {
			preferred = *req.PreferredChannelIndex
		}

		outcome, err := eng.ResolveMatch(r.Context(), req.MatchKey, preferred)
		if err != nil {
			if errors.Is(err, types.ErrExhausted) {
				writeJSON(w, http.StatusBadGateway, outcome)
				return
			}
			logger.Error("{handlers/handlers - HandleResolve} resolve %s failed: %v", req.MatchKey, err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "resolution failed"})
			return
		}

		writeJSON(w, http.StatusOK, outcome)
	}
}

// HandleManifest proxies a rewritten HLS manifest. The wrapped writer adds
// the no-cache headers live playlists need.
func HandleManifest(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.HandleManifest(client.NewCustomResponseWriter(w), r)
	}
}

// HandleSegment proxies a media segment or nested sub-manifest.
func HandleSegment(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.HandleSegment(client.NewCustomResponseWriter(w), r)
	}
}

// HandleRefresh forces immediate re-resolution of one match's mappings,
// bypassing the scheduler interval.
func HandleRefresh(ref *refresher.Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MatchKey == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "matchKey is required"})
			return
		}

		refreshed, failed, err := ref.RefreshMatch(r.Context(), req.MatchKey)
		if err != nil {
			logger.Error("{handlers/handlers - HandleRefresh} refresh %s failed: %v", req.MatchKey, err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "refresh failed"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"matchKey":  req.MatchKey,
			"refreshed": refreshed,
			"failed":    failed,
		})
	}
}

// HandleHealth reports process and store health.
func HandleHealth(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{"status": "ok"}
		code := http.StatusOK

		if db != nil {
			if err := db.Ping(); err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
				code = http.StatusServiceUnavailable
			} else {
				status["database"] = "ok"
			}
		} else {
			status["database"] = "unavailable"
		}

		writeJSON(w, code, status)
	}
}

// writeJSON renders a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers/handlers - writeJSON} encode failed: %v", err)
	}
}
