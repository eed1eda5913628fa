// Package httpapi exposes the web UI backend: research submission and
// status, report download, run history, and live progress streaming.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/meridianlabs/deepresearch/internal/config"
	"github.com/meridianlabs/deepresearch/internal/reports"
	"github.com/meridianlabs/deepresearch/internal/research"
	"github.com/meridianlabs/deepresearch/internal/store"
)

// ResearchHandler serves the research API endpoints.
type ResearchHandler struct {
	mgr     *research.Manager
	history *store.Store
	presets []config.Preset
	missing []string
	logger  *zap.Logger
}

// NewResearchHandler constructs the handler. history may be nil; missing
// lists required configuration the deployment lacks (surfaced to the UI).
func NewResearchHandler(mgr *research.Manager, history *store.Store, presets []config.Preset, missing []string, logger *zap.Logger) *ResearchHandler {
	return &ResearchHandler{mgr: mgr, history: history, presets: presets, missing: missing, logger: logger}
}

// RegisterRoutes registers the API endpoints on mux.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/research", h.handleResearch)
	mux.HandleFunc("/api/research/", h.handleResearchByID)
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/presets", h.handlePresets)
	mux.HandleFunc("/api/config", h.handleConfig)
}

// handleResearch submits a new query (POST) or lists sessions (GET).
func (h *ResearchHandler) handleResearch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			writeError(w, http.StatusBadRequest, "query required")
			return
		}
		if len(h.missing) > 0 {
			writeError(w, http.StatusConflict, "service not configured: missing "+strings.Join(h.missing, ", "))
			return
		}
		s, err := h.mgr.Start(r.Context(), req.Query)
		if errors.Is(err, research.ErrRateLimited) {
			writeError(w, http.StatusTooManyRequests, "too many research submissions, slow down")
			return
		}
		if err != nil {
			h.logger.Warn("Research submission failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to start research")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     s.ID,
			"status": string(research.StatusRunning),
		})
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.mgr.List())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleResearchByID routes /api/research/{id} and /api/research/{id}/report.
func (h *ResearchHandler) handleResearchByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/research/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "run id required")
		return
	}

	s, err := h.mgr.Get(id)
	if errors.Is(err, research.ErrSessionNotFound) {
		// Fall back to the history store for evicted sessions and runs from
		// earlier processes.
		if h.history != nil {
			if rec, herr := h.history.Get(r.Context(), id); herr == nil {
				switch sub {
				case "":
					if r.Method == http.MethodDelete {
						writeError(w, http.StatusConflict, "research run already finished")
						return
					}
					writeJSON(w, http.StatusOK, rec)
				case "report":
					if rec.Report == "" {
						writeError(w, http.StatusConflict, "report not ready")
						return
					}
					w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
					w.Header().Set("Content-Disposition", `attachment; filename="research_report.md"`)
					_, _ = w.Write([]byte(rec.Report))
				default:
					writeError(w, http.StatusNotFound, "unknown endpoint")
				}
				return
			}
		}
		writeError(w, http.StatusNotFound, "research run not found")
		return
	}

	switch {
	case sub == "report":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		report := s.Report()
		if report == "" {
			writeError(w, http.StatusConflict, "report not ready")
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="research_report.md"`)
		_, _ = w.Write([]byte(report))
	case sub == "progress":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="research_progress.txt"`)
		_, _ = w.Write([]byte(reports.ProgressLog(s.ProgressLines())))
	case sub == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.Snapshot(true))
	case sub == "" && r.Method == http.MethodDelete:
		switch err := h.mgr.Cancel(id); {
		case errors.Is(err, research.ErrNotRunning):
			writeError(w, http.StatusConflict, "research run already finished")
		case err != nil:
			writeError(w, http.StatusInternalServerError, "cancel failed")
		default:
			writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelling"})
		}
	default:
		writeError(w, http.StatusNotFound, "unknown endpoint")
	}
}

// handleHistory lists recent completed runs from the store.
func (h *ResearchHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.history == nil {
		writeJSON(w, http.StatusOK, []store.Record{})
		return
	}
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	recs, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("History listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handlePresets returns the sample research topics for the UI.
func (h *ResearchHandler) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.presets)
}

// handleConfig reports configuration readiness without leaking values.
func (h *ResearchHandler) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	missing := h.missing
	if missing == nil {
		missing = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configured": len(missing) == 0,
		"missing":    missing,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
