package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/thinkscotty/daybook/internal/models"
	"github.com/thinkscotty/daybook/internal/scheduler"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"digests":        s.sched.Status(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			jsonError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.store.RecentRuns(limit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		jsonError(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.RunRecord{}
	}
	jsonResponse(w, map[string]any{"runs": runs})
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.store.GetRun(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			jsonError(w, "Run not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to load run", "id", id, "error", err)
		jsonError(w, "Failed to load run", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, rec)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if !models.ValidKind(kind) {
		jsonError(w, "Unknown digest kind", http.StatusBadRequest)
		return
	}

	id, err := s.sched.TriggerNow(r.Context(), models.RunKind(kind))
	if err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			jsonError(w, "A run for this digest is already in progress", http.StatusConflict)
			return
		}
		slog.Error("Failed to trigger run", "kind", kind, "error", err)
		jsonError(w, "Failed to trigger run", http.StatusInternalServerError)
		return
	}
	jsonStatus(w, http.StatusAccepted, map[string]string{"run_id": id})
}

// handleFetch runs aggregation only and returns the snapshot. Nothing is
// generated, delivered, or recorded.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if !models.ValidKind(kind) {
		jsonError(w, "Unknown digest kind", http.StatusBadRequest)
		return
	}
	jsonResponse(w, s.fetcher.Collect(r.Context(), models.RunKind(kind)))
}

type checkEntry struct {
	Target string `json:"target"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var entries []checkEntry
	for _, res := range s.checker.Checks(ctx) {
		e := checkEntry{Target: res.Target, OK: res.Err == nil}
		if res.Err != nil {
			e.Error = res.Err.Error()
		}
		entries = append(entries, e)
	}

	slackEntry := checkEntry{Target: "slack", OK: true}
	if err := s.delivery.Check(ctx); err != nil {
		slackEntry.OK = false
		slackEntry.Error = err.Error()
	}
	entries = append(entries, slackEntry)

	jsonResponse(w, map[string]any{"checks": entries})
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
