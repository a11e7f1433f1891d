/*
Copyright 2025.

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

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentryguard/sentryguard/internal/monitor"
	"github.com/sentryguard/sentryguard/internal/recovery"
	"github.com/sentryguard/sentryguard/internal/repository"
)

// Handlers implements the control-plane HTTP endpoints.
type Handlers struct {
	repo      repository.Repository
	scheduler Scheduler
	recoverer Recoverer
	startTime time.Time
}

func newHandlers(repo repository.Repository, sched Scheduler, rec Recoverer) *Handlers {
	return &Handlers{repo: repo, scheduler: sched, recoverer: rec, startTime: time.Now()}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorDetail{Error: msg})
}

// GetHealth reports process liveness and storage connectivity.
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.repo.Health(r.Context()); err != nil {
		status = "degraded: " + err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}

// StartScheduler handles POST /scheduler/start.
func (h *Handlers) StartScheduler(w http.ResponseWriter, r *http.Request) {
	if h.scheduler.IsRunning() {
		writeError(w, http.StatusBadRequest, "scheduler already running")
		return
	}
	if err := h.scheduler.Start(r.Context()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := time.Now()
	writeJSON(w, http.StatusOK, SchedulerStateResponse{Running: true, StartedAt: &now})
}

// StopScheduler handles POST /scheduler/stop.
func (h *Handlers) StopScheduler(w http.ResponseWriter, r *http.Request) {
	if !h.scheduler.IsRunning() {
		writeError(w, http.StatusBadRequest, "scheduler already stopped")
		return
	}
	h.scheduler.Stop()
	now := time.Now()
	writeJSON(w, http.StatusOK, SchedulerStateResponse{Running: false, StoppedAt: &now})
}

// SchedulerStatus handles GET /scheduler/status.
func (h *Handlers) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SchedulerStateResponse{Running: h.scheduler.IsRunning(), CheckedAt: time.Now()})
}

// ExecuteMonitor handles POST /monitors/{id}/execute: a one-shot
// evaluation outside the scheduler's own tick cadence.
func (h *Handlers) ExecuteMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	if _, err := h.repo.GetMonitor(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "monitor not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.scheduler.ExecuteNow(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sample, err := h.repo.LatestSample(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := ExecuteResult{
		Status:  sample.Status,
		Success: sample.Status == monitor.StatusOK,
		Message: sample.ErrorMessage,
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{Result: result})
}

// AcknowledgeAlert handles POST /alerts/{id}/acknowledge.
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var req AcknowledgeRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	alert, err := h.repo.GetAlert(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Acknowledging an already-acknowledged alert is a no-op (spec.md 8):
	// returns 200 without touching the existing acknowledgement fields.
	if alert.Status == monitor.AlertStatusAcknowledged {
		writeJSON(w, http.StatusOK, alert)
		return
	}

	now := time.Now()
	alert.Status = monitor.AlertStatusAcknowledged
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = req.AcknowledgedBy
	alert.AcknowledgedNote = req.Note
	alert.UpdatedAt = now

	if err := h.repo.SaveAlert(ctx, alert); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// RecoverAlert handles POST /alerts/{id}/recover.
func (h *Handlers) RecoverAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	alert, err := h.repo.GetAlert(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	m, err := h.repo.GetMonitor(ctx, alert.MonitorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "monitor not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	attempt, err := h.recoverer.TriggerRecovery(ctx, m, alert)
	if err != nil {
		switch {
		case errors.Is(err, recovery.ErrNoRecoveryAction), errors.Is(err, recovery.ErrRecoveryExhausted):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, recovery.ErrRecoveryInProgress):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, RecoverResponse{AttemptNumber: attempt})
}

// ListAlerts handles GET /alerts?status=&monitor_id=.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := repository.AlertQuery{
		Status:    monitor.AlertStatus(r.URL.Query().Get("status")),
		MonitorID: r.URL.Query().Get("monitor_id"),
	}
	alerts, err := h.repo.ListAlerts(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}
