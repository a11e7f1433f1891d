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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sentryguard/sentryguard/internal/monitor"
	"github.com/sentryguard/sentryguard/internal/recovery"
	"github.com/sentryguard/sentryguard/internal/repository"
)

type fakeScheduler struct {
	running     bool
	startErr    error
	executeErr  error
	executedIDs []string
}

func (f *fakeScheduler) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeScheduler) Stop()          { f.running = false }
func (f *fakeScheduler) IsRunning() bool { return f.running }

func (f *fakeScheduler) ExecuteNow(ctx context.Context, monitorID string) error {
	f.executedIDs = append(f.executedIDs, monitorID)
	return f.executeErr
}

type fakeRecoverer struct {
	attempt int
	err     error
}

func (f *fakeRecoverer) TriggerRecovery(ctx context.Context, m *monitor.Monitor, alert *monitor.Alert) (int, error) {
	return f.attempt, f.err
}

func newTestRepo(t *testing.T) *repository.GormRepository {
	repo, err := repository.NewGormRepository("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, repo.Init(context.Background()))
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newTestServer(repo repository.Repository, sched Scheduler, rec Recoverer) *Server {
	return New(Options{Repo: repo, Scheduler: sched, Recoverer: rec, Logger: zerolog.Nop()})
}

func TestGetHealth(t *testing.T) {
	repo := newTestRepo(t)
	srv := newTestServer(repo, &fakeScheduler{}, &fakeRecoverer{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestStartStopScheduler(t *testing.T) {
	repo := newTestRepo(t)
	sched := &fakeScheduler{}
	srv := newTestServer(repo, sched, &fakeRecoverer{})

	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/scheduler/start", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, sched.running)

	// starting again is rejected
	w = httptest.NewRecorder()
	srv.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/scheduler/start", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	srv.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/scheduler/stop", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, sched.running)

	w = httptest.NewRecorder()
	srv.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/scheduler/stop", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteMonitor_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	srv := newTestServer(repo, &fakeScheduler{}, &fakeRecoverer{})

	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/monitors/missing/execute", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecuteMonitor_Success(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	m := &monitor.Monitor{ID: "m1", Name: "m1", Type: monitor.TypeURL, Active: true, Running: true}
	require.NoError(t, repo.UpsertMonitor(ctx, m))

	value := 200.0
	require.NoError(t, repo.RecordSample(ctx, &monitor.Sample{MonitorID: m.ID, Status: monitor.StatusOK, Value: &value}))

	sched := &fakeScheduler{}
	srv := newTestServer(repo, sched, &fakeRecoverer{})

	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/monitors/m1/execute", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"m1"}, sched.executedIDs)

	var resp ExecuteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Result.Success)
	require.Equal(t, monitor.StatusOK, resp.Result.Status)
}

func TestAcknowledgeAlert_IdempotentOnSecondCall(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alert := &monitor.Alert{ID: "a1", MonitorID: "m1", Status: monitor.AlertStatusActive}
	require.NoError(t, repo.SaveAlert(ctx, alert))

	srv := newTestServer(repo, &fakeScheduler{}, &fakeRecoverer{})

	body, _ := json.Marshal(AcknowledgeRequest{AcknowledgedBy: "alice", Note: "looking into it"})
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/alerts/a1/acknowledge", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	got, err := repo.GetAlert(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, monitor.AlertStatusAcknowledged, got.Status)
	require.Equal(t, "alice", got.AcknowledgedBy)

	// second acknowledge is a no-op, still 200, fields untouched
	body2, _ := json.Marshal(AcknowledgeRequest{AcknowledgedBy: "bob", Note: "different"})
	w = httptest.NewRecorder()
	srv.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/alerts/a1/acknowledge", bytes.NewReader(body2)))
	require.Equal(t, http.StatusOK, w.Code)

	still, err := repo.GetAlert(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "alice", still.AcknowledgedBy)
}

func TestAcknowledgeAlert_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	srv := newTestServer(repo, &fakeScheduler{}, &fakeRecoverer{})

	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/alerts/missing/acknowledge", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecoverAlert_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"no action", recovery.ErrNoRecoveryAction, http.StatusBadRequest},
		{"exhausted", recovery.ErrRecoveryExhausted, http.StatusBadRequest},
		{"in progress", recovery.ErrRecoveryInProgress, http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newTestRepo(t)
			ctx := context.Background()
			m := &monitor.Monitor{ID: "m1", Name: "m1", Type: monitor.TypeURL, RecoveryAction: "restart"}
			require.NoError(t, repo.UpsertMonitor(ctx, m))
			alert := &monitor.Alert{ID: "a1", MonitorID: "m1", Status: monitor.AlertStatusActive}
			require.NoError(t, repo.SaveAlert(ctx, alert))

			srv := newTestServer(repo, &fakeScheduler{}, &fakeRecoverer{err: tc.err})

			w := httptest.NewRecorder()
			srv.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/alerts/a1/recover", nil))
			require.Equal(t, tc.code, w.Code)
		})
	}
}

func TestRecoverAlert_Success(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	m := &monitor.Monitor{ID: "m1", Name: "m1", Type: monitor.TypeURL, RecoveryAction: "restart"}
	require.NoError(t, repo.UpsertMonitor(ctx, m))
	alert := &monitor.Alert{ID: "a1", MonitorID: "m1", Status: monitor.AlertStatusActive}
	require.NoError(t, repo.SaveAlert(ctx, alert))

	srv := newTestServer(repo, &fakeScheduler{}, &fakeRecoverer{attempt: 2})

	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/alerts/a1/recover", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp RecoverResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.AttemptNumber)
}

func TestListAlerts_FiltersByStatusAndMonitor(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.SaveAlert(ctx, &monitor.Alert{ID: "a1", MonitorID: "m1", Status: monitor.AlertStatusActive}))
	require.NoError(t, repo.SaveAlert(ctx, &monitor.Alert{ID: "a2", MonitorID: "m2", Status: monitor.AlertStatusRecovered}))

	srv := newTestServer(repo, &fakeScheduler{}, &fakeRecoverer{})

	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/alerts?status=active", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var alerts []monitor.Alert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	require.Equal(t, "a1", alerts[0].ID)
}
