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

// Package recovery runs a monitor's recovery_action as a shell command on
// demand: idempotent per alert, capped, time-boxed, output-capped, and
// gated by maintenance windows and a global rate limit.
package recovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sentryguard/sentryguard/internal/clock"
	"github.com/sentryguard/sentryguard/internal/metrics"
	"github.com/sentryguard/sentryguard/internal/monitor"
	"github.com/sentryguard/sentryguard/internal/repository"
)

// ErrRecoveryExhausted is returned once an alert has already reached the
// configured maximum number of recovery attempts.
var ErrRecoveryExhausted = errors.New("recovery_exhausted")

// ErrNoRecoveryAction is returned when the monitor has no recovery_action
// configured.
var ErrNoRecoveryAction = errors.New("monitor has no recovery_action")

// ErrRecoveryInProgress is returned when an attempt for the alert is
// already running.
var ErrRecoveryInProgress = errors.New("recovery already in progress")

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxOutput  = 64 * 1024
	defaultMaxAttempt = 3
	defaultRateLimit  = 100.0 / float64(time.Hour/time.Second) // 100/hour
	defaultBurst      = 10
)

// Option configures an Executor at construction time.
type Option func(*Executor)

func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

func WithMaxAttempts(n int) Option {
	return func(e *Executor) { e.maxAttempts = n }
}

func WithRateLimit(rps float64, burst int) Option {
	return func(e *Executor) { e.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func WithClock(c clock.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// Executor runs recovery_action commands for alerts.
type Executor struct {
	repo   repository.Repository
	clock  clock.Clock
	logger zerolog.Logger

	timeout     time.Duration
	maxAttempts int
	maxOutput   int
	limiter     *rate.Limiter

	running sync.Map // alert id -> struct{}
}

// New builds an Executor with the spec's default timeout, attempt cap and
// a 100/hour (burst 10) global rate limit across all recovery runs.
func New(repo repository.Repository, logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		repo:        repo,
		clock:       clock.Real{},
		logger:      logger.With().Str("component", "recovery").Logger(),
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempt,
		maxOutput:   defaultMaxOutput,
		limiter:     rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// TriggerRecovery runs m.RecoveryAction for the alert identified by
// alertID. It is idempotent with respect to concurrent calls for the same
// alert: only one attempt may be in the running state at a time, enforced
// both in-process (running map) and via the alert's durable status.
func (e *Executor) TriggerRecovery(ctx context.Context, m *monitor.Monitor, alert *monitor.Alert) (int, error) {
	if m.RecoveryAction == "" {
		return 0, ErrNoRecoveryAction
	}
	if m.InMaintenanceWindow(e.clock.Now()) {
		return 0, fmt.Errorf("recovery suppressed: monitor is in a maintenance window")
	}
	if len(alert.RecoveryAttempts) >= e.maxAttempts {
		return 0, ErrRecoveryExhausted
	}
	if alert.Status == monitor.AlertStatusInRecovery {
		return 0, ErrRecoveryInProgress
	}
	if _, already := e.running.LoadOrStore(alert.ID, struct{}{}); already {
		return 0, ErrRecoveryInProgress
	}

	if err := e.limiter.Wait(ctx); err != nil {
		e.running.Delete(alert.ID)
		return 0, fmt.Errorf("recovery rate limit: %w", err)
	}

	attemptNumber := len(alert.RecoveryAttempts) + 1
	now := e.clock.Now()
	attempt := monitor.RecoveryAttempt{
		AttemptNumber: attemptNumber,
		Action:        m.RecoveryAction,
		StartedAt:     now,
		Status:        monitor.RecoveryAttemptRunning,
	}
	if err := e.repo.AppendRecoveryAttempt(ctx, alert.ID, attempt); err != nil {
		e.running.Delete(alert.ID)
		return 0, fmt.Errorf("append recovery attempt: %w", err)
	}
	alert.RecoveryAttempts = append(alert.RecoveryAttempts, attempt)

	alert.Status = monitor.AlertStatusInRecovery
	if err := e.repo.SaveAlert(ctx, alert); err != nil {
		e.running.Delete(alert.ID)
		return 0, fmt.Errorf("mark alert in_recovery: %w", err)
	}

	state, err := e.repo.GetMonitorState(ctx, m.ID)
	if err != nil && err != repository.ErrNotFound {
		e.running.Delete(alert.ID)
		return 0, fmt.Errorf("get monitor state: %w", err)
	}
	if state == nil {
		state = &monitor.MonitorState{MonitorID: m.ID}
	}
	state.RecoveryInProgress = true
	state.RecoveryAttemptCount = attemptNumber
	state.LastRecoveryAttempt = &now
	if err := e.repo.SaveMonitorState(ctx, state); err != nil {
		e.running.Delete(alert.ID)
		return 0, fmt.Errorf("save monitor state: %w", err)
	}

	// The attempt is already durable with attempt_number known; the
	// command itself runs in the background so the caller (typically an
	// HTTP handler) doesn't block for up to e.timeout.
	go func() {
		defer e.running.Delete(alert.ID)
		e.run(context.Background(), m, alert.ID, attempt)
	}()

	return attemptNumber, nil
}

// run executes the shell command and closes out the attempt. It is called
// with a background context: a cancelled caller context must not abort an
// attempt that has already been opened durably.
func (e *Executor) run(ctx context.Context, m *monitor.Monitor, alertID string, attempt monitor.RecoveryAttempt) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", m.RecoveryAction)
	var out capBuffer
	out.limit = e.maxOutput
	cmd.Stdout = &out
	cmd.Stderr = &out
	setProcessGroup(cmd)

	err := cmd.Run()

	completedAt := e.clock.Now()
	attempt.CompletedAt = &completedAt
	attempt.Logs = out.String()
	if err != nil {
		attempt.Status = monitor.RecoveryAttemptFailed
		attempt.ErrorMessage = err.Error()
		if runCtx.Err() == context.DeadlineExceeded {
			attempt.ErrorMessage = fmt.Sprintf("timed out after %s", e.timeout)
		}
	} else {
		attempt.Status = monitor.RecoveryAttemptSuccess
	}

	if err := e.repo.UpdateRecoveryAttempt(context.Background(), alertID, attempt.AttemptNumber, attempt); err != nil {
		e.logger.Error().Err(err).Str("alert_id", alertID).Msg("failed to record recovery attempt result")
	}

	state, serr := e.repo.GetMonitorState(context.Background(), m.ID)
	if serr == nil {
		state.RecoveryInProgress = false
		if err := e.repo.SaveMonitorState(context.Background(), state); err != nil {
			e.logger.Error().Err(err).Str("monitor_id", m.ID).Msg("failed to clear recovery_in_progress")
		}
	}

	metrics.RecordRecoveryAttempt(m.Name, string(attempt.Status))
	e.logger.Info().Str("monitor_id", m.ID).Str("alert_id", alertID).Str("status", string(attempt.Status)).Msg("recovery attempt completed")
}

// capBuffer truncates combined stdout+stderr to a fixed byte budget instead
// of buffering a runaway process's output without bound.
type capBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (c *capBuffer) Write(p []byte) (int, error) {
	remaining := c.limit - c.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *capBuffer) String() string {
	return c.buf.String()
}
