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

// Package evaluator turns one probe result into monitor-state and alert
// transitions: consecutive-failure/success hysteresis, alert trigger,
// escalation and recovery, with a deterministic persistence order.
package evaluator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentryguard/sentryguard/internal/clock"
	"github.com/sentryguard/sentryguard/internal/metrics"
	"github.com/sentryguard/sentryguard/internal/monitor"
	"github.com/sentryguard/sentryguard/internal/repository"
)

// Prober is the probe registry's surface, as consumed by the evaluator.
type Prober interface {
	Check(ctx context.Context, m *monitor.Monitor) monitor.Sample
}

// Notifier is the notification dispatcher's surface. Dispatch is called
// synchronously from inside the monitor's lock, after persistence, so
// its own dedup bookkeeping observes transitions in the order they
// actually happened.
type Notifier interface {
	Dispatch(ctx context.Context, m *monitor.Monitor, a *monitor.Alert, event monitor.EventType) error
}

// Evaluator implements scheduler.Evaluator: probe, classify, persist,
// notify, one monitor at a time per monitor id.
type Evaluator struct {
	repo   repository.Repository
	probe  Prober
	notify Notifier
	clock  clock.Clock
	logger zerolog.Logger

	locks sync.Map // monitor id -> *sync.Mutex
}

// New builds an Evaluator.
func New(repo repository.Repository, probe Prober, notify Notifier, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		repo:   repo,
		probe:  probe,
		notify: notify,
		clock:  clock.Real{},
		logger: logger.With().Str("component", "evaluator").Logger(),
	}
}

func (e *Evaluator) lockFor(monitorID string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(monitorID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Evaluate runs the monitor's probe, advances its state machine and
// persists the result. It is safe to call concurrently for different
// monitor ids; calls for the same id serialize on that monitor's lock.
func (e *Evaluator) Evaluate(ctx context.Context, m *monitor.Monitor) error {
	lock := e.lockFor(m.ID)
	lock.Lock()
	defer lock.Unlock()

	now := e.clock.Now()
	if m.InMaintenanceWindow(now) {
		e.logger.Debug().Str("monitor_id", m.ID).Msg("skipping evaluation, in maintenance window")
		return nil
	}

	state, err := e.loadOrRecoverState(ctx, m)
	if err != nil {
		return fmt.Errorf("load monitor state: %w", err)
	}

	probeStart := e.clock.Now()
	sample := e.probe.Check(ctx, m)
	sample.MonitorID = m.ID
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}
	metrics.RecordSample(m.Name, string(m.Type), string(sample.Status), e.clock.Now().Sub(probeStart).Seconds())

	// (1) write sample -- first persistence step, crash-safe ordering.
	if err := e.repo.RecordSample(ctx, &sample); err != nil {
		return fmt.Errorf("record sample: %w", err)
	}

	prevStatus := state.CurrentStatus
	updateCounters(state, sample.Status)
	state.LastCheckTime = &sample.Timestamp
	state.LastValue = sample.Value
	state.LastError = sample.ErrorMessage

	alert, event, err := e.transition(ctx, m, state, &sample, prevStatus)
	if err != nil {
		return fmt.Errorf("alert transition: %w", err)
	}

	// (2) write new/updated alert.
	if alert != nil {
		alert.UpdatedAt = now
		if err := e.repo.SaveAlert(ctx, alert); err != nil {
			return fmt.Errorf("save alert: %w", err)
		}
	}

	// (3) write updated monitor state.
	state.UpdatedAt = now
	if err := e.repo.SaveMonitorState(ctx, state); err != nil {
		return fmt.Errorf("save monitor state: %w", err)
	}

	if alert != nil && event != "" && e.notify != nil {
		if err := e.notify.Dispatch(ctx, m, alert, event); err != nil {
			e.logger.Error().Err(err).Str("monitor_id", m.ID).Str("alert_id", alert.ID).Msg("notification dispatch failed")
		}
	}

	return nil
}

// loadOrRecoverState loads the monitor's persisted state, or rebuilds it
// from the last alert and last samples if the state row was lost between
// steps (2) and (3) of a previous evaluation's persistence order.
func (e *Evaluator) loadOrRecoverState(ctx context.Context, m *monitor.Monitor) (*monitor.MonitorState, error) {
	state, err := e.repo.GetMonitorState(ctx, m.ID)
	if err == nil {
		return state, nil
	}
	if err != repository.ErrNotFound {
		return nil, err
	}
	return RecoverCounters(ctx, e.repo, m)
}

// RecoverCounters rebuilds a MonitorState from the durable record of the
// active alert (if any) and the monitor's latest sample, the
// same derive-from-what's-queryable approach used when no separate
// durable cursor exists for in-memory counters.
func RecoverCounters(ctx context.Context, repo repository.Repository, m *monitor.Monitor) (*monitor.MonitorState, error) {
	state := &monitor.MonitorState{MonitorID: m.ID, CurrentStatus: monitor.StatusOK}

	active, err := repo.ActiveAlertByMonitor(ctx, m.ID)
	if err != nil && err != repository.ErrNotFound {
		return nil, err
	}
	if active != nil {
		state.ActiveAlertID = active.ID
		state.ConsecutiveFailures = active.ConsecutiveFailures
		if active.Severity == monitor.AlertSeverityAlarm {
			state.CurrentStatus = monitor.StatusAlarm
		} else {
			state.CurrentStatus = monitor.StatusWarning
		}
	}

	latest, err := repo.LatestSample(ctx, m.ID)
	if err != nil && err != repository.ErrNotFound {
		return nil, err
	}
	if latest != nil {
		state.LastCheckTime = &latest.Timestamp
		state.LastValue = latest.Value
		state.LastError = latest.ErrorMessage
	}

	return state, nil
}

// updateCounters applies spec.md 4.3's counter update rule: ok resets
// failures and bumps successes; anything else resets successes and
// bumps failures. The two counters are never simultaneously positive.
func updateCounters(state *monitor.MonitorState, status monitor.Status) {
	if status == monitor.StatusOK {
		state.ConsecutiveSuccesses++
		state.ConsecutiveFailures = 0
		return
	}
	state.ConsecutiveFailures++
	state.ConsecutiveSuccesses = 0
}

// transition applies the ordered trigger/escalate/recover rules from
// spec.md 4.3. It returns the alert that changed (nil if none) and the
// notification event that change corresponds to.
func (e *Evaluator) transition(ctx context.Context, m *monitor.Monitor, state *monitor.MonitorState, sample *monitor.Sample, prevStatus monitor.Status) (*monitor.Alert, monitor.EventType, error) {
	var active *monitor.Alert
	if state.ActiveAlertID != "" {
		a, err := e.repo.GetAlert(ctx, state.ActiveAlertID)
		if err != nil && err != repository.ErrNotFound {
			return nil, "", err
		}
		if a != nil && !a.IsTerminal() {
			active = a
		}
	}

	// Rule 1: trigger warning.
	if active == nil && sample.Status == monitor.StatusWarning && state.ConsecutiveFailures >= m.ConsecutiveWarning {
		alert := newAlert(m, monitor.AlertSeverityWarning, sample, state.ConsecutiveFailures)
		state.CurrentStatus = monitor.StatusWarning
		state.ActiveAlertID = alert.ID
		metrics.RecordAlertEvent(m.Name, string(monitor.AlertSeverityWarning), string(monitor.EventTriggered))
		metrics.ActiveAlerts.WithLabelValues(string(monitor.AlertSeverityWarning)).Inc()
		return alert, monitor.EventTriggered, nil
	}

	// Rule 2: escalate warning -> alarm.
	if active != nil && active.Severity == monitor.AlertSeverityWarning &&
		(sample.Status == monitor.StatusAlarm || sample.Status == monitor.StatusError) &&
		state.ConsecutiveFailures >= m.ConsecutiveAlarm {
		active.Severity = monitor.AlertSeverityAlarm
		active.CurrentValue = sample.Value
		active.Metadata = sample.Metadata
		active.Message = monitor.FormatMessage(m.Name, monitor.AlertSeverityAlarm, sample.Value, thresholdFor(m, monitor.AlertSeverityAlarm), state.ConsecutiveFailures)
		state.CurrentStatus = monitor.StatusAlarm
		metrics.RecordAlertEvent(m.Name, string(monitor.AlertSeverityAlarm), string(monitor.EventEscalated))
		metrics.ActiveAlerts.WithLabelValues(string(monitor.AlertSeverityWarning)).Dec()
		metrics.ActiveAlerts.WithLabelValues(string(monitor.AlertSeverityAlarm)).Inc()
		return active, monitor.EventEscalated, nil
	}

	// Rule 3: trigger alarm directly.
	if active == nil && (sample.Status == monitor.StatusAlarm || sample.Status == monitor.StatusError) && state.ConsecutiveFailures >= m.ConsecutiveAlarm {
		alert := newAlert(m, monitor.AlertSeverityAlarm, sample, state.ConsecutiveFailures)
		state.CurrentStatus = monitor.StatusAlarm
		state.ActiveAlertID = alert.ID
		metrics.RecordAlertEvent(m.Name, string(monitor.AlertSeverityAlarm), string(monitor.EventTriggered))
		metrics.ActiveAlerts.WithLabelValues(string(monitor.AlertSeverityAlarm)).Inc()
		return alert, monitor.EventTriggered, nil
	}

	// Rule 4: recover.
	if active != nil && state.ConsecutiveSuccesses >= resetThreshold(m) {
		recoveredAt := e.clock.Now()
		active.Status = monitor.AlertStatusRecovered
		active.RecoveredAt = &recoveredAt
		state.CurrentStatus = monitor.StatusOK
		state.ActiveAlertID = ""
		state.RecoveryInProgress = false
		metrics.RecordAlertEvent(m.Name, string(active.Severity), string(monitor.EventRecovered))
		metrics.ActiveAlerts.WithLabelValues(string(active.Severity)).Dec()
		return active, monitor.EventRecovered, nil
	}

	// Rule 5: no alert transition; counters/last_* already updated above.
	if sample.Status == monitor.StatusOK && active == nil {
		state.CurrentStatus = monitor.StatusOK
	}
	return nil, "", nil
}

func resetThreshold(m *monitor.Monitor) int {
	if m.ResetAfterMOk <= 0 {
		return 1
	}
	return m.ResetAfterMOk
}

func thresholdFor(m *monitor.Monitor, severity monitor.AlertSeverity) *float64 {
	if severity == monitor.AlertSeverityAlarm {
		if m.HighAlarm != nil {
			return m.HighAlarm
		}
		return m.LowAlarm
	}
	if m.HighWarning != nil {
		return m.HighWarning
	}
	return m.LowWarning
}

func newAlert(m *monitor.Monitor, severity monitor.AlertSeverity, sample *monitor.Sample, consecutiveFailures int) *monitor.Alert {
	threshold := thresholdFor(m, severity)
	now := sample.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	return &monitor.Alert{
		ID:                  uuid.NewString(),
		MonitorID:           m.ID,
		MonitorName:         m.Name,
		Severity:            severity,
		LegacySeverity:      m.Severity,
		Status:              monitor.AlertStatusActive,
		TriggeredAt:         now,
		CurrentValue:        sample.Value,
		ThresholdValue:      threshold,
		ConsecutiveFailures: consecutiveFailures,
		Message:             alertMessage(m, severity, sample, threshold, consecutiveFailures),
		Metadata:            sample.Metadata,
	}
}

// alertMessage prefers a probe-supplied template (certificate, log) and
// otherwise falls back to the deterministic default format.
func alertMessage(m *monitor.Monitor, severity monitor.AlertSeverity, sample *monitor.Sample, threshold *float64, consecutiveFailures int) string {
	if sample.Metadata.DaysRemaining != nil {
		return fmt.Sprintf("%s %s: certificate expires in %d day(s) (issuer=%s)", m.Name, severity, *sample.Metadata.DaysRemaining, sample.Metadata.CertIssuer)
	}
	if len(sample.Metadata.LogMatches) > 0 {
		msg := fmt.Sprintf("%s %s: %d matching log line(s) after %d failures", m.Name, severity, len(sample.Metadata.LogMatches), consecutiveFailures)
		if sample.Metadata.SuggestedFix != "" {
			msg += " — " + sample.Metadata.SuggestedFix
		}
		return msg
	}
	return monitor.FormatMessage(m.Name, severity, sample.Value, threshold, consecutiveFailures)
}
