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

package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sentryguard/sentryguard/internal/clock"
	"github.com/sentryguard/sentryguard/internal/metrics"
	"github.com/sentryguard/sentryguard/internal/monitor"
	"github.com/sentryguard/sentryguard/internal/repository"
)

// reminderWindow bounds how often an alarm-severity alert still open
// re-notifies via the reminder event.
const reminderWindow = 24 * time.Hour

// Config wires channel credentials/endpoints into a Dispatcher.
type Config struct {
	SMTP               SMTPConfig
	WebhookURL         string
	WebhookHeaders     map[string]string
	SlackWebhookURL    string
	SMSGatewayURL      string
	SMSFrom            string
	CallGatewayURL     string
	CallFrom           string
	MaxAlertsPerMinute int
}

// Dispatcher implements evaluator.Notifier: it resolves recipients from a
// monitor's alarming_candidate list and monitor-wide defaults, renders a
// message once per dispatch, and delivers it to every (channel, recipient)
// at most once per (alert, event) tuple; a tuple whose delivery failed is
// not retried on a later dispatch.
type Dispatcher struct {
	repo     repository.Repository
	clock    clock.Clock
	logger   zerolog.Logger
	channels map[monitor.ChannelType]Channel
	limiter  *rate.Limiter
}

// New builds a Dispatcher. Channels with empty configuration still get
// constructed; they simply fail their first Send with a descriptive error
// rather than panicking, the same "configure or fail loud" shape as the
// monitor-level probe registry.
func New(repo repository.Repository, cfg Config, logger zerolog.Logger) *Dispatcher {
	maxPerMinute := cfg.MaxAlertsPerMinute
	if maxPerMinute <= 0 {
		maxPerMinute = 50
	}
	return &Dispatcher{
		repo:   repo,
		clock:  clock.Real{},
		logger: logger.With().Str("component", "alerting").Logger(),
		channels: map[monitor.ChannelType]Channel{
			monitor.ChannelEmail:   newEmailChannel(cfg.SMTP),
			monitor.ChannelWebhook: newWebhookChannel(cfg.WebhookURL, cfg.WebhookHeaders),
			monitor.ChannelSlack:   newSlackChannel(cfg.SlackWebhookURL),
			monitor.ChannelSMS:     newSMSChannel(cfg.SMSGatewayURL, cfg.SMSFrom),
			monitor.ChannelCall:    newCallChannel(cfg.CallGatewayURL, cfg.CallFrom),
		},
		limiter: rate.NewLimiter(rate.Limit(float64(maxPerMinute)/60.0), 10),
	}
}

// Dispatch delivers one alert lifecycle event to every channel resolved
// for the alert's current severity.
func (d *Dispatcher) Dispatch(ctx context.Context, m *monitor.Monitor, alert *monitor.Alert, event monitor.EventType) error {
	targets := dedupTargets(resolveTargets(m, alert.Severity))
	if len(targets) == 0 {
		return nil
	}

	msg, err := render(renderContext{Monitor: m, Alert: alert, Event: event, Severity: alert.Severity})
	if err != nil {
		return fmt.Errorf("render message: %w", err)
	}

	var failures int
	for _, t := range targets {
		if err := d.dispatchOne(ctx, alert.ID, event, t, msg); err != nil {
			d.logger.Warn().Err(err).Str("alert_id", alert.ID).Str("channel", string(t.channel)).Msg("notification delivery failed")
			failures++
		}
	}
	if failures == len(targets) && failures > 0 {
		return fmt.Errorf("notify: all %d deliveries failed", failures)
	}
	return nil
}

// dispatchOne delivers to a single resolved target, honoring the
// (alert_id, event_type, channel, recipient) dedup contract: a tuple that
// already has a notifications_sent[] entry is never retried, even if the
// previous attempt failed.
func (d *Dispatcher) dispatchOne(ctx context.Context, alertID string, event monitor.EventType, t target, msg RenderedMessage) error {
	already, err := d.repo.HasNotification(ctx, alertID, event, t.channel, t.recipient)
	if err != nil {
		return fmt.Errorf("check notification dedup: %w", err)
	}
	if already {
		return nil
	}

	ch, ok := d.channels[t.channel]
	if !ok {
		entry := monitor.NotificationLogEntry{EventType: event, Channel: t.channel, Recipient: t.recipient, SentAt: d.clock.Now(), Status: monitor.NotificationFailed, ErrorMessage: "no such channel"}
		_ = d.repo.AppendNotification(ctx, alertID, entry)
		metrics.RecordNotification(string(t.channel), string(event), string(monitor.NotificationFailed))
		return fmt.Errorf("no channel configured for %s", t.channel)
	}

	entry := monitor.NotificationLogEntry{EventType: event, Channel: t.channel, Recipient: t.recipient, SentAt: d.clock.Now()}

	if !d.limiter.Allow() {
		entry.Status = monitor.NotificationFailed
		entry.ErrorMessage = "global notification rate limit exceeded"
		if err := d.repo.AppendNotification(ctx, alertID, entry); err != nil {
			d.logger.Error().Err(err).Msg("failed to record rate-limited notification")
		}
		metrics.RecordNotification(string(t.channel), string(event), string(monitor.NotificationFailed))
		return errors.New(entry.ErrorMessage)
	}

	sendErr := sendWithRetry(ctx, func() error { return ch.Send(ctx, t.recipient, msg) })
	if sendErr != nil {
		entry.Status = monitor.NotificationFailed
		entry.ErrorMessage = sendErr.Error()
	} else {
		entry.Status = monitor.NotificationSent
	}
	if err := d.repo.AppendNotification(ctx, alertID, entry); err != nil {
		d.logger.Error().Err(err).Str("alert_id", alertID).Msg("failed to record notification")
	}
	metrics.RecordNotification(string(t.channel), string(event), string(entry.Status))
	return sendErr
}

// CheckEscalationsAndReminders is the periodic half of the notifier: it
// scans non-terminal alerts for the escalation-delay supplement and the
// 24h reminder cadence, neither of which is driven by an evaluator
// transition. Callers (typically cmd/sentryguard's wiring) run this on a
// ticker alongside the scheduler.
func (d *Dispatcher) CheckEscalationsAndReminders(ctx context.Context) error {
	alerts, err := d.repo.ListAlerts(ctx, repository.AlertQuery{Limit: 1000})
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}

	now := d.clock.Now()
	for _, a := range alerts {
		if a.IsTerminal() {
			continue
		}
		m, err := d.repo.GetMonitor(ctx, a.MonitorID)
		if err != nil {
			d.logger.Error().Err(err).Str("monitor_id", a.MonitorID).Msg("escalation check: monitor lookup failed")
			continue
		}

		ns := m.NotificationSettings
		if ns.EnableEscalation && ns.EscalationDelayMinutes > 0 {
			delay := time.Duration(ns.EscalationDelayMinutes) * time.Minute
			if now.Sub(a.TriggeredAt) >= delay {
				if err := d.dispatchEscalation(ctx, m, a); err != nil {
					d.logger.Error().Err(err).Str("alert_id", a.ID).Msg("escalation supplement failed")
				}
			}
		}

		if a.Severity == monitor.AlertSeverityAlarm && now.Sub(a.TriggeredAt) >= reminderWindow {
			if err := d.dispatchReminder(ctx, m, a); err != nil {
				d.logger.Error().Err(err).Str("alert_id", a.ID).Msg("reminder dispatch failed")
			}
		}
	}
	return nil
}

// dispatchEscalation supplements the warning-channel set with the
// alarm-channel set for an alert that has stayed open past
// escalation_delay_minutes, reusing the same dedup tuple as a structural
// warning->alarm escalation so the two never double-send.
func (d *Dispatcher) dispatchEscalation(ctx context.Context, m *monitor.Monitor, a *monitor.Alert) error {
	targets := dedupTargets(append(resolveTargets(m, monitor.AlertSeverityWarning), resolveTargets(m, monitor.AlertSeverityAlarm)...))
	if len(targets) == 0 {
		return nil
	}
	msg, err := render(renderContext{Monitor: m, Alert: a, Event: monitor.EventEscalated, Severity: monitor.AlertSeverityAlarm})
	if err != nil {
		return err
	}
	for _, t := range targets {
		if err := d.dispatchOne(ctx, a.ID, monitor.EventEscalated, t, msg); err != nil {
			d.logger.Warn().Err(err).Str("alert_id", a.ID).Msg("escalation channel send failed")
		}
	}
	return nil
}

// dispatchReminder sends at most one reminder per reminderWindow: unlike
// every other event, a reminder is allowed to recur, so it bypasses the
// (alert, event, channel, recipient) dedup-forever contract and instead
// checks the timestamp of the most recent reminder already on file.
func (d *Dispatcher) dispatchReminder(ctx context.Context, m *monitor.Monitor, a *monitor.Alert) error {
	targets := resolveTargets(m, monitor.AlertSeverityAlarm)
	if len(targets) == 0 {
		return nil
	}

	fresh, err := d.repo.GetAlert(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("reload alert: %w", err)
	}
	var lastReminder *time.Time
	for _, n := range fresh.NotificationsSent {
		if n.EventType != monitor.EventReminder {
			continue
		}
		sentAt := n.SentAt
		if lastReminder == nil || sentAt.After(*lastReminder) {
			lastReminder = &sentAt
		}
	}
	if lastReminder != nil && d.clock.Now().Sub(*lastReminder) < reminderWindow {
		return nil
	}

	msg, err := render(renderContext{Monitor: m, Alert: a, Event: monitor.EventReminder, Severity: monitor.AlertSeverityAlarm})
	if err != nil {
		return err
	}
	for _, t := range targets {
		entry := monitor.NotificationLogEntry{EventType: monitor.EventReminder, Channel: t.channel, Recipient: t.recipient, SentAt: d.clock.Now()}
		ch, ok := d.channels[t.channel]
		if !ok {
			entry.Status = monitor.NotificationFailed
			entry.ErrorMessage = "no such channel"
		} else if sendErr := sendWithRetry(ctx, func() error { return ch.Send(ctx, t.recipient, msg) }); sendErr != nil {
			entry.Status = monitor.NotificationFailed
			entry.ErrorMessage = sendErr.Error()
		} else {
			entry.Status = monitor.NotificationSent
		}
		if err := d.repo.AppendNotification(ctx, a.ID, entry); err != nil {
			d.logger.Error().Err(err).Str("alert_id", a.ID).Msg("failed to record reminder notification")
		}
		metrics.RecordNotification(string(t.channel), string(monitor.EventReminder), string(entry.Status))
	}
	return nil
}

// resolveTargets picks channels for every recipient in the monitor's
// alarming_candidate list, falling back to the monitor-wide default
// channel set for the given severity when a contact has no explicit
// per-severity preference.
func resolveTargets(m *monitor.Monitor, severity monitor.AlertSeverity) []target {
	var targets []target
	for _, contact := range m.AlarmingCandidate {
		channels := contact.Channels[severity]
		if len(channels) == 0 {
			channels = defaultChannels(m, severity)
		}
		for _, ch := range channels {
			recipient := recipientFor(contact, ch)
			if recipient == "" {
				continue
			}
			targets = append(targets, target{channel: ch, recipient: recipient})
		}
	}
	return targets
}

func defaultChannels(m *monitor.Monitor, severity monitor.AlertSeverity) []monitor.ChannelType {
	if severity == monitor.AlertSeverityAlarm {
		return m.NotificationSettings.AlarmChannels
	}
	return m.NotificationSettings.WarningChannels
}

// recipientFor maps a contact to the address a given channel type sends
// to. Slack and webhook channels are process-wide sinks, not per-contact
// addresses, so every contact that selects them resolves to the same
// literal recipient; dedupTargets collapses the duplicates.
func recipientFor(c monitor.Contact, ch monitor.ChannelType) string {
	switch ch {
	case monitor.ChannelEmail:
		return c.Email
	case monitor.ChannelSMS, monitor.ChannelCall:
		return c.Mobile
	case monitor.ChannelSlack, monitor.ChannelWebhook:
		return "default"
	default:
		return ""
	}
}

func dedupTargets(in []target) []target {
	seen := make(map[target]bool, len(in))
	out := make([]target, 0, len(in))
	for _, t := range in {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
