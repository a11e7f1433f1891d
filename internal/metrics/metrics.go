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

// Package metrics exposes the engine's Prometheus instrumentation,
// registered against a standalone registry rather than a Kubernetes
// controller-runtime one.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the standalone Prometheus registry served by the control
// plane's /metrics endpoint.
var Registry = prometheus.NewRegistry()

var (
	// SamplesTotal tracks every sample produced by a probe, by monitor and status.
	SamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryguard_samples_total",
			Help: "Total number of probe samples recorded",
		},
		[]string{"monitor", "type", "status"},
	)

	// ProbeDurationSeconds tracks how long a probe took to produce a sample.
	ProbeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentryguard_probe_duration_seconds",
			Help:    "Probe execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"monitor", "type"},
	)

	// AlertsTotal tracks alert lifecycle events.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryguard_alerts_total",
			Help: "Total number of alert lifecycle events",
		},
		[]string{"monitor", "severity", "event"},
	)

	// ActiveAlerts tracks the number of currently non-terminal alerts.
	ActiveAlerts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentryguard_active_alerts",
			Help: "Number of currently active (non-recovered) alerts",
		},
		[]string{"severity"},
	)

	// NotificationsTotal tracks notification deliveries by channel and status.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryguard_notifications_total",
			Help: "Total number of notification deliveries attempted",
		},
		[]string{"channel", "event", "status"},
	)

	// RecoveryAttemptsTotal tracks recovery command executions.
	RecoveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryguard_recovery_attempts_total",
			Help: "Total number of recovery command attempts",
		},
		[]string{"monitor", "status"},
	)

	// SchedulerTicksTotal tracks scheduler tick outcomes.
	SchedulerTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryguard_scheduler_ticks_total",
			Help: "Total number of scheduler ticks, by outcome",
		},
		[]string{"outcome"},
	)

	// BackpressureSkipsTotal tracks due monitors skipped because the
	// scheduler's worker pool was saturated, rather than blocking the
	// tick loop waiting for a slot.
	BackpressureSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryguard_scheduler_backpressure_skips_total",
			Help: "Total number of due monitors skipped because the worker pool was full",
		},
		[]string{"monitor"},
	)
)

func init() {
	Registry.MustRegister(
		SamplesTotal,
		ProbeDurationSeconds,
		AlertsTotal,
		ActiveAlerts,
		NotificationsTotal,
		RecoveryAttemptsTotal,
		SchedulerTicksTotal,
		BackpressureSkipsTotal,
	)
}

// RecordSample records a probe sample.
func RecordSample(monitorName, monitorType, status string, durationSeconds float64) {
	SamplesTotal.WithLabelValues(monitorName, monitorType, status).Inc()
	ProbeDurationSeconds.WithLabelValues(monitorName, monitorType).Observe(durationSeconds)
}

// RecordAlertEvent records one alert lifecycle transition.
func RecordAlertEvent(monitorName, severity, event string) {
	AlertsTotal.WithLabelValues(monitorName, severity, event).Inc()
}

// RecordNotification records one notification delivery attempt.
func RecordNotification(channel, event, status string) {
	NotificationsTotal.WithLabelValues(channel, event, status).Inc()
}

// RecordRecoveryAttempt records one recovery command execution.
func RecordRecoveryAttempt(monitorName, status string) {
	RecoveryAttemptsTotal.WithLabelValues(monitorName, status).Inc()
}

// RecordTick records one scheduler tick outcome ("ok" or "error").
func RecordTick(outcome string) {
	SchedulerTicksTotal.WithLabelValues(outcome).Inc()
}

// RecordBackpressureSkip records one monitor dropped from a tick because
// the scheduler's worker pool had no free slot.
func RecordBackpressureSkip(monitorID string) {
	BackpressureSkipsTotal.WithLabelValues(monitorID).Inc()
}
