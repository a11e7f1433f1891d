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

// Package repository abstracts the durable store backing monitors,
// monitor states, samples and alerts. Implementations exist for SQLite,
// PostgreSQL and MySQL over a single GORM-based engine.
package repository

import (
	"context"
	"time"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

// AlertQuery filters the alert list endpoint.
type AlertQuery struct {
	Status    monitor.AlertStatus
	MonitorID string
	Limit     int
}

// Repository is the durable store abstraction used by every other
// component. All entity kinds from the data model are covered, plus the
// aggregation operations the scheduler, evaluator and notifier need.
type Repository interface {
	Init(ctx context.Context) error
	Close() error
	Health(ctx context.Context) error

	// Monitors
	GetMonitor(ctx context.Context, id string) (*monitor.Monitor, error)
	GetMonitorByName(ctx context.Context, name string) (*monitor.Monitor, error)
	ListMonitors(ctx context.Context) ([]*monitor.Monitor, error)
	ListDueMonitors(ctx context.Context, now time.Time) ([]*monitor.Monitor, error)
	UpsertMonitor(ctx context.Context, m *monitor.Monitor) error

	// Monitor state
	GetMonitorState(ctx context.Context, monitorID string) (*monitor.MonitorState, error)
	SaveMonitorState(ctx context.Context, s *monitor.MonitorState) error

	// Samples
	RecordSample(ctx context.Context, s *monitor.Sample) error
	LatestSample(ctx context.Context, monitorID string) (*monitor.Sample, error)
	ListSamples(ctx context.Context, monitorID string, limit int) ([]*monitor.Sample, error)

	// Alerts
	ActiveAlertByMonitor(ctx context.Context, monitorID string) (*monitor.Alert, error)
	GetAlert(ctx context.Context, id string) (*monitor.Alert, error)
	SaveAlert(ctx context.Context, a *monitor.Alert) error
	ListAlerts(ctx context.Context, q AlertQuery) ([]*monitor.Alert, error)

	// Recovery attempts
	AppendRecoveryAttempt(ctx context.Context, alertID string, a monitor.RecoveryAttempt) error
	UpdateRecoveryAttempt(ctx context.Context, alertID string, attemptNumber int, a monitor.RecoveryAttempt) error

	// Notifications
	AppendNotification(ctx context.Context, alertID string, n monitor.NotificationLogEntry) error
	HasNotification(ctx context.Context, alertID string, eventType monitor.EventType, channel monitor.ChannelType, recipient string) (bool, error)
}
