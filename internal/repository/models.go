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

package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

// jsonColumn is a generic sql.Scanner/driver.Valuer for embedding a slice
// or struct as a JSON text column, the same pattern the teacher uses for
// its simpler comma-separated ChannelsNotified helper, generalized to
// arbitrary JSON since alerts embed nested structs (recovery_attempts,
// notifications_sent), not just string lists.
type jsonColumn[T any] struct {
	Value T
}

func (j *jsonColumn[T]) Scan(src any) error {
	if src == nil {
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("jsonColumn: unsupported scan type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, &j.Value)
}

func (j jsonColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.Value)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// monitorRecord is the GORM-mapped mirror of monitor.Monitor. Config is
// stored as a single JSON blob since the type-specific sub-config is a
// tagged variant keyed by Type (spec.md's "dynamic config shapes" note) -
// the same pointer-gated-by-discriminator shape the teacher's CRD types
// use, minus the CRD machinery.
type monitorRecord struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	Type      string `gorm:"not null"`
	Config    jsonColumn[monitor.Monitor] `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (monitorRecord) TableName() string { return "monitors" }

func fromMonitorRecord(r *monitorRecord) *monitor.Monitor {
	m := r.Config.Value
	m.ID = r.ID
	m.Name = r.Name
	m.Type = monitor.Type(r.Type)
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt
	return &m
}

func toMonitorRecord(m *monitor.Monitor) *monitorRecord {
	return &monitorRecord{
		ID:     m.ID,
		Name:   m.Name,
		Type:   string(m.Type),
		Config: jsonColumn[monitor.Monitor]{Value: *m},
	}
}

// monitorStateRecord is the GORM-mapped mirror of monitor.MonitorState.
type monitorStateRecord struct {
	MonitorID            string `gorm:"primaryKey"`
	CurrentStatus        string
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheckTime        *time.Time
	LastValue            *float64
	LastError            string
	ActiveAlertID        string
	RecoveryInProgress   bool
	RecoveryAttemptCount int
	LastRecoveryAttempt  *time.Time
	UpdatedAt            time.Time `gorm:"index"`
}

func (monitorStateRecord) TableName() string { return "monitor_states" }

func fromMonitorStateRecord(r *monitorStateRecord) *monitor.MonitorState {
	return &monitor.MonitorState{
		MonitorID:            r.MonitorID,
		CurrentStatus:        monitor.Status(r.CurrentStatus),
		ConsecutiveFailures:  r.ConsecutiveFailures,
		ConsecutiveSuccesses: r.ConsecutiveSuccesses,
		LastCheckTime:        r.LastCheckTime,
		LastValue:            r.LastValue,
		LastError:            r.LastError,
		ActiveAlertID:        r.ActiveAlertID,
		RecoveryInProgress:   r.RecoveryInProgress,
		RecoveryAttemptCount: r.RecoveryAttemptCount,
		LastRecoveryAttempt:  r.LastRecoveryAttempt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func toMonitorStateRecord(s *monitor.MonitorState) *monitorStateRecord {
	return &monitorStateRecord{
		MonitorID:            s.MonitorID,
		CurrentStatus:        string(s.CurrentStatus),
		ConsecutiveFailures:  s.ConsecutiveFailures,
		ConsecutiveSuccesses: s.ConsecutiveSuccesses,
		LastCheckTime:        s.LastCheckTime,
		LastValue:            s.LastValue,
		LastError:            s.LastError,
		ActiveAlertID:        s.ActiveAlertID,
		RecoveryInProgress:   s.RecoveryInProgress,
		RecoveryAttemptCount: s.RecoveryAttemptCount,
		LastRecoveryAttempt:  s.LastRecoveryAttempt,
		UpdatedAt:            s.UpdatedAt,
	}
}

// sampleRecord is the GORM-mapped mirror of monitor.Sample; append-only.
type sampleRecord struct {
	ID             int64 `gorm:"primaryKey;autoIncrement"`
	MonitorID      string `gorm:"index:idx_monitor_time,priority:1;not null"`
	Timestamp      time.Time `gorm:"index:idx_monitor_time,priority:2"`
	Value          *float64
	Status         string
	ResponseTimeMS int64
	Metadata       jsonColumn[monitor.SampleMetadata] `gorm:"type:text"`
	ErrorMessage   string
}

func (sampleRecord) TableName() string { return "metrics" }

func fromSampleRecord(r *sampleRecord) *monitor.Sample {
	return &monitor.Sample{
		ID:             r.ID,
		MonitorID:      r.MonitorID,
		Timestamp:      r.Timestamp,
		Value:          r.Value,
		Status:         monitor.Status(r.Status),
		ResponseTimeMS: r.ResponseTimeMS,
		Metadata:       r.Metadata.Value,
		ErrorMessage:   r.ErrorMessage,
	}
}

func toSampleRecord(s *monitor.Sample) *sampleRecord {
	return &sampleRecord{
		MonitorID:      s.MonitorID,
		Timestamp:      s.Timestamp,
		Value:          s.Value,
		Status:         string(s.Status),
		ResponseTimeMS: s.ResponseTimeMS,
		Metadata:       jsonColumn[monitor.SampleMetadata]{Value: s.Metadata},
		ErrorMessage:   s.ErrorMessage,
	}
}

// alertRecord is the GORM-mapped mirror of monitor.Alert, with
// recovery_attempts and notifications_sent embedded as JSON columns -
// both are small, bounded-length ordered lists scoped to a single alert,
// so a join table buys nothing a teacher-style comma-joined column
// wouldn't already provide at this scale.
type alertRecord struct {
	ID          string `gorm:"primaryKey"`
	MonitorID   string `gorm:"index:idx_alert_monitor_status,priority:1;not null"`
	MonitorName string
	Severity    string
	LegacySeverity string
	Status      string `gorm:"index:idx_alert_monitor_status,priority:2"`

	TriggeredAt      time.Time `gorm:"index"`
	AcknowledgedAt   *time.Time
	AcknowledgedBy   string
	AcknowledgedNote string
	RecoveredAt      *time.Time

	CurrentValue        *float64
	ThresholdValue      *float64
	ConsecutiveFailures int
	Message             string
	Metadata             jsonColumn[monitor.SampleMetadata] `gorm:"type:text"`

	RecoveryAttempts  jsonColumn[[]monitor.RecoveryAttempt]      `gorm:"type:text"`
	NotificationsSent jsonColumn[[]monitor.NotificationLogEntry] `gorm:"type:text"`

	UpdatedAt time.Time
}

func (alertRecord) TableName() string { return "alerts" }

func fromAlertRecord(r *alertRecord) *monitor.Alert {
	return &monitor.Alert{
		ID:                  r.ID,
		MonitorID:           r.MonitorID,
		MonitorName:         r.MonitorName,
		Severity:            monitor.AlertSeverity(r.Severity),
		LegacySeverity:      monitor.Severity(r.LegacySeverity),
		Status:              monitor.AlertStatus(r.Status),
		TriggeredAt:         r.TriggeredAt,
		AcknowledgedAt:      r.AcknowledgedAt,
		AcknowledgedBy:      r.AcknowledgedBy,
		AcknowledgedNote:    r.AcknowledgedNote,
		RecoveredAt:         r.RecoveredAt,
		CurrentValue:        r.CurrentValue,
		ThresholdValue:      r.ThresholdValue,
		ConsecutiveFailures: r.ConsecutiveFailures,
		Message:             r.Message,
		Metadata:            r.Metadata.Value,
		RecoveryAttempts:    r.RecoveryAttempts.Value,
		NotificationsSent:   r.NotificationsSent.Value,
		UpdatedAt:           r.UpdatedAt,
	}
}

func toAlertRecord(a *monitor.Alert) *alertRecord {
	return &alertRecord{
		ID:                  a.ID,
		MonitorID:           a.MonitorID,
		MonitorName:         a.MonitorName,
		Severity:            string(a.Severity),
		LegacySeverity:      string(a.LegacySeverity),
		Status:              string(a.Status),
		TriggeredAt:         a.TriggeredAt,
		AcknowledgedAt:      a.AcknowledgedAt,
		AcknowledgedBy:      a.AcknowledgedBy,
		AcknowledgedNote:    a.AcknowledgedNote,
		RecoveredAt:         a.RecoveredAt,
		CurrentValue:        a.CurrentValue,
		ThresholdValue:      a.ThresholdValue,
		ConsecutiveFailures: a.ConsecutiveFailures,
		Message:             a.Message,
		Metadata:            jsonColumn[monitor.SampleMetadata]{Value: a.Metadata},
		RecoveryAttempts:    jsonColumn[[]monitor.RecoveryAttempt]{Value: a.RecoveryAttempts},
		NotificationsSent:   jsonColumn[[]monitor.NotificationLogEntry]{Value: a.NotificationsSent},
		UpdatedAt:           a.UpdatedAt,
	}
}
