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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

// ConnectionPoolConfig tunes the underlying *sql.DB pool; it is a no-op
// for the sqlite dialect.
type ConnectionPoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// GormRepository is the sole Repository implementation, backed by
// gorm.io/gorm against SQLite, PostgreSQL or MySQL. The teacher carried a
// second, parallel raw database/sql implementation (sqlite.go/postgres.go/
// mysql.go) that was never actually wired into its own binary; this
// repository consolidates on the GORM path alone (see DESIGN.md).
type GormRepository struct {
	db      *gorm.DB
	dialect string
}

// NewGormRepository opens a connection for the given dialect ("sqlite",
// "postgres" or "mysql") and dsn.
func NewGormRepository(dialect, dsn string) (*GormRepository, error) {
	return NewGormRepositoryWithPool(dialect, dsn, nil)
}

// NewGormRepositoryWithPool is NewGormRepository with explicit connection
// pool tuning for non-sqlite dialects.
func NewGormRepositoryWithPool(dialect, dsn string, pool *ConnectionPoolConfig) (*GormRepository, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("repository: unsupported dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: open %s: %w", dialect, err)
	}

	if dialect != "sqlite" && dialect != "" && pool != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("repository: underlying sql.DB: %w", err)
		}
		if pool.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
		}
		if pool.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
		}
	}

	return &GormRepository{db: db, dialect: dialect}, nil
}

func (g *GormRepository) Init(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(
		&monitorRecord{},
		&monitorStateRecord{},
		&sampleRecord{},
		&alertRecord{},
	)
}

func (g *GormRepository) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *GormRepository) Health(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (g *GormRepository) GetMonitor(ctx context.Context, id string) (*monitor.Monitor, error) {
	var r monitorRecord
	if err := g.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromMonitorRecord(&r), nil
}

func (g *GormRepository) GetMonitorByName(ctx context.Context, name string) (*monitor.Monitor, error) {
	var r monitorRecord
	if err := g.db.WithContext(ctx).First(&r, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromMonitorRecord(&r), nil
}

func (g *GormRepository) ListMonitors(ctx context.Context) ([]*monitor.Monitor, error) {
	var records []monitorRecord
	if err := g.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]*monitor.Monitor, 0, len(records))
	for i := range records {
		out = append(out, fromMonitorRecord(&records[i]))
	}
	return out, nil
}

// ListDueMonitors returns active+running monitors whose last check time
// (from monitor_states) is absent or at least PeriodMinutes old. The
// period comparison happens in Go, not SQL, since PeriodMinutes lives
// inside the monitor's JSON config column.
func (g *GormRepository) ListDueMonitors(ctx context.Context, now time.Time) ([]*monitor.Monitor, error) {
	var records []monitorRecord
	if err := g.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, err
	}

	states, err := g.statesByMonitorID(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*monitor.Monitor, 0, len(records))
	for i := range records {
		m := fromMonitorRecord(&records[i])
		if !m.Active || !m.Running {
			continue
		}
		st := states[m.ID]
		var lastCheck *time.Time
		if st != nil {
			lastCheck = st.LastCheckTime
		}
		if m.IsDue(now, lastCheck) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *GormRepository) statesByMonitorID(ctx context.Context) (map[string]*monitor.MonitorState, error) {
	var records []monitorStateRecord
	if err := g.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*monitor.MonitorState, len(records))
	for i := range records {
		out[records[i].MonitorID] = fromMonitorStateRecord(&records[i])
	}
	return out, nil
}

func (g *GormRepository) UpsertMonitor(ctx context.Context, m *monitor.Monitor) error {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	r := toMonitorRecord(m)
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(r).Error
}

func (g *GormRepository) GetMonitorState(ctx context.Context, monitorID string) (*monitor.MonitorState, error) {
	var r monitorStateRecord
	if err := g.db.WithContext(ctx).First(&r, "monitor_id = ?", monitorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromMonitorStateRecord(&r), nil
}

func (g *GormRepository) SaveMonitorState(ctx context.Context, s *monitor.MonitorState) error {
	s.UpdatedAt = time.Now()
	r := toMonitorStateRecord(s)
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "monitor_id"}},
		UpdateAll: true,
	}).Create(r).Error
}

func (g *GormRepository) RecordSample(ctx context.Context, s *monitor.Sample) error {
	r := toSampleRecord(s)
	if err := g.db.WithContext(ctx).Create(r).Error; err != nil {
		return err
	}
	s.ID = r.ID
	return nil
}

func (g *GormRepository) LatestSample(ctx context.Context, monitorID string) (*monitor.Sample, error) {
	var r sampleRecord
	err := g.db.WithContext(ctx).
		Where("monitor_id = ?", monitorID).
		Order("timestamp DESC").
		First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromSampleRecord(&r), nil
}

func (g *GormRepository) ListSamples(ctx context.Context, monitorID string, limit int) ([]*monitor.Sample, error) {
	var records []sampleRecord
	q := g.db.WithContext(ctx).Where("monitor_id = ?", monitorID).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]*monitor.Sample, 0, len(records))
	for i := range records {
		out = append(out, fromSampleRecord(&records[i]))
	}
	return out, nil
}

func (g *GormRepository) ActiveAlertByMonitor(ctx context.Context, monitorID string) (*monitor.Alert, error) {
	var r alertRecord
	err := g.db.WithContext(ctx).
		Where("monitor_id = ? AND status != ?", monitorID, string(monitor.AlertStatusRecovered)).
		Order("triggered_at DESC").
		First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromAlertRecord(&r), nil
}

func (g *GormRepository) GetAlert(ctx context.Context, id string) (*monitor.Alert, error) {
	var r alertRecord
	if err := g.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromAlertRecord(&r), nil
}

func (g *GormRepository) SaveAlert(ctx context.Context, a *monitor.Alert) error {
	a.UpdatedAt = time.Now()
	r := toAlertRecord(a)
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(r).Error
}

func (g *GormRepository) ListAlerts(ctx context.Context, q AlertQuery) ([]*monitor.Alert, error) {
	query := g.db.WithContext(ctx).Model(&alertRecord{})
	if q.Status != "" {
		query = query.Where("status = ?", string(q.Status))
	}
	if q.MonitorID != "" {
		query = query.Where("monitor_id = ?", q.MonitorID)
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var records []alertRecord
	if err := query.Order("triggered_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]*monitor.Alert, 0, len(records))
	for i := range records {
		out = append(out, fromAlertRecord(&records[i]))
	}
	return out, nil
}

func (g *GormRepository) AppendRecoveryAttempt(ctx context.Context, alertID string, a monitor.RecoveryAttempt) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r alertRecord
		if err := tx.First(&r, "id = ?", alertID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		attempts := r.RecoveryAttempts.Value
		if a.AttemptNumber != len(attempts)+1 {
			return fmt.Errorf("%w: expected attempt_number %d, got %d", ErrConflict, len(attempts)+1, a.AttemptNumber)
		}
		attempts = append(attempts, a)
		return tx.Model(&alertRecord{}).Where("id = ?", alertID).Updates(map[string]any{
			"recovery_attempts": jsonColumn[[]monitor.RecoveryAttempt]{Value: attempts},
			"updated_at":        time.Now(),
		}).Error
	})
}

func (g *GormRepository) UpdateRecoveryAttempt(ctx context.Context, alertID string, attemptNumber int, a monitor.RecoveryAttempt) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r alertRecord
		if err := tx.First(&r, "id = ?", alertID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		attempts := r.RecoveryAttempts.Value
		idx := attemptNumber - 1
		if idx < 0 || idx >= len(attempts) {
			return fmt.Errorf("%w: no attempt %d", ErrNotFound, attemptNumber)
		}
		attempts[idx] = a
		return tx.Model(&alertRecord{}).Where("id = ?", alertID).Updates(map[string]any{
			"recovery_attempts": jsonColumn[[]monitor.RecoveryAttempt]{Value: attempts},
			"updated_at":        time.Now(),
		}).Error
	})
}

func (g *GormRepository) AppendNotification(ctx context.Context, alertID string, n monitor.NotificationLogEntry) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r alertRecord
		if err := tx.First(&r, "id = ?", alertID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		entries := append(r.NotificationsSent.Value, n)
		return tx.Model(&alertRecord{}).Where("id = ?", alertID).Updates(map[string]any{
			"notifications_sent": jsonColumn[[]monitor.NotificationLogEntry]{Value: entries},
			"updated_at":         time.Now(),
		}).Error
	})
}

func (g *GormRepository) HasNotification(ctx context.Context, alertID string, eventType monitor.EventType, channel monitor.ChannelType, recipient string) (bool, error) {
	var r alertRecord
	if err := g.db.WithContext(ctx).First(&r, "id = ?", alertID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, n := range r.NotificationsSent.Value {
		if n.EventType == eventType && n.Channel == channel && n.Recipient == recipient {
			return true, nil
		}
	}
	return false, nil
}
