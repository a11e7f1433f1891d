package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sentryguard/sentryguard/internal/monitor"
	"github.com/sentryguard/sentryguard/internal/repository"
)

// awaitAttempt polls until the alert's first recovery attempt has a
// completed_at, since TriggerRecovery runs the command asynchronously.
func awaitAttempt(t *testing.T, repo repository.Repository, alertID string) *monitor.Alert {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := repo.GetAlert(context.Background(), alertID)
		require.NoError(t, err)
		if len(got.RecoveryAttempts) > 0 && got.RecoveryAttempts[0].CompletedAt != nil {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("recovery attempt did not complete in time")
	return nil
}

func newTestRepo(t *testing.T) *repository.GormRepository {
	repo, err := repository.NewGormRepository("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, repo.Init(context.Background()))
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newAlert(t *testing.T, repo repository.Repository, monitorID string) *monitor.Alert {
	a := &monitor.Alert{ID: "a1", MonitorID: monitorID, MonitorName: "m", Severity: monitor.AlertSeverityAlarm, Status: monitor.AlertStatusActive, TriggeredAt: time.Now()}
	require.NoError(t, repo.SaveAlert(context.Background(), a))
	return a
}

func TestTriggerRecoverySuccess(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m := &monitor.Monitor{ID: "m1", Name: "svc", RecoveryAction: "exit 0"}
	require.NoError(t, repo.UpsertMonitor(ctx, m))
	alert := newAlert(t, repo, m.ID)

	exec := New(repo, zerolog.Nop(), WithTimeout(5*time.Second))
	n, err := exec.TriggerRecovery(ctx, m, alert)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got := awaitAttempt(t, repo, alert.ID)
	require.Len(t, got.RecoveryAttempts, 1)
	require.Equal(t, monitor.RecoveryAttemptSuccess, got.RecoveryAttempts[0].Status)
}

func TestTriggerRecoveryFailureRecordsLogs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m := &monitor.Monitor{ID: "m2", Name: "svc", RecoveryAction: "echo boom >&2; exit 1"}
	require.NoError(t, repo.UpsertMonitor(ctx, m))
	alert := newAlert(t, repo, m.ID)

	exec := New(repo, zerolog.Nop(), WithTimeout(5*time.Second))
	_, err := exec.TriggerRecovery(ctx, m, alert)
	require.NoError(t, err)

	got := awaitAttempt(t, repo, alert.ID)
	require.Len(t, got.RecoveryAttempts, 1)
	require.Equal(t, monitor.RecoveryAttemptFailed, got.RecoveryAttempts[0].Status)
	require.Contains(t, got.RecoveryAttempts[0].Logs, "boom")
}

func TestTriggerRecoveryExhausted(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m := &monitor.Monitor{ID: "m3", Name: "svc", RecoveryAction: "exit 0"}
	require.NoError(t, repo.UpsertMonitor(ctx, m))
	alert := &monitor.Alert{
		ID: "a3", MonitorID: m.ID, MonitorName: m.Name, Status: monitor.AlertStatusActive,
		RecoveryAttempts: []monitor.RecoveryAttempt{
			{AttemptNumber: 1, Status: monitor.RecoveryAttemptFailed},
			{AttemptNumber: 2, Status: monitor.RecoveryAttemptFailed},
			{AttemptNumber: 3, Status: monitor.RecoveryAttemptFailed},
		},
	}
	require.NoError(t, repo.SaveAlert(ctx, alert))

	exec := New(repo, zerolog.Nop())
	_, err := exec.TriggerRecovery(ctx, m, alert)
	require.ErrorIs(t, err, ErrRecoveryExhausted)
}

func TestTriggerRecoveryNoAction(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m := &monitor.Monitor{ID: "m4", Name: "svc"}
	require.NoError(t, repo.UpsertMonitor(ctx, m))
	alert := newAlert(t, repo, m.ID)

	exec := New(repo, zerolog.Nop())
	_, err := exec.TriggerRecovery(ctx, m, alert)
	require.ErrorIs(t, err, ErrNoRecoveryAction)
}

func TestTriggerRecoveryTimeout(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m := &monitor.Monitor{ID: "m5", Name: "svc", RecoveryAction: "sleep 2"}
	require.NoError(t, repo.UpsertMonitor(ctx, m))
	alert := newAlert(t, repo, m.ID)

	exec := New(repo, zerolog.Nop(), WithTimeout(50*time.Millisecond))
	_, err := exec.TriggerRecovery(ctx, m, alert)
	require.NoError(t, err)

	got := awaitAttempt(t, repo, alert.ID)
	require.Equal(t, monitor.RecoveryAttemptFailed, got.RecoveryAttempts[0].Status)
	require.Contains(t, got.RecoveryAttempts[0].ErrorMessage, "timed out")
}

func TestTriggerRecoveryMaintenanceWindowSuppressed(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m := &monitor.Monitor{
		ID: "m6", Name: "svc", RecoveryAction: "exit 0",
		MaintenanceWindows: []monitor.MaintenanceWindow{{Name: "always", Schedule: "0 0 * * *", Duration: 24 * time.Hour, Timezone: "UTC"}},
	}
	require.NoError(t, repo.UpsertMonitor(ctx, m))
	alert := newAlert(t, repo, m.ID)

	exec := New(repo, zerolog.Nop())
	_, err := exec.TriggerRecovery(ctx, m, alert)
	require.Error(t, err)

	got, err := repo.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.Empty(t, got.RecoveryAttempts)
}
