package alerting

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sentryguard/sentryguard/internal/monitor"
	"github.com/sentryguard/sentryguard/internal/repository"
)

func newTestRepo(t *testing.T) *repository.GormRepository {
	repo, err := repository.NewGormRepository("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, repo.Init(context.Background()))
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestDispatchWebhookDedup(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := newTestRepo(t)
	ctx := context.Background()

	m := &monitor.Monitor{
		ID: "m1", Name: "svc",
		AlarmingCandidate:    monitor.ContactList{{Email: "a@b.com"}},
		NotificationSettings: monitor.NotificationSettings{AlarmChannels: []monitor.ChannelType{monitor.ChannelWebhook}},
	}
	require.NoError(t, repo.UpsertMonitor(ctx, m))
	alert := &monitor.Alert{ID: "a1", MonitorID: m.ID, MonitorName: m.Name, Severity: monitor.AlertSeverityAlarm, Status: monitor.AlertStatusActive, TriggeredAt: time.Now(), Message: "down"}
	require.NoError(t, repo.SaveAlert(ctx, alert))

	d := New(repo, Config{WebhookURL: srv.URL}, zerolog.Nop())

	require.NoError(t, d.Dispatch(ctx, m, alert, monitor.EventTriggered))
	require.Equal(t, 1, hits)

	// Second dispatch for the same (alert, event, channel, recipient)
	// tuple must not re-deliver.
	require.NoError(t, d.Dispatch(ctx, m, alert, monitor.EventTriggered))
	require.Equal(t, 1, hits)

	got, err := repo.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, got.NotificationsSent, 1)
	require.Equal(t, monitor.NotificationSent, got.NotificationsSent[0].Status)
}

func TestDispatchRetriesOnFailureThenSucceeds(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := newTestRepo(t)
	ctx := context.Background()

	m := &monitor.Monitor{
		ID: "m2", Name: "svc",
		AlarmingCandidate:    monitor.ContactList{{Email: "a@b.com"}},
		NotificationSettings: monitor.NotificationSettings{AlarmChannels: []monitor.ChannelType{monitor.ChannelWebhook}},
	}
	require.NoError(t, repo.UpsertMonitor(ctx, m))
	alert := &monitor.Alert{ID: "a2", MonitorID: m.ID, MonitorName: m.Name, Severity: monitor.AlertSeverityAlarm, Status: monitor.AlertStatusActive, TriggeredAt: time.Now()}
	require.NoError(t, repo.SaveAlert(ctx, alert))

	d := New(repo, Config{WebhookURL: srv.URL}, zerolog.Nop())
	require.NoError(t, d.Dispatch(ctx, m, alert, monitor.EventTriggered))
	require.Equal(t, 2, hits)

	got, err := repo.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.Equal(t, monitor.NotificationSent, got.NotificationsSent[0].Status)
}

func TestDispatchNoChannelsConfiguredIsNoop(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m := &monitor.Monitor{ID: "m3", Name: "svc"}
	require.NoError(t, repo.UpsertMonitor(ctx, m))
	alert := &monitor.Alert{ID: "a3", MonitorID: m.ID, MonitorName: m.Name, Severity: monitor.AlertSeverityAlarm, Status: monitor.AlertStatusActive, TriggeredAt: time.Now()}
	require.NoError(t, repo.SaveAlert(ctx, alert))

	d := New(repo, Config{}, zerolog.Nop())
	require.NoError(t, d.Dispatch(ctx, m, alert, monitor.EventTriggered))

	got, err := repo.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.Empty(t, got.NotificationsSent)
}

func TestResolveTargetsDedupsSlackAcrossContacts(t *testing.T) {
	m := &monitor.Monitor{
		AlarmingCandidate: monitor.ContactList{
			{Email: "a@b.com", Channels: map[monitor.AlertSeverity][]monitor.ChannelType{monitor.AlertSeverityAlarm: {monitor.ChannelSlack}}},
			{Email: "c@d.com", Channels: map[monitor.AlertSeverity][]monitor.ChannelType{monitor.AlertSeverityAlarm: {monitor.ChannelSlack}}},
		},
	}
	targets := dedupTargets(resolveTargets(m, monitor.AlertSeverityAlarm))
	require.Len(t, targets, 1)
	require.Equal(t, monitor.ChannelSlack, targets[0].channel)
}

func TestDispatchReminderAtMostOncePerWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := &monitor.Monitor{
		ID: "m4", Name: "svc",
		AlarmingCandidate:    monitor.ContactList{{Email: "a@b.com"}},
		NotificationSettings: monitor.NotificationSettings{AlarmChannels: []monitor.ChannelType{monitor.ChannelWebhook}},
	}
	require.NoError(t, repo.UpsertMonitor(ctx, m))
	alert := &monitor.Alert{ID: "a4", MonitorID: m.ID, MonitorName: m.Name, Severity: monitor.AlertSeverityAlarm, Status: monitor.AlertStatusActive, TriggeredAt: time.Now().Add(-25 * time.Hour)}
	require.NoError(t, repo.SaveAlert(ctx, alert))

	d := New(repo, Config{WebhookURL: srv.URL}, zerolog.Nop())
	require.NoError(t, d.CheckEscalationsAndReminders(ctx))
	require.Equal(t, 1, hits)

	// Running again immediately must not re-send within the window.
	require.NoError(t, d.CheckEscalationsAndReminders(ctx))
	require.Equal(t, 1, hits)
}
