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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/sentryguard/sentryguard/internal/alerting"
	"github.com/sentryguard/sentryguard/internal/api"
	"github.com/sentryguard/sentryguard/internal/config"
	"github.com/sentryguard/sentryguard/internal/evaluator"
	"github.com/sentryguard/sentryguard/internal/probe"
	"github.com/sentryguard/sentryguard/internal/recovery"
	"github.com/sentryguard/sentryguard/internal/repository"
	"github.com/sentryguard/sentryguard/internal/scheduler"
)

func main() {
	flags := pflag.NewFlagSet("sentryguard", pflag.ExitOnError)
	config.BindFlags(flags)

	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "failed to parse flags:", err)
		os.Exit(1)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	if cfg.ConfigFileUsed() != "" {
		logger.Info().Str("file", cfg.ConfigFileUsed()).Str("level", cfg.LogLevel).Msg("configuration loaded")
	} else {
		logger.Info().Str("level", cfg.LogLevel).Msg("no config file found, using defaults and flags")
	}

	repo, err := repository.New(repository.StorageConfig{Type: cfg.Storage.Type, DSN: storageDSN(cfg)})
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to open repository")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := repo.Init(ctx); err != nil {
		logger.Fatal().Err(err).Msg("unable to initialize repository")
	}
	defer func() { _ = repo.Close() }()
	logger.Info().Str("type", cfg.Storage.Type).Msg("repository initialized")

	probes := probe.NewRegistry()

	dispatcher := alerting.New(repo, alerting.Config{
		SMTP: alerting.SMTPConfig{
			Host:     cfg.Alerting.SMTPHost,
			Port:     strconv.Itoa(cfg.Alerting.SMTPPort),
			Username: cfg.Alerting.SMTPUsername,
			Password: cfg.Alerting.SMTPPassword,
			From:     cfg.Alerting.SMTPFrom,
		},
		WebhookURL:         cfg.Alerting.WebhookURL,
		SlackWebhookURL:    cfg.Alerting.SlackWebhookURL,
		SMSGatewayURL:      cfg.Alerting.SMSGatewayURL,
		SMSFrom:            cfg.Alerting.SMSFrom,
		CallGatewayURL:     cfg.Alerting.CallGatewayURL,
		CallFrom:           cfg.Alerting.CallFrom,
		MaxAlertsPerMinute: cfg.Alerting.MaxAlertsPerMinute,
	}, logger)

	eval := evaluator.New(repo, probes, dispatcher, logger)

	sched := scheduler.New(repo, eval, logger,
		scheduler.WithTickInterval(cfg.Scheduler.TickInterval),
		scheduler.WithConcurrency(cfg.Scheduler.Concurrency),
		scheduler.WithShutdownGrace(cfg.Scheduler.ShutdownGrace),
	)

	recoverer := recovery.New(repo, logger,
		recovery.WithTimeout(cfg.Recovery.Timeout),
		recovery.WithMaxAttempts(cfg.Recovery.MaxAttempts),
		recovery.WithRateLimit(float64(cfg.Recovery.MaxAlertsPerHour)/float64(time.Hour/time.Second), 10),
	)

	server := api.New(api.Options{
		Addr:      cfg.API.BindAddress,
		Repo:      repo,
		Scheduler: sched,
		Recoverer: recoverer,
		Logger:    logger,
	})

	if err := sched.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("unable to start scheduler")
	}

	go runReminderLoop(ctx, dispatcher, logger)

	logger.Info().Msg("sentryguard started")
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("control plane exited with error")
	}

	sched.Stop()
	logger.Info().Msg("sentryguard stopped")
}

// runReminderLoop periodically checks for time-based escalations and
// recurring reminders on long-active alerts, independent of the
// scheduler's own per-monitor tick.
func runReminderLoop(ctx context.Context, d *alerting.Dispatcher, logger zerolog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.CheckEscalationsAndReminders(ctx); err != nil {
				logger.Error().Err(err).Msg("escalation/reminder check failed")
			}
		}
	}
}

func storageDSN(cfg *config.Config) string {
	switch cfg.Storage.Type {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Storage.PostgreSQL.Host, cfg.Storage.PostgreSQL.Port,
			cfg.Storage.PostgreSQL.Username, cfg.Storage.PostgreSQL.Password,
			cfg.Storage.PostgreSQL.Database, cfg.Storage.PostgreSQL.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			cfg.Storage.MySQL.Username, cfg.Storage.MySQL.Password,
			cfg.Storage.MySQL.Host, cfg.Storage.MySQL.Port,
			cfg.Storage.MySQL.Database)
	default:
		return cfg.Storage.SQLite.Path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
}
