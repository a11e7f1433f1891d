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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)

	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 16, cfg.Scheduler.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ShutdownGrace)

	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "sentryguard.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, 5432, cfg.Storage.PostgreSQL.Port)
	assert.Equal(t, "require", cfg.Storage.PostgreSQL.SSLMode)
	assert.Equal(t, 3306, cfg.Storage.MySQL.Port)

	assert.Equal(t, 60*time.Second, cfg.Recovery.Timeout)
	assert.Equal(t, 3, cfg.Recovery.MaxAttempts)
	assert.Equal(t, 100, cfg.Recovery.MaxAlertsPerHour)

	assert.Equal(t, 50, cfg.Alerting.MaxAlertsPerMinute)
	assert.Equal(t, ":8080", cfg.API.BindAddress)
}

func TestLoad_DefaultValues(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "", cfg.ConfigFileUsed())
}

func TestLoad_YAMLFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
log-level: debug
scheduler:
  tick-interval: 10s
  concurrency: 4
  shutdown-grace: 5s
storage:
  type: postgres
  postgres:
    host: localhost
    port: 5432
    database: sentryguard
    username: user
    password: secret
    ssl-mode: disable
recovery:
  timeout: 30s
  max-attempts: 5
  max-per-hour: 200
alerting:
  smtp-host: smtp.example.com
  smtp-port: 587
  max-alerts-per-minute: 20
api:
  bind-address: ":9090"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Set("config", configPath))

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.ShutdownGrace)

	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "localhost", cfg.Storage.PostgreSQL.Host)
	assert.Equal(t, "sentryguard", cfg.Storage.PostgreSQL.Database)
	assert.Equal(t, "secret", cfg.Storage.PostgreSQL.Password)
	assert.Equal(t, "disable", cfg.Storage.PostgreSQL.SSLMode)

	assert.Equal(t, 30*time.Second, cfg.Recovery.Timeout)
	assert.Equal(t, 5, cfg.Recovery.MaxAttempts)
	assert.Equal(t, 200, cfg.Recovery.MaxAlertsPerHour)

	assert.Equal(t, "smtp.example.com", cfg.Alerting.SMTPHost)
	assert.Equal(t, 587, cfg.Alerting.SMTPPort)
	assert.Equal(t, 20, cfg.Alerting.MaxAlertsPerMinute)

	assert.Equal(t, ":9090", cfg.API.BindAddress)
	assert.Equal(t, configPath, cfg.ConfigFileUsed())
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidYAML := `
log-level: debug
storage:
  type: [invalid yaml
    - missing bracket
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Set("config", configPath))

	_, err := Load(flags)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_NonExistentConfigFile(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Set("config", "/nonexistent/path/config.yaml"))

	_, err := Load(flags)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_FlagsOverrideYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
log-level: info
storage:
  type: sqlite
api:
  bind-address: ":8080"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Set("config", configPath))
	require.NoError(t, flags.Set("log-level", "debug"))
	require.NoError(t, flags.Set("api.bind-address", ":9999"))
	require.NoError(t, flags.Set("storage.type", "postgres"))

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9999", cfg.API.BindAddress)
	assert.Equal(t, "postgres", cfg.Storage.Type)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("SENTRYGUARD_LOG_LEVEL", "warn")
	t.Setenv("SENTRYGUARD_STORAGE_TYPE", "postgres")
	t.Setenv("SENTRYGUARD_STORAGE_POSTGRES_HOST", "pg.example.com")
	t.Setenv("SENTRYGUARD_RECOVERY_MAX_ATTEMPTS", "7")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "pg.example.com", cfg.Storage.PostgreSQL.Host)
	assert.Equal(t, 7, cfg.Recovery.MaxAttempts)
}

func TestLoad_EnvironmentOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
log-level: info
storage:
  type: sqlite
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0600))

	t.Setenv("SENTRYGUARD_LOG_LEVEL", "error")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Set("config", configPath))

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
}

func TestLoad_StorageTypes(t *testing.T) {
	for _, storageType := range []string{"sqlite", "postgres", "mysql"} {
		t.Run(storageType, func(t *testing.T) {
			flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
			BindFlags(flags)
			require.NoError(t, flags.Set("storage.type", storageType))

			cfg, err := Load(flags)
			require.NoError(t, err)
			assert.Equal(t, storageType, cfg.Storage.Type)
		})
	}
}

func TestConfigFileUsed(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sentryguard.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("log-level: debug"), 0600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Set("config", configPath))

	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, configPath, cfg.ConfigFileUsed())
}

func TestConfigFileUsed_NoFile(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)

	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, "", cfg.ConfigFileUsed())
}

func TestBindFlags_AllFlagsRegistered(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)

	expectedFlags := []string{
		"config",
		"log-level",
		"scheduler.tick-interval",
		"scheduler.concurrency",
		"scheduler.shutdown-grace",
		"storage.type",
		"storage.sqlite.path",
		"storage.postgres.host",
		"storage.postgres.port",
		"storage.postgres.database",
		"storage.postgres.username",
		"storage.postgres.password",
		"storage.postgres.ssl-mode",
		"storage.mysql.host",
		"storage.mysql.port",
		"storage.mysql.database",
		"storage.mysql.username",
		"storage.mysql.password",
		"recovery.timeout",
		"recovery.max-attempts",
		"recovery.max-per-hour",
		"alerting.smtp-host",
		"alerting.smtp-port",
		"alerting.smtp-username",
		"alerting.smtp-password",
		"alerting.smtp-from",
		"alerting.webhook-url",
		"alerting.slack-webhook-url",
		"alerting.sms-gateway-url",
		"alerting.sms-from",
		"alerting.call-gateway-url",
		"alerting.call-from",
		"alerting.max-alerts-per-minute",
		"api.bind-address",
	}

	for _, flagName := range expectedFlags {
		assert.NotNil(t, flags.Lookup(flagName), "flag %s should be registered", flagName)
	}
}
