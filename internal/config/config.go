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

// Package config loads process configuration from flags, environment
// variables and an optional file, the same layered precedence the
// teacher's operator used for its own boot-time settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the sentryguard process.
type Config struct {
	configFileUsed string

	LogLevel string `mapstructure:"log-level"`

	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	API       APIConfig       `mapstructure:"api"`
}

// SchedulerConfig configures the tick loop and its worker pool.
type SchedulerConfig struct {
	TickInterval  time.Duration `mapstructure:"tick-interval"`
	Concurrency   int           `mapstructure:"concurrency"`
	ShutdownGrace time.Duration `mapstructure:"shutdown-grace"`
}

// StorageConfig configures the durable repository backend.
type StorageConfig struct {
	Type       string           `mapstructure:"type"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	PostgreSQL PostgreSQLConfig `mapstructure:"postgres"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
}

// SQLiteConfig configures SQLite storage.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgreSQLConfig configures PostgreSQL storage.
type PostgreSQLConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password" json:"-"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

// MySQLConfig configures MySQL/MariaDB storage.
type MySQLConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password" json:"-"`
}

// RecoveryConfig configures the recovery executor.
type RecoveryConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxAttempts        int           `mapstructure:"max-attempts"`
	MaxAlertsPerHour   int           `mapstructure:"max-per-hour"`
}

// AlertingConfig configures the notification dispatcher's channels.
type AlertingConfig struct {
	SMTPHost           string `mapstructure:"smtp-host"`
	SMTPPort           int    `mapstructure:"smtp-port"`
	SMTPUsername       string `mapstructure:"smtp-username"`
	SMTPPassword       string `mapstructure:"smtp-password" json:"-"`
	SMTPFrom           string `mapstructure:"smtp-from"`
	WebhookURL         string `mapstructure:"webhook-url"`
	SlackWebhookURL    string `mapstructure:"slack-webhook-url"`
	SMSGatewayURL      string `mapstructure:"sms-gateway-url"`
	SMSFrom            string `mapstructure:"sms-from"`
	CallGatewayURL     string `mapstructure:"call-gateway-url"`
	CallFrom           string `mapstructure:"call-from"`
	MaxAlertsPerMinute int    `mapstructure:"max-alerts-per-minute"`
}

// APIConfig configures the local control-plane HTTP server.
type APIConfig struct {
	BindAddress string `mapstructure:"bind-address"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Scheduler: SchedulerConfig{
			TickInterval:  30 * time.Second,
			Concurrency:   16,
			ShutdownGrace: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type:   "sqlite",
			SQLite: SQLiteConfig{Path: "sentryguard.db"},
			PostgreSQL: PostgreSQLConfig{
				Port:    5432,
				SSLMode: "require",
			},
			MySQL: MySQLConfig{Port: 3306},
		},
		Recovery: RecoveryConfig{
			Timeout:          60 * time.Second,
			MaxAttempts:      3,
			MaxAlertsPerHour: 100,
		},
		Alerting: AlertingConfig{
			SMTPPort:           25,
			MaxAlertsPerMinute: 50,
		},
		API: APIConfig{
			BindAddress: ":8080",
		},
	}
}

// BindFlags binds configuration flags to pflags.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to config file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	flags.Duration("scheduler.tick-interval", 30*time.Second, "How often the scheduler checks for due monitors")
	flags.Int("scheduler.concurrency", 16, "Maximum concurrent monitor evaluations")
	flags.Duration("scheduler.shutdown-grace", 30*time.Second, "Grace period for in-flight evaluations on shutdown")

	flags.String("storage.type", "sqlite", "Storage backend type (sqlite, postgres, mysql)")
	flags.String("storage.sqlite.path", "sentryguard.db", "Path to SQLite database file")
	flags.String("storage.postgres.host", "", "PostgreSQL host")
	flags.Int("storage.postgres.port", 5432, "PostgreSQL port")
	flags.String("storage.postgres.database", "", "PostgreSQL database name")
	flags.String("storage.postgres.username", "", "PostgreSQL username")
	flags.String("storage.postgres.password", "", "PostgreSQL password")
	flags.String("storage.postgres.ssl-mode", "require", "PostgreSQL SSL mode")
	flags.String("storage.mysql.host", "", "MySQL host")
	flags.Int("storage.mysql.port", 3306, "MySQL port")
	flags.String("storage.mysql.database", "", "MySQL database name")
	flags.String("storage.mysql.username", "", "MySQL username")
	flags.String("storage.mysql.password", "", "MySQL password")

	flags.Duration("recovery.timeout", 60*time.Second, "Hard timeout for one recovery attempt")
	flags.Int("recovery.max-attempts", 3, "Maximum recovery attempts per alert")
	flags.Int("recovery.max-per-hour", 100, "Global recovery rate limit per hour")

	flags.String("alerting.smtp-host", "", "SMTP host")
	flags.Int("alerting.smtp-port", 25, "SMTP port")
	flags.String("alerting.smtp-username", "", "SMTP username")
	flags.String("alerting.smtp-password", "", "SMTP password")
	flags.String("alerting.smtp-from", "", "SMTP From address")
	flags.String("alerting.webhook-url", "", "Generic webhook URL")
	flags.String("alerting.slack-webhook-url", "", "Slack incoming webhook URL")
	flags.String("alerting.sms-gateway-url", "", "SMS gateway URL")
	flags.String("alerting.sms-from", "", "SMS sender identifier")
	flags.String("alerting.call-gateway-url", "", "Voice call gateway URL")
	flags.String("alerting.call-from", "", "Voice call sender identifier")
	flags.Int("alerting.max-alerts-per-minute", 50, "Global notification rate limit per minute")

	flags.String("api.bind-address", ":8080", "Control-plane HTTP bind address")
}

// Load loads configuration from flags, environment, and config file.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("log-level", defaults.LogLevel)
	v.SetDefault("scheduler.tick-interval", defaults.Scheduler.TickInterval)
	v.SetDefault("scheduler.concurrency", defaults.Scheduler.Concurrency)
	v.SetDefault("scheduler.shutdown-grace", defaults.Scheduler.ShutdownGrace)
	v.SetDefault("storage.type", defaults.Storage.Type)
	v.SetDefault("storage.sqlite.path", defaults.Storage.SQLite.Path)
	v.SetDefault("storage.postgres.port", defaults.Storage.PostgreSQL.Port)
	v.SetDefault("storage.postgres.ssl-mode", defaults.Storage.PostgreSQL.SSLMode)
	v.SetDefault("storage.mysql.port", defaults.Storage.MySQL.Port)
	v.SetDefault("recovery.timeout", defaults.Recovery.Timeout)
	v.SetDefault("recovery.max-attempts", defaults.Recovery.MaxAttempts)
	v.SetDefault("recovery.max-per-hour", defaults.Recovery.MaxAlertsPerHour)
	v.SetDefault("alerting.smtp-port", defaults.Alerting.SMTPPort)
	v.SetDefault("alerting.max-alerts-per-minute", defaults.Alerting.MaxAlertsPerMinute)
	v.SetDefault("api.bind-address", defaults.API.BindAddress)

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	v.SetEnvPrefix("SENTRYGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	var configFileUsed string
	if configFile, _ := flags.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		configFileUsed = v.ConfigFileUsed()
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/sentryguard")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err == nil {
			configFileUsed = v.ConfigFileUsed()
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.configFileUsed = configFileUsed

	return cfg, nil
}

// ConfigFileUsed returns the path to the config file that was loaded, or
// an empty string if none was found.
func (c *Config) ConfigFileUsed() string {
	return c.configFileUsed
}
