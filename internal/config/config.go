// Package config defines the top-level configuration for the trade engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TICKRUNNER_* environment
// variables.
type Config struct {
	Broker   BrokerConfig   `toml:"broker"`
	Trading  TradingConfig  `toml:"trading"`
	Token    TokenConfig    `toml:"token"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// BrokerConfig holds broker API endpoints and the default credential used to
// place orders. Credential administration itself lives outside the engine.
type BrokerConfig struct {
	APIHost      string `toml:"api_host"`
	StreamURL    string `toml:"stream_url"`
	APIKey       string `toml:"api_key"`
	Secret       string `toml:"secret"`
	CustomerID   string `toml:"customer_id"`
	ClientCode   string `toml:"client_code"`
	CredentialID string `toml:"credential_id"`
	Name         string `toml:"name"`
}

// TradingConfig holds the trading-hours window and the engine's timers.
type TradingConfig struct {
	HoursStart        string   `toml:"hours_start"` // "09:10"
	HoursEnd          string   `toml:"hours_end"`   // "23:30"
	Timezone          string   `toml:"timezone"`    // e.g. "Asia/Kolkata"
	IntradayClose     string   `toml:"intraday_close"`
	EntryScanInterval duration `toml:"entry_scan_interval"`
	ReconnectInterval duration `toml:"reconnect_interval"`
	ReconnectDelay    duration `toml:"reconnect_delay"`
	PollInterval      duration `toml:"poll_interval"`
	PollTimeout       duration `toml:"poll_timeout"`
}

// TokenConfig holds session-token expiry handling parameters.
type TokenConfig struct {
	SafetyMargin    duration `toml:"safety_margin"`
	RefreshInterval duration `toml:"refresh_interval"`
}

// PostgresConfig holds trade-store connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds LTP-cache connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "30s", "2m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "500ms" or "2m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. The
// trading window and timers match the broker's venue (IST session).
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			APIHost:   "https://api.sharekhan.com",
			StreamURL: "wss://stream.sharekhan.com/skstream/api/stream",
			Name:      "sharekhan",
		},
		Trading: TradingConfig{
			HoursStart:        "09:10",
			HoursEnd:          "23:30",
			Timezone:          "Asia/Kolkata",
			IntradayClose:     "15:25",
			EntryScanInterval: duration{10 * time.Second},
			ReconnectInterval: duration{30 * time.Second},
			ReconnectDelay:    duration{2 * time.Second},
			PollInterval:      duration{500 * time.Millisecond},
			PollTimeout:       duration{2 * time.Minute},
		},
		Token: TokenConfig{
			SafetyMargin:    duration{60 * time.Second},
			RefreshInterval: duration{time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tickrunner",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Notify: NotifyConfig{
			Events: []string{"order_placed", "order_filled", "order_rejected", "exit_failed", "order_stale"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// parseClock validates an "HH:MM" wall-clock string.
func parseClock(s string) error {
	_, err := time.Parse("15:04", s)
	return err
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Broker
	if c.Broker.APIHost == "" {
		errs = append(errs, "broker: api_host must not be empty")
	}
	if c.Broker.StreamURL == "" {
		errs = append(errs, "broker: stream_url must not be empty")
	}
	if c.Broker.APIKey == "" {
		errs = append(errs, "broker: api_key must not be empty")
	}
	if c.Broker.CustomerID == "" {
		errs = append(errs, "broker: customer_id must not be empty")
	}

	// Trading window
	if err := parseClock(c.Trading.HoursStart); err != nil {
		errs = append(errs, fmt.Sprintf("trading: hours_start %q is not HH:MM", c.Trading.HoursStart))
	}
	if err := parseClock(c.Trading.HoursEnd); err != nil {
		errs = append(errs, fmt.Sprintf("trading: hours_end %q is not HH:MM", c.Trading.HoursEnd))
	}
	if err := parseClock(c.Trading.IntradayClose); err != nil {
		errs = append(errs, fmt.Sprintf("trading: intraday_close %q is not HH:MM", c.Trading.IntradayClose))
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("trading: unknown timezone %q", c.Trading.Timezone))
	}
	if c.Trading.EntryScanInterval.Duration <= 0 {
		errs = append(errs, "trading: entry_scan_interval must be > 0")
	}
	if c.Trading.ReconnectInterval.Duration <= 0 {
		errs = append(errs, "trading: reconnect_interval must be > 0")
	}
	if c.Trading.PollInterval.Duration <= 0 {
		errs = append(errs, "trading: poll_interval must be > 0")
	}
	if c.Trading.PollTimeout.Duration < c.Trading.PollInterval.Duration {
		errs = append(errs, "trading: poll_timeout must be >= poll_interval")
	}

	// Token
	if c.Token.SafetyMargin.Duration < 0 {
		errs = append(errs, "token: safety_margin must be >= 0")
	}
	if c.Token.RefreshInterval.Duration <= 0 {
		errs = append(errs, "token: refresh_interval must be > 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
