package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TICKRUNNER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TICKRUNNER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// --- Broker ---
	setStr(&cfg.Broker.APIHost, "TICKRUNNER_BROKER_API_HOST")
	setStr(&cfg.Broker.StreamURL, "TICKRUNNER_BROKER_STREAM_URL")
	setStr(&cfg.Broker.APIKey, "TICKRUNNER_BROKER_API_KEY")
	setStr(&cfg.Broker.Secret, "TICKRUNNER_BROKER_SECRET")
	setStr(&cfg.Broker.CustomerID, "TICKRUNNER_BROKER_CUSTOMER_ID")
	setStr(&cfg.Broker.ClientCode, "TICKRUNNER_BROKER_CLIENT_CODE")
	setStr(&cfg.Broker.CredentialID, "TICKRUNNER_BROKER_CREDENTIAL_ID")
	setStr(&cfg.Broker.Name, "TICKRUNNER_BROKER_NAME")

	// --- Trading ---
	setStr(&cfg.Trading.HoursStart, "TICKRUNNER_TRADING_HOURS_START")
	setStr(&cfg.Trading.HoursEnd, "TICKRUNNER_TRADING_HOURS_END")
	setStr(&cfg.Trading.Timezone, "TICKRUNNER_TRADING_TIMEZONE")
	setStr(&cfg.Trading.IntradayClose, "TICKRUNNER_TRADING_INTRADAY_CLOSE")
	setDur(&cfg.Trading.EntryScanInterval, "TICKRUNNER_TRADING_ENTRY_SCAN_INTERVAL")
	setDur(&cfg.Trading.ReconnectInterval, "TICKRUNNER_TRADING_RECONNECT_INTERVAL")
	setDur(&cfg.Trading.ReconnectDelay, "TICKRUNNER_TRADING_RECONNECT_DELAY")
	setDur(&cfg.Trading.PollInterval, "TICKRUNNER_TRADING_POLL_INTERVAL")
	setDur(&cfg.Trading.PollTimeout, "TICKRUNNER_TRADING_POLL_TIMEOUT")

	// --- Token ---
	setDur(&cfg.Token.SafetyMargin, "TICKRUNNER_TOKEN_SAFETY_MARGIN")
	setDur(&cfg.Token.RefreshInterval, "TICKRUNNER_TOKEN_REFRESH_INTERVAL")

	// --- Postgres ---
	setStr(&cfg.Postgres.DSN, "TICKRUNNER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TICKRUNNER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TICKRUNNER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TICKRUNNER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TICKRUNNER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TICKRUNNER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TICKRUNNER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TICKRUNNER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TICKRUNNER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TICKRUNNER_POSTGRES_RUN_MIGRATIONS")

	// --- Redis ---
	setStr(&cfg.Redis.Addr, "TICKRUNNER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TICKRUNNER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TICKRUNNER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TICKRUNNER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TICKRUNNER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TICKRUNNER_REDIS_TLS_ENABLED")

	// --- Notify ---
	setStr(&cfg.Notify.TelegramToken, "TICKRUNNER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TICKRUNNER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TICKRUNNER_NOTIFY_DISCORD_WEBHOOK_URL")

	setStr(&cfg.LogLevel, "TICKRUNNER_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDur(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
