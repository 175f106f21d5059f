package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Broker.APIKey = "key"
	cfg.Broker.CustomerID = "CUST1"
	return cfg
}

func TestDefaultsValidateWithCredentials(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestDefaultsRequireBrokerCredentials(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
	assert.Contains(t, err.Error(), "customer_id")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "loud"
	cfg.Trading.HoursStart = "9am"
	cfg.Trading.Timezone = "Mars/Olympus"
	cfg.Postgres.Port = 0
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "hours_start")
	assert.Contains(t, err.Error(), "timezone")
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidateEntryScanInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.EntryScanInterval = duration{0}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry_scan_interval")
}

func TestValidatePollTimeoutBound(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.PollInterval = duration{time.Minute}
	cfg.Trading.PollTimeout = duration{time.Second}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_timeout")
}

func TestValidateSkipsHostCheckWithDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = "postgres://u:p@db:5432/tickrunner"
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.Database = ""

	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[broker]
api_key = "file-key"
customer_id = "CUST9"

[trading]
poll_interval = "750ms"
poll_timeout = "90s"

[redis]
addr = "cache:6379"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "file-key", cfg.Broker.APIKey)
	assert.Equal(t, 750*time.Millisecond, cfg.Trading.PollInterval.Duration)
	assert.Equal(t, 90*time.Second, cfg.Trading.PollTimeout.Duration)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)

	// Untouched fields keep their defaults.
	assert.Equal(t, "09:10", cfg.Trading.HoursStart)
	assert.Equal(t, "Asia/Kolkata", cfg.Trading.Timezone)
	assert.True(t, cfg.Postgres.RunMigrations)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[broker]
api_key = "file-key"
customer_id = "CUST9"
`), 0o600))

	t.Setenv("TICKRUNNER_BROKER_API_KEY", "env-key")
	t.Setenv("TICKRUNNER_TOKEN_SAFETY_MARGIN", "90s")
	t.Setenv("TICKRUNNER_POSTGRES_RUN_MIGRATIONS", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Broker.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Token.SafetyMargin.Duration)
	assert.False(t, cfg.Postgres.RunMigrations)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[trading]
poll_interval = "soon"
`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
