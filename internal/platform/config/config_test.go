package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("env only", func(t *testing.T) {
		t.Setenv("JWT_SIGNING_KEY", "secret")
		t.Setenv("SCHEDULER_SYNC_LIMIT", "25")
		t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, StorageMemory, cfg.Storage)
		assert.Equal(t, 25, cfg.Scheduler.SyncLimit)
		assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, "SCRADA", cfg.Gateways.DefaultAccessPoint)
		assert.False(t, cfg.Scheduler.Throttle, "throttle is opt-in")
	})

	t.Run("throttle flag", func(t *testing.T) {
		t.Setenv("JWT_SIGNING_KEY", "secret")
		t.Setenv("SCHEDULER_THROTTLE", "true")

		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.Scheduler.Throttle)

		t.Setenv("SCHEDULER_THROTTLE", "sometimes")
		_, err = Load()
		assert.ErrorContains(t, err, "SCHEDULER_THROTTLE")
	})

	t.Run("file with env expansion and env override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
app_name: relay-test
storage: postgres
database:
  url: ${TEST_DB_URL}
auth:
  jwt_signing_key: from-file
scheduler:
  send_interval: 5s
gateways:
  scrada:
    url: https://api.example.test
    company_id: c-1
    api_key: k
`), 0o600))
		t.Setenv("CONFIG_FILE", path)
		t.Setenv("TEST_DB_URL", "postgres://localhost/relay")
		t.Setenv("JWT_SIGNING_KEY", "from-env")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "relay-test", cfg.AppName)
		assert.Equal(t, "postgres://localhost/relay", cfg.Database.URL)
		assert.Equal(t, "from-env", cfg.Auth.JWTSigningKey)
		assert.Equal(t, 5*time.Second, cfg.Scheduler.SendInterval)
		assert.Equal(t, 60*time.Second, cfg.Scheduler.SyncInterval)
		assert.True(t, cfg.Gateways.Scrada.Enabled())
		assert.False(t, cfg.Gateways.EInvoice.Enabled())
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("JWT_SIGNING_KEY", "secret")
		t.Setenv("SCHEDULER_SEND_INTERVAL", "soon")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SCHEDULER_SEND_INTERVAL")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load()
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Auth.JWTSigningKey = "secret"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres without url", func(c *Config) { c.Storage = StoragePostgres }},
		{"unknown storage", func(c *Config) { c.Storage = "mongo" }},
		{"no signing key", func(c *Config) { c.Auth.JWTSigningKey = "" }},
		{"zero interval", func(c *Config) { c.Scheduler.SyncInterval = 0 }},
		{"zero slow down", func(c *Config) { c.Scheduler.SlowDownFactor = 0 }},
		{"brokers without topic", func(c *Config) {
			c.Kafka.Brokers = []string{"localhost:9092"}
			c.Kafka.Topic = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
