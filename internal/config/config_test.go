package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTP_PORT)
	assert.Equal(t, 5*time.Second, cfg.POLL_INTERVAL)
	assert.Equal(t, 20, cfg.POLL_MAX_ATTEMPTS)
	assert.Equal(t, time.Second, cfg.QUEUE_BASE_DELAY)
	assert.Equal(t, 3, cfg.QUEUE_MAX_RETRIES)
	assert.Equal(t, "payments.order-status", cfg.KAFKA_STATUS_TOPIC)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cardpay.yaml")
	yaml := "http_port: \"9090\"\npoll_interval: 2s\nwebhook_secret: from-file\nkafka_brokers: kafka:9092\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("WEBHOOK_SECRET", "from-env")
	t.Setenv("QUEUE_MAX_RETRIES", "5")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTP_PORT)
	assert.Equal(t, 2*time.Second, cfg.POLL_INTERVAL)
	assert.Equal(t, "kafka:9092", cfg.KAFKA_BROKERS)
	assert.Equal(t, "from-env", cfg.WEBHOOK_SECRET)
	assert.Equal(t, 5, cfg.QUEUE_MAX_RETRIES)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
