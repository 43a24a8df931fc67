package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "SCORACLE_DATABASE_URL", "BDL_PER_PAGE", "SYNC_BATCH_SIZE", "SYNC_WORKERS",
		"SYNC_LOCK_BACKEND", "WEBHOOK_TIMEOUT", "KAFKA_BROKERS", "CORS_ALLOW_ORIGINS", "AUTO_MIGRATE",
		"NOTIFIER_POLL_INTERVAL", "JOB_RETENTION",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "sqlite://scoracle.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite://scoracle.db", cfg.DatabaseURL)
	assert.Equal(t, MaxProviderPerPage, cfg.BDLPerPage)
	assert.Equal(t, MaxUpsertBatchSize, cfg.SyncBatchSize)
	assert.Equal(t, "memory", cfg.SyncLockBackend)
	assert.Equal(t, 7*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 5*time.Minute, cfg.JobRetention)
	assert.True(t, cfg.AutoMigrate)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_ClampsAndParses(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCORACLE_DATABASE_URL", "postgres://localhost/scoracle")
	t.Setenv("BDL_PER_PAGE", "250")
	t.Setenv("SYNC_BATCH_SIZE", "5000")
	t.Setenv("SYNC_WORKERS", "0")
	t.Setenv("WEBHOOK_TIMEOUT", "3")
	t.Setenv("NOTIFIER_POLL_INTERVAL", "250ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("AUTO_MIGRATE", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/scoracle", cfg.DatabaseURL)
	assert.Equal(t, MaxProviderPerPage, cfg.BDLPerPage)
	assert.Equal(t, MaxUpsertBatchSize, cfg.SyncBatchSize)
	assert.Equal(t, 1, cfg.SyncWorkers)
	assert.Equal(t, 3*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.NotifierPollInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.AutoMigrate)
}

func TestLoad_RejectsUnknownLockBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "sqlite://scoracle.db")
	t.Setenv("SYNC_LOCK_BACKEND", "etcd")

	_, err := Load()
	assert.ErrorContains(t, err, "SYNC_LOCK_BACKEND")
}
