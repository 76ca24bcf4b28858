package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, int64(4*1024*1024), cfg.MaxRequestBodyBytes)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 64, cfg.ObserverQueueSize)
	assert.True(t, cfg.RateLimitEnabled)
	assert.NotEmpty(t, cfg.DatabaseURL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KANSOKU_PORT", "9999")
	t.Setenv("KANSOKU_READ_TIMEOUT", "5s")
	t.Setenv("KANSOKU_LOG_LEVEL", "debug")
	t.Setenv("KANSOKU_RATE_LIMIT_ENABLED", "false")
	t.Setenv("DATABASE_URL", "postgres://x:y@elsewhere:5432/z")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.RateLimitEnabled)
	assert.Equal(t, "postgres://x:y@elsewhere:5432/z", cfg.DatabaseURL)
}

func TestLoadMalformedValuesFallBack(t *testing.T) {
	t.Setenv("KANSOKU_PORT", "not-a-number")
	t.Setenv("KANSOKU_READ_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
}

func TestValidate(t *testing.T) {
	valid := Config{
		DatabaseURL:         "postgres://localhost/db",
		MaxRequestBodyBytes: 1024,
		ObserverQueueSize:   8,
	}
	assert.NoError(t, valid.Validate())

	noDB := valid
	noDB.DatabaseURL = ""
	assert.Error(t, noDB.Validate())

	badBody := valid
	badBody.MaxRequestBodyBytes = 0
	assert.Error(t, badBody.Validate())

	badQueue := valid
	badQueue.ObserverQueueSize = -1
	assert.Error(t, badQueue.Validate())
}

func TestLoadPriorityDefaults(t *testing.T) {
	p := LoadPriority()
	assert.Equal(t, DefaultTotalLimit, p.TotalLimit)
	assert.Equal(t, DefaultPriorityLimit, p.PriorityLimit)
	assert.Equal(t, DefaultRegularLimit, p.RegularLimit)
	assert.Equal(t, DefaultPriorityRetentionHours, p.PriorityRetentionHours)
	assert.Equal(t, DefaultRegularRetentionHours, p.RegularRetentionHours)
}

func TestLoadPriorityOverrides(t *testing.T) {
	t.Setenv("KANSOKU_TOTAL_EVENT_LIMIT", "300")
	t.Setenv("KANSOKU_PRIORITY_RETENTION_HOURS", "48")

	p := LoadPriority()
	assert.Equal(t, 300, p.TotalLimit)
	assert.Equal(t, 48, p.PriorityRetentionHours)
	assert.Equal(t, DefaultRegularLimit, p.RegularLimit)
}

func TestLoadPriorityNonsenseFallsBack(t *testing.T) {
	t.Setenv("KANSOKU_TOTAL_EVENT_LIMIT", "-5")
	t.Setenv("KANSOKU_PRIORITY_EVENT_LIMIT", "0")
	t.Setenv("KANSOKU_REGULAR_EVENT_LIMIT", "banana")

	p := LoadPriority()
	assert.Equal(t, DefaultTotalLimit, p.TotalLimit)
	assert.Equal(t, DefaultPriorityLimit, p.PriorityLimit)
	assert.Equal(t, DefaultRegularLimit, p.RegularLimit)
}
