package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Postgres.URL)
	assert.Equal(t, 1, cfg.Workers.NodeMaxRetries)
	assert.Equal(t, time.Hour, cfg.Quota.RateWindow)
	assert.Equal(t, 720*time.Hour, cfg.Quota.BillingPeriod)
	assert.InDelta(t, 0.9, cfg.Deploy.HealthThreshold, 1e-9)
	assert.Equal(t, 50, cfg.Deploy.HealthWindow)
	assert.Equal(t, "@every 10m", cfg.Retention.SweepSchedule)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("NODEAI_HTTP_PORT", "9000")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("QUOTA_RATE_WINDOW", "1m")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.GetHTTPAddr())
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Minute, cfg.Quota.RateWindow)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port", "NODEAI_HTTP_PORT", "70000"},
		{"log level", "LOG_LEVEL", "verbose"},
		{"threshold", "DEPLOY_HEALTH_THRESHOLD", "1.5"},
		{"pool", "WORKER_POOL_SIZE", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}
