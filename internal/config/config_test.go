package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REPOSITORY_URL", "https://olpm.example.com/api/")
	t.Setenv("TICK_INTERVAL_MS", "")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "nope")
	t.Setenv("REDIS_URL", "")
	t.Setenv("ATTEMPT_CREATE_PER_MINUTE", "-3")
	t.Setenv("MONITOR_TOKEN", "")

	cfg := Load()

	assert.Equal(t, "https://olpm.example.com/api", cfg.RepositoryURL)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 30, cfg.CreateRatePerMinute)
	assert.False(t, cfg.RedisEnabled())
	assert.Empty(t, cfg.MonitorToken)
}

func TestCreateRateZeroDisables(t *testing.T) {
	t.Setenv("ATTEMPT_CREATE_PER_MINUTE", "0")
	t.Setenv("MONITOR_TOKEN", "proctor-secret")

	cfg := Load()

	assert.Equal(t, 0, cfg.CreateRatePerMinute)
	assert.Equal(t, "proctor-secret", cfg.MonitorToken)
}

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty allows all", raw: "", want: nil},
		{name: "trims entries", raw: " http://a.test , http://b.test", want: []string{"http://a.test", "http://b.test"}},
		{name: "skips blanks", raw: "http://a.test,,", want: []string{"http://a.test"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseOrigins(tt.raw))
		})
	}
}

func TestMonitorChannel(t *testing.T) {
	assert.Equal(t, "test:t-1:monitor", CacheKey.TestMonitorChannel("t-1"))
}
