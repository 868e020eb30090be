package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsAreValid(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	for _, name := range []string{"MAX_WORKERS", "ALLOWED_MEDIA_HOSTS", "FETCH_TIMEOUT_SECONDS", "RECLAIM_IDLE_SECONDS"} {
		t.Setenv(name, "")
	}

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())

	// The reclaim window must cover a full job (metadata fetch plus media
	// fetch), or an in-flight delivery is claimed and processed a second time.
	assert.Greater(t, cfg.ReclaimIdleSec, 2*cfg.FetchTimeoutSec)
}

func TestValidateRequiresBrokerAddress(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	cfg := LoadConfig()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}

func TestValidateRejectsReclaimWindowInsideFetchBudget(t *testing.T) {
	cfg := &Config{
		RedisAddr:         "localhost:6379",
		MaxWorkers:        3,
		MaxAttempts:       3,
		AllowedMediaHosts: []string{"youtube.com"},
		FetchTimeoutSec:   600,
		ReclaimIdleSec:    300,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RECLAIM_IDLE_SECONDS")
}
