package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrollgate/internal/conversion"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string {
		return vars[key]
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"ENROLLGATE_BACKEND_URL":     "https://backend.example",
		"ENROLLGATE_BACKEND_API_KEY": "anon",
	}))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8089", cfg.Server.Addr)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, "rest", cfg.Backend.Driver)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 1000, cfg.Audit.MaxEntries)
	assert.Equal(t, conversion.EmptyRequirementsBlock, cfg.Conversion.EmptyRequirementsPolicy)
	assert.Nil(t, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 30, cfg.Server.SubmitRateLimit)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"ENROLLGATE_STORE_DRIVER":              "redis",
		"ENROLLGATE_REDIS_URL":                 "redis://localhost:6379/0",
		"ENROLLGATE_BACKEND_DRIVER":            "postgres",
		"ENROLLGATE_POSTGRES_DSN":              "postgres://localhost/enroll",
		"ENROLLGATE_POSTGRES_DRIVER":           "postgres",
		"ENROLLGATE_HEALTH_INTERVAL":           "10s",
		"ENROLLGATE_MIRROR_SINK":               "kafka",
		"ENROLLGATE_KAFKA_BROKERS":             "k1:9092, k2:9092",
		"ENROLLGATE_EMPTY_REQUIREMENTS_POLICY": "allow",
		"ENROLLGATE_CORS_ALLOWED_ORIGINS":      "http://localhost:5173",
	}))
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 10*time.Second, cfg.Health.Interval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, conversion.EmptyRequirementsAllow, cfg.Conversion.EmptyRequirementsPolicy)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSAllowedOrigins)
}

func TestLoadReportsEveryProblem(t *testing.T) {
	_, err := load(env(map[string]string{
		"ENROLLGATE_STORE_DRIVER":              "floppy",
		"ENROLLGATE_HEALTH_INTERVAL":           "soon",
		"ENROLLGATE_QUEUE_MAX_RETRIES":         "0",
		"ENROLLGATE_EMPTY_REQUIREMENTS_POLICY": "maybe",
	}))
	require.Error(t, err)

	for _, want := range []string{
		"ENROLLGATE_STORE_DRIVER",
		"ENROLLGATE_HEALTH_INTERVAL must be a duration",
		"ENROLLGATE_QUEUE_MAX_RETRIES must be at least 1",
		"ENROLLGATE_EMPTY_REQUIREMENTS_POLICY",
		"ENROLLGATE_BACKEND_URL is required",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
