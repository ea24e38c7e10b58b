package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PROCTOR_MAX_VIOLATIONS", "")
	t.Setenv("PROCTOR_AUTO_SUBMIT_GRACE", "")

	cfg := Load()

	assert.Equal(t, 3, cfg.Proctor.MaxViolations)
	assert.Equal(t, 2*time.Second, cfg.Proctor.AutoSubmitGrace)
	assert.Equal(t, 30*time.Second, cfg.Proctor.AutosaveInterval)
	assert.Equal(t, 80*time.Millisecond, cfg.Proctor.FastTyping)
	assert.Equal(t, 10, cfg.Proctor.KeystrokeWindow)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PROCTOR_MAX_VIOLATIONS", "5")
	t.Setenv("PROCTOR_AUTOSAVE_INTERVAL", "1m")
	t.Setenv("PROCTOR_FAST_TYPING_MS", "60")
	t.Setenv("ALLOWED_ORIGINS", " https://exam.example.org , ,http://localhost:5173")

	cfg := Load()

	assert.Equal(t, 5, cfg.Proctor.MaxViolations)
	assert.Equal(t, time.Minute, cfg.Proctor.AutosaveInterval)
	assert.Equal(t, 60*time.Millisecond, cfg.Proctor.FastTyping)
	assert.Equal(t, []string{"https://exam.example.org", "http://localhost:5173"}, cfg.AllowedOrigins)
}

func TestGetEnvDuration_InvalidFallsBack(t *testing.T) {
	t.Setenv("PROCTOR_SHUTDOWN_GRACE", "soon")
	assert.Equal(t, 5*time.Second, getEnvDuration("PROCTOR_SHUTDOWN_GRACE", 5*time.Second))

	t.Setenv("PROCTOR_SHUTDOWN_GRACE", "-3s")
	assert.Equal(t, 5*time.Second, getEnvDuration("PROCTOR_SHUTDOWN_GRACE", 5*time.Second))
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "session:abc:answers", CacheKey.SessionAnswersKey("abc"))
	assert.Equal(t, "session:abc:violations", CacheKey.SessionViolationsKey("abc"))
	assert.Equal(t, "exam:e1:monitor", CacheKey.ExamMonitorChannel("e1"))
}

func TestLoad_StorageTuning(t *testing.T) {
	t.Setenv("DB_SLOW_QUERY_MS", "500")
	t.Setenv("REDIS_POOL_SIZE", "64")

	cfg := Load()

	assert.Equal(t, 500*time.Millisecond, cfg.SlowQuery)
	assert.Equal(t, 64, cfg.RedisPoolSize)
}
