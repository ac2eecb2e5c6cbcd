package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	t.Setenv("SCHOOL_TIMEZONE", "UTC")
	t.Setenv("ENABLE_OCCURRENCE_CACHE", "true")
	t.Setenv("OCCURRENCE_CACHE_TTL", "2m")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("AUDIT_SCHEDULE", " 0 2 * * * ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.UTC.String(), cfg.Occurrences.Location.String())
	assert.True(t, cfg.Occurrences.CacheEnabled)
	assert.Equal(t, 2*time.Minute, cfg.Occurrences.CacheTTL)
	assert.Equal(t, 400*24*time.Hour, cfg.Occurrences.MaxWindow)
	assert.Equal(t, 3, cfg.Occurrences.UpsertRetries)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "0 2 * * *", cfg.Audit.Schedule)
	assert.Equal(t, 500, cfg.Audit.PageSize)
	assert.Equal(t, "./reports", cfg.Audit.ReportDir)
	assert.Equal(t, 30*24*time.Hour, cfg.Audit.ReportRetention)
	assert.Equal(t, "UTC", cfg.Database.TimeZone)
	assert.Equal(t, 250*time.Millisecond, cfg.Redis.OpTimeout)
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("SCHOOL_TIMEZONE", "Mars/Olympus_Mons")

	_, err := Load()
	require.Error(t, err)
}
