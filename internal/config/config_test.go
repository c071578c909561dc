package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steam-sessions/internal/model"
)

func isolated(t *testing.T) LoadOptions {
	t.Helper()
	dir := t.TempDir()
	return LoadOptions{SearchDir: dir, EnvFile: filepath.Join(dir, ".env")}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(isolated(t))
	require.NoError(t, err)

	assert.Equal(t, DefaultCooldown, cfg.Cooldown)
	assert.Equal(t, DefaultPenalty, cfg.Penalty)
	assert.Equal(t, DefaultRetries, cfg.Retries)
	assert.Equal(t, []string{"web", "mobile", "desktop"}, cfg.Platforms)
	assert.Equal(t, DefaultSchedule, cfg.Schedule)
	assert.Empty(t, cfg.File)
	require.NoError(t, cfg.Validate())
}

func TestLoadLayersFileEnvFileAndEnvironment(t *testing.T) {
	opts := isolated(t)
	require.NoError(t, os.WriteFile(filepath.Join(opts.SearchDir, "steam-sessions.yaml"), []byte(
		"cooldown: 40s\nretries: 2\nplatforms: [web, mobile]\nlog-level: DEBUG\n"), 0o644))
	require.NoError(t, os.WriteFile(opts.EnvFile, []byte(
		"STEAM_SESSIONS_RETRIES=4\nSTEAM_SESSIONS_REDIS_URL=redis://from-dotenv:6379/0\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("STEAM_SESSIONS_RETRIES") })
	t.Setenv("STEAM_SESSIONS_REDIS_URL", "redis://from-env:6379/1")
	t.Setenv("STEAM_SESSIONS_ACCOUNT_DELAY", "5s")

	cfg, err := Load(opts)
	require.NoError(t, err)

	assert.Equal(t, 40*time.Second, cfg.Cooldown)
	assert.Equal(t, 4, cfg.Retries)
	assert.Equal(t, "redis://from-env:6379/1", cfg.RedisURL)
	assert.Equal(t, 5*time.Second, cfg.AccountDelay)
	assert.Equal(t, []string{"web", "mobile"}, cfg.Platforms)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, filepath.Join(opts.SearchDir, "steam-sessions.yaml"), cfg.File)
}

func TestLoadExplicitConfigMustExist(t *testing.T) {
	opts := isolated(t)
	opts.ConfigPath = filepath.Join(opts.SearchDir, "missing.json")
	_, err := Load(opts)
	require.Error(t, err)
}

func TestNormalizeClampsInvalidValues(t *testing.T) {
	cfg := Normalize(Config{
		Concurrency: -3,
		Retries:     -1,
		RetryJitter: -time.Second,
		Platforms:   []string{" Web ,mobile", "web"},
	})
	assert.Equal(t, 0, cfg.Concurrency)
	assert.Equal(t, DefaultRetries, cfg.Retries)
	assert.Equal(t, time.Duration(0), cfg.RetryJitter)
	assert.Equal(t, DefaultCooldown, cfg.Cooldown)
	assert.Equal(t, []string{"web", "mobile"}, cfg.Platforms)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Cooldown = 30 * time.Second
	assert.ErrorContains(t, cfg.Validate(), "provider window")

	cfg = Defaults()
	cfg.Platforms = []string{"web", "console"}
	assert.ErrorContains(t, cfg.Validate(), "unknown platform")

	cfg = Defaults()
	platforms, err := cfg.ParsedPlatforms()
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPlatforms, platforms)
}
