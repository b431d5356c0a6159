package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, BackendMemory, cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, 4, cfg.Cache.PreloadConcurrency)
	assert.Equal(t, "default", cfg.Auth.Profile)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NotFound(t *testing.T) {
	t.Setenv("CTMS_FORMS_CONFIG_DIR", t.TempDir())

	_, err := Load("")
	assert.ErrorIs(t, err, ErrConfigNotFound)

	_, err = Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CTMS_FORMS_CONFIG_DIR", dir)

	path := filepath.Join(dir, "config.yaml")
	content := `
api:
  base_url: https://ctms.example.com
  timeout: 10s
cache:
  backend: leveldb
  default_ttl: 30m
  preload_concurrency: 8
validation:
  timezone: Asia/Tokyo
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://ctms.example.com", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, BackendLevelDB, cfg.Cache.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 8, cfg.Cache.PreloadConcurrency)
	assert.Equal(t, "Asia/Tokyo", cfg.Location().String())

	// Untouched keys keep their defaults; paths land in the config dir.
	assert.Equal(t, 120, cfg.MCP.RateLimit.RequestsPerMinute)
	assert.Equal(t, filepath.Join(dir, "audit.log"), cfg.Logging.AuditFile)
	assert.Equal(t, filepath.Join(dir, "option-cache"), cfg.Cache.LevelDB.Path)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CTMS_FORMS_CONFIG_DIR", dir)
	t.Setenv("CTMS_FORMS_API_BASE_URL", "https://override.example.com")
	t.Setenv("CTMS_FORMS_PROFILE", "staging")
	t.Setenv("CTMS_FORMS_LOG_LEVEL", "debug")
	t.Setenv("CTMS_FORMS_CACHE_BACKEND", "redis")

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  base_url: https://file.example.com\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://override.example.com", cfg.API.BaseURL)
	assert.Equal(t, "staging", cfg.Auth.Profile)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, BackendRedis, cfg.Cache.Backend)

	fromEnv, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://override.example.com", fromEnv.API.BaseURL)
}

func TestSaveAndLoadOrCreate(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CTMS_FORMS_CONFIG_DIR", dir)

	cfg, err := LoadOrCreate("")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "config.yaml"))
	assert.Equal(t, DefaultConfig().API.BaseURL, cfg.API.BaseURL)

	cfg.Cache.DefaultTTL = 15 * time.Minute
	cfg.Auth.Profile = "prod"
	require.NoError(t, cfg.Save(""))

	reloaded, err := LoadOrCreate("")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, reloaded.Cache.DefaultTTL)
	assert.Equal(t, "prod", reloaded.Auth.Profile)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }, "unknown cache backend"},
		{"zero ttl", func(c *Config) { c.Cache.DefaultTTL = 0 }, "default_ttl must be positive"},
		{"negative ttl", func(c *Config) { c.Cache.DefaultTTL = -time.Second }, "default_ttl must be positive"},
		{"redis without addr", func(c *Config) { c.Cache.Backend = BackendRedis; c.Cache.Redis.Addr = "" }, "redis.addr"},
		{"leveldb path", func(c *Config) { c.Cache.Backend = BackendLevelDB; c.Cache.LevelDB.Path = "/tmp/x;rm" }, "leveldb.path"},
		{"reserved profile", func(c *Config) { c.Auth.Profile = "admin" }, "auth.profile"},
		{"half keeper", func(c *Config) { c.Auth.KeeperNotation = "UID/field/password" }, "must be set together"},
		{"bad timezone", func(c *Config) { c.Validation.Timezone = "Mars/Olympus" }, "validation.timezone"},
		{"no rate limit", func(c *Config) { c.MCP.RateLimit.RequestsPerMinute = 0 }, "requests_per_minute"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"no base url", func(c *Config) { c.API.BaseURL = "" }, "base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadDockerSecrets(t *testing.T) {
	t.Run("missing dir", func(t *testing.T) {
		_, err := LoadDockerSecrets(filepath.Join(t.TempDir(), "absent"), t.TempDir())
		assert.Error(t, err)
	})

	t.Run("empty dir", func(t *testing.T) {
		_, err := LoadDockerSecrets(t.TempDir(), t.TempDir())
		assert.ErrorContains(t, err, "no valid Docker secrets")
	})

	t.Run("token and plain config", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, TokenSecretName), []byte("tok\n"), 0600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigSecretName), []byte("cache:\n  backend: redis\n"), 0600))

		secrets, err := LoadDockerSecrets(dir, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "tok", secrets.Token)
		assert.Equal(t, filepath.Join(dir, ConfigSecretName), secrets.ConfigPath)
	})

	t.Run("base64 config", func(t *testing.T) {
		dir, tmp := t.TempDir(), t.TempDir()
		encoded := base64.StdEncoding.EncodeToString([]byte("api:\n  base_url: https://docker.example.com\n"))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigSecretName), []byte(encoded), 0600))

		secrets, err := LoadDockerSecrets(dir, tmp)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tmp, "docker-config.yaml"), secrets.ConfigPath)

		t.Setenv("CTMS_FORMS_CONFIG_DIR", tmp)
		cfg, err := Load(secrets.ConfigPath)
		require.NoError(t, err)
		assert.Equal(t, "https://docker.example.com", cfg.API.BaseURL)
	})
}

func TestApplyDockerDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "console"
	cfg.HTTP.Listen = "localhost:9000"

	cfg.ApplyDockerDefaults()
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":8088", cfg.HTTP.Listen)
}
