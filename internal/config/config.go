// Package config loads ctms-forms settings from YAML, environment variables
// and container secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clinprecision/ctms-forms/internal/validation"
	"github.com/spf13/viper"
)

// ErrConfigNotFound is returned when the config file is not found by Load.
var ErrConfigNotFound = errors.New("configuration file not found")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CTMS_FORMS"

// Cache backends
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendRedis   = "redis"
)

// Config represents the application configuration
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Validation ValidationConfig `mapstructure:"validation"`
	MCP        MCPConfig        `mapstructure:"mcp"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// APIConfig locates the CTMS REST API
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuthConfig selects where the bearer token comes from. When KeeperNotation
// is set the token is read from Keeper Secrets Manager instead of the
// credentials file.
type AuthConfig struct {
	Profile        string `mapstructure:"profile"`
	PassphraseEnv  string `mapstructure:"passphrase_env"`
	KeeperNotation string `mapstructure:"keeper_notation"`
	KeeperConfig   string `mapstructure:"keeper_config"`
}

// CacheConfig configures the option cache
type CacheConfig struct {
	Backend            string        `mapstructure:"backend"`
	DefaultTTL         time.Duration `mapstructure:"default_ttl"`
	StaleRetention     time.Duration `mapstructure:"stale_retention"`
	PreloadConcurrency int           `mapstructure:"preload_concurrency"`
	Redis              RedisConfig   `mapstructure:"redis"`
	LevelDB            LevelDBConfig `mapstructure:"leveldb"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type LevelDBConfig struct {
	Path string `mapstructure:"path"`
}

// ValidationConfig holds validation engine settings
type ValidationConfig struct {
	// Timezone anchors "today" for date rules; empty means the host zone.
	Timezone string `mapstructure:"timezone"`
}

// MCPConfig represents MCP protocol settings
type MCPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit RateLimit     `mapstructure:"rate_limit"`
}

// RateLimit represents rate limiting configuration
type RateLimit struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// HTTPConfig configures serve-http
type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AuditFile string `mapstructure:"audit_file"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8083",
			Timeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			Profile:       "default",
			PassphraseEnv: EnvPrefix + "_PASSPHRASE",
		},
		Cache: CacheConfig{
			Backend:            BackendMemory,
			DefaultTTL:         time.Hour,
			StaleRetention:     7 * 24 * time.Hour,
			PreloadConcurrency: 4,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "ctms-forms:",
			},
		},
		MCP: MCPConfig{
			Timeout: 30 * time.Second,
			RateLimit: RateLimit{
				RequestsPerMinute: 120,
			},
		},
		HTTP: HTTPConfig{
			Listen: ":8088",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file. An empty configFile means config.yaml
// in the config directory.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()
	configDir := GetConfigDir()
	if configFile == "" {
		configFile = filepath.Join(configDir, "config.yaml")
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, ErrConfigNotFound
	}

	v := newViper()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read config file content: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.fillPaths(configDir)
	return cfg, nil
}

// FromEnv returns the defaults with environment overrides applied, for runs
// without a config file.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	v := newViper()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.fillPaths(GetConfigDir())
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	// Seed every key so AutomaticEnv can override values absent from the file
	for key, value := range defaultsMap(DefaultConfig()) {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("api.base_url", EnvPrefix+"_API_BASE_URL")
	_ = v.BindEnv("auth.profile", EnvPrefix+"_PROFILE")
	_ = v.BindEnv("logging.level", EnvPrefix+"_LOG_LEVEL")
	_ = v.BindEnv("cache.backend", EnvPrefix+"_CACHE_BACKEND")
	_ = v.BindEnv("cache.redis.addr", EnvPrefix+"_REDIS_ADDR")
	return v
}

func defaultsMap(c *Config) map[string]interface{} {
	return map[string]interface{}{
		"api.base_url":                       c.API.BaseURL,
		"api.timeout":                        c.API.Timeout,
		"auth.profile":                       c.Auth.Profile,
		"auth.passphrase_env":                c.Auth.PassphraseEnv,
		"auth.keeper_notation":               c.Auth.KeeperNotation,
		"auth.keeper_config":                 c.Auth.KeeperConfig,
		"cache.backend":                      c.Cache.Backend,
		"cache.default_ttl":                  c.Cache.DefaultTTL,
		"cache.stale_retention":              c.Cache.StaleRetention,
		"cache.preload_concurrency":          c.Cache.PreloadConcurrency,
		"cache.redis.addr":                   c.Cache.Redis.Addr,
		"cache.redis.password":               c.Cache.Redis.Password,
		"cache.redis.db":                     c.Cache.Redis.DB,
		"cache.redis.prefix":                 c.Cache.Redis.Prefix,
		"cache.leveldb.path":                 c.Cache.LevelDB.Path,
		"validation.timezone":                c.Validation.Timezone,
		"mcp.timeout":                        c.MCP.Timeout,
		"mcp.rate_limit.requests_per_minute": c.MCP.RateLimit.RequestsPerMinute,
		"http.listen":                        c.HTTP.Listen,
		"logging.level":                      c.Logging.Level,
		"logging.format":                     c.Logging.Format,
		"logging.audit_file":                 c.Logging.AuditFile,
	}
}

// fillPaths defaults file locations into the config directory.
func (c *Config) fillPaths(configDir string) {
	if c.Logging.AuditFile == "" {
		c.Logging.AuditFile = filepath.Join(configDir, "audit.log")
	}
	if c.Cache.LevelDB.Path == "" {
		c.Cache.LevelDB.Path = filepath.Join(configDir, "option-cache")
	}
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	v := validation.NewInputValidator()

	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if err := v.ValidateProfileName(c.Auth.Profile); err != nil {
		return fmt.Errorf("auth.profile: %w", err)
	}
	if (c.Auth.KeeperNotation == "") != (c.Auth.KeeperConfig == "") {
		return fmt.Errorf("auth.keeper_notation and auth.keeper_config must be set together")
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendLevelDB:
		if err := v.ValidateFilePath(c.Cache.LevelDB.Path); err != nil {
			return fmt.Errorf("cache.leveldb.path: %w", err)
		}
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q: must be memory, leveldb or redis", c.Cache.Backend)
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache.default_ttl must be positive")
	}
	if c.Cache.StaleRetention < 0 {
		return fmt.Errorf("cache.stale_retention cannot be negative")
	}
	if c.Cache.PreloadConcurrency <= 0 {
		return fmt.Errorf("cache.preload_concurrency must be positive")
	}

	if c.Validation.Timezone != "" {
		if _, err := time.LoadLocation(c.Validation.Timezone); err != nil {
			return fmt.Errorf("validation.timezone: %w", err)
		}
	}
	if c.MCP.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("mcp.rate_limit.requests_per_minute must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logging.format %q: must be json or console", c.Logging.Format)
	}
	return nil
}

// Location returns the zone date rules are evaluated in.
func (c *Config) Location() *time.Location {
	if c.Validation.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Validation.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Save saves configuration to file
func (c *Config) Save(configFile string) error {
	if configFile == "" {
		configFile = filepath.Join(GetConfigDir(), "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	for key, value := range defaultsMap(c) {
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		v.Set(key, value)
	}
	return v.WriteConfig()
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	if configDir := os.Getenv(EnvPrefix + "_CONFIG_DIR"); configDir != "" {
		return configDir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".clinprecision", "ctms-forms")
	}
	return filepath.Join(homeDir, ".clinprecision", "ctms-forms")
}

// EnsureConfigDir ensures the configuration directory exists
func EnsureConfigDir() error {
	return os.MkdirAll(GetConfigDir(), 0700)
}

// LoadOrCreate loads existing config or writes and returns the defaults.
func LoadOrCreate(configFile string) (*Config, error) {
	cfg, err := Load(configFile)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, ErrConfigNotFound) {
		return nil, err
	}

	if configFile == "" {
		configFile = filepath.Join(GetConfigDir(), "config.yaml")
	}
	cfg = DefaultConfig()
	if err := cfg.Save(configFile); err != nil {
		return nil, fmt.Errorf("failed to save default config to %s: %w", configFile, err)
	}
	return Load(configFile)
}
