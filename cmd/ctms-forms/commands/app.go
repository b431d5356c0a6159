package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/clinprecision/ctms-forms/internal/apiclient"
	"github.com/clinprecision/ctms-forms/internal/audit"
	"github.com/clinprecision/ctms-forms/internal/authstore"
	"github.com/clinprecision/ctms-forms/internal/config"
	"github.com/clinprecision/ctms-forms/internal/health"
	"github.com/clinprecision/ctms-forms/internal/logging"
	"github.com/clinprecision/ctms-forms/internal/metrics"
	"github.com/clinprecision/ctms-forms/internal/options"
	"github.com/clinprecision/ctms-forms/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const (
	auditMaxSize = 100 * 1024 * 1024
	auditMaxAge  = 30 * 24 * time.Hour
)

// app is everything a command needs, built from config.
type app struct {
	cfg      *config.Config
	profile  string
	logger   *zap.Logger
	audit    *audit.Logger
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	tokens   apiclient.TokenStore
	client   *apiclient.Client
	cache    options.Store
	loader   *options.Loader
	engine   *validation.Engine
	health   *health.Checker
}

// loadConfig reads the config file, falling back to defaults plus
// environment when there is none. Inside a container the secrets directory
// may supply the config file and the token.
func loadConfig() (*config.Config, *config.DockerSecrets, error) {
	var secrets *config.DockerSecrets
	path := configFile
	if config.IsRunningInDocker() {
		if s, err := config.LoadDockerSecrets(config.DockerSecretsPath, os.TempDir()); err == nil {
			secrets = s
			if path == "" && s.ConfigPath != "" {
				path = s.ConfigPath
			}
			verboseLog("Loaded Docker secrets")
		}
	}

	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrConfigNotFound) && configFile == "" {
		verboseLog("No config file, using defaults and environment")
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if secrets != nil {
		cfg.ApplyDockerDefaults()
	}
	if profile != "" {
		cfg.Auth.Profile = profile
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, secrets, nil
}

// newApp wires the services for one command run.
func newApp() (*app, error) {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	a := &app{cfg: cfg, profile: cfg.Auth.Profile, logger: logger}

	a.audit = openAudit(cfg, logger)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewWithRegistry(a.registry, logger)

	if a.cache, err = openCacheStore(cfg); err != nil {
		a.Close()
		return nil, err
	}

	if a.tokens, err = openTokens(cfg, secrets, logger); err != nil {
		a.Close()
		return nil, err
	}

	a.client, err = apiclient.New(cfg.API.BaseURL,
		apiclient.WithTimeout(cfg.API.Timeout),
		apiclient.WithTokenStore(a.tokens, a.profile),
		apiclient.OnUnauthorized(func() {
			logger.Warn("Session expired; run `ctms-forms auth login` again", zap.String("profile", a.profile))
		}),
		apiclient.WithLogger(logger),
		apiclient.WithMetrics(a.metrics),
		apiclient.WithAudit(a.audit),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.loader = options.NewLoader(a.client,
		options.WithStore(a.cache),
		options.WithDefaultTTL(cfg.Cache.DefaultTTL),
		options.WithPreloadConcurrency(cfg.Cache.PreloadConcurrency),
		options.WithLogger(logger),
		options.WithMetrics(a.metrics),
		options.WithAudit(a.audit),
	)

	a.engine = validation.NewEngine(
		validation.WithLocation(cfg.Location()),
		validation.WithLogger(logger),
		validation.WithMetrics(a.metrics),
	)

	a.health = health.NewChecker(a.cache, cfg.API.BaseURL, a.tokens, a.audit)
	return a, nil
}

// Close releases the cache and flushes the audit log.
func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("Failed to close option cache", zap.Error(err))
		}
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}
	_ = a.logger.Sync()
}

// openAudit opens the audit log. Commands still work without an audit
// trail, so a failure only disables it; health reports the gap.
func openAudit(cfg *config.Config, logger *zap.Logger) *audit.Logger {
	l, err := audit.NewLogger(audit.Config{
		FilePath: cfg.Logging.AuditFile,
		MaxSize:  auditMaxSize,
		MaxAge:   auditMaxAge,
		Logger:   logger.Named("audit"),
	})
	if err != nil {
		logger.Warn("Audit logging disabled", zap.Error(err))
		return nil
	}
	return l
}

// openCacheStore opens the configured cache backend.
func openCacheStore(cfg *config.Config) (options.Store, error) {
	switch cfg.Cache.Backend {
	case "", config.BackendMemory:
		return options.NewMemoryStore(), nil
	case config.BackendLevelDB:
		return options.OpenLevelStore(cfg.Cache.LevelDB.Path)
	case config.BackendRedis:
		return options.NewRedisStore(options.RedisOptions{
			Addr:      cfg.Cache.Redis.Addr,
			Password:  cfg.Cache.Redis.Password,
			DB:        cfg.Cache.Redis.DB,
			Prefix:    cfg.Cache.Redis.Prefix,
			Retention: cfg.Cache.StaleRetention,
		}), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// openTokens picks the token source: Keeper when configured, a token from
// Docker secrets, otherwise the encrypted credentials file.
func openTokens(cfg *config.Config, secrets *config.DockerSecrets, logger *zap.Logger) (apiclient.TokenStore, error) {
	if cfg.Auth.KeeperNotation != "" {
		return authstore.NewKeeperTokenSource(cfg.Auth.KeeperConfig, cfg.Auth.KeeperNotation, logger)
	}

	if secrets != nil && secrets.Token != "" {
		mem := authstore.NewMemoryStore()
		if err := mem.Put(authstore.Credential{
			Name:    cfg.Auth.Profile,
			BaseURL: cfg.API.BaseURL,
			Token:   secrets.Token,
		}); err != nil {
			return nil, err
		}
		return authstore.NewProfileTokens(mem, cfg.Auth.Profile), nil
	}

	store, err := openCredentials(cfg, secrets)
	if errors.Is(err, errNoPassphrase) {
		// Anonymous requests still work against open endpoints.
		logger.Debug("No credentials passphrase; API calls are unauthenticated",
			zap.String("env", cfg.Auth.PassphraseEnv))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return authstore.NewProfileTokens(store, cfg.Auth.Profile), nil
}

var errNoPassphrase = errors.New("credentials passphrase not set")

// openCredentials opens the encrypted credentials file in the config
// directory. The passphrase comes from the environment or Docker secrets.
func openCredentials(cfg *config.Config, secrets *config.DockerSecrets) (*authstore.FileStore, error) {
	passphrase := os.Getenv(cfg.Auth.PassphraseEnv)
	if passphrase == "" && secrets != nil {
		passphrase = secrets.Passphrase
	}
	if passphrase == "" {
		return nil, fmt.Errorf("%w; export %s", errNoPassphrase, cfg.Auth.PassphraseEnv)
	}

	if err := config.EnsureConfigDir(); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	path := filepath.Join(config.GetConfigDir(), authstore.CredentialsFileName)
	return authstore.OpenFileStore(path, passphrase)
}

// signalContext is canceled on interrupt or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
