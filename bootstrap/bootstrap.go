// Package bootstrap wires all dependencies and starts the application.
// Collections are registered once at startup; only log level and API keys
// follow configuration reloads.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/artpar/entitygate/adapters/auth"
	"github.com/artpar/entitygate/adapters/metrics"
	"github.com/artpar/entitygate/config"
	chttp "github.com/artpar/entitygate/core/channel/http"
	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/events"
	"github.com/artpar/entitygate/core/filter"
	"github.com/artpar/entitygate/core/hooks"
	"github.com/artpar/entitygate/core/registry"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/core/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// App represents the running application.
type App struct {
	Logger   zerolog.Logger
	Config   *config.Config
	Holder   *config.Holder
	Store    storage.Store
	Events   *events.Bus
	Registry *registry.Registry
	Service  *entity.Service
	Metrics  *metrics.Collector
	HTTP     *chttp.Channel
	Tokens   *auth.TokenService
	Keys     *auth.KeyStore
	Activity *ActivityRecorder

	watch        bool
	shutdownOnce sync.Once
}

// Options provides optional configuration for application initialization.
type Options struct {
	// ConfigPath is the YAML configuration file. When empty, Config is used,
	// and when both are empty the configuration comes from the environment.
	ConfigPath string
	Config     *config.Config

	// Watch reloads ConfigPath on change and on SIGHUP while running.
	Watch bool

	// Output receives log lines. Defaults to stdout.
	Output io.Writer

	// Now is the clock used by built-in hooks. Defaults to time.Now.
	Now func() time.Time
}

// New creates and initializes the application. Any collection definition
// error aborts startup.
func New(ctx context.Context, opts Options) (*App, error) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger := NewLogger(cfg.Logging, out)
	logger.Info().Str("driver", cfg.Database.Driver).Msg("initializing entitygate")

	a := &App{
		Logger: logger,
		Config: cfg,
		watch:  opts.Watch && opts.ConfigPath != "",
	}

	if opts.ConfigPath != "" {
		a.Holder, err = config.NewHolder(opts.ConfigPath, logger.With().Str("component", "config").Logger())
		if err != nil {
			return nil, err
		}
		a.Config = a.Holder.Get()
		cfg = a.Config
	}

	// Initialize metrics if enabled
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	a.Events = events.NewBus(logger.With().Str("component", "events").Logger())

	a.Registry, err = LoadRegistry(cfg.Collections.Dir, a.Events, logger, opts.Now)
	if err != nil {
		return nil, err
	}

	if err := a.initStore(ctx); err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("init store: %w", err)
	}

	if err := a.initActivity(ctx); err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("init activity: %w", err)
	}

	entityCfg := entity.Config{
		Limits:    filter.Limits{Default: cfg.Query.DefaultLimit, Max: cfg.Query.MaxLimit},
		RefLimit:  cfg.Query.RefLimit,
		StrictIDs: cfg.Collections.StrictIDs,
		Logger:    logger.With().Str("component", "entity").Logger(),
	}
	if a.Metrics != nil {
		entityCfg.Observer = a.Metrics
	}
	a.Service = entity.New(a.Registry, a.Store, entityCfg)

	a.Tokens = auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn().Msg("auth.jwt_secret not set, tokens will not survive a restart")
	}
	a.Keys = auth.NewKeyStore(apiKeys(cfg.Auth.APIKeys))

	httpCfg := chttp.Config{
		Addr:         cfg.Server.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Auth:         auth.NewAuthenticator(a.Tokens, a.Keys, cfg.Auth.APIKeyHeader),
	}
	if a.Metrics != nil {
		httpCfg.Metrics = a.Metrics
		httpCfg.MetricsHandler = metricsHandler
		httpCfg.MetricsPath = cfg.Metrics.Path
	}
	a.HTTP = chttp.New(a.Service, logger.With().Str("component", "http").Logger(), httpCfg)

	if a.Holder != nil {
		a.Holder.OnChange(a.applyConfig)
		a.Holder.OnError(func(err error) {
			if a.Metrics != nil {
				a.Metrics.ObserveReload(err)
			}
		})
	}

	logger.Info().
		Strs("collections", a.Registry.Names()).
		Int("api_keys", a.Keys.Len()).
		Msg("entitygate initialized")

	return a, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	switch {
	case opts.ConfigPath != "":
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	case opts.Config != nil:
		return opts.Config, nil
	default:
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
}

// LoadRegistry parses every collection definition under dir and builds the
// registry. Hook functions are registered against now.
func LoadRegistry(dir string, bus *events.Bus, logger zerolog.Logger, now func() time.Time) (*registry.Registry, error) {
	colls, err := schema.ParseDir(dir)
	if err != nil {
		return nil, fmt.Errorf("parse collections: %w", err)
	}
	if len(colls) == 0 {
		return nil, fmt.Errorf("no collection definitions found in %s", dir)
	}

	fns := hooks.NewFunctions()
	RegisterHooks(fns, logger, now)

	builder := registry.NewBuilder(fns, bus, logger.With().Str("component", "registry").Logger())
	if err := builder.RegisterAll(colls); err != nil {
		return nil, err
	}
	return builder.Build()
}

// OpenStore connects to the configured document store.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "sqlite":
		return storage.NewSQLiteStore(cfg.DSN)
	case "mongo":
		return storage.NewMongoStore(ctx, cfg.DSN, cfg.Name)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func (a *App) initStore(ctx context.Context) error {
	store, err := OpenStore(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	a.Store = store
	if a.Metrics != nil {
		a.Store = storage.Observe(store, a.Metrics.ObserveStorage)
	}

	for _, spec := range a.Registry.Specs() {
		if err := a.Store.Ensure(ctx, spec); err != nil {
			return err
		}
		a.Logger.Debug().
			Str("collection", spec.Name).
			Strs("unique", spec.Unique).
			Msg("collection ready")
	}
	return nil
}

func (a *App) initActivity(ctx context.Context) error {
	cfg := a.Config.Activity
	if !cfg.Enabled {
		return nil
	}
	if _, ok := a.Registry.Get(cfg.Collection); ok {
		return fmt.Errorf("activity collection %q is also a registered collection", cfg.Collection)
	}
	if err := a.Store.Ensure(ctx, storage.CollectionSpec{Name: cfg.Collection}); err != nil {
		return err
	}

	a.Activity = NewActivityRecorder(a.Store, cfg.Collection, cfg.BatchSize, cfg.FlushInterval,
		a.Logger.With().Str("component", "activity").Logger())
	a.Events.Subscribe("*", a.Activity.Handle)

	a.Logger.Info().Str("collection", cfg.Collection).Msg("activity log enabled")
	return nil
}

// applyConfig applies the runtime-mutable part of a reloaded configuration.
func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	a.Keys.Replace(apiKeys(cfg.Auth.APIKeys))
	a.Config = cfg

	if a.Metrics != nil {
		a.Metrics.ObserveReload(nil)
	}
}

func apiKeys(cfgs []config.APIKeyConfig) []auth.APIKey {
	keys := make([]auth.APIKey, len(cfgs))
	for i, k := range cfgs {
		keys[i] = auth.APIKey{Name: k.Name, Hash: k.Hash, Subject: k.Subject, Role: k.Role}
	}
	return keys
}

// Handler returns the HTTP handler, for embedding or tests.
func (a *App) Handler() http.Handler {
	return a.HTTP.Handler()
}

// Run starts the HTTP server and blocks until ctx is done or the process
// receives SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	if a.watch {
		if err := a.Holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.Holder.WatchSignals()
	}

	if err := a.HTTP.Start(ctx); err != nil {
		return fmt.Errorf("start http: %w", err)
	}

	// Wait for interrupt or cancellation
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-ctx.Done():
		a.Logger.Info().Msg("context done, shutting down")
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application. Calls after the first are
// no-ops.
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(a.shutdown)
	return nil
}

func (a *App) shutdown() {
	timeout := 10 * time.Second
	if a.Config != nil && a.Config.Server.ShutdownTimeout > 0 {
		timeout = a.Config.Server.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Shutdown HTTP server
	if a.HTTP != nil {
		if err := a.HTTP.Stop(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	// Stop config watchers
	if a.Holder != nil {
		a.Holder.Stop()
	}

	// Flush activity log
	if a.Activity != nil {
		if err := a.Activity.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("activity recorder close error")
		}
	}

	// Close store
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("store close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
}

// NewLogger builds the root logger. The level is applied globally so a
// reload can change it.
func NewLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}
