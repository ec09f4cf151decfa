// Package http exposes the entity service as a JSON REST API.
//
// Every collection registered in the registry is served under
// /api/{collection}. Responses always use the apierr envelope.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/identity"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Authenticator resolves the caller of a request. A request without
// credentials yields a nil identity and no error.
type Authenticator interface {
	Authenticate(r *http.Request) (*identity.Identity, error)
}

// Metrics receives request-level observations.
type Metrics interface {
	RequestStarted() func()
	ObserveRequest(method, route string, status int)
	ObserveAuthFailure(reason string)
}

// Config holds optional configuration for the channel.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Auth           Authenticator
	Metrics        Metrics
	MetricsHandler http.Handler // served at MetricsPath when set
	MetricsPath    string

	// MaxBodyBytes bounds request bodies. Zero means 8 MiB.
	MaxBodyBytes int64
}

// Channel is the HTTP transport for the entity service.
type Channel struct {
	router  chi.Router
	service *entity.Service
	logger  zerolog.Logger
	cfg     Config
	server  *http.Server
}

// New creates the channel and its routes.
func New(svc *entity.Service, logger zerolog.Logger, cfg Config) *Channel {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	c := &Channel{
		router:  chi.NewRouter(),
		service: svc,
		logger:  logger,
		cfg:     cfg,
	}
	c.routes()
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "http"
}

// Handler returns the HTTP handler.
func (c *Channel) Handler() http.Handler {
	return c.router
}

func (c *Channel) routes() {
	r := c.router

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(newLoggingMiddleware(c.logger))
	r.Use(middleware.Recoverer)
	if c.cfg.Metrics != nil {
		r.Use(newMetricsMiddleware(c.cfg.Metrics, c.cfg.MetricsPath))
	}

	// Health and metrics endpoints (no auth required)
	r.Get("/healthz", c.handleHealth)
	if c.cfg.MetricsHandler != nil {
		r.Handle(c.cfg.MetricsPath, c.cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(newAuthMiddleware(c.cfg.Auth, c.cfg.Metrics))
		r.Use(bodyLimit(c.cfg.MaxBodyBytes))

		r.Get("/_auth/me", c.handleMe)
		r.Mount("/_meta", NewMetaHandler(c.service).Routes())

		r.Route("/api/{collection}", func(r chi.Router) {
			r.Get("/", c.handleList)
			r.Post("/", c.handleCreate)
			r.Delete("/", c.handleDeleteBatch)

			r.Post("/_import", c.handleImport)
			r.Get("/_export", c.handleExport)
			r.Get("/_ref", c.handleReference)

			r.Get("/{id}", c.handleGet)
			r.Put("/{id}", c.handleUpdate)
			r.Patch("/{id}", c.handleUpdate)
			r.Delete("/{id}", c.handleDelete)
			r.Post("/{id}/_clone", c.handleClone)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, errorEnvelope(errNoRoute))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusMethodNotAllowed, errorEnvelope(errNoRoute))
	})
}

// Start starts the HTTP server in the background.
func (c *Channel) Start(ctx context.Context) error {
	// Only start if addr is set (standalone mode)
	if c.cfg.Addr == "" {
		return nil
	}

	c.server = &http.Server{
		Addr:         c.cfg.Addr,
		Handler:      c.router,
		ReadTimeout:  c.cfg.ReadTimeout,
		WriteTimeout: c.cfg.WriteTimeout,
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", c.cfg.Addr, err)
	}

	go func() {
		c.logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error().Err(err).Msg("http server error")
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (c *Channel) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

func (c *Channel) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"collections": len(c.service.Registry().Names()),
	})
}
