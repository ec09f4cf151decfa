package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/identity"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// requestID accepts a client request id or assigns a new one. The id is
// stored where middleware.GetReqID finds it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isInternalPath(path, metricsPath string) bool {
	return path == "/healthz" || path == metricsPath
}

// newLoggingMiddleware attaches a request logger to the context and logs
// each request when it completes.
func newLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			r = r.WithContext(reqLogger.WithContext(r.Context()))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks
			if r.URL.Path == "/healthz" {
				return
			}

			event := reqLogger.Debug()
			if ww.Status() >= http.StatusInternalServerError {
				event = reqLogger.Warn()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

// newMetricsMiddleware records request counts by route pattern.
func newMetricsMiddleware(m Metrics, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip metrics for internal endpoints
			if isInternalPath(r.URL.Path, metricsPath) {
				next.ServeHTTP(w, r)
				return
			}

			done := m.RequestStarted()
			defer done()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = strings.TrimSuffix(pattern, "/")
				}
			}
			m.ObserveRequest(r.Method, route, ww.Status())
		})
	}
}

// newAuthMiddleware resolves the caller. Requests without credentials pass
// through anonymously; invalid credentials are answered with NO_SESSION.
func newAuthMiddleware(auth Authenticator, m Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				next.ServeHTTP(w, r)
				return
			}

			id, err := auth.Authenticate(r)
			if err != nil {
				if m != nil {
					m.ObserveAuthFailure("invalid_credentials")
				}
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("authentication failed")
				writeEnvelope(w, http.StatusUnauthorized, errorEnvelope(apierr.New(apierr.NoSession, "invalid credentials")))
				return
			}
			if id == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := identity.WithIdentity(r.Context(), id)
			if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
				ctx = l.With().Str("subject", id.Subject).Str("role", id.Role).Logger().WithContext(ctx)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bodyLimit caps request bodies.
func bodyLimit(n int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
