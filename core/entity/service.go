// Package entity is the orchestrator of the access layer. Every operation
// follows the same sequence:
//
//	Validate -> Authorize -> Merge/Normalize -> BeforeHook -> Mutate/Read -> AfterHook -> Project -> Respond
//
// and any step may end the operation with a taxonomy error, after which no
// later step runs.
package entity

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/filter"
	"github.com/artpar/entitygate/core/identity"
	"github.com/artpar/entitygate/core/mode"
	"github.com/artpar/entitygate/core/objectid"
	"github.com/artpar/entitygate/core/registry"
	"github.com/artpar/entitygate/core/storage"
	"github.com/rs/zerolog"
)

// Operation names used in logs and metrics.
const (
	OpList     = "list"
	OpGet      = "get"
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpClone    = "clone"
	OpImport   = "import"
	OpExport   = "export"
	OpRef      = "resolve_reference"
	OpDescribe = "describe"
)

// Observer receives operation outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveOperation(collection, op string, code apierr.Code, elapsed time.Duration)
	ObserveHookFailure(collection, stage string)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string, apierr.Code, time.Duration) {}
func (nopObserver) ObserveHookFailure(string, string)                          {}

// Config configures a Service.
type Config struct {
	// Limits bound list page sizes.
	Limits filter.Limits

	// RefLimit bounds the number of reference options returned.
	RefLimit int64

	// StrictIDs rejects a whole delete batch when any id is malformed.
	StrictIDs bool

	Logger   zerolog.Logger
	Observer Observer
}

// Service executes entity operations against a registry and a store.
type Service struct {
	registry *registry.Registry
	store    storage.Store
	guard    objectid.Guard
	limits   filter.Limits
	refLimit int64
	logger   zerolog.Logger
	observer Observer
}

// New creates a Service.
func New(reg *registry.Registry, store storage.Store, cfg Config) *Service {
	if cfg.Limits.Default <= 0 {
		cfg.Limits.Default = filter.DefaultLimits.Default
	}
	if cfg.Limits.Max <= 0 {
		cfg.Limits.Max = filter.DefaultLimits.Max
	}
	if cfg.RefLimit <= 0 {
		cfg.RefLimit = 50
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return &Service{
		registry: reg,
		store:    store,
		guard:    objectid.Guard{Strict: cfg.StrictIDs},
		limits:   cfg.Limits,
		refLimit: cfg.RefLimit,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
}

// Registry returns the registry the service reads from.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Options carries the per-request mode narrowing and view.
type Options struct {
	// Mode is a client-requested mode string. It can only narrow the
	// declared mode. Empty means no narrowing.
	Mode string

	// View selects a view-specific role rule and field subset.
	View string
}

// access is the authorized context of one operation.
type access struct {
	meta   *registry.Meta
	caller *identity.Identity
	mode   mode.Mode
}

// authorize resolves the caller and collection and checks that the
// effective mode contains every op.
func (s *Service) authorize(ctx context.Context, collection string, opts Options, ops ...mode.Op) (access, error) {
	caller := identity.FromContext(ctx)
	if caller == nil {
		return access{}, apierr.New(apierr.NoSession, "no session")
	}
	meta, ok := s.registry.Get(collection)
	if !ok {
		return access{}, apierr.Newf(apierr.NotFound, "unknown collection %q", collection)
	}

	effective := meta.Resolver.Effective(caller.Role, opts.View, opts.Mode)
	for _, op := range ops {
		if !effective.Has(op) {
			return access{}, apierr.Newf(apierr.NoRights, "mode %q does not allow %s", effective, op)
		}
	}
	return access{meta: meta, caller: caller, mode: effective}, nil
}

// finish records an operation outcome and turns unexpected errors into
// opaque ERRORs, logging their cause.
func (s *Service) finish(ctx context.Context, collection, op string, start time.Time, err *error) {
	if *err != nil {
		*err = apierr.Wrap(*err, op)
	}
	code := apierr.CodeOf(*err)
	s.observer.ObserveOperation(collection, op, code, time.Since(start))

	logger := s.loggerFor(ctx)
	if code == apierr.Internal {
		logger.Error().
			Err(*err).
			Str("collection", collection).
			Str("op", op).
			Msg("operation failed")
	} else if code != apierr.OK {
		logger.Debug().
			Str("collection", collection).
			Str("op", op).
			Str("code", string(code)).
			Msg("operation rejected")
	}
}

// loggerFor prefers the request logger carried by ctx.
func (s *Service) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

// hookFailed records a hook failure. Hook errors outside the taxonomy become
// ERROR when the operation finishes.
func (s *Service) hookFailed(collection, stage string, err error) error {
	s.observer.ObserveHookFailure(collection, stage)
	s.logger.Warn().
		Err(err).
		Str("collection", collection).
		Str("stage", stage).
		Msg("hook failed")
	return err
}

// storageError maps store failures onto the taxonomy.
func storageError(err error, op string) error {
	if errors.Is(err, storage.ErrDuplicate) {
		return apierr.New(apierr.DuplicateValue, "duplicate value for a unique field")
	}
	return apierr.Wrap(err, op)
}

// pick copies the allowed keys of src.
func pick(src map[string]any, allowed []string) storage.Document {
	out := make(storage.Document, len(allowed))
	for _, name := range allowed {
		if v, ok := src[name]; ok {
			out[name] = v
		}
	}
	return out
}

// missing reports whether a required value is absent.
func missing(v any, present bool) bool {
	if !present || v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
