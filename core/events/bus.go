// Package events provides the publish/subscribe bus behind "emit:" hooks.
// Collection definitions declare emit hooks per lifecycle stage; the entity
// service publishes one event per successful operation to that bus.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Event is one published lifecycle event.
type Event struct {
	// Name is the declared event name, e.g. "product.created".
	Name string

	// Collection is the collection the operation ran on.
	Collection string

	// Stage is the hook stage that emitted the event, e.g. "after_create".
	Stage string

	// Subject is the caller that performed the operation.
	Subject string

	// Records holds the affected documents.
	Records []map[string]any
}

// Handler processes an event.
type Handler func(ctx context.Context, event Event) error

// Bus is a synchronous publish/subscribe bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler. Patterns:
//   - "product.created" matches exactly
//   - "product.*" matches every event whose name starts with "product."
//   - "*" matches everything
func (b *Bus) Subscribe(pattern string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[pattern] = append(b.handlers[pattern], handler)
}

// Publish calls every matching handler in subscription order: exact, then
// prefix wildcard, then global wildcard. Handler errors are logged and do not
// stop delivery. The number of failed handlers is returned.
func (b *Bus) Publish(ctx context.Context, event Event) int {
	matched := b.match(event.Name)

	b.logger.Debug().
		Str("event", event.Name).
		Str("collection", event.Collection).
		Str("stage", event.Stage).
		Int("handlers", len(matched)).
		Msg("event published")

	failed := 0
	for _, handler := range matched {
		if err := handler(ctx, event); err != nil {
			failed++
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Str("collection", event.Collection).
				Msg("event handler failed")
		}
	}
	return failed
}

// PublishAsync publishes on a new goroutine. The context passed to handlers
// is detached from ctx's cancellation.
func (b *Bus) PublishAsync(ctx context.Context, event Event) {
	go b.Publish(context.WithoutCancel(ctx), event)
}

// HasSubscribers reports whether any handler would receive an event named name.
func (b *Bus) HasSubscribers(name string) bool {
	return len(b.match(name)) > 0
}

// match snapshots the handlers for name so they run without the lock held.
func (b *Bus) match(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []Handler
	matched = append(matched, b.handlers[name]...)
	if prefix, _, ok := strings.Cut(name, "."); ok {
		matched = append(matched, b.handlers[prefix+".*"]...)
	}
	matched = append(matched, b.handlers["*"]...)
	return matched
}
