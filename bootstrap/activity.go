package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/artpar/entitygate/core/events"
	"github.com/artpar/entitygate/core/storage"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ActivityRecorder buffers lifecycle events and writes them in batches to an
// activity collection.
type ActivityRecorder struct {
	store         storage.Store
	collection    string
	logger        zerolog.Logger
	now           func() time.Time
	buffer        []storage.Document
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	writes        sync.WaitGroup
	closeOnce     sync.Once
}

// NewActivityRecorder creates a recorder writing to collection. A zero
// flushInterval disables the periodic flush.
func NewActivityRecorder(store storage.Store, collection string, batchSize int, flushInterval time.Duration, logger zerolog.Logger) *ActivityRecorder {
	if batchSize <= 0 {
		batchSize = 100
	}

	r := &ActivityRecorder{
		store:         store,
		collection:    collection,
		logger:        logger,
		now:           time.Now,
		buffer:        make([]storage.Document, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	if flushInterval > 0 {
		r.wg.Add(1)
		go r.flushLoop()
	}

	return r
}

// Handle is an events.Handler that queues one activity document per event.
func (r *ActivityRecorder) Handle(ctx context.Context, event events.Event) error {
	ids := make([]any, 0, len(event.Records))
	for _, rec := range event.Records {
		if id, ok := rec[storage.IDField]; ok {
			ids = append(ids, id)
		}
	}

	doc := storage.Document{
		storage.IDField: bson.NewObjectID(),
		"event":         event.Name,
		"collection":    event.Collection,
		"stage":         event.Stage,
		"subject":       event.Subject,
		"ids":           ids,
		"at":            r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, doc)
	if len(r.buffer) >= r.batchSize {
		batch := r.takeLocked()
		r.writes.Add(1)
		go func() {
			defer r.writes.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			r.write(ctx, batch)
		}()
	}
	return nil
}

// Flush writes every queued document before returning.
func (r *ActivityRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.takeLocked()
	r.mu.Unlock()

	r.writes.Wait()
	return r.write(ctx, batch)
}

func (r *ActivityRecorder) takeLocked() []storage.Document {
	if len(r.buffer) == 0 {
		return nil
	}
	batch := make([]storage.Document, len(r.buffer))
	copy(batch, r.buffer)
	r.buffer = r.buffer[:0]
	return batch
}

func (r *ActivityRecorder) write(ctx context.Context, batch []storage.Document) error {
	var errs []error
	for _, doc := range batch {
		if err := r.store.Insert(ctx, r.collection, doc); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Error().
			Err(err).
			Int("failed", len(errs)).
			Int("batch", len(batch)).
			Msg("activity write failed")
		return err
	}
	return nil
}

func (r *ActivityRecorder) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Flush(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the recorder and flushes remaining events.
func (r *ActivityRecorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = r.Flush(ctx)
	})
	return err
}
