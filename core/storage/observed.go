package storage

import (
	"context"
	"time"
)

// CallFunc receives one storage call after it completes.
type CallFunc func(op, collection string, elapsed time.Duration, err error)

// ObservedStore reports every call on the wrapped store.
type ObservedStore struct {
	Store
	onCall CallFunc
}

// Observe wraps store so that every call is reported to fn.
func Observe(store Store, fn CallFunc) *ObservedStore {
	return &ObservedStore{Store: store, onCall: fn}
}

func (s *ObservedStore) report(op, collection string, start time.Time, err error) {
	if s.onCall != nil {
		s.onCall(op, collection, time.Since(start), err)
	}
}

func (s *ObservedStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	start := time.Now()
	docs, err := s.Store.Find(ctx, collection, filter, opts)
	s.report("find", collection, start, err)
	return docs, err
}

func (s *ObservedStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	start := time.Now()
	n, err := s.Store.Count(ctx, collection, filter)
	s.report("count", collection, start, err)
	return n, err
}

func (s *ObservedStore) Insert(ctx context.Context, collection string, doc Document) error {
	start := time.Now()
	err := s.Store.Insert(ctx, collection, doc)
	s.report("insert", collection, start, err)
	return err
}

func (s *ObservedStore) Update(ctx context.Context, collection string, filter Filter, change Change) (int64, error) {
	start := time.Now()
	n, err := s.Store.Update(ctx, collection, filter, change)
	s.report("update", collection, start, err)
	return n, err
}

func (s *ObservedStore) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	start := time.Now()
	n, err := s.Store.Delete(ctx, collection, filter)
	s.report("delete", collection, start, err)
	return n, err
}
