package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store. Documents are deep-copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	docs   []Document
	unique []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

// Ensure registers a collection and its unique fields.
func (s *MemoryStore) Ensure(ctx context.Context, spec CollectionSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[spec.Name]
	if !ok {
		coll = &memCollection{}
		s.collections[spec.Name] = coll
	}
	coll.unique = append([]string(nil), spec.Unique...)
	return nil
}

func (s *MemoryStore) collection(name string) (*memCollection, error) {
	coll, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return coll, nil
}

// Find returns matching documents.
func (s *MemoryStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	candidates := make([]Document, len(coll.docs))
	copy(candidates, coll.docs)
	return evaluate(candidates, filter, opts)
}

// Count returns the number of matching documents.
func (s *MemoryStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, doc := range coll.docs {
		ok, err := Match(doc, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Insert stores a copy of doc.
func (s *MemoryStore) Insert(ctx context.Context, collection string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := doc[IDField]; !ok {
		return fmt.Errorf("insert into %s: document has no %s", collection, IDField)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collection(collection)
	if err != nil {
		return err
	}
	stored := CopyDocument(doc)
	if err := coll.checkUnique(stored, -1); err != nil {
		return err
	}
	coll.docs = append(coll.docs, stored)
	return nil
}

// Update applies change to every matching document. Either every match is
// updated or, on a unique violation, none is.
func (s *MemoryStore) Update(ctx context.Context, collection string, filter Filter, change Change) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collection(collection)
	if err != nil {
		return 0, err
	}

	var idx []int
	for i, doc := range coll.docs {
		ok, err := Match(doc, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			idx = append(idx, i)
		}
	}
	if change.Empty() {
		return int64(len(idx)), nil
	}

	updated := make(map[int]Document, len(idx))
	for _, i := range idx {
		next := CopyDocument(coll.docs[i])
		if err := ApplyChange(next, change); err != nil {
			return 0, err
		}
		updated[i] = next
	}

	snapshot := append([]Document(nil), coll.docs...)
	for i, doc := range updated {
		coll.docs[i] = doc
	}
	for i := range updated {
		if err := coll.checkUnique(coll.docs[i], i); err != nil {
			coll.docs = snapshot
			return 0, err
		}
	}
	return int64(len(idx)), nil
}

// Delete removes every matching document.
func (s *MemoryStore) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collection(collection)
	if err != nil {
		return 0, err
	}

	kept := coll.docs[:0:0]
	var removed int64
	for _, doc := range coll.docs {
		ok, err := Match(doc, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			removed++
			continue
		}
		kept = append(kept, doc)
	}
	coll.docs = kept
	return removed, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// checkUnique reports ErrDuplicate when doc collides with another document
// on "_id" or any unique field. skip is the index of doc itself, or -1.
func (c *memCollection) checkUnique(doc Document, skip int) error {
	fields := append([]string{IDField}, c.unique...)
	for _, f := range fields {
		v, ok := doc[f]
		if !ok || v == nil {
			continue
		}
		for i, other := range c.docs {
			if i == skip {
				continue
			}
			if w, ok := other[f]; ok && Equal(v, w) {
				return fmt.Errorf("%w: %s", ErrDuplicate, f)
			}
		}
	}
	return nil
}
