// Package memstore is an in-process docstore backend. It backs the
// development profile and the package tests of the domain layer.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/docstore"
)

// Store keeps every collection in memory and publishes update events to
// watchers on the same process.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]*docstore.Document

	subMu sync.RWMutex
	subs  map[string][]*subscriber

	failMu   sync.Mutex
	failNext error
	queries  int
}

func New() *Store {
	return &Store{
		collections: make(map[string]map[string]*docstore.Document),
		subs:        make(map[string][]*subscriber),
	}
}

type subscriber struct {
	ch   chan docstore.ChangeEvent
	done chan struct{}
}

// FailNextQuery makes the next Query call fail with err.
func (s *Store) FailNextQuery(err error) {
	s.failMu.Lock()
	s.failNext = err
	s.failMu.Unlock()
}

// QueryCount returns how many queries reached the store.
func (s *Store) QueryCount() int {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.queries
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.failMu.Lock()
	s.queries++
	err := s.failNext
	s.failNext = nil
	s.failMu.Unlock()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	var docs []docstore.Document
	for _, d := range s.collections[q.Collection] {
		if docstore.Matches(*d, q.Where) {
			docs = append(docs, clone(d))
		}
	}
	s.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		return docstore.CompareAt(docs[i], docstore.CursorAt(docs[j], q.OrderBy), q.OrderBy) < 0
	})

	out := make([]docstore.Document, 0, q.Limit)
	for _, d := range docs {
		if q.StartAfter != nil && docstore.CompareAt(d, *q.StartAfter, q.OrderBy) <= 0 {
			continue
		}
		if q.StartAt != nil && docstore.CompareAt(d, *q.StartAt, q.OrderBy) < 0 {
			continue
		}
		out = append(out, d)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, collection, id string) (*docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.collections[collection][id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	c := clone(d)
	return &c, nil
}

func (s *Store) Create(_ context.Context, collection string, fields map[string]interface{}) (*docstore.Document, error) {
	d := &docstore.Document{ID: uuid.NewString(), Fields: copyFields(fields), Version: 1}
	s.mu.Lock()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]*docstore.Document)
	}
	s.collections[collection][d.ID] = d
	s.mu.Unlock()
	c := clone(d)
	return &c, nil
}

// Put stores a document under a fixed id, replacing any previous content
// without emitting an event. Used for seeding.
func (s *Store) Put(collection, id string, fields map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]*docstore.Document)
	}
	s.collections[collection][id] = &docstore.Document{ID: id, Fields: copyFields(fields), Version: 1}
}

func (s *Store) Update(_ context.Context, collection, id string, fields map[string]interface{}) error {
	return s.mutate(collection, id, func(d *docstore.Document) error {
		for k, v := range fields {
			d.Fields[k] = v
		}
		return nil
	})
}

func (s *Store) Increment(_ context.Context, collection, id, field string, delta int64) error {
	return s.mutate(collection, id, func(d *docstore.Document) error {
		cur, ok := docstore.ToInt64(d.Fields[field])
		if !ok && d.Fields[field] != nil {
			return fmt.Errorf("increment %s.%s: field is not numeric", collection, field)
		}
		d.Fields[field] = cur + delta
		return nil
	})
}

func (s *Store) Claim(_ context.Context, collection, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]*docstore.Document)
	}
	if _, ok := s.collections[collection][id]; ok {
		return false, nil
	}
	s.collections[collection][id] = &docstore.Document{ID: id, Fields: map[string]interface{}{}, Version: 1}
	return true, nil
}

func (s *Store) Ping(context.Context) error { return nil }

// mutate applies fn under the write lock and publishes the before/after pair.
func (s *Store) mutate(collection, id string, fn func(d *docstore.Document) error) error {
	s.mu.Lock()
	d, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return docstore.ErrNotFound
	}
	before := clone(d)
	if err := fn(d); err != nil {
		s.mu.Unlock()
		return err
	}
	d.Version++
	after := clone(d)
	s.mu.Unlock()

	s.publish(docstore.ChangeEvent{
		ID:         fmt.Sprintf("%s/%s@%d", collection, id, after.Version),
		Collection: collection,
		DocumentID: id,
		Before:     &before,
		After:      &after,
	})
	return nil
}

// Watch delivers update events of collection to handler until ctx is done.
func (s *Store) Watch(ctx context.Context, collection string, handler docstore.EventHandler) error {
	sub := &subscriber{ch: make(chan docstore.ChangeEvent, 256), done: make(chan struct{})}
	s.subMu.Lock()
	s.subs[collection] = append(s.subs[collection], sub)
	s.subMu.Unlock()

	defer func() {
		close(sub.done)
		s.subMu.Lock()
		subs := s.subs[collection]
		for i, c := range subs {
			if c == sub {
				s.subs[collection] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.subMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-sub.ch:
			handler(ctx, ev)
		}
	}
}

// Subscribers returns the number of active watchers on collection.
func (s *Store) Subscribers(collection string) int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subs[collection])
}

func (s *Store) publish(ev docstore.ChangeEvent) {
	s.subMu.RLock()
	subs := append([]*subscriber(nil), s.subs[ev.Collection]...)
	s.subMu.RUnlock()
	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}

func clone(d *docstore.Document) docstore.Document {
	return docstore.Document{ID: d.ID, Fields: copyFields(d.Fields), Version: d.Version}
}

func copyFields(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
