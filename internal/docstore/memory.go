package docstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local development. It
// serializes writes under one mutex and assigns strictly increasing server
// timestamps, so two simultaneous writers never produce an ambiguous order.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Document
	subscribers map[*memorySub]struct{}
	lastStamp   int64
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Document),
		subscribers: make(map[*memorySub]struct{}),
	}
}

type memorySub struct {
	query  Query
	notify chan struct{}
	snaps  chan []Document
	errs   chan error
	done   chan struct{}
}

// nextStamp returns a timestamp in unix milliseconds, bumped past the previous
// one when the clock has not advanced. Callers must hold mu.
func (s *MemoryStore) nextStamp() int64 {
	stamp := time.Now().UnixMilli()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp
	return stamp
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Document{}, ErrClosed
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	doc.Data = cloneData(doc.Data)
	return doc, nil
}

func (s *MemoryStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	stamp := s.nextStamp()
	doc := Document{
		ID:         uuid.NewString(),
		Data:       resolveStamps(cloneData(data), stamp),
		ServerTime: stamp,
	}
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]Document)
	}
	s.collections[collection][doc.ID] = doc
	s.wake(collection)
	s.mu.Unlock()
	return doc.ID, nil
}

// Seed inserts a document under a caller-chosen id. Order records are keyed
// by their external order id and written by another system; tests and dev
// fixtures use this to stand in for it.
func (s *MemoryStore) Seed(collection, id string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp := s.nextStamp()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]Document)
	}
	s.collections[collection][id] = Document{
		ID:         id,
		Data:       resolveStamps(cloneData(data), stamp),
		ServerTime: stamp,
	}
	s.wake(collection)
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	stamp := s.nextStamp()
	merged := cloneData(doc.Data)
	for k, v := range resolveStamps(cloneData(patch), stamp) {
		merged[k] = v
	}
	doc.Data = merged
	s.collections[collection][id] = doc
	s.wake(collection)
	return nil
}

// resolveStamps replaces ServerTimestamp sentinels with the assigned stamp.
func resolveStamps(data map[string]any, stamp int64) map[string]any {
	for k, v := range data {
		if _, ok := v.(serverTimestamp); ok {
			data[k] = stamp
		}
	}
	return data
}

func (s *MemoryStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &memorySub{
		query:  q,
		notify: make(chan struct{}, 1),
		snaps:  make(chan []Document),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	go s.deliver(ctx, sub)

	return &Subscription{
		Snapshots: sub.snaps,
		Errors:    sub.errs,
		cancel: func() {
			close(sub.done)
			s.mu.Lock()
			delete(s.subscribers, sub)
			s.mu.Unlock()
		},
	}, nil
}

// deliver pushes the current snapshot, then re-sends it whenever the
// collection changes. Intermediate states may be coalesced but a delivered
// snapshot is always the full list in query order, never a partial view.
func (s *MemoryStore) deliver(ctx context.Context, sub *memorySub) {
	defer close(sub.snaps)
	for {
		snapshot := s.snapshot(sub.query)
		select {
		case sub.snaps <- snapshot:
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		}
		select {
		case <-sub.notify:
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *MemoryStore) snapshot(q Query) []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]Document, 0, len(s.collections[q.Collection]))
	for _, doc := range s.collections[q.Collection] {
		doc.Data = cloneData(doc.Data)
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		a, b := sortKey(docs[i], q.OrderBy), sortKey(docs[j], q.OrderBy)
		if q.Descending {
			return a > b
		}
		return a < b
	})
	return docs
}

func sortKey(doc Document, field string) int64 {
	if field != "" {
		if v, ok := doc.Data[field].(int64); ok {
			return v
		}
	}
	return doc.ServerTime
}

// wake nudges every subscriber of collection. Callers must hold mu. The
// notify channel has capacity one so bursts collapse into a single refresh.
func (s *MemoryStore) wake(collection string) {
	for sub := range s.subscribers {
		if sub.query.Collection != collection {
			continue
		}
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// Close rejects further operations. Open subscriptions keep draining until
// cancelled.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
