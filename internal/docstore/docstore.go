// Package docstore provides the document database boundary: keyed JSON-style
// documents grouped into collections, server-assigned timestamps, and live
// ordered-query subscriptions that deliver the full current snapshot on every
// change.
package docstore

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned when a document id does not exist in a collection.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrClosed is returned when the store has been shut down.
	ErrClosed = errors.New("docstore: store closed")
)

// ServerTimestamp is a sentinel value: fields set to it are replaced by the
// store's own clock at write time.
type serverTimestamp struct{}

var ServerTimestamp = serverTimestamp{}

// Document is one stored record. Data never aliases store internals; callers
// receive their own copy.
type Document struct {
	ID         string
	Data       map[string]any
	ServerTime int64 // store-assigned, totally ordered within a collection
}

// Query describes an ordered collection subscription.
type Query struct {
	Collection string
	OrderBy    string // data field holding the store-assigned write time
	Descending bool
}

// Subscription is a live ordered view of a collection. Snapshots carries the
// full current document list, re-sent on every insert or update, never a
// delta. Errors carries connection loss; after an error the subscription may
// stop producing snapshots.
type Subscription struct {
	Snapshots <-chan []Document
	Errors    <-chan error

	cancel   func()
	stopOnce sync.Once
}

// Cancel stops delivery. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.stopOnce.Do(s.cancel)
}

// Store is the document database collaborator. All persistence, ordering and
// fan-out is delegated to it; the chat layer holds no durable state of its
// own.
type Store interface {
	// Get fetches one document, ErrNotFound on miss.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Create inserts a document with a server-assigned id and timestamp.
	Create(ctx context.Context, collection string, data map[string]any) (string, error)
	// Update shallow-merges patch into an existing document, ErrNotFound on miss.
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	// Subscribe opens a live ordered view of a collection. The first snapshot
	// (possibly empty) is delivered promptly; subsequent snapshots follow each
	// change. Delivery order always matches the query order.
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
}

// MessagesCollection returns the per-chat message log collection path.
func MessagesCollection(chatID string) string {
	return "chats/" + chatID + "/messages"
}

// Chats is the collection holding chat session records.
const Chats = "chats"

// Payments is the collection holding order records, keyed by order id.
const Payments = "payments"

// RefundRequests is the collection holding refund request records.
const RefundRequests = "refundRequests"
