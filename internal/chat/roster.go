package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/Rnbprasad1/ChatSupport/internal/docstore"
)

// RosterSubscription is the admin's live list of all chats, newest first.
type RosterSubscription struct {
	Snapshots <-chan []Chat
	Errors    <-chan error
	cancel    func()
}

// Cancel stops delivery; safe to call more than once.
func (r *RosterSubscription) Cancel() { r.cancel() }

// SubscribeRoster opens a live unfiltered view of every chat, ordered by
// creation time descending. Status filtering is a client-side view concern;
// see FilterByStatus.
func (s *Service) SubscribeRoster(ctx context.Context) (*RosterSubscription, error) {
	sub, err := s.store.Subscribe(ctx, docstore.Query{
		Collection: docstore.Chats,
		OrderBy:    "createdAt",
		Descending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe roster: %w", err)
	}

	snaps := make(chan []Chat)
	done := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		defer close(snaps)
		for docs := range sub.Snapshots {
			chats := make([]Chat, 0, len(docs))
			for _, doc := range docs {
				chats = append(chats, chatFromDoc(doc))
			}
			select {
			case snaps <- chats:
			case <-done:
				return
			}
		}
	}()

	var stop sync.Once
	return &RosterSubscription{
		Snapshots: snaps,
		Errors:    sub.Errors,
		cancel: func() {
			stop.Do(func() {
				sub.Cancel()
				close(done)
				<-drained
			})
		},
	}, nil
}

// FilterByStatus narrows an already-fetched roster to one status, preserving
// its order. "all" or empty returns the input unchanged.
func FilterByStatus(chats []Chat, status string) []Chat {
	if status == "" || status == "all" {
		return chats
	}
	filtered := make([]Chat, 0, len(chats))
	for _, c := range chats {
		if c.Status == status {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
