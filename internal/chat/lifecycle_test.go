package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Rnbprasad1/ChatSupport/internal/docstore"
)

// countingStore wraps a Store and counts Update calls.
type countingStore struct {
	docstore.Store
	mu      sync.Mutex
	updates int
}

func (c *countingStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	c.mu.Lock()
	c.updates++
	c.mu.Unlock()
	return c.Store.Update(ctx, collection, id, patch)
}

func (c *countingStore) updateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates
}

func TestExplicitCloseIsIdempotent(t *testing.T) {
	mem := docstore.NewMemoryStore()
	counting := &countingStore{Store: mem}
	svc := NewService(counting, nil)
	ctx := context.Background()
	chatID := startChat(t, svc)

	sess, err := svc.OpenSession(ctx, chatID)
	require.NoError(t, err)

	require.NoError(t, sess.Close(ctx))
	chat, err := svc.GetChat(ctx, chatID)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, chat.Status)
	require.NotZero(t, chat.ClosedAt)
	closedAt := chat.ClosedAt
	writes := counting.updateCount()
	require.Equal(t, 1, writes)

	// Second close: zero additional writes, same closedAt stamp.
	require.NoError(t, sess.Close(ctx))
	require.Equal(t, writes, counting.updateCount())
	chat, err = svc.GetChat(ctx, chatID)
	require.NoError(t, err)
	require.Equal(t, closedAt, chat.ClosedAt)
}

func TestCloseChatByIDIsIdempotent(t *testing.T) {
	mem := docstore.NewMemoryStore()
	counting := &countingStore{Store: mem}
	svc := NewService(counting, nil)
	ctx := context.Background()
	chatID := startChat(t, svc)

	require.NoError(t, svc.CloseChat(ctx, chatID))
	require.Equal(t, 1, counting.updateCount())
	require.NoError(t, svc.CloseChat(ctx, chatID))
	require.Equal(t, 1, counting.updateCount(), "closed is terminal")
}

func TestDetachWithoutCloseLeavesStatusUntouched(t *testing.T) {
	mem := docstore.NewMemoryStore()
	counting := &countingStore{Store: mem}
	svc := NewService(counting, nil)
	ctx := context.Background()
	chatID := startChat(t, svc)

	sess, err := svc.OpenSession(ctx, chatID)
	require.NoError(t, err)
	require.NoError(t, sess.Detach(ctx))

	require.Equal(t, 0, counting.updateCount(), "no fallback status write")
	chat, err := svc.GetChat(ctx, chatID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, chat.Status)
	require.Zero(t, chat.ClosedAt, "no spurious closedAt on navigate-away")
}

func TestDetachDefaultsMissingStatusToOpen(t *testing.T) {
	mem := docstore.NewMemoryStore()
	svc := NewService(mem, nil)
	ctx := context.Background()

	// A chat record that never got a status assigned.
	id, err := mem.Create(ctx, docstore.Chats, map[string]any{
		"userName":  "Priya",
		"reference": "REF-1",
		"createdAt": docstore.ServerTimestamp,
	})
	require.NoError(t, err)

	sess, err := svc.OpenSession(ctx, id)
	require.NoError(t, err)
	require.NoError(t, sess.Detach(ctx))

	chat, err := svc.GetChat(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, chat.Status)
}

func TestDetachAfterCloseWritesNothing(t *testing.T) {
	mem := docstore.NewMemoryStore()
	counting := &countingStore{Store: mem}
	svc := NewService(counting, nil)
	ctx := context.Background()
	chatID := startChat(t, svc)

	sess, err := svc.OpenSession(ctx, chatID)
	require.NoError(t, err)
	require.NoError(t, sess.Close(ctx))
	writes := counting.updateCount()

	require.NoError(t, sess.Detach(ctx))
	require.Equal(t, writes, counting.updateCount())
}

func TestSessionStreamsMessages(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	chatID := startChat(t, svc)

	sess, err := svc.OpenSession(ctx, chatID)
	require.NoError(t, err)
	defer sess.Detach(ctx)

	sub := &MessageSubscription{Snapshots: sess.Messages(), Errors: sess.Errors(), cancel: func() {}}
	require.Empty(t, nextMessages(t, sub))

	require.NoError(t, svc.Send(ctx, chatID, SendInput{Sender: "Priya", Text: "hi"}))
	messages := nextMessages(t, sub)
	require.Len(t, messages, 1)
	require.Equal(t, "hi", messages[0].Text)
}

type recordingArchiver struct {
	mu       sync.Mutex
	chats    []Chat
	messages [][]Message
}

func (r *recordingArchiver) Archive(_ context.Context, chat Chat, messages []Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, chat)
	r.messages = append(r.messages, messages)
	return nil
}

func TestCloseHandsTranscriptToArchiver(t *testing.T) {
	mem := docstore.NewMemoryStore()
	archiver := &recordingArchiver{}
	svc := NewService(mem, archiver)
	ctx := context.Background()
	chatID := startChat(t, svc)

	require.NoError(t, svc.Send(ctx, chatID, SendInput{Sender: "Priya", Text: "hello"}))
	require.NoError(t, svc.CloseChat(ctx, chatID))

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	require.Len(t, archiver.chats, 1)
	require.Equal(t, StatusClosed, archiver.chats[0].Status)
	require.Len(t, archiver.messages[0], 1)
	require.Equal(t, "hello", archiver.messages[0][0].Text)
}
