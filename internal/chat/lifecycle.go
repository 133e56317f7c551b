package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rnbprasad1/ChatSupport/internal/docstore"
)

// Session binds a live message subscription to the chat's open/close
// lifecycle. Status only ever moves open -> closed; closed is terminal.
//
// Close is the explicit transition: local intent is recorded before the
// status write, so a second Close (or a Detach racing it) is a no-op.
// Detach is the implicit one: navigating away without ending the chat leaves
// the status untouched, except that a chat which never got a status is
// defaulted to open. This keeps abandoned-but-live chats on the admin roster
// without stamping a spurious closedAt.
type Session struct {
	svc    *Service
	chatID string
	sub    *MessageSubscription

	mu     sync.Mutex
	closed bool // local intent, set before the status write
}

// OpenSession subscribes to a chat's log and returns the lifecycle handle.
func (s *Service) OpenSession(ctx context.Context, chatID string) (*Session, error) {
	sub, err := s.Subscribe(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return &Session{svc: s, chatID: chatID, sub: sub}, nil
}

// Messages is the live ordered snapshot stream.
func (sess *Session) Messages() <-chan []Message { return sess.sub.Snapshots }

// Errors surfaces subscription trouble (connection loss) instead of letting
// the message list silently freeze.
func (sess *Session) Errors() <-chan error { return sess.sub.Errors }

// ChatID identifies the chat this session is bound to.
func (sess *Session) ChatID() string { return sess.chatID }

// Close ends the chat: one status write with a closedAt stamp, then the
// subscription detaches. Calling it again returns nil without touching the
// store.
func (sess *Session) Close(ctx context.Context) error {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return nil
	}
	sess.closed = true
	sess.mu.Unlock()

	defer sess.sub.Cancel()

	ctx, cancel := context.WithTimeout(ctx, sess.svc.writeTimeout)
	defer cancel()
	err := sess.svc.store.Update(ctx, docstore.Chats, sess.chatID, map[string]any{
		"status":   StatusClosed,
		"closedAt": docstore.ServerTimestamp,
	})
	if err != nil {
		log.Error().Err(err).Str("chatId", sess.chatID).Msg("close chat failed")
		return fmt.Errorf("%w: close chat: %v", ErrWriteFailed, err)
	}

	sess.svc.archiveTranscript(ctx, sess.chatID)
	return nil
}

// Detach cancels the subscription without closing the chat. No status write
// happens unless the chat record has no status at all, in which case it is
// defaulted to open.
func (sess *Session) Detach(ctx context.Context) error {
	sess.sub.Cancel()

	sess.mu.Lock()
	closed := sess.closed
	sess.mu.Unlock()
	if closed {
		return nil
	}

	chat, err := sess.svc.GetChat(ctx, sess.chatID)
	if err != nil {
		return err
	}
	if chat.Status != "" {
		return nil
	}
	err = sess.svc.store.Update(ctx, docstore.Chats, sess.chatID, map[string]any{
		"status": StatusOpen,
	})
	if err != nil {
		return fmt.Errorf("%w: default chat status: %v", ErrWriteFailed, err)
	}
	return nil
}

// archiveTranscript hands the closed chat to the archiver when one is
// configured. Failures are logged only; the close already succeeded.
func (s *Service) archiveTranscript(ctx context.Context, chatID string) {
	if s.archiver == nil {
		return
	}
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("archive: read chat failed")
		return
	}
	messages, err := s.Messages(ctx, chatID)
	if err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("archive: read transcript failed")
		return
	}
	if err := s.archiver.Archive(ctx, chat, messages); err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("archive transcript failed")
	}
}

// CloseChat performs an explicit close without a live session handle, for
// callers that only hold the chat id. Closing an already closed chat is a
// no-op.
func (s *Service) CloseChat(ctx context.Context, chatID string) error {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Status == StatusClosed {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	err = s.store.Update(ctx, docstore.Chats, chatID, map[string]any{
		"status":   StatusClosed,
		"closedAt": docstore.ServerTimestamp,
	})
	if err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("close chat failed")
		return fmt.Errorf("%w: close chat: %v", ErrWriteFailed, err)
	}
	s.archiveTranscript(ctx, chatID)
	return nil
}
