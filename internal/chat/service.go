package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rnbprasad1/ChatSupport/internal/docstore"
)

// Archiver receives the transcript of a chat after it is explicitly closed.
type Archiver interface {
	Archive(ctx context.Context, chat Chat, messages []Message) error
}

// Service exposes every chat operation over an injected document store.
type Service struct {
	store    docstore.Store
	archiver Archiver // nil disables transcript archival

	lookupTimeout time.Duration
	writeTimeout  time.Duration
}

// NewService creates a chat service. archiver may be nil.
func NewService(store docstore.Store, archiver Archiver) *Service {
	return &Service{
		store:         store,
		archiver:      archiver,
		lookupTimeout: 5 * time.Second,
		writeTimeout:  5 * time.Second,
	}
}

// StartChatInput carries the widget's init form fields plus the optional
// support classification picked from the order detail card.
type StartChatInput struct {
	UserName     string
	Reference    string
	Mobile       string
	SupportType  string
	OrderDetails *Payment
}

// StartChat creates a new open chat session and returns its id.
func (s *Service) StartChat(ctx context.Context, in StartChatInput) (string, error) {
	if strings.TrimSpace(in.UserName) == "" || strings.TrimSpace(in.Reference) == "" {
		return "", fmt.Errorf("%w: name and reference are required", ErrValidation)
	}
	switch in.SupportType {
	case "", SupportRefund, SupportHelp, SupportContact:
	default:
		return "", fmt.Errorf("%w: unknown support type %q", ErrValidation, in.SupportType)
	}

	data := map[string]any{
		"userName":  strings.TrimSpace(in.UserName),
		"reference": strings.TrimSpace(in.Reference),
		"mobile":    strings.TrimSpace(in.Mobile),
		"status":    StatusOpen,
		"createdAt": docstore.ServerTimestamp,
	}
	if in.SupportType != "" {
		data["supportType"] = in.SupportType
	}
	if in.OrderDetails != nil {
		data["orderDetails"] = paymentToData(*in.OrderDetails)
	}

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	id, err := s.store.Create(ctx, docstore.Chats, data)
	if err != nil {
		log.Error().Err(err).Msg("start chat failed")
		return "", fmt.Errorf("%w: create chat: %v", ErrWriteFailed, err)
	}
	return id, nil
}

// GetChat fetches one chat record.
func (s *Service) GetChat(ctx context.Context, chatID string) (Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()
	doc, err := s.store.Get(ctx, docstore.Chats, chatID)
	if err != nil {
		if err == docstore.ErrNotFound {
			return Chat{}, fmt.Errorf("%w: chat %s", ErrNotFound, chatID)
		}
		return Chat{}, fmt.Errorf("%w: get chat: %v", ErrLookupFailed, err)
	}
	return chatFromDoc(doc), nil
}

// SendInput is one outgoing message. At least one of Text, Items or
// SelectedItems must be present.
type SendInput struct {
	Sender        string
	IsAdmin       bool
	Text          string
	Items         []ProductItem // offered for selection (admin order sub-flow)
	SelectedItems []ProductItem // the customer's picked subset
}

// Send appends one immutable message to the chat's log. A blank message with
// no items is rejected client-side: no document is created and no subscriber
// callback fires.
func (s *Service) Send(ctx context.Context, chatID string, in SendInput) error {
	if strings.TrimSpace(in.Text) == "" && len(in.Items) == 0 && len(in.SelectedItems) == 0 {
		return fmt.Errorf("%w: empty message", ErrValidation)
	}

	data := map[string]any{
		"sender":    in.Sender,
		"isAdmin":   in.IsAdmin,
		"timestamp": docstore.ServerTimestamp,
	}
	if text := strings.TrimSpace(in.Text); text != "" {
		data["text"] = text
	}
	if len(in.Items) > 0 {
		data["items"] = productItemsToData(in.Items)
	}
	if len(in.SelectedItems) > 0 {
		data["selectedItems"] = productItemsToData(in.SelectedItems)
	}

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if _, err := s.store.Create(ctx, docstore.MessagesCollection(chatID), data); err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("send message failed")
		return fmt.Errorf("%w: send message: %v", ErrWriteFailed, err)
	}
	return nil
}

// MessageSubscription is a live ordered view of one chat's log. Every
// snapshot is the full message list sorted ascending by server timestamp.
type MessageSubscription struct {
	Snapshots <-chan []Message
	Errors    <-chan error
	cancel    func()
}

// Cancel stops delivery; safe to call more than once.
func (m *MessageSubscription) Cancel() { m.cancel() }

// Subscribe opens a live view of a chat's messages.
func (s *Service) Subscribe(ctx context.Context, chatID string) (*MessageSubscription, error) {
	sub, err := s.store.Subscribe(ctx, docstore.Query{
		Collection: docstore.MessagesCollection(chatID),
		OrderBy:    "timestamp",
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe chat %s: %w", chatID, err)
	}

	snaps := make(chan []Message)
	done := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		defer close(snaps)
		for docs := range sub.Snapshots {
			messages := make([]Message, 0, len(docs))
			for _, doc := range docs {
				messages = append(messages, messageFromDoc(doc))
			}
			select {
			case snaps <- messages:
			case <-done:
				return
			}
		}
	}()

	var stop sync.Once
	return &MessageSubscription{
		Snapshots: snaps,
		Errors:    sub.Errors,
		// Cancel waits for the forwarding goroutine to exit, so once it
		// returns no snapshot can land and nothing is left running.
		cancel: func() {
			stop.Do(func() {
				sub.Cancel()
				close(done)
				<-drained
			})
		},
	}, nil
}

// Messages reads the current full message log once: first snapshot of a
// throwaway subscription.
func (s *Service) Messages(ctx context.Context, chatID string) ([]Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()
	sub, err := s.Subscribe(ctx, chatID)
	if err != nil {
		return nil, err
	}
	defer sub.Cancel()
	select {
	case messages := <-sub.Snapshots:
		return messages, nil
	case err := <-sub.Errors:
		return nil, fmt.Errorf("read messages: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AttachOrder is the admin sub-flow: look the order up and append a message
// offering its line items for the customer to pick from.
func (s *Service) AttachOrder(ctx context.Context, chatID, sender, orderID string) (Payment, error) {
	payment, err := s.LookupOrder(ctx, orderID)
	if err != nil {
		return Payment{}, err
	}
	err = s.Send(ctx, chatID, SendInput{
		Sender:  sender,
		IsAdmin: true,
		Text:    "Please select items for your request:",
		Items:   payment.Items,
	})
	if err != nil {
		return Payment{}, err
	}
	return payment, nil
}
