package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Rnbprasad1/ChatSupport/internal/docstore"
)

// RefundInput describes one refund initiation.
type RefundInput struct {
	ChatID            string
	OrderID           string
	CustomerName      string
	Items             []RefundItem
	TotalRefundAmount float64
}

// SubmitRefund creates a pending refund request and stamps the parent chat
// with the refund reference. The two writes are not transactional: when the
// chat stamp fails the refund record stays behind (it is independently
// reconcilable) and the error is returned alongside the created id.
func (s *Service) SubmitRefund(ctx context.Context, in RefundInput) (string, error) {
	if strings.TrimSpace(in.ChatID) == "" || strings.TrimSpace(in.OrderID) == "" {
		return "", fmt.Errorf("%w: chat id and order id are required", ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	refundID, err := s.store.Create(ctx, docstore.RefundRequests, map[string]any{
		"orderId":           in.OrderID,
		"customerName":      in.CustomerName,
		"items":             refundItemsToData(in.Items),
		"totalRefundAmount": in.TotalRefundAmount,
		"status":            RefundPending,
		"reason":            "",
		"createdAt":         docstore.ServerTimestamp,
		"updatedAt":         docstore.ServerTimestamp,
	})
	if err != nil {
		log.Error().Err(err).Str("orderId", in.OrderID).Msg("create refund request failed")
		return "", fmt.Errorf("%w: create refund: %v", ErrWriteFailed, err)
	}

	// The chat stamp is keyed by the chat id, not the order id: the two are
	// different identifier spaces.
	err = s.store.Update(ctx, docstore.Chats, in.ChatID, map[string]any{
		"refundRequestId": refundID,
		"refundStatus":    RefundPending,
		"updatedAt":       docstore.ServerTimestamp,
	})
	if err != nil {
		log.Error().Err(err).
			Str("chatId", in.ChatID).
			Str("refundRequestId", refundID).
			Msg("chat refund stamp failed, refund record left orphaned")
		return refundID, fmt.Errorf("%w: stamp chat: %v", ErrWriteFailed, err)
	}

	return refundID, nil
}

// GetRefund fetches one refund request.
func (s *Service) GetRefund(ctx context.Context, refundID string) (RefundRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()
	doc, err := s.store.Get(ctx, docstore.RefundRequests, refundID)
	if err == docstore.ErrNotFound {
		return RefundRequest{}, fmt.Errorf("%w: refund %s", ErrNotFound, refundID)
	}
	if err != nil {
		return RefundRequest{}, fmt.Errorf("%w: get refund: %v", ErrLookupFailed, err)
	}
	return refundFromDoc(doc), nil
}
