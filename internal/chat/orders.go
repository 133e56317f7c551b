package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Rnbprasad1/ChatSupport/internal/docstore"
)

// LookupOrder fetches the denormalized order record for a reference. A miss
// returns ErrNotFound; a store failure returns ErrLookupFailed so the caller
// can tell the two apart. Both are logged, neither crashes the session.
func (s *Service) LookupOrder(ctx context.Context, orderID string) (Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Payment{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()
	doc, err := s.store.Get(ctx, docstore.Payments, orderID)
	if errors.Is(err, docstore.ErrNotFound) {
		log.Info().Str("orderId", orderID).Msg("order not found")
		return Payment{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	if err != nil {
		log.Error().Err(err).Str("orderId", orderID).Msg("order lookup failed")
		return Payment{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	payment := paymentFromData(doc.Data)
	if payment.OrderID == "" {
		payment.OrderID = doc.ID
	}
	return payment, nil
}
