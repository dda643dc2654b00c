package ports

import (
	"context"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// OrderVenue places, cancels and reads limit orders.
//
// Mutating calls that time out return an error wrapping
// domain.ErrUnknownOutcome; callers resolve them with GetOrder.
type OrderVenue interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
	// GetOrder returns the authoritative state with the cumulative filled size.
	GetOrder(ctx context.Context, orderID string) (domain.OrderState, error)
	// OpenOrders lists the wallet's live orders on a market, with TokenID,
	// Side and Price set.
	OpenOrders(ctx context.Context, conditionID string) ([]domain.OrderState, error)
}

// OrderFeed pushes order updates for the wallet. Delivery is best effort:
// updates may be duplicated, reordered or lost.
type OrderFeed interface {
	Subscribe(ctx context.Context, conditionIDs []string) error
	OnOrderUpdate(fn func(domain.OrderState))
}

// PriceFeed pushes best bid and mid updates for outcome tokens.
type PriceFeed interface {
	Subscribe(ctx context.Context, tokenIDs []string) error
	OnPriceTick(fn func(domain.PriceTick))
}
