package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of a venue order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus is the normalized venue status of a single order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
	// OrderUnknown marks a placement whose outcome was never acknowledged.
	OrderUnknown OrderStatus = "UNKNOWN"
)

// Closed reports whether the order can no longer receive fills.
func (s OrderStatus) Closed() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// OrderRequest is a limit order sent to the venue.
type OrderRequest struct {
	TokenID string
	Side    OrderSide
	Size    decimal.Decimal // shares
	Price   decimal.Decimal
	NegRisk bool
}

// Notional returns size * price.
func (r OrderRequest) Notional() decimal.Decimal {
	return r.Size.Mul(r.Price)
}

// OrderState is the venue's authoritative view of an order. FilledSize is
// always cumulative, never a delta.
type OrderState struct {
	OrderID    string
	Status     OrderStatus
	FilledSize decimal.Decimal
	FillPrice  decimal.Decimal // average price of the filled size, zero if unknown
	ObservedAt time.Time
	Source     string // "push" or "poll"

	// Set only when read from an order listing.
	TokenID string
	Side    OrderSide
	Price   decimal.Decimal
}

// TxStatus is the on-chain state of a submitted settlement transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)
