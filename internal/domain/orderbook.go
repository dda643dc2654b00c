package domain

import "github.com/shopspring/decimal"

// OrderBook is the book of a single outcome token.
type OrderBook struct {
	TokenID string
	Bids    []BookEntry // highest price first
	Asks    []BookEntry // lowest price first
}

// BookEntry is one price level.
type BookEntry struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BestBid returns the highest bid, or zero for an empty side.
func (ob OrderBook) BestBid() decimal.Decimal {
	if len(ob.Bids) == 0 {
		return decimal.Zero
	}
	return ob.Bids[0].Price
}

// BestAsk returns the lowest ask, or zero for an empty side.
func (ob OrderBook) BestAsk() decimal.Decimal {
	if len(ob.Asks) == 0 {
		return decimal.Zero
	}
	return ob.Asks[0].Price
}

// Midpoint returns the mid between best bid and best ask. With only one side
// present it returns that side's best price.
func (ob OrderBook) Midpoint() decimal.Decimal {
	bid, ask := ob.BestBid(), ob.BestAsk()
	switch {
	case bid.IsZero() && ask.IsZero():
		return decimal.Zero
	case bid.IsZero():
		return ask
	case ask.IsZero():
		return bid
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2))
}

// Spread returns ask - bid, or zero when either side is empty.
func (ob OrderBook) Spread() decimal.Decimal {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid.IsZero() || ask.IsZero() {
		return decimal.Zero
	}
	return ask.Sub(bid)
}
