package polymarket

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// mapOrderBooks converts the /books batch response to a tokenID→OrderBook map.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		result[r.AssetID] = domain.OrderBook{
			TokenID: r.AssetID,
			Bids:    mapBookEntries(r.Bids, false),
			Asks:    mapBookEntries(r.Asks, true),
		}
	}
	return result
}

// mapBookEntries converts raw levels and sorts them.
// ascending=true → lowest first (asks), ascending=false → highest first (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, err1 := decimal.NewFromString(r.Price)
		size, err2 := decimal.NewFromString(r.Size)
		if err1 != nil || err2 != nil || !price.IsPositive() || !size.IsPositive() {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price.LessThan(entries[j].Price)
		}
		return entries[i].Price.GreaterThan(entries[j].Price)
	})
	return entries
}

// decodeStringList decodes Gamma's JSON-in-a-string list fields.
func decodeStringList(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseGammaTime accepts the layouts Gamma uses for endDate.
func parseGammaTime(s string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// isUpDown reports whether a Gamma market is a binary crypto up/down market.
func isUpDown(gm gammaMarket) bool {
	q := strings.ToLower(gm.Question)
	s := strings.ToLower(gm.Slug)
	return strings.Contains(q, "up or down") || strings.Contains(s, "updown") || strings.Contains(s, "up-or-down")
}

// mapGammaMarket converts a Gamma DTO to a domain.Market. The first outcome
// ("Up") is YES. Mid and BestBid start from outcomePrices and are replaced
// with book data when available.
func mapGammaMarket(gm gammaMarket) (domain.Market, error) {
	tokens, err := decodeStringList(gm.ClobTokenIDs)
	if err != nil {
		return domain.Market{}, fmt.Errorf("clobTokenIds: %w", err)
	}
	if len(tokens) != 2 {
		return domain.Market{}, fmt.Errorf("expected 2 tokens, got %d", len(tokens))
	}
	end, ok := parseGammaTime(gm.EndDate)
	if !ok {
		return domain.Market{}, fmt.Errorf("bad endDate %q", gm.EndDate)
	}

	asset := domain.AssetFromText(gm.Slug)
	if asset == "" {
		asset = domain.AssetFromText(gm.Question)
	}

	m := domain.Market{
		ConditionID: gm.ConditionID,
		Asset:       asset,
		Question:    gm.Question,
		Slug:        gm.Slug,
		EndDate:     end,
		NegRisk:     gm.NegRisk,
		Closed:      gm.Closed,
		Yes:         domain.Token{TokenID: tokens[0], Outcome: domain.OutcomeYes},
		No:          domain.Token{TokenID: tokens[1], Outcome: domain.OutcomeNo},
	}

	if prices, err := decodeStringList(gm.OutcomePrices); err == nil && len(prices) == 2 {
		if p, err := decimal.NewFromString(prices[0]); err == nil {
			m.Yes.Mid = p
		}
		if p, err := decimal.NewFromString(prices[1]); err == nil {
			m.No.Mid = p
		}
	}
	return m, nil
}

// applyBook overwrites a token's prices with live book data. Empty books
// keep the Gamma prices.
func applyBook(t *domain.Token, ob domain.OrderBook) {
	if mid := ob.Midpoint(); mid.IsPositive() {
		t.Mid = mid
	}
	t.BestBid = ob.BestBid()
}

// mapResolution derives the winner of a closed market from outcomePrices:
// the resolved side trades at exactly 1.
func mapResolution(gm gammaMarket) domain.Resolution {
	res := domain.Resolution{ConditionID: gm.ConditionID}
	if !gm.Closed {
		return res
	}
	prices, err := decodeStringList(gm.OutcomePrices)
	if err != nil || len(prices) != 2 {
		return res
	}
	one := decimal.NewFromInt(1)
	for i, s := range prices {
		p, err := decimal.NewFromString(s)
		if err != nil || !p.Equal(one) {
			continue
		}
		res.Resolved = true
		res.Winner = domain.OutcomeYes
		if i == 1 {
			res.Winner = domain.OutcomeNo
		}
	}
	return res
}

// mapOrderStatus normalizes a CLOB order status string.
func mapOrderStatus(status string, original, matched decimal.Decimal) domain.OrderStatus {
	if original.IsPositive() && matched.GreaterThanOrEqual(original) {
		return domain.OrderFilled
	}
	switch strings.ToUpper(status) {
	case "MATCHED":
		return domain.OrderFilled
	case "CANCELED", "CANCELLED", "CANCELLATION", "INVALID",
		"CANCELED_MARKET_RESOLVED":
		return domain.OrderCancelled
	case "UNMATCHED":
		return domain.OrderRejected
	}
	return domain.OrderOpen
}

// mapOrderState converts GET /data/order to the domain view. Limit orders
// fill at their own price, so FillPrice is the order price once matched.
func mapOrderState(o clobOrder, now time.Time) domain.OrderState {
	original, _ := decimal.NewFromString(o.OriginalSize)
	matched, _ := decimal.NewFromString(o.SizeMatched)
	price, _ := decimal.NewFromString(o.Price)

	st := domain.OrderState{
		OrderID:    o.ID,
		Status:     mapOrderStatus(o.Status, original, matched),
		FilledSize: matched,
		ObservedAt: now,
		Source:     "poll",
		TokenID:    o.AssetID,
		Side:       domain.OrderSide(strings.ToUpper(o.Side)),
		Price:      price,
	}
	if matched.IsPositive() {
		st.FillPrice = price
	}
	return st
}

// mapOrderEvent converts a user channel "order" event.
func mapOrderEvent(ev wsOrderEvent, now time.Time) domain.OrderState {
	original, _ := decimal.NewFromString(ev.OriginalSize)
	matched, _ := decimal.NewFromString(ev.SizeMatched)
	price, _ := decimal.NewFromString(ev.Price)

	status := ev.Status
	if strings.EqualFold(ev.Type, "CANCELLATION") {
		status = "CANCELED"
	}
	st := domain.OrderState{
		OrderID:    ev.ID,
		Status:     mapOrderStatus(status, original, matched),
		FilledSize: matched,
		ObservedAt: now,
		Source:     "push",
	}
	if matched.IsPositive() {
		st.FillPrice = price
	}
	return st
}
