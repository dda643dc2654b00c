package maker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// ManageOrphans handles pairs with exactly one filled leg:
//
//   - at market close the unfilled leg of a HalfFilled pair is cancelled so
//     the pair becomes Orphaned and waits for resolution
//   - once the stop-loss delay passed and the filled side's best bid dropped
//     by more than StopLossPct, the unfilled leg is cancelled and the held
//     shares are sold at the best bid
func (e *Engine) ManageOrphans(ctx context.Context) error {
	s, err := e.loadSettings(ctx)
	if err != nil {
		return err
	}
	active, err := e.store.ActivePairs(ctx)
	if err != nil {
		return fmt.Errorf("active pairs: %w", err)
	}
	now := e.now()
	for _, p := range active {
		if p.Status != domain.PairHalfFilled && p.Status != domain.PairOrphaned {
			continue
		}
		if p.Exit.InFlight() {
			if p.Exit.OrderID == "" {
				e.resolveUnknownExit(ctx, p)
			}
			continue
		}
		_, unfilled, ok := p.SplitLegs()
		if !ok {
			continue
		}

		if p.Status == domain.PairHalfFilled && p.Closed(now) {
			if unfilled.Open() {
				e.cancelAndConfirm(ctx, p, []string{unfilled.OrderID}, "market closed")
			}
			continue
		}

		if !e.stopLossTriggered(p, s, now) {
			continue
		}
		if unfilled.Open() {
			e.cancelAndConfirm(ctx, p, []string{unfilled.OrderID}, "stop-loss")
			// the read decides: a late fill turns it Matched, a cancel Orphaned
			if p, err = e.store.GetPair(ctx, p.ID); err != nil || p.Status != domain.PairOrphaned {
				continue
			}
		}
		if !p.Closed(e.now()) {
			e.placeExit(ctx, p)
		}
	}
	return nil
}

// stopLossTriggered reports whether the filled leg's drawdown exceeds the
// configured threshold after the delay. A drawdown equal to it holds.
func (e *Engine) stopLossTriggered(p domain.Pair, s domain.Settings, now time.Time) bool {
	if !s.StopLossEnabled() || p.Closed(now) {
		return false
	}
	filled, _, ok := p.SplitLegs()
	if !ok || filled.FilledAt == nil || now.Sub(*filled.FilledAt) < s.StopLossDelay() {
		return false
	}
	q, ok := e.quotes.get(filled.TokenID)
	if !ok || !q.BestBid.IsPositive() {
		return false
	}
	dd := domain.Drawdown(filled.FillPrice, q.BestBid)
	threshold := s.StopLossPct.Div(decimal.NewFromInt(100))
	if dd.LessThanOrEqual(threshold) {
		return false
	}
	e.log.Warn("maker: stop-loss triggered",
		"pair", shortID(p.ID), "asset", p.Asset, "side", filled.Outcome,
		"entry", filled.FillPrice, "best_bid", q.BestBid, "drawdown", dd.StringFixed(3))
	return true
}

// placeExit claims the exit on the pair, sells the held shares at the best bid
// and records the venue order id.
func (e *Engine) placeExit(ctx context.Context, orphan domain.Pair) {
	filled, _, ok := orphan.SplitLegs()
	if !ok {
		return
	}
	q, ok := e.quotes.get(filled.TokenID)
	if !ok || !q.BestBid.IsPositive() {
		return
	}
	outcome := filled.Outcome

	// claim: an exit with status UNKNOWN and no order id blocks a second
	// placement until the outcome is known
	p, err := e.withPair(ctx, orphan.ID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		if p.Status != domain.PairOrphaned || p.Exit.InFlight() {
			return nil, false, fmt.Errorf("pair %s no longer eligible for exit: %w", p.ID, domain.ErrPrecondition)
		}
		held := p.HeldShares(outcome)
		if !held.IsPositive() {
			return nil, false, fmt.Errorf("pair %s holds no %s shares: %w", p.ID, outcome, domain.ErrPrecondition)
		}
		now := e.now()
		p.Exit = domain.ExitOrder{
			Outcome:    outcome,
			TokenID:    p.Leg(outcome).TokenID,
			Size:       held,
			Price:      q.BestBid,
			FilledSize: decimal.Zero,
			FillPrice:  decimal.Zero,
			Status:     domain.OrderUnknown,
			PlacedAt:   now,
		}
		p.UpdatedAt = now
		return []domain.LogEntry{{
			PairID:      p.ID,
			ConditionID: p.ConditionID,
			Kind:        domain.LogDecision,
			From:        p.Status,
			To:          p.Status,
			Message:     "stop-loss exit",
			Detail: map[string]string{
				"side":  string(outcome),
				"size":  held.String(),
				"price": q.BestBid.String(),
			},
			CreatedAt: now,
		}}, true, nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrPrecondition) {
			e.log.Warn("maker: claim exit failed", "pair", shortID(orphan.ID), "err", err)
		}
		return
	}

	cctx, cancel := e.call(ctx)
	orderID, perr := e.venue.PlaceOrder(cctx, domain.OrderRequest{
		TokenID: p.Exit.TokenID,
		Side:    domain.SideSell,
		Size:    p.Exit.Size,
		Price:   p.Exit.Price,
		NegRisk: p.NegRisk,
	})
	cancel()
	if perr == nil {
		e.metrics.OrderPlaced(domain.SideSell)
	}

	_, err = e.withPair(ctx, p.ID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		now := e.now()
		switch {
		case perr == nil:
			p.Exit.OrderID = orderID
			p.Exit.Status = domain.OrderOpen
		case errors.Is(perr, domain.ErrUnknownOutcome):
			// stays UNKNOWN until the position balance tells
			return []domain.LogEntry{domain.ErrorEntry(*p, perr, "exit placement outcome unknown", now)}, false, nil
		default:
			p.Exit = domain.ExitOrder{}
		}
		p.UpdatedAt = now
		var entries []domain.LogEntry
		if perr != nil {
			entries = append(entries, domain.ErrorEntry(*p, perr, "exit placement failed", now))
		}
		return entries, true, nil
	})
	if perr != nil {
		e.metrics.Error(domain.Classify(perr))
		e.log.Warn("maker: exit placement failed", "pair", shortID(p.ID), "err", perr)
	}
	if err != nil {
		e.log.Error("maker: record exit failed", "pair", shortID(p.ID), "err", err)
		return
	}
	if perr == nil {
		e.log.Info("maker: exit placed", "pair", shortID(p.ID), "order", orderID,
			"size", p.Exit.Size, "price", p.Exit.Price)
	}
}

// resolveUnknownExit settles an exit whose placement was never acknowledged.
// The exit is only released for a retry once the wallet still holds the
// shares; a lower balance means the sell went through. Shares held by other
// pairs on the market are not counted.
func (e *Engine) resolveUnknownExit(ctx context.Context, orphan domain.Pair) {
	balance, err := e.ownBalance(ctx, orphan.ConditionID, orphan.Exit.TokenID, orphan.ID)
	if err != nil {
		e.log.Debug("maker: position balance failed", "pair", shortID(orphan.ID), "err", err)
		return
	}

	var completed bool
	p, err := e.withPair(ctx, orphan.ID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		if !p.Exit.InFlight() || p.Exit.OrderID != "" {
			return nil, false, nil
		}
		now := e.now()
		held := p.HeldShares(p.Exit.Outcome)
		if balance.GreaterThanOrEqual(held) {
			p.Exit = domain.ExitOrder{}
			p.UpdatedAt = now
			return []domain.LogEntry{{
				PairID: p.ID, ConditionID: p.ConditionID, Kind: domain.LogDecision,
				From: p.Status, To: p.Status, Message: "unknown exit released: shares still held",
				Detail:    map[string]string{"balance": balance.String()},
				CreatedAt: now,
			}}, true, nil
		}
		sold := decimal.Min(held.Sub(balance), p.Exit.Size)
		p.Exit.FilledSize = sold
		p.Exit.FillPrice = p.Exit.Price
		p.Exit.Status = domain.OrderFilled
		tr, err := p.CompleteStopLoss(now)
		if err != nil {
			return nil, false, err
		}
		completed = true
		return []domain.LogEntry{domain.TransitionEntry(*p, tr, "exit confirmed by position balance")}, true, nil
	})
	if err != nil {
		e.log.Warn("maker: resolve unknown exit failed", "pair", shortID(orphan.ID), "err", err)
		return
	}
	if completed {
		e.log.Warn("maker: stop-loss completed", "pair", shortID(p.ID), "pnl", domain.FormatUSD(p.Profit))
		e.recordPnL(ctx, domain.LogDecision, p.Profit)
	}
}
