package maker

import (
	"context"
	"errors"
	"time"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// resolveUnacked lists the open orders of every market with an active pair
// and settles what the venue knows that the store does not:
//
//   - an unacknowledged leg adopts the unowned BUY order on its token at its
//     bid price
//   - an unacknowledged leg with no such order is closed after UnackedWindow,
//     filled by whatever the wallet gained on its token
//   - any other unowned order is cancelled once it rested for UnackedWindow
func (e *Engine) resolveUnacked(ctx context.Context, active []domain.Pair) {
	byCond := make(map[string][]domain.Pair)
	var conds []string
	for _, p := range active {
		if !p.Active() {
			continue
		}
		if _, ok := byCond[p.ConditionID]; !ok {
			conds = append(conds, p.ConditionID)
		}
		byCond[p.ConditionID] = append(byCond[p.ConditionID], p)
	}

	now := e.now()
	seen := make(map[string]bool)
	complete := true
	for _, cond := range conds {
		unowned, err := e.unownedOrders(ctx, cond)
		if err != nil {
			e.log.Warn("maker: list open orders failed", "market", cond, "err", err)
			e.metrics.Error(domain.Classify(err))
			complete = false
			continue
		}
		for _, p := range byCond[cond] {
			for _, o := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
				leg := p.Leg(o)
				if !leg.Unacked() {
					continue
				}
				if i := matchUnacked(unowned, *leg); i >= 0 {
					e.adoptOrder(ctx, p.ID, o, unowned[i])
					unowned = append(unowned[:i], unowned[i+1:]...)
					continue
				}
				if leg.Age(now) >= e.cfg.UnackedWindow {
					e.closeUnacked(ctx, p, o)
				}
			}
		}
		for _, st := range unowned {
			seen[st.OrderID] = true
			if now.Sub(e.strayFirstSeen(st.OrderID, now)) >= e.cfg.UnackedWindow {
				e.cancelStray(ctx, cond, st)
			}
		}
	}
	if complete {
		e.pruneStrays(seen)
	}
}

// unownedOrders returns the open orders on conditionID that no pair owns.
func (e *Engine) unownedOrders(ctx context.Context, conditionID string) ([]domain.OrderState, error) {
	cctx, cancel := e.call(ctx)
	orders, err := e.venue.OpenOrders(cctx, conditionID)
	cancel()
	if err != nil {
		return nil, err
	}
	var out []domain.OrderState
	for _, st := range orders {
		_, err := e.store.FindPairByOrder(ctx, st.OrderID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			out = append(out, st)
		case err != nil:
			return nil, err
		}
	}
	return out, nil
}

func matchUnacked(orders []domain.OrderState, leg domain.Leg) int {
	for i, st := range orders {
		if st.TokenID == leg.TokenID && st.Side == domain.SideBuy && st.Price.Equal(leg.BidPrice) {
			return i
		}
	}
	return -1
}

func (e *Engine) adoptOrder(ctx context.Context, pairID string, o domain.Outcome, st domain.OrderState) {
	p, err := e.withPair(ctx, pairID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		if !p.Leg(o).Unacked() {
			return nil, false, nil
		}
		now := e.now()
		res, err := p.AdoptOrder(o, st, now)
		if err != nil {
			return nil, false, err
		}
		entries := []domain.LogEntry{{
			PairID:      p.ID,
			ConditionID: p.ConditionID,
			Kind:        domain.LogDecision,
			Message:     "adopted unacknowledged order",
			Detail:      map[string]string{"outcome": string(o), "order_id": st.OrderID},
			CreatedAt:   now,
		}}
		for _, tr := range res.Transitions {
			entries = append(entries, domain.TransitionEntry(*p, tr, "order adopted: "+string(st.Status)))
		}
		return entries, true, nil
	})
	if err != nil {
		e.log.Warn("maker: adopt order failed", "pair", shortID(pairID), "order", st.OrderID, "err", err)
		e.metrics.Error(domain.Classify(err))
		return
	}
	e.log.Info("maker: adopted unacknowledged order", "pair", shortID(p.ID), "outcome", o, "order", st.OrderID)
	e.subscribeOrders(ctx, []domain.Pair{p})
}

// closeUnacked closes a leg whose order never showed up on the book. The
// shares the wallet gained on the leg's token are its fills.
func (e *Engine) closeUnacked(ctx context.Context, p domain.Pair, o domain.Outcome) {
	leg := p.Leg(o)
	filled, err := e.ownBalance(ctx, p.ConditionID, leg.TokenID, p.ID)
	if err != nil {
		e.log.Warn("maker: balance check failed", "pair", shortID(p.ID), "token", leg.TokenID, "err", err)
		e.metrics.Error(domain.Classify(err))
		return
	}
	_, err = e.withPair(ctx, p.ID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		if !p.Leg(o).Unacked() {
			return nil, false, nil
		}
		now := e.now()
		res, err := p.CloseUnacked(o, filled, now)
		if err != nil {
			return nil, false, err
		}
		entries := []domain.LogEntry{{
			PairID:      p.ID,
			ConditionID: p.ConditionID,
			Kind:        domain.LogDecision,
			Message:     "closed unacknowledged order",
			Detail:      map[string]string{"outcome": string(o), "filled": p.Leg(o).FilledSize.String()},
			CreatedAt:   now,
		}}
		for _, tr := range res.Transitions {
			entries = append(entries, domain.TransitionEntry(*p, tr, "unacknowledged order closed"))
		}
		return entries, true, nil
	})
	if err != nil {
		e.log.Warn("maker: close unacknowledged leg failed", "pair", shortID(p.ID), "outcome", o, "err", err)
		e.metrics.Error(domain.Classify(err))
		return
	}
	e.log.Info("maker: closed unacknowledged leg", "pair", shortID(p.ID), "outcome", o, "filled", filled)
}

func (e *Engine) cancelStray(ctx context.Context, conditionID string, st domain.OrderState) {
	cctx, cancel := e.call(ctx)
	err := e.venue.CancelOrder(cctx, st.OrderID)
	cancel()
	if err != nil && !errors.Is(err, domain.ErrPrecondition) {
		e.log.Warn("maker: cancel unowned order failed", "market", conditionID, "order", st.OrderID, "err", err)
		e.metrics.Error(domain.Classify(err))
		return
	}
	e.log.Warn("maker: cancelled unowned order",
		"market", conditionID, "order", st.OrderID, "token", st.TokenID, "side", st.Side, "price", st.Price)
	entry := domain.LogEntry{
		ConditionID: conditionID,
		Kind:        domain.LogDecision,
		Message:     "cancelled unowned order",
		Detail: map[string]string{
			"order_id": st.OrderID,
			"token_id": st.TokenID,
			"side":     string(st.Side),
			"price":    st.Price.String(),
			"filled":   st.FilledSize.String(),
		},
		CreatedAt: e.now(),
	}
	if err := e.store.AppendLog(ctx, entry); err != nil {
		e.log.Warn("maker: append log failed", "err", err)
	}
	e.strayMu.Lock()
	delete(e.strays, st.OrderID)
	e.strayMu.Unlock()
}

func (e *Engine) strayFirstSeen(orderID string, now time.Time) time.Time {
	e.strayMu.Lock()
	defer e.strayMu.Unlock()
	first, ok := e.strays[orderID]
	if !ok {
		e.strays[orderID] = now
		return now
	}
	return first
}

func (e *Engine) pruneStrays(seen map[string]bool) {
	e.strayMu.Lock()
	defer e.strayMu.Unlock()
	for id := range e.strays {
		if !seen[id] {
			delete(e.strays, id)
		}
	}
}
