package maker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// Sweep cancels orders that should no longer rest on the book:
//
//   - Pending pairs that went stale, are near close, were cancelled by the
//     operator or lost one leg
//   - the unfilled leg of HalfFilled pairs older than the stale timeout
//   - residual orders of Matched pairs that are stale, near close or blocked
//
// Every cancel is followed by a read so the pair moves on venue truth.
func (e *Engine) Sweep(ctx context.Context) error {
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
		ids, reason := sweepTargets(p, s, now)
		if len(ids) == 0 {
			continue
		}
		e.log.Info("maker: sweeping orders", "pair", shortID(p.ID), "status", p.Status, "reason", reason, "orders", len(ids))
		e.cancelAndConfirm(ctx, p, ids, reason)
	}
	return nil
}

// sweepTargets returns the order ids to cancel and why.
func sweepTargets(p domain.Pair, s domain.Settings, now time.Time) ([]string, string) {
	nearClose := p.MinutesLeft(now) < s.SafetyMarginMinutes
	staleLeg := func(l domain.Leg) bool { return l.Open() && l.Age(now) >= s.StaleAfter() }
	openIDs := func() []string {
		var ids []string
		for _, l := range []domain.Leg{p.Yes, p.No} {
			if l.Open() {
				ids = append(ids, l.OrderID)
			}
		}
		return ids
	}

	switch p.Status {
	case domain.PairPending:
		switch {
		case p.CancelRequested:
			return openIDs(), "cancel requested"
		case nearClose:
			return openIDs(), "near close"
		case p.Yes.OrderStatus.Closed() != p.No.OrderStatus.Closed():
			return openIDs(), "one leg closed"
		case staleLeg(p.Yes) || staleLeg(p.No):
			return openIDs(), "stale"
		}
	case domain.PairHalfFilled:
		_, unfilled, ok := p.SplitLegs()
		if !ok || !unfilled.Open() {
			return nil, ""
		}
		switch {
		case p.CancelRequested:
			return []string{unfilled.OrderID}, "cancel requested"
		case staleLeg(*unfilled):
			return []string{unfilled.OrderID}, "stale"
		}
	case domain.PairMatched:
		if !p.HasOpenLegs() {
			return nil, ""
		}
		switch {
		case p.MergeBlocked:
			return openIDs(), "merge blocked"
		case p.CancelRequested:
			return openIDs(), "cancel requested"
		case nearClose:
			return openIDs(), "near close"
		case staleLeg(p.Yes) || staleLeg(p.No):
			return openIDs(), "stale residual"
		}
	}
	return nil, ""
}

// cancelAndConfirm cancels ids and re-reads them. A cancel that fails because
// the order already closed is fine: the read tells what happened.
func (e *Engine) cancelAndConfirm(ctx context.Context, p domain.Pair, ids []string, reason string) {
	for _, id := range ids {
		cctx, cancel := e.call(ctx)
		err := e.venue.CancelOrder(cctx, id)
		cancel()
		if err != nil && !errors.Is(err, domain.ErrPrecondition) {
			e.log.Warn("maker: cancel failed", "pair", shortID(p.ID), "order", id, "reason", reason, "err", err)
			e.metrics.Error(domain.Classify(err))
			if aerr := e.store.AppendLog(ctx, domain.ErrorEntry(p, err, "cancel failed: "+reason, e.now())); aerr != nil {
				e.log.Warn("maker: append log failed", "err", aerr)
			}
		}
		e.pollOrder(ctx, id)
	}
}
