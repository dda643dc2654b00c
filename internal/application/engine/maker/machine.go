package maker

import (
	"context"
	"errors"
	"fmt"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// mutation changes a locked pair and returns the audit entries to persist
// with it. Returning save=false leaves the stored pair untouched.
type mutation func(p *domain.Pair) (entries []domain.LogEntry, save bool, err error)

// withPair locks pairID, re-reads it and applies fn. The pair and entries are
// saved in one transaction. Network calls never happen inside fn.
func (e *Engine) withPair(ctx context.Context, pairID string, fn mutation) (domain.Pair, error) {
	unlock, err := e.locker.Lock(ctx, pairID)
	if err != nil {
		return domain.Pair{}, fmt.Errorf("lock pair %s: %w", pairID, err)
	}
	defer unlock()

	p, err := e.store.GetPair(ctx, pairID)
	if err != nil {
		return domain.Pair{}, fmt.Errorf("get pair %s: %w", pairID, err)
	}
	before := p.Status

	entries, save, ferr := fn(&p)
	if !save {
		if len(entries) > 0 {
			if err := e.store.AppendLog(ctx, entries...); err != nil {
				e.log.Warn("maker: append log failed", "pair", pairID, "err", err)
			}
		}
		return p, ferr
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("validate pair %s: %w", pairID, err)
	}
	if err := e.store.SavePair(ctx, p, entries...); err != nil {
		return p, fmt.Errorf("save pair %s: %w", pairID, err)
	}
	for _, le := range entries {
		if le.Kind == domain.LogTransition {
			e.metrics.PairTransition(le.From, le.To)
		}
	}
	if before != p.Status {
		e.log.Info("maker: pair transition",
			"pair", shortID(p.ID), "asset", p.Asset, "from", before, "to", p.Status)
	}
	return p, ferr
}

// Observe folds an authoritative order snapshot into the owning pair. Push
// updates and polling both land here; replays are no-ops. Orders that belong
// to no pair are ignored.
func (e *Engine) Observe(ctx context.Context, st domain.OrderState) error {
	owner, err := e.store.FindPairByOrder(ctx, st.OrderID)
	if errors.Is(err, domain.ErrNotFound) {
		e.log.Debug("maker: update for unknown order", "order", st.OrderID, "source", st.Source)
		return nil
	}
	if err != nil {
		return fmt.Errorf("find pair for order %s: %w", st.OrderID, err)
	}

	var stopLoss bool
	p, err := e.withPair(ctx, owner.ID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		now := e.now()
		res, oerr := p.ObserveOrder(st, now)
		if oerr != nil {
			// a fill on a frozen pair needs a human; record it without
			// touching the pair
			entry := domain.ErrorEntry(*p, oerr, "order update rejected", now)
			entry.Detail["order_id"] = st.OrderID
			entry.Detail["filled"] = st.FilledSize.String()
			return []domain.LogEntry{entry}, false, oerr
		}
		if !res.Changed {
			return nil, false, nil
		}
		entries := make([]domain.LogEntry, 0, len(res.Transitions))
		for _, tr := range res.Transitions {
			entries = append(entries, domain.TransitionEntry(*p, tr, "order "+st.Source+": "+string(st.Status)))
			if tr.To == domain.PairStopLoss {
				stopLoss = true
			}
		}
		return entries, true, nil
	})
	if err != nil {
		e.metrics.Error(domain.Classify(err))
		if errors.Is(err, domain.ErrInvalidTransition) {
			e.log.Error("maker: order update on frozen pair", "pair", shortID(owner.ID), "order", st.OrderID, "err", err)
			return nil
		}
		return err
	}
	if stopLoss {
		e.log.Warn("maker: stop-loss completed",
			"pair", shortID(p.ID), "asset", p.Asset, "pnl", domain.FormatUSD(p.Profit))
		e.recordPnL(ctx, domain.LogDecision, p.Profit)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
