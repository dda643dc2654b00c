package maker

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// Reconcile re-reads every open order and merge transaction from the venue
// and the chain, resolves placements that timed out, settles resolved markets, re-arms exhausted merges and
// recomputes the stats. It runs before anything is placed at startup and
// periodically afterwards to cover lost push updates.
func (e *Engine) Reconcile(ctx context.Context) error {
	active, err := e.store.ActivePairs(ctx)
	if err != nil {
		return fmt.Errorf("active pairs: %w", err)
	}

	if err := e.PollOrders(ctx, active); err != nil {
		return err
	}
	e.resolveUnacked(ctx, active)
	for _, p := range active {
		if p.Status == domain.PairMerging {
			e.pollMerge(ctx, p)
		}
	}

	if err := e.Settle(ctx); err != nil {
		e.log.Warn("maker: settlement pass failed", "err", err)
	}

	// re-read: polling may have moved pairs
	active, err = e.store.ActivePairs(ctx)
	if err != nil {
		return fmt.Errorf("active pairs: %w", err)
	}
	e.rearmMerges(ctx, active)

	return e.refreshStats(ctx)
}

func (e *Engine) refreshStats(ctx context.Context) error {
	all, err := e.store.ListPairs(ctx, domain.PairFilter{})
	if err != nil {
		return fmt.Errorf("list pairs: %w", err)
	}
	stats := domain.ComputeStats(all, e.now())
	e.mu.Lock()
	e.stats = stats
	e.mu.Unlock()
	e.metrics.SetStats(stats)
	e.log.Debug("maker: stats",
		"pairs", stats.TotalPairs, "merged", stats.MergedPairs,
		"fill_rate", stats.FillRate.StringFixed(3), "profit", domain.FormatUSD(stats.TotalProfit))
	return nil
}
