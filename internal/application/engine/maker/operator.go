package maker

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// RequestCancel flags a pair for cancellation. The sweeper cancels its open
// orders on the next tick; fills already received are kept.
func (e *Engine) RequestCancel(ctx context.Context, pairID string) (domain.Pair, error) {
	return e.withPair(ctx, pairID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		if p.Status.Terminal() || p.Status == domain.PairMerging {
			return nil, false, fmt.Errorf("pair %s is %s: %w", p.ID, p.Status, domain.ErrPrecondition)
		}
		if p.CancelRequested {
			return nil, false, nil
		}
		now := e.now()
		p.CancelRequested = true
		p.UpdatedAt = now
		return []domain.LogEntry{{
			PairID: p.ID, ConditionID: p.ConditionID, Kind: domain.LogOperator,
			From: p.Status, To: p.Status, Message: "cancel requested", CreatedAt: now,
		}}, true, nil
	})
}

// RearmMerge resets the merge attempts of a Matched pair and clears an
// economic block, making it eligible on the next merge tick.
func (e *Engine) RearmMerge(ctx context.Context, pairID string) (domain.Pair, error) {
	return e.withPair(ctx, pairID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		if p.Status != domain.PairMatched {
			return nil, false, fmt.Errorf("pair %s is %s: %w", p.ID, p.Status, domain.ErrPrecondition)
		}
		now := e.now()
		p.MergeAttempts = 0
		p.MergeBlocked = false
		p.NextMergeAt = now
		p.UpdatedAt = now
		return []domain.LogEntry{{
			PairID: p.ID, ConditionID: p.ConditionID, Kind: domain.LogOperator,
			From: p.Status, To: p.Status, Message: "merge re-armed", CreatedAt: now,
		}}, true, nil
	})
}
