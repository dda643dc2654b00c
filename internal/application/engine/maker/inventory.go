package maker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// siblingShares sums the shares of tokenID still held by the unsettled pairs
// of conditionID other than pairID. Pairs on one market share the wallet
// balance of its tokens, so balance checks subtract these first.
func (e *Engine) siblingShares(ctx context.Context, conditionID, tokenID, pairID string) (decimal.Decimal, error) {
	pairs, err := e.store.ListPairs(ctx, domain.PairFilter{ConditionID: conditionID})
	if err != nil {
		return decimal.Zero, fmt.Errorf("pairs on %s: %w", conditionID, err)
	}
	total := decimal.Zero
	for _, p := range pairs {
		if p.ID == pairID || p.Settled() {
			continue
		}
		for _, o := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
			if p.Leg(o).TokenID == tokenID {
				total = total.Add(p.HeldShares(o))
			}
		}
	}
	return total, nil
}

// ownBalance is the wallet balance of tokenID attributable to pairID.
func (e *Engine) ownBalance(ctx context.Context, conditionID, tokenID, pairID string) (decimal.Decimal, error) {
	cctx, cancel := e.call(ctx)
	bal, err := e.settlement.PositionBalance(cctx, tokenID)
	cancel()
	if err != nil {
		return decimal.Zero, err
	}
	others, err := e.siblingShares(ctx, conditionID, tokenID, pairID)
	if err != nil {
		return decimal.Zero, err
	}
	return bal.Sub(others), nil
}
