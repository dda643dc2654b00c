package maker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// Settle books the resolution result of every pair still holding shares on a
// closed market, then redeems the winning tokens once per condition when
// AutoRedeem is on.
func (e *Engine) Settle(ctx context.Context) error {
	s, err := e.loadSettings(ctx)
	if err != nil {
		return err
	}
	pairs, err := e.store.UnsettledPairs(ctx)
	if err != nil {
		return fmt.Errorf("unsettled pairs: %w", err)
	}
	now := e.now()

	byCondition := make(map[string][]domain.Pair)
	var order []string
	for _, p := range pairs {
		if !p.Closed(now) {
			continue
		}
		if _, ok := byCondition[p.ConditionID]; !ok {
			order = append(order, p.ConditionID)
		}
		byCondition[p.ConditionID] = append(byCondition[p.ConditionID], p)
	}

	for _, cond := range order {
		cctx, cancel := e.call(ctx)
		res, err := e.markets.Resolution(cctx, cond)
		cancel()
		if err != nil {
			e.log.Debug("maker: resolution lookup failed", "condition", shortID(cond), "err", err)
			continue
		}
		if !res.Resolved || !res.Winner.Valid() {
			continue
		}
		var settled []domain.Pair
		for _, p := range byCondition[cond] {
			if sp, ok := e.settlePair(ctx, p.ID, res.Winner); ok {
				settled = append(settled, sp)
			}
		}
		if s.AutoRedeem && len(settled) > 0 {
			e.redeem(ctx, cond, settled)
		}
	}
	return nil
}

func (e *Engine) settlePair(ctx context.Context, pairID string, winner domain.Outcome) (domain.Pair, bool) {
	pnl := decimal.Zero
	p, err := e.withPair(ctx, pairID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		if !p.NeedsSettlement() {
			return nil, false, nil
		}
		now := e.now()
		v, err := p.Settle(winner, now)
		if err != nil {
			return nil, false, err
		}
		pnl = v
		return []domain.LogEntry{{
			PairID:      p.ID,
			ConditionID: p.ConditionID,
			Kind:        domain.LogSettlement,
			From:        p.Status,
			To:          p.Status,
			Message:     "resolved " + string(winner),
			Detail: map[string]string{
				"winner":   string(winner),
				"held_yes": p.HeldShares(domain.OutcomeYes).String(),
				"held_no":  p.HeldShares(domain.OutcomeNo).String(),
				"pnl":      v.String(),
			},
			CreatedAt: now,
		}}, true, nil
	})
	if err != nil {
		e.log.Warn("maker: settle pair failed", "pair", shortID(pairID), "err", err)
		return p, false
	}
	if !p.Settled() || p.Winner != winner {
		return p, false
	}
	e.log.Info("maker: pair settled", "pair", shortID(p.ID), "asset", p.Asset,
		"status", p.Status, "winner", winner, "pnl", domain.FormatUSD(pnl))
	e.recordPnL(ctx, domain.LogSettlement, pnl)
	return p, true
}

// redeem submits one redeem per condition and records the tx on every
// settled pair. Pairs settled after the redeem reuse its tx.
func (e *Engine) redeem(ctx context.Context, conditionID string, pairs []domain.Pair) {
	txID := e.redeemTx(ctx, conditionID)
	var err error
	if txID == "" {
		negRisk := false
		for _, p := range pairs {
			negRisk = negRisk || p.NegRisk
		}
		cctx, cancel := e.call(ctx)
		txID, err = e.settlement.SubmitRedeem(cctx, conditionID, negRisk)
		cancel()
	}
	if err != nil && txID == "" {
		e.metrics.Error(domain.Classify(err))
		e.log.Warn("maker: redeem failed", "condition", shortID(conditionID), "err", err)
		if aerr := e.store.AppendLog(ctx, domain.ErrorEntry(pairs[0], err, "redeem failed", e.now())); aerr != nil {
			e.log.Warn("maker: append log failed", "err", aerr)
		}
		return
	}
	e.log.Info("maker: redeem submitted", "condition", shortID(conditionID), "tx", txID, "pairs", len(pairs))
	for _, p := range pairs {
		_, werr := e.withPair(ctx, p.ID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
			now := e.now()
			p.RedeemTxID = txID
			p.UpdatedAt = now
			return []domain.LogEntry{{
				PairID: p.ID, ConditionID: p.ConditionID, Kind: domain.LogSettlement,
				From: p.Status, To: p.Status, Message: "redeem submitted",
				Detail:    map[string]string{"tx": txID},
				CreatedAt: now,
			}}, true, nil
		})
		if werr != nil {
			e.log.Warn("maker: record redeem failed", "pair", shortID(p.ID), "err", werr)
		}
	}
}

// redeemTx returns the redeem tx already recorded for the condition, if any.
func (e *Engine) redeemTx(ctx context.Context, conditionID string) string {
	pairs, err := e.store.ListPairs(ctx, domain.PairFilter{ConditionID: conditionID})
	if err != nil {
		return ""
	}
	for _, p := range pairs {
		if p.RedeemTxID != "" {
			return p.RedeemTxID
		}
	}
	return ""
}
