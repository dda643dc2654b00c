package maker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// MergeTick checks the economics of Matched pairs, submits merges for the ones
// ready and follows the transactions of Merging pairs.
func (e *Engine) MergeTick(ctx context.Context) error {
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
		switch p.Status {
		case domain.PairMatched:
			if p.MergeBlocked || p.Settled() || p.MergeAttempts >= e.cfg.MaxMergeAttempts {
				continue
			}
			if e.blockIfUneconomic(ctx, p, s) {
				continue
			}
			if p.ReadyToMerge(now) {
				e.submitMerge(ctx, p)
			}
		case domain.PairMerging:
			e.pollMerge(ctx, p)
		}
	}
	return nil
}

// blockIfUneconomic flags a Matched pair whose pair cost misses the limits.
// The pair is then held to resolution and its residual orders are swept.
func (e *Engine) blockIfUneconomic(ctx context.Context, p domain.Pair, s domain.Settings) bool {
	cost, ok := p.CurrentPairCost()
	if !ok {
		return false
	}
	cerr := domain.CheckMergeEconomics(cost, s.MaxPairCost, s.MinSpreadProfit)
	if cerr == nil {
		return false
	}
	_, err := e.withPair(ctx, p.ID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		if p.MergeBlocked || p.Status != domain.PairMatched {
			return nil, false, nil
		}
		now := e.now()
		p.MergeBlocked = true
		p.UpdatedAt = now
		entry := domain.ErrorEntry(*p, cerr, "merge blocked, holding to resolution", now)
		entry.Kind = domain.LogMerge
		entry.Detail["pair_cost"] = cost.String()
		return []domain.LogEntry{entry}, true, nil
	})
	if err != nil {
		e.log.Warn("maker: block merge failed", "pair", shortID(p.ID), "err", err)
		return true
	}
	e.metrics.Error(domain.ClassEconomicReject)
	e.log.Warn("maker: merge blocked", "pair", shortID(p.ID), "asset", p.Asset, "pair_cost", cost, "err", cerr)
	return true
}

// mergeBackoff is base * 2^attempts.
func (e *Engine) mergeBackoff(attempts int) time.Duration {
	if attempts > 16 {
		attempts = 16
	}
	return e.cfg.MergeBackoffBase * time.Duration(1<<attempts)
}

// submitMerge claims the pair, checks that the wallet holds the full sets and
// sends the merge. The claim pushes NextMergeAt forward so no other tick
// submits the same pair while the call is in flight.
func (e *Engine) submitMerge(ctx context.Context, ready domain.Pair) {
	claimUntil := e.now().Add(e.mergeBackoff(0))
	p, err := e.withPair(ctx, ready.ID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		if !p.ReadyToMerge(e.now()) {
			return nil, false, fmt.Errorf("pair %s not ready to merge: %w", p.ID, domain.ErrPrecondition)
		}
		p.NextMergeAt = claimUntil
		return nil, true, nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrPrecondition) {
			e.log.Warn("maker: claim merge failed", "pair", shortID(ready.ID), "err", err)
		}
		return
	}

	amount := p.PairedSize()
	if short, err := e.sharesShort(ctx, p, amount); err != nil || short {
		if err != nil {
			e.log.Debug("maker: position balance failed", "pair", shortID(p.ID), "err", err)
		} else {
			e.log.Info("maker: waiting for shares to settle on chain", "pair", shortID(p.ID), "amount", amount)
		}
		return
	}

	e.log.Info("maker: submitting merge", "pair", shortID(p.ID), "asset", p.Asset,
		"amount", amount, "expected_profit", domain.FormatUSD(p.ExpectedMergeProfit()))
	cctx, cancel := e.call(ctx)
	txID, serr := e.settlement.SubmitMerge(cctx, p.ConditionID, amount, p.NegRisk)
	cancel()
	e.metrics.MergeSubmitted()
	if serr == nil && txID == "" {
		serr = fmt.Errorf("merge returned no tx id: %w", domain.ErrPrecondition)
	}

	_, err = e.withPair(ctx, p.ID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		now := e.now()
		p.MergeAttempts++
		p.UpdatedAt = now
		if txID != "" && (serr == nil || errors.Is(serr, domain.ErrUnknownOutcome)) {
			// a timed out send is followed like a sent one
			tr, err := p.StartMerge(txID, now)
			if err != nil {
				return nil, false, err
			}
			entries := []domain.LogEntry{domain.TransitionEntry(*p, tr, "merge submitted")}
			entries[0].Detail = map[string]string{"tx": txID, "amount": amount.String()}
			if serr != nil {
				entries = append(entries, domain.ErrorEntry(*p, serr, "merge send outcome unknown", now))
			}
			return entries, true, nil
		}
		entries := []domain.LogEntry{domain.ErrorEntry(*p, serr, "merge submit failed", now)}
		entries = append(entries, e.scheduleRetry(p, now)...)
		return entries, true, nil
	})
	if serr != nil {
		e.metrics.Error(domain.Classify(serr))
		e.log.Warn("maker: merge submit failed", "pair", shortID(p.ID), "tx", txID, "err", serr)
	}
	if err != nil {
		e.log.Error("maker: record merge failed", "pair", shortID(p.ID), "tx", txID, "err", err)
	}
}

// sharesShort reports whether the wallet, net of the shares other pairs on
// the market hold, has fewer than amount shares of either outcome token.
func (e *Engine) sharesShort(ctx context.Context, p domain.Pair, amount decimal.Decimal) (bool, error) {
	for _, l := range []domain.Leg{p.Yes, p.No} {
		bal, err := e.ownBalance(ctx, p.ConditionID, l.TokenID, p.ID)
		if err != nil {
			return false, err
		}
		if bal.LessThan(amount) {
			return true, nil
		}
	}
	return false, nil
}

// scheduleRetry sets NextMergeAt after a failed attempt. Once attempts are
// exhausted the pair stays Matched until the reconciler re-arms it.
func (e *Engine) scheduleRetry(p *domain.Pair, now time.Time) []domain.LogEntry {
	if p.MergeAttempts >= e.cfg.MaxMergeAttempts {
		p.NextMergeAt = now.Add(e.cfg.MergeRearmAfter)
		err := fmt.Errorf("merge failed %d times: %w", p.MergeAttempts, domain.ErrIrrecoverable)
		e.log.Error("maker: merge attempts exhausted", "pair", shortID(p.ID), "attempts", p.MergeAttempts)
		e.metrics.Error(domain.ClassIrrecoverable)
		return []domain.LogEntry{domain.ErrorEntry(*p, err, "merge attempts exhausted", now)}
	}
	p.NextMergeAt = now.Add(e.mergeBackoff(p.MergeAttempts))
	return nil
}

// pollMerge follows the merge transaction of a Merging pair.
func (e *Engine) pollMerge(ctx context.Context, merging domain.Pair) {
	cctx, cancel := e.call(ctx)
	status, err := e.settlement.TxStatus(cctx, merging.MergeTxID)
	cancel()
	if err != nil {
		e.log.Debug("maker: merge tx status failed", "pair", shortID(merging.ID), "tx", merging.MergeTxID, "err", err)
		return
	}
	if status == domain.TxPending {
		return
	}

	p, err := e.withPair(ctx, merging.ID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		if p.Status != domain.PairMerging || p.MergeTxID != merging.MergeTxID {
			return nil, false, nil
		}
		now := e.now()
		if status == domain.TxConfirmed {
			tr, err := p.CompleteMerge(now)
			if err != nil {
				return nil, false, err
			}
			entry := domain.TransitionEntry(*p, tr, "merge confirmed")
			entry.Detail = map[string]string{
				"tx":     p.MergeTxID,
				"size":   p.MergedSize.String(),
				"profit": p.Profit.String(),
			}
			return []domain.LogEntry{entry}, true, nil
		}
		tr, err := p.FailMerge(now, now)
		if err != nil {
			return nil, false, err
		}
		entries := []domain.LogEntry{domain.TransitionEntry(*p, tr, "merge tx failed")}
		entries = append(entries, e.scheduleRetry(p, now)...)
		return entries, true, nil
	})
	if err != nil {
		e.log.Error("maker: apply merge result failed", "pair", shortID(merging.ID), "err", err)
		return
	}
	switch p.Status {
	case domain.PairMerged:
		e.log.Info("maker: merge confirmed", "pair", shortID(p.ID), "asset", p.Asset,
			"size", p.MergedSize, "profit", domain.FormatUSD(p.Profit))
		e.recordPnL(ctx, domain.LogMerge, p.Profit)
	case domain.PairMatched:
		e.log.Warn("maker: merge tx failed", "pair", shortID(p.ID), "tx", merging.MergeTxID,
			"attempts", p.MergeAttempts, "next", p.NextMergeAt.Format(time.RFC3339))
	}
}

// rearmMerges resets exhausted merges whose wait passed.
func (e *Engine) rearmMerges(ctx context.Context, active []domain.Pair) {
	now := e.now()
	for _, p := range active {
		if p.Status != domain.PairMatched || p.MergeAttempts < e.cfg.MaxMergeAttempts || now.Before(p.NextMergeAt) {
			continue
		}
		if err := e.rearm(ctx, p.ID, "re-armed by reconciliation", domain.LogMerge); err != nil {
			e.log.Warn("maker: re-arm merge failed", "pair", shortID(p.ID), "err", err)
		}
	}
}

func (e *Engine) rearm(ctx context.Context, pairID, reason string, kind domain.LogKind) error {
	_, err := e.withPair(ctx, pairID, func(p *domain.Pair) ([]domain.LogEntry, bool, error) {
		if p.Status != domain.PairMatched {
			return nil, false, fmt.Errorf("pair %s is %s: %w", p.ID, p.Status, domain.ErrPrecondition)
		}
		now := e.now()
		p.MergeAttempts = 0
		p.NextMergeAt = now
		p.UpdatedAt = now
		return []domain.LogEntry{{
			PairID: p.ID, ConditionID: p.ConditionID, Kind: kind,
			From: p.Status, To: p.Status, Message: reason, CreatedAt: now,
		}}, true, nil
	})
	return err
}
