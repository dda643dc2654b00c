package maker_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mintmaker/internal/application/engine/maker"
	"github.com/alejandrodnm/mintmaker/internal/domain"
)

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// matchedPair places a pair and fills both legs at their bids.
func matchedPair(t *testing.T, h *harness) domain.Pair {
	t.Helper()
	p := h.placeOne(t)
	h.venue.fill(p.Yes.OrderID, ten, dec("0.45"))
	h.venue.fill(p.No.OrderID, ten, dec("0.48"))
	require.NoError(t, h.eng.Reconcile(context.Background()))
	p = h.pair(t, p.ID)
	require.Equal(t, domain.PairMatched, p.Status)
	return p
}

// halfFilledPair places a pair and fills only the YES leg.
func halfFilledPair(t *testing.T, h *harness) domain.Pair {
	t.Helper()
	p := h.placeOne(t)
	h.venue.fill(p.Yes.OrderID, ten, dec("0.45"))
	require.NoError(t, h.eng.Reconcile(context.Background()))
	p = h.pair(t, p.ID)
	require.Equal(t, domain.PairHalfFilled, p.Status)
	return p
}

// siblingOn stores a second Matched pair on p's market holding 10 shares of
// each token. It is merge-blocked so only p is acted on.
func siblingOn(t *testing.T, h *harness, p domain.Pair) domain.Pair {
	t.Helper()
	sib := p
	sib.ID = "pair-sibling"
	sib.Yes.OrderID, sib.No.OrderID = "sib-yes", "sib-no"
	for _, l := range []*domain.Leg{&sib.Yes, &sib.No} {
		l.FilledSize = ten
		l.FillPrice = l.BidPrice
		l.OrderStatus = domain.OrderFilled
	}
	sib.Status = domain.PairMatched
	sib.MergeBlocked = true
	sib.Exit = domain.ExitOrder{}
	require.NoError(t, h.store.SavePair(context.Background(), sib))
	return sib
}

// ─── eligibility and planning ────────────────────────────────────────────────

func TestFilterEligible(t *testing.T) {
	s := domain.DefaultSettings() // BTC, ETH; 3..14 minutes
	closed := testMarket("0xe", "BTC", t0.Add(10*time.Minute))
	closed.Closed = true
	noToken := testMarket("0xf", "BTC", t0.Add(10*time.Minute))
	noToken.No.TokenID = ""

	markets := []domain.Market{
		testMarket("0xa", "BTC", t0.Add(10*time.Minute)),
		testMarket("0xb", "ETH", t0.Add(2*time.Minute)),
		testMarket("0xc", "BTC", t0.Add(20*time.Minute)),
		testMarket("0xd", "SOL", t0.Add(10*time.Minute)),
		closed,
		noToken,
		testMarket("0xg", "eth", t0.Add(5*time.Minute)),
	}

	got := maker.FilterEligible(markets, s, t0)
	require.Len(t, got, 2)
	assert.Equal(t, "0xg", got[0].ConditionID, "soonest close first")
	assert.Equal(t, "0xa", got[1].ConditionID)
	assert.InDelta(t, 10.0, got[1].MinutesLeft, 1e-9)
}

func TestPlanPair(t *testing.T) {
	s := domain.DefaultSettings() // 2 cents offset, max 0.97, min spread 0.02
	s.AutoPlaceSize = ten

	t.Run("bids are mid minus offset", func(t *testing.T) {
		plan, err := maker.PlanPair(testMarket("0xa", "BTC", t0), s)
		require.NoError(t, err)
		assertDec(t, "0.45", plan.YesBid)
		assertDec(t, "0.48", plan.NoBid)
		assertDec(t, "0.93", plan.PairCost)
		assertDec(t, "9.3", plan.Notional())
	})

	t.Run("rounded down to the tick", func(t *testing.T) {
		assertDec(t, "0.45", maker.BidFor(dec("0.479"), dec("0.02")))
	})

	t.Run("economic reject", func(t *testing.T) {
		m := testMarket("0xa", "BTC", t0)
		m.Yes.Mid, m.No.Mid = dec("0.52"), dec("0.51")
		_, err := maker.PlanPair(m, s)
		assert.ErrorIs(t, err, domain.ErrEconomicReject)
	})

	t.Run("bid out of range", func(t *testing.T) {
		m := testMarket("0xa", "BTC", t0)
		m.Yes.Mid = dec("0.02")
		_, err := maker.PlanPair(m, s)
		assert.ErrorIs(t, err, domain.ErrPrecondition)
	})
}

// ─── placement ───────────────────────────────────────────────────────────────

func TestScanAndPlace_PlacesBothLegs(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	p := h.placeOne(t)

	assert.Equal(t, domain.PairPending, p.Status)
	assert.Equal(t, "0xc1", p.ConditionID)
	assert.Equal(t, "o-1", p.Yes.OrderID)
	assert.Equal(t, "o-2", p.No.OrderID)
	assertDec(t, "0.45", p.Yes.BidPrice)
	assertDec(t, "0.48", p.No.BidPrice)

	req := h.venue.request("o-1")
	assert.Equal(t, domain.SideBuy, req.Side)
	assert.Equal(t, "0xc1-yes", req.TokenID)
	assertDec(t, "10", req.Size)

	assert.Contains(t, h.prices.ids, "0xc1-no")
	require.Len(t, h.eng.Markets(), 1)

	// max_pairs_per_market = 1
	require.NoError(t, h.eng.ScanAndPlace(context.Background()))
	assert.Len(t, h.venue.placedIDs(), 2)
}

func TestScanAndPlace_NothingPlaced(t *testing.T) {
	tests := []struct {
		name  string
		cfg   maker.Config
		tweak func(*domain.Settings)
	}{
		{name: "dry run", cfg: maker.Config{DryRun: true}},
		{name: "auto place off", tweak: func(s *domain.Settings) { s.AutoPlace = false }},
		{name: "capital cap", tweak: func(s *domain.Settings) { s.MaxDeployedUSD = dec("5") }},
		{name: "asset disabled", tweak: func(s *domain.Settings) { s.Assets = []string{"SOL"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			if tt.tweak != nil {
				tt.tweak(&s)
			}
			h := newHarness(t, tt.cfg, s)
			require.NoError(t, h.eng.ScanAndPlace(context.Background()))
			assert.Empty(t, h.venue.placedIDs())
		})
	}
}

func TestScanAndPlace_BreakerBlocksPlacement(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	ctx := context.Background()
	cb := domain.NewCircuitBreaker(3, time.Hour, dec("-50"))
	cb.Triggered = true
	cb.TriggeredReason = "max drawdown exceeded"
	require.NoError(t, h.store.SaveCircuitBreaker(ctx, *cb))

	require.NoError(t, h.eng.Start(ctx))
	require.NoError(t, h.eng.ScanAndPlace(ctx))
	assert.Empty(t, h.venue.placedIDs())

	require.NoError(t, h.eng.ResetBreaker(ctx))
	require.NoError(t, h.eng.ScanAndPlace(ctx))
	assert.Len(t, h.venue.placedIDs(), 2)
}

func TestScanAndPlace_FailedNoLegIsSweptAway(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	h.venue.placeErr = func(req domain.OrderRequest) error {
		if req.TokenID == "0xc1-no" {
			return domain.ErrPrecondition
		}
		return nil
	}
	p := h.placeOne(t)
	assert.Equal(t, domain.OrderRejected, p.No.OrderStatus)
	assert.Empty(t, p.No.OrderID)

	require.NoError(t, h.eng.Sweep(context.Background()))
	assert.Equal(t, []string{"o-1"}, h.venue.cancelled())
	assert.Equal(t, domain.PairCancelled, h.pair(t, p.ID).Status)
}

// ─── fill listener ───────────────────────────────────────────────────────────

func TestObserve_PushAndPollAgree(t *testing.T) {
	ctx := context.Background()
	push := newHarness(t, maker.Config{}, testSettings())
	poll := newHarness(t, maker.Config{}, testSettings())
	pp := push.placeOne(t)
	pl := poll.placeOne(t)
	require.Equal(t, pp.ID, pl.ID)

	for _, f := range []struct {
		order string
		price string
	}{{pp.Yes.OrderID, "0.45"}, {pp.No.OrderID, "0.48"}} {
		st := push.venue.fill(f.order, ten, dec(f.price))
		st.Source = "push"
		require.NoError(t, push.eng.Observe(ctx, st))

		poll.venue.fill(f.order, ten, dec(f.price))
	}
	active, err := poll.store.ActivePairs(ctx)
	require.NoError(t, err)
	require.NoError(t, poll.eng.PollOrders(ctx, active))

	a, b := push.pair(t, pp.ID), poll.pair(t, pl.ID)
	assert.Equal(t, domain.PairMatched, a.Status)
	assert.Equal(t, a.Status, b.Status)
	assertDec(t, "0.93", a.PairCost)
	assert.True(t, a.PairCost.Equal(b.PairCost))
	assert.True(t, a.Yes.FilledSize.Equal(b.Yes.FilledSize))
	assert.True(t, a.No.FilledSize.Equal(b.No.FilledSize))
	assert.Equal(t, []string{"Pending>HalfFilled", "HalfFilled>Matched"}, push.transitions(t, pp.ID))
	assert.Equal(t, push.transitions(t, pp.ID), poll.transitions(t, pl.ID))
}

func TestObserve_ReplayAndStaleAreNoops(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	ctx := context.Background()
	p := h.placeOne(t)

	full := h.venue.fill(p.Yes.OrderID, ten, dec("0.45"))
	require.NoError(t, h.eng.Observe(ctx, full))
	before, err := h.store.ListLog(ctx, domain.LogFilter{PairID: p.ID})
	require.NoError(t, err)

	require.NoError(t, h.eng.Observe(ctx, full))
	stale := full
	stale.FilledSize = dec("4")
	stale.Status = domain.OrderOpen
	require.NoError(t, h.eng.Observe(ctx, stale))

	after, err := h.store.ListLog(ctx, domain.LogFilter{PairID: p.ID})
	require.NoError(t, err)
	assert.Len(t, after, len(before))

	got := h.pair(t, p.ID)
	assert.Equal(t, domain.PairHalfFilled, got.Status)
	assertDec(t, "10", got.Yes.FilledSize)
	assert.Equal(t, domain.OrderFilled, got.Yes.OrderStatus)
}

func TestObserve_UnknownOrderIgnored(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	err := h.eng.Observe(context.Background(), domain.OrderState{OrderID: "not-ours", Status: domain.OrderFilled, FilledSize: ten})
	assert.NoError(t, err)
}

// ─── merge ───────────────────────────────────────────────────────────────────

func TestMerge_HappyPath(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	ctx := context.Background()
	p := matchedPair(t, h)
	h.chain.setBalance(p.Yes.TokenID, ten)
	h.chain.setBalance(p.No.TokenID, ten)

	require.NoError(t, h.eng.MergeTick(ctx))
	got := h.pair(t, p.ID)
	require.Equal(t, domain.PairMerging, got.Status)
	assert.Equal(t, "0xmerge1", got.MergeTxID)
	calls := h.chain.mergeCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "0xc1", calls[0].conditionID)
	assertDec(t, "10", calls[0].amount)

	// still pending: nothing changes
	require.NoError(t, h.eng.MergeTick(ctx))
	assert.Equal(t, domain.PairMerging, h.pair(t, p.ID).Status)

	h.chain.setTx("0xmerge1", domain.TxConfirmed)
	require.NoError(t, h.eng.MergeTick(ctx))
	got = h.pair(t, p.ID)
	assert.Equal(t, domain.PairMerged, got.Status)
	assertDec(t, "0.7", got.Profit)
	assertDec(t, "10", got.MergedSize)
	assert.False(t, got.NeedsSettlement())
	assertDec(t, "0.7", h.eng.Breaker().TotalPnL)

	require.NoError(t, h.eng.Reconcile(ctx))
	stats := h.eng.Stats()
	assert.Equal(t, 1, stats.MergedPairs)
	assertDec(t, "0.7", stats.TotalProfit)
	assertDec(t, "1", stats.FillRate)
	assert.Equal(t, []string{"Pending>HalfFilled", "HalfFilled>Matched", "Matched>Merging", "Merging>Merged"},
		h.transitions(t, p.ID))
}

func TestMerge_WaitsForOnChainBalance(t *testing.T) {
	h := newHarness(t, maker.Config{MergeBackoffBase: 30 * time.Second}, testSettings())
	ctx := context.Background()
	p := matchedPair(t, h)

	require.NoError(t, h.eng.MergeTick(ctx))
	assert.Empty(t, h.chain.mergeCalls())
	assert.Equal(t, domain.PairMatched, h.pair(t, p.ID).Status)

	h.chain.setBalance(p.Yes.TokenID, ten)
	h.chain.setBalance(p.No.TokenID, ten)
	require.NoError(t, h.eng.MergeTick(ctx))
	assert.Empty(t, h.chain.mergeCalls(), "claim holds until the backoff passes")

	h.clock.Advance(31 * time.Second)
	require.NoError(t, h.eng.MergeTick(ctx))
	assert.Len(t, h.chain.mergeCalls(), 1)
	assert.Equal(t, domain.PairMerging, h.pair(t, p.ID).Status)
}

func TestMerge_SiblingSharesDoNotCountTowardsBalance(t *testing.T) {
	s := testSettings()
	s.MaxPairsPerMarket = 2
	h := newHarness(t, maker.Config{MergeBackoffBase: 30 * time.Second}, s)
	ctx := context.Background()
	p := matchedPair(t, h)
	siblingOn(t, h, p)

	// the wallet only holds the sibling's sets
	h.chain.setBalance(p.Yes.TokenID, ten)
	h.chain.setBalance(p.No.TokenID, ten)
	require.NoError(t, h.eng.MergeTick(ctx))
	h.clock.Advance(31 * time.Second)
	require.NoError(t, h.eng.MergeTick(ctx))
	assert.Empty(t, h.chain.mergeCalls())
	assert.Equal(t, domain.PairMatched, h.pair(t, p.ID).Status)

	h.chain.setBalance(p.Yes.TokenID, dec("20"))
	h.chain.setBalance(p.No.TokenID, dec("20"))
	h.clock.Advance(31 * time.Second)
	require.NoError(t, h.eng.MergeTick(ctx))
	assert.Len(t, h.chain.mergeCalls(), 1)
	assert.Equal(t, domain.PairMerging, h.pair(t, p.ID).Status)
}

func TestMerge_BlockedPairHeldToResolution(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	ctx := context.Background()
	p := matchedPair(t, h)
	h.chain.setBalance(p.Yes.TokenID, ten)
	h.chain.setBalance(p.No.TokenID, ten)

	s := testSettings()
	s.MaxPairCost = dec("0.90")
	require.NoError(t, h.store.SaveSettings(ctx, s))

	require.NoError(t, h.eng.MergeTick(ctx))
	require.NoError(t, h.eng.MergeTick(ctx))
	got := h.pair(t, p.ID)
	assert.True(t, got.MergeBlocked)
	assert.Equal(t, domain.PairMatched, got.Status)
	assert.Empty(t, h.chain.mergeCalls())

	blocked, err := h.store.ListLog(ctx, domain.LogFilter{PairID: p.ID, Kind: domain.LogMerge})
	require.NoError(t, err)
	require.Len(t, blocked, 1, "logged once")
	assert.Equal(t, domain.ClassEconomicReject, blocked[0].Class)

	h.clock.Advance(11 * time.Minute)
	h.markets.resolve("0xc1", domain.OutcomeYes)
	require.NoError(t, h.eng.Settle(ctx))

	got = h.pair(t, p.ID)
	assert.True(t, got.Settled())
	assert.Equal(t, domain.PairMatched, got.Status)
	assert.Equal(t, domain.OutcomeYes, got.Winner)
	assertDec(t, "0.7", got.SettlementPnL) // 10*(1-0.45) - 10*0.48
	assert.Equal(t, []string{"0xc1"}, h.chain.redeemCalls())
	assert.Equal(t, "0xredeem1", got.RedeemTxID)

	// settling again is a no-op
	require.NoError(t, h.eng.Settle(ctx))
	assert.Len(t, h.chain.redeemCalls(), 1)
}

func TestMerge_FailedTxBacksOffThenExhausts(t *testing.T) {
	cfg := maker.Config{MergeBackoffBase: 30 * time.Second, MaxMergeAttempts: 2, MergeRearmAfter: 10 * time.Minute}
	s := testSettings()
	s.MaxMinutesToClose = 60
	h := newHarness(t, cfg, s)
	h.markets.markets[0].EndDate = t0.Add(50 * time.Minute)
	ctx := context.Background()
	p := matchedPair(t, h)
	h.chain.setBalance(p.Yes.TokenID, ten)
	h.chain.setBalance(p.No.TokenID, ten)

	require.NoError(t, h.eng.MergeTick(ctx))
	h.chain.setTx("0xmerge1", domain.TxFailed)
	require.NoError(t, h.eng.MergeTick(ctx))

	got := h.pair(t, p.ID)
	require.Equal(t, domain.PairMatched, got.Status)
	assert.Equal(t, 1, got.MergeAttempts)
	assert.True(t, got.NextMergeAt.Equal(h.clock.Now().Add(time.Minute)), "30s * 2^1")

	h.clock.Advance(61 * time.Second)
	require.NoError(t, h.eng.MergeTick(ctx))
	h.chain.setTx("0xmerge2", domain.TxFailed)
	require.NoError(t, h.eng.MergeTick(ctx))

	got = h.pair(t, p.ID)
	require.Equal(t, domain.PairMatched, got.Status)
	assert.Equal(t, 2, got.MergeAttempts)

	errs, err := h.store.ListLog(ctx, domain.LogFilter{PairID: p.ID, Kind: domain.LogError})
	require.NoError(t, err)
	require.NotEmpty(t, errs)
	assert.Equal(t, domain.ClassIrrecoverable, errs[0].Class)

	h.clock.Advance(2 * time.Minute)
	require.NoError(t, h.eng.MergeTick(ctx))
	assert.Len(t, h.chain.mergeCalls(), 2, "exhausted: no more attempts")

	h.clock.Advance(10 * time.Minute)
	require.NoError(t, h.eng.Reconcile(ctx))
	assert.Zero(t, h.pair(t, p.ID).MergeAttempts, "re-armed by reconciliation")

	require.NoError(t, h.eng.MergeTick(ctx))
	assert.Len(t, h.chain.mergeCalls(), 3)
}

func TestRearmMerge_ClearsBlock(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	ctx := context.Background()
	p := matchedPair(t, h)

	s := testSettings()
	s.MaxPairCost = dec("0.90")
	require.NoError(t, h.store.SaveSettings(ctx, s))
	require.NoError(t, h.eng.MergeTick(ctx))
	require.True(t, h.pair(t, p.ID).MergeBlocked)

	got, err := h.eng.RearmMerge(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.MergeBlocked)
	assert.Zero(t, got.MergeAttempts)

	latest, err := h.store.LatestLog(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LogOperator, latest.Kind)
}

// ─── orphans and stop-loss ───────────────────────────────────────────────────

func TestOrphan_HalfFilledNeverSurvivesClose(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	ctx := context.Background()
	p := halfFilledPair(t, h)

	h.clock.Advance(11 * time.Minute)
	require.NoError(t, h.eng.ManageOrphans(ctx))

	got := h.pair(t, p.ID)
	assert.Equal(t, domain.PairOrphaned, got.Status)
	assert.Contains(t, h.venue.cancelled(), p.No.OrderID)

	h.markets.resolve("0xc1", domain.OutcomeNo)
	require.NoError(t, h.eng.Settle(ctx))
	got = h.pair(t, p.ID)
	assert.True(t, got.Settled())
	assertDec(t, "-4.5", got.SettlementPnL)
	assert.Equal(t, 1, h.eng.Breaker().ConsecutiveLosses)
}

func TestScanAndPlace_SettledOrphanFreesCapacity(t *testing.T) {
	s := testSettings()
	s.MaxTotalPairs = 1
	h := newHarness(t, maker.Config{}, s)
	ctx := context.Background()
	p := halfFilledPair(t, h)

	h.clock.Advance(11 * time.Minute)
	require.NoError(t, h.eng.ManageOrphans(ctx))
	require.Equal(t, domain.PairOrphaned, h.pair(t, p.ID).Status)

	h.markets.mu.Lock()
	h.markets.markets = []domain.Market{testMarket("0xc2", "BTC", h.clock.Now().Add(10*time.Minute))}
	h.markets.mu.Unlock()
	require.NoError(t, h.eng.ScanAndPlace(ctx))
	assert.Len(t, h.venue.placedIDs(), 2, "the unresolved orphan holds the only slot")

	h.markets.resolve("0xc1", domain.OutcomeNo)
	require.NoError(t, h.eng.Reconcile(ctx))
	got := h.pair(t, p.ID)
	require.True(t, got.Settled())
	assert.Equal(t, domain.PairOrphaned, got.Status)
	assert.False(t, got.Active())

	require.NoError(t, h.eng.ScanAndPlace(ctx))
	assert.Len(t, h.venue.placedIDs(), 4)
	active, err := h.store.ActivePairs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "0xc2", active[0].ConditionID)
}

func TestOrphan_StopLossExit(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	ctx := context.Background()
	p := halfFilledPair(t, h)

	// drawdown 33% but the delay has not passed
	h.clock.Advance(time.Minute)
	h.prices.push(domain.PriceTick{TokenID: p.Yes.TokenID, BestBid: dec("0.30"), Mid: dec("0.31"), At: h.clock.Now()})
	require.NoError(t, h.eng.ManageOrphans(ctx))
	assert.Equal(t, domain.PairHalfFilled, h.pair(t, p.ID).Status)
	assert.Empty(t, h.venue.cancelled())

	h.clock.Advance(2 * time.Minute)
	require.NoError(t, h.eng.ManageOrphans(ctx))

	got := h.pair(t, p.ID)
	assert.Equal(t, domain.PairOrphaned, got.Status)
	assert.Equal(t, "o-3", got.Exit.OrderID)
	assert.Equal(t, domain.OrderOpen, got.Exit.Status)
	req := h.venue.request("o-3")
	assert.Equal(t, domain.SideSell, req.Side)
	assertDec(t, "10", req.Size)
	assertDec(t, "0.30", req.Price)

	// an exit in flight is never doubled
	require.NoError(t, h.eng.ManageOrphans(ctx))
	assert.Len(t, h.venue.placedIDs(), 3)

	h.venue.fill("o-3", ten, dec("0.30"))
	require.NoError(t, h.eng.Reconcile(ctx))

	got = h.pair(t, p.ID)
	assert.Equal(t, domain.PairStopLoss, got.Status)
	assertDec(t, "-1.5", got.Profit)
	assert.False(t, got.NeedsSettlement())
	assertDec(t, "-1.5", h.eng.Breaker().TotalPnL)
}

func TestOrphan_StopLossNeedsDrawdownAboveThreshold(t *testing.T) {
	tests := []struct {
		name    string
		bid     string
		wantHit bool
	}{
		{name: "exactly 30% holds", bid: "0.315", wantHit: false},
		{name: "just above 30% exits", bid: "0.314", wantHit: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, maker.Config{}, testSettings())
			ctx := context.Background()
			p := halfFilledPair(t, h)

			h.clock.Advance(3 * time.Minute)
			h.prices.push(domain.PriceTick{TokenID: p.Yes.TokenID, BestBid: dec(tt.bid), At: h.clock.Now()})
			require.NoError(t, h.eng.ManageOrphans(ctx))

			got := h.pair(t, p.ID)
			if !tt.wantHit {
				assert.Equal(t, domain.PairHalfFilled, got.Status)
				assert.Empty(t, h.venue.cancelled())
				assert.Len(t, h.venue.placedIDs(), 2)
				return
			}
			assert.Equal(t, domain.PairOrphaned, got.Status)
			assert.Equal(t, domain.SideSell, h.venue.request(got.Exit.OrderID).Side)
		})
	}
}

func TestOrphan_StopLossDisabled(t *testing.T) {
	s := testSettings()
	s.StopLossPct = zero
	h := newHarness(t, maker.Config{}, s)
	p := halfFilledPair(t, h)

	h.clock.Advance(5 * time.Minute)
	h.prices.push(domain.PriceTick{TokenID: p.Yes.TokenID, BestBid: dec("0.05"), At: h.clock.Now()})
	require.NoError(t, h.eng.ManageOrphans(context.Background()))
	assert.Equal(t, domain.PairHalfFilled, h.pair(t, p.ID).Status)
	assert.Len(t, h.venue.placedIDs(), 2)
}

func TestOrphan_UnknownExitWaitsForPositionBalance(t *testing.T) {
	tests := []struct {
		name       string
		balance    string
		wantStatus domain.PairStatus
		wantExit   domain.OrderStatus
	}{
		{name: "shares still held: released for retry", balance: "10", wantStatus: domain.PairOrphaned, wantExit: ""},
		{name: "shares gone: sell went through", balance: "0", wantStatus: domain.PairStopLoss, wantExit: domain.OrderFilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, maker.Config{}, testSettings())
			ctx := context.Background()
			p := halfFilledPair(t, h)
			h.venue.placeErr = func(req domain.OrderRequest) error {
				if req.Side == domain.SideSell {
					return domain.ErrUnknownOutcome
				}
				return nil
			}

			h.clock.Advance(3 * time.Minute)
			h.prices.push(domain.PriceTick{TokenID: p.Yes.TokenID, BestBid: dec("0.30"), At: h.clock.Now()})
			require.NoError(t, h.eng.ManageOrphans(ctx))

			got := h.pair(t, p.ID)
			require.Equal(t, domain.PairOrphaned, got.Status)
			require.Equal(t, domain.OrderUnknown, got.Exit.Status)
			require.Empty(t, got.Exit.OrderID)

			h.venue.placeErr = nil
			h.chain.setBalance(p.Yes.TokenID, dec(tt.balance))
			require.NoError(t, h.eng.ManageOrphans(ctx))

			got = h.pair(t, p.ID)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantExit, got.Exit.Status)
			if tt.wantStatus == domain.PairStopLoss {
				assertDec(t, "-1.5", got.Profit)
			}
		})
	}
}

func TestOrphan_UnknownExitNetsOutSiblingShares(t *testing.T) {
	tests := []struct {
		name       string
		balance    string
		wantStatus domain.PairStatus
	}{
		{name: "sibling shares only: sell went through", balance: "10", wantStatus: domain.PairStopLoss},
		{name: "both pairs still held: released", balance: "20", wantStatus: domain.PairOrphaned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			s.MaxPairsPerMarket = 2
			h := newHarness(t, maker.Config{}, s)
			ctx := context.Background()
			p := halfFilledPair(t, h)
			siblingOn(t, h, p)
			h.venue.placeErr = func(req domain.OrderRequest) error {
				if req.Side == domain.SideSell {
					return domain.ErrUnknownOutcome
				}
				return nil
			}

			h.clock.Advance(3 * time.Minute)
			h.prices.push(domain.PriceTick{TokenID: p.Yes.TokenID, BestBid: dec("0.30"), At: h.clock.Now()})
			require.NoError(t, h.eng.ManageOrphans(ctx))
			require.Equal(t, domain.OrderUnknown, h.pair(t, p.ID).Exit.Status)
			placed := len(h.venue.placedIDs())

			h.venue.placeErr = nil
			h.chain.setBalance(p.Yes.TokenID, dec(tt.balance))
			require.NoError(t, h.eng.ManageOrphans(ctx))

			got := h.pair(t, p.ID)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Len(t, h.venue.placedIDs(), placed, "no second sell")
			if tt.wantStatus == domain.PairStopLoss {
				assertDec(t, "-1.5", got.Profit)
			}
			sib := h.pair(t, "pair-sibling")
			assert.Equal(t, domain.PairMatched, sib.Status)
			assertDec(t, "10", sib.HeldShares(domain.OutcomeYes))
		})
	}
}

// ─── sweeper ─────────────────────────────────────────────────────────────────

func TestSweep_StalePendingCancelled(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	ctx := context.Background()
	p := h.placeOne(t)

	require.NoError(t, h.eng.Sweep(ctx))
	assert.Empty(t, h.venue.cancelled(), "fresh orders stay")

	h.clock.Advance(181 * time.Second)
	require.NoError(t, h.eng.Sweep(ctx))
	assert.ElementsMatch(t, []string{"o-1", "o-2"}, h.venue.cancelled())
	assert.Equal(t, domain.PairCancelled, h.pair(t, p.ID).Status)
	assert.Equal(t, []string{"Pending>Cancelled"}, h.transitions(t, p.ID))
}

func TestSweep_FillRacingCancelIsKept(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	p := h.placeOne(t)
	h.venue.fill(p.Yes.OrderID, ten, dec("0.45")) // not yet observed

	h.clock.Advance(181 * time.Second)
	require.NoError(t, h.eng.Sweep(context.Background()))

	got := h.pair(t, p.ID)
	assert.Equal(t, domain.PairOrphaned, got.Status)
	assertDec(t, "10", got.Yes.FilledSize)
	assert.Equal(t, domain.OrderCancelled, got.No.OrderStatus)
}

func TestSweep_NearClose(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	p := h.placeOne(t)

	h.clock.Advance(8*time.Minute + 30*time.Second) // 1.5 minutes left, margin is 2
	require.NoError(t, h.eng.Sweep(context.Background()))
	assert.Equal(t, domain.PairCancelled, h.pair(t, p.ID).Status)
}

func TestRequestCancel(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	ctx := context.Background()
	p := h.placeOne(t)

	got, err := h.eng.RequestCancel(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)

	require.NoError(t, h.eng.Sweep(ctx))
	assert.Equal(t, domain.PairCancelled, h.pair(t, p.ID).Status)

	_, err = h.eng.RequestCancel(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	_, err = h.eng.RequestCancel(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ─── startup ─────────────────────────────────────────────────────────────────

func TestStart_ReconcilesBeforeAnythingElse(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	ctx := context.Background()
	p := h.placeOne(t)
	// fills that happened while the process was down
	h.venue.fill(p.Yes.OrderID, ten, dec("0.45"))
	h.venue.fill(p.No.OrderID, ten, dec("0.48"))

	assert.False(t, h.eng.Ready())
	require.NoError(t, h.eng.Start(ctx))
	assert.True(t, h.eng.Ready())
	assert.Equal(t, domain.PairMatched, h.pair(t, p.ID).Status)
	assert.Equal(t, 1, h.eng.Stats().MatchedOrBetter)
}

// ─── unacknowledged placements ───────────────────────────────────────────────

// lostAckOn makes placements on tokenID land on the book while the engine
// sees a timeout.
func lostAckOn(tokenID string) func(domain.OrderRequest) error {
	return func(req domain.OrderRequest) error {
		if req.TokenID == tokenID {
			return domain.ErrUnknownOutcome
		}
		return nil
	}
}

func TestReconcile_AdoptsUnacknowledgedLeg(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	ctx := context.Background()
	h.venue.lostAck = lostAckOn("0xc1-yes")

	p := h.placeOne(t)
	require.True(t, p.Yes.Unacked())
	require.Equal(t, "o-2", p.No.OrderID)
	assert.Equal(t, domain.PairPending, p.Status)
	h.venue.lostAck = nil

	require.NoError(t, h.eng.Reconcile(ctx))
	got := h.pair(t, p.ID)
	assert.Equal(t, "o-1", got.Yes.OrderID)
	assert.Equal(t, domain.OrderOpen, got.Yes.OrderStatus)
	assert.Empty(t, h.venue.cancelled())

	decisions, err := h.store.ListLog(ctx, domain.LogFilter{PairID: p.ID, Kind: domain.LogDecision})
	require.NoError(t, err)
	require.NotEmpty(t, decisions)
	assert.Equal(t, "adopted unacknowledged order", decisions[0].Message)

	// the adopted order now drives the pair like any other leg
	h.venue.fill("o-1", ten, dec("0.45"))
	require.NoError(t, h.eng.Reconcile(ctx))
	assert.Equal(t, domain.PairHalfFilled, h.pair(t, p.ID).Status)
}

func TestReconcile_ClosesUnackedLegWithoutOrder(t *testing.T) {
	tests := []struct {
		name       string
		balance    string
		wantOrder  domain.OrderStatus
		wantStatus domain.PairStatus
	}{
		{name: "never reached the book", balance: "0", wantOrder: domain.OrderRejected, wantStatus: domain.PairPending},
		{name: "filled before anyone saw it", balance: "10", wantOrder: domain.OrderFilled, wantStatus: domain.PairHalfFilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, maker.Config{}, testSettings())
			ctx := context.Background()
			h.venue.placeErr = func(req domain.OrderRequest) error {
				if req.TokenID == "0xc1-no" {
					return domain.ErrUnknownOutcome
				}
				return nil
			}
			p := h.placeOne(t)
			require.True(t, p.No.Unacked())
			h.venue.placeErr = nil
			h.chain.setBalance("0xc1-no", dec(tt.balance))

			// inside the window the leg waits for its order to show up
			require.NoError(t, h.eng.Reconcile(ctx))
			require.True(t, h.pair(t, p.ID).No.Unacked())

			h.clock.Advance(3 * time.Minute)
			require.NoError(t, h.eng.Reconcile(ctx))
			got := h.pair(t, p.ID)
			assert.False(t, got.No.Unacked())
			assert.Equal(t, tt.wantOrder, got.No.OrderStatus)
			assert.Equal(t, tt.wantStatus, got.Status)
			if got.No.Filled() {
				assertDec(t, "10", got.No.FilledSize)
				assertDec(t, "0.48", got.No.FillPrice)
			}
		})
	}
}

func TestReconcile_RejectedUnackedLegIsSweptAway(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	ctx := context.Background()
	h.venue.placeErr = func(req domain.OrderRequest) error {
		if req.TokenID == "0xc1-no" {
			return domain.ErrUnknownOutcome
		}
		return nil
	}
	p := h.placeOne(t)
	h.venue.placeErr = nil

	h.clock.Advance(3 * time.Minute)
	require.NoError(t, h.eng.Reconcile(ctx))
	require.NoError(t, h.eng.Sweep(ctx))
	assert.Equal(t, []string{"o-1"}, h.venue.cancelled())
	assert.Equal(t, domain.PairCancelled, h.pair(t, p.ID).Status)
}

func TestReconcile_CancelsUnownedOrderAfterWindow(t *testing.T) {
	h := newHarness(t, maker.Config{}, testSettings())
	ctx := context.Background()
	p := h.placeOne(t)
	stray, err := h.venue.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: "0xc1-no", Side: domain.SideBuy, Size: ten, Price: dec("0.30"),
	})
	require.NoError(t, err)

	require.NoError(t, h.eng.Reconcile(ctx))
	assert.Empty(t, h.venue.cancelled(), "an order seen once may still be mid-placement")

	h.clock.Advance(3 * time.Minute)
	require.NoError(t, h.eng.Reconcile(ctx))
	assert.Equal(t, []string{stray}, h.venue.cancelled())
	got := h.pair(t, p.ID)
	assert.Equal(t, domain.OrderOpen, got.Yes.OrderStatus)
	assert.Equal(t, domain.OrderOpen, got.No.OrderStatus)
}

func TestScanAndPlace_UnackedLegCountsTowardsCapacity(t *testing.T) {
	s := testSettings()
	s.MaxTotalPairs = 1
	h := newHarness(t, maker.Config{}, s)
	ctx := context.Background()
	h.markets.mu.Lock()
	h.markets.markets = append(h.markets.markets, testMarket("0xc2", "BTC", t0.Add(10*time.Minute)))
	h.markets.mu.Unlock()
	h.venue.placeErr = func(req domain.OrderRequest) error {
		if req.Side == domain.SideBuy && strings.HasSuffix(req.TokenID, "-yes") {
			return domain.ErrUnknownOutcome
		}
		return nil
	}

	require.NoError(t, h.eng.ScanAndPlace(ctx))
	active, err := h.store.ActivePairs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].Yes.Unacked())
	assert.Len(t, h.venue.placedIDs(), 1, "only the NO leg reached the fake book")
}
