package maker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

var (
	tickSize = decimal.RequireFromString("0.01")
	maxBid   = decimal.RequireFromString("0.99")
)

// Plan is a pair about to be placed.
type Plan struct {
	Market   domain.Market
	YesBid   decimal.Decimal
	NoBid    decimal.Decimal
	Size     decimal.Decimal
	PairCost decimal.Decimal
}

// Notional is the capital the plan commits if both legs fill.
func (pl Plan) Notional() decimal.Decimal {
	return pl.PairCost.Mul(pl.Size)
}

// BidFor returns mid - offset rounded down to the price tick.
func BidFor(mid, offset decimal.Decimal) decimal.Decimal {
	raw := mid.Sub(offset)
	return raw.Div(tickSize).Floor().Mul(tickSize)
}

// PlanPair prices both legs of m. It fails with ErrEconomicReject when the
// planned pair cost misses the configured limits and with ErrPrecondition
// when a bid would fall outside the tradable range.
func PlanPair(m domain.Market, s domain.Settings) (Plan, error) {
	yes := BidFor(m.Yes.Mid, s.BidOffset())
	no := BidFor(m.No.Mid, s.BidOffset())
	for _, bid := range []decimal.Decimal{yes, no} {
		if bid.LessThan(tickSize) || bid.GreaterThan(maxBid) {
			return Plan{}, fmt.Errorf("bid %s out of range: %w", bid, domain.ErrPrecondition)
		}
	}
	cost := yes.Add(no)
	if err := domain.CheckMergeEconomics(cost, s.MaxPairCost, s.MinSpreadProfit); err != nil {
		return Plan{}, err
	}
	return Plan{Market: m, YesBid: yes, NoBid: no, Size: s.AutoPlaceSize, PairCost: cost}, nil
}

// capacity tracks the placement caps during one scan tick.
type capacity struct {
	perMarket map[string]int
	total     int
	deployed  decimal.Decimal
	s         domain.Settings
}

func newCapacity(active []domain.Pair, s domain.Settings) *capacity {
	c := &capacity{perMarket: make(map[string]int), deployed: decimal.Zero, s: s}
	for _, p := range active {
		if !p.Active() {
			continue
		}
		c.perMarket[p.ConditionID]++
		c.total++
		c.deployed = c.deployed.Add(p.Deployed())
	}
	return c
}

// admit returns the rejection reason for pl, or "" and reserves the capacity.
func (c *capacity) admit(pl Plan) string {
	switch {
	case c.total >= c.s.MaxTotalPairs:
		return "max_total_pairs"
	case c.perMarket[pl.Market.ConditionID] >= c.s.MaxPairsPerMarket:
		return "max_pairs_per_market"
	case c.s.MaxDeployedUSD.IsPositive() && c.deployed.Add(pl.Notional()).GreaterThan(c.s.MaxDeployedUSD):
		return "max_deployed_usd"
	}
	c.total++
	c.perMarket[pl.Market.ConditionID]++
	c.deployed = c.deployed.Add(pl.Notional())
	return ""
}

// ScanAndPlace fetches the markets, refreshes quotes and places a pair on
// every eligible market with free capacity.
func (e *Engine) ScanAndPlace(ctx context.Context) error {
	s, err := e.loadSettings(ctx)
	if err != nil {
		return err
	}

	cctx, cancel := e.call(ctx)
	markets, err := e.markets.FetchMarkets(cctx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch markets: %w", err)
	}
	now := e.now()
	for _, m := range markets {
		e.quotes.fromMarket(m, now)
	}
	eligible := FilterEligible(markets, s, now)

	e.mu.Lock()
	e.lastMarkets = eligible
	e.mu.Unlock()

	e.log.Debug("maker: scan", "markets", len(markets), "eligible", len(eligible))
	e.subscribePrices(ctx, eligible)

	if !s.AutoPlace && !e.cfg.DryRun {
		return nil
	}
	if !e.breakerOpen(now) {
		cb := e.Breaker()
		e.log.Warn("maker: circuit breaker open, not placing", "reason", cb.TriggeredReason)
		e.metrics.PlacementRejected("circuit_breaker")
		return nil
	}

	active, err := e.store.ActivePairs(ctx)
	if err != nil {
		return fmt.Errorf("active pairs: %w", err)
	}
	caps := newCapacity(active, s)

	var placed []domain.Pair
	for _, m := range eligible {
		plan, err := PlanPair(m, s)
		if err != nil {
			reason := "price_range"
			if errors.Is(err, domain.ErrEconomicReject) {
				reason = "economics"
			}
			e.metrics.PlacementRejected(reason)
			e.log.Debug("maker: market rejected", "asset", m.Asset, "reason", reason, "err", err)
			continue
		}
		if reason := caps.admit(plan); reason != "" {
			e.metrics.PlacementRejected(reason)
			e.log.Debug("maker: capacity reached", "asset", m.Asset, "reason", reason)
			continue
		}
		if e.cfg.DryRun {
			e.log.Info("maker: [dry-run] would place pair",
				"asset", m.Asset,
				"market", domain.TruncateQuestion(m.Question, m.ConditionID, 50),
				"yes_bid", plan.YesBid, "no_bid", plan.NoBid,
				"size", plan.Size, "pair_cost", plan.PairCost,
				"minutes_left", fmt.Sprintf("%.1f", m.MinutesLeft))
			continue
		}
		p, err := e.placePair(ctx, plan)
		if p.ID != "" {
			placed = append(placed, p)
		}
		if err != nil {
			e.log.Warn("maker: place pair failed", "asset", m.Asset, "err", err)
			e.metrics.Error(domain.Classify(err))
		}
	}
	if len(placed) > 0 {
		e.subscribeOrders(ctx, placed)
	}
	return nil
}

// placePair places both legs and persists the pair. A YES leg the venue
// refused places nothing. A refused NO leg still persists the pair with a
// rejected NO leg so the sweeper cancels the YES order and any fill on it is
// tracked. A leg whose placement timed out is kept as unacknowledged until
// the reconciler finds its order or rules it out.
func (e *Engine) placePair(ctx context.Context, pl Plan) (domain.Pair, error) {
	m := pl.Market
	yes, yesErr := e.placeLeg(ctx, m.Yes, pl.YesBid, pl.Size, m.NegRisk)
	if yesErr != nil && !yes.Unacked() {
		return domain.Pair{}, fmt.Errorf("place YES leg: %w", yesErr)
	}
	no, noErr := e.placeLeg(ctx, m.No, pl.NoBid, pl.Size, m.NegRisk)
	if noErr != nil && !no.Unacked() {
		no.OrderStatus = domain.OrderRejected
	}

	now := e.now()
	p := domain.NewPair(e.newID(), m, yes, no, now)
	entries := []domain.LogEntry{{
		PairID:      p.ID,
		ConditionID: p.ConditionID,
		Kind:        domain.LogDecision,
		To:          domain.PairPending,
		Message:     "pair placed",
		Detail: map[string]string{
			"yes_bid":   pl.YesBid.String(),
			"no_bid":    pl.NoBid.String(),
			"size":      pl.Size.String(),
			"pair_cost": pl.PairCost.String(),
			"yes_order": yes.OrderID,
			"no_order":  no.OrderID,
		},
		CreatedAt: now,
	}}
	if yesErr != nil {
		entries = append(entries, domain.ErrorEntry(p, yesErr, "YES leg placement unacknowledged", now))
	}
	if noErr != nil {
		msg := "NO leg placement failed"
		if no.Unacked() {
			msg = "NO leg placement unacknowledged"
		}
		entries = append(entries, domain.ErrorEntry(p, noErr, msg, now))
	}
	if err := e.store.SavePair(ctx, p, entries...); err != nil {
		return domain.Pair{}, fmt.Errorf("save pair: %w", err)
	}

	e.log.Info("maker: pair placed",
		"pair", shortID(p.ID),
		"asset", p.Asset,
		"market", domain.TruncateQuestion(p.Question, p.ConditionID, 50),
		"yes_bid", pl.YesBid, "no_bid", pl.NoBid, "size", pl.Size,
		"pair_cost", pl.PairCost)
	switch {
	case yesErr != nil:
		return p, fmt.Errorf("place YES leg: %w", yesErr)
	case noErr != nil:
		return p, fmt.Errorf("place NO leg: %w", noErr)
	}
	return p, nil
}

func (e *Engine) placeLeg(ctx context.Context, t domain.Token, price, size decimal.Decimal, negRisk bool) (domain.Leg, error) {
	leg := domain.Leg{
		Outcome:     t.Outcome,
		TokenID:     t.TokenID,
		BidPrice:    price,
		Size:        size,
		FilledSize:  decimal.Zero,
		FillPrice:   decimal.Zero,
		OrderStatus: domain.OrderOpen,
		PlacedAt:    e.now(),
	}
	cctx, cancel := e.call(ctx)
	defer cancel()
	id, err := e.venue.PlaceOrder(cctx, domain.OrderRequest{
		TokenID: t.TokenID,
		Side:    domain.SideBuy,
		Size:    size,
		Price:   price,
		NegRisk: negRisk,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnknownOutcome) {
			leg.OrderStatus = domain.OrderUnknown
		}
		return leg, err
	}
	leg.OrderID = id
	e.metrics.OrderPlaced(domain.SideBuy)
	return leg, nil
}

func (e *Engine) subscribePrices(ctx context.Context, markets []domain.Market) {
	if e.prices == nil || len(markets) == 0 {
		return
	}
	ids := make([]string, 0, 2*len(markets))
	for _, m := range markets {
		ids = append(ids, m.Yes.TokenID, m.No.TokenID)
	}
	if err := e.prices.Subscribe(ctx, ids); err != nil {
		e.log.Warn("maker: price feed subscribe failed", "err", err)
	}
}

func (e *Engine) subscribeOrders(ctx context.Context, pairs []domain.Pair) {
	if e.orders == nil || len(pairs) == 0 {
		return
	}
	seen := make(map[string]bool, len(pairs))
	var ids []string
	for _, p := range pairs {
		if !seen[p.ConditionID] {
			seen[p.ConditionID] = true
			ids = append(ids, p.ConditionID)
		}
	}
	if err := e.orders.Subscribe(ctx, ids); err != nil {
		e.log.Warn("maker: order feed subscribe failed", "err", err)
	}
}
