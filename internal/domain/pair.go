package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PairStatus is the lifecycle state of a Pair. The set is closed: values coming
// from storage or the operator API go through ParsePairStatus.
type PairStatus string

const (
	PairPending    PairStatus = "Pending"    // both legs posted, neither filled
	PairHalfFilled PairStatus = "HalfFilled" // exactly one leg filled
	PairMatched    PairStatus = "Matched"    // both legs filled, not merged
	PairMerging    PairStatus = "Merging"    // merge tx submitted
	PairMerged     PairStatus = "Merged"
	PairCancelled  PairStatus = "Cancelled"
	PairOrphaned   PairStatus = "Orphaned" // one leg filled, the other cancelled
	PairStopLoss   PairStatus = "StopLoss" // filled leg force-sold
)

var pairStatuses = []PairStatus{
	PairPending, PairHalfFilled, PairMatched, PairMerging, PairMerged,
	PairCancelled, PairOrphaned, PairStopLoss,
}

// pairEdges is the complete set of allowed transitions. Merging -> Matched is
// the failed-merge edge; Orphaned -> Matched picks up a fill that raced the
// cancel of the second leg, and is not taken while a stop-loss exit is live.
var pairEdges = map[PairStatus][]PairStatus{
	PairPending:    {PairHalfFilled, PairCancelled},
	PairHalfFilled: {PairMatched, PairOrphaned, PairStopLoss},
	PairMatched:    {PairMerging},
	PairMerging:    {PairMerged, PairMatched},
	PairOrphaned:   {PairStopLoss, PairMatched},
}

// AllPairStatuses returns every status in lifecycle order.
func AllPairStatuses() []PairStatus {
	out := make([]PairStatus, len(pairStatuses))
	copy(out, pairStatuses)
	return out
}

// ActivePairStatuses returns the non-terminal statuses.
func ActivePairStatuses() []PairStatus {
	var out []PairStatus
	for _, s := range pairStatuses {
		if !s.Terminal() {
			out = append(out, s)
		}
	}
	return out
}

// ParsePairStatus validates s against the closed set of statuses.
func ParsePairStatus(s string) (PairStatus, error) {
	for _, st := range pairStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown pair status %q", s)
}

// CanTransition reports whether s -> to is an allowed edge.
func (s PairStatus) CanTransition(to PairStatus) bool {
	for _, next := range pairEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further status change is possible.
func (s PairStatus) Terminal() bool {
	return s == PairMerged || s == PairCancelled || s == PairStopLoss
}

// MatchedOrBetter reports whether the pair currently sits on the merge path.
// It reads the status only, so a settled Matched pair and an orphan that a
// late fill turned Matched both count. See ComputeStats for fill_rate.
func (s PairStatus) MatchedOrBetter() bool {
	return s == PairMatched || s == PairMerging || s == PairMerged
}

// statusPath returns the shortest chain of allowed edges leading from -> to,
// excluding from. Nil when to is unreachable.
func statusPath(from, to PairStatus) []PairStatus {
	if from == to {
		return nil
	}
	prev := map[PairStatus]PairStatus{from: ""}
	queue := []PairStatus{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range pairEdges[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []PairStatus
				for s := to; s != from; s = prev[s] {
					path = append([]PairStatus{s}, path...)
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// Transition records one applied status edge.
type Transition struct {
	From PairStatus
	To   PairStatus
	At   time.Time
}

// Leg is one side (YES or NO) of a Pair.
type Leg struct {
	Outcome     Outcome
	TokenID     string
	OrderID     string
	BidPrice    decimal.Decimal
	Size        decimal.Decimal // requested shares
	FilledSize  decimal.Decimal // cumulative, as reported by the venue
	FillPrice   decimal.Decimal // average price of FilledSize
	OrderStatus OrderStatus
	PlacedAt    time.Time
	FilledAt    *time.Time // first fill
}

// Filled reports whether the leg has any fill.
func (l Leg) Filled() bool { return l.FilledSize.IsPositive() }

// Open reports whether the leg's order is still resting on the book.
func (l Leg) Open() bool { return l.OrderID != "" && l.OrderStatus == OrderOpen }

// Unacked reports whether the leg's placement timed out: the order may or
// may not be on the book.
func (l Leg) Unacked() bool { return l.OrderID == "" && l.OrderStatus == OrderUnknown }

// Cost is the amount paid for the filled shares.
func (l Leg) Cost() decimal.Decimal { return l.FilledSize.Mul(l.FillPrice) }

// Age is the time since the order was placed.
func (l Leg) Age(now time.Time) time.Duration { return now.Sub(l.PlacedAt) }

// apply folds a venue snapshot into the leg. Cumulative sizes only move up and
// closed statuses are final, so stale or duplicated snapshots are no-ops.
func (l *Leg) apply(st OrderState, now time.Time) bool {
	changed := false
	if st.FilledSize.GreaterThan(l.FilledSize) {
		l.FilledSize = st.FilledSize
		switch {
		case st.FillPrice.IsPositive():
			l.FillPrice = st.FillPrice
		case l.FillPrice.IsZero():
			l.FillPrice = l.BidPrice
		}
		if l.FilledAt == nil {
			t := now
			l.FilledAt = &t
		}
		changed = true
	}
	if st.Status != "" && st.Status != OrderUnknown && st.Status != l.OrderStatus && !l.OrderStatus.Closed() {
		l.OrderStatus = st.Status
		changed = true
	}
	return changed
}

// ExitOrder is the stop-loss sell of the filled leg.
type ExitOrder struct {
	OrderID    string
	Outcome    Outcome
	TokenID    string
	Size       decimal.Decimal
	Price      decimal.Decimal // limit price
	FilledSize decimal.Decimal
	FillPrice  decimal.Decimal
	Status     OrderStatus
	PlacedAt   time.Time
}

// InFlight reports whether an exit was requested and has not closed yet.
func (e ExitOrder) InFlight() bool {
	return e.Status != "" && !e.Status.Closed()
}

// Pair is one YES+NO correlated order placed on the same binary market.
type Pair struct {
	ID          string
	ConditionID string
	Asset       string
	Question    string
	Slug        string
	EndDate     time.Time
	NegRisk     bool

	Yes Leg
	No  Leg

	Status        PairStatus
	PairCost      decimal.Decimal
	Profit        decimal.Decimal
	MergeTxID     string
	MergedSize    decimal.Decimal
	MergeAttempts int
	NextMergeAt   time.Time
	MergeBlocked  bool // economic reject: held to resolution

	Exit         ExitOrder
	HalfFilledAt *time.Time

	CancelRequested bool

	Winner        Outcome
	SettlementPnL decimal.Decimal
	SettledAt     *time.Time
	RedeemTxID    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPair builds a Pending pair for market m from two placed legs.
func NewPair(id string, m Market, yes, no Leg, now time.Time) Pair {
	yes.Outcome, no.Outcome = OutcomeYes, OutcomeNo
	return Pair{
		ID:          id,
		ConditionID: m.ConditionID,
		Asset:       m.Asset,
		Question:    m.Question,
		Slug:        m.Slug,
		EndDate:     m.EndDate,
		NegRisk:     m.NegRisk,
		Yes:         yes,
		No:          no,
		Status:      PairPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Leg returns the leg for outcome o.
func (p *Pair) Leg(o Outcome) *Leg {
	if o == OutcomeNo {
		return &p.No
	}
	return &p.Yes
}

func (p *Pair) legByOrder(orderID string) *Leg {
	switch orderID {
	case "":
		return nil
	case p.Yes.OrderID:
		return &p.Yes
	case p.No.OrderID:
		return &p.No
	}
	return nil
}

// OwnsOrder reports whether orderID is one of the pair's legs or its exit.
func (p Pair) OwnsOrder(orderID string) bool {
	if orderID == "" {
		return false
	}
	return orderID == p.Yes.OrderID || orderID == p.No.OrderID || orderID == p.Exit.OrderID
}

// OrderIDs returns the order ids whose state still matters: open legs and an
// in-flight exit.
func (p Pair) OrderIDs() []string {
	var ids []string
	for _, l := range []Leg{p.Yes, p.No} {
		if l.Open() {
			ids = append(ids, l.OrderID)
		}
	}
	if p.Exit.InFlight() && p.Exit.OrderID != "" {
		ids = append(ids, p.Exit.OrderID)
	}
	return ids
}

// SplitLegs returns the filled and the unfilled leg of a pair where exactly
// one leg has fills. ok is false otherwise.
func (p *Pair) SplitLegs() (filled, unfilled *Leg, ok bool) {
	switch {
	case p.Yes.Filled() && !p.No.Filled():
		return &p.Yes, &p.No, true
	case p.No.Filled() && !p.Yes.Filled():
		return &p.No, &p.Yes, true
	}
	return nil, nil, false
}

// PairedSize is min(yes filled, no filled).
func (p Pair) PairedSize() decimal.Decimal {
	return PairedSize(p.Yes.FilledSize, p.No.FilledSize)
}

// CurrentPairCost computes the pair cost from the legs' fills.
func (p Pair) CurrentPairCost() (decimal.Decimal, bool) {
	return PairCost(p.Yes.Cost(), p.Yes.FilledSize, p.No.Cost(), p.No.FilledSize)
}

// ExpectedMergeProfit is the profit a merge of the paired size would realize.
func (p Pair) ExpectedMergeProfit() decimal.Decimal {
	cost, ok := p.CurrentPairCost()
	if !ok {
		return decimal.Zero
	}
	return MergeProfit(p.PairedSize(), cost)
}

// HasOpenLegs reports whether any leg order is still resting.
func (p Pair) HasOpenLegs() bool {
	return p.Yes.Open() || p.No.Open()
}

// MinutesLeft returns the minutes until the market closes at now.
func (p Pair) MinutesLeft(now time.Time) float64 {
	if p.EndDate.IsZero() {
		return 0
	}
	return p.EndDate.Sub(now).Minutes()
}

// Closed reports whether the market end date has passed.
func (p Pair) Closed(now time.Time) bool {
	return !p.EndDate.IsZero() && !now.Before(p.EndDate)
}

// Deployed is the capital tied up in the pair: filled cost plus the notional
// of the unfilled part of open or unacknowledged orders.
func (p Pair) Deployed() decimal.Decimal {
	total := decimal.Zero
	for _, l := range []Leg{p.Yes, p.No} {
		total = total.Add(l.Cost())
		if l.Open() || l.Unacked() {
			rest := l.Size.Sub(l.FilledSize)
			if rest.IsPositive() {
				total = total.Add(rest.Mul(l.BidPrice))
			}
		}
	}
	return total
}

// ReadyToMerge reports whether the merge accountant may submit a merge now.
func (p Pair) ReadyToMerge(now time.Time) bool {
	return p.Status == PairMatched &&
		!p.MergeBlocked &&
		!p.Settled() &&
		!p.HasOpenLegs() &&
		p.PairedSize().IsPositive() &&
		!now.Before(p.NextMergeAt)
}

// Settled reports whether the resolution settlement was recorded.
func (p Pair) Settled() bool { return p.SettledAt != nil }

// Active reports whether the pair still needs the engine: its status is not
// terminal and its market resolution has not been booked. A settled Matched or
// Orphaned pair is fully resolved.
func (p Pair) Active() bool { return !p.Status.Terminal() && !p.Settled() }

// RealizedPnL is the merge or stop-loss result plus the resolution settlement.
func (p Pair) RealizedPnL() decimal.Decimal { return p.Profit.Add(p.SettlementPnL) }

// Transition moves the pair along one allowed edge.
func (p *Pair) Transition(to PairStatus, now time.Time) (Transition, error) {
	if !p.Status.CanTransition(to) {
		return Transition{}, fmt.Errorf("pair %s: %s -> %s: %w", p.ID, p.Status, to, ErrInvalidTransition)
	}
	tr := Transition{From: p.Status, To: to, At: now}
	p.Status = to
	p.UpdatedAt = now
	switch to {
	case PairHalfFilled:
		if p.HalfFilledAt == nil {
			t := p.firstFillAt(now)
			p.HalfFilledAt = &t
		}
	case PairMatched:
		if cost, ok := p.CurrentPairCost(); ok {
			p.PairCost = cost
		}
	}
	return tr, nil
}

func (p *Pair) firstFillAt(now time.Time) time.Time {
	first := now
	for _, l := range []Leg{p.Yes, p.No} {
		if l.FilledAt != nil && l.FilledAt.Before(first) {
			first = *l.FilledAt
		}
	}
	return first
}

// ObserveResult reports what an observation changed.
type ObserveResult struct {
	Changed     bool
	Transitions []Transition
}

// ObserveOrder folds an authoritative order snapshot into the pair and walks
// the status forward along allowed edges. Both the push feed and polling land
// here, so replaying a snapshot is a no-op.
func (p *Pair) ObserveOrder(st OrderState, now time.Time) (ObserveResult, error) {
	if p.Exit.OrderID != "" && st.OrderID == p.Exit.OrderID {
		return p.observeExit(st, now)
	}
	leg := p.legByOrder(st.OrderID)
	if leg == nil {
		return ObserveResult{}, fmt.Errorf("pair %s order %q: %w", p.ID, st.OrderID, ErrUnknownOrder)
	}
	return p.observeLeg(leg, st, now)
}

// AdoptOrder binds an unacknowledged leg to the venue order found for it and
// folds the order's state in.
func (p *Pair) AdoptOrder(o Outcome, st OrderState, now time.Time) (ObserveResult, error) {
	leg := p.Leg(o)
	if !leg.Unacked() {
		return ObserveResult{}, fmt.Errorf("pair %s %s leg is acknowledged: %w", p.ID, o, ErrPrecondition)
	}
	if st.OrderID == "" || p.OwnsOrder(st.OrderID) {
		return ObserveResult{}, fmt.Errorf("pair %s adopt order %q: %w", p.ID, st.OrderID, ErrPrecondition)
	}
	leg.OrderID = st.OrderID
	leg.OrderStatus = OrderOpen
	p.UpdatedAt = now
	res, err := p.observeLeg(leg, st, now)
	res.Changed = true
	return res, err
}

// CloseUnacked settles an unacknowledged leg whose order is no longer on the
// book. filled is the number of shares it bought, taken from the wallet.
func (p *Pair) CloseUnacked(o Outcome, filled decimal.Decimal, now time.Time) (ObserveResult, error) {
	leg := p.Leg(o)
	if !leg.Unacked() {
		return ObserveResult{}, fmt.Errorf("pair %s %s leg is acknowledged: %w", p.ID, o, ErrPrecondition)
	}
	st := OrderState{Status: OrderRejected, FilledSize: decimal.Zero, ObservedAt: now, Source: "poll"}
	if filled.IsPositive() {
		st.FilledSize = decimal.Min(filled, leg.Size)
		st.FillPrice = leg.BidPrice
		st.Status = OrderCancelled
		if st.FilledSize.Equal(leg.Size) {
			st.Status = OrderFilled
		}
	}
	return p.observeLeg(leg, st, now)
}

func (p *Pair) observeLeg(leg *Leg, st OrderState, now time.Time) (ObserveResult, error) {
	// Legs are frozen once the merge started or the pair is closed.
	if p.Status.Terminal() || p.Status == PairMerging {
		if st.FilledSize.GreaterThan(leg.FilledSize) {
			return ObserveResult{}, fmt.Errorf("pair %s is %s, late fill on %s leg: %w",
				p.ID, p.Status, leg.Outcome, ErrInvalidTransition)
		}
		return ObserveResult{}, nil
	}

	res := ObserveResult{Changed: leg.apply(st, now)}
	if !res.Changed {
		return res, nil
	}
	p.UpdatedAt = now
	if p.Status == PairMatched {
		// more fills on a matched pair only move the cost
		if cost, ok := p.CurrentPairCost(); ok {
			p.PairCost = cost
		}
		return res, nil
	}
	if p.Status == PairOrphaned && (p.Exit.InFlight() || p.Exit.FilledSize.IsPositive()) {
		// The exit is selling the first leg. The late shares stay on the
		// pair and are settled at resolution.
		return res, nil
	}

	trs, err := p.advance(p.fillStatus(), now)
	res.Transitions = trs
	return res, err
}

// fillStatus derives the status implied by the legs alone.
func (p Pair) fillStatus() PairStatus {
	yes, no := p.Yes.Filled(), p.No.Filled()
	switch {
	case yes && no:
		return PairMatched
	case yes || no:
		unfilled := p.No
		if no {
			unfilled = p.Yes
		}
		if unfilled.OrderStatus.Closed() {
			return PairOrphaned
		}
		return PairHalfFilled
	case p.Yes.OrderStatus.Closed() && p.No.OrderStatus.Closed():
		return PairCancelled
	}
	return PairPending
}

func (p *Pair) advance(target PairStatus, now time.Time) ([]Transition, error) {
	if target == p.Status {
		return nil, nil
	}
	path := statusPath(p.Status, target)
	if path == nil {
		return nil, fmt.Errorf("pair %s: no path %s -> %s: %w", p.ID, p.Status, target, ErrInvalidTransition)
	}
	trs := make([]Transition, 0, len(path))
	for _, next := range path {
		tr, err := p.Transition(next, now)
		if err != nil {
			return trs, err
		}
		trs = append(trs, tr)
	}
	return trs, nil
}

func (p *Pair) observeExit(st OrderState, now time.Time) (ObserveResult, error) {
	e := &p.Exit
	var res ObserveResult
	if st.FilledSize.GreaterThan(e.FilledSize) {
		e.FilledSize = st.FilledSize
		switch {
		case st.FillPrice.IsPositive():
			e.FillPrice = st.FillPrice
		case e.FillPrice.IsZero():
			e.FillPrice = e.Price
		}
		res.Changed = true
	}
	if st.Status != "" && st.Status != OrderUnknown && st.Status != e.Status && !e.Status.Closed() {
		e.Status = st.Status
		res.Changed = true
	}
	if !res.Changed {
		return res, nil
	}
	p.UpdatedAt = now
	if !e.Status.Closed() || p.Status == PairStopLoss {
		return res, nil
	}
	if !e.FilledSize.IsPositive() {
		// closed without fills: clear it so the next tick can retry
		p.Exit = ExitOrder{}
		if p.Status == PairOrphaned && p.fillStatus() == PairMatched {
			// a late fill arrived while the exit was resting
			trs, err := p.advance(PairMatched, now)
			res.Transitions = trs
			return res, err
		}
		return res, nil
	}
	tr, err := p.CompleteStopLoss(now)
	if err != nil {
		return res, err
	}
	res.Transitions = []Transition{tr}
	return res, nil
}

// CompleteStopLoss books the realized loss of a filled exit and moves the pair
// to StopLoss.
func (p *Pair) CompleteStopLoss(now time.Time) (Transition, error) {
	if !p.Exit.FilledSize.IsPositive() {
		return Transition{}, fmt.Errorf("pair %s: exit has no fills: %w", p.ID, ErrPrecondition)
	}
	leg := p.Leg(p.Exit.Outcome)
	tr, err := p.Transition(PairStopLoss, now)
	if err != nil {
		return Transition{}, err
	}
	p.Profit = StopLossLoss(p.Exit.FilledSize, leg.FillPrice, p.Exit.FillPrice).Neg()
	return tr, nil
}

// StartMerge records a submitted merge transaction.
func (p *Pair) StartMerge(txID string, now time.Time) (Transition, error) {
	if txID == "" {
		return Transition{}, fmt.Errorf("pair %s: empty merge tx: %w", p.ID, ErrPrecondition)
	}
	tr, err := p.Transition(PairMerging, now)
	if err != nil {
		return Transition{}, err
	}
	p.MergeTxID = txID
	return tr, nil
}

// CompleteMerge books the merge profit once the transaction confirmed.
func (p *Pair) CompleteMerge(now time.Time) (Transition, error) {
	if p.MergeTxID == "" || !p.Yes.FillPrice.IsPositive() || !p.No.FillPrice.IsPositive() {
		return Transition{}, fmt.Errorf("pair %s: merge without tx or fill prices: %w", p.ID, ErrPrecondition)
	}
	paired := p.PairedSize()
	tr, err := p.Transition(PairMerged, now)
	if err != nil {
		return Transition{}, err
	}
	p.MergedSize = paired
	p.Profit = MergeProfit(paired, p.PairCost)
	return tr, nil
}

// FailMerge returns a Merging pair to Matched and schedules the next attempt.
func (p *Pair) FailMerge(now time.Time, retryAt time.Time) (Transition, error) {
	tr, err := p.Transition(PairMatched, now)
	if err != nil {
		return Transition{}, err
	}
	p.NextMergeAt = retryAt
	return tr, nil
}

// HeldShares returns the shares of leg o still held: filled minus merged minus
// sold by a stop-loss exit.
func (p Pair) HeldShares(o Outcome) decimal.Decimal {
	leg := p.Yes
	if o == OutcomeNo {
		leg = p.No
	}
	held := leg.FilledSize.Sub(p.MergedSize)
	if p.Exit.Outcome == o {
		held = held.Sub(p.Exit.FilledSize)
	}
	if held.IsNegative() {
		return decimal.Zero
	}
	return held
}

// NeedsSettlement reports whether the pair still holds shares that only the
// market resolution can settle.
func (p Pair) NeedsSettlement() bool {
	if p.Settled() {
		return false
	}
	switch p.Status {
	case PairOrphaned, PairStopLoss, PairMerged, PairMatched:
	default:
		return false
	}
	if p.Exit.InFlight() {
		return false
	}
	return p.HeldShares(OutcomeYes).IsPositive() || p.HeldShares(OutcomeNo).IsPositive()
}

// Settle books the resolution result of the held shares:
//
//	winning side: held * (1 - avg price)
//	losing side:  -held * avg price
func (p *Pair) Settle(winner Outcome, now time.Time) (decimal.Decimal, error) {
	if !winner.Valid() {
		return decimal.Zero, fmt.Errorf("pair %s: invalid winner %q: %w", p.ID, winner, ErrPrecondition)
	}
	if !p.NeedsSettlement() {
		return decimal.Zero, fmt.Errorf("pair %s (%s) has nothing to settle: %w", p.ID, p.Status, ErrPrecondition)
	}
	pnl := decimal.Zero
	for _, o := range []Outcome{OutcomeYes, OutcomeNo} {
		if held := p.HeldShares(o); held.IsPositive() {
			pnl = pnl.Add(OrphanPnL(held, p.Leg(o).FillPrice, o, winner))
		}
	}
	t := now
	p.Winner = winner
	p.SettlementPnL = pnl
	p.SettledAt = &t
	p.UpdatedAt = now
	return pnl, nil
}

// Validate checks the data invariants of a pair.
func (p Pair) Validate() error {
	if _, err := ParsePairStatus(string(p.Status)); err != nil {
		return fmt.Errorf("pair %s: %w", p.ID, err)
	}
	for _, l := range []Leg{p.Yes, p.No} {
		if l.FilledSize.IsNegative() || l.Size.IsNegative() {
			return fmt.Errorf("pair %s: negative size on %s leg", p.ID, l.Outcome)
		}
	}
	if p.Status == PairMerged {
		if p.MergeTxID == "" {
			return fmt.Errorf("pair %s: merged without merge tx", p.ID)
		}
		if !p.Yes.FillPrice.IsPositive() || !p.No.FillPrice.IsPositive() {
			return fmt.Errorf("pair %s: merged without fill prices", p.ID)
		}
	}
	return nil
}

// PairFilter selects pairs for listing. Zero fields match everything.
type PairFilter struct {
	Statuses    []PairStatus
	ConditionID string
	Unsettled   bool // only pairs without a resolution settlement
	Limit       int
	Offset      int
}
