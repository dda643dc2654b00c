package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatsSnapshot is the fleet-wide aggregate over every pair. It is a read
// cache; the pairs themselves are authoritative.
type StatsSnapshot struct {
	TotalPairs      int                `json:"total_pairs"`
	ByStatus        map[PairStatus]int `json:"by_status"`
	MergedPairs     int                `json:"merged_pairs"`
	MatchedOrBetter int                `json:"matched_or_better"`
	SettledPairs    int                `json:"settled_pairs"`
	TotalProfit     decimal.Decimal    `json:"total_profit"`
	FillRate        decimal.Decimal    `json:"fill_rate"`
	Deployed        decimal.Decimal    `json:"deployed"`
	ComputedAt      time.Time          `json:"computed_at"`
}

// ComputeStats aggregates pairs.
//
//	fill_rate    = matched_or_better / total_pairs
//	total_profit = sum of realized pnl over Merged, StopLoss and settled pairs
//	deployed     = capital of active pairs
//
// matched_or_better counts pairs whose current status is Matched, Merging or
// Merged. It includes Matched pairs held to resolution, settled or not, and
// orphans a late fill turned Matched. A pair that sold its first leg through
// a stop-loss does not count even if the second leg filled afterwards.
func ComputeStats(pairs []Pair, now time.Time) StatsSnapshot {
	s := StatsSnapshot{
		ByStatus:    make(map[PairStatus]int, len(pairStatuses)),
		TotalProfit: decimal.Zero,
		FillRate:    decimal.Zero,
		Deployed:    decimal.Zero,
		ComputedAt:  now,
	}
	for _, st := range pairStatuses {
		s.ByStatus[st] = 0
	}
	for _, p := range pairs {
		s.TotalPairs++
		s.ByStatus[p.Status]++
		if p.Status == PairMerged {
			s.MergedPairs++
		}
		if p.Status.MatchedOrBetter() {
			s.MatchedOrBetter++
		}
		if p.Settled() {
			s.SettledPairs++
		}
		if p.Status == PairMerged || p.Status == PairStopLoss || p.Settled() {
			s.TotalProfit = s.TotalProfit.Add(p.RealizedPnL())
		}
		if p.Active() {
			s.Deployed = s.Deployed.Add(p.Deployed())
		}
	}
	if s.TotalPairs > 0 {
		s.FillRate = decimal.NewFromInt(int64(s.MatchedOrBetter)).
			Div(decimal.NewFromInt(int64(s.TotalPairs)))
	}
	return s
}
