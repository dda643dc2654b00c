package maker

import (
	"sort"
	"time"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// FilterEligible keeps open markets of an enabled asset whose time to close is
// inside [MinMinutesToClose, MaxMinutesToClose] and whose tokens have a mid.
// The result is sorted by time to close, soonest first.
func FilterEligible(markets []domain.Market, s domain.Settings, now time.Time) []domain.Market {
	var out []domain.Market
	for _, m := range markets {
		if m.Closed || !m.HasTokens() || !s.AssetEnabled(m.Asset) {
			continue
		}
		left := m.MinutesUntil(now)
		if left < s.MinMinutesToClose || left > s.MaxMinutesToClose {
			continue
		}
		if !m.Yes.Mid.IsPositive() || !m.No.Mid.IsPositive() {
			continue
		}
		m.MinutesLeft = left
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EndDate.Before(out[j].EndDate)
	})
	return out
}
