package ports

import (
	"context"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// MarketProvider lists the short-horizon up/down markets and their outcome.
type MarketProvider interface {
	// FetchMarkets returns open up/down markets with token ids and current
	// mid/best-bid prices. Paginates until exhausted.
	FetchMarkets(ctx context.Context) ([]domain.Market, error)

	// Resolution reports whether a closed market resolved and to which side.
	Resolution(ctx context.Context, conditionID string) (domain.Resolution, error)
}
