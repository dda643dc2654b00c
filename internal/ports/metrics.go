package ports

import (
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// Metrics receives engine events for monitoring.
type Metrics interface {
	PairTransition(from, to domain.PairStatus)
	OrderPlaced(side domain.OrderSide)
	PlacementRejected(reason string)
	MergeSubmitted()
	RealizedPnL(kind domain.LogKind, amount decimal.Decimal)
	Error(class domain.ErrorClass)
	FeedDropped()
	SetStats(s domain.StatsSnapshot)
}

// Reporter renders a human readable snapshot of the pair book.
type Reporter interface {
	Report(pairs []domain.Pair, stats domain.StatsSnapshot) error
}
