package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// PairStore persists pairs, the audit log, settings and breaker state.
type PairStore interface {
	// SavePair upserts p and appends entries in one transaction.
	SavePair(ctx context.Context, p domain.Pair, entries ...domain.LogEntry) error
	GetPair(ctx context.Context, id string) (domain.Pair, error)
	// FindPairByOrder returns the pair owning orderID as a leg or exit order.
	FindPairByOrder(ctx context.Context, orderID string) (domain.Pair, error)
	ListPairs(ctx context.Context, f domain.PairFilter) ([]domain.Pair, error)
	// ActivePairs returns every pair with a non-terminal status and no
	// resolution settlement.
	ActivePairs(ctx context.Context) ([]domain.Pair, error)
	// UnsettledPairs returns pairs still holding shares after close.
	UnsettledPairs(ctx context.Context) ([]domain.Pair, error)

	AppendLog(ctx context.Context, entries ...domain.LogEntry) error
	ListLog(ctx context.Context, f domain.LogFilter) ([]domain.LogEntry, error)
	LatestLog(ctx context.Context, pairID string) (domain.LogEntry, error)
	PruneLog(ctx context.Context, before time.Time) (int64, error)

	// LoadSettings returns domain.ErrNotFound until settings were saved once.
	LoadSettings(ctx context.Context) (domain.Settings, error)
	SaveSettings(ctx context.Context, s domain.Settings) error

	LoadCircuitBreaker(ctx context.Context) (domain.CircuitBreaker, error)
	SaveCircuitBreaker(ctx context.Context, cb domain.CircuitBreaker) error

	Close() error
}

// PairLocker serializes mutation of a single pair across tasks.
type PairLocker interface {
	// Lock blocks until the pair lock is held or ctx is done.
	Lock(ctx context.Context, pairID string) (unlock func(), err error)
}
