// Package maker runs the paired market-making engine: it places YES+NO bid
// pairs on short up/down markets, follows their fills and drives each pair to
// a merge, a stop-loss or a resolution settlement.
package maker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/mintmaker/internal/domain"
	"github.com/alejandrodnm/mintmaker/internal/ports"
)

const (
	defaultScanInterval      = 15 * time.Second
	defaultOrphanInterval    = 5 * time.Second
	defaultSweepInterval     = 10 * time.Second
	defaultMergeInterval     = 10 * time.Second
	defaultReconcileInterval = 30 * time.Second
	defaultCallTimeout       = 10 * time.Second
	defaultMergeBackoffBase  = 30 * time.Second
	defaultMaxMergeAttempts  = 5
	defaultMergeRearmAfter   = 10 * time.Minute
	defaultUnackedWindow     = 2 * time.Minute
	defaultWorkers           = 8
	defaultFeedBuffer        = 256
	defaultDedupTTL          = 10 * time.Minute
	defaultLogRetention      = 30 * 24 * time.Hour
	defaultBreakerLosses     = 3
	defaultBreakerCooldown   = 30 * time.Minute
)

// Config holds the process-level knobs of the engine. Operator settings live
// in domain.Settings and are reloaded every tick.
type Config struct {
	ScanInterval      time.Duration
	OrphanInterval    time.Duration
	SweepInterval     time.Duration
	MergeInterval     time.Duration
	ReconcileInterval time.Duration

	// CallTimeout bounds every outbound call.
	CallTimeout time.Duration

	MergeBackoffBase time.Duration
	MaxMergeAttempts int
	// MergeRearmAfter is how long an exhausted merge waits before the
	// reconciler re-arms it.
	MergeRearmAfter time.Duration
	// UnackedWindow is how long a placement that timed out may stay
	// unresolved, and how long an order no pair owns may rest, before the
	// reconciler closes it.
	UnackedWindow time.Duration

	Workers      int
	FeedBuffer   int
	DedupTTL     time.Duration
	LogRetention time.Duration

	BreakerMaxLosses   int
	BreakerCooldown    time.Duration
	BreakerMaxDrawdown decimal.Decimal // negative dollars, zero disables

	// DryRun plans pairs without placing them.
	DryRun bool
}

func (c *Config) setDefaults() {
	setDur := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}
	setDur(&c.ScanInterval, defaultScanInterval)
	setDur(&c.OrphanInterval, defaultOrphanInterval)
	setDur(&c.SweepInterval, defaultSweepInterval)
	setDur(&c.MergeInterval, defaultMergeInterval)
	setDur(&c.ReconcileInterval, defaultReconcileInterval)
	setDur(&c.CallTimeout, defaultCallTimeout)
	setDur(&c.MergeBackoffBase, defaultMergeBackoffBase)
	setDur(&c.MergeRearmAfter, defaultMergeRearmAfter)
	setDur(&c.UnackedWindow, defaultUnackedWindow)
	setDur(&c.DedupTTL, defaultDedupTTL)
	setDur(&c.LogRetention, defaultLogRetention)
	setDur(&c.BreakerCooldown, defaultBreakerCooldown)
	if c.MaxMergeAttempts <= 0 {
		c.MaxMergeAttempts = defaultMaxMergeAttempts
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.FeedBuffer <= 0 {
		c.FeedBuffer = defaultFeedBuffer
	}
	if c.BreakerMaxLosses <= 0 {
		c.BreakerMaxLosses = defaultBreakerLosses
	}
}

// Deps are the external collaborators. Orders, Prices and Metrics are optional.
type Deps struct {
	Markets    ports.MarketProvider
	Venue      ports.OrderVenue
	Orders     ports.OrderFeed
	Prices     ports.PriceFeed
	Settlement ports.Settlement
	Store      ports.PairStore
	Locker     ports.PairLocker
	Metrics    ports.Metrics

	Now   func() time.Time
	NewID func() string
}

// Engine owns the pair lifecycle. Every mutation of a pair goes through
// withPair, which serializes it on the pair lock.
type Engine struct {
	markets    ports.MarketProvider
	venue      ports.OrderVenue
	orders     ports.OrderFeed
	prices     ports.PriceFeed
	settlement ports.Settlement
	store      ports.PairStore
	locker     ports.PairLocker
	metrics    ports.Metrics
	now        func() time.Time
	newID      func() string
	cfg        Config
	log        *slog.Logger

	quotes *quoteBook
	dedup  *dedupCache
	feed   chan domain.OrderState

	breakerMu sync.Mutex
	breaker   domain.CircuitBreaker

	strayMu sync.Mutex
	strays  map[string]time.Time // unowned order id -> first seen

	mu          sync.RWMutex
	stats       domain.StatsSnapshot
	lastMarkets []domain.Market
	ready       bool
}

// New creates the engine. Store, Venue, Markets, Settlement and Locker are
// required.
func New(d Deps, cfg Config) (*Engine, error) {
	if d.Store == nil || d.Venue == nil || d.Markets == nil || d.Settlement == nil || d.Locker == nil {
		return nil, errors.New("maker.New: store, venue, markets, settlement and locker are required")
	}
	cfg.setDefaults()
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = func() string { return uuid.New().String() }
	}
	e := &Engine{
		markets:    d.Markets,
		venue:      d.Venue,
		orders:     d.Orders,
		prices:     d.Prices,
		settlement: d.Settlement,
		store:      d.Store,
		locker:     d.Locker,
		metrics:    d.Metrics,
		now:        d.Now,
		newID:      d.NewID,
		cfg:        cfg,
		log:        slog.With("component", "maker"),
		quotes:     newQuoteBook(),
		dedup:      newDedupCache(cfg.DedupTTL),
		feed:       make(chan domain.OrderState, cfg.FeedBuffer),
		breaker:    *domain.NewCircuitBreaker(cfg.BreakerMaxLosses, cfg.BreakerCooldown, cfg.BreakerMaxDrawdown),
		strays:     make(map[string]time.Time),
	}
	if e.orders != nil {
		e.orders.OnOrderUpdate(e.enqueue)
	}
	if e.prices != nil {
		e.prices.OnPriceTick(e.quotes.tick)
	}
	return e, nil
}

// Run restores state, reconciles once and then runs every task until ctx is
// cancelled or a task fails.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.consumeFeed(ctx) })
	g.Go(func() error { return e.every(ctx, "scan", e.cfg.ScanInterval, e.ScanAndPlace) })
	g.Go(func() error { return e.every(ctx, "orphan", e.cfg.OrphanInterval, e.ManageOrphans) })
	g.Go(func() error { return e.every(ctx, "sweep", e.cfg.SweepInterval, e.Sweep) })
	g.Go(func() error { return e.every(ctx, "merge", e.cfg.MergeInterval, e.MergeTick) })
	g.Go(func() error { return e.every(ctx, "reconcile", e.cfg.ReconcileInterval, e.Reconcile) })
	return g.Wait()
}

// Start restores the breaker, prunes the audit log and runs the startup
// reconciliation. Nothing is placed before it returns.
func (e *Engine) Start(ctx context.Context) error {
	if cb, err := e.store.LoadCircuitBreaker(ctx); err == nil {
		e.restoreBreaker(cb)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("maker.Start: load breaker: %w", err)
	}

	cutoff := e.now().Add(-e.cfg.LogRetention)
	if n, err := e.store.PruneLog(ctx, cutoff); err != nil {
		e.log.Warn("maker: prune audit log failed", "err", err)
	} else if n > 0 {
		e.log.Info("maker: pruned audit log", "entries", n)
	}

	if err := e.Reconcile(ctx); err != nil {
		return fmt.Errorf("maker.Start: reconcile: %w", err)
	}
	if e.orders != nil {
		active, err := e.store.ActivePairs(ctx)
		if err != nil {
			return fmt.Errorf("maker.Start: active pairs: %w", err)
		}
		e.subscribeOrders(ctx, active)
	}

	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()
	e.log.Info("maker: startup reconciliation complete")
	return nil
}

// Ready reports whether the startup reconciliation finished.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// every runs fn on a ticker. Tick errors are logged, never fatal.
func (e *Engine) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				e.log.Warn("maker: task tick failed", "task", name, "err", err)
				e.metrics.Error(domain.Classify(err))
			}
		}
	}
}

// loadSettings returns the persisted settings, or defaults before the first save.
func (e *Engine) loadSettings(ctx context.Context) (domain.Settings, error) {
	s, err := e.store.LoadSettings(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

// call derives the per-call timeout context.
func (e *Engine) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

// --- circuit breaker ---

func (e *Engine) restoreBreaker(cb domain.CircuitBreaker) {
	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()
	cb.MaxLosses = e.breaker.MaxLosses
	cb.CooldownDuration = e.breaker.CooldownDuration
	cb.MaxDrawdown = e.breaker.MaxDrawdown
	e.breaker = cb
}

func (e *Engine) breakerOpen(now time.Time) bool {
	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()
	return e.breaker.IsOpen(now)
}

// Breaker returns a copy of the circuit breaker state.
func (e *Engine) Breaker() domain.CircuitBreaker {
	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()
	return e.breaker
}

// recordPnL books a realized result on the breaker and the metrics.
func (e *Engine) recordPnL(ctx context.Context, kind domain.LogKind, pnl decimal.Decimal) {
	e.metrics.RealizedPnL(kind, pnl)

	e.breakerMu.Lock()
	wasTriggered := e.breaker.Triggered
	e.breaker.Record(pnl, e.now())
	cb := e.breaker
	e.breakerMu.Unlock()

	if cb.Triggered && !wasTriggered {
		e.log.Error("maker: circuit breaker tripped", "reason", cb.TriggeredReason, "pnl", domain.FormatUSD(cb.TotalPnL))
	}
	if err := e.store.SaveCircuitBreaker(ctx, cb); err != nil {
		e.log.Warn("maker: save circuit breaker failed", "err", err)
	}
}

// ResetBreaker clears a tripped breaker.
func (e *Engine) ResetBreaker(ctx context.Context) error {
	e.breakerMu.Lock()
	e.breaker.Reset()
	cb := e.breaker
	e.breakerMu.Unlock()
	return e.store.SaveCircuitBreaker(ctx, cb)
}

// --- read side used by the operator API ---

// Stats returns the last computed snapshot.
func (e *Engine) Stats() domain.StatsSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// Markets returns the eligible markets of the last scan.
func (e *Engine) Markets() []domain.Market {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Market, len(e.lastMarkets))
	copy(out, e.lastMarkets)
	return out
}

type nopMetrics struct{}

func (nopMetrics) PairTransition(domain.PairStatus, domain.PairStatus) {}
func (nopMetrics) OrderPlaced(domain.OrderSide)                        {}
func (nopMetrics) PlacementRejected(string)                            {}
func (nopMetrics) MergeSubmitted()                                     {}
func (nopMetrics) RealizedPnL(domain.LogKind, decimal.Decimal)         {}
func (nopMetrics) Error(domain.ErrorClass)                             {}
func (nopMetrics) FeedDropped()                                        {}
func (nopMetrics) SetStats(domain.StatsSnapshot)                       {}
