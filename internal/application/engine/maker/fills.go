package maker

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// enqueue is the order feed callback. It never blocks the socket reader: a
// full buffer drops the update and polling catches up.
func (e *Engine) enqueue(st domain.OrderState) {
	select {
	case e.feed <- st:
	default:
		e.metrics.FeedDropped()
		e.log.Warn("maker: order feed buffer full, update dropped", "order", st.OrderID)
	}
}

// consumeFeed applies pushed order updates until ctx is done.
func (e *Engine) consumeFeed(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-e.feed:
			if !e.dedup.firstSeen(st, e.now()) {
				continue
			}
			if err := e.Observe(ctx, st); err != nil {
				e.dedup.forget(st)
				if ctx.Err() != nil {
					return nil
				}
				e.log.Warn("maker: apply order update failed", "order", st.OrderID, "err", err)
			}
		}
	}
}

// PollOrders reads every open order of pairs from the venue and applies the
// snapshots. Transient read failures are logged and left to the next pass.
func (e *Engine) PollOrders(ctx context.Context, pairs []domain.Pair) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, p := range pairs {
		for _, id := range p.OrderIDs() {
			id := id
			g.Go(func() error {
				e.pollOrder(ctx, id)
				return nil
			})
		}
	}
	return g.Wait()
}

func (e *Engine) pollOrder(ctx context.Context, orderID string) {
	cctx, cancel := e.call(ctx)
	st, err := e.venue.GetOrder(cctx, orderID)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.log.Warn("maker: order not found on venue", "order", orderID)
		} else {
			e.log.Debug("maker: poll order failed", "order", orderID, "err", err)
		}
		e.metrics.Error(domain.Classify(err))
		return
	}
	if st.OrderID == "" {
		st.OrderID = orderID
	}
	if st.Source == "" {
		st.Source = "poll"
	}
	if err := e.Observe(ctx, st); err != nil {
		e.log.Warn("maker: apply polled order failed", "order", orderID, "err", err)
	}
}
