package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/mintmaker/internal/adapters/notify"
	"github.com/alejandrodnm/mintmaker/internal/domain"
	"github.com/alejandrodnm/mintmaker/internal/ports"
)

// printReport renders the stored state without touching the network.
func printReport(ctx context.Context, store ports.PairStore) error {
	pairs, err := store.ListPairs(ctx, domain.PairFilter{})
	if err != nil {
		return fmt.Errorf("list pairs: %w", err)
	}
	cb, err := store.LoadCircuitBreaker(ctx)
	if err != nil {
		return fmt.Errorf("load circuit breaker: %w", err)
	}

	console := notify.NewConsole()
	var reporter ports.Reporter = console
	if err := reporter.Report(pairs, domain.ComputeStats(pairs, time.Now())); err != nil {
		return err
	}
	console.ReportBreaker(cb)
	return nil
}
