package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alejandrodnm/mintmaker/config"
	"github.com/alejandrodnm/mintmaker/internal/adapters/httpapi"
	"github.com/alejandrodnm/mintmaker/internal/adapters/lock"
	"github.com/alejandrodnm/mintmaker/internal/adapters/metrics"
	"github.com/alejandrodnm/mintmaker/internal/adapters/onchain"
	"github.com/alejandrodnm/mintmaker/internal/adapters/polymarket"
	"github.com/alejandrodnm/mintmaker/internal/adapters/storage"
	"github.com/alejandrodnm/mintmaker/internal/application/engine/maker"
	"github.com/alejandrodnm/mintmaker/internal/domain"
	"github.com/alejandrodnm/mintmaker/internal/ports"
)

type app struct {
	engine  *maker.Engine
	server  *httpapi.Server
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "err", err)
		}
	}
}

// wire builds every adapter and the engine. Credentials and on-chain
// approvals are checked here so a misconfigured wallet fails before the
// first order.
func wire(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, dryRun bool) (*app, error) {
	if cfg.Wallet.PrivateKey == "" {
		return nil, errors.New("wallet private key is not set (POLY_PRIVATE_KEY)")
	}
	a := &app{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPrometheus(reg)

	var locker ports.PairLocker = lock.NewLocal()
	if cfg.Redis.Addr != "" {
		r, err := lock.NewRedis(ctx, lock.RedisConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TLSEnabled: cfg.Redis.TLS,
			TTL:        config.Seconds(cfg.Redis.LockTTLSeconds),
		})
		if err != nil {
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		a.closers = append(a.closers, r.Close)
		locker = r
		slog.Info("using redis pair lock", "addr", cfg.Redis.Addr)
	}

	auth, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.Wallet.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("auth client: %w", err)
	}
	if err := auth.EnsureCreds(ctx); err != nil {
		return nil, fmt.Errorf("api credentials: %w", err)
	}
	slog.Info("wallet ready", "address", auth.Address())

	settlement, err := onchain.NewSettlementClient(cfg.Wallet.RPCURL, cfg.Wallet.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("settlement client: %w", err)
	}
	if !dryRun {
		if err := settlement.EnsureApprovals(ctx); err != nil {
			return nil, fmt.Errorf("on-chain approvals: %w", err)
		}
	}

	orders := polymarket.NewUserFeed(cfg.API.WSBase, auth)
	prices := polymarket.NewMarketFeed(cfg.API.WSBase)
	orders.OnDisconnect(feedDisconnected("user", m))
	prices.OnDisconnect(feedDisconnected("market", m))

	if err := seedSettings(ctx, store, cfg); err != nil {
		return nil, err
	}

	e, err := maker.New(maker.Deps{
		Markets:    polymarket.NewMarketClient(polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase), cfg.MarketHorizon()),
		Venue:      polymarket.NewTradingClient(auth),
		Orders:     orders,
		Prices:     prices,
		Settlement: settlement,
		Store:      store,
		Locker:     locker,
		Metrics:    m,
	}, maker.Config{
		ScanInterval:       config.Seconds(cfg.Engine.ScanIntervalSeconds),
		OrphanInterval:     config.Seconds(cfg.Engine.OrphanIntervalSeconds),
		SweepInterval:      config.Seconds(cfg.Engine.SweepIntervalSeconds),
		MergeInterval:      config.Seconds(cfg.Engine.MergeIntervalSeconds),
		ReconcileInterval:  config.Seconds(cfg.Engine.ReconcileIntervalSeconds),
		CallTimeout:        config.Seconds(cfg.Engine.CallTimeoutSeconds),
		MergeBackoffBase:   config.Seconds(cfg.Engine.MergeBackoffBaseSeconds),
		MaxMergeAttempts:   cfg.Engine.MaxMergeAttempts,
		UnackedWindow:      config.Seconds(cfg.Engine.UnackedWindowSeconds),
		Workers:            cfg.Engine.Workers,
		FeedBuffer:         cfg.Engine.FeedBuffer,
		LogRetention:       cfg.LogRetention(),
		BreakerMaxLosses:   cfg.Engine.BreakerMaxLosses,
		BreakerCooldown:    cfg.BreakerCooldown(),
		BreakerMaxDrawdown: cfg.BreakerMaxDrawdown(),
		DryRun:             dryRun,
	})
	if err != nil {
		return nil, err
	}
	a.engine = e
	a.server = httpapi.New(e, store, reg)
	return a, nil
}

// seedSettings stores the YAML settings on first start only.
func seedSettings(ctx context.Context, store ports.PairStore, cfg *config.Config) error {
	_, err := store.LoadSettings(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load settings: %w", err)
	}
	s := cfg.SeedSettings()
	if err := s.Validate(); err != nil {
		return fmt.Errorf("settings section: %w", err)
	}
	s.UpdatedAt = time.Now().UTC()
	if err := store.SaveSettings(ctx, s); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	slog.Info("settings seeded from config", "assets", s.Assets, "auto_place", s.AutoPlace)
	return nil
}

func feedDisconnected(channel string, m ports.Metrics) func(error) {
	return func(err error) {
		slog.Warn("maker: feed disconnected, polling covers the gap", "channel", channel, "err", err)
		m.FeedDropped()
	}
}
