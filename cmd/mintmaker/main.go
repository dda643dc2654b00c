package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/mintmaker/config"
	"github.com/alejandrodnm/mintmaker/internal/adapters/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	report := flag.Bool("report", false, "print pairs, stats and breaker state from storage and exit")
	dryRun := flag.Bool("dry-run", false, "plan pairs and log them without placing orders")
	reconcileOnly := flag.Bool("reconcile-only", false, "run the startup reconciliation once and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("mintmaker starting",
		"config", *configPath,
		"dsn", cfg.Storage.DSN,
		"dry_run", *dryRun,
		"reconcile_only", *reconcileOnly,
		"report", *report,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		if err := printReport(ctx, store); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	}

	svc, err := wire(ctx, cfg, store, *dryRun)
	if err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer svc.close()

	if *reconcileOnly {
		if err := svc.engine.Start(ctx); err != nil {
			slog.Error("reconciliation failed", "err", err)
			os.Exit(1)
		}
		slog.Info("reconciliation done", "stats_pairs", svc.engine.Stats().TotalPairs)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.engine.Run(gctx) })
	if cfg.Server.Addr != "" {
		g.Go(func() error { return svc.server.ListenAndServe(gctx, cfg.Server.Addr) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("mintmaker exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("mintmaker stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
