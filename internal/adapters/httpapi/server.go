// Package httpapi serves the operator HTTP API: settings, pairs, the audit
// log, stats and the manual cancel / re-arm actions.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/mintmaker/internal/domain"
	"github.com/alejandrodnm/mintmaker/internal/ports"
)

// Engine is the part of the maker engine the API needs.
type Engine interface {
	Ready() bool
	Stats() domain.StatsSnapshot
	Markets() []domain.Market
	Breaker() domain.CircuitBreaker
	RequestCancel(ctx context.Context, pairID string) (domain.Pair, error)
	RearmMerge(ctx context.Context, pairID string) (domain.Pair, error)
}

// Server is the operator API.
type Server struct {
	engine Engine
	store  ports.PairStore
	log    *slog.Logger
	now    func() time.Time
	router chi.Router
}

// New builds the router. gatherer may be nil to disable /metrics.
func New(engine Engine, store ports.PairStore, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		engine: engine,
		store:  store,
		log:    slog.With("component", "httpapi"),
		now:    time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/health", s.health)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)
		r.Get("/markets", s.listMarkets)
		r.Get("/pairs", s.listPairs)
		r.Get("/pairs/{id}", s.getPair)
		r.Post("/pairs/{id}/cancel", s.cancelPair)
		r.Post("/pairs/{id}/merge", s.rearmMerge)
		r.Get("/log", s.listLog)
		r.Get("/stats", s.stats)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("httpapi: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpapi.ListenAndServe: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("httpapi.ListenAndServe: shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("httpapi: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
