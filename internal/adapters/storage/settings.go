package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// LoadSettings returns the persisted operator settings or domain.ErrNotFound.
func (s *SQLiteStorage) LoadSettings(ctx context.Context) (domain.Settings, error) {
	var data, updated string
	err := s.db.QueryRowContext(ctx, `SELECT data, updated_at FROM settings WHERE id=1`).Scan(&data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Settings{}, fmt.Errorf("storage.LoadSettings: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("storage.LoadSettings: %w", err)
	}

	var st domain.Settings
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return domain.Settings{}, fmt.Errorf("storage.LoadSettings: decode: %w", err)
	}
	st.UpdatedAt = parseTime(updated)
	return st, nil
}

// SaveSettings validates and replaces the operator settings.
func (s *SQLiteStorage) SaveSettings(ctx context.Context, st domain.Settings) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("storage.SaveSettings: %w", err)
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("storage.SaveSettings: encode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		string(data), formatTime(st.UpdatedAt),
	); err != nil {
		return fmt.Errorf("storage.SaveSettings: %w", err)
	}
	return nil
}

// ─── Circuit Breaker ─────────────────────────────────────────────────────────

// SaveCircuitBreaker persists the current circuit breaker state.
func (s *SQLiteStorage) SaveCircuitBreaker(ctx context.Context, cb domain.CircuitBreaker) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE circuit_breaker SET
		  consecutive_losses=?, max_losses=?, cooldown_until=?,
		  cooldown_duration_s=?, total_pnl=?, max_drawdown=?,
		  triggered=?, triggered_reason=?
		WHERE id=1`,
		cb.ConsecutiveLosses, cb.MaxLosses, formatTime(cb.CooldownUntil),
		int(cb.CooldownDuration.Seconds()), cb.TotalPnL, cb.MaxDrawdown,
		boolToInt(cb.Triggered), cb.TriggeredReason,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveCircuitBreaker: %w", err)
	}
	return nil
}

// LoadCircuitBreaker loads the persisted circuit breaker state.
func (s *SQLiteStorage) LoadCircuitBreaker(ctx context.Context) (domain.CircuitBreaker, error) {
	var cb domain.CircuitBreaker
	var triggered, cooldownS int
	var cooldownUntil string

	err := s.db.QueryRowContext(ctx, `
		SELECT consecutive_losses, max_losses, cooldown_until, cooldown_duration_s,
		       total_pnl, max_drawdown, triggered, triggered_reason
		FROM circuit_breaker WHERE id=1`).Scan(
		&cb.ConsecutiveLosses, &cb.MaxLosses, &cooldownUntil, &cooldownS,
		&cb.TotalPnL, &cb.MaxDrawdown, &triggered, &cb.TriggeredReason,
	)
	if err != nil {
		return cb, fmt.Errorf("storage.LoadCircuitBreaker: %w", err)
	}
	cb.Triggered = triggered != 0
	cb.CooldownDuration = time.Duration(cooldownS) * time.Second
	cb.CooldownUntil = parseTime(cooldownUntil)
	return cb, nil
}
