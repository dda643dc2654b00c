package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CircuitBreaker tracks consecutive realized losses and pauses placement.
type CircuitBreaker struct {
	ConsecutiveLosses int
	MaxLosses         int
	CooldownUntil     time.Time
	CooldownDuration  time.Duration
	TotalPnL          decimal.Decimal
	MaxDrawdown       decimal.Decimal // negative dollar threshold, zero disables
	Triggered         bool
	TriggeredReason   string
}

// NewCircuitBreaker returns a breaker that cools down after maxLosses losses
// in a row and trips for good once TotalPnL falls below maxDrawdown.
func NewCircuitBreaker(maxLosses int, cooldown time.Duration, maxDrawdown decimal.Decimal) *CircuitBreaker {
	return &CircuitBreaker{
		MaxLosses:        maxLosses,
		CooldownDuration: cooldown,
		MaxDrawdown:      maxDrawdown,
	}
}

// IsOpen returns true if placement is allowed at now.
func (cb *CircuitBreaker) IsOpen(now time.Time) bool {
	if cb.Triggered {
		return false
	}
	return !now.Before(cb.CooldownUntil)
}

// Record books a realized result. Losses count towards the cooldown, anything
// else resets the streak.
func (cb *CircuitBreaker) Record(pnl decimal.Decimal, now time.Time) {
	cb.TotalPnL = cb.TotalPnL.Add(pnl)
	if !pnl.IsNegative() {
		cb.ConsecutiveLosses = 0
		return
	}
	cb.ConsecutiveLosses++
	if cb.MaxLosses > 0 && cb.ConsecutiveLosses >= cb.MaxLosses {
		cb.CooldownUntil = now.Add(cb.CooldownDuration)
		cb.ConsecutiveLosses = 0
		cb.TriggeredReason = "consecutive losses"
	}
	if cb.MaxDrawdown.IsNegative() && cb.TotalPnL.LessThan(cb.MaxDrawdown) {
		cb.Triggered = true
		cb.TriggeredReason = "max drawdown exceeded"
	}
}

// Reset clears a tripped breaker. Operator action only.
func (cb *CircuitBreaker) Reset() {
	cb.Triggered = false
	cb.TriggeredReason = ""
	cb.ConsecutiveLosses = 0
	cb.CooldownUntil = time.Time{}
}
