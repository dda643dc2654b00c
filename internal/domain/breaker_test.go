package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_CooldownAfterConsecutiveLosses(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Minute, d("-50"))
	assert.True(t, cb.IsOpen(t0))

	cb.Record(d("-1"), t0)
	assert.True(t, cb.IsOpen(t0))
	cb.Record(d("-1"), t0)
	assert.False(t, cb.IsOpen(t0))
	assert.Equal(t, "consecutive losses", cb.TriggeredReason)
	assert.True(t, cb.IsOpen(t0.Add(10*time.Minute)))
}

func TestCircuitBreaker_WinResetsStreak(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, d("0"))
	cb.Record(d("-1"), t0)
	cb.Record(d("0.5"), t0)
	cb.Record(d("-1"), t0)
	assert.True(t, cb.IsOpen(t0))
	assert.Equal(t, "-1.5", cb.TotalPnL.String())
}

func TestCircuitBreaker_DrawdownTrips(t *testing.T) {
	cb := NewCircuitBreaker(0, time.Minute, d("-5"))
	cb.Record(d("-6"), t0)
	assert.True(t, cb.Triggered)
	assert.False(t, cb.IsOpen(t0.Add(time.Hour)))

	cb.Reset()
	assert.True(t, cb.IsOpen(t0))
}
