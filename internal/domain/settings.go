package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Settings are the operator knobs of the engine. A snapshot is loaded at the
// start of every task tick and passed explicitly; updates take effect on the
// next tick.
type Settings struct {
	BidOffsetCents      decimal.Decimal `json:"bid_offset_cents"`
	MaxPairCost         decimal.Decimal `json:"max_pair_cost"`
	MinSpreadProfit     decimal.Decimal `json:"min_spread_profit"`
	MaxPairsPerMarket   int             `json:"max_pairs_per_market"`
	MaxTotalPairs       int             `json:"max_total_pairs"`
	StaleOrderSeconds   int             `json:"stale_order_seconds"`
	Assets              []string        `json:"assets"`
	MinMinutesToClose   float64         `json:"min_minutes_to_close"`
	MaxMinutesToClose   float64         `json:"max_minutes_to_close"`
	SafetyMarginMinutes float64         `json:"safety_margin_minutes"`
	AutoPlace           bool            `json:"auto_place"`
	AutoPlaceSize       decimal.Decimal `json:"auto_place_size"` // shares per leg
	AutoRedeem          bool            `json:"auto_redeem"`
	StopLossPct         decimal.Decimal `json:"stop_loss_pct"` // 0 disables forced exits
	StopLossDelaySecs   int             `json:"stop_loss_delay_secs"`
	MaxDeployedUSD      decimal.Decimal `json:"max_deployed_usd"` // 0 = unlimited
	UpdatedAt           time.Time       `json:"updated_at"`
}

// DefaultSettings returns conservative defaults for a 15 minute up/down market.
func DefaultSettings() Settings {
	return Settings{
		BidOffsetCents:      decimal.NewFromInt(2),
		MaxPairCost:         decimal.RequireFromString("0.97"),
		MinSpreadProfit:     decimal.RequireFromString("0.02"),
		MaxPairsPerMarket:   1,
		MaxTotalPairs:       5,
		StaleOrderSeconds:   180,
		Assets:              []string{"BTC", "ETH"},
		MinMinutesToClose:   3,
		MaxMinutesToClose:   14,
		SafetyMarginMinutes: 2,
		AutoPlace:           false,
		AutoPlaceSize:       decimal.NewFromInt(10),
		AutoRedeem:          true,
		StopLossPct:         decimal.NewFromInt(30),
		StopLossDelaySecs:   120,
		MaxDeployedUSD:      decimal.Zero,
	}
}

// StaleAfter returns the stale order timeout as a duration.
func (s Settings) StaleAfter() time.Duration {
	return time.Duration(s.StaleOrderSeconds) * time.Second
}

// StopLossDelay returns the stop-loss delay as a duration.
func (s Settings) StopLossDelay() time.Duration {
	return time.Duration(s.StopLossDelaySecs) * time.Second
}

// BidOffset returns the bid offset as a price (cents / 100).
func (s Settings) BidOffset() decimal.Decimal {
	return s.BidOffsetCents.Shift(-2)
}

// StopLossEnabled reports whether forced exits are configured.
func (s Settings) StopLossEnabled() bool {
	return s.StopLossPct.IsPositive()
}

// AssetEnabled reports whether asset is in the eligible list (case-insensitive).
func (s Settings) AssetEnabled(asset string) bool {
	for _, a := range s.Assets {
		if strings.EqualFold(a, asset) {
			return true
		}
	}
	return false
}

// Validate checks ranges and returns an error wrapping ErrInvalidSettings that
// lists every violation.
func (s Settings) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(!s.BidOffsetCents.IsNegative(), "bid_offset_cents must be >= 0")
	check(s.MaxPairCost.IsPositive() && s.MaxPairCost.LessThanOrEqual(one), "max_pair_cost must be in (0, 1]")
	check(!s.MinSpreadProfit.IsNegative() && s.MinSpreadProfit.LessThan(one), "min_spread_profit must be in [0, 1)")
	check(s.MaxPairsPerMarket > 0, "max_pairs_per_market must be > 0")
	check(s.MaxTotalPairs > 0, "max_total_pairs must be > 0")
	check(s.StaleOrderSeconds > 0, "stale_order_seconds must be > 0")
	check(len(s.Assets) > 0, "assets must not be empty")
	check(s.MinMinutesToClose >= 0, "min_minutes_to_close must be >= 0")
	check(s.MaxMinutesToClose >= s.MinMinutesToClose, "max_minutes_to_close must be >= min_minutes_to_close")
	check(s.SafetyMarginMinutes >= 0, "safety_margin_minutes must be >= 0")
	check(!s.AutoPlace || s.AutoPlaceSize.IsPositive(), "auto_place_size must be > 0 when auto_place is on")
	check(!s.StopLossPct.IsNegative() && s.StopLossPct.LessThanOrEqual(decimal.NewFromInt(100)), "stop_loss_pct must be in [0, 100]")
	check(s.StopLossDelaySecs >= 0, "stop_loss_delay_secs must be >= 0")
	check(!s.MaxDeployedUSD.IsNegative(), "max_deployed_usd must be >= 0")

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
}
