package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// PairedSize is the number of complete YES+NO sets that can be merged.
func PairedSize(yesFilled, noFilled decimal.Decimal) decimal.Decimal {
	return decimal.Min(yesFilled, noFilled)
}

// PairCost is the cost of one combined YES+NO share:
//
//	yesCost/yesFilled + noCost/noFilled
//
// ok is false while either leg has no fills.
func PairCost(yesCost, yesFilled, noCost, noFilled decimal.Decimal) (cost decimal.Decimal, ok bool) {
	if !yesFilled.IsPositive() || !noFilled.IsPositive() {
		return decimal.Zero, false
	}
	return yesCost.Div(yesFilled).Add(noCost.Div(noFilled)), true
}

// MergeProfit is pairedSize * (1 - pairCost).
func MergeProfit(pairedSize, pairCost decimal.Decimal) decimal.Decimal {
	return pairedSize.Mul(one.Sub(pairCost))
}

// CheckMergeEconomics returns an ErrEconomicReject error unless
// pairCost <= maxPairCost and 1 - pairCost >= minSpreadProfit.
func CheckMergeEconomics(pairCost, maxPairCost, minSpreadProfit decimal.Decimal) error {
	if pairCost.GreaterThan(maxPairCost) {
		return fmt.Errorf("pair cost %s above max %s: %w", pairCost, maxPairCost, ErrEconomicReject)
	}
	if spread := one.Sub(pairCost); spread.LessThan(minSpreadProfit) {
		return fmt.Errorf("spread %s below min %s: %w", spread, minSpreadProfit, ErrEconomicReject)
	}
	return nil
}

// OrphanPnL settles size shares bought at avgPrice on side once the market
// resolved to winner: the winning side pays 1 per share.
func OrphanPnL(size, avgPrice decimal.Decimal, side, winner Outcome) decimal.Decimal {
	cost := size.Mul(avgPrice)
	if side == winner {
		return size.Sub(cost)
	}
	return cost.Neg()
}

// StopLossLoss is the realized loss of a forced exit,
// filledSize * (fillPrice - exitPrice). Negative when the exit was above entry.
func StopLossLoss(filledSize, fillPrice, exitPrice decimal.Decimal) decimal.Decimal {
	return filledSize.Mul(fillPrice.Sub(exitPrice))
}

// Drawdown is the relative move against a long position bought at entry,
// (entry - current) / entry. Zero when entry is not positive.
func Drawdown(entry, current decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	return entry.Sub(current).Div(entry)
}

// FormatUSD renders an amount the way the logs show money.
func FormatUSD(d decimal.Decimal) string {
	return "$" + d.StringFixed(4)
}
