package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome identifies one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Opposite returns the other side of the market.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Valid reports whether o is one of the two known outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Token is one of the two outcome tokens of a market.
type Token struct {
	TokenID string
	Outcome Outcome
	Mid     decimal.Decimal
	BestBid decimal.Decimal
}

// Market is a per-scan snapshot of a binary up/down market. It is re-fetched
// every scan tick and never persisted.
type Market struct {
	ConditionID string
	Asset       string // BTC, ETH, SOL, ...
	Question    string
	Slug        string
	EndDate     time.Time
	NegRisk     bool
	Closed      bool
	Yes         Token
	No          Token

	// MinutesLeft is computed at scan time from EndDate.
	MinutesLeft float64
}

// Token returns the token for the given outcome.
func (m Market) Token(o Outcome) Token {
	if o == OutcomeNo {
		return m.No
	}
	return m.Yes
}

// HasTokens reports whether both outcome tokens are known.
func (m Market) HasTokens() bool {
	return m.Yes.TokenID != "" && m.No.TokenID != ""
}

// MinutesUntil returns the minutes remaining until EndDate at now.
// Negative once the market has closed.
func (m Market) MinutesUntil(now time.Time) float64 {
	if m.EndDate.IsZero() {
		return 0
	}
	return m.EndDate.Sub(now).Minutes()
}

// Resolution is the settled outcome of a market after close.
type Resolution struct {
	ConditionID string
	Resolved    bool
	Winner      Outcome
}

// PriceTick is a push update of the best bid and mid of one outcome token.
type PriceTick struct {
	TokenID string
	BestBid decimal.Decimal
	Mid     decimal.Decimal
	At      time.Time
}

// Quote is the latest known price of a token, fed by scans and ticks.
type Quote struct {
	BestBid decimal.Decimal
	Mid     decimal.Decimal
	At      time.Time
}

// AssetFromText extracts the crypto asset symbol from a market slug or question,
// e.g. "btc-updown-15m-1760000000" or "Bitcoin Up or Down - ...". Returns "" if
// no known asset is found.
func AssetFromText(s string) string {
	lower := strings.ToLower(s)
	for _, a := range knownAssets {
		for _, alias := range a.aliases {
			if strings.HasPrefix(lower, alias+"-") || strings.HasPrefix(lower, alias+" ") {
				return a.symbol
			}
		}
	}
	return ""
}

var knownAssets = []struct {
	symbol  string
	aliases []string
}{
	{"BTC", []string{"btc", "bitcoin"}},
	{"ETH", []string{"eth", "ethereum"}},
	{"SOL", []string{"sol", "solana"}},
	{"XRP", []string{"xrp"}},
	{"DOGE", []string{"doge", "dogecoin"}},
}

// TruncateQuestion shortens a market question to maxLen characters. An empty
// question falls back to the leading characters of the condition id.
func TruncateQuestion(question, conditionID string, maxLen int) string {
	q := question
	if q == "" {
		if len(conditionID) > 20 {
			q = conditionID[:20] + "..."
		} else {
			q = conditionID
		}
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}
