package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	gammaPageSize    = 100
	// gammaMaxPages bounds a single scan if pagination never empties.
	gammaMaxPages = 50
)

// MarketClient implements ports.MarketProvider on the Gamma API, with
// prices refreshed from CLOB books.
type MarketClient struct {
	*Client
	// Horizon is how far ahead end dates are listed.
	Horizon time.Duration
	now     func() time.Time
}

// NewMarketClient returns a market provider listing markets that close
// within horizon.
func NewMarketClient(c *Client, horizon time.Duration) *MarketClient {
	if horizon <= 0 {
		horizon = 2 * time.Hour
	}
	return &MarketClient{Client: c, Horizon: horizon, now: time.Now}
}

// FetchMarkets lists open crypto up/down markets ending within the horizon.
// Paginates with offset until a short page is returned. Book prices replace
// the Gamma outcome prices when the book fetch succeeds.
func (mc *MarketClient) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	now := mc.now().UTC()
	var raw []gammaMarket
	for page := 0; page < gammaMaxPages; page++ {
		q := url.Values{}
		q.Set("closed", "false")
		q.Set("active", "true")
		q.Set("end_date_min", now.Format(time.RFC3339))
		q.Set("end_date_max", now.Add(mc.Horizon).Format(time.RFC3339))
		q.Set("limit", strconv.Itoa(gammaPageSize))
		q.Set("offset", strconv.Itoa(page*gammaPageSize))

		var resp []gammaMarket
		if err := mc.get(ctx, mc.gammaLimiter, mc.gammaBase+gammaMarketsPath+"?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("gamma.FetchMarkets: %w", err)
		}
		raw = append(raw, resp...)
		if len(resp) < gammaPageSize {
			break
		}
	}

	markets := make([]domain.Market, 0, len(raw))
	tokenIDs := make([]string, 0, 2*len(raw))
	for _, gm := range raw {
		if !isUpDown(gm) {
			continue
		}
		m, err := mapGammaMarket(gm)
		if err != nil {
			slog.Debug("skipping gamma market", "condition_id", gm.ConditionID, "err", err)
			continue
		}
		if m.Asset == "" {
			continue
		}
		m.MinutesLeft = m.MinutesUntil(now)
		markets = append(markets, m)
		tokenIDs = append(tokenIDs, m.Yes.TokenID, m.No.TokenID)
	}

	books, err := mc.FetchOrderBooks(ctx, tokenIDs)
	if err != nil {
		slog.Warn("book enrichment failed, using gamma prices", "err", err)
		return markets, nil
	}
	for i := range markets {
		if ob, ok := books[markets[i].Yes.TokenID]; ok {
			applyBook(&markets[i].Yes, ob)
		}
		if ob, ok := books[markets[i].No.TokenID]; ok {
			applyBook(&markets[i].No, ob)
		}
	}

	slog.Debug("markets fetched", "gamma", len(raw), "up_down", len(markets))
	return markets, nil
}

// Resolution looks the market up by condition id. Unresolved markets return
// Resolved=false without error.
func (mc *MarketClient) Resolution(ctx context.Context, conditionID string) (domain.Resolution, error) {
	q := url.Values{}
	q.Set("condition_ids", conditionID)
	var resp []gammaMarket
	if err := mc.get(ctx, mc.gammaLimiter, mc.gammaBase+gammaMarketsPath+"?"+q.Encode(), &resp); err != nil {
		return domain.Resolution{}, fmt.Errorf("gamma.Resolution %s: %w", conditionID, err)
	}
	for _, gm := range resp {
		if gm.ConditionID == conditionID {
			return mapResolution(gm), nil
		}
	}
	return domain.Resolution{}, fmt.Errorf("gamma.Resolution %s: %w", conditionID, domain.ErrNotFound)
}
