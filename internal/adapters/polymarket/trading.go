package polymarket

// trading.go: order placement through the CLOB API.
//
// TradingClient implements ports.OrderVenue on top of AuthClient. Every
// order is a GTC limit order; BUY for pair legs, SELL for stop-loss exits.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

const (
	orderPath     = "/order"
	orderDataPath = "/data/order/"
	ordersPath    = "/data/orders"

	// endCursor marks the last page of a paginated CLOB listing.
	endCursor = "LTE="
	maxPages  = 20
)

// TradingClient implements ports.OrderVenue.
type TradingClient struct {
	auth *AuthClient
	now  func() time.Time
}

// NewTradingClient creates a TradingClient.
func NewTradingClient(auth *AuthClient) *TradingClient {
	return &TradingClient{auth: auth, now: time.Now}
}

// PlaceOrder signs and submits a limit order and returns the CLOB order id.
// A rejected order wraps domain.ErrPrecondition.
func (tc *TradingClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return "", fmt.Errorf("place order: creds: %w", err)
	}

	signed, err := tc.auth.buildSignedOrder(req.TokenID, req.Side, req.Price, req.Size, req.NegRisk)
	if err != nil {
		return "", fmt.Errorf("place order: sign: %w", err)
	}

	side := string(domain.SideBuy)
	if req.Side == domain.SideSell {
		side = string(domain.SideSell)
	}
	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          side,
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.creds.APIKey,
		OrderType: "GTC",
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, orderPath, body, &resp, true); err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if !resp.Success || resp.OrderID == "" {
		return "", fmt.Errorf("place order: %w: %s", domain.ErrPrecondition, resp.ErrorMsg)
	}
	return resp.OrderID, nil
}

// CancelOrder cancels a single order. An order the CLOB refuses to cancel
// (already matched or gone) wraps domain.ErrPrecondition.
func (tc *TradingClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("cancel order: creds: %w", err)
	}

	var resp clobCancelResponse
	if err := tc.auth.doL2(ctx, http.MethodDelete, orderPath, clobCancelRequest{OrderID: orderID}, &resp, true); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	if reason, ok := resp.NotCanceled[orderID]; ok {
		return fmt.Errorf("cancel order %s: %w: %s", orderID, domain.ErrPrecondition, reason)
	}
	return nil
}

// GetOrder reads the authoritative state of an order.
func (tc *TradingClient) GetOrder(ctx context.Context, orderID string) (domain.OrderState, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.OrderState{}, fmt.Errorf("get order: creds: %w", err)
	}

	var o clobOrder
	if err := tc.auth.doL2(ctx, http.MethodGet, orderDataPath+url.PathEscape(orderID), nil, &o, false); err != nil {
		return domain.OrderState{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	// The CLOB answers an unknown id with 200 and an empty body.
	if o.ID == "" {
		return domain.OrderState{}, fmt.Errorf("get order %s: %w", orderID, domain.ErrNotFound)
	}
	return mapOrderState(o, tc.now()), nil
}

// OpenOrders lists the wallet's live orders on a market.
func (tc *TradingClient) OpenOrders(ctx context.Context, conditionID string) ([]domain.OrderState, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return nil, fmt.Errorf("open orders: creds: %w", err)
	}

	var out []domain.OrderState
	cursor := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("market", conditionID)
		if cursor != "" {
			q.Set("next_cursor", cursor)
		}
		var resp clobOrdersResponse
		if err := tc.auth.doL2(ctx, http.MethodGet, ordersPath+"?"+q.Encode(), nil, &resp, false); err != nil {
			return nil, fmt.Errorf("open orders %s: %w", conditionID, err)
		}
		now := tc.now()
		for _, o := range resp.Data {
			if o.ID == "" {
				continue
			}
			out = append(out, mapOrderState(o, now))
		}
		if resp.NextCursor == "" || resp.NextCursor == endCursor {
			return out, nil
		}
		cursor = resp.NextCursor
	}
	return out, nil
}
