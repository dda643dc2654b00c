package polymarket

import "encoding/json"

// Raw Polymarket API DTOs. Only used inside this package; conversion to
// domain types lives in mapping.go.

// --- CLOB API ---

// orderBookRequest is one item of the POST /books batch body.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse is one item of the POST /books response.
type orderBookResponse struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw is a raw price level (strings keep the precision).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// clobCancelRequest is the body of DELETE /order.
type clobCancelRequest struct {
	OrderID string `json:"orderID"`
}

type clobCancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// clobOrder is the response of GET /data/order/{id}. Sizes are shares.
type clobOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Outcome      string `json:"outcome"`
	CreatedAt    int64  `json:"created_at"`
}

// clobOrdersResponse is one page of GET /data/orders.
type clobOrdersResponse struct {
	Data       []clobOrder `json:"data"`
	NextCursor string      `json:"next_cursor"`
}

// --- Gamma API ---

// gammaMarket is a market as listed by Gamma. List-valued fields arrive as
// JSON-encoded strings, e.g. "[\"Up\", \"Down\"]".
type gammaMarket struct {
	ConditionID   string `json:"conditionId"`
	Question      string `json:"question"`
	Slug          string `json:"slug"`
	EndDate       string `json:"endDate"`
	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
	ClobTokenIDs  string `json:"clobTokenIds"`
	NegRisk       bool   `json:"negRisk"`
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
	AcceptOrders  bool   `json:"acceptingOrders"`
	UMAStatus     string `json:"umaResolutionStatus"`
}

// --- WebSocket ---

// wsUserSubscribe is the initial message on the user channel.
type wsUserSubscribe struct {
	Auth    wsAuth   `json:"auth"`
	Markets []string `json:"markets"`
	Type    string   `json:"type"`
}

type wsAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// wsMarketSubscribe is the initial message on the market channel.
type wsMarketSubscribe struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

// wsOperation adds ids to a live subscription.
type wsOperation struct {
	Operation string   `json:"operation"`
	Markets   []string `json:"markets,omitempty"`
	AssetsIDs []string `json:"assets_ids,omitempty"`
}

// wsOrderEvent is an "order" event of the user channel.
type wsOrderEvent struct {
	EventType    string `json:"event_type"`
	ID           string `json:"id"`
	Type         string `json:"type"` // PLACEMENT, UPDATE, CANCELLATION
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Timestamp    string `json:"timestamp"`
}

// wsBookEvent is a "book" snapshot of the market channel.
type wsBookEvent struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Bids      []bookEntryRaw `json:"bids"`
	Asks      []bookEntryRaw `json:"asks"`
	Timestamp string         `json:"timestamp"`
}

// wsPriceChangeEvent is a "price_change" event of the market channel.
type wsPriceChangeEvent struct {
	EventType    string          `json:"event_type"`
	PriceChanges []wsPriceChange `json:"price_changes"`
	Timestamp    string          `json:"timestamp"`
}

type wsPriceChange struct {
	AssetID string `json:"asset_id"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}
