package polymarket

// ws.go: CLOB websocket feeds.
//
// UserFeed pushes order updates for the wallet, MarketFeed pushes best bid
// and mid per token. Both share wsConn, which owns the dial, keep-alive,
// reconnect and resubscribe loop. Delivery is best effort; the engine's
// poll path covers anything lost while disconnected.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

const (
	defaultWSBase = "wss://ws-subscriptions-clob.polymarket.com/ws"

	writeWait = 10 * time.Second
	// The server drops connections silent for longer than this.
	pingPeriod = 10 * time.Second
	readWait   = 3 * pingPeriod

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// wsConn is a self-healing websocket connection subscribed to a growing
// set of ids. The loop is started by the first subscribe and lives until
// that context is cancelled.
type wsConn struct {
	url string
	// hello builds the first message sent after every (re)connect.
	hello func(ids []string) (any, error)
	// add builds the message that extends a live subscription.
	add       func(ids []string) any
	onMessage func(raw []byte)

	mu      sync.Mutex
	conn    *websocket.Conn
	ids     map[string]struct{}
	running bool

	dropMu sync.RWMutex
	onDrop []func(error)
}

func newWSConn(url string) *wsConn {
	return &wsConn{url: url, ids: make(map[string]struct{})}
}

// subscribe adds ids. The first call starts the connection loop.
func (w *wsConn) subscribe(ctx context.Context, ids []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var fresh []string
	for _, id := range ids {
		if _, ok := w.ids[id]; ok || id == "" {
			continue
		}
		w.ids[id] = struct{}{}
		fresh = append(fresh, id)
	}

	if !w.running {
		w.running = true
		go w.run(ctx)
		return nil
	}
	if len(fresh) == 0 || w.conn == nil {
		// not connected: the next hello carries every id
		return nil
	}
	if err := w.writeJSON(w.conn, w.add(fresh)); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	return nil
}

func (w *wsConn) onDisconnect(fn func(error)) {
	w.dropMu.Lock()
	defer w.dropMu.Unlock()
	w.onDrop = append(w.onDrop, fn)
}

// run dials, reads until the connection fails, and reconnects with
// exponential backoff until ctx is done.
func (w *wsConn) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	delay := reconnectDelay
	for ctx.Err() == nil {
		err := w.session(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("websocket disconnected", "url", w.url, "err", err, "retry_in", delay)
		w.dropMu.RLock()
		for _, fn := range w.onDrop {
			fn(err)
		}
		w.dropMu.RUnlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// session runs one connection until it fails. It returns a wrapped
// domain.ErrWSDisconnect.
func (w *wsConn) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %w", domain.ErrWSDisconnect, err)
	}
	defer conn.Close()

	w.mu.Lock()
	ids := make([]string, 0, len(w.ids))
	for id := range w.ids {
		ids = append(ids, id)
	}
	msg, err := w.hello(ids)
	if err == nil {
		err = w.writeJSON(conn, msg)
	}
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("%w: hello: %w", domain.ErrWSDisconnect, err)
	}
	w.conn = conn
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go w.keepAlive(ctx, conn, stop)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrWSDisconnect, err)
		}
		if bytes.Equal(raw, []byte("PONG")) {
			continue
		}
		w.onMessage(raw)
	}
}

// keepAlive sends the text PING the CLOB expects and closes the connection
// when ctx ends so the blocked read returns.
func (w *wsConn) keepAlive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
			return
		case <-ticker.C:
			w.mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.TextMessage, []byte("PING"))
			w.mu.Unlock()
			if err != nil {
				conn.Close()
				return
			}
		}
	}
}

// writeJSON writes v. Caller must hold w.mu.
func (w *wsConn) writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// splitEvents accepts a single event object or an array of events.
func splitEvents(raw []byte) []json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '[' {
		var events []json.RawMessage
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil
		}
		return events
	}
	return []json.RawMessage{raw}
}

func eventType(raw []byte) string {
	var env struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return env.EventType
}

// --- user channel ---

// UserFeed implements ports.OrderFeed on the authenticated user channel.
type UserFeed struct {
	ws   *wsConn
	auth *AuthClient
	now  func() time.Time

	mu       sync.RWMutex
	handlers []func(domain.OrderState)
}

// NewUserFeed creates a user channel feed. wsBase defaults to production.
func NewUserFeed(wsBase string, auth *AuthClient) *UserFeed {
	if wsBase == "" {
		wsBase = defaultWSBase
	}
	f := &UserFeed{ws: newWSConn(wsBase + "/user"), auth: auth, now: time.Now}
	f.ws.hello = f.hello
	f.ws.add = func(ids []string) any {
		return wsOperation{Operation: "subscribe", Markets: ids}
	}
	f.ws.onMessage = f.handle
	return f
}

// Subscribe adds markets (condition ids) to the order stream. The first call
// starts the feed; it runs until ctx is cancelled.
func (f *UserFeed) Subscribe(ctx context.Context, conditionIDs []string) error {
	return f.ws.subscribe(ctx, conditionIDs)
}

// OnOrderUpdate registers fn for every order event.
func (f *UserFeed) OnOrderUpdate(fn func(domain.OrderState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
}

// OnDisconnect registers fn for every dropped connection.
func (f *UserFeed) OnDisconnect(fn func(error)) { f.ws.onDisconnect(fn) }

func (f *UserFeed) hello(ids []string) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	key, secret, pass, err := f.auth.Creds(ctx)
	if err != nil {
		return nil, err
	}
	return wsUserSubscribe{
		Auth:    wsAuth{APIKey: key, Secret: secret, Passphrase: pass},
		Markets: ids,
		Type:    "user",
	}, nil
}

func (f *UserFeed) handle(raw []byte) {
	for _, ev := range splitEvents(raw) {
		if eventType(ev) != "order" {
			continue
		}
		var oe wsOrderEvent
		if err := json.Unmarshal(ev, &oe); err != nil || oe.ID == "" {
			slog.Debug("dropping malformed order event", "err", err)
			continue
		}
		st := mapOrderEvent(oe, f.now())

		f.mu.RLock()
		handlers := f.handlers
		f.mu.RUnlock()
		for _, h := range handlers {
			h(st)
		}
	}
}

// --- market channel ---

// MarketFeed implements ports.PriceFeed on the public market channel.
type MarketFeed struct {
	ws  *wsConn
	now func() time.Time

	mu       sync.RWMutex
	handlers []func(domain.PriceTick)
}

// NewMarketFeed creates a market channel feed. wsBase defaults to production.
func NewMarketFeed(wsBase string) *MarketFeed {
	if wsBase == "" {
		wsBase = defaultWSBase
	}
	f := &MarketFeed{ws: newWSConn(wsBase + "/market"), now: time.Now}
	f.ws.hello = func(ids []string) (any, error) {
		if len(ids) == 0 {
			return nil, errors.New("no assets to subscribe")
		}
		return wsMarketSubscribe{AssetsIDs: ids, Type: "market"}, nil
	}
	f.ws.add = func(ids []string) any {
		return wsOperation{Operation: "subscribe", AssetsIDs: ids}
	}
	f.ws.onMessage = f.handle
	return f
}

// Subscribe adds outcome tokens to the price stream.
func (f *MarketFeed) Subscribe(ctx context.Context, tokenIDs []string) error {
	return f.ws.subscribe(ctx, tokenIDs)
}

// OnPriceTick registers fn for every best bid / mid change.
func (f *MarketFeed) OnPriceTick(fn func(domain.PriceTick)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
}

// OnDisconnect registers fn for every dropped connection.
func (f *MarketFeed) OnDisconnect(fn func(error)) { f.ws.onDisconnect(fn) }

func (f *MarketFeed) handle(raw []byte) {
	now := f.now()
	var ticks []domain.PriceTick
	for _, ev := range splitEvents(raw) {
		switch eventType(ev) {
		case "book":
			var be wsBookEvent
			if err := json.Unmarshal(ev, &be); err != nil {
				continue
			}
			ob := domain.OrderBook{
				TokenID: be.AssetID,
				Bids:    mapBookEntries(be.Bids, false),
				Asks:    mapBookEntries(be.Asks, true),
			}
			ticks = append(ticks, domain.PriceTick{
				TokenID: be.AssetID, BestBid: ob.BestBid(), Mid: ob.Midpoint(), At: now,
			})
		case "price_change":
			var pe wsPriceChangeEvent
			if err := json.Unmarshal(ev, &pe); err != nil {
				continue
			}
			for _, pc := range pe.PriceChanges {
				if t, ok := tickFromChange(pc, now); ok {
					ticks = append(ticks, t)
				}
			}
		}
	}
	if len(ticks) == 0 {
		return
	}

	f.mu.RLock()
	handlers := f.handlers
	f.mu.RUnlock()
	for _, t := range ticks {
		for _, h := range handlers {
			h(t)
		}
	}
}

func tickFromChange(pc wsPriceChange, now time.Time) (domain.PriceTick, bool) {
	bid, err1 := decimal.NewFromString(pc.BestBid)
	ask, err2 := decimal.NewFromString(pc.BestAsk)
	if err1 != nil || err2 != nil || pc.AssetID == "" {
		return domain.PriceTick{}, false
	}
	ob := domain.OrderBook{TokenID: pc.AssetID}
	if bid.IsPositive() {
		ob.Bids = []domain.BookEntry{{Price: bid, Size: decimal.NewFromInt(1)}}
	}
	if ask.IsPositive() {
		ob.Asks = []domain.BookEntry{{Price: ask, Size: decimal.NewFromInt(1)}}
	}
	return domain.PriceTick{TokenID: pc.AssetID, BestBid: ob.BestBid(), Mid: ob.Midpoint(), At: now}, true
}
