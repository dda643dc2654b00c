package maker_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mintmaker/internal/adapters/lock"
	"github.com/alejandrodnm/mintmaker/internal/adapters/storage"
	"github.com/alejandrodnm/mintmaker/internal/application/engine/maker"
	"github.com/alejandrodnm/mintmaker/internal/domain"
)

var (
	t0   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dec  = decimal.RequireFromString
	ten  = decimal.NewFromInt(10)
	zero = decimal.Zero
)

// ─── clock ───────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ─── venue ───────────────────────────────────────────────────────────────────

type fakeOrder struct {
	req   domain.OrderRequest
	state domain.OrderState
}

type fakeVenue struct {
	mu       sync.Mutex
	seq      int
	orders   map[string]*fakeOrder
	placed   []string
	cancels  []string
	placeErr func(domain.OrderRequest) error
	// lostAck makes a placement rest on the book while the caller sees err.
	lostAck func(domain.OrderRequest) error
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{orders: make(map[string]*fakeOrder)}
}

func (v *fakeVenue) PlaceOrder(_ context.Context, req domain.OrderRequest) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.placeErr != nil {
		if err := v.placeErr(req); err != nil {
			return "", err
		}
	}
	v.seq++
	id := fmt.Sprintf("o-%d", v.seq)
	v.orders[id] = &fakeOrder{req: req, state: domain.OrderState{
		OrderID: id, Status: domain.OrderOpen, FilledSize: zero, FillPrice: zero,
	}}
	v.placed = append(v.placed, id)
	if v.lostAck != nil {
		if err := v.lostAck(req); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancels = append(v.cancels, orderID)
	o, ok := v.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if o.state.Status.Closed() {
		return fmt.Errorf("order %s is %s: %w", orderID, o.state.Status, domain.ErrPrecondition)
	}
	o.state.Status = domain.OrderCancelled
	return nil
}

func (v *fakeVenue) GetOrder(_ context.Context, orderID string) (domain.OrderState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[orderID]
	if !ok {
		return domain.OrderState{}, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	st := o.state
	st.Source = "poll"
	return st, nil
}

// OpenOrders lists open orders whose token belongs to the condition.
// Test tokens are named conditionID+"-yes" and conditionID+"-no".
func (v *fakeVenue) OpenOrders(_ context.Context, conditionID string) ([]domain.OrderState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.OrderState
	for _, id := range v.placed {
		o := v.orders[id]
		if o.state.Status.Closed() || !strings.HasPrefix(o.req.TokenID, conditionID+"-") {
			continue
		}
		st := o.state
		st.TokenID = o.req.TokenID
		st.Side = o.req.Side
		st.Price = o.req.Price
		st.Source = "poll"
		out = append(out, st)
	}
	return out, nil
}

// fill sets the cumulative filled size of an order, closing it when full.
func (v *fakeVenue) fill(orderID string, size, price decimal.Decimal) domain.OrderState {
	v.mu.Lock()
	defer v.mu.Unlock()
	o := v.orders[orderID]
	o.state.FilledSize = size
	o.state.FillPrice = price
	if size.GreaterThanOrEqual(o.req.Size) {
		o.state.Status = domain.OrderFilled
	}
	return o.state
}

func (v *fakeVenue) request(orderID string) domain.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.orders[orderID].req
}

func (v *fakeVenue) placedIDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.placed...)
}

func (v *fakeVenue) cancelled() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.cancels...)
}

// ─── settlement ──────────────────────────────────────────────────────────────

type mergeCall struct {
	conditionID string
	amount      decimal.Decimal
}

type fakeSettlement struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	txs      map[string]domain.TxStatus
	merges   []mergeCall
	redeems  []string
	mergeErr error
}

func newFakeSettlement() *fakeSettlement {
	return &fakeSettlement{
		balances: make(map[string]decimal.Decimal),
		txs:      make(map[string]domain.TxStatus),
	}
}

func (s *fakeSettlement) SubmitMerge(_ context.Context, conditionID string, amount decimal.Decimal, _ bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mergeErr != nil {
		return "", s.mergeErr
	}
	s.merges = append(s.merges, mergeCall{conditionID, amount})
	tx := fmt.Sprintf("0xmerge%d", len(s.merges))
	s.txs[tx] = domain.TxPending
	return tx, nil
}

func (s *fakeSettlement) SubmitRedeem(_ context.Context, conditionID string, _ bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redeems = append(s.redeems, conditionID)
	return fmt.Sprintf("0xredeem%d", len(s.redeems)), nil
}

func (s *fakeSettlement) TxStatus(_ context.Context, txID string) (domain.TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.txs[txID]
	if !ok {
		return "", fmt.Errorf("tx %s: %w", txID, domain.ErrNotFound)
	}
	return st, nil
}

func (s *fakeSettlement) PositionBalance(_ context.Context, tokenID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[tokenID], nil
}

func (s *fakeSettlement) setBalance(tokenID string, v decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[tokenID] = v
}

func (s *fakeSettlement) setTx(txID string, st domain.TxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[txID] = st
}

func (s *fakeSettlement) mergeCalls() []mergeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mergeCall(nil), s.merges...)
}

func (s *fakeSettlement) redeemCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.redeems...)
}

// ─── markets and feeds ───────────────────────────────────────────────────────

type fakeMarkets struct {
	mu          sync.Mutex
	markets     []domain.Market
	resolutions map[string]domain.Resolution
}

func (m *fakeMarkets) FetchMarkets(context.Context) ([]domain.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Market(nil), m.markets...), nil
}

func (m *fakeMarkets) Resolution(_ context.Context, conditionID string) (domain.Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resolutions[conditionID]
	if !ok {
		return domain.Resolution{ConditionID: conditionID}, nil
	}
	return r, nil
}

func (m *fakeMarkets) resolve(conditionID string, winner domain.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolutions == nil {
		m.resolutions = make(map[string]domain.Resolution)
	}
	m.resolutions[conditionID] = domain.Resolution{ConditionID: conditionID, Resolved: true, Winner: winner}
}

type fakePriceFeed struct {
	mu  sync.Mutex
	fn  func(domain.PriceTick)
	ids []string
}

func (f *fakePriceFeed) Subscribe(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, ids...)
	return nil
}

func (f *fakePriceFeed) OnPriceTick(fn func(domain.PriceTick)) { f.fn = fn }

func (f *fakePriceFeed) push(t domain.PriceTick) { f.fn(t) }

// ─── harness ─────────────────────────────────────────────────────────────────

type harness struct {
	eng     *maker.Engine
	store   *storage.SQLiteStorage
	venue   *fakeVenue
	chain   *fakeSettlement
	markets *fakeMarkets
	prices  *fakePriceFeed
	clock   *fakeClock
}

func testMarket(cond, asset string, end time.Time) domain.Market {
	return domain.Market{
		ConditionID: cond,
		Asset:       asset,
		Question:    asset + " Up or Down?",
		Slug:        "btc-updown-15m",
		EndDate:     end,
		Yes:         domain.Token{TokenID: cond + "-yes", Outcome: domain.OutcomeYes, Mid: dec("0.47"), BestBid: dec("0.46")},
		No:          domain.Token{TokenID: cond + "-no", Outcome: domain.OutcomeNo, Mid: dec("0.50"), BestBid: dec("0.49")},
	}
}

func testSettings() domain.Settings {
	s := domain.DefaultSettings()
	s.AutoPlace = true
	s.AutoPlaceSize = ten
	s.MaxPairsPerMarket = 1
	s.MaxTotalPairs = 5
	s.StopLossPct = dec("30")
	s.StopLossDelaySecs = 120
	return s
}

func newHarness(t *testing.T, cfg maker.Config, s domain.Settings) *harness {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.SaveSettings(context.Background(), s))

	h := &harness{
		store:   db,
		venue:   newFakeVenue(),
		chain:   newFakeSettlement(),
		markets: &fakeMarkets{markets: []domain.Market{testMarket("0xc1", "BTC", t0.Add(10*time.Minute))}},
		prices:  &fakePriceFeed{},
		clock:   &fakeClock{t: t0},
	}
	ids := 0
	h.eng, err = maker.New(maker.Deps{
		Markets:    h.markets,
		Venue:      h.venue,
		Prices:     h.prices,
		Settlement: h.chain,
		Store:      db,
		Locker:     lock.NewLocal(),
		Now:        h.clock.Now,
		NewID: func() string {
			ids++
			return fmt.Sprintf("pair-%d", ids)
		},
	}, cfg)
	require.NoError(t, err)
	return h
}

// placeOne runs a scan and returns the single placed pair.
func (h *harness) placeOne(t *testing.T) domain.Pair {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.eng.ScanAndPlace(ctx))
	active, err := h.store.ActivePairs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	return active[0]
}

func (h *harness) pair(t *testing.T, id string) domain.Pair {
	t.Helper()
	p, err := h.store.GetPair(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (h *harness) transitions(t *testing.T, pairID string) []string {
	t.Helper()
	entries, err := h.store.ListLog(context.Background(), domain.LogFilter{PairID: pairID, Kind: domain.LogTransition})
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- { // newest first in the store
		out = append(out, string(entries[i].From)+">"+string(entries[i].To))
	}
	return out
}
