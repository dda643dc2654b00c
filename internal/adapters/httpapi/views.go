package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

type legView struct {
	Outcome     domain.Outcome     `json:"outcome"`
	TokenID     string             `json:"token_id"`
	OrderID     string             `json:"order_id"`
	BidPrice    decimal.Decimal    `json:"bid_price"`
	Size        decimal.Decimal    `json:"size"`
	FilledSize  decimal.Decimal    `json:"filled_size"`
	FillPrice   decimal.Decimal    `json:"fill_price"`
	OrderStatus domain.OrderStatus `json:"order_status"`
	PlacedAt    time.Time          `json:"placed_at"`
	FilledAt    *time.Time         `json:"filled_at,omitempty"`
}

type exitView struct {
	OrderID    string             `json:"order_id"`
	Outcome    domain.Outcome     `json:"outcome"`
	Size       decimal.Decimal    `json:"size"`
	Price      decimal.Decimal    `json:"price"`
	FilledSize decimal.Decimal    `json:"filled_size"`
	FillPrice  decimal.Decimal    `json:"fill_price"`
	Status     domain.OrderStatus `json:"status"`
}

type pairView struct {
	ID             string            `json:"id"`
	ConditionID    string            `json:"condition_id"`
	Asset          string            `json:"asset"`
	Question       string            `json:"question"`
	EndDate        time.Time         `json:"end_date"`
	Status         domain.PairStatus `json:"status"`
	Yes            legView           `json:"yes"`
	No             legView           `json:"no"`
	PairedSize     decimal.Decimal   `json:"paired_size"`
	PairCost       decimal.Decimal   `json:"pair_cost"`
	ExpectedProfit decimal.Decimal   `json:"expected_profit"`
	Profit         decimal.Decimal   `json:"profit"`
	Deployed       decimal.Decimal   `json:"deployed"`
	MergeTxID      string            `json:"merge_tx_id,omitempty"`
	MergedSize     decimal.Decimal   `json:"merged_size"`
	MergeAttempts  int               `json:"merge_attempts"`
	MergeBlocked   bool              `json:"merge_blocked"`
	Exit           *exitView         `json:"exit,omitempty"`
	CancelRequest  bool              `json:"cancel_requested"`
	Winner         domain.Outcome    `json:"winner,omitempty"`
	SettlementPnL  decimal.Decimal   `json:"settlement_pnl"`
	SettledAt      *time.Time        `json:"settled_at,omitempty"`
	RedeemTxID     string            `json:"redeem_tx_id,omitempty"`
	RealizedPnL    decimal.Decimal   `json:"realized_pnl"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func newLegView(l domain.Leg) legView {
	return legView{
		Outcome:     l.Outcome,
		TokenID:     l.TokenID,
		OrderID:     l.OrderID,
		BidPrice:    l.BidPrice,
		Size:        l.Size,
		FilledSize:  l.FilledSize,
		FillPrice:   l.FillPrice,
		OrderStatus: l.OrderStatus,
		PlacedAt:    l.PlacedAt,
		FilledAt:    l.FilledAt,
	}
}

func newPairView(p domain.Pair) pairView {
	v := pairView{
		ID:             p.ID,
		ConditionID:    p.ConditionID,
		Asset:          p.Asset,
		Question:       p.Question,
		EndDate:        p.EndDate,
		Status:         p.Status,
		Yes:            newLegView(p.Yes),
		No:             newLegView(p.No),
		PairedSize:     p.PairedSize(),
		PairCost:       p.PairCost,
		ExpectedProfit: p.ExpectedMergeProfit(),
		Profit:         p.Profit,
		Deployed:       p.Deployed(),
		MergeTxID:      p.MergeTxID,
		MergedSize:     p.MergedSize,
		MergeAttempts:  p.MergeAttempts,
		MergeBlocked:   p.MergeBlocked,
		CancelRequest:  p.CancelRequested,
		Winner:         p.Winner,
		SettlementPnL:  p.SettlementPnL,
		SettledAt:      p.SettledAt,
		RedeemTxID:     p.RedeemTxID,
		RealizedPnL:    p.RealizedPnL(),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if cost, ok := p.CurrentPairCost(); ok {
		v.PairCost = cost
	}
	if p.Exit.Status != "" {
		v.Exit = &exitView{
			OrderID:    p.Exit.OrderID,
			Outcome:    p.Exit.Outcome,
			Size:       p.Exit.Size,
			Price:      p.Exit.Price,
			FilledSize: p.Exit.FilledSize,
			FillPrice:  p.Exit.FillPrice,
			Status:     p.Exit.Status,
		}
	}
	return v
}

type logView struct {
	ID          int64             `json:"id"`
	PairID      string            `json:"pair_id"`
	ConditionID string            `json:"condition_id"`
	Kind        domain.LogKind    `json:"kind"`
	Class       domain.ErrorClass `json:"class,omitempty"`
	From        domain.PairStatus `json:"from,omitempty"`
	To          domain.PairStatus `json:"to,omitempty"`
	Message     string            `json:"message"`
	Detail      map[string]string `json:"detail,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func newLogView(e domain.LogEntry) logView {
	return logView{
		ID:          e.ID,
		PairID:      e.PairID,
		ConditionID: e.ConditionID,
		Kind:        e.Kind,
		Class:       e.Class,
		From:        e.From,
		To:          e.To,
		Message:     e.Message,
		Detail:      e.Detail,
		CreatedAt:   e.CreatedAt,
	}
}

type marketView struct {
	ConditionID string          `json:"condition_id"`
	Asset       string          `json:"asset"`
	Question    string          `json:"question"`
	EndDate     time.Time       `json:"end_date"`
	MinutesLeft float64         `json:"minutes_left"`
	YesMid      decimal.Decimal `json:"yes_mid"`
	NoMid       decimal.Decimal `json:"no_mid"`
	MidSum      decimal.Decimal `json:"mid_sum"`
	Pairs       []pairView      `json:"pairs"`
}
