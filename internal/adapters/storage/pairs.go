package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

const pairColumns = `
	id, condition_id, asset, question, slug, end_date, neg_risk,
	yes_token_id, yes_order_id, yes_bid_price, yes_size, yes_filled_size, yes_fill_price,
	yes_order_status, yes_placed_at, yes_filled_at,
	no_token_id, no_order_id, no_bid_price, no_size, no_filled_size, no_fill_price,
	no_order_status, no_placed_at, no_filled_at,
	status, pair_cost, profit, merge_tx_id, merged_size, merge_attempts, next_merge_at, merge_blocked,
	exit_order_id, exit_outcome, exit_token_id, exit_size, exit_price, exit_filled_size,
	exit_fill_price, exit_status, exit_placed_at,
	half_filled_at, cancel_requested, winner, settlement_pnl, settled_at, redeem_tx_id,
	needs_settlement, created_at, updated_at`

// SavePair upserts p and appends the audit entries in one transaction.
func (s *SQLiteStorage) SavePair(ctx context.Context, p domain.Pair, entries ...domain.LogEntry) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("storage.SavePair: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SavePair: begin tx: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", 51), ",")
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO pairs (`+pairColumns+`) VALUES (`+placeholders+`)`,
		p.ID, p.ConditionID, p.Asset, p.Question, p.Slug, formatTime(p.EndDate), boolToInt(p.NegRisk),
		p.Yes.TokenID, p.Yes.OrderID, p.Yes.BidPrice, p.Yes.Size, p.Yes.FilledSize, p.Yes.FillPrice,
		string(p.Yes.OrderStatus), formatTime(p.Yes.PlacedAt), formatTimePtr(p.Yes.FilledAt),
		p.No.TokenID, p.No.OrderID, p.No.BidPrice, p.No.Size, p.No.FilledSize, p.No.FillPrice,
		string(p.No.OrderStatus), formatTime(p.No.PlacedAt), formatTimePtr(p.No.FilledAt),
		string(p.Status), p.PairCost, p.Profit, p.MergeTxID, p.MergedSize, p.MergeAttempts,
		formatTime(p.NextMergeAt), boolToInt(p.MergeBlocked),
		p.Exit.OrderID, string(p.Exit.Outcome), p.Exit.TokenID, p.Exit.Size, p.Exit.Price,
		p.Exit.FilledSize, p.Exit.FillPrice, string(p.Exit.Status), formatTime(p.Exit.PlacedAt),
		formatTimePtr(p.HalfFilledAt), boolToInt(p.CancelRequested), string(p.Winner),
		p.SettlementPnL, formatTimePtr(p.SettledAt), p.RedeemTxID,
		boolToInt(p.NeedsSettlement()), formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	); err != nil {
		return fmt.Errorf("storage.SavePair: upsert %s: %w", p.ID, err)
	}

	if err := appendLog(ctx, tx, entries); err != nil {
		return fmt.Errorf("storage.SavePair: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SavePair: commit: %w", err)
	}
	return nil
}

// GetPair returns the pair with the given id or domain.ErrNotFound.
func (s *SQLiteStorage) GetPair(ctx context.Context, id string) (domain.Pair, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pairColumns+` FROM pairs WHERE id=?`, id)
	p, err := scanPair(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Pair{}, fmt.Errorf("storage.GetPair %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Pair{}, fmt.Errorf("storage.GetPair %s: %w", id, err)
	}
	return p, nil
}

// FindPairByOrder returns the pair owning orderID or domain.ErrNotFound.
func (s *SQLiteStorage) FindPairByOrder(ctx context.Context, orderID string) (domain.Pair, error) {
	if orderID == "" {
		return domain.Pair{}, fmt.Errorf("storage.FindPairByOrder: empty order id: %w", domain.ErrNotFound)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pairColumns+` FROM pairs
		 WHERE yes_order_id=? OR no_order_id=? OR exit_order_id=?
		 ORDER BY created_at DESC LIMIT 1`,
		orderID, orderID, orderID)
	p, err := scanPair(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Pair{}, fmt.Errorf("storage.FindPairByOrder %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Pair{}, fmt.Errorf("storage.FindPairByOrder %s: %w", orderID, err)
	}
	return p, nil
}

// ListPairs returns pairs matching f, newest first.
func (s *SQLiteStorage) ListPairs(ctx context.Context, f domain.PairFilter) ([]domain.Pair, error) {
	var where []string
	var args []any
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.ConditionID != "" {
		where = append(where, "condition_id=?")
		args = append(args, f.ConditionID)
	}
	if f.Unsettled {
		where = append(where, "settled_at=''")
	}

	q := `SELECT ` + pairColumns + ` FROM pairs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	q += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, max(f.Offset, 0))

	pairs, err := s.queryPairs(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.ListPairs: %w", err)
	}
	return pairs, nil
}

// ActivePairs returns every pair with a non-terminal status whose market
// resolution has not been settled.
func (s *SQLiteStorage) ActivePairs(ctx context.Context) ([]domain.Pair, error) {
	return s.ListPairs(ctx, domain.PairFilter{Statuses: domain.ActivePairStatuses(), Unsettled: true})
}

// UnsettledPairs returns pairs that still hold shares awaiting resolution.
func (s *SQLiteStorage) UnsettledPairs(ctx context.Context) ([]domain.Pair, error) {
	pairs, err := s.queryPairs(ctx,
		`SELECT `+pairColumns+` FROM pairs WHERE needs_settlement=1 ORDER BY end_date, id`)
	if err != nil {
		return nil, fmt.Errorf("storage.UnsettledPairs: %w", err)
	}
	return pairs, nil
}

func (s *SQLiteStorage) queryPairs(ctx context.Context, query string, args ...any) ([]domain.Pair, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var pairs []domain.Pair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func scanPair(r rowScanner) (domain.Pair, error) {
	var (
		p                                  domain.Pair
		endDate, yesPlaced, yesFilledAt    string
		noPlaced, noFilledAt, nextMerge    string
		exitPlaced, halfFilled, settledAt  string
		created, updated                   string
		yesStatus, noStatus, exitStatus    string
		status, exitOutcome, winner        string
		negRisk, blocked, cancelReq, needs int
	)
	err := r.Scan(
		&p.ID, &p.ConditionID, &p.Asset, &p.Question, &p.Slug, &endDate, &negRisk,
		&p.Yes.TokenID, &p.Yes.OrderID, &p.Yes.BidPrice, &p.Yes.Size, &p.Yes.FilledSize, &p.Yes.FillPrice,
		&yesStatus, &yesPlaced, &yesFilledAt,
		&p.No.TokenID, &p.No.OrderID, &p.No.BidPrice, &p.No.Size, &p.No.FilledSize, &p.No.FillPrice,
		&noStatus, &noPlaced, &noFilledAt,
		&status, &p.PairCost, &p.Profit, &p.MergeTxID, &p.MergedSize, &p.MergeAttempts, &nextMerge, &blocked,
		&p.Exit.OrderID, &exitOutcome, &p.Exit.TokenID, &p.Exit.Size, &p.Exit.Price, &p.Exit.FilledSize,
		&p.Exit.FillPrice, &exitStatus, &exitPlaced,
		&halfFilled, &cancelReq, &winner, &p.SettlementPnL, &settledAt, &p.RedeemTxID,
		&needs, &created, &updated,
	)
	if err != nil {
		return domain.Pair{}, err
	}

	st, err := domain.ParsePairStatus(status)
	if err != nil {
		return domain.Pair{}, fmt.Errorf("pair %s: %w", p.ID, err)
	}
	p.Status = st
	p.EndDate = parseTime(endDate)
	p.NegRisk = negRisk == 1

	p.Yes.Outcome = domain.OutcomeYes
	p.Yes.OrderStatus = domain.OrderStatus(yesStatus)
	p.Yes.PlacedAt = parseTime(yesPlaced)
	p.Yes.FilledAt = parseTimePtr(yesFilledAt)

	p.No.Outcome = domain.OutcomeNo
	p.No.OrderStatus = domain.OrderStatus(noStatus)
	p.No.PlacedAt = parseTime(noPlaced)
	p.No.FilledAt = parseTimePtr(noFilledAt)

	p.NextMergeAt = parseTime(nextMerge)
	p.MergeBlocked = blocked == 1
	p.Exit.Outcome = domain.Outcome(exitOutcome)
	p.Exit.Status = domain.OrderStatus(exitStatus)
	p.Exit.PlacedAt = parseTime(exitPlaced)
	p.HalfFilledAt = parseTimePtr(halfFilled)
	p.CancelRequested = cancelReq == 1
	p.Winner = domain.Outcome(winner)
	p.SettledAt = parseTimePtr(settledAt)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}
