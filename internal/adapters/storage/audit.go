package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

const auditColumns = `id, pair_id, condition_id, kind, class, from_status, to_status, message, detail, created_at`

// AppendLog inserts audit entries. Entries are never updated afterwards.
func (s *SQLiteStorage) AppendLog(ctx context.Context, entries ...domain.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.AppendLog: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := appendLog(ctx, tx, entries); err != nil {
		return fmt.Errorf("storage.AppendLog: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.AppendLog: commit: %w", err)
	}
	return nil
}

func appendLog(ctx context.Context, tx *sql.Tx, entries []domain.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_log
		  (pair_id, condition_id, kind, class, from_status, to_status, message, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		detail := ""
		if len(e.Detail) > 0 {
			b, err := json.Marshal(e.Detail)
			if err != nil {
				return fmt.Errorf("marshal audit detail: %w", err)
			}
			detail = string(b)
		}
		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			e.PairID, e.ConditionID, string(e.Kind), string(e.Class),
			string(e.From), string(e.To), e.Message, detail, formatTime(created),
		); err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
	}
	return nil
}

// ListLog returns audit entries matching f, newest first.
func (s *SQLiteStorage) ListLog(ctx context.Context, f domain.LogFilter) ([]domain.LogEntry, error) {
	var where []string
	var args []any
	if f.PairID != "" {
		where = append(where, "pair_id=?")
		args = append(args, f.PairID)
	}
	if f.Kind != "" {
		where = append(where, "kind=?")
		args = append(args, string(f.Kind))
	}

	q := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	q += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.ListLog: query: %w", err)
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListLog: scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LatestLog returns the newest entry of a pair or domain.ErrNotFound.
func (s *SQLiteStorage) LatestLog(ctx context.Context, pairID string) (domain.LogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE pair_id=? ORDER BY id DESC LIMIT 1`, pairID)
	e, err := scanLogEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LogEntry{}, fmt.Errorf("storage.LatestLog %s: %w", pairID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.LogEntry{}, fmt.Errorf("storage.LatestLog %s: %w", pairID, err)
	}
	return e, nil
}

// PruneLog deletes entries older than before and returns how many went.
func (s *SQLiteStorage) PruneLog(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("storage.PruneLog: %w", err)
	}
	return res.RowsAffected()
}

func scanLogEntry(r rowScanner) (domain.LogEntry, error) {
	var (
		e                              domain.LogEntry
		kind, class, from, to, created string
		detail                         string
	)
	if err := r.Scan(&e.ID, &e.PairID, &e.ConditionID, &kind, &class, &from, &to,
		&e.Message, &detail, &created); err != nil {
		return domain.LogEntry{}, err
	}
	e.Kind = domain.LogKind(kind)
	e.Class = domain.ErrorClass(class)
	e.From = domain.PairStatus(from)
	e.To = domain.PairStatus(to)
	e.CreatedAt = parseTime(created)
	if detail != "" {
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return domain.LogEntry{}, fmt.Errorf("entry %d detail: %w", e.ID, err)
		}
	}
	return e, nil
}
