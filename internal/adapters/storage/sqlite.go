package storage

// sqlite.go: single-writer SQLite store for the pair book.
//
// Tables:
//   pairs            one row per pair, both legs and the exit order inline
//   audit_log        append-only transitions and decisions
//   settings         operator settings, one JSON row
//   circuit_breaker  breaker state, one row
//
// Money, price and size columns are TEXT holding exact decimals. Timestamps
// are fixed-width RFC3339 UTC TEXT.

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS pairs (
    id                TEXT PRIMARY KEY,
    condition_id      TEXT NOT NULL,
    asset             TEXT NOT NULL DEFAULT '',
    question          TEXT NOT NULL DEFAULT '',
    slug              TEXT NOT NULL DEFAULT '',
    end_date          TEXT NOT NULL DEFAULT '',
    neg_risk          INTEGER NOT NULL DEFAULT 0,

    yes_token_id      TEXT NOT NULL,
    yes_order_id      TEXT NOT NULL DEFAULT '',
    yes_bid_price     TEXT NOT NULL DEFAULT '0',
    yes_size          TEXT NOT NULL DEFAULT '0',
    yes_filled_size   TEXT NOT NULL DEFAULT '0',
    yes_fill_price    TEXT NOT NULL DEFAULT '0',
    yes_order_status  TEXT NOT NULL DEFAULT '',
    yes_placed_at     TEXT NOT NULL DEFAULT '',
    yes_filled_at     TEXT NOT NULL DEFAULT '',

    no_token_id       TEXT NOT NULL,
    no_order_id       TEXT NOT NULL DEFAULT '',
    no_bid_price      TEXT NOT NULL DEFAULT '0',
    no_size           TEXT NOT NULL DEFAULT '0',
    no_filled_size    TEXT NOT NULL DEFAULT '0',
    no_fill_price     TEXT NOT NULL DEFAULT '0',
    no_order_status   TEXT NOT NULL DEFAULT '',
    no_placed_at      TEXT NOT NULL DEFAULT '',
    no_filled_at      TEXT NOT NULL DEFAULT '',

    status            TEXT NOT NULL,
    pair_cost         TEXT NOT NULL DEFAULT '0',
    profit            TEXT NOT NULL DEFAULT '0',
    merge_tx_id       TEXT NOT NULL DEFAULT '',
    merged_size       TEXT NOT NULL DEFAULT '0',
    merge_attempts    INTEGER NOT NULL DEFAULT 0,
    next_merge_at     TEXT NOT NULL DEFAULT '',
    merge_blocked     INTEGER NOT NULL DEFAULT 0,

    exit_order_id     TEXT NOT NULL DEFAULT '',
    exit_outcome      TEXT NOT NULL DEFAULT '',
    exit_token_id     TEXT NOT NULL DEFAULT '',
    exit_size         TEXT NOT NULL DEFAULT '0',
    exit_price        TEXT NOT NULL DEFAULT '0',
    exit_filled_size  TEXT NOT NULL DEFAULT '0',
    exit_fill_price   TEXT NOT NULL DEFAULT '0',
    exit_status       TEXT NOT NULL DEFAULT '',
    exit_placed_at    TEXT NOT NULL DEFAULT '',

    half_filled_at    TEXT NOT NULL DEFAULT '',
    cancel_requested  INTEGER NOT NULL DEFAULT 0,
    winner            TEXT NOT NULL DEFAULT '',
    settlement_pnl    TEXT NOT NULL DEFAULT '0',
    settled_at        TEXT NOT NULL DEFAULT '',
    redeem_tx_id      TEXT NOT NULL DEFAULT '',
    needs_settlement  INTEGER NOT NULL DEFAULT 0,

    created_at        TEXT NOT NULL,
    updated_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS pairs_status    ON pairs(status);
CREATE INDEX IF NOT EXISTS pairs_condition ON pairs(condition_id);
CREATE INDEX IF NOT EXISTS pairs_created   ON pairs(created_at DESC);
CREATE INDEX IF NOT EXISTS pairs_yes_order ON pairs(yes_order_id);
CREATE INDEX IF NOT EXISTS pairs_no_order  ON pairs(no_order_id);
CREATE INDEX IF NOT EXISTS pairs_exit      ON pairs(exit_order_id);
CREATE INDEX IF NOT EXISTS pairs_unsettled ON pairs(needs_settlement) WHERE needs_settlement = 1;

CREATE TABLE IF NOT EXISTS audit_log (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    pair_id       TEXT NOT NULL DEFAULT '',
    condition_id  TEXT NOT NULL DEFAULT '',
    kind          TEXT NOT NULL,
    class         TEXT NOT NULL DEFAULT '',
    from_status   TEXT NOT NULL DEFAULT '',
    to_status     TEXT NOT NULL DEFAULT '',
    message       TEXT NOT NULL DEFAULT '',
    detail        TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_pair ON audit_log(pair_id, id DESC);
CREATE INDEX IF NOT EXISTS audit_kind ON audit_log(kind, id DESC);
CREATE INDEX IF NOT EXISTS audit_at   ON audit_log(created_at);

CREATE TABLE IF NOT EXISTS settings (
    id          INTEGER PRIMARY KEY DEFAULT 1,
    data        TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS circuit_breaker (
    id                  INTEGER PRIMARY KEY DEFAULT 1,
    consecutive_losses  INTEGER NOT NULL DEFAULT 0,
    max_losses          INTEGER NOT NULL DEFAULT 3,
    cooldown_until      TEXT NOT NULL DEFAULT '',
    cooldown_duration_s INTEGER NOT NULL DEFAULT 1800,
    total_pnl           TEXT NOT NULL DEFAULT '0',
    max_drawdown        TEXT NOT NULL DEFAULT '-50',
    triggered           INTEGER NOT NULL DEFAULT 0,
    triggered_reason    TEXT NOT NULL DEFAULT ''
);

-- exactly one breaker row
INSERT OR IGNORE INTO circuit_breaker (id) VALUES (1);
`

// SQLiteStorage implements ports.PairStore on SQLite (pure Go, no CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path and applies the
// schema. Use ":memory:" in tests.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// timeLayout is fixed width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}

func parseTimePtr(s string) *time.Time {
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
