package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/creditwatch/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

const defaultLedgerID = "default"

// SQLiteStore keeps the ledger in a SQLite database. Amounts are stored as
// decimal text so no precision is lost between runs.
type SQLiteStore struct {
	db   *sql.DB
	path string
	id   string
}

// OpenSQLite opens or creates the ledger database at dbPath. id selects
// which ledger row this store reads and writes.
func OpenSQLite(dbPath, id string) (*SQLiteStore, error) {
	if id == "" {
		id = defaultLedgerID
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating ledger dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer

	if _, err := db.Exec(ledgerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath, id: id}, nil
}

// Name identifies the ledger by database path and row id.
func (s *SQLiteStore) Name() string { return s.path + "#" + s.id }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Load reads the ledger row and its month history.
func (s *SQLiteStore) Load(ctx context.Context) (model.Ledger, error) {
	var (
		l                    model.Ledger
		deposited, historic  string
		checkpoint, lastSent int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT total_deposited, checkpoint, historical_spend, last_alert_sent
		FROM ledgers WHERE ledger_id = ?`, s.id).Scan(&deposited, &checkpoint, &historic, &lastSent)
	if errors.Is(err, sql.ErrNoRows) {
		return l, ErrNotFound
	}
	if err != nil {
		return l, fmt.Errorf("reading ledger: %w", err)
	}

	if l.TotalDeposited, err = decimal.NewFromString(deposited); err != nil {
		return l, fmt.Errorf("%w: total_deposited: %v", ErrCorrupt, err)
	}
	if l.HistoricalSpend, err = decimal.NewFromString(historic); err != nil {
		return l, fmt.Errorf("%w: historical_spend: %v", ErrCorrupt, err)
	}
	l.Checkpoint = fromUnix(checkpoint)
	l.LastAlertSent = fromUnix(lastSent)

	rows, err := s.db.QueryContext(ctx, "SELECT month, amount FROM monthly_history WHERE ledger_id = ?", s.id)
	if err != nil {
		return l, fmt.Errorf("reading monthly history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	l.MonthlyHistory = make(map[string]decimal.Decimal)
	for rows.Next() {
		var month, amount string
		if err := rows.Scan(&month, &amount); err != nil {
			return l, fmt.Errorf("reading monthly history: %w", err)
		}
		v, err := decimal.NewFromString(amount)
		if err != nil {
			return l, fmt.Errorf("%w: monthly_history[%s]: %v", ErrCorrupt, month, err)
		}
		l.MonthlyHistory[month] = v
	}
	return l, rows.Err()
}

// Save replaces the ledger row and its month history in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, l model.Ledger) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO ledgers
		(ledger_id, total_deposited, checkpoint, historical_spend, last_alert_sent, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ledger_id) DO UPDATE SET
			total_deposited = excluded.total_deposited,
			checkpoint = excluded.checkpoint,
			historical_spend = excluded.historical_spend,
			last_alert_sent = excluded.last_alert_sent,
			updated_at = excluded.updated_at`,
		s.id, l.TotalDeposited.String(), toUnix(l.Checkpoint), l.HistoricalSpend.String(),
		toUnix(l.LastAlertSent), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM monthly_history WHERE ledger_id = ?", s.id); err != nil {
		return fmt.Errorf("clearing monthly history: %w", err)
	}
	for month, amount := range l.MonthlyHistory {
		_, err := tx.ExecContext(ctx, "INSERT INTO monthly_history (ledger_id, month, amount) VALUES (?, ?, ?)",
			s.id, month, amount.String())
		if err != nil {
			return fmt.Errorf("writing monthly history: %w", err)
		}
	}

	return tx.Commit()
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
