// Package storage persists payment intents in SQLite or Postgres.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/suspectuso/pay-anchor/internal/intent"
)

var ErrNotFound = errors.New("not found")

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Storage handles all database operations
type Storage struct {
	db     *sql.DB
	driver string
}

// New opens the database for driver and creates the schema.
func New(driver, dsn string) (*Storage, error) {
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db, driver: driver}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS intents (
			code TEXT PRIMARY KEY,
			intent_id TEXT NOT NULL DEFAULT '',
			amount_minor BIGINT NOT NULL DEFAULT 0,
			payer_handle TEXT NOT NULL DEFAULT '',
			payee_handle TEXT NOT NULL DEFAULT '',
			payer_handle_hash TEXT NOT NULL DEFAULT '',
			payee_handle_hash TEXT NOT NULL DEFAULT '',
			payer_name TEXT NOT NULL DEFAULT '',
			payee_name TEXT NOT NULL DEFAULT '',
			payer_masked TEXT NOT NULL DEFAULT '',
			payee_masked TEXT NOT NULL DEFAULT '',
			beneficiary_address TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			content_id TEXT NOT NULL DEFAULT '',
			content_locator TEXT NOT NULL DEFAULT '',
			content_provider TEXT NOT NULL DEFAULT '',
			namespace_id TEXT NOT NULL DEFAULT '',
			ledger_tx_ref TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			confirmed_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_status ON intents(status, updated_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Storage) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get returns the intent stored under code.
func (s *Storage) Get(ctx context.Context, code string) (*intent.PaymentIntent, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+intentColumns+` FROM intents WHERE code = ?`), code)
	it, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Merge applies p to the intent under code, creating it when absent.
func (s *Storage) Merge(ctx context.Context, code string, p intent.Patch) error {
	cols, args, err := assignments(p)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO intents (code, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT (code) DO NOTHING`),
		code, now, now,
	); err != nil {
		return err
	}

	q := `UPDATE intents SET ` + setClause(cols) + ` WHERE code = ?`
	if _, err := tx.ExecContext(ctx, s.rebind(q), append(args, code)...); err != nil {
		return err
	}

	return tx.Commit()
}

// CompareAndMerge applies p only while the stored status equals expect.
// It reports whether the update happened; an absent record is never updated.
func (s *Storage) CompareAndMerge(ctx context.Context, code string, expect intent.Status, p intent.Patch) (bool, error) {
	cols, args, err := assignments(p)
	if err != nil {
		return false, err
	}

	q := `UPDATE intents SET ` + setClause(cols) + ` WHERE code = ? AND status = ?`
	result, err := s.db.ExecContext(ctx, s.rebind(q), append(args, code, string(expect))...)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListByStatus returns intents with status, oldest update first.
func (s *Storage) ListByStatus(ctx context.Context, status intent.Status) ([]intent.PaymentIntent, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+intentColumns+` FROM intents WHERE status = ? ORDER BY updated_at, code`),
		string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []intent.PaymentIntent
	for rows.Next() {
		it, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, *it)
	}

	return intents, rows.Err()
}

func setClause(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + " = ?"
	}
	return strings.Join(parts, ", ")
}
