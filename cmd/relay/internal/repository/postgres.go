package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS interest_stock (
	member_id  TEXT        NOT NULL,
	symbol     TEXT        NOT NULL,
	market     TEXT        NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (member_id, symbol)
);

CREATE TABLE IF NOT EXISTS stock_symbol (
	symbol TEXT PRIMARY KEY,
	name   TEXT NOT NULL DEFAULT '',
	market TEXT NOT NULL
);
`

// Compile-time check to ensure PostgresStore implements the collaborators
var (
	_ WatchlistStore  = (*PostgresStore)(nil)
	_ SymbolDirectory = (*PostgresStore)(nil)
)

// PostgresStore serves the watchlist and the symbol master.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens and verifies a connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables the relay reads and writes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Symbols returns the user's watched symbols in insertion order.
func (s *PostgresStore) Symbols(ctx context.Context, userID string) ([]string, error) {
	query := `
	SELECT symbol FROM interest_stock
	WHERE member_id = $1
	ORDER BY created_at, symbol
	`

	var symbols []string
	if err := s.db.SelectContext(ctx, &symbols, query, userID); err != nil {
		return nil, fmt.Errorf("load watchlist of %s: %w", userID, err)
	}
	return symbols, nil
}

// Add stores a watched symbol and reports whether it was new.
func (s *PostgresStore) Add(ctx context.Context, userID, symbol, market string) (bool, error) {
	query := `
	INSERT INTO interest_stock (member_id, symbol, market)
	VALUES ($1, $2, $3)
	ON CONFLICT (member_id, symbol) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query, userID, symbol, market)
	if err != nil {
		return false, fmt.Errorf("add %s to watchlist of %s: %w", symbol, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remove deletes a watched symbol and reports whether it existed.
func (s *PostgresStore) Remove(ctx context.Context, userID, symbol string) (bool, error) {
	query := `DELETE FROM interest_stock WHERE member_id = $1 AND symbol = $2`

	res, err := s.db.ExecContext(ctx, query, userID, symbol)
	if err != nil {
		return false, fmt.Errorf("remove %s from watchlist of %s: %w", symbol, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Exchange returns the listing market of symbol ("NASDAQ", "NYSE", "AMEX").
func (s *PostgresStore) Exchange(ctx context.Context, symbol string) (string, error) {
	query := `SELECT market FROM stock_symbol WHERE symbol = $1`

	var market string
	err := s.db.GetContext(ctx, &market, query, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("symbol %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup market of %s: %w", symbol, err)
	}
	return market, nil
}
