package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/HurDong/Glance/cmd/relay/internal/repository"
)

func newMockStore(t *testing.T) (*repository.PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repository.NewPostgresStore(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresStore_Symbols(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT symbol FROM interest_stock")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"symbol"}).AddRow("AAPL").AddRow("005930"))

	symbols, err := store.Symbols(context.Background(), "u1")
	if err != nil {
		t.Fatalf("symbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "005930" {
		t.Errorf("unexpected symbols %v", symbols)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStore_SymbolsError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT symbol FROM interest_stock")).
		WithArgs("u1").
		WillReturnError(sql.ErrConnDone)

	if _, err := store.Symbols(context.Background(), "u1"); !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("expected wrapped ErrConnDone, got %v", err)
	}
}

func TestPostgresStore_AddRemove(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO interest_stock")).
		WithArgs("u1", "AAPL", "NASDAQ").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO interest_stock")).
		WithArgs("u1", "AAPL", "NASDAQ").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM interest_stock")).
		WithArgs("u1", "AAPL").
		WillReturnResult(sqlmock.NewResult(0, 1))

	added, err := store.Add(ctx, "u1", "AAPL", "NASDAQ")
	if err != nil || !added {
		t.Errorf("first add: %v %v", added, err)
	}
	added, _ = store.Add(ctx, "u1", "AAPL", "NASDAQ")
	if added {
		t.Error("duplicate add should report false")
	}
	removed, err := store.Remove(ctx, "u1", "AAPL")
	if err != nil || !removed {
		t.Errorf("remove: %v %v", removed, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStore_Exchange(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT market FROM stock_symbol")).
		WithArgs("IBM").
		WillReturnRows(sqlmock.NewRows([]string{"market"}).AddRow("NYSE"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT market FROM stock_symbol")).
		WithArgs("ZZZZ").
		WillReturnError(sql.ErrNoRows)

	market, err := store.Exchange(ctx, "IBM")
	if err != nil || market != "NYSE" {
		t.Errorf("unexpected exchange %q %v", market, err)
	}
	if _, err := store.Exchange(ctx, "ZZZZ"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS interest_stock")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
}
