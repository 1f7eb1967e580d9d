package repository

import (
	"context"
	"errors"

	"github.com/HurDong/Glance/pkg/models"
)

var ErrNotFound = errors.New("not found")

// WatchlistStore persists the symbols each user watches.
type WatchlistStore interface {
	Symbols(ctx context.Context, userID string) ([]string, error)
	Add(ctx context.Context, userID, symbol, market string) (bool, error)
	Remove(ctx context.Context, userID, symbol string) (bool, error)
}

// SymbolDirectory is the symbol master used to route overseas tickers.
type SymbolDirectory interface {
	Exchange(ctx context.Context, symbol string) (string, error)
}

// PriceCache holds the latest update seen per symbol.
type PriceCache interface {
	Latest(ctx context.Context, symbol string) (models.PriceUpdate, error)
	Store(ctx context.Context, update models.PriceUpdate) error
}

// QuoteSource answers point-in-time price queries.
type QuoteSource interface {
	CurrentPrice(ctx context.Context, symbol string) (models.PriceUpdate, error)
}
