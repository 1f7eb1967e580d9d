package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/HurDong/Glance/pkg/models"
)

// Snapshots answers snapshot requests from the latest-price cache first and
// falls back to a point-price query, caching what it fetched.
type Snapshots struct {
	cache  PriceCache
	quotes QuoteSource
	logger *zap.Logger
}

func NewSnapshots(cache PriceCache, quotes QuoteSource, logger *zap.Logger) *Snapshots {
	return &Snapshots{cache: cache, quotes: quotes, logger: logger}
}

func (s *Snapshots) Snapshot(ctx context.Context, symbol string) (models.PriceUpdate, error) {
	if u, err := s.cache.Latest(ctx, symbol); err == nil {
		return u, nil
	}
	if s.quotes == nil {
		return models.PriceUpdate{}, fmt.Errorf("snapshot %s: %w", symbol, ErrNotFound)
	}

	u, err := s.quotes.CurrentPrice(ctx, symbol)
	if err != nil {
		return models.PriceUpdate{}, fmt.Errorf("snapshot %s: %w", symbol, err)
	}
	if err := s.cache.Store(ctx, u); err != nil {
		s.logger.Debug("Caching snapshot failed", zap.String("symbol", symbol), zap.Error(err))
	}
	return u, nil
}
