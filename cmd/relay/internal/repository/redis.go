package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HurDong/Glance/pkg/models"
)

// Compile-time check to ensure RedisPriceCache implements PriceCache
var _ PriceCache = (*RedisPriceCache)(nil)

// RedisPriceCache reads the latest-price keys the publisher maintains.
type RedisPriceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisPriceCache(client redis.UniversalClient, ttl time.Duration) *RedisPriceCache {
	return &RedisPriceCache{client: client, ttl: ttl}
}

func (r *RedisPriceCache) Latest(ctx context.Context, symbol string) (models.PriceUpdate, error) {
	payload, err := r.client.Get(ctx, models.LastPriceKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.PriceUpdate{}, fmt.Errorf("latest %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return models.PriceUpdate{}, err
	}

	var u models.PriceUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return models.PriceUpdate{}, fmt.Errorf("decode latest %s: %w", symbol, err)
	}
	return u, nil
}

func (r *RedisPriceCache) Store(ctx context.Context, update models.PriceUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, models.LastPriceKey(update.Symbol), payload, r.ttl).Err()
}
