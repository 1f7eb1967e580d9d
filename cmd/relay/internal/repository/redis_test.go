package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/HurDong/Glance/cmd/relay/internal/repository"
	"github.com/HurDong/Glance/pkg/models"
)

func newCache(t *testing.T) (*repository.RedisPriceCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return repository.NewRedisPriceCache(rdb, time.Hour), mr
}

func TestRedisPriceCache(t *testing.T) {
	cache, mr := newCache(t)
	ctx := context.Background()

	if _, err := cache.Latest(ctx, "AAPL"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := cache.Store(ctx, models.PriceUpdate{Symbol: "AAPL", Price: "150.00"}); err != nil {
		t.Fatal(err)
	}
	u, err := cache.Latest(ctx, "AAPL")
	if err != nil || u.Price != "150.00" {
		t.Errorf("unexpected latest %+v %v", u, err)
	}
	if mr.TTL(models.LastPriceKey("AAPL")) != time.Hour {
		t.Errorf("unexpected ttl %v", mr.TTL(models.LastPriceKey("AAPL")))
	}

	mr.Set(models.LastPriceKey("BAD"), "{oops")
	if _, err := cache.Latest(ctx, "BAD"); err == nil {
		t.Error("expected decode error")
	}
}

type stubQuotes struct {
	calls int
	err   error
}

func (q *stubQuotes) CurrentPrice(ctx context.Context, symbol string) (models.PriceUpdate, error) {
	q.calls++
	if q.err != nil {
		return models.PriceUpdate{}, q.err
	}
	return models.PriceUpdate{Symbol: symbol, Price: "71500"}, nil
}

func TestSnapshots_CacheFirstThenQuote(t *testing.T) {
	cache, _ := newCache(t)
	ctx := context.Background()
	quotes := &stubQuotes{}
	snaps := repository.NewSnapshots(cache, quotes, zap.NewNop())

	cache.Store(ctx, models.PriceUpdate{Symbol: "AAPL", Price: "150.00"})
	u, err := snaps.Snapshot(ctx, "AAPL")
	if err != nil || u.Price != "150.00" || quotes.calls != 0 {
		t.Errorf("cached value should win: %+v %v calls=%d", u, err, quotes.calls)
	}

	u, err = snaps.Snapshot(ctx, "005930")
	if err != nil || u.Price != "71500" || quotes.calls != 1 {
		t.Errorf("cache miss should query: %+v %v calls=%d", u, err, quotes.calls)
	}
	snaps.Snapshot(ctx, "005930")
	if quotes.calls != 1 {
		t.Error("fetched snapshot should be cached")
	}
}

func TestSnapshots_QuoteFailure(t *testing.T) {
	cache, _ := newCache(t)
	snaps := repository.NewSnapshots(cache, &stubQuotes{err: errors.New("rate limited")}, zap.NewNop())

	if _, err := snaps.Snapshot(context.Background(), "TSLA"); err == nil {
		t.Error("expected error")
	}

	noQuotes := repository.NewSnapshots(cache, nil, zap.NewNop())
	if _, err := noQuotes.Snapshot(context.Background(), "TSLA"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
