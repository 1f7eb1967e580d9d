package publisher_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/HurDong/Glance/cmd/relay/internal/publisher"
	"github.com/HurDong/Glance/cmd/relay/internal/testutils"
	"github.com/HurDong/Glance/pkg/models"
)

func runFor(p *publisher.Publisher, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	p.Run(ctx)
}

func TestPublisher_WorkerLogic(t *testing.T) {
	mockRedis := testutils.NewMockRedisClient()
	cfg := publisher.DefaultConfig()
	cfg.Workers = 2
	cfg.LastPriceTTL = 30 * time.Minute

	pub := publisher.NewPublisher(cfg, zap.NewNop(), mockRedis)

	pub.Publish(models.PriceUpdate{Symbol: "AAPL", Price: "100.00"})
	pub.Publish(models.PriceUpdate{Symbol: "AAPL", Price: "101.00"})
	pub.Publish(models.PriceUpdate{Symbol: "TSLA", Price: "900.00"})

	runFor(pub, 200*time.Millisecond)

	pipeline := mockRedis.PipelineSpy
	pipeline.Mu.Lock()
	defer pipeline.Mu.Unlock()

	if pipeline.ExecCount != 3 {
		t.Errorf("Expected 3 pipeline executions, got %d", pipeline.ExecCount)
	}

	var sets, pubs int
	for _, cmd := range pipeline.RecordedCmds {
		switch cmd {
		case "SET stock:last:AAPL", "SET stock:last:TSLA":
			sets++
		case "PUBLISH stock.price.AAPL", "PUBLISH stock.price.TSLA":
			pubs++
		}
	}
	if sets != 3 || pubs != 3 {
		t.Errorf("Expected 3 SET and 3 PUBLISH, got %d and %d", sets, pubs)
	}

	var last models.PriceUpdate
	json.Unmarshal([]byte(pipeline.Payloads["stock:last:AAPL"]), &last)
	if last.Price != "101.00" {
		t.Errorf("Per-symbol order should leave 101.00 cached, got %s", last.Price)
	}
	if pipeline.TTLs["stock:last:AAPL"] != 30*time.Minute {
		t.Errorf("Unexpected TTL %v", pipeline.TTLs["stock:last:AAPL"])
	}
}

func TestPublisher_DropsWhenShardFull(t *testing.T) {
	mockRedis := testutils.NewMockRedisClient()
	pub := publisher.NewPublisher(publisher.Config{Workers: 1, QueueSize: 2}, zap.NewNop(), mockRedis)

	for i := 0; i < 5; i++ {
		pub.Publish(models.PriceUpdate{Symbol: "AAPL"})
	}
	runFor(pub, 100*time.Millisecond)

	if mockRedis.PipelineSpy.ExecCount != 2 {
		t.Errorf("Expected only the 2 queued updates to be published, got %d", mockRedis.PipelineSpy.ExecCount)
	}
}

func TestPublisher_PublishAfterShutdown(t *testing.T) {
	mockRedis := testutils.NewMockRedisClient()
	pub := publisher.NewPublisher(publisher.DefaultConfig(), zap.NewNop(), mockRedis)

	runFor(pub, 10*time.Millisecond)

	// Must not panic on a closed shard.
	pub.Publish(models.PriceUpdate{Symbol: "AAPL"})
}

func TestPublisher_PipelineErrorContinues(t *testing.T) {
	mockRedis := testutils.NewMockRedisClient()
	mockRedis.PipelineSpy.FailExec = true
	pub := publisher.NewPublisher(publisher.Config{Workers: 1}, zap.NewNop(), mockRedis)

	pub.Publish(models.PriceUpdate{Symbol: "AAPL"})
	pub.Publish(models.PriceUpdate{Symbol: "AAPL"})
	runFor(pub, 100*time.Millisecond)

	if mockRedis.PipelineSpy.ExecCount != 2 {
		t.Errorf("A failed write must not stop the worker, got %d executions", mockRedis.PipelineSpy.ExecCount)
	}
}

func TestPublisher_RedisRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sub := rdb.Subscribe(context.Background(), models.PriceChannel("AAPL"))
	defer sub.Close()
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pub := publisher.NewPublisher(publisher.DefaultConfig(), zap.NewNop(), rdb)
	pub.Publish(models.PriceUpdate{Symbol: "AAPL", Price: "150.50"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pub.Run(ctx)
		close(done)
	}()

	select {
	case msg := <-sub.Channel():
		var u models.PriceUpdate
		if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil || u.Price != "150.50" {
			t.Errorf("unexpected bus payload %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no bus message")
	}

	cancel()
	<-done

	cached, err := mr.Get(models.LastPriceKey("AAPL"))
	if err != nil || cached == "" {
		t.Errorf("latest price should be cached, got %q %v", cached, err)
	}
	if ttl := mr.TTL(models.LastPriceKey("AAPL")); ttl <= 0 {
		t.Errorf("cached price should expire, ttl %v", ttl)
	}
}
