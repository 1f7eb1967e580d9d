package publisher

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/HurDong/Glance/pkg/models"
)

// Publisher moves normalized updates from the feed onto the cluster bus.
// Updates are sharded by symbol so a symbol's ticks keep their order.
type Publisher struct {
	cfg    Config
	logger Logger
	rdb    RedisClient

	mu      sync.RWMutex
	closed  bool
	workers []chan models.PriceUpdate
}

func NewPublisher(cfg Config, logger Logger, rdb RedisClient) *Publisher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.LastPriceTTL <= 0 {
		cfg.LastPriceTTL = def.LastPriceTTL
	}

	workers := make([]chan models.PriceUpdate, cfg.Workers)
	for i := range workers {
		workers[i] = make(chan models.PriceUpdate, cfg.QueueSize)
	}
	return &Publisher{cfg: cfg, logger: logger, rdb: rdb, workers: workers}
}

// Publish enqueues an update without blocking the feed read loop. When the
// shard is full the update is dropped; the next tick supersedes it anyway.
func (p *Publisher) Publish(update models.PriceUpdate) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	workerID := getWorkerID([]byte(update.Symbol), len(p.workers))
	select {
	case p.workers[workerID] <- update:
	default:
		p.logger.Warn("Dropping slow update", zap.String("symbol", update.Symbol), zap.Int("worker_id", workerID))
	}
}

// Run drives the workers until ctx is cancelled, then drains what is queued.
func (p *Publisher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i, ch := range p.workers {
		wg.Add(1)
		go p.worker(i, ch, &wg)
	}
	p.logger.Info("Publisher started", zap.Int("workers", len(p.workers)))

	<-ctx.Done()

	p.mu.Lock()
	p.closed = true
	for _, ch := range p.workers {
		close(ch)
	}
	p.mu.Unlock()

	p.logger.Info("Waiting for publisher workers to drain...")
	wg.Wait()
	return nil
}

func (p *Publisher) worker(id int, updates <-chan models.PriceUpdate, wg *sync.WaitGroup) {
	defer wg.Done()
	// Background context so shutdown doesn't cut a write in half.
	ctx := context.Background()

	for update := range updates {
		payload, err := json.Marshal(update)
		if err != nil {
			p.logger.Error("JSON Marshal Error", zap.Error(err))
			continue
		}

		pipe := p.rdb.Pipeline()
		pipe.Set(ctx, models.LastPriceKey(update.Symbol), payload, p.cfg.LastPriceTTL)
		pipe.Publish(ctx, models.PriceChannel(update.Symbol), payload)

		if _, err := pipe.Exec(ctx); err != nil {
			p.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("symbol", update.Symbol))
			continue
		}
		p.logger.Debug("Published", zap.String("symbol", update.Symbol), zap.Int("worker_id", id))
	}
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}
