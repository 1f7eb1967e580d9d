package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/HurDong/Glance/cmd/relay/internal/protocol"
	"github.com/HurDong/Glance/pkg/models"
)

// PubSub is the subset of *redis.PubSub the bridge drives.
type PubSub interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

var _ PubSub = (*redis.PubSub)(nil)

// Sink is the local push transport.
type Sink interface {
	Publish(topic string, update models.PriceUpdate)
}

// Bridge keeps one bus listener per symbol that has local interest and
// rebroadcasts whatever arrives on it, regardless of which node produced it.
type Bridge struct {
	ps          PubSub
	sink        Sink
	topicPrefix string
	logger      *zap.Logger

	mu     sync.Mutex
	counts map[string]int
}

func New(ps PubSub, sink Sink, topicPrefix string, logger *zap.Logger) *Bridge {
	return &Bridge{
		ps:          ps,
		sink:        sink,
		topicPrefix: topicPrefix,
		logger:      logger.With(zap.String("component", "bridge")),
		counts:      make(map[string]int),
	}
}

// NewRedis opens the process-wide subscription connection.
func NewRedis(client redis.UniversalClient, sink Sink, topicPrefix string, logger *zap.Logger) *Bridge {
	return New(client.Subscribe(context.Background()), sink, topicPrefix, logger)
}

// AttachLocal registers one more local listener for symbol, subscribing to
// its bus channel on the first one.
func (b *Bridge) AttachLocal(ctx context.Context, symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counts[symbol]++
	if b.counts[symbol] > 1 {
		return nil
	}

	if err := b.ps.Subscribe(ctx, models.PriceChannel(symbol)); err != nil {
		delete(b.counts, symbol)
		return fmt.Errorf("attach %s: %w", symbol, err)
	}
	b.logger.Debug("Attached bus listener", zap.String("symbol", symbol))
	return nil
}

// DetachLocal releases one local listener, unsubscribing from the bus
// channel when none remain. Detaching an unknown symbol is a no-op.
func (b *Bridge) DetachLocal(ctx context.Context, symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.counts[symbol]
	if !ok {
		return nil
	}
	if n > 1 {
		b.counts[symbol] = n - 1
		return nil
	}

	delete(b.counts, symbol)
	if err := b.ps.Unsubscribe(ctx, models.PriceChannel(symbol)); err != nil {
		return fmt.Errorf("detach %s: %w", symbol, err)
	}
	b.logger.Debug("Detached bus listener", zap.String("symbol", symbol))
	return nil
}

// Run forwards bus messages to the sink until ctx is done or the
// subscription is closed.
func (b *Bridge) Run(ctx context.Context) {
	ch := b.ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.onMessage(msg.Channel, msg.Payload)
		}
	}
}

func (b *Bridge) onMessage(channel, payload string) {
	symbol := strings.TrimPrefix(channel, models.PriceChannelPrefix)
	if symbol == channel || symbol == "" {
		return
	}

	var update models.PriceUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		b.logger.Warn("Dropping undecodable bus message",
			zap.String("channel", channel), zap.Error(err))
		return
	}
	if update.Symbol == "" {
		update.Symbol = symbol
	}

	b.sink.Publish(protocol.StockTopic(b.topicPrefix, symbol), update)
}

// LocalCount returns the number of local listeners for symbol.
func (b *Bridge) LocalCount(symbol string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[symbol]
}

// LocalCounts returns a copy of every local listener count.
func (b *Bridge) LocalCounts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]int, len(b.counts))
	for s, n := range b.counts {
		out[s] = n
	}
	return out
}

func (b *Bridge) Close() error {
	return b.ps.Close()
}
