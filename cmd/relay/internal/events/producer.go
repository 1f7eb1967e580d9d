package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/HurDong/Glance/pkg/models"
)

// Publisher announces watchlist changes to every relay node.
type Publisher struct {
	writer KafkaWriter
	logger *zap.Logger
	now    func() time.Time
}

func NewPublisher(writer KafkaWriter, logger *zap.Logger) *Publisher {
	return &Publisher{writer: writer, logger: logger, now: time.Now}
}

// Publish writes the event keyed by user id so one user's changes stay ordered.
func (p *Publisher) Publish(ctx context.Context, evt models.WatchlistEvent) error {
	if evt.At.IsZero() {
		evt.At = p.now()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.UserID),
		Value: payload,
		Time:  evt.At,
	})
	if err != nil {
		return fmt.Errorf("publish watchlist event: %w", err)
	}
	p.logger.Debug("Watchlist event published",
		zap.String("type", evt.Type), zap.String("user_id", evt.UserID), zap.String("symbol", evt.Symbol))
	return nil
}

func (p *Publisher) Close() error { return p.writer.Close() }

// LocalPublisher hands events straight to this node's handler. Used when no
// brokers are configured and the node runs alone.
type LocalPublisher struct {
	Handler Handler
}

func (l LocalPublisher) Publish(ctx context.Context, evt models.WatchlistEvent) error {
	return l.Handler.HandleEvent(ctx, evt)
}
