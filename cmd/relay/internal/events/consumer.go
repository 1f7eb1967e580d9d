package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/HurDong/Glance/pkg/models"
)

// Consumer feeds watchlist changes from the topic into the session handler.
type Consumer struct {
	reader    KafkaReader
	handler   Handler
	logger    *zap.Logger
	opTimeout time.Duration
}

func NewConsumer(reader KafkaReader, handler Handler, opTimeout time.Duration, logger *zap.Logger) *Consumer {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Consumer{reader: reader, handler: handler, logger: logger, opTimeout: opTimeout}
}

// Run blocks until ctx is cancelled. Malformed events are skipped; handler
// failures are logged and the stream moves on.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Watchlist consumer started")
	defer c.reader.Close()

	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("Watchlist consumer stopped")
				return nil
			}
			c.logger.Error("Kafka Read Error", zap.Error(err))
			continue
		}

		var evt models.WatchlistEvent
		if err := json.Unmarshal(m.Value, &evt); err != nil {
			c.logger.Error("JSON Unmarshal Error", zap.Error(err), zap.ByteString("key", m.Key))
			continue
		}

		opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		err = c.handler.HandleEvent(opCtx, evt)
		cancel()
		if err != nil {
			c.logger.Warn("Watchlist event not applied",
				zap.String("type", evt.Type), zap.String("user_id", evt.UserID),
				zap.String("symbol", evt.Symbol), zap.Error(err))
		}
	}
}
