package publisher

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Logger abstracts the logging library
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// RedisClient abstracts the bus connection
type RedisClient interface {
	Pipeline() redis.Pipeliner
}

type Config struct {
	Workers      int
	QueueSize    int
	LastPriceTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueueSize:    100,
		LastPriceTTL: time.Hour,
	}
}
