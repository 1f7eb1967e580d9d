package config_test

import (
	"testing"
	"time"

	"github.com/HurDong/Glance/pkg/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.App.Port != ":8080" {
		t.Errorf("Expected default port :8080, got %s", cfg.App.Port)
	}
	if cfg.Relay.TopicPrefix != "/api/v1/sub" {
		t.Errorf("Expected default topic prefix, got %s", cfg.Relay.TopicPrefix)
	}
	if cfg.Feed.HeartbeatInterval != 60*time.Second {
		t.Errorf("Expected 60s heartbeat, got %s", cfg.Feed.HeartbeatInterval)
	}
	if cfg.Kafka.WatchlistTopic != "watchlist_changes" {
		t.Errorf("Expected watchlist_changes topic, got %s", cfg.Kafka.WatchlistTopic)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("APP_PORT", ":9999")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("FEED_HEARTBEAT_INTERVAL", "15s")
	t.Setenv("RELAY_PUBLISH_WORKERS", "8")

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.App.Port != ":9999" {
		t.Errorf("Expected :9999, got %s", cfg.App.Port)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("Expected redis:6380, got %s", cfg.Redis.Addr)
	}
	if cfg.Feed.HeartbeatInterval != 15*time.Second {
		t.Errorf("Expected 15s, got %s", cfg.Feed.HeartbeatInterval)
	}
	if cfg.Relay.PublishWorkers != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.Relay.PublishWorkers)
	}
}

func TestLoadConfig_InvalidReconnectWindow(t *testing.T) {
	t.Setenv("FEED_RECONNECT_BASE_WAIT", "10s")
	t.Setenv("FEED_RECONNECT_MAX_WAIT", "1s")

	if _, err := config.LoadConfig(); err == nil {
		t.Error("Expected validation error when max wait is below base wait")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := config.NewLogger(config.LoggerConfig{Level: "debug", Encoding: "console"}); err != nil {
		t.Errorf("Expected console logger, got %v", err)
	}
	if _, err := config.NewLogger(config.LoggerConfig{Level: "loud"}); err == nil {
		t.Error("Expected error for unknown level")
	}
	if _, err := config.NewLogger(config.LoggerConfig{Level: "info", Encoding: "xml"}); err == nil {
		t.Error("Expected error for unknown encoding")
	}
}

func TestLoadConfig_KafkaDisabled(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("FEEDSIM_MARKET_HOURS", "true")

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Kafka.Enabled {
		t.Error("Expected kafka to be disabled")
	}
	if !cfg.FeedSim.MarketHours {
		t.Error("Expected market hours gating to be on")
	}
}
