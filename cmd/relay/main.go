package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HurDong/Glance/cmd/relay/internal/api"
	"github.com/HurDong/Glance/cmd/relay/internal/bridge"
	"github.com/HurDong/Glance/cmd/relay/internal/events"
	"github.com/HurDong/Glance/cmd/relay/internal/feed"
	"github.com/HurDong/Glance/cmd/relay/internal/gateway"
	"github.com/HurDong/Glance/cmd/relay/internal/hub"
	"github.com/HurDong/Glance/cmd/relay/internal/kis"
	"github.com/HurDong/Glance/cmd/relay/internal/publisher"
	"github.com/HurDong/Glance/cmd/relay/internal/registry"
	"github.com/HurDong/Glance/cmd/relay/internal/repository"
	"github.com/HurDong/Glance/cmd/relay/internal/session"
	"github.com/HurDong/Glance/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	nodeID := cfg.App.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	logger = logger.With(zap.String("node_id", nodeID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	db, err := repository.OpenPostgres(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer db.Close()
	store := repository.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to prepare schema", zap.Error(err))
	}

	// Upstream credentials and point-price queries
	creds := kis.Credentials{BaseURL: cfg.Feed.RestURL, AppKey: cfg.Feed.AppKey, AppSecret: cfg.Feed.AppSecret}
	httpClient := &http.Client{Timeout: cfg.Feed.RequestTimeout}
	tokens := kis.NewTokenProvider(creds, httpClient, cfg.Feed.ApprovalKeyTTL, logger)
	quotes := kis.NewQuoteClient(creds, tokens, store, httpClient, logger)
	snapshots := repository.NewSnapshots(repository.NewRedisPriceCache(rdb, cfg.Relay.LastPriceTTL), quotes, logger)

	pub := publisher.NewPublisher(publisher.Config{
		Workers:      cfg.Relay.PublishWorkers,
		LastPriceTTL: cfg.Relay.LastPriceTTL,
	}, logger, rdb)

	connector := feed.NewConnector(feed.Config{
		URL:               cfg.Feed.WSURL,
		CustomerType:      cfg.Feed.CustomerType,
		HeartbeatInterval: cfg.Feed.HeartbeatInterval,
		ReconnectBaseWait: cfg.Feed.ReconnectBaseWait,
		ReconnectMaxWait:  cfg.Feed.ReconnectMaxWait,
		ControlTimeout:    cfg.Feed.RequestTimeout,
	}, &feed.WebSocketDialer{}, tokens, store, pub, logger)

	wsHub := hub.NewHub(logger)
	br := bridge.NewRedis(rdb, wsHub, cfg.Relay.TopicPrefix, logger)
	defer br.Close()
	reg := registry.New(rdb)

	opTimeout := 2 * cfg.Feed.RequestTimeout
	mgr := session.NewManager(session.Config{
		TopicPrefix:     cfg.Relay.TopicPrefix,
		SnapshotTimeout: cfg.Relay.SnapshotTimeout,
		OpTimeout:       opTimeout,
	}, connector, reg, br, wsHub, store, snapshots, logger)

	// Watchlist change propagation
	var (
		announcer api.EventPublisher = events.LocalPublisher{Handler: mgr}
		consumer  *events.Consumer
	)
	if cfg.Kafka.Enabled {
		tc := events.NewTopicCreator(logger, &events.RealKafkaDialer{Dialer: &kafka.Dialer{Timeout: 10 * time.Second}}, events.RealClock{})
		if err := tc.Ensure(ctx, cfg.Kafka.Brokers, cfg.Kafka.WatchlistTopic, cfg.Kafka.Partitions); err != nil {
			logger.Warn("Watchlist topic not confirmed", zap.Error(err))
		}

		eventPub := events.NewPublisher(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.WatchlistTopic), logger)
		defer eventPub.Close()
		announcer = eventPub

		groupID := events.GroupID(cfg.Kafka.GroupPrefix, nodeID)
		consumer = events.NewConsumer(events.NewReader(cfg.Kafka.Brokers, cfg.Kafka.WatchlistTopic, groupID), mgr, opTimeout, logger)
		logger.Info("Watchlist events over Kafka", zap.String("topic", cfg.Kafka.WatchlistTopic), zap.String("group_id", groupID))
	}

	server := api.NewServer(api.Deps{
		Sessions:  mgr,
		Registry:  reg,
		Feed:      connector,
		Bridge:    br,
		Snapshots: snapshots,
		Watchlist: store,
		Events:    announcer,
	}, api.Options{
		NodeID:      nodeID,
		TopicPrefix: cfg.Relay.TopicPrefix,
		Gateway: gateway.Options{
			WriteWait:      cfg.Gateway.WriteWait,
			PongWait:       cfg.Gateway.PongWait,
			PingPeriod:     cfg.Gateway.PingPeriod,
			SendBuffer:     cfg.Gateway.SendBuffer,
			MaxMessageSize: cfg.Gateway.MaxMessageSize,
			OpTimeout:      opTimeout,
		},
		RequestTimeout: opTimeout,
	}, logger)
	srv := &http.Server{Addr: cfg.App.Port, Handler: server.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return connector.Run(gctx) })
	g.Go(func() error { return pub.Run(gctx) })
	g.Go(func() error {
		br.Run(gctx)
		return nil
	})
	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, releasing sessions...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		mgr.DisconnectAll(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Relay stopped with error", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}
