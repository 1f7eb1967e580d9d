package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HurDong/Glance/cmd/feedsim/internal/feedsim"
	"github.com/HurDong/Glance/pkg/config"
)

var basePrices = map[string]float64{
	"005930": 71500, "000660": 182000, "035420": 201000,
	"AAPL": 189.5, "TSLA": 250.0, "NVDA": 900.0, "MSFT": 415.0, "IBM": 190.0,
}

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

	var hours feedsim.MarketHours = feedsim.AlwaysOpen{}
	if cfg.FeedSim.MarketHours {
		hours = feedsim.NewCalendarHours()
	}

	gen := feedsim.NewPriceGenerator(
		feedsim.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))},
		feedsim.RealClock{},
		basePrices,
	)
	sim := feedsim.NewSimulator(feedsim.Config{Interval: cfg.FeedSim.Interval}, gen, hours, logger)

	mux := http.NewServeMux()
	mux.Handle("/", sim)
	srv := &http.Server{Addr: cfg.FeedSim.Port, Handler: mux}

	go func() {
		logger.Info("Feed simulator started",
			zap.String("port", cfg.FeedSim.Port),
			zap.Duration("interval", cfg.FeedSim.Interval),
			zap.Bool("market_hours", cfg.FeedSim.MarketHours))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	logger.Info("Shutdown Complete", zap.Int("open_connections", sim.Connections()))
}
