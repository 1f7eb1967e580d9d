package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/HurDong/Glance/cmd/relay/internal/gateway"
	"github.com/HurDong/Glance/cmd/relay/internal/protocol"
	"github.com/HurDong/Glance/cmd/relay/internal/repository"
	"github.com/HurDong/Glance/cmd/relay/internal/session"
	"github.com/HurDong/Glance/pkg/models"
)

type Options struct {
	NodeID      string
	TopicPrefix string
	Gateway     gateway.Options
	// RequestTimeout bounds the work a request triggers, the socket
	// handshake's watchlist attach included.
	RequestTimeout time.Duration
}

// Server is the relay's HTTP surface: health, the client socket, snapshot
// lookup, watchlist mutation and registry debug reads.
type Server struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	proc   *process.Process
	engine *gin.Engine
	now    func() time.Time
}

func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = session.DefaultConfig().TopicPrefix
	}

	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logger.With(zap.String("component", "api")),
		now:    time.Now,
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = proc
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/health", s.health)
	r.GET("/ws", s.serveWS)

	v1 := r.Group("/api/v1")
	v1.GET("/stocks/:symbol/price", s.currentPrice)
	v1.POST("/stocks/:symbol/subscribe", s.subscribe)
	v1.GET("/watchlist/:user", s.watchlist)
	v1.POST("/watchlist/:user/:symbol", s.addToWatchlist)
	v1.DELETE("/watchlist/:user/:symbol", s.removeFromWatchlist)

	debug := r.Group("/api/redis")
	debug.GET("/status", s.redisStatus)
	debug.GET("/status/:symbol", s.redisSymbolStatus)

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":     "ok",
		"service":    "relay",
		"node_id":    s.opts.NodeID,
		"sessions":   s.deps.Sessions.Sessions(),
		"goroutines": runtime.NumGoroutine(),
	}
	if s.deps.Feed != nil {
		body["feed"] = s.deps.Feed.State().String()
	}
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil {
			body["rss_bytes"] = mem.RSS
		}
	}
	c.JSON(http.StatusOK, body)
}

// userID reads the identity set by the auth proxy in front of the relay.
func userID(c *gin.Context) string {
	if id := c.GetHeader("X-User-ID"); id != "" {
		return id
	}
	return c.Query("user_id")
}

func (s *Server) serveWS(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, fail("user id required"))
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(c.Request, c.Writer)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	sid := uuid.NewString()
	client := gateway.NewClient(conn, sid, s.deps.Sessions, s.opts.Gateway, s.logger)
	client.StartWriter()
	client.SendJSON(protocol.WSResponse{
		Type:    protocol.TypeWelcome,
		Message: "Connected to " + s.opts.NodeID,
		Data:    gin.H{"session_id": sid},
	})

	// The hijacked request's context is not tied to the socket's lifetime.
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()
	if _, err := s.deps.Sessions.Connect(ctx, client, uid); err != nil {
		s.logger.Error("Session connect failed", zap.String("session", sid), zap.String("user", uid), zap.Error(err))
		client.SendJSON(protocol.Error("", "Session could not be established"))
		client.Close()
		return
	}
	client.StartReader()
}

func (s *Server) currentPrice(c *gin.Context) {
	symbol := session.NormalizeSymbol(c.Param("symbol"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.RequestTimeout)
	defer cancel()
	u, err := s.deps.Snapshots.Snapshot(ctx, symbol)
	if err != nil {
		s.logger.Warn("Price lookup failed", zap.String("symbol", symbol), zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, repository.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, fail("Failed to fetch current price for "+symbol))
		return
	}
	c.JSON(http.StatusOK, ok(u))
}

// subscribe bumps the global count and asks the upstream for the symbol
// without binding it to any session.
func (s *Server) subscribe(c *gin.Context) {
	symbol := session.NormalizeSymbol(c.Param("symbol"))
	ctx := c.Request.Context()

	if _, err := s.deps.Registry.Subscribe(ctx, symbol); err != nil {
		s.logger.Error("Registry subscribe failed", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, fail(err.Error()))
		return
	}
	// The connector deduplicates, so this is safe even when the count was already positive.
	if err := s.deps.Feed.Subscribe(ctx, symbol); err != nil {
		s.logger.Warn("Upstream subscribe deferred", zap.String("symbol", symbol), zap.Error(err))
	}

	c.JSON(http.StatusOK, response{
		Success: true,
		Message: symbol + " subscription requested; updates are pushed on " + protocol.StockTopic(s.opts.TopicPrefix, symbol),
	})
}

func (s *Server) watchlist(c *gin.Context) {
	symbols, err := s.deps.Watchlist.Symbols(c.Request.Context(), c.Param("user"))
	if err != nil {
		s.logger.Error("Watchlist lookup failed", zap.String("user", c.Param("user")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, fail(err.Error()))
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	c.JSON(http.StatusOK, ok(symbols))
}

func (s *Server) addToWatchlist(c *gin.Context) {
	user, symbol := c.Param("user"), session.NormalizeSymbol(c.Param("symbol"))
	market := c.DefaultQuery("market", "US")
	ctx := c.Request.Context()

	added, err := s.deps.Watchlist.Add(ctx, user, symbol, market)
	if err != nil {
		s.logger.Error("Watchlist add failed", zap.String("user", user), zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, fail(err.Error()))
		return
	}
	if added {
		s.announce(ctx, models.WatchlistEvent{Type: models.WatchlistAdded, UserID: user, Symbol: symbol, Market: market})
	}
	c.JSON(http.StatusOK, ok(gin.H{"symbol": symbol, "added": added}))
}

func (s *Server) removeFromWatchlist(c *gin.Context) {
	user, symbol := c.Param("user"), session.NormalizeSymbol(c.Param("symbol"))
	ctx := c.Request.Context()

	removed, err := s.deps.Watchlist.Remove(ctx, user, symbol)
	if err != nil {
		s.logger.Error("Watchlist remove failed", zap.String("user", user), zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, fail(err.Error()))
		return
	}
	if removed {
		s.announce(ctx, models.WatchlistEvent{Type: models.WatchlistRemoved, UserID: user, Symbol: symbol})
	}
	c.JSON(http.StatusOK, ok(gin.H{"symbol": symbol, "removed": removed}))
}

// announce publishes a persisted change. Live sessions miss it on failure
// but pick the change up on their next connect.
func (s *Server) announce(ctx context.Context, evt models.WatchlistEvent) {
	evt.At = s.now()
	if err := s.deps.Events.Publish(ctx, evt); err != nil {
		s.logger.Error("Watchlist event lost",
			zap.String("type", evt.Type), zap.String("user", evt.UserID), zap.String("symbol", evt.Symbol), zap.Error(err))
	}
}

func (s *Server) redisStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"localSubscriptions": s.deps.Bridge.LocalCounts()})
}

func (s *Server) redisSymbolStatus(c *gin.Context) {
	symbol := session.NormalizeSymbol(c.Param("symbol"))

	global, err := s.deps.Registry.Count(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, fail(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":             symbol,
		"localCount":         s.deps.Bridge.LocalCounts()[symbol],
		"globalCount":        global,
		"upstreamSubscribed": s.deps.Feed.IsSubscribed(symbol),
	})
}
