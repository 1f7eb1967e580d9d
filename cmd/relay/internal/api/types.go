package api

import (
	"context"

	"github.com/HurDong/Glance/cmd/relay/internal/feed"
	"github.com/HurDong/Glance/cmd/relay/internal/gateway"
	"github.com/HurDong/Glance/cmd/relay/internal/hub"
	"github.com/HurDong/Glance/cmd/relay/internal/repository"
	"github.com/HurDong/Glance/cmd/relay/internal/session"
	"github.com/HurDong/Glance/pkg/models"
)

// SessionManager is the session side of the socket endpoint.
type SessionManager interface {
	gateway.Handler
	Connect(ctx context.Context, client hub.Client, userID string) (*session.Session, error)
	Sessions() int
}

// Counter is the cluster-wide subscription count.
type Counter interface {
	Subscribe(ctx context.Context, symbol string) (bool, error)
	Count(ctx context.Context, symbol string) (int64, error)
}

// Upstream is the feed connector as seen by the debug endpoints.
type Upstream interface {
	Subscribe(ctx context.Context, symbol string) error
	IsSubscribed(symbol string) bool
	State() feed.State
}

// LocalListeners exposes the bridge's per-symbol listener counts.
type LocalListeners interface {
	LocalCounts() map[string]int
}

// SnapshotSource answers point-price queries.
type SnapshotSource interface {
	Snapshot(ctx context.Context, symbol string) (models.PriceUpdate, error)
}

// EventPublisher announces watchlist changes to the cluster.
type EventPublisher interface {
	Publish(ctx context.Context, evt models.WatchlistEvent) error
}

// Deps groups what the HTTP surface talks to.
type Deps struct {
	Sessions  SessionManager
	Registry  Counter
	Feed      Upstream
	Bridge    LocalListeners
	Snapshots SnapshotSource
	Watchlist repository.WatchlistStore
	Events    EventPublisher
}

// response mirrors the envelope the web client already understands.
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func ok(data interface{}) response { return response{Success: true, Data: data} }

func fail(message string) response { return response{Success: false, Message: message} }

var (
	_ SessionManager = (*session.Manager)(nil)
	_ Upstream       = (*feed.Connector)(nil)
)
