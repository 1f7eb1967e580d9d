package session

import (
	"context"
	"errors"
	"time"

	"github.com/HurDong/Glance/cmd/relay/internal/hub"
	"github.com/HurDong/Glance/cmd/relay/internal/registry"
	"github.com/HurDong/Glance/pkg/models"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrInvalidSymbol  = errors.New("invalid symbol")
)

// Feed is the upstream connector.
type Feed interface {
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(ctx context.Context, symbol string) error
}

// Registry is the cluster-shared subscription bookkeeping.
type Registry interface {
	AttachSession(ctx context.Context, sessionID, symbol string) (registry.Transition, error)
	DetachSession(ctx context.Context, sessionID, symbol string) (registry.Transition, error)
	SessionSymbols(ctx context.Context, sessionID string) ([]string, error)
	DeleteSession(ctx context.Context, sessionID string) error
	AddUserSession(ctx context.Context, userID, sessionID string) error
	RemoveUserSession(ctx context.Context, userID, sessionID string) error
	UserSessions(ctx context.Context, userID string) ([]string, error)
}

// Bridge is the node-local bus listener refcount.
type Bridge interface {
	AttachLocal(ctx context.Context, symbol string) error
	DetachLocal(ctx context.Context, symbol string) error
}

// Pusher is the node-local push transport.
type Pusher interface {
	Join(topic string, client hub.Client) bool
	Leave(topic string, client hub.Client) bool
	LeaveAll(client hub.Client) []string
	Send(client hub.Client, topic string, update models.PriceUpdate)
}

// WatchlistStore loads a user's persisted symbols.
type WatchlistStore interface {
	Symbols(ctx context.Context, userID string) ([]string, error)
}

// SnapshotSource supplies a point-in-time price for a symbol.
type SnapshotSource interface {
	Snapshot(ctx context.Context, symbol string) (models.PriceUpdate, error)
}

var (
	_ Registry = (*registry.Registry)(nil)
	_ Pusher   = (*hub.Hub)(nil)
)

// Session is one connected client owned by this node.
type Session struct {
	ID          string
	UserID      string
	Client      hub.Client
	ConnectedAt time.Time
}

type Config struct {
	TopicPrefix     string
	SnapshotTimeout time.Duration
	// OpTimeout bounds background work that outlives its request, such as
	// cleanup after the client connection is already gone.
	OpTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TopicPrefix:     "/api/v1/sub",
		SnapshotTimeout: 3 * time.Second,
		OpTimeout:       10 * time.Second,
	}
}
