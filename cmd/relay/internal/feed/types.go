package feed

import (
	"context"
	"errors"
	"time"

	"github.com/HurDong/Glance/pkg/models"
)

var (
	ErrNotConnected = errors.New("feed not connected")
	ErrAuth         = errors.New("feed approval key unavailable")
)

// State of the upstream connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Conn is one live upstream connection. Reads happen on a single goroutine;
// writes are serialized by the Connector.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens upstream connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// CredentialSource supplies the approval key embedded in control frames.
type CredentialSource interface {
	ApprovalKey(ctx context.Context) (string, error)
}

// KeyInvalidator is implemented by credential sources that cache the
// approval key and can be told it was refused.
type KeyInvalidator interface {
	InvalidateApprovalKey()
}

// VenueResolver reports the exchange an overseas symbol is listed on
// ("NASDAQ", "NYSE", "AMEX").
type VenueResolver interface {
	Exchange(ctx context.Context, symbol string) (string, error)
}

// Sink receives normalized updates from the read loop.
type Sink interface {
	Publish(update models.PriceUpdate)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(models.PriceUpdate)

func (f SinkFunc) Publish(update models.PriceUpdate) { f(update) }

// Clock schedules reconnect waits. Tests swap it for a recording one.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Config configures the Connector.
type Config struct {
	URL               string
	CustomerType      string // "P" personal, "B" corporate
	HeartbeatInterval time.Duration
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
	ControlTimeout    time.Duration // bound on venue / credential lookups
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CustomerType:      "P",
		HeartbeatInterval: 60 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		ControlTimeout:    3 * time.Second,
	}
}
