package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const heartbeatFrame = "PING"

// route is the resolved wire address of a symbol.
type route struct {
	trID  string
	trKey string
}

// Connector owns the single upstream connection. Callers only interact with
// it through Subscribe/Unsubscribe; the live handle never leaves the type.
type Connector struct {
	cfg    Config
	dialer Dialer
	creds  CredentialSource
	venues VenueResolver
	sink   Sink
	clock  Clock
	logger *zap.Logger

	// mu guards the connection handle, its state and the subscribed set.
	// Upstream writes happen under mu so control frames keep their order.
	mu          sync.Mutex
	state       State
	conn        Conn
	approvalKey string
	subscribed  map[string]route
}

// NewConnector creates a Connector. venues may be nil, in which case every
// overseas symbol is routed to the default venue.
func NewConnector(cfg Config, dialer Dialer, creds CredentialSource, venues VenueResolver, sink Sink, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.CustomerType == "" {
		cfg.CustomerType = def.CustomerType
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		cfg.ReconnectMaxWait = cfg.ReconnectBaseWait
	}
	if cfg.ControlTimeout <= 0 {
		cfg.ControlTimeout = def.ControlTimeout
	}

	return &Connector{
		cfg:        cfg,
		dialer:     dialer,
		creds:      creds,
		venues:     venues,
		sink:       sink,
		clock:      realClock{},
		logger:     logger.With(zap.String("component", "feed")),
		subscribed: make(map[string]route),
	}
}

// Run keeps the upstream connection alive until ctx is cancelled.
func (c *Connector) Run(ctx context.Context) error {
	wait := c.cfg.ReconnectBaseWait

	for {
		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			wait = c.cfg.ReconnectBaseWait
		}

		c.logger.Warn("Feed connection lost, scheduling reconnect",
			zap.Error(err), zap.Duration("backoff", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(wait):
		}

		wait *= 2
		if wait > c.cfg.ReconnectMaxWait {
			wait = c.cfg.ReconnectMaxWait
		}
	}
}

// connectAndServe performs one CONNECTING -> CONNECTED -> DISCONNECTED cycle.
func (c *Connector) connectAndServe(ctx context.Context) (bool, error) {
	c.setState(StateConnecting)

	keyCtx, cancel := context.WithTimeout(ctx, c.cfg.ControlTimeout)
	key, err := c.creds.ApprovalKey(keyCtx)
	cancel()
	if err != nil {
		c.setState(StateDisconnected)
		return false, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		c.setState(StateDisconnected)
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.onConnected(conn, key)

	done := make(chan struct{})
	go c.heartbeatLoop(ctx, conn, done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	err = c.readLoop(conn)
	close(done)
	c.onDisconnected(conn)

	return true, err
}

// onConnected installs the new handle and replays the subscribed set.
func (c *Connector) onConnected(conn Conn, approvalKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
	c.approvalKey = approvalKey
	c.state = StateConnected

	c.logger.Info("Feed connected, replaying subscriptions",
		zap.String("url", c.cfg.URL), zap.Int("symbols", len(c.subscribed)))

	for symbol, r := range c.subscribed {
		if err := c.writeControlLocked(r, true); err != nil {
			// The read loop will observe the broken transport and reconnect.
			c.logger.Warn("Replay subscribe failed", zap.String("symbol", symbol), zap.Error(err))
			return
		}
	}
}

// onDisconnected drops the handle if it is still the current one.
func (c *Connector) onDisconnected(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	conn.Close()
}

func (c *Connector) readLoop(conn Conn) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.onMessage(conn, data)
	}
}

// onMessage handles one inbound frame. Nothing in here may end the loop.
func (c *Connector) onMessage(conn Conn, data []byte) {
	if isControlFrame(data) {
		c.onControl(conn, data)
		return
	}

	updates, err := parseData(string(data))
	if err != nil {
		c.logger.Warn("Dropping malformed feed frame", zap.Error(err), zap.ByteString("frame", truncate(data, 256)))
	}
	for _, u := range updates {
		c.sink.Publish(u)
	}
}

func (c *Connector) onControl(conn Conn, data []byte) {
	var ack controlAck
	if err := json.Unmarshal(data, &ack); err != nil {
		c.logger.Warn("Unreadable control frame", zap.Error(err), zap.ByteString("frame", truncate(data, 256)))
		return
	}

	if ack.Header.TrID == trPingPong {
		c.mu.Lock()
		var err error
		if c.conn == conn {
			err = conn.WriteMessage(data)
		}
		c.mu.Unlock()
		if err != nil {
			c.logger.Debug("PINGPONG echo failed", zap.Error(err))
		}
		return
	}

	if ack.Body.RtCd != "" && ack.Body.RtCd != "0" {
		c.logger.Warn("Feed rejected control request",
			zap.String("tr_id", ack.Header.TrID),
			zap.String("tr_key", ack.Header.TrKey),
			zap.String("msg_cd", ack.Body.MsgCd),
			zap.String("msg", ack.Body.Msg1))
		if isApprovalRejection(ack.Body.Msg1) {
			c.dropCredentials(conn)
		}
		return
	}

	c.logger.Debug("Feed control ack",
		zap.String("tr_id", ack.Header.TrID),
		zap.String("tr_key", ack.Header.TrKey),
		zap.String("msg", ack.Body.Msg1))
}

func isApprovalRejection(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "approval")
}

// dropCredentials forgets a refused approval key and ends the connection;
// the next cycle fetches a fresh key and replays the subscribed set.
func (c *Connector) dropCredentials(conn Conn) {
	if inv, ok := c.creds.(KeyInvalidator); ok {
		inv.InvalidateApprovalKey()
	}
	c.mu.Lock()
	current := c.conn == conn
	c.mu.Unlock()
	if current {
		conn.Close()
	}
}

// heartbeatLoop keeps the connection warm. Write failures are only logged;
// a dead transport surfaces through the read loop.
func (c *Connector) heartbeatLoop(ctx context.Context, conn Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			var err error
			if c.conn == conn {
				err = conn.WriteMessage([]byte(heartbeatFrame))
			}
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug("Heartbeat failed", zap.Error(err))
			}
		}
	}
}

// Subscribe declares interest in symbol upstream. Repeated calls are no-ops.
// While disconnected the symbol is only recorded and goes out on the next
// connect.
func (c *Connector) Subscribe(ctx context.Context, symbol string) error {
	if c.IsSubscribed(symbol) {
		return nil
	}

	r := c.resolve(ctx, symbol)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subscribed[symbol]; ok {
		return nil
	}
	c.subscribed[symbol] = r

	if c.state != StateConnected {
		c.logger.Debug("Feed offline, subscription deferred", zap.String("symbol", symbol))
		return nil
	}
	if err := c.writeControlLocked(r, true); err != nil {
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}
	c.logger.Info("Requested upstream subscription",
		zap.String("symbol", symbol), zap.String("tr_id", r.trID), zap.String("tr_key", r.trKey))
	return nil
}

// Unsubscribe withdraws interest in symbol upstream. Unknown symbols are no-ops.
func (c *Connector) Unsubscribe(ctx context.Context, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.subscribed[symbol]
	if !ok {
		return nil
	}
	delete(c.subscribed, symbol)

	if c.state != StateConnected {
		return nil
	}
	if err := c.writeControlLocked(r, false); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", symbol, err)
	}
	c.logger.Info("Requested upstream unsubscription",
		zap.String("symbol", symbol), zap.String("tr_key", r.trKey))
	return nil
}

// resolve computes the transaction id and wire key for a symbol.
func (c *Connector) resolve(ctx context.Context, symbol string) route {
	if !IsOverseas(symbol) {
		return route{trID: TrDomesticTrade, trKey: symbol}
	}

	venue := DefaultVenue
	if c.venues != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.ControlTimeout)
		exchange, err := c.venues.Exchange(lookupCtx, symbol)
		cancel()
		if err != nil {
			c.logger.Warn("Venue lookup failed, using default",
				zap.String("symbol", symbol), zap.String("venue", DefaultVenue), zap.Error(err))
		} else {
			venue = VenueCode(exchange)
		}
	}
	return route{trID: TrOverseasTrade, trKey: venue + symbol}
}

func (c *Connector) writeControlLocked(r route, subscribe bool) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	frame, err := buildControl(c.approvalKey, c.cfg.CustomerType, r.trID, r.trKey, subscribe)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(frame)
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsSubscribed reports whether symbol is in the upstream subscribed set.
func (c *Connector) IsSubscribed(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribed[symbol]
	return ok
}

// Subscribed returns the upstream subscribed set, sorted.
func (c *Connector) Subscribed() []string {
	c.mu.Lock()
	symbols := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		symbols = append(symbols, s)
	}
	c.mu.Unlock()

	sort.Strings(symbols)
	return symbols
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
