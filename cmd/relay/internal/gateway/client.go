package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/HurDong/Glance/cmd/relay/internal/hub"
	"github.com/HurDong/Glance/cmd/relay/internal/protocol"
)

// Handler serves a client's socket commands and its departure.
type Handler interface {
	HandleCommand(ctx context.Context, sessionID string, req protocol.WSRequest) protocol.WSResponse
	Disconnect(ctx context.Context, sessionID string) error
}

type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	SendBuffer     int
	MaxMessageSize int64
	// OpTimeout bounds each command and the cleanup after the socket closes.
	OpTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		WriteWait:      5 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     50 * time.Second,
		SendBuffer:     256,
		MaxMessageSize: 512 * 1024,
		OpTimeout:      10 * time.Second,
	}
}

var _ hub.Client = (*ClientAdapter)(nil)

// ClientAdapter pumps one downstream WebSocket: commands in, pushes out.
type ClientAdapter struct {
	id      string
	conn    net.Conn
	handler Handler
	opts    Options
	logger  *zap.Logger

	send   chan []byte
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewClient(conn net.Conn, id string, handler Handler, opts Options, logger *zap.Logger) *ClientAdapter {
	def := DefaultOptions()
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = def.OpTimeout
	}
	return &ClientAdapter{
		id:      id,
		conn:    conn,
		handler: handler,
		opts:    opts,
		logger:  logger.With(zap.String("session", id)),
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
	}
}

// StartWriter launches the write pump. Pushes queued before it runs are kept.
func (c *ClientAdapter) StartWriter() { go c.writePump() }

// StartReader launches the read pump. Call it once the session is
// registered so early commands find it.
func (c *ClientAdapter) StartReader() { go c.readPump() }

// Done is closed when the read pump has finished and cleanup has run.
func (c *ClientAdapter) Done() <-chan struct{} { return c.done }

func (c *ClientAdapter) ID() string { return c.id }

// Close stops the write pump, which sends a close frame and drops the conn.
func (c *ClientAdapter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *ClientAdapter) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Marshal push failed", zap.Error(err))
		return
	}
	c.SendBytes(b)
}

func (c *ClientAdapter) SendBytes(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		// Drop message if buffer full (Backpressure)
		c.logger.Debug("Send buffer full, dropping push")
	}
}

func (c *ClientAdapter) readPump() {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.OpTimeout)
		err := c.handler.Disconnect(ctx, c.id)
		cancel()
		if err != nil {
			c.logger.Debug("Disconnect after read pump", zap.Error(err))
		}
		c.Close()
		c.conn.Close()
		close(c.done)
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("Read header failed", zap.Error(err))
			}
			return
		}

		if header.Length > c.opts.MaxMessageSize {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			return
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		// Any frame proves the peer is alive.
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpText:
			c.handleText(payload)
		}
	}
}

func (c *ClientAdapter) handleText(payload []byte) {
	var req protocol.WSRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendJSON(protocol.Error("", "Invalid JSON"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.OpTimeout)
	defer cancel()
	c.SendJSON(c.handler.HandleCommand(ctx, c.id, req))
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
