package feedsim

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Config struct {
	Interval         time.Duration
	PingPongInterval time.Duration
	WriteWait        time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:         500 * time.Millisecond,
		PingPongInterval: 30 * time.Second,
		WriteWait:        5 * time.Second,
	}
}

// Simulator is a stand-in for the upstream streaming endpoint: it accepts
// subscribe/unsubscribe control frames, acknowledges them, and streams ticks
// for whatever each connection subscribed to.
type Simulator struct {
	cfg      Config
	gen      *PriceGenerator
	hours    MarketHours
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*simConn]struct{}
}

func NewSimulator(cfg Config, gen *PriceGenerator, hours MarketHours, logger *zap.Logger) *Simulator {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.PingPongInterval <= 0 {
		cfg.PingPongInterval = def.PingPongInterval
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if hours == nil {
		hours = AlwaysOpen{}
	}
	return &Simulator{
		cfg:    cfg,
		gen:    gen,
		hours:  hours,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*simConn]struct{}),
	}
}

type simConn struct {
	ws *websocket.Conn
	// writes and subscriptions share one lock
	mu   sync.Mutex
	subs map[string]string // tr_key -> tr_id
}

func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}

	c := &simConn{ws: ws, subs: make(map[string]string)}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("Relay connected", zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go s.tickLoop(c, done)

	s.readLoop(c)
	close(done)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	ws.Close()
	s.logger.Info("Relay disconnected", zap.String("remote", r.RemoteAddr))
}

func (s *Simulator) readLoop(c *simConn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if string(data) == "PING" {
			continue
		}

		var req controlRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Debug("Ignoring unreadable frame", zap.ByteString("frame", data))
			continue
		}
		if req.Header.TrID == TrPingPong {
			continue
		}
		s.handleControl(c, req)
	}
}

// handleControl applies a control frame and acknowledges it under the
// connection lock, so no tick for a new key can overtake its ack.
func (s *Simulator) handleControl(c *simConn, req controlRequest) {
	trID, trKey := req.Body.Input.TrID, req.Body.Input.TrKey
	reply := ack{Header: ackHeader{TrID: trID, TrKey: trKey, Encrypt: "N"}}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case req.Header.ApprovalKey == "":
		reply.Body = &ackBody{RtCd: "1", MsgCd: "OPSP8996", Msg1: "invalid approval : NOT FOUND"}
	case trID != TrDomesticTrade && trID != TrOverseasTrade && trID != TrOverseasQuote:
		reply.Body = &ackBody{RtCd: "1", MsgCd: "OPSP0007", Msg1: "invalid tr_id"}
	case req.Header.TrType == "1":
		c.subs[trKey] = trID
		reply.Body = &ackBody{RtCd: "0", MsgCd: "OPSP0000", Msg1: "SUBSCRIBE SUCCESS"}
	case req.Header.TrType == "2":
		delete(c.subs, trKey)
		reply.Body = &ackBody{RtCd: "0", MsgCd: "OPSP0001", Msg1: "UNSUBSCRIBE SUCCESS"}
	default:
		reply.Body = &ackBody{RtCd: "1", MsgCd: "OPSP0008", Msg1: "invalid tr_type"}
	}

	s.logger.Debug("Control frame", zap.String("tr_id", trID), zap.String("tr_key", trKey),
		zap.String("tr_type", req.Header.TrType), zap.String("result", reply.Body.Msg1))

	b, err := json.Marshal(reply)
	if err != nil {
		return
	}
	s.writeLocked(c, b)
}

func (s *Simulator) tickLoop(c *simConn, done <-chan struct{}) {
	ticks := time.NewTicker(s.cfg.Interval)
	pings := time.NewTicker(s.cfg.PingPongInterval)
	defer ticks.Stop()
	defer pings.Stop()

	for {
		select {
		case <-done:
			return
		case <-pings.C:
			s.writeJSON(c, ack{Header: ackHeader{TrID: TrPingPong, Datetime: s.gen.clock.Now().Format("20060102150405")}})
		case <-ticks.C:
			s.emit(c)
		}
	}
}

func (s *Simulator) emit(c *simConn) {
	c.mu.Lock()
	subs := make(map[string]string, len(c.subs))
	for k, v := range c.subs {
		subs[k] = v
	}
	c.mu.Unlock()

	keys := make([]string, 0, len(subs))
	for k := range subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := s.gen.clock.Now()
	for _, key := range keys {
		if !s.hours.IsOpen(key, now) {
			continue
		}
		frame := s.gen.Frame(subs[key], key)
		if err := s.write(c, []byte(frame)); err != nil {
			return
		}
	}
}

func (s *Simulator) writeJSON(c *simConn, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.write(c, b)
}

func (s *Simulator) write(c *simConn, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.writeLocked(c, b)
}

func (s *Simulator) writeLocked(c *simConn, b []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Connections reports how many relays are attached.
func (s *Simulator) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
