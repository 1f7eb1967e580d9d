package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HurDong/Glance/cmd/relay/internal/hub"
	"github.com/HurDong/Glance/cmd/relay/internal/protocol"
)

// Manager owns the sessions connected to this node and keeps the registry,
// the local bus listeners, the push topics and the upstream subscriptions in
// step with them.
type Manager struct {
	cfg       Config
	feed      Feed
	registry  Registry
	bridge    Bridge
	pusher    Pusher
	watchlist WatchlistStore
	snapshots SnapshotSource
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
}

// entry is a Session plus the symbols it holds a local attach for.
// closed is set under Manager.mu once the entry leaves the session map.
type entry struct {
	Session
	symbols map[string]struct{}
	closed  bool
}

// Info is a point-in-time view of a session.
type Info struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ConnectedAt time.Time `json:"connected_at"`
	Symbols     []string  `json:"symbols"`
}

// NewManager wires a Manager. snapshots may be nil to disable snapshot pushes.
func NewManager(cfg Config, feed Feed, reg Registry, bridge Bridge, pusher Pusher,
	watchlist WatchlistStore, snapshots SnapshotSource, logger *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = def.TopicPrefix
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = def.SnapshotTimeout
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}

	return &Manager{
		cfg:       cfg,
		feed:      feed,
		registry:  reg,
		bridge:    bridge,
		pusher:    pusher,
		watchlist: watchlist,
		snapshots: snapshots,
		logger:    logger.With(zap.String("component", "session")),
		now:       time.Now,
		sessions:  make(map[string]*entry),
	}
}

// NormalizeSymbol trims and upper-cases a client supplied symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func (m *Manager) topic(symbol string) string {
	return protocol.StockTopic(m.cfg.TopicPrefix, symbol)
}

// Connect registers client as a new session of userID and attaches every
// symbol on the user's watchlist.
func (m *Manager) Connect(ctx context.Context, client hub.Client, userID string) (*Session, error) {
	e := &entry{
		Session: Session{
			ID:          client.ID(),
			UserID:      userID,
			Client:      client,
			ConnectedAt: m.now(),
		},
		symbols: make(map[string]struct{}),
	}

	m.mu.Lock()
	if _, exists := m.sessions[e.ID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s already connected", e.ID)
	}
	m.sessions[e.ID] = e
	m.mu.Unlock()

	if err := m.registry.AddUserSession(ctx, userID, e.ID); err != nil {
		m.remove(e.ID)
		return nil, err
	}

	symbols, err := m.watchlist.Symbols(ctx, userID)
	if err != nil {
		m.logger.Warn("Watchlist unavailable, session starts empty",
			zap.String("session", e.ID), zap.String("user", userID), zap.Error(err))
	}

	var attached []string
	for _, symbol := range dedupe(symbols) {
		added, err := m.attach(ctx, e, symbol)
		if errors.Is(err, ErrUnknownSession) {
			return nil, err
		}
		if err != nil {
			m.logger.Error("Attach failed",
				zap.String("session", e.ID), zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if added {
			attached = append(attached, symbol)
		}
	}
	m.pushSnapshots(ctx, e, attached)

	m.logger.Info("Session connected",
		zap.String("session", e.ID), zap.String("user", userID), zap.Strings("symbols", attached))

	s := e.Session
	return &s, nil
}

// Disconnect detaches every symbol of the session and deletes its state.
// When the session's symbols cannot be read the session is kept as it was
// and the error returned; later failures still release local listeners.
func (m *Manager) Disconnect(ctx context.Context, sessionID string) error {
	e := m.remove(sessionID)
	if e == nil {
		return ErrUnknownSession
	}

	symbols, err := m.registry.SessionSymbols(ctx, sessionID)
	if err != nil {
		// Nothing has been released yet; keep the session so a later
		// Disconnect (or DisconnectAll on shutdown) can finish the job.
		m.restore(e)
		m.logger.Error("Session cleanup deferred", zap.String("session", sessionID), zap.Error(err))
		return err
	}

	var errs []error
	for _, symbol := range symbols {
		tr, err := m.registry.DetachSession(ctx, sessionID, symbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if tr.Edge {
			m.unsubscribeUpstream(ctx, symbol)
		}
	}

	m.mu.Lock()
	held := e.heldSymbols()
	e.symbols = make(map[string]struct{})
	m.mu.Unlock()
	for _, symbol := range held {
		m.releaseLocal(ctx, symbol)
	}
	m.pusher.LeaveAll(e.Client)

	if err := m.registry.DeleteSession(ctx, sessionID); err != nil {
		errs = append(errs, err)
	}
	if err := m.registry.RemoveUserSession(ctx, e.UserID, sessionID); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		m.logger.Error("Session cleanup incomplete", zap.String("session", sessionID), zap.Error(err))
		return err
	}
	m.logger.Info("Session disconnected",
		zap.String("session", sessionID), zap.String("user", e.UserID), zap.Int("symbols", len(symbols)))
	return nil
}

// DisconnectAll releases every local session, used on shutdown.
func (m *Manager) DisconnectAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Disconnect(ctx, id)
	}
}

// Subscribe attaches symbol to a session on explicit client request.
// It reports false when the session already held the symbol.
func (m *Manager) Subscribe(ctx context.Context, sessionID, symbol string) (bool, error) {
	e := m.get(sessionID)
	if e == nil {
		return false, ErrUnknownSession
	}
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return false, ErrInvalidSymbol
	}
	added, err := m.attach(ctx, e, symbol)
	if err != nil || !added {
		return added, err
	}
	m.pushSnapshots(ctx, e, []string{symbol})
	return true, nil
}

// Unsubscribe detaches symbol from a session on explicit client request.
// It reports false when the session did not hold the symbol.
func (m *Manager) Unsubscribe(ctx context.Context, sessionID, symbol string) (bool, error) {
	e := m.get(sessionID)
	if e == nil {
		return false, ErrUnknownSession
	}
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return false, ErrInvalidSymbol
	}
	return m.detach(ctx, e, symbol)
}

// attach runs the connect-time steps for one symbol: local listener,
// registry, upstream on the first subscriber, push topic.
func (m *Manager) attach(ctx context.Context, e *entry, symbol string) (bool, error) {
	if err := m.bridge.AttachLocal(ctx, symbol); err != nil {
		return false, err
	}

	tr, err := m.registry.AttachSession(ctx, e.ID, symbol)
	if err != nil {
		m.releaseLocal(ctx, symbol)
		return false, err
	}

	if tr.Edge {
		if err := m.feed.Subscribe(ctx, symbol); err != nil {
			// The connector keeps the symbol and replays it on reconnect.
			m.logger.Warn("Upstream subscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	m.mu.Lock()
	if e.closed {
		m.mu.Unlock()
		m.abandonAttach(ctx, e, symbol)
		return false, ErrUnknownSession
	}
	_, held := e.symbols[symbol]
	if !held {
		e.symbols[symbol] = struct{}{}
		// Joined under m.mu so a concurrent Disconnect's LeaveAll sees it.
		m.pusher.Join(m.topic(symbol), e.Client)
	}
	m.mu.Unlock()

	if held {
		m.releaseLocal(ctx, symbol)
		return false, nil
	}
	return true, nil
}

// abandonAttach undoes an attach that lost the race with Disconnect. The
// session set may already be gone, in which case the detach changes nothing.
func (m *Manager) abandonAttach(ctx context.Context, e *entry, symbol string) {
	tr, err := m.registry.DetachSession(ctx, e.ID, symbol)
	if err != nil {
		m.logger.Error("Rollback of late attach failed",
			zap.String("session", e.ID), zap.String("symbol", symbol), zap.Error(err))
	} else if tr.Edge {
		m.unsubscribeUpstream(ctx, symbol)
	}
	m.releaseLocal(ctx, symbol)
}

func (m *Manager) releaseLocal(ctx context.Context, symbol string) {
	if err := m.bridge.DetachLocal(ctx, symbol); err != nil {
		m.logger.Warn("Detach local listener failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

// detach runs the disconnect-time steps for one symbol. A registry failure
// leaves local state untouched.
func (m *Manager) detach(ctx context.Context, e *entry, symbol string) (bool, error) {
	tr, err := m.registry.DetachSession(ctx, e.ID, symbol)
	if err != nil {
		return false, err
	}
	if tr.Edge {
		m.unsubscribeUpstream(ctx, symbol)
	}

	m.mu.Lock()
	_, held := e.symbols[symbol]
	delete(e.symbols, symbol)
	m.mu.Unlock()

	if held {
		m.pusher.Leave(m.topic(symbol), e.Client)
		m.releaseLocal(ctx, symbol)
	}
	return tr.Changed || held, nil
}

func (m *Manager) unsubscribeUpstream(ctx context.Context, symbol string) {
	if err := m.feed.Unsubscribe(ctx, symbol); err != nil {
		m.logger.Warn("Upstream unsubscribe failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

func (m *Manager) pushSnapshots(ctx context.Context, e *entry, symbols []string) {
	if m.snapshots == nil {
		return
	}
	for _, symbol := range symbols {
		sctx, cancel := context.WithTimeout(ctx, m.cfg.SnapshotTimeout)
		snap, err := m.snapshots.Snapshot(sctx, symbol)
		cancel()
		if err != nil {
			m.logger.Debug("Snapshot unavailable", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		m.pusher.Send(e.Client, m.topic(symbol), snap)
	}
}

func (m *Manager) get(sessionID string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

func (m *Manager) remove(sessionID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.sessions[sessionID]
	if e != nil {
		e.closed = true
		delete(m.sessions, sessionID)
	}
	return e
}

func (m *Manager) restore(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.closed = false
	m.sessions[e.ID] = e
}

// heldSymbols expects m.mu to be held.
func (e *entry) heldSymbols() []string {
	out := make([]string, 0, len(e.symbols))
	for s := range e.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Sessions returns the number of sessions connected to this node.
func (m *Manager) Sessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Lookup returns a view of a local session.
func (m *Manager) Lookup(sessionID string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.sessions[sessionID]
	if !ok {
		return Info{}, false
	}
	return Info{
		ID:          e.ID,
		UserID:      e.UserID,
		ConnectedAt: e.ConnectedAt,
		Symbols:     e.heldSymbols(),
	}, true
}

// localSessionsOf filters ids down to the sessions this node owns.
func (m *Manager) localSessionsOf(ids []string) []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*entry
	for _, id := range ids {
		if e, ok := m.sessions[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = NormalizeSymbol(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
