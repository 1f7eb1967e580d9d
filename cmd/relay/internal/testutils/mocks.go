package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/HurDong/Glance/cmd/relay/internal/protocol"
	"github.com/HurDong/Glance/pkg/models"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal  string
	raw    [][]byte
	closed bool
	mu     sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockClient) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	m.SendBytes(b)
}

func (m *MockClient) SendBytes(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = append(m.raw, append([]byte(nil), b...))
}

// Messages decodes everything the client has been sent so far.
func (m *MockClient) Messages() []protocol.WSResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]protocol.WSResponse, 0, len(m.raw))
	for _, b := range m.raw {
		var resp protocol.WSResponse
		if err := json.Unmarshal(b, &resp); err == nil {
			out = append(out, resp)
		}
	}
	return out
}

func (m *MockClient) LastMsgType() string {
	msgs := m.Messages()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Type
}

// Updates returns the price payloads of every message of the given type.
func (m *MockClient) Updates(msgType string) []models.PriceUpdate {
	var out []models.PriceUpdate
	for _, msg := range m.Messages() {
		if msg.Type != msgType {
			continue
		}
		b, _ := json.Marshal(msg.Data)
		var u models.PriceUpdate
		if json.Unmarshal(b, &u) == nil {
			out = append(out, u)
		}
	}
	return out
}

// MockFeed records upstream subscribe/unsubscribe triggers
type MockFeed struct {
	Subscribes   []string
	Unsubscribes []string
	Err          error
	Mu           sync.Mutex
}

func (f *MockFeed) Subscribe(ctx context.Context, symbol string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Subscribes = append(f.Subscribes, symbol)
	return f.Err
}

func (f *MockFeed) Unsubscribe(ctx context.Context, symbol string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Unsubscribes = append(f.Unsubscribes, symbol)
	return f.Err
}

func (f *MockFeed) Counts() (subs, unsubs int) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	return len(f.Subscribes), len(f.Unsubscribes)
}

// MockBridge keeps local listener counts in memory
type MockBridge struct {
	Counts    map[string]int
	AttachErr error
	Mu        sync.Mutex
}

func NewMockBridge() *MockBridge {
	return &MockBridge{Counts: make(map[string]int)}
}

func (b *MockBridge) AttachLocal(ctx context.Context, symbol string) error {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	if b.AttachErr != nil {
		return b.AttachErr
	}
	b.Counts[symbol]++
	return nil
}

func (b *MockBridge) DetachLocal(ctx context.Context, symbol string) error {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	if b.Counts[symbol] <= 1 {
		delete(b.Counts, symbol)
		return nil
	}
	b.Counts[symbol]--
	return nil
}

func (b *MockBridge) Count(symbol string) int {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	return b.Counts[symbol]
}

// MockWatchlist serves and mutates per-user symbol lists
type MockWatchlist struct {
	Lists map[string][]string
	Err   error
	Mu    sync.Mutex
}

func (w *MockWatchlist) Symbols(ctx context.Context, userID string) ([]string, error) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	return append([]string(nil), w.Lists[userID]...), nil
}

func (w *MockWatchlist) Add(ctx context.Context, userID, symbol, market string) (bool, error) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	if w.Err != nil {
		return false, w.Err
	}
	for _, s := range w.Lists[userID] {
		if s == symbol {
			return false, nil
		}
	}
	w.Lists[userID] = append(w.Lists[userID], symbol)
	return true, nil
}

func (w *MockWatchlist) Remove(ctx context.Context, userID, symbol string) (bool, error) {
	w.Mu.Lock()
	defer w.Mu.Unlock()
	if w.Err != nil {
		return false, w.Err
	}
	list := w.Lists[userID]
	for i, s := range list {
		if s == symbol {
			w.Lists[userID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// MockSnapshots serves canned snapshot prices; symbols listed in Fail error out
type MockSnapshots struct {
	Prices map[string]models.PriceUpdate
	Fail   map[string]bool
}

var ErrNoSnapshot = errors.New("no snapshot")

func (s *MockSnapshots) Snapshot(ctx context.Context, symbol string) (models.PriceUpdate, error) {
	if s.Fail[symbol] {
		return models.PriceUpdate{}, ErrNoSnapshot
	}
	u, ok := s.Prices[symbol]
	if !ok {
		return models.PriceUpdate{}, ErrNoSnapshot
	}
	return u, nil
}
