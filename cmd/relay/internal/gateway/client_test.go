package gateway_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gorilla/websocket" // Using Gorilla for the test CLIENT
	"go.uber.org/zap"

	"github.com/HurDong/Glance/cmd/relay/internal/gateway"
	"github.com/HurDong/Glance/cmd/relay/internal/protocol"
)

type stubHandler struct {
	mu           sync.Mutex
	commands     []protocol.WSRequest
	disconnected []string
}

func (h *stubHandler) HandleCommand(ctx context.Context, sessionID string, req protocol.WSRequest) protocol.WSResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, req)
	return protocol.Ack(req.ID, "ok "+sessionID, req.Payload.Symbols)
}

func (h *stubHandler) Disconnect(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, sessionID)
	return nil
}

func (h *stubHandler) Disconnected() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.disconnected...)
}

func startServer(t *testing.T, h *stubHandler, clients chan<- *gateway.ClientAdapter) *httptest.Server {
	opts := gateway.DefaultOptions()
	opts.MaxMessageSize = 1024

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		client := gateway.NewClient(conn, "s1", h, opts, zap.NewNop())
		client.StartWriter()
		client.SendJSON(protocol.WSResponse{Type: protocol.TypeWelcome, Data: client.ID()})
		client.StartReader()
		if clients != nil {
			clients <- client
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func connectWS(t *testing.T, serverURL string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(serverURL, "http")
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to websocket: %v", err)
	}
	t.Cleanup(func() { wsConn.Close() })
	wsConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return wsConn
}

func TestClient_CommandRoundTrip(t *testing.T) {
	h := &stubHandler{}
	wsConn := connectWS(t, startServer(t, h, nil).URL)

	_, msg, err := wsConn.ReadMessage()
	if err != nil || !strings.Contains(string(msg), protocol.TypeWelcome) {
		t.Fatalf("expected welcome, got %s %v", msg, err)
	}

	wsConn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","payload":{"symbols":["AAPL"]},"id":"t1"}`))
	_, msg, err = wsConn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(msg), `"id":"t1"`) || !strings.Contains(string(msg), "ok s1") {
		t.Errorf("unexpected ack %s", msg)
	}
}

func TestClient_InvalidJSON(t *testing.T) {
	wsConn := connectWS(t, startServer(t, &stubHandler{}, nil).URL)
	wsConn.ReadMessage() // welcome

	wsConn.WriteMessage(websocket.TextMessage, []byte(`{ "action": "subsc`))
	_, msg, _ := wsConn.ReadMessage()
	if !strings.Contains(string(msg), "Invalid JSON") {
		t.Errorf("Expected error message for bad JSON, got: %s", msg)
	}
}

func TestClient_DisconnectOnClose(t *testing.T) {
	h := &stubHandler{}
	clients := make(chan *gateway.ClientAdapter, 1)
	wsConn := connectWS(t, startServer(t, h, clients).URL)
	client := <-clients

	wsConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read pump did not finish")
	}
	if d := h.Disconnected(); len(d) != 1 || d[0] != "s1" {
		t.Errorf("expected one disconnect for s1, got %v", d)
	}

	// Pushes after close are dropped silently.
	client.SendBytes([]byte("late"))
	client.Close()
}

func TestClient_MaxMessageSize(t *testing.T) {
	h := &stubHandler{}
	clients := make(chan *gateway.ClientAdapter, 1)
	wsConn := connectWS(t, startServer(t, h, clients).URL)
	client := <-clients
	wsConn.ReadMessage() // welcome

	huge := fmt.Sprintf(`{"action":"subscribe","payload":{"symbols":["%s"]}}`, strings.Repeat("a", 2048))
	wsConn.WriteMessage(websocket.TextMessage, []byte(huge))

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("oversized message should drop the connection")
	}
	if len(h.Disconnected()) != 1 {
		t.Error("session should be cleaned up")
	}
}

func TestClient_ServerClose(t *testing.T) {
	clients := make(chan *gateway.ClientAdapter, 1)
	wsConn := connectWS(t, startServer(t, &stubHandler{}, clients).URL)
	client := <-clients
	wsConn.ReadMessage() // welcome

	client.Close()
	client.Close()

	if _, _, err := wsConn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed by the server")
	}
}
