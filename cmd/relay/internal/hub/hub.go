package hub

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/HurDong/Glance/cmd/relay/internal/protocol"
	"github.com/HurDong/Glance/pkg/models"
)

type Client interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// Hub is the node-local push transport: topic -> connected clients.
type Hub struct {
	subscribers map[string]map[Client]bool
	clientSubs  map[Client]map[string]bool

	logger *zap.Logger
	mu     sync.RWMutex
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[Client]bool),
		clientSubs:  make(map[Client]map[string]bool),
		logger:      logger,
	}
}

// Join adds client to topic. Returns false if it was already a member.
func (h *Hub) Join(topic string, client Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clientSubs[client][topic] {
		return false
	}
	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}
	h.clientSubs[client][topic] = true

	if h.subscribers[topic] == nil {
		h.subscribers[topic] = make(map[Client]bool)
	}
	h.subscribers[topic][client] = true
	return true
}

// Leave removes client from topic. Returns false if it was not a member.
func (h *Hub) Leave(topic string, client Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(topic, client)
}

// LeaveAll removes client from every topic and returns what it left.
func (h *Hub) LeaveAll(client Client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var left []string
	for topic := range h.clientSubs[client] {
		left = append(left, topic)
	}
	for _, topic := range left {
		h.leaveLocked(topic, client)
	}
	delete(h.clientSubs, client)
	sort.Strings(left)
	return left
}

func (h *Hub) leaveLocked(topic string, client Client) bool {
	subs, ok := h.clientSubs[client]
	if !ok || !subs[topic] {
		return false
	}
	delete(subs, topic)
	if len(subs) == 0 {
		delete(h.clientSubs, client)
	}

	delete(h.subscribers[topic], client)
	if len(h.subscribers[topic]) == 0 {
		delete(h.subscribers, topic)
	}
	return true
}

// Publish fans one update out to every member of topic.
func (h *Hub) Publish(topic string, update models.PriceUpdate) {
	h.broadcast(topic, protocol.WSResponse{Type: protocol.TypeTicker, Topic: topic, Data: update})
}

// Send pushes a snapshot to a single client, outside of any topic fan-out.
func (h *Hub) Send(client Client, topic string, update models.PriceUpdate) {
	client.SendJSON(protocol.WSResponse{Type: protocol.TypeSnapshot, Topic: topic, Data: update})
}

func (h *Hub) broadcast(topic string, msg protocol.WSResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.subscribers[topic]
	if !ok {
		return
	}

	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode push message", zap.String("topic", topic), zap.Error(err))
		return
	}
	for client := range clients {
		client.SendBytes(b)
	}
}

// Topics returns the topics with at least one member.
func (h *Hub) Topics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	topics := make([]string, 0, len(h.subscribers))
	for t := range h.subscribers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (h *Hub) Members(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}
