package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/HurDong/Glance/cmd/relay/internal/events"
	"github.com/HurDong/Glance/pkg/models"
)

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }

// MockKafkaReader replays queued messages, then blocks until ctx ends.
type MockKafkaReader struct {
	Queue  chan kafka.Message
	Closed bool
}

func NewMockKafkaReader(msgs ...kafka.Message) *MockKafkaReader {
	q := make(chan kafka.Message, len(msgs)+16)
	for _, m := range msgs {
		q <- m
	}
	return &MockKafkaReader{Queue: q}
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-m.Queue:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (m *MockKafkaReader) Close() error {
	m.Closed = true
	return nil
}

// MockEventHandler records every event it is handed.
type MockEventHandler struct {
	Events []models.WatchlistEvent
	Err    error
	Mu     sync.Mutex
}

func (h *MockEventHandler) HandleEvent(ctx context.Context, evt models.WatchlistEvent) error {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	h.Events = append(h.Events, evt)
	return h.Err
}

func (h *MockEventHandler) Count() int {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	return len(h.Events)
}

type MockClock struct {
	Slept time.Duration
}

func (m *MockClock) Sleep(d time.Duration) { m.Slept += d }

type MockKafkaConn struct {
	CreatedTopics []kafka.TopicConfig
	Partitions    int
}

func (m *MockKafkaConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}
func (m *MockKafkaConn) Close() error { return nil }
func (m *MockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	m.CreatedTopics = append(m.CreatedTopics, topics...)
	return nil
}
func (m *MockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	parts := make([]kafka.Partition, m.Partitions)
	for i := range parts {
		parts[i] = kafka.Partition{Topic: topics[0], ID: i}
	}
	return parts, nil
}

type MockKafkaDialer struct {
	ConnSpy *MockKafkaConn
	Dialed  []string
	Fail    bool
}

func (m *MockKafkaDialer) DialContext(ctx context.Context, network, address string) (events.KafkaConn, error) {
	m.Dialed = append(m.Dialed, address)
	if m.Fail {
		return nil, errors.New("connection refused")
	}
	if m.ConnSpy == nil {
		m.ConnSpy = &MockKafkaConn{Partitions: 1}
	}
	return m.ConnSpy, nil
}
