package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/HurDong/Glance/cmd/relay/internal/protocol"
)

// HandleCommand serves a request sent by the client over its socket.
func (m *Manager) HandleCommand(ctx context.Context, sessionID string, req protocol.WSRequest) protocol.WSResponse {
	switch req.Action {
	case protocol.ActionSubscribe:
		return m.handleSubscribe(ctx, sessionID, req)
	case protocol.ActionUnsubscribe:
		return m.handleUnsubscribe(ctx, sessionID, req)
	case protocol.ActionUnsubscribeAll:
		return m.handleUnsubscribeAll(ctx, sessionID, req)
	default:
		return protocol.Error(req.ID, "Unknown action: "+req.Action)
	}
}

func (m *Manager) handleSubscribe(ctx context.Context, sessionID string, req protocol.WSRequest) protocol.WSResponse {
	var added []string
	for _, s := range dedupe(req.Payload.Symbols) {
		ok, err := m.Subscribe(ctx, sessionID, s)
		if errors.Is(err, ErrUnknownSession) {
			return protocol.Error(req.ID, "Session not found")
		}
		if err != nil {
			m.logger.Warn("Subscribe failed", zap.String("session", sessionID), zap.String("symbol", s), zap.Error(err))
			continue
		}
		if ok {
			added = append(added, s)
		}
	}

	if len(added) == 0 {
		return protocol.Error(req.ID, "No valid/new symbols provided")
	}
	return protocol.Ack(req.ID, fmt.Sprintf("Subscribed to %v", added), added)
}

func (m *Manager) handleUnsubscribe(ctx context.Context, sessionID string, req protocol.WSRequest) protocol.WSResponse {
	var removed []string
	for _, s := range dedupe(req.Payload.Symbols) {
		ok, err := m.Unsubscribe(ctx, sessionID, s)
		if errors.Is(err, ErrUnknownSession) {
			return protocol.Error(req.ID, "Session not found")
		}
		if err != nil {
			m.logger.Warn("Unsubscribe failed", zap.String("session", sessionID), zap.String("symbol", s), zap.Error(err))
			continue
		}
		if ok {
			removed = append(removed, s)
		}
	}

	if len(removed) == 0 {
		return protocol.Error(req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Symbols))
	}
	return protocol.Ack(req.ID, fmt.Sprintf("Unsubscribed from %v", removed), removed)
}

func (m *Manager) handleUnsubscribeAll(ctx context.Context, sessionID string, req protocol.WSRequest) protocol.WSResponse {
	info, ok := m.Lookup(sessionID)
	if !ok {
		return protocol.Error(req.ID, "Session not found")
	}

	for _, s := range info.Symbols {
		if _, err := m.Unsubscribe(ctx, sessionID, s); err != nil {
			m.logger.Warn("Unsubscribe failed", zap.String("session", sessionID), zap.String("symbol", s), zap.Error(err))
		}
	}
	return protocol.Ack(req.ID, "Unsubscribed from all symbols", nil)
}
