package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/HurDong/Glance/pkg/models"
)

// WatchlistAdded makes symbol live for every session of userID owned by this
// node. It returns the number of sessions that gained the symbol.
func (m *Manager) WatchlistAdded(ctx context.Context, userID, symbol string) (int, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return 0, ErrInvalidSymbol
	}

	sessions, err := m.userSessions(ctx, userID)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, e := range sessions {
		added, err := m.attach(ctx, e, symbol)
		if err != nil {
			m.logger.Error("Watchlist attach failed",
				zap.String("session", e.ID), zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if added {
			applied++
			m.pushSnapshots(ctx, e, []string{symbol})
		}
	}
	return applied, nil
}

// WatchlistRemoved stops symbol for every session of userID owned by this
// node. It returns the number of sessions that dropped the symbol.
func (m *Manager) WatchlistRemoved(ctx context.Context, userID, symbol string) (int, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return 0, ErrInvalidSymbol
	}

	sessions, err := m.userSessions(ctx, userID)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, e := range sessions {
		removed, err := m.detach(ctx, e, symbol)
		if err != nil {
			m.logger.Error("Watchlist detach failed",
				zap.String("session", e.ID), zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if removed {
			applied++
		}
	}
	return applied, nil
}

// HandleEvent applies one watchlist change notification.
func (m *Manager) HandleEvent(ctx context.Context, ev models.WatchlistEvent) error {
	var (
		n   int
		err error
	)
	switch ev.Type {
	case models.WatchlistAdded:
		n, err = m.WatchlistAdded(ctx, ev.UserID, ev.Symbol)
	case models.WatchlistRemoved:
		n, err = m.WatchlistRemoved(ctx, ev.UserID, ev.Symbol)
	default:
		return fmt.Errorf("unknown watchlist event type %q", ev.Type)
	}
	if err != nil {
		return err
	}

	if n > 0 {
		m.logger.Info("Applied watchlist change",
			zap.String("type", ev.Type), zap.String("user", ev.UserID),
			zap.String("symbol", ev.Symbol), zap.Int("sessions", n))
	}
	return nil
}

// userSessions resolves the user's sessions through the registry and keeps
// the ones connected here; other nodes apply the change to their own.
func (m *Manager) userSessions(ctx context.Context, userID string) ([]*entry, error) {
	ids, err := m.registry.UserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.localSessionsOf(ids), nil
}
