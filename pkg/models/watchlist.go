package models

import "time"

const (
	WatchlistAdded   = "added"
	WatchlistRemoved = "removed"
)

// WatchlistEvent announces that a user added or removed a watched symbol.
type WatchlistEvent struct {
	Type   string    `json:"type"`
	UserID string    `json:"user_id"`
	Symbol string    `json:"symbol"`
	Market string    `json:"market,omitempty"`
	At     time.Time `json:"at"`
}
