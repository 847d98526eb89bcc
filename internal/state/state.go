// Package state defines the local order journal used to make order
// submission idempotent across worker restarts.
package state

import "context"

// OrderEntry is one submitted or simulated order leg keyed by its client
// order id.
type OrderEntry struct {
	ClientID  string
	TaskID    string
	TokenID   string
	Side      string
	Size      float64
	Price     float64
	Status    string
	CreatedMS int64
}

// Journal records order legs exactly once. Record reports false when the
// client id was already journaled, which callers treat as a duplicate.
type Journal interface {
	Record(ctx context.Context, entry OrderEntry) (bool, error)
	UpdateStatus(ctx context.Context, clientID, status string) error
	Get(ctx context.Context, clientID string) (OrderEntry, bool, error)
	Close() error
}
