package events

import (
	"pm-arb-worker/internal/book"
	"pm-arb-worker/internal/position"
)

// Info describes the resolved market a task is watching.
type Info struct {
	TaskID      string `json:"task_id"`
	MarketSlug  string `json:"market_slug"`
	ConditionID string `json:"condition_id"`
	Question    string `json:"question,omitempty"`
	YesTokenID  string `json:"yes_token_id"`
	NoTokenID   string `json:"no_token_id"`
}

// BookState carries the latest market snapshot.
type BookState struct {
	TaskID    string        `json:"task_id"`
	Snapshot  book.Snapshot `json:"snapshot"`
	Timestamp int64         `json:"timestamp_ms"`
}

// Signal reports one strategy evaluation with its execution outcome.
type Signal struct {
	TaskID   string         `json:"task_id"`
	Strategy string         `json:"strategy"`
	Kind     string         `json:"kind"`
	Reason   string         `json:"reason,omitempty"`
	YesSize  float64        `json:"yes_size,omitempty"`
	NoSize   float64        `json:"no_size,omitempty"`
	YesPrice float64        `json:"yes_price,omitempty"`
	NoPrice  float64        `json:"no_price,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Records  []OrderRecord  `json:"records,omitempty"`
}

// OrderRecord is one per-leg execution outcome.
type OrderRecord struct {
	Outcome string  `json:"outcome"`
	Side    string  `json:"side"`
	Size    float64 `json:"size"`
	Price   float64 `json:"price"`
	Status  string  `json:"status"`
	OrderID string  `json:"order_id,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// OutcomeStats accumulates auto-trade activity for one outcome token.
type OutcomeStats struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// AutoBuyState is the per-task auto-buy rule state plus cumulative stats.
type AutoBuyState struct {
	TaskID   string                  `json:"task_id"`
	Enabled  bool                    `json:"enabled"`
	InFlight bool                    `json:"in_flight"`
	Rules    map[string]any          `json:"rules,omitempty"`
	Stats    map[string]OutcomeStats `json:"stats"`
}

// PositionState is the per-task holdings snapshot.
type PositionState struct {
	TaskID   string            `json:"task_id"`
	Position position.Snapshot `json:"position"`
	NetCost  float64           `json:"net_cost"`
}

// TaskStatus announces a lifecycle transition.
type TaskStatus struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp_ms"`
}

// TaskEnd is published exactly once when a task leaves the running set.
type TaskEnd struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}
