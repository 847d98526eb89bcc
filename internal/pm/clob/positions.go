package clob

import (
	"context"
	"fmt"
	"net/url"
)

// PositionEntry is one holding row from the data API, keyed by outcome
// token.
type PositionEntry struct {
	TokenID  string  `json:"asset"`
	Outcome  string  `json:"outcome"`
	Size     float64 `json:"size"`
	AvgPrice float64 `json:"avgPrice"`
	CurPrice float64 `json:"curPrice"`
}

// Positions returns the user's holdings for one market (by condition id).
func (c *Client) Positions(ctx context.Context, user, conditionID string) ([]PositionEntry, error) {
	query := url.Values{
		"user":   {user},
		"market": {conditionID},
	}
	var entries []PositionEntry
	if err := c.getJSON(ctx, c.cfg.DataAPIURL, "/positions", query, &entries); err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	return entries, nil
}
