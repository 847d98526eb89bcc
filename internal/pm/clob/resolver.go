package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Market is a resolved two-outcome market: the condition id plus the YES
// and NO outcome token ids used for subscriptions and orders.
type Market struct {
	Slug        string
	ConditionID string
	Question    string
	YesTokenID  string
	NoTokenID   string
}

// gammaMarket mirrors the gamma API response. Outcomes and token ids come
// back as JSON-encoded string arrays inside string fields.
type gammaMarket struct {
	ConditionID  string `json:"conditionId"`
	Question     string `json:"question"`
	Slug         string `json:"slug"`
	Outcomes     string `json:"outcomes"`
	ClobTokenIDs string `json:"clobTokenIds"`
}

// SlugFromURL extracts the market slug from a full market URL or returns
// the input unchanged when it is already a bare slug.
func SlugFromURL(raw string) string {
	s := strings.TrimSuffix(raw, "/")
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// ResolveMarket looks a market up by slug and maps its outcome tokens.
// Markets that are not a YES/NO pair are rejected.
func (c *Client) ResolveMarket(ctx context.Context, slug string) (Market, error) {
	query := url.Values{"slug": {slug}}
	var markets []gammaMarket
	if err := c.getJSON(ctx, c.cfg.GammaURL, "/markets", query, &markets); err != nil {
		return Market{}, fmt.Errorf("resolve market %s: %w", slug, err)
	}
	if len(markets) == 0 {
		return Market{}, fmt.Errorf("resolve market %s: not found", slug)
	}
	gm := markets[0]

	var outcomes, tokenIDs []string
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
		return Market{}, fmt.Errorf("resolve market %s: outcomes: %w", slug, err)
	}
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokenIDs); err != nil {
		return Market{}, fmt.Errorf("resolve market %s: token ids: %w", slug, err)
	}
	if len(outcomes) != 2 || len(tokenIDs) != 2 {
		return Market{}, fmt.Errorf("resolve market %s: expected 2 outcomes, got %d", slug, len(outcomes))
	}

	m := Market{Slug: slug, ConditionID: gm.ConditionID, Question: gm.Question}
	for i, outcome := range outcomes {
		switch strings.ToUpper(outcome) {
		case "YES":
			m.YesTokenID = tokenIDs[i]
		case "NO":
			m.NoTokenID = tokenIDs[i]
		}
	}
	if m.YesTokenID == "" || m.NoTokenID == "" {
		return Market{}, fmt.Errorf("resolve market %s: outcomes %v are not a YES/NO pair", slug, outcomes)
	}
	return m, nil
}
