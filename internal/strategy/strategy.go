// Package strategy defines the trading-signal abstraction and the two
// built-in strategies evaluated against market snapshots.
package strategy

import (
	"fmt"
	"strconv"

	"pm-arb-worker/internal/book"
	"pm-arb-worker/internal/position"
)

type Kind string

const (
	Buy  Kind = "BUY"
	Sell Kind = "SELL"
	Hold Kind = "HOLD"
)

// Signal is the outcome of one strategy evaluation. Sizes and prices are
// per outcome; a zero size means no leg on that outcome.
type Signal struct {
	Kind     Kind           `json:"type"`
	YesSize  float64        `json:"yes_size,omitempty"`
	NoSize   float64        `json:"no_size,omitempty"`
	YesPrice float64        `json:"yes_price,omitempty"`
	NoPrice  float64        `json:"no_price,omitempty"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Actionable reports whether the signal carries an executable leg.
func (s *Signal) Actionable() bool {
	if s == nil || s.Kind == Hold {
		return false
	}
	return s.YesSize > 0 || s.NoSize > 0
}

func hold(reason string, md map[string]any) *Signal {
	return &Signal{Kind: Hold, Reason: reason, Metadata: md}
}

// Params carries strategy-specific tuning. Unknown keys are ignored and
// missing keys fall back to the strategy's defaults.
type Params map[string]any

func (p Params) Float(key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

func (p Params) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// BookView is the strategy-facing view of the four top-of-book prices.
type BookView struct {
	YesBid, YesAsk, NoBid, NoAsk             float64
	HasYesBid, HasYesAsk, HasNoBid, HasNoAsk bool
}

func ViewFromSnapshot(snap book.Snapshot) BookView {
	var v BookView
	v.YesBid, v.HasYesBid = snap.Yes.BestBid()
	v.YesAsk, v.HasYesAsk = snap.Yes.BestAsk()
	v.NoBid, v.HasNoBid = snap.No.BestBid()
	v.NoAsk, v.HasNoAsk = snap.No.BestAsk()
	return v
}

func (v BookView) Complete() bool {
	return v.HasYesBid && v.HasYesAsk && v.HasNoBid && v.HasNoAsk
}

// Strategy produces and validates signals. Implementations must be
// stateless: one instance serves every task concurrently.
type Strategy interface {
	ID() string
	Generate(snap book.Snapshot, view BookView, pos position.Snapshot, params Params) *Signal
	Validate(sig *Signal, view BookView, pos position.Snapshot, params Params) (bool, string)
}

// ValidateSignal is the default validation shared by the built-in
// strategies: a SELL may not exceed holdings and a BUY leg needs a price.
func ValidateSignal(sig *Signal, pos position.Snapshot) (bool, string) {
	if sig == nil || sig.Kind == Hold {
		return true, "hold signal needs no validation"
	}
	if sig.Kind == Buy {
		if sig.YesSize > 0 && sig.YesPrice <= 0 {
			return false, "buy YES leg is missing a price"
		}
		if sig.NoSize > 0 && sig.NoPrice <= 0 {
			return false, "buy NO leg is missing a price"
		}
	}
	if sig.Kind == Sell {
		if sig.YesSize > 0 && pos.Yes.Size < sig.YesSize {
			return false, fmt.Sprintf("insufficient YES holdings: %.4f < %.4f", pos.Yes.Size, sig.YesSize)
		}
		if sig.NoSize > 0 && pos.No.Size < sig.NoSize {
			return false, fmt.Sprintf("insufficient NO holdings: %.4f < %.4f", pos.No.Size, sig.NoSize)
		}
	}
	return true, "ok"
}

// Registry maps strategy ids to singleton instances. It is built once at
// process start and read-only afterwards.
type Registry struct {
	strategies map[string]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	m := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		m[s.ID()] = s
	}
	return &Registry{strategies: m}
}

// NewDefaultRegistry registers the built-in strategies.
func NewDefaultRegistry() *Registry {
	return NewRegistry(NewMergeLong(), NewLockedProfit())
}

func (r *Registry) Get(id string) (Strategy, error) {
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", id)
	}
	return s, nil
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	return ids
}
