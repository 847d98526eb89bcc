package book

import "encoding/json"

// SideView is a value copy of one outcome's ladder at snapshot time.
type SideView struct {
	TokenID   string  `json:"token_id"`
	Bids      []Level `json:"bids"`
	Asks      []Level `json:"asks"`
	LastPrice float64 `json:"last_price,omitempty"`
}

func (v SideView) BestBid() (float64, bool) {
	if len(v.Bids) == 0 {
		return 0, false
	}
	return v.Bids[0].Price, true
}

func (v SideView) BestAsk() (float64, bool) {
	if len(v.Asks) == 0 {
		return 0, false
	}
	return v.Asks[0].Price, true
}

func (v SideView) Mid() (float64, bool) {
	bid, okBid := v.BestBid()
	ask, okAsk := v.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// Snapshot pairs both outcomes' views. It is immutable once built:
// strategies read it concurrently with the next book mutation.
type Snapshot struct {
	Yes       SideView        `json:"yes"`
	No        SideView        `json:"no"`
	Timestamp string          `json:"timestamp,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

func copyLevels(levels []Level) []Level {
	if len(levels) == 0 {
		return nil
	}
	out := make([]Level, len(levels))
	copy(out, levels)
	return out
}

func viewOf(s *SideBook) SideView {
	return SideView{
		TokenID:   s.TokenID,
		Bids:      copyLevels(s.Bids),
		Asks:      copyLevels(s.Asks),
		LastPrice: s.LastPrice,
	}
}

// Snapshot builds a value copy of the current book. It returns false until
// at least one outcome has a known price.
func (b *Book) Snapshot(timestamp string, raw json.RawMessage) (Snapshot, bool) {
	if !b.HasPrices() {
		return Snapshot{}, false
	}
	return Snapshot{
		Yes:       viewOf(&b.yes),
		No:        viewOf(&b.no),
		Timestamp: timestamp,
		Raw:       raw,
	}, true
}
