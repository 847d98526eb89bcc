// Package book maintains per-outcome bid/ask ladders for a two-outcome
// market and derives snapshots consumed by strategies.
package book

import (
	"fmt"
	"sort"
	"strings"
)

type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// SideBook holds the resting orders for one outcome token.
// Bids are sorted descending by price, asks ascending.
type SideBook struct {
	TokenID   string
	Bids      []Level
	Asks      []Level
	LastPrice float64
}

func (s *SideBook) BestBid() (float64, bool) {
	if len(s.Bids) == 0 {
		return 0, false
	}
	return s.Bids[0].Price, true
}

func (s *SideBook) BestAsk() (float64, bool) {
	if len(s.Asks) == 0 {
		return 0, false
	}
	return s.Asks[0].Price, true
}

func (s *SideBook) Spread() (float64, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return ask - bid, true
}

func (s *SideBook) Mid() (float64, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid + ask) / 2, true
}

func (s *SideBook) hasData() bool {
	return len(s.Bids) > 0 || len(s.Asks) > 0 || s.LastPrice > 0
}

// replaceSide swaps in a full ladder, dropping empty levels.
func replaceSide(levels []Level, desc bool) []Level {
	out := make([]Level, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Size <= 0 || lvl.Price <= 0 {
			continue
		}
		out = append(out, lvl)
	}
	sortLevels(out, desc)
	return out
}

func sortLevels(levels []Level, desc bool) {
	sort.Slice(levels, func(i, j int) bool {
		if desc {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
}

// upsert inserts or replaces the level at price; size 0 removes it.
// Removing an absent price is a no-op.
func upsert(levels []Level, price, size float64, desc bool) []Level {
	for i, lvl := range levels {
		if lvl.Price == price {
			if size <= 0 {
				return append(levels[:i], levels[i+1:]...)
			}
			levels[i].Size = size
			return levels
		}
	}
	if size <= 0 {
		return levels
	}
	levels = append(levels, Level{Price: price, Size: size})
	sortLevels(levels, desc)
	return levels
}

// Book is the reconstructed order book for both outcomes of one market.
// It is single-writer: only the owning pipeline mutates it.
type Book struct {
	yes SideBook
	no  SideBook
}

func New(yesTokenID, noTokenID string) *Book {
	return &Book{
		yes: SideBook{TokenID: yesTokenID},
		no:  SideBook{TokenID: noTokenID},
	}
}

func (b *Book) side(tokenID string) *SideBook {
	switch tokenID {
	case b.yes.TokenID:
		return &b.yes
	case b.no.TokenID:
		return &b.no
	}
	return nil
}

// ApplyFull replaces both ladders of one outcome wholesale.
func (b *Book) ApplyFull(tokenID string, bids, asks []Level) error {
	side := b.side(tokenID)
	if side == nil {
		return fmt.Errorf("unknown token id %s", tokenID)
	}
	side.Bids = replaceSide(bids, true)
	side.Asks = replaceSide(asks, false)
	return nil
}

// ApplyDelta applies one incremental price change. Side is BUY or SELL as
// quoted by the venue. After the mutation the opposite ladder is reconciled
// so the book never stays crossed.
func (b *Book) ApplyDelta(tokenID, orderSide string, price, size float64) error {
	side := b.side(tokenID)
	if side == nil {
		return fmt.Errorf("unknown token id %s", tokenID)
	}
	switch strings.ToUpper(orderSide) {
	case "BUY", "BID":
		side.Bids = upsert(side.Bids, price, size, true)
		if size > 0 {
			side.Asks = dropCrossedAsks(side.Asks, price)
		}
	case "SELL", "ASK":
		side.Asks = upsert(side.Asks, price, size, false)
		if size > 0 {
			side.Bids = dropCrossedBids(side.Bids, price)
		}
	default:
		return fmt.Errorf("unknown order side %q", orderSide)
	}
	return nil
}

// dropCrossedAsks removes asks at or below a newly inserted bid.
func dropCrossedAsks(asks []Level, bid float64) []Level {
	i := 0
	for i < len(asks) && asks[i].Price <= bid {
		i++
	}
	return asks[i:]
}

// dropCrossedBids removes bids at or above a newly inserted ask.
func dropCrossedBids(bids []Level, ask float64) []Level {
	i := 0
	for i < len(bids) && bids[i].Price >= ask {
		i++
	}
	return bids[i:]
}

// SetLastPrice records the most recent traded price for an outcome.
func (b *Book) SetLastPrice(tokenID string, price float64) {
	if price <= 0 {
		return
	}
	if side := b.side(tokenID); side != nil {
		side.LastPrice = price
	}
}

func (b *Book) Yes() *SideBook { return &b.yes }
func (b *Book) No() *SideBook  { return &b.no }

// HasPrices reports whether at least one outcome has any known price.
func (b *Book) HasPrices() bool {
	return b.yes.hasData() || b.no.hasData()
}
