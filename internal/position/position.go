// Package position tracks per-outcome holdings and cost basis for one task.
package position

const (
	Yes = "YES"
	No  = "NO"
)

// Leg is the holding on one outcome.
type Leg struct {
	Size      float64 `json:"size"`
	AvgCost   float64 `json:"avg_cost"`
	TotalCost float64 `json:"total_cost"`
}

// Position is mutated only by its owning pipeline, so it carries no lock.
type Position struct {
	yes Leg
	no  Leg
}

func New() *Position {
	return &Position{}
}

func (p *Position) leg(outcome string) *Leg {
	if outcome == No {
		return &p.no
	}
	return &p.yes
}

// Update applies a confirmed or simulated fill. On buy the average cost is
// recomputed from the new total; on sell the size shrinks (never below 0)
// and a flat leg resets its cost basis.
func (p *Position) Update(outcome string, size, price float64, isBuy bool) {
	if size <= 0 {
		return
	}
	leg := p.leg(outcome)
	if isBuy {
		leg.TotalCost += size * price
		leg.Size += size
		if leg.Size > 0 {
			leg.AvgCost = leg.TotalCost / leg.Size
		} else {
			leg.AvgCost = 0
		}
		return
	}
	leg.Size -= size
	if leg.Size <= 0 {
		leg.Size = 0
		leg.TotalCost = 0
		leg.AvgCost = 0
		return
	}
	leg.TotalCost = leg.Size * leg.AvgCost
}

// Prime overwrites one leg from an external positions query.
func (p *Position) Prime(outcome string, size, avgCost float64) {
	leg := p.leg(outcome)
	if size < 0 {
		size = 0
	}
	leg.Size = size
	leg.AvgCost = avgCost
	leg.TotalCost = size * avgCost
}

func (p *Position) Snapshot() Snapshot {
	return Snapshot{Yes: p.yes, No: p.no}
}

// Snapshot is a value copy of the position, safe to hand to strategies and
// event payloads.
type Snapshot struct {
	Yes Leg `json:"yes"`
	No  Leg `json:"no"`
}

func (s Snapshot) Has() bool {
	return s.Yes.Size > 0 || s.No.Size > 0
}

// NetCost is the combined cost basis across both outcomes.
func (s Snapshot) NetCost() float64 {
	return s.Yes.TotalCost + s.No.TotalCost
}

func (s Snapshot) Size(outcome string) float64 {
	if outcome == No {
		return s.No.Size
	}
	return s.Yes.Size
}
