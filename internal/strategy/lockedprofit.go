package strategy

import (
	"fmt"

	"pm-arb-worker/internal/book"
	"pm-arb-worker/internal/position"
)

// LockedProfit hedges an unbalanced position so that the profit under
// either settlement outcome reaches a target. With holdings (qYes, qNo) and
// combined cost C, the profit if YES wins is qYes·settle − C and symmetric
// for NO. The strategy buys the minimum quantity of the losing side's token
// that lifts both projected profits to the target.
type LockedProfit struct{}

func NewLockedProfit() *LockedProfit {
	return &LockedProfit{}
}

const (
	lockedProfitID       = "locked_profit"
	defaultTargetProfit  = 0.0
	settleValue          = 1.0
	minHedgeQty          = 0.01
	feasibilityTolerance = 1e-12
)

func (s *LockedProfit) ID() string { return lockedProfitID }

// minHedgeForTarget returns the minimum quantity to buy on one side at
// price ask such that, after the purchase, the bought side's profit and the
// opposite side's profit both reach target. The second return is false when
// no quantity can satisfy both constraints.
//
// Buying x of a side at price p shifts that side's settlement profit by
// x·(settle − p) and the opposite side's by −x·p, giving the bounds
//
//	x >= (target − profitBuySide) / (settle − p)
//	x <= (profitOtherSide − target) / p
func minHedgeForTarget(profitBuySide, profitOtherSide, ask, target float64) (float64, bool) {
	if ask >= settleValue || ask <= 0 {
		return 0, false
	}
	lower := (target - profitBuySide) / (settleValue - ask)
	upper := (profitOtherSide - target) / ask
	if lower < 0 {
		lower = 0
	}
	if upper < lower-feasibilityTolerance {
		return 0, false
	}
	return lower, true
}

func (s *LockedProfit) Generate(snap book.Snapshot, view BookView, pos position.Snapshot, params Params) *Signal {
	if !pos.Has() {
		return hold("no position, nothing to hedge", nil)
	}

	netCost := pos.NetCost()
	profitYes := pos.Yes.Size*settleValue - netCost
	profitNo := pos.No.Size*settleValue - netCost
	locked := min(profitYes, profitNo)
	target := params.Float("target_profit", defaultTargetProfit)

	md := map[string]any{
		"yes_size":           pos.Yes.Size,
		"no_size":            pos.No.Size,
		"net_cost":           netCost,
		"profit_if_yes_wins": profitYes,
		"profit_if_no_wins":  profitNo,
		"locked_profit":      locked,
		"target_profit":      target,
	}

	if profitYes >= target && profitNo >= target {
		return hold(fmt.Sprintf("profit locked at %.2f, both sides >= target %.2f", locked, target), md)
	}

	// Buy whichever side currently projects the lower profit.
	sideToBuy := position.Yes
	ask, hasAsk := view.YesAsk, view.HasYesAsk
	profitBuySide, profitOther := profitYes, profitNo
	if profitNo < profitYes {
		sideToBuy = position.No
		ask, hasAsk = view.NoAsk, view.HasNoAsk
		profitBuySide, profitOther = profitNo, profitYes
	}
	md["side_to_buy"] = sideToBuy

	if !hasAsk {
		return hold(fmt.Sprintf("no %s ask price", sideToBuy), md)
	}
	md["raw_ask"] = ask

	qty, feasible := minHedgeForTarget(profitBuySide, profitOther, ask, target)
	if !feasible {
		return hold(fmt.Sprintf("target unreachable (%s ask %.4f too high or position too unbalanced)", sideToBuy, ask), md)
	}
	if qty < minHedgeQty {
		return hold(fmt.Sprintf("hedge quantity %.4f below minimum, already near target", qty), md)
	}

	cost := qty * ask
	newProfitBuySide := profitBuySide + qty*(settleValue-ask)
	newProfitOther := profitOther - cost
	newLocked := min(newProfitBuySide, newProfitOther)
	md["min_qty"] = qty
	md["cost"] = cost
	md["new_locked_profit"] = newLocked
	if sideToBuy == position.Yes {
		md["new_profit_if_yes_wins"] = newProfitBuySide
		md["new_profit_if_no_wins"] = newProfitOther
	} else {
		md["new_profit_if_yes_wins"] = newProfitOther
		md["new_profit_if_no_wins"] = newProfitBuySide
	}

	sig := &Signal{
		Kind: Buy,
		Reason: fmt.Sprintf("hedge buy %s %.2f @ %.4f, locked profit %.2f -> %.2f",
			sideToBuy, qty, ask, locked, newLocked),
		Metadata: md,
	}
	if sideToBuy == position.Yes {
		sig.YesSize = qty
		sig.YesPrice = ask
	} else {
		sig.NoSize = qty
		sig.NoPrice = ask
	}
	return sig
}

func (s *LockedProfit) Validate(sig *Signal, view BookView, pos position.Snapshot, params Params) (bool, string) {
	return ValidateSignal(sig, pos)
}
