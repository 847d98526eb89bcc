package strategy

import (
	"fmt"
	"math"

	"pm-arb-worker/internal/book"
	"pm-arb-worker/internal/position"
)

// MergeLong buys both outcomes when the combined effective cost drops below
// 1.0 minus a configurable margin. In a complete binary market YES + NO
// settle to exactly 1.0, so filling both legs below that locks the gap in.
//
// The effective buy price of one outcome is the better of its direct ask and
// the synthetic price implied by the opposite outcome's bid:
//
//	effective YES = min(yes_ask, 1 - no_bid)
//	effective NO  = min(no_ask, 1 - yes_bid)
//
// The synthetic leg assumes the opposite bid is executable at its displayed
// price; slippage and partial fills are not modeled.
type MergeLong struct{}

func NewMergeLong() *MergeLong {
	return &MergeLong{}
}

const (
	mergeLongID            = "merge_long"
	defaultMinArbitrageGap = 0.01
	defaultTotalBudget     = 10.0
	costEpsilon            = 1e-6
)

func (s *MergeLong) ID() string { return mergeLongID }

func (s *MergeLong) Generate(snap book.Snapshot, view BookView, pos position.Snapshot, params Params) *Signal {
	if !view.Complete() {
		return hold("order book incomplete: missing bid/ask", nil)
	}

	effectiveYes := min(view.YesAsk, 1.0-view.NoBid)
	effectiveNo := min(view.NoAsk, 1.0-view.YesBid)
	longCost := effectiveYes + effectiveNo

	minGap := params.Float("min_arbitrage_gap", defaultMinArbitrageGap)
	budget := params.Float("total_budget", defaultTotalBudget)
	threshold := 1.0 - minGap

	md := map[string]any{
		"effective_buy_yes": effectiveYes,
		"effective_buy_no":  effectiveNo,
		"long_cost":         longCost,
		"threshold":         threshold,
		"min_arbitrage_gap": minGap,
		"yes_ask":           view.YesAsk,
		"yes_bid":           view.YesBid,
		"no_ask":            view.NoAsk,
		"no_bid":            view.NoBid,
	}

	if budget <= 0 {
		return hold(fmt.Sprintf("invalid total_budget %.2f", budget), md)
	}
	if longCost > threshold+costEpsilon {
		return hold(fmt.Sprintf("cost %.4f above threshold %.4f", longCost, threshold), md)
	}
	if longCost <= 0 {
		return hold(fmt.Sprintf("invalid combined cost %.4f", longCost), md)
	}

	size := budget / longCost
	if params.Bool("round_size", false) {
		size = math.Floor(size)
		if size <= 0 {
			return hold("rounded size is zero", md)
		}
	}
	expectedProfit := (1.0 - longCost) * size
	md["total_budget"] = budget
	md["size"] = size
	md["expected_profit"] = expectedProfit

	return &Signal{
		Kind:     Buy,
		YesSize:  size,
		NoSize:   size,
		YesPrice: effectiveYes,
		NoPrice:  effectiveNo,
		Reason: fmt.Sprintf("arbitrage: cost %.4f <= threshold %.4f, expected profit %.2f%%",
			longCost, threshold, (1.0-longCost)*100),
		Metadata: md,
	}
}

func (s *MergeLong) Validate(sig *Signal, view BookView, pos position.Snapshot, params Params) (bool, string) {
	return ValidateSignal(sig, pos)
}
