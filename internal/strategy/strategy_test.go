package strategy

import (
	"testing"

	"pm-arb-worker/internal/book"
	"pm-arb-worker/internal/position"
)

func testSnapshot(yesBid, yesAsk, noBid, noAsk float64) book.Snapshot {
	side := func(token string, bid, ask float64) book.SideView {
		v := book.SideView{TokenID: token}
		if bid > 0 {
			v.Bids = []book.Level{{Price: bid, Size: 100}}
		}
		if ask > 0 {
			v.Asks = []book.Level{{Price: ask, Size: 100}}
		}
		return v
	}
	return book.Snapshot{
		Yes: side("yes-token", yesBid, yesAsk),
		No:  side("no-token", noBid, noAsk),
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := NewDefaultRegistry()
	if _, err := reg.Get("merge_long"); err != nil {
		t.Fatalf("merge_long should be registered: %v", err)
	}
	if _, err := reg.Get("locked_profit"); err != nil {
		t.Fatalf("locked_profit should be registered: %v", err)
	}
	if _, err := reg.Get("does_not_exist"); err == nil {
		t.Fatal("expected error for unregistered strategy")
	}
}

func TestMergeLongEmitsBuy(t *testing.T) {
	snap := testSnapshot(0.50, 0.52, 0.45, 0.47)
	sig := NewMergeLong().Generate(snap, ViewFromSnapshot(snap), position.Snapshot{}, Params{
		"min_arbitrage_gap": 0.005,
		"total_budget":      10.0,
	})
	if sig.Kind != Buy {
		t.Fatalf("expected BUY, got %s (%s)", sig.Kind, sig.Reason)
	}
	if sig.YesPrice != 0.52 || sig.NoPrice != 0.47 {
		t.Fatalf("unexpected leg prices: yes=%f no=%f", sig.YesPrice, sig.NoPrice)
	}
	// 10.0 / 0.99 both legs.
	if sig.YesSize < 10.10 || sig.YesSize > 10.11 {
		t.Fatalf("expected size ~10.10, got %f", sig.YesSize)
	}
	if sig.NoSize != sig.YesSize {
		t.Fatalf("legs must be sized equally: yes=%f no=%f", sig.YesSize, sig.NoSize)
	}
	if !sig.Actionable() {
		t.Fatal("buy signal with sized legs must be actionable")
	}
}

func TestMergeLongHoldsAboveThreshold(t *testing.T) {
	snap := testSnapshot(0.50, 0.52, 0.45, 0.47)
	sig := NewMergeLong().Generate(snap, ViewFromSnapshot(snap), position.Snapshot{}, Params{
		"min_arbitrage_gap": 0.02,
	})
	if sig.Kind != Hold {
		t.Fatalf("expected HOLD at threshold 0.98 vs cost 0.99, got %s", sig.Kind)
	}
}

func TestMergeLongHoldsOnIncompleteBook(t *testing.T) {
	snap := testSnapshot(0.50, 0.52, 0, 0.47)
	sig := NewMergeLong().Generate(snap, ViewFromSnapshot(snap), position.Snapshot{}, nil)
	if sig.Kind != Hold {
		t.Fatalf("expected HOLD on missing NO bid, got %s", sig.Kind)
	}
}

func TestMergeLongUsesSyntheticPrice(t *testing.T) {
	// YES ask is worse than 1 - NO bid, so the synthetic leg wins.
	snap := testSnapshot(0.50, 0.60, 0.45, 0.40)
	sig := NewMergeLong().Generate(snap, ViewFromSnapshot(snap), position.Snapshot{}, Params{
		"min_arbitrage_gap": 0.0,
	})
	if sig.Kind != Buy {
		t.Fatalf("expected BUY, got %s (%s)", sig.Kind, sig.Reason)
	}
	if sig.YesPrice != 0.55 {
		t.Fatalf("expected effective YES price 0.55 via 1 - no_bid, got %f", sig.YesPrice)
	}
}

func TestLockedProfitHedgesLosingSide(t *testing.T) {
	pos := position.Snapshot{Yes: position.Leg{Size: 11, AvgCost: 1.0 / 11, TotalCost: 1}}
	snap := testSnapshot(0.50, 0.52, 0.45, 0.48)
	sig := NewLockedProfit().Generate(snap, ViewFromSnapshot(snap), pos, Params{"target_profit": 0.0})
	if sig.Kind != Buy {
		t.Fatalf("expected BUY, got %s (%s)", sig.Kind, sig.Reason)
	}
	if sig.YesSize != 0 || sig.NoSize <= 0 {
		t.Fatalf("expected a NO-only leg, got yes=%f no=%f", sig.YesSize, sig.NoSize)
	}
	if sig.NoPrice != 0.48 {
		t.Fatalf("expected hedge at NO ask 0.48, got %f", sig.NoPrice)
	}
	// After the purchase both settlement profits must reach the target.
	qty := sig.NoSize
	profitYes := 11.0 - (1 + qty*0.48)
	profitNo := qty - (1 + qty*0.48)
	if profitYes < -1e-9 || profitNo < -1e-9 {
		t.Fatalf("hedge does not reach target: yes=%f no=%f", profitYes, profitNo)
	}
	// Minimum feasible quantity: (target - profitNo) / (settle - ask) = 1 / 0.52.
	if qty < 1.9230 || qty > 1.9232 {
		t.Fatalf("expected minimal hedge ~1.9231, got %f", qty)
	}
}

func TestLockedProfitHoldsWhenTargetMet(t *testing.T) {
	pos := position.Snapshot{
		Yes: position.Leg{Size: 10, TotalCost: 4},
		No:  position.Leg{Size: 10, TotalCost: 4},
	}
	snap := testSnapshot(0.50, 0.52, 0.45, 0.48)
	sig := NewLockedProfit().Generate(snap, ViewFromSnapshot(snap), pos, Params{"target_profit": 1.0})
	if sig.Kind != Hold {
		t.Fatalf("expected HOLD with both profits at 2.0 >= 1.0, got %s", sig.Kind)
	}
}

func TestLockedProfitHoldsWithoutPosition(t *testing.T) {
	snap := testSnapshot(0.50, 0.52, 0.45, 0.48)
	sig := NewLockedProfit().Generate(snap, ViewFromSnapshot(snap), position.Snapshot{}, nil)
	if sig.Kind != Hold {
		t.Fatalf("expected HOLD without a position, got %s", sig.Kind)
	}
}

func TestLockedProfitInfeasibleAsk(t *testing.T) {
	pos := position.Snapshot{Yes: position.Leg{Size: 11, TotalCost: 1}}
	snap := testSnapshot(0.50, 0.52, 0.45, 1.0)
	sig := NewLockedProfit().Generate(snap, ViewFromSnapshot(snap), pos, nil)
	if sig.Kind != Hold {
		t.Fatalf("expected HOLD at ask >= settlement value, got %s", sig.Kind)
	}
}

func TestLockedProfitSuppressesTinyHedge(t *testing.T) {
	pos := position.Snapshot{
		Yes: position.Leg{Size: 10, TotalCost: 2},
		No:  position.Leg{Size: 8.999, TotalCost: 2},
	}
	snap := testSnapshot(0.50, 0.52, 0.45, 0.50)
	sig := NewLockedProfit().Generate(snap, ViewFromSnapshot(snap), pos, Params{"target_profit": 5.0})
	if sig.Kind != Hold {
		t.Fatalf("expected HOLD for a sub-minimum hedge, got %s (%s)", sig.Kind, sig.Reason)
	}
}

func TestMinHedgeForTarget(t *testing.T) {
	cases := []struct {
		name                   string
		profitBuy, profitOther float64
		ask, target            float64
		wantQty                float64
		wantOK                 bool
	}{
		{"basic hedge", -1, 10, 0.48, 0, 1.0 / 0.52, true},
		{"already above target", 2, 10, 0.48, 0, 0, true},
		{"upper bound binds", -10, 0.5, 0.5, 0, 0, false},
		{"ask at settlement", -1, 10, 1.0, 0, 0, false},
	}
	for _, tc := range cases {
		qty, ok := minHedgeForTarget(tc.profitBuy, tc.profitOther, tc.ask, tc.target)
		if ok != tc.wantOK {
			t.Fatalf("%s: feasible=%v, want %v", tc.name, ok, tc.wantOK)
		}
		if ok && (qty < tc.wantQty-1e-9 || qty > tc.wantQty+1e-9) {
			t.Fatalf("%s: qty=%f, want %f", tc.name, qty, tc.wantQty)
		}
	}
}

func TestValidateSignal(t *testing.T) {
	pos := position.Snapshot{Yes: position.Leg{Size: 5}}

	ok, _ := ValidateSignal(&Signal{Kind: Hold}, pos)
	if !ok {
		t.Fatal("HOLD must always validate")
	}

	ok, reason := ValidateSignal(&Signal{Kind: Sell, YesSize: 10}, pos)
	if ok {
		t.Fatal("sell above holdings must be rejected")
	}
	if reason == "" {
		t.Fatal("rejection must carry a reason")
	}

	ok, _ = ValidateSignal(&Signal{Kind: Sell, YesSize: 5}, pos)
	if !ok {
		t.Fatal("sell within holdings must pass")
	}

	ok, _ = ValidateSignal(&Signal{Kind: Buy, YesSize: 3}, pos)
	if ok {
		t.Fatal("buy leg without a price must be rejected")
	}

	ok, _ = ValidateSignal(&Signal{Kind: Buy, YesSize: 3, YesPrice: 0.5}, pos)
	if !ok {
		t.Fatal("priced buy leg must pass")
	}
}

func TestMergeLongRoundsSizeDown(t *testing.T) {
	snap := testSnapshot(0.50, 0.52, 0.45, 0.47)
	sig := NewMergeLong().Generate(snap, ViewFromSnapshot(snap), position.Snapshot{}, Params{
		"min_arbitrage_gap": 0.005,
		"total_budget":      10.0,
		"round_size":        true,
	})
	if sig.Kind != Buy {
		t.Fatalf("expected BUY, got %s (%s)", sig.Kind, sig.Reason)
	}
	if sig.YesSize != 10 {
		t.Fatalf("expected size floored to 10, got %f", sig.YesSize)
	}
}

func TestParamsFloat(t *testing.T) {
	p := Params{"a": 1.5, "b": 2, "c": "0.25", "d": "junk"}
	if got := p.Float("a", 0); got != 1.5 {
		t.Fatalf("float64 param: got %f", got)
	}
	if got := p.Float("b", 0); got != 2 {
		t.Fatalf("int param: got %f", got)
	}
	if got := p.Float("c", 0); got != 0.25 {
		t.Fatalf("string param: got %f", got)
	}
	if got := p.Float("d", 7); got != 7 {
		t.Fatalf("unparseable param must fall back: got %f", got)
	}
	if got := p.Float("missing", 9); got != 9 {
		t.Fatalf("missing param must fall back: got %f", got)
	}
}

func TestParamsBool(t *testing.T) {
	p := Params{"a": true, "b": "true", "c": "junk", "d": 1}
	if !p.Bool("a", false) || !p.Bool("b", false) {
		t.Fatal("bool params must parse")
	}
	if p.Bool("c", false) || p.Bool("d", false) {
		t.Fatal("unparseable params must fall back")
	}
	if !p.Bool("missing", true) {
		t.Fatal("missing param must fall back to default")
	}
}
