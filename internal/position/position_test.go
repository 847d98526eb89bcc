package position

import "testing"

func almostEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func TestTwoBuysThenSell(t *testing.T) {
	p := New()
	p.Update(Yes, 10, 0.40, true)
	p.Update(Yes, 10, 0.40, true)

	snap := p.Snapshot()
	if !almostEqual(snap.Yes.Size, 20) {
		t.Fatalf("expected size 20, got %f", snap.Yes.Size)
	}
	if !almostEqual(snap.Yes.AvgCost, 0.40) {
		t.Fatalf("expected avg cost 0.40, got %f", snap.Yes.AvgCost)
	}

	p.Update(Yes, 10, 0.55, false)
	snap = p.Snapshot()
	if !almostEqual(snap.Yes.Size, 10) {
		t.Fatalf("expected size 10 after sell, got %f", snap.Yes.Size)
	}
	if !almostEqual(snap.Yes.AvgCost, 0.40) {
		t.Fatalf("sell must not change avg cost, got %f", snap.Yes.AvgCost)
	}
	if !almostEqual(snap.Yes.TotalCost, 4.0) {
		t.Fatalf("expected total cost 4.0, got %f", snap.Yes.TotalCost)
	}
}

func TestBuyAveragesCost(t *testing.T) {
	p := New()
	p.Update(No, 10, 0.40, true)
	p.Update(No, 10, 0.60, true)
	snap := p.Snapshot()
	if !almostEqual(snap.No.AvgCost, 0.50) {
		t.Fatalf("expected avg cost 0.50, got %f", snap.No.AvgCost)
	}
	if !almostEqual(snap.No.TotalCost, 10.0) {
		t.Fatalf("expected total cost 10.0, got %f", snap.No.TotalCost)
	}
}

func TestSellToFlatResetsCostBasis(t *testing.T) {
	p := New()
	p.Update(Yes, 5, 0.30, true)
	p.Update(Yes, 5, 0.80, false)
	snap := p.Snapshot()
	if snap.Yes.Size != 0 || snap.Yes.AvgCost != 0 || snap.Yes.TotalCost != 0 {
		t.Fatalf("expected flat leg to reset, got %+v", snap.Yes)
	}
}

func TestSellNeverGoesNegative(t *testing.T) {
	p := New()
	p.Update(Yes, 5, 0.30, true)
	p.Update(Yes, 50, 0.30, false)
	if snap := p.Snapshot(); snap.Yes.Size != 0 {
		t.Fatalf("expected size clamped to 0, got %f", snap.Yes.Size)
	}
}

func TestPrime(t *testing.T) {
	p := New()
	p.Prime(Yes, 11, 0.09)
	snap := p.Snapshot()
	if !almostEqual(snap.Yes.Size, 11) || !almostEqual(snap.Yes.TotalCost, 0.99) {
		t.Fatalf("unexpected primed leg: %+v", snap.Yes)
	}
	if !snap.Has() {
		t.Fatal("expected Has() after prime")
	}
}

func TestZeroSizeUpdateIgnored(t *testing.T) {
	p := New()
	p.Update(Yes, 0, 0.5, true)
	if p.Snapshot().Has() {
		t.Fatal("zero-size update must be ignored")
	}
}
