package exec

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"pm-arb-worker/internal/book"
	"pm-arb-worker/internal/pm/clob"
	"pm-arb-worker/internal/pm/ws"
	"pm-arb-worker/internal/position"
	"pm-arb-worker/internal/strategy"

	"go.uber.org/zap"
)

type fakePlacer struct {
	requests []clob.OrderRequest
	failFor  map[string]error
}

func (f *fakePlacer) PlaceOrder(ctx context.Context, req clob.OrderRequest) (clob.OrderResponse, error) {
	f.requests = append(f.requests, req)
	if err := f.failFor[req.TokenID]; err != nil {
		return clob.OrderResponse{}, err
	}
	return clob.OrderResponse{Success: true, OrderID: "ord-" + req.TokenID}, nil
}

type fixedStrategy struct {
	sig *strategy.Signal
}

func (s *fixedStrategy) ID() string { return "fixed" }

func (s *fixedStrategy) Generate(snap book.Snapshot, view strategy.BookView, pos position.Snapshot, params strategy.Params) *strategy.Signal {
	return s.sig
}

func (s *fixedStrategy) Validate(sig *strategy.Signal, view strategy.BookView, pos position.Snapshot, params strategy.Params) (bool, string) {
	return strategy.ValidateSignal(sig, pos)
}

type panickyStrategy struct{}

func (panickyStrategy) ID() string { return "panicky" }

func (panickyStrategy) Generate(book.Snapshot, strategy.BookView, position.Snapshot, strategy.Params) *strategy.Signal {
	panic("boom")
}

func (panickyStrategy) Validate(*strategy.Signal, strategy.BookView, position.Snapshot, strategy.Params) (bool, string) {
	return true, ""
}

func bookFrame(tokenID, bidPrice, askPrice string) ws.Message {
	raw, _ := json.Marshal(map[string]any{"event_type": "book", "asset_id": tokenID})
	return ws.Message{
		Kind: ws.KindBook,
		Book: &ws.BookMessage{
			AssetID: tokenID,
			Bids:    []ws.PriceLevel{{Price: bidPrice, Size: "100"}},
			Asks:    []ws.PriceLevel{{Price: askPrice, Size: "100"}},
		},
		Raw: raw,
	}
}

func buySignal(yesSize, noSize float64) *strategy.Signal {
	return &strategy.Signal{
		Kind:     strategy.Buy,
		YesSize:  yesSize,
		NoSize:   noSize,
		YesPrice: 0.52,
		NoPrice:  0.47,
	}
}

func newExecutor(t *testing.T, cfg Config, placer OrderPlacer) (*Executor, *position.Position) {
	t.Helper()
	bk := book.New("yes-token", "no-token")
	pos := position.New()
	return New(cfg, bk, pos, placer, nil, zap.NewNop(), nil), pos
}

func plans(strat strategy.Strategy, execute bool) []Plan {
	return []Plan{{Strategy: strat, Execute: execute}}
}

func TestSimulationUpdatesPosition(t *testing.T) {
	e, pos := newExecutor(t, Config{TaskID: "t1", Mode: Simulation}, nil)
	p := plans(&fixedStrategy{sig: buySignal(10, 10)}, true)

	res := e.HandleMessage(context.Background(), bookFrame("yes-token", "0.50", "0.52"), p)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Evaluations) != 1 {
		t.Fatalf("expected 1 evaluation, got %d", len(res.Evaluations))
	}
	eval := res.Evaluations[0]
	if !eval.Executed || len(eval.Records) != 2 {
		t.Fatalf("expected 2 executed legs, got %+v", eval)
	}
	for _, rec := range eval.Records {
		if rec.Status != StatusSimulated {
			t.Fatalf("expected SIMULATED leg, got %+v", rec)
		}
	}
	if got := pos.Snapshot().Yes.Size; got != 10 {
		t.Fatalf("yes position not updated: %f", got)
	}
	if got := pos.Snapshot().No.Size; got != 10 {
		t.Fatalf("no position not updated: %f", got)
	}
	if res.Position.Yes.Size != 10 {
		t.Fatalf("result must carry the post-execution position: %+v", res.Position)
	}
}

func TestFailedLegDoesNotStopSibling(t *testing.T) {
	placer := &fakePlacer{failFor: map[string]error{"yes-token": errors.New("rejected")}}
	e, pos := newExecutor(t, Config{TaskID: "t1", Mode: Real}, placer)
	p := plans(&fixedStrategy{sig: buySignal(10, 10)}, true)

	res := e.HandleMessage(context.Background(), bookFrame("yes-token", "0.50", "0.52"), p)
	eval := res.Evaluations[0]
	if len(eval.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(eval.Records))
	}
	yes, no := eval.Records[0], eval.Records[1]
	if yes.Status != StatusFailed || yes.Err == nil {
		t.Fatalf("yes leg should fail: %+v", yes)
	}
	if no.Status != StatusSubmitted || no.OrderID == "" {
		t.Fatalf("no leg should submit despite sibling failure: %+v", no)
	}
	snap := pos.Snapshot()
	if snap.Yes.Size != 0 {
		t.Fatalf("failed leg must not move the position: %f", snap.Yes.Size)
	}
	if snap.No.Size != 10 {
		t.Fatalf("submitted leg must move the position: %f", snap.No.Size)
	}
	if len(placer.requests) != 2 {
		t.Fatalf("both legs must reach the placer, got %d", len(placer.requests))
	}
}

func TestExecutionGate(t *testing.T) {
	placer := &fakePlacer{}
	e, _ := newExecutor(t, Config{TaskID: "t1", Mode: Real}, placer)
	p := plans(&fixedStrategy{sig: buySignal(10, 10)}, false)

	res := e.HandleMessage(context.Background(), bookFrame("yes-token", "0.50", "0.52"), p)
	eval := res.Evaluations[0]
	if eval.Signal == nil || !eval.Signal.Actionable() {
		t.Fatal("signal must still be reported when execution is gated off")
	}
	if eval.Executed || len(eval.Records) != 0 || len(placer.requests) != 0 {
		t.Fatalf("no legs may execute when gated: %+v", eval)
	}
}

func TestInvalidSignalNotExecuted(t *testing.T) {
	// SELL larger than holdings fails validation.
	sig := &strategy.Signal{Kind: strategy.Sell, YesSize: 5, YesPrice: 0.5}
	placer := &fakePlacer{}
	e, _ := newExecutor(t, Config{TaskID: "t1", Mode: Real}, placer)

	res := e.HandleMessage(context.Background(), bookFrame("yes-token", "0.50", "0.52"), plans(&fixedStrategy{sig: sig}, true))
	if res.Evaluations[0].Executed || len(placer.requests) != 0 {
		t.Fatalf("invalid signal must not execute: %+v", res.Evaluations[0])
	}
}

func TestTinyLegSkipped(t *testing.T) {
	e, pos := newExecutor(t, Config{TaskID: "t1", Mode: Simulation, MinOrderSize: 1.0}, nil)
	p := plans(&fixedStrategy{sig: buySignal(0.5, 10)}, true)

	res := e.HandleMessage(context.Background(), bookFrame("yes-token", "0.50", "0.52"), p)
	eval := res.Evaluations[0]
	if len(eval.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(eval.Records))
	}
	if eval.Records[0].Status != StatusSkipped {
		t.Fatalf("sub-minimum leg must be skipped: %+v", eval.Records[0])
	}
	if eval.Records[1].Status != StatusSimulated {
		t.Fatalf("sibling leg must still run: %+v", eval.Records[1])
	}
	if pos.Snapshot().Yes.Size != 0 {
		t.Fatalf("skipped leg must not move the position")
	}
}

func TestStrategyPanicIsContained(t *testing.T) {
	e, _ := newExecutor(t, Config{TaskID: "t1", Mode: Simulation}, nil)

	res := e.HandleMessage(context.Background(), bookFrame("yes-token", "0.50", "0.52"), plans(panickyStrategy{}, true))
	if res.Err != nil {
		t.Fatalf("panic must not surface as an error: %v", res.Err)
	}
	eval := res.Evaluations[0]
	if eval.Signal != nil || eval.Executed {
		t.Fatalf("panicking strategy must yield no signal: %+v", eval)
	}
}

func TestMultipleStrategiesOneTick(t *testing.T) {
	e, _ := newExecutor(t, Config{TaskID: "t1", Mode: Simulation}, nil)
	p := []Plan{
		{Strategy: &fixedStrategy{sig: buySignal(10, 10)}, Execute: true},
		{Strategy: panickyStrategy{}, Execute: true},
	}

	res := e.HandleMessage(context.Background(), bookFrame("yes-token", "0.50", "0.52"), p)
	if len(res.Evaluations) != 2 {
		t.Fatalf("expected 2 evaluations, got %d", len(res.Evaluations))
	}
	if !res.Evaluations[0].Executed {
		t.Fatalf("first strategy must execute: %+v", res.Evaluations[0])
	}
	if res.Evaluations[1].Signal != nil {
		t.Fatalf("second strategy panicked and must yield nothing: %+v", res.Evaluations[1])
	}
}

func TestNoSnapshotBeforeFirstPrice(t *testing.T) {
	e, _ := newExecutor(t, Config{TaskID: "t1", Mode: Simulation}, nil)

	// An unknown-kind frame applies nothing; no snapshot, no evaluations.
	res := e.HandleMessage(context.Background(), ws.Message{Kind: ws.KindUnknown, Raw: []byte("PONG")}, plans(&fixedStrategy{sig: buySignal(10, 10)}, true))
	if len(res.Evaluations) != 0 {
		t.Fatalf("no evaluations expected before the book has prices: %+v", res)
	}
}

func TestLastTradePrimesBook(t *testing.T) {
	e, _ := newExecutor(t, Config{TaskID: "t1", Mode: Simulation}, nil)

	trade := ws.Message{
		Kind: ws.KindLastTrade,
		LastTrade: &ws.LastTradeMessage{
			AssetID:   "yes-token",
			Price:     "0.55",
			Timestamp: "456",
		},
	}
	res := e.HandleMessage(context.Background(), trade, nil)
	if res.Err != nil {
		t.Fatalf("last trade: %v", res.Err)
	}
	if res.Snapshot.Yes.TokenID == "" {
		t.Fatal("a last trade alone must prime the book for snapshots")
	}
	if res.Snapshot.Yes.LastPrice != 0.55 {
		t.Fatalf("last price not carried into the snapshot: %+v", res.Snapshot.Yes)
	}
	if res.Snapshot.Timestamp != "456" {
		t.Fatalf("snapshot must carry the trade timestamp, got %q", res.Snapshot.Timestamp)
	}

	bad := ws.Message{
		Kind:      ws.KindLastTrade,
		LastTrade: &ws.LastTradeMessage{AssetID: "yes-token", Price: "not-a-number"},
	}
	if res := e.HandleMessage(context.Background(), bad, nil); res.Err == nil {
		t.Fatal("unparseable trade price must surface as an error")
	}
}

func TestPriceChangeFlowsThroughBook(t *testing.T) {
	e, _ := newExecutor(t, Config{TaskID: "t1", Mode: Simulation}, nil)

	if res := e.HandleMessage(context.Background(), bookFrame("yes-token", "0.50", "0.52"), nil); res.Err != nil {
		t.Fatalf("book frame: %v", res.Err)
	}
	delta := ws.Message{
		Kind: ws.KindPriceChange,
		PriceChange: &ws.PriceChangeMessage{
			AssetID: "yes-token",
			Changes: []ws.PriceChangeEntry{{Price: "0.51", Size: "40", Side: "BUY"}},
		},
	}
	res := e.HandleMessage(context.Background(), delta, nil)
	if res.Err != nil {
		t.Fatalf("price change: %v", res.Err)
	}
	bid, ok := res.Snapshot.Yes.BestBid()
	if !ok || bid != 0.51 {
		t.Fatalf("delta not applied, best bid %f (ok=%v)", bid, ok)
	}
}
