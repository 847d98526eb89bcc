// Package exec drives the per-message pipeline: apply the update to the
// book, evaluate the configured strategies, validate their signals, place
// or simulate the resulting order legs and update the tracked position.
package exec

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"pm-arb-worker/internal/book"
	"pm-arb-worker/internal/metrics"
	"pm-arb-worker/internal/pm/clob"
	"pm-arb-worker/internal/pm/ws"
	"pm-arb-worker/internal/position"
	"pm-arb-worker/internal/state"
	"pm-arb-worker/internal/strategy"

	"go.uber.org/zap"
)

type Mode string

const (
	Simulation Mode = "SIMULATION"
	Real       Mode = "REAL"
)

// Leg statuses recorded per order.
const (
	StatusSimulated = "SIMULATED"
	StatusSubmitted = "SUBMITTED"
	StatusFailed    = "FAILED"
	StatusSkipped   = "SKIPPED"
)

const defaultMinOrderSize = 1.0

// OrderPlacer submits one order leg to the venue. *clob.Client satisfies it.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req clob.OrderRequest) (clob.OrderResponse, error)
}

// Record is one per-leg execution outcome.
type Record struct {
	Outcome string
	TokenID string
	Side    string
	Size    float64
	Price   float64
	Status  string
	OrderID string
	Err     error
}

// Plan is one strategy to evaluate on this tick with its live parameters.
// Execute gates order placement: when false an actionable signal is
// reported but no legs are placed.
type Plan struct {
	Strategy strategy.Strategy
	Params   strategy.Params
	Execute  bool
}

// Evaluation is the outcome of one strategy on one tick.
type Evaluation struct {
	Strategy string
	Signal   *strategy.Signal
	Executed bool
	Records  []Record
}

// Result bundles everything one processed message produced. Exactly one is
// returned per message.
type Result struct {
	Snapshot    book.Snapshot
	Position    position.Snapshot
	Evaluations []Evaluation
	Err         error
}

type Config struct {
	TaskID       string
	Mode         Mode
	OrderKind    clob.OrderKind
	ExpirationS  int64
	MinOrderSize float64
}

type Executor struct {
	cfg     Config
	book    *book.Book
	pos     *position.Position
	placer  OrderPlacer
	journal state.Journal
	log     *zap.Logger
	metrics *metrics.Metrics
	seq     atomic.Int64
}

func New(cfg Config, bk *book.Book, pos *position.Position, placer OrderPlacer, journal state.Journal, log *zap.Logger, m *metrics.Metrics) *Executor {
	if cfg.MinOrderSize <= 0 {
		cfg.MinOrderSize = defaultMinOrderSize
	}
	if cfg.OrderKind == "" {
		cfg.OrderKind = clob.GTC
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Executor{
		cfg:     cfg,
		book:    bk,
		pos:     pos,
		placer:  placer,
		journal: journal,
		log:     log,
		metrics: m,
	}
}

// Position returns the current holdings snapshot.
func (e *Executor) Position() position.Snapshot {
	return e.pos.Snapshot()
}

// PrimePosition overwrites one leg from an external positions query.
func (e *Executor) PrimePosition(outcome string, size, avgCost float64) {
	e.pos.Prime(outcome, size, avgCost)
}

// HandleMessage runs the full pipeline for one market update.
func (e *Executor) HandleMessage(ctx context.Context, msg ws.Message, plans []Plan) Result {
	if err := e.applyMessage(msg); err != nil {
		return Result{Err: err}
	}
	snap, ok := e.book.Snapshot(messageTimestamp(msg), msg.Raw)
	if !ok {
		return Result{}
	}

	res := Result{Snapshot: snap}
	for _, plan := range plans {
		res.Evaluations = append(res.Evaluations, e.evaluate(ctx, snap, plan))
	}
	res.Position = e.pos.Snapshot()
	return res
}

func (e *Executor) evaluate(ctx context.Context, snap book.Snapshot, plan Plan) Evaluation {
	eval := Evaluation{Strategy: plan.Strategy.ID()}
	sig := e.generate(plan.Strategy, snap, plan.Params)
	eval.Signal = sig
	if sig == nil || !sig.Actionable() {
		return eval
	}
	e.metrics.SignalsGenerated.Inc()

	view := strategy.ViewFromSnapshot(snap)
	if ok, reason := plan.Strategy.Validate(sig, view, e.pos.Snapshot(), plan.Params); !ok {
		e.log.Warn("signal rejected",
			zap.String("strategy", plan.Strategy.ID()),
			zap.String("reason", reason),
		)
		return eval
	}
	if !plan.Execute {
		return eval
	}

	eval.Executed = true
	eval.Records = e.executeSignal(ctx, snap, sig)
	return eval
}

func (e *Executor) applyMessage(msg ws.Message) error {
	switch msg.Kind {
	case ws.KindBook:
		return e.applyBook(msg.Book)
	case ws.KindPriceChange:
		return e.applyPriceChange(msg.PriceChange)
	case ws.KindLastTrade:
		return e.applyLastTrade(msg.LastTrade)
	}
	return nil
}

func (e *Executor) applyBook(m *ws.BookMessage) error {
	bids, err := parseLevels(m.BidLevels())
	if err != nil {
		return fmt.Errorf("book bids: %w", err)
	}
	asks, err := parseLevels(m.AskLevels())
	if err != nil {
		return fmt.Errorf("book asks: %w", err)
	}
	return e.book.ApplyFull(m.AssetID, bids, asks)
}

func (e *Executor) applyPriceChange(m *ws.PriceChangeMessage) error {
	for _, entry := range m.Entries() {
		price, size, err := ws.PriceLevel{Price: entry.Price, Size: entry.Size}.Values()
		if err != nil {
			return fmt.Errorf("price change level: %w", err)
		}
		if err := e.book.ApplyDelta(m.AssetID, entry.Side, price, size); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) applyLastTrade(m *ws.LastTradeMessage) error {
	price, err := strconv.ParseFloat(m.Price, 64)
	if err != nil {
		return fmt.Errorf("last trade price: %w", err)
	}
	e.book.SetLastPrice(m.AssetID, price)
	return nil
}

func messageTimestamp(msg ws.Message) string {
	switch msg.Kind {
	case ws.KindBook:
		return msg.Book.Timestamp
	case ws.KindPriceChange:
		return msg.PriceChange.Timestamp
	case ws.KindLastTrade:
		return msg.LastTrade.Timestamp
	}
	return ""
}

func parseLevels(raw []ws.PriceLevel) ([]book.Level, error) {
	levels := make([]book.Level, 0, len(raw))
	for _, l := range raw {
		price, size, err := l.Values()
		if err != nil {
			return nil, err
		}
		levels = append(levels, book.Level{Price: price, Size: size})
	}
	return levels, nil
}

// generate evaluates one strategy, treating a panic as no signal for this
// tick so one bad update cannot kill the task.
func (e *Executor) generate(strat strategy.Strategy, snap book.Snapshot, params strategy.Params) (sig *strategy.Signal) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("strategy panicked", zap.String("strategy", strat.ID()), zap.Any("panic", r))
			sig = nil
		}
	}()
	return strat.Generate(snap, strategy.ViewFromSnapshot(snap), e.pos.Snapshot(), params)
}

// executeSignal places both legs independently: a failed leg is recorded
// and does not stop the other, and only successful legs move the position.
func (e *Executor) executeSignal(ctx context.Context, snap book.Snapshot, sig *strategy.Signal) []Record {
	isBuy := sig.Kind == strategy.Buy
	var records []Record
	if sig.YesSize > 0 {
		records = append(records, e.executeLeg(ctx, position.Yes, snap.Yes.TokenID, sig.YesSize, sig.YesPrice, isBuy))
	}
	if sig.NoSize > 0 {
		records = append(records, e.executeLeg(ctx, position.No, snap.No.TokenID, sig.NoSize, sig.NoPrice, isBuy))
	}
	return records
}

func (e *Executor) executeLeg(ctx context.Context, outcome, tokenID string, size, price float64, isBuy bool) Record {
	side := "SELL"
	if isBuy {
		side = "BUY"
	}
	rec := Record{Outcome: outcome, TokenID: tokenID, Side: side, Size: size, Price: price}

	if size < e.cfg.MinOrderSize {
		rec.Status = StatusSkipped
		return rec
	}

	clientID := e.nextClientID(outcome)
	if e.journal != nil {
		fresh, err := e.journal.Record(ctx, state.OrderEntry{
			ClientID:  clientID,
			TaskID:    e.cfg.TaskID,
			TokenID:   tokenID,
			Side:      side,
			Size:      size,
			Price:     price,
			Status:    StatusSubmitted,
			CreatedMS: time.Now().UnixMilli(),
		})
		if err != nil {
			e.log.Warn("order journal write failed", zap.Error(err))
		} else if !fresh {
			rec.Status = StatusSkipped
			rec.Err = fmt.Errorf("duplicate client order id %s", clientID)
			return rec
		}
	}

	if e.cfg.Mode == Simulation {
		e.pos.Update(outcome, size, price, isBuy)
		rec.Status = StatusSimulated
		e.journalStatus(ctx, clientID, StatusSimulated)
		e.metrics.OrdersSimulated.Inc()
		return rec
	}

	resp, err := e.placer.PlaceOrder(ctx, clob.OrderRequest{
		ClientID:   clientID,
		TokenID:    tokenID,
		Side:       side,
		Price:      price,
		Size:       size,
		Kind:       string(e.cfg.OrderKind),
		Expiration: e.expiration(),
	})
	if err != nil {
		rec.Status = StatusFailed
		rec.Err = err
		e.journalStatus(ctx, clientID, StatusFailed)
		e.metrics.OrdersFailed.Inc()
		e.log.Warn("order failed", zap.String("outcome", outcome), zap.Error(err))
		return rec
	}

	rec.Status = StatusSubmitted
	rec.OrderID = resp.OrderID
	e.pos.Update(outcome, size, price, isBuy)
	e.metrics.OrdersPlaced.Inc()
	return rec
}

func (e *Executor) expiration() int64 {
	if e.cfg.OrderKind != clob.GTD {
		return 0
	}
	return time.Now().Unix() + e.cfg.ExpirationS
}

func (e *Executor) nextClientID(outcome string) string {
	return fmt.Sprintf("%s-%s-%d-%d", e.cfg.TaskID, outcome, time.Now().UnixMilli(), e.seq.Add(1))
}

func (e *Executor) journalStatus(ctx context.Context, clientID, status string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.UpdateStatus(ctx, clientID, status); err != nil {
		e.log.Warn("order journal update failed", zap.Error(err))
	}
}
