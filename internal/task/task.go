// Package task runs one monitored market end to end and orchestrates the
// set of running tasks over a Redis control channel.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pm-arb-worker/internal/book"
	"pm-arb-worker/internal/events"
	"pm-arb-worker/internal/exec"
	"pm-arb-worker/internal/history"
	"pm-arb-worker/internal/metrics"
	"pm-arb-worker/internal/pm/clob"
	"pm-arb-worker/internal/pm/ws"
	"pm-arb-worker/internal/position"
	"pm-arb-worker/internal/state"
	"pm-arb-worker/internal/strategy"

	"go.uber.org/zap"
)

// Venue bundles the market-data collaborators a task needs.
// *clob.Client satisfies it.
type Venue interface {
	ResolveMarket(ctx context.Context, slug string) (clob.Market, error)
	Positions(ctx context.Context, user, conditionID string) ([]clob.PositionEntry, error)
	PlaceOrder(ctx context.Context, req clob.OrderRequest) (clob.OrderResponse, error)
}

// Stream is the market-data feed for one token pair. *stream.Stream
// satisfies it.
type Stream interface {
	Messages() <-chan ws.Message
	Run(ctx context.Context) error
	Close(ctx context.Context)
}

type StreamFactory func(assetIDs []string) Stream

// FailureNotifier alerts operators when a task fails. *alerts.Telegram
// satisfies it.
type FailureNotifier interface {
	NotifyTaskFailure(ctx context.Context, taskID, market, reason string)
}

// Deps are the shared collaborators handed to every task.
type Deps struct {
	Venue          Venue
	Streams        StreamFactory
	Sink           EventSink
	Registry       *strategy.Registry
	Journal        state.Journal
	History        *history.Writer
	Alerts         FailureNotifier
	Keys           Keys
	Log            *zap.Logger
	Metrics        *metrics.Metrics
	Funder         string
	HasCredentials bool
}

// Task is one market pipeline: stream, book, strategies, executor, events.
type Task struct {
	deps Deps
	pub  *Publisher

	mu  sync.RWMutex
	cfg Config

	refresh chan struct{}

	executor *exec.Executor
	market   clob.Market
	strats   map[string]strategy.Strategy

	inFlight bool
	stats    map[string]events.OutcomeStats

	endOnce sync.Once
	end     Status
}

func New(cfg Config, deps Deps) *Task {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	return &Task{
		deps:    deps,
		cfg:     cfg,
		pub:     NewPublisher(deps.Sink, deps.Keys, cfg.TaskID, deps.Log),
		refresh: make(chan struct{}, 1),
		stats:   make(map[string]events.OutcomeStats),
	}
}

func (t *Task) ID() string {
	return t.cfg.TaskID
}

// ConfigSnapshot returns a deep copy of the live config. Callers may hold
// and iterate it while later patches mutate the live value.
func (t *Task) ConfigSnapshot() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg.Clone()
}

// UpdateConfig merges a patch into the live config without restarting the
// pipeline and returns the merged result for persistence.
func (t *Task) UpdateConfig(patch *Patch) Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	patch.Apply(&t.cfg)
	return t.cfg.Clone()
}

// RefreshPositions asks the pipeline to re-prime its position from the
// venue. Non-blocking; a pending refresh absorbs repeat requests.
func (t *Task) RefreshPositions() {
	select {
	case t.refresh <- struct{}{}:
	default:
	}
}

// Run drives the task to a terminal status. The task_end event is
// published exactly once no matter how the run ends.
func (t *Task) Run(ctx context.Context) Status {
	t.deps.Metrics.TasksStarted.Inc()
	t.pub.SetStatus(ctx, StatusRunning, "")

	if err := t.setup(ctx); err != nil {
		t.fail(ctx, err)
		return t.end
	}

	str := t.deps.Streams([]string{t.market.YesTokenID, t.market.NoTokenID})
	streamErr := make(chan error, 1)
	go func() { streamErr <- str.Run(ctx) }()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		str.Close(closeCtx)
	}()

	for {
		select {
		case <-ctx.Done():
			t.finish(ctx, StatusCancelled, "cancelled")
			return t.end
		case <-t.refresh:
			t.primePositions(ctx)
		case msg, ok := <-str.Messages():
			if !ok {
				return t.streamEnded(ctx, streamErr)
			}
			t.handle(ctx, msg)
		}
	}
}

func (t *Task) setup(ctx context.Context) error {
	cfg := t.ConfigSnapshot()

	if exec.Mode(cfg.Mode) == exec.Real && !t.deps.HasCredentials {
		return errors.New("real mode requires api credentials")
	}

	t.strats = make(map[string]strategy.Strategy, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		strat, err := t.deps.Registry.Get(sc.Name)
		if err != nil {
			return err
		}
		t.strats[sc.Name] = strat
	}

	slug := clob.SlugFromURL(cfg.Market)
	market, err := t.deps.Venue.ResolveMarket(ctx, slug)
	if err != nil {
		return err
	}
	t.market = market
	t.pub.Publish(ctx, events.TypeInfo, events.Info{
		TaskID:      cfg.TaskID,
		MarketSlug:  market.Slug,
		ConditionID: market.ConditionID,
		Question:    market.Question,
		YesTokenID:  market.YesTokenID,
		NoTokenID:   market.NoTokenID,
	})

	t.executor = exec.New(
		exec.Config{
			TaskID:       cfg.TaskID,
			Mode:         exec.Mode(cfg.Mode),
			OrderKind:    clob.OrderKind(cfg.OrderKind),
			ExpirationS:  cfg.ExpirationS,
			MinOrderSize: cfg.MinOrderSize,
		},
		book.New(market.YesTokenID, market.NoTokenID),
		position.New(),
		t.deps.Venue,
		t.deps.Journal,
		t.deps.Log.With(zap.String("task", cfg.TaskID)),
		t.deps.Metrics,
	)

	if t.deps.Funder != "" {
		t.primePositions(ctx)
	}
	t.publishAutoBuyState(ctx)
	return nil
}

func (t *Task) handle(ctx context.Context, msg ws.Message) {
	plans := t.buildPlans()
	armed := anyExecutable(plans)
	if armed {
		t.inFlight = true
		t.publishAutoBuyState(ctx)
	}
	res := t.executor.HandleMessage(ctx, msg, plans)
	t.inFlight = false
	if res.Err != nil {
		t.deps.Log.Warn("message handling failed", zap.String("task", t.ID()), zap.Error(res.Err))
		if armed {
			t.publishAutoBuyState(ctx)
		}
		return
	}
	if res.Snapshot.Yes.TokenID == "" {
		if armed {
			t.publishAutoBuyState(ctx)
		}
		return
	}

	t.pub.Publish(ctx, events.TypeBook, events.BookState{
		TaskID:    t.ID(),
		Snapshot:  res.Snapshot,
		Timestamp: time.Now().UnixMilli(),
	})
	t.recordQuote(res)

	executed := false
	for _, eval := range res.Evaluations {
		if eval.Signal == nil || !eval.Signal.Actionable() {
			continue
		}
		t.pub.Publish(ctx, events.TypeSignal, signalEvent(t.ID(), eval))
		if eval.Executed {
			executed = true
			t.accumulateStats(eval.Records)
			t.recordExecutions(eval)
		}
	}
	if armed {
		t.publishAutoBuyState(ctx)
	}
	if executed {
		t.pub.Publish(ctx, events.TypePositionState, events.PositionState{
			TaskID:   t.ID(),
			Position: res.Position,
			NetCost:  res.Position.NetCost(),
		})
	}
}

// buildPlans reads the live config and gates execution per strategy: the
// global auto-buy switch and the strategy's own rule must both allow it.
// Ticks are handled synchronously on the task goroutine, so two executions
// can never overlap; the in-flight flag only feeds the published state.
func (t *Task) buildPlans() []exec.Plan {
	t.mu.RLock()
	defer t.mu.RUnlock()

	plans := make([]exec.Plan, 0, len(t.cfg.Strategies))
	for _, sc := range t.cfg.Strategies {
		strat, ok := t.strats[sc.Name]
		if !ok {
			continue
		}
		params := make(strategy.Params, len(sc.Params)+2)
		for k, v := range sc.Params {
			params[k] = v
		}
		rule, hasRule := t.cfg.AutoBuy.Rules[sc.Name]
		execute := t.cfg.AutoBuy.Enabled && hasRule && rule.Enabled
		if execute {
			if rule.Amount > 0 {
				params["total_budget"] = rule.Amount
			}
			if rule.RoundSize {
				params["round_size"] = true
			}
		}
		plans = append(plans, exec.Plan{Strategy: strat, Params: params, Execute: execute})
	}
	return plans
}

func anyExecutable(plans []exec.Plan) bool {
	for _, p := range plans {
		if p.Execute {
			return true
		}
	}
	return false
}

func (t *Task) recordQuote(res exec.Result) {
	yesBid, _ := res.Snapshot.Yes.BestBid()
	yesAsk, _ := res.Snapshot.Yes.BestAsk()
	noBid, _ := res.Snapshot.No.BestBid()
	noAsk, _ := res.Snapshot.No.BestAsk()
	t.deps.History.EnqueueQuote(history.Quote{
		Time:   time.Now(),
		TaskID: t.ID(),
		YesBid: yesBid,
		YesAsk: yesAsk,
		NoBid:  noBid,
		NoAsk:  noAsk,
	})
}

func (t *Task) recordExecutions(eval exec.Evaluation) {
	for _, rec := range eval.Records {
		t.deps.History.EnqueueExecution(history.Execution{
			Time:     time.Now(),
			TaskID:   t.ID(),
			Strategy: eval.Strategy,
			Outcome:  rec.Outcome,
			TokenID:  rec.TokenID,
			Side:     rec.Side,
			Size:     rec.Size,
			Price:    rec.Price,
			Status:   rec.Status,
			OrderID:  rec.OrderID,
		})
	}
}

func (t *Task) accumulateStats(records []exec.Record) {
	for _, rec := range records {
		if rec.Status != exec.StatusSimulated && rec.Status != exec.StatusSubmitted {
			continue
		}
		s := t.stats[rec.Outcome]
		s.Count++
		s.Amount += rec.Size * rec.Price
		t.stats[rec.Outcome] = s
	}
}

func (t *Task) publishAutoBuyState(ctx context.Context) {
	cfg := t.ConfigSnapshot()
	rules := make(map[string]any, len(cfg.AutoBuy.Rules))
	for name, rule := range cfg.AutoBuy.Rules {
		rules[name] = rule
	}
	stats := make(map[string]events.OutcomeStats, len(t.stats))
	for outcome, s := range t.stats {
		stats[outcome] = s
	}
	t.pub.Publish(ctx, events.TypeAutoBuyState, events.AutoBuyState{
		TaskID:   t.ID(),
		Enabled:  cfg.AutoBuy.Enabled,
		InFlight: t.inFlight,
		Rules:    rules,
		Stats:    stats,
	})
}

func (t *Task) primePositions(ctx context.Context) {
	if t.deps.Funder == "" {
		return
	}
	entries, err := t.deps.Venue.Positions(ctx, t.deps.Funder, t.market.ConditionID)
	if err != nil {
		t.deps.Log.Warn("position refresh failed", zap.String("task", t.ID()), zap.Error(err))
		return
	}
	for _, entry := range entries {
		switch entry.TokenID {
		case t.market.YesTokenID:
			t.executor.PrimePosition(position.Yes, entry.Size, entry.AvgPrice)
		case t.market.NoTokenID:
			t.executor.PrimePosition(position.No, entry.Size, entry.AvgPrice)
		}
	}
	pos := t.executor.Position()
	t.pub.Publish(ctx, events.TypePositionState, events.PositionState{
		TaskID:   t.ID(),
		Position: pos,
		NetCost:  pos.NetCost(),
	})
}

func (t *Task) streamEnded(ctx context.Context, streamErr <-chan error) Status {
	err := <-streamErr
	switch {
	case ctx.Err() != nil:
		t.finish(ctx, StatusCancelled, "cancelled")
	case err != nil:
		t.fail(ctx, fmt.Errorf("market stream ended: %w", err))
	default:
		t.finish(ctx, StatusCompleted, "stream closed")
	}
	return t.end
}

func (t *Task) fail(ctx context.Context, err error) {
	t.deps.Metrics.TasksFailed.Inc()
	t.deps.Log.Error("task failed", zap.String("task", t.ID()), zap.Error(err))
	t.finish(ctx, StatusFailed, err.Error())
	if t.deps.Alerts != nil {
		alertCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		t.deps.Alerts.NotifyTaskFailure(alertCtx, t.ID(), t.ConfigSnapshot().Market, err.Error())
	}
}

// finish records the terminal status and publishes task_end exactly once.
// It runs detached from the task context so a cancelled task still reports.
func (t *Task) finish(ctx context.Context, status Status, reason string) {
	t.endOnce.Do(func() {
		t.end = status
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		t.pub.SetStatus(ctx, status, reason)
		t.pub.Publish(ctx, events.TypeTaskEnd, events.TaskEnd{
			TaskID: t.ID(),
			Status: string(status),
			Reason: reason,
		})
	})
}

func signalEvent(taskID string, eval exec.Evaluation) events.Signal {
	sig := eval.Signal
	ev := events.Signal{
		TaskID:   taskID,
		Strategy: eval.Strategy,
		Kind:     string(sig.Kind),
		Reason:   sig.Reason,
		YesSize:  sig.YesSize,
		NoSize:   sig.NoSize,
		YesPrice: sig.YesPrice,
		NoPrice:  sig.NoPrice,
		Metadata: sig.Metadata,
	}
	for _, rec := range eval.Records {
		wire := events.OrderRecord{
			Outcome: rec.Outcome,
			Side:    rec.Side,
			Size:    rec.Size,
			Price:   rec.Price,
			Status:  rec.Status,
			OrderID: rec.OrderID,
		}
		if rec.Err != nil {
			wire.Error = rec.Err.Error()
		}
		ev.Records = append(ev.Records, wire)
	}
	return ev
}
