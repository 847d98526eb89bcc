// Package history persists execution records and top-of-book quotes to
// Postgres/Timescale through a channel-fed background writer. Disabled when
// no DSN is configured.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"pm-arb-worker/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Execution is one order leg outcome for one task.
type Execution struct {
	Time     time.Time
	TaskID   string
	Strategy string
	Outcome  string
	TokenID  string
	Side     string
	Size     float64
	Price    float64
	Status   string
	OrderID  string
}

// Quote is one top-of-book snapshot for one market.
type Quote struct {
	Time   time.Time
	TaskID string
	YesBid float64
	YesAsk float64
	NoBid  float64
	NoAsk  float64
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	executions chan Execution
	quotes     chan Quote
	started    atomic.Bool
	dropExec   atomic.Uint64
	dropQuote  atomic.Uint64
}

// New opens the writer, or returns (nil, nil) when no DSN is configured.
// A nil *Writer is safe to use: every method is a no-op.
func New(cfg config.HistoryConfig, log *zap.Logger) (*Writer, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, nil
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		db:         db,
		log:        log,
		schema:     schema,
		executions: make(chan Execution, queueSize),
		quotes:     make(chan Quote, queueSize),
	}
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// EnqueueExecution hands one record to the background writer. Records are
// dropped rather than blocking the pipeline when the queue is full.
func (w *Writer) EnqueueExecution(e Execution) {
	if w == nil {
		return
	}
	select {
	case w.executions <- e:
	default:
		if w.dropExec.Add(1) == 1 && w.log != nil {
			w.log.Warn("history execution queue full")
		}
	}
}

func (w *Writer) EnqueueQuote(q Quote) {
	if w == nil {
		return
	}
	select {
	case w.quotes <- q:
	default:
		if w.dropQuote.Add(1) == 1 && w.log != nil {
			w.log.Warn("history quote queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-w.executions:
			w.writeExecution(ctx, e)
		case q := <-w.quotes:
			w.writeQuote(ctx, q)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("history db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		task_id TEXT NOT NULL,
		strategy TEXT NOT NULL,
		outcome TEXT NOT NULL,
		token_id TEXT NOT NULL,
		side TEXT NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT ''
	)`, w.table("executions"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		task_id TEXT NOT NULL,
		yes_bid DOUBLE PRECISION NOT NULL,
		yes_ask DOUBLE PRECISION NOT NULL,
		no_bid DOUBLE PRECISION NOT NULL,
		no_ask DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ts, task_id)
	)`, w.table("quotes"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, table := range []string{w.table("executions"), w.table("quotes")} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", table)); err != nil && w.log != nil {
			w.log.Warn("hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeExecution(ctx context.Context, e Execution) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, task_id, strategy, outcome, token_id, side, size, price, status, order_id
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, w.table("executions"))
	if _, err := w.db.ExecContext(ctx, query,
		e.Time, e.TaskID, e.Strategy, e.Outcome, e.TokenID, e.Side, e.Size, e.Price, e.Status, e.OrderID,
	); err != nil && w.log != nil {
		w.log.Warn("history execution insert failed", zap.Error(err))
	}
}

func (w *Writer) writeQuote(ctx context.Context, q Quote) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, task_id, yes_bid, yes_ask, no_bid, no_ask
	) VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (ts, task_id) DO UPDATE SET
		yes_bid = EXCLUDED.yes_bid,
		yes_ask = EXCLUDED.yes_ask,
		no_bid = EXCLUDED.no_bid,
		no_ask = EXCLUDED.no_ask`, w.table("quotes"))
	if _, err := w.db.ExecContext(ctx, query,
		q.Time, q.TaskID, q.YesBid, q.YesAsk, q.NoBid, q.NoAsk,
	); err != nil && w.log != nil {
		w.log.Warn("history quote upsert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
