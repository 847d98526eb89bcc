package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"pm-arb-worker/internal/state"

	_ "modernc.org/sqlite"
)

type Journal struct {
	db *sql.DB
}

func New(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS orders (
		client_id  TEXT PRIMARY KEY,
		task_id    TEXT NOT NULL,
		token_id   TEXT NOT NULL,
		side       TEXT NOT NULL,
		size       REAL NOT NULL,
		price      REAL NOT NULL,
		status     TEXT NOT NULL,
		created_ms INTEGER NOT NULL
	)`)
	return err
}

// Record inserts the entry if its client id is new. Returns false without
// error when the id was already journaled.
func (j *Journal) Record(ctx context.Context, e state.OrderEntry) (bool, error) {
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO orders (client_id, task_id, token_id, side, size, price, status, created_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(client_id) DO NOTHING`,
		e.ClientID, e.TaskID, e.TokenID, e.Side, e.Size, e.Price, e.Status, e.CreatedMS)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (j *Journal) UpdateStatus(ctx context.Context, clientID, status string) error {
	_, err := j.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE client_id = ?`, status, clientID)
	return err
}

func (j *Journal) Get(ctx context.Context, clientID string) (state.OrderEntry, bool, error) {
	var e state.OrderEntry
	err := j.db.QueryRowContext(ctx,
		`SELECT client_id, task_id, token_id, side, size, price, status, created_ms FROM orders WHERE client_id = ?`,
		clientID).Scan(&e.ClientID, &e.TaskID, &e.TokenID, &e.Side, &e.Size, &e.Price, &e.Status, &e.CreatedMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.OrderEntry{}, false, nil
		}
		return state.OrderEntry{}, false, err
	}
	return e, true, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
