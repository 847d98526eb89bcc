// Package ws owns the persistent market-data connection to the venue:
// dialing, keepalive, subscription bookkeeping and reconnect with backoff.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"pm-arb-worker/internal/metrics"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const pingPayload = "PING"

type Config struct {
	URL                  string
	ConnectTimeout       time.Duration
	PingInterval         time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

type Client struct {
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed []string
	subInit    bool
}

func New(cfg Config, log *zap.Logger, m *metrics.Metrics) *Client {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Client{cfg: cfg, log: log, metrics: m}
}

// Connect dials the venue if no connection is open. The dial is bounded by
// the configured connect timeout so a stalled handshake fails instead of
// hanging.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	c.conn = conn
	c.subInit = false
	return nil
}

// Subscribe adds asset ids to the desired set. While a connection is open
// the first call sends one batched subscribe for the full set; later calls
// send incremental subscribes. Ids queued while disconnected are subscribed
// on the next (re)connect.
func (c *Client) Subscribe(ctx context.Context, assetIDs []string) error {
	c.mu.Lock()
	added := c.addSubscriptions(assetIDs)
	conn := c.conn
	initial := !c.subInit
	all := append([]string(nil), c.subscribed...)
	if conn != nil {
		c.subInit = true
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if initial {
		return writeJSON(ctx, conn, initialSubscribe(all))
	}
	if len(added) == 0 {
		return nil
	}
	return writeJSON(ctx, conn, incrementalSubscribe(added))
}

// Unsubscribe removes asset ids (all of them when ids is empty) from the
// desired set and notifies the venue if connected.
func (c *Client) Unsubscribe(ctx context.Context, assetIDs []string) error {
	c.mu.Lock()
	if len(assetIDs) == 0 {
		assetIDs = c.subscribed
		c.subscribed = nil
	} else {
		c.removeSubscriptions(assetIDs)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || len(assetIDs) == 0 {
		return nil
	}
	return writeJSON(ctx, conn, unsubscribeRequest(assetIDs))
}

// Run drives the connection until ctx is cancelled or the reconnect budget
// is exhausted. Each open connection runs a read loop and a keepalive loop
// in one scope: a fault in either tears down both and triggers a backoff
// delay before the next attempt. The backoff resets after every successful
// open.
func (c *Client) Run(ctx context.Context, handler func(Message)) error {
	attempts := 0
	for {
		if err := c.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempts++
			if exceeded, fatalErr := c.checkAttempts(attempts, err); exceeded {
				return fatalErr
			}
			if err := c.waitBackoff(ctx, attempts); err != nil {
				return err
			}
			continue
		}
		attempts = 0
		if err := c.resubscribe(ctx); err != nil {
			c.log.Warn("resubscribe failed", zap.Error(err))
			c.resetConn()
			attempts++
			if err := c.backoffOrFail(ctx, attempts, err); err != nil {
				return err
			}
			continue
		}

		pingCtx, cancelPing := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			c.pingLoop(pingCtx)
		}()
		err := c.readLoop(ctx, handler)
		cancelPing()
		<-pingDone

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logReadLoopEnd(err)
		c.resetConn()
		attempts++
		if err := c.backoffOrFail(ctx, attempts, err); err != nil {
			return err
		}
	}
}

// Close releases the connection. Safe to call more than once.
func (c *Client) Close() {
	c.resetConn()
}

func (c *Client) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

func (c *Client) addSubscriptions(assetIDs []string) []string {
	existing := make(map[string]bool, len(c.subscribed))
	for _, id := range c.subscribed {
		existing[id] = true
	}
	var added []string
	for _, id := range assetIDs {
		if id == "" || existing[id] {
			continue
		}
		existing[id] = true
		c.subscribed = append(c.subscribed, id)
		added = append(added, id)
	}
	return added
}

func (c *Client) removeSubscriptions(assetIDs []string) {
	drop := make(map[string]bool, len(assetIDs))
	for _, id := range assetIDs {
		drop[id] = true
	}
	kept := c.subscribed[:0]
	for _, id := range c.subscribed {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	c.subscribed = kept
}

// resubscribe sends the batched initial subscribe for every desired id on a
// fresh connection.
func (c *Client) resubscribe(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	all := append([]string(nil), c.subscribed...)
	c.subInit = len(all) > 0
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	if len(all) == 0 {
		return nil
	}
	return writeJSON(ctx, conn, initialSubscribe(all))
}

func (c *Client) readLoop(ctx context.Context, handler func(Message)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		for _, msg := range Decode(data) {
			c.metrics.FramesReceived.Inc()
			if msg.Kind == KindUnknown {
				c.metrics.FramesUnknown.Inc()
			}
			if handler != nil {
				handler(msg)
			}
		}
	}
}

// pingLoop sends an application-level keepalive while the connection is
// open. A failed send is a connection fault: the connection is closed so
// the read loop unblocks and the reconnect path takes over.
func (c *Client) pingLoop(ctx context.Context) {
	if c.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, []byte(pingPayload)); err != nil {
				if ctx.Err() == nil {
					c.log.Warn("keepalive send failed", zap.Error(err))
					c.resetConn()
				}
				return
			}
		}
	}
}

// backoffOrFail is the shared bookkeeping after a dropped connection: count
// the reconnect, enforce the attempt cap, wait out the backoff. Every
// failure path of an established connection routes through it.
func (c *Client) backoffOrFail(ctx context.Context, attempts int, cause error) error {
	c.metrics.Reconnects.Inc()
	if exceeded, fatalErr := c.checkAttempts(attempts, cause); exceeded {
		return fatalErr
	}
	return c.waitBackoff(ctx, attempts)
}

func (c *Client) checkAttempts(attempts int, cause error) (bool, error) {
	if c.cfg.MaxReconnectAttempts > 0 && attempts > c.cfg.MaxReconnectAttempts {
		return true, fmt.Errorf("ws reconnect attempts exhausted after %d tries: %w", attempts-1, cause)
	}
	return false, nil
}

func (c *Client) waitBackoff(ctx context.Context, attempt int) error {
	delay := backoffDelay(c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay, attempt)
	c.log.Warn("ws disconnected, retrying",
		zap.Duration("delay", delay),
		zap.Int("attempt", attempt),
	)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// backoffDelay doubles per consecutive failed attempt, capped at max.
// Attempt numbering starts at 1.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (c *Client) logReadLoopEnd(err error) {
	if err == nil {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		c.log.Info("ws read loop ended", zap.Error(err))
		return
	}
	c.log.Warn("ws read loop ended", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
	c.subInit = false
}

// The venue accepted both asset_ids and assets_ids spellings historically;
// both are sent, matching observed client behavior.
type subscribeRequest struct {
	Type      string   `json:"type,omitempty"`
	Operation string   `json:"operation,omitempty"`
	AssetIDs  []string `json:"asset_ids,omitempty"`
	AssetsIDs []string `json:"assets_ids,omitempty"`
}

func initialSubscribe(ids []string) subscribeRequest {
	return subscribeRequest{Type: "market", AssetIDs: ids, AssetsIDs: ids}
}

func incrementalSubscribe(ids []string) subscribeRequest {
	return subscribeRequest{Operation: "subscribe", AssetIDs: ids, AssetsIDs: ids}
}

func unsubscribeRequest(ids []string) subscribeRequest {
	return subscribeRequest{Operation: "unsubscribe", AssetIDs: ids, AssetsIDs: ids}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
