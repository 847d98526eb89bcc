package task

import (
	"context"
	"time"

	"pm-arb-worker/internal/events"

	"go.uber.org/zap"
)

// EventSink is the slice of the Redis store the publisher needs.
// *store.Store satisfies it.
type EventSink interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Publisher fans one task's events out to its Redis channel and keeps the
// snapshot keys for the cached event types current. Publish failures are
// logged and swallowed: event delivery must never stall the pipeline.
type Publisher struct {
	sink   EventSink
	keys   Keys
	taskID string
	log    *zap.Logger
}

func NewPublisher(sink EventSink, keys Keys, taskID string, log *zap.Logger) *Publisher {
	return &Publisher{sink: sink, keys: keys, taskID: taskID, log: log}
}

func (p *Publisher) Publish(ctx context.Context, typ events.Type, payload any) {
	frame, err := events.Encode(typ, payload)
	if err != nil {
		p.log.Warn("event encode failed", zap.String("event", string(typ)), zap.Error(err))
		return
	}
	if err := p.sink.Publish(ctx, p.keys.Events(p.taskID), frame); err != nil {
		p.log.Warn("event publish failed", zap.String("event", string(typ)), zap.Error(err))
	}
	if typ.Snapshotted() {
		if err := p.sink.Set(ctx, p.keys.Snapshot(p.taskID, string(typ)), frame, StateTTL); err != nil {
			p.log.Warn("snapshot cache write failed", zap.String("event", string(typ)), zap.Error(err))
		}
	}
}

// SetStatus persists the task status and announces the transition.
func (p *Publisher) SetStatus(ctx context.Context, status Status, detail string) {
	if err := p.sink.Set(ctx, p.keys.Status(p.taskID), []byte(status), StateTTL); err != nil {
		p.log.Warn("status write failed", zap.Error(err))
	}
	p.Publish(ctx, events.TypeTaskStatus, events.TaskStatus{
		TaskID:    p.taskID,
		Status:    string(status),
		Detail:    detail,
		Timestamp: time.Now().UnixMilli(),
	})
}
