// Package stream adapts the raw websocket client into a bounded channel of
// book-relevant messages for one market's token pair.
package stream

import (
	"context"

	"pm-arb-worker/internal/pm/ws"

	"go.uber.org/zap"
)

const defaultQueueSize = 256

// Source is the transport the stream consumes. *ws.Client satisfies it.
type Source interface {
	Subscribe(ctx context.Context, assetIDs []string) error
	Unsubscribe(ctx context.Context, assetIDs []string) error
	Run(ctx context.Context, handler func(ws.Message)) error
	Close()
}

// Stream subscribes a set of asset ids and delivers their book and
// price_change messages in arrival order. The channel is bounded: when the
// consumer falls behind the producer blocks rather than dropping updates,
// and cancelling the run context always unblocks it.
type Stream struct {
	src      Source
	log      *zap.Logger
	assetIDs []string
	out      chan ws.Message
}

func New(src Source, log *zap.Logger, assetIDs []string, queueSize int) *Stream {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Stream{
		src:      src,
		log:      log,
		assetIDs: append([]string(nil), assetIDs...),
		out:      make(chan ws.Message, queueSize),
	}
}

// Messages is the consumer side. Closed when Run returns.
func (s *Stream) Messages() <-chan ws.Message {
	return s.out
}

// Run subscribes and pumps messages until ctx is cancelled or the transport
// gives up. The out channel is closed on return.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.out)
	if err := s.src.Subscribe(ctx, s.assetIDs); err != nil {
		return err
	}
	return s.src.Run(ctx, func(msg ws.Message) {
		if !relevant(msg, s.assetIDs) {
			return
		}
		select {
		case s.out <- msg:
		case <-ctx.Done():
		}
	})
}

// Close unsubscribes the stream's ids and releases the transport.
func (s *Stream) Close(ctx context.Context) {
	if err := s.src.Unsubscribe(ctx, s.assetIDs); err != nil {
		s.log.Warn("unsubscribe failed", zap.Error(err))
	}
	s.src.Close()
}

func relevant(msg ws.Message, assetIDs []string) bool {
	var id string
	switch msg.Kind {
	case ws.KindBook:
		id = msg.Book.AssetID
	case ws.KindPriceChange:
		id = msg.PriceChange.AssetID
	case ws.KindLastTrade:
		id = msg.LastTrade.AssetID
	default:
		return false
	}
	if id == "" {
		return true
	}
	for _, want := range assetIDs {
		if id == want {
			return true
		}
	}
	return false
}
