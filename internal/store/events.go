package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leafsii/leafsii-dsc/internal/engine"
	"go.uber.org/zap"
)

// EventPublisher is an engine.Journal that fans committed events out to the
// event streams and drops cached account views the event made stale. It is
// best effort: a publish failure is logged and never aborts the operation.
type EventPublisher struct {
	cache  *Cache
	logger *zap.SugaredLogger
}

var _ engine.Journal = (*EventPublisher)(nil)

func NewEventPublisher(cache *Cache, logger *zap.SugaredLogger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventPublisher{cache: cache, logger: logger}
}

func (p *EventPublisher) Append(ctx context.Context, ev engine.Event) error {
	rec := ev.Record()
	touched := affected(ev)

	if err := p.cache.InvalidateAccounts(ctx, touched...); err != nil {
		p.logger.Warnw("Failed to invalidate cached accounts", "event_id", rec.ID, "error", err)
	}

	channels := make([]string, 0, len(touched)+1)
	for _, user := range touched {
		channels = append(channels, UserChannel(user))
	}
	channels = append(channels, ChannelAllEvent)

	for _, ch := range channels {
		if err := p.cache.Publish(ctx, ch, rec); err != nil {
			p.logger.Warnw("Failed to publish event", "event_id", rec.ID, "channel", ch, "error", err)
		}
	}
	return nil
}

func affected(ev engine.Event) []common.Address {
	users := []common.Address{ev.User}
	if ev.Liquidator != (common.Address{}) && ev.Liquidator != ev.User {
		users = append(users, ev.Liquidator)
	}
	return users
}
