package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

const channelPrefix = "stickerswap:session:"

// RedisHub fans change events out across processes via Redis pub/sub, so
// every API instance sees mutations committed by any other instance.
type RedisHub struct {
	rdb *redis.Client
}

func NewRedisHub(rdb *redis.Client) *RedisHub {
	return &RedisHub{rdb: rdb}
}

func (h *RedisHub) Publish(ctx context.Context, topic string, ev ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal change event",
			slog.String("topic", topic),
			slog.String("error", err.Error()))
		return
	}

	if err := h.rdb.Publish(ctx, channelPrefix+topic, payload).Err(); err != nil {
		// Push is best-effort; the poll reconciler covers dropped events.
		slog.Error("Failed to publish change event",
			slog.String("topic", topic),
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()))
	}
}

func (h *RedisHub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	pubsub := h.rdb.Subscribe(ctx, channelPrefix+topic)

	// Force the subscription to be established before returning, so a
	// caller that mutates right after subscribing sees its own event.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	out := make(chan ChangeEvent, subscriptionBuffer)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("Discarding malformed change event",
					slog.String("topic", topic),
					slog.String("error", err.Error()))
				continue
			}
			select {
			case out <- ev:
			default:
				slog.Warn("Dropping change event for slow subscriber",
					slog.String("topic", topic),
					slog.String("kind", string(ev.Kind)))
			}
		}
	}()

	return &Subscription{
		C: out,
		cancel: func() {
			if err := pubsub.Close(); err != nil {
				slog.Error("Failed to close pubsub subscription",
					slog.String("topic", topic),
					slog.String("error", err.Error()))
			}
		},
	}, nil
}

func (h *RedisHub) Close() error {
	return nil
}
