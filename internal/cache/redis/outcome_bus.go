package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quantfold/tradeguard/internal/domain"
)

// outcomeStreamMaxLen is the approximate maximum length for the outcome
// stream, enforced via XADD MAXLEN ~.
const outcomeStreamMaxLen int64 = 10000

// OutcomeBus publishes closed-position outcome records for external
// consumers. Each record goes out on a Pub/Sub channel for live listeners and
// is appended to a capped stream for consumers that poll.
type OutcomeBus struct {
	rdb     *redis.Client
	channel string
	stream  string
}

// NewOutcomeBus creates an OutcomeBus backed by the given Client.
func NewOutcomeBus(c *Client, channel, stream string) *OutcomeBus {
	return &OutcomeBus{rdb: c.Underlying(), channel: channel, stream: stream}
}

// EmitOutcome publishes the record as JSON. The Pub/Sub publish and the
// stream append both go out; the first failure is returned.
func (ob *OutcomeBus) EmitOutcome(ctx context.Context, rec domain.OutcomeRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal outcome %s: %w", rec.PositionID, err)
	}

	if err := ob.rdb.Publish(ctx, ob.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish outcome %s: %w", rec.PositionID, err)
	}

	args := &redis.XAddArgs{
		Stream: ob.stream,
		MaxLen: outcomeStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := ob.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream outcome %s: %w", rec.PositionID, err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription on the outcome channel and returns
// a read-only channel of raw JSON payloads. The subscription closes when the
// context is cancelled; the returned channel is closed at that point as well.
func (ob *OutcomeBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := ob.rdb.Subscribe(ctx, ob.channel)

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", ob.channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface check.
var _ domain.OutcomeSink = (*OutcomeBus)(nil)
