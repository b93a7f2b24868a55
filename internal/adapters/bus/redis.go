package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/reviewd-dev/reviewd/internal/domain/model"
	"github.com/reviewd-dev/reviewd/pkg/logger"
)

// channelName returns the pub/sub channel for a submission's topic.
func channelName(submissionID string) string {
	return "review:submission:" + submissionID + ":status"
}

// RedisBus implements Bus on Redis pub/sub so workers and stream relays
// can live in different processes. Events are JSON on a per-submission
// channel.
type RedisBus struct {
	rdb *redis.Client
	log logger.Logger
}

// NewRedisBus creates a Redis-backed bus.
func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb, log: logger.Get().Named("bus")}
}

// Publish sends the event to the submission's channel.
func (b *RedisBus) Publish(ctx context.Context, event model.StatusEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	if err := b.rdb.Publish(ctx, channelName(event.SubmissionID), raw).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Subscribe attaches to the submission's channel. A goroutine decodes
// messages until the subscription is closed or ctx is canceled.
func (b *RedisBus) Subscribe(ctx context.Context, submissionID string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channelName(submissionID))
	// Force the SUBSCRIBE round trip so a publish immediately after
	// Subscribe returns cannot be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sub := &redisSub{ps: ps, ch: make(chan model.StatusEvent, subscriberBuffer)}
	go sub.pump(ctx, b.log, submissionID)
	return sub, nil
}

type redisSub struct {
	ps *redis.PubSub
	ch chan model.StatusEvent
}

func (s *redisSub) Events() <-chan model.StatusEvent { return s.ch }

func (s *redisSub) Close() {
	// Closing the PubSub ends the pump goroutine, which closes s.ch.
	_ = s.ps.Close()
}

func (s *redisSub) pump(ctx context.Context, log logger.Logger, submissionID string) {
	defer close(s.ch)

	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.ps.Close()
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event model.StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn(ctx, "dropping undecodable status event",
					logger.String("submissionID", submissionID),
					logger.Error(err),
				)
				continue
			}
			select {
			case s.ch <- event:
			default:
				// Slow subscriber; best-effort delivery drops.
			}
		}
	}
}
