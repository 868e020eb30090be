// shared/queue_redis.go
package shared

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisQueue implements MessageQueueClient on a Redis stream with a consumer
// group. The group gives at-least-once delivery: a message stays in the
// pending entries list until XACK, and entries idle past the reclaim threshold
// are claimed back by whichever consumer polls next (crash recovery).
type RedisQueue struct {
	client      *redis.Client
	stream      string
	deadStream  string
	group       string
	consumer    string
	reclaimIdle time.Duration
}

func NewRedisQueue(client *redis.Client, cfg *Config) *RedisQueue {
	return &RedisQueue{
		client:      client,
		stream:      cfg.QueueName,
		deadStream:  cfg.DeadLetterName,
		group:       cfg.ConsumerGroup,
		consumer:    cfg.ConsumerTag,
		reclaimIdle: time.Duration(cfg.ReclaimIdleSec) * time.Second,
	}
}

// Declare creates the stream and consumer group if they do not exist yet.
// Both producer and consumer call this on startup; re-declaring is a no-op.
func (q *RedisQueue) Declare(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: declare %s: %v", ErrQueueUnavailable, q.stream, err)
	}
	return nil
}

// Publish appends the job payload to the stream with default properties.
func (q *RedisQueue) Publish(ctx context.Context, job Job) error {
	payload, err := job.Encode()
	if err != nil {
		return err
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"data": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: publish: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Consume opens the long-lived subscription. The returned channel yields
// deliveries in arrival order and closes on context cancellation or when the
// broker becomes unreachable.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	if err := q.Declare(ctx); err != nil {
		return nil, err
	}
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			// Reclaim deliveries a crashed consumer left pending before
			// asking for new ones.
			claimed := q.reclaimPending(ctx)
			if !q.emit(ctx, out, claimed) {
				return
			}

			res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    q.group,
				Consumer: q.consumer,
				Streams:  []string{q.stream, ">"},
				Count:    10,
				Block:    5 * time.Second,
			}).Result()
			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					if ctx.Err() != nil {
						return
					}
					continue // block timeout, poll again
				}
				log.Errorf("Queue: read failed, stopping consumer: %v", err)
				return
			}
			for _, stream := range res {
				if !q.emit(ctx, out, stream.Messages) {
					return
				}
			}
		}
	}()
	return out, nil
}

// emit decodes raw stream messages into deliveries and pushes them to the
// consumer. Unparsable payloads are acked away so they cannot wedge the group.
func (q *RedisQueue) emit(ctx context.Context, out chan<- Delivery, msgs []redis.XMessage) bool {
	for _, msg := range msgs {
		raw, ok := msg.Values["data"].(string)
		if !ok {
			log.Warnf("Queue: message %s has no data field, discarding", msg.ID)
			q.ackMessage(ctx, msg.ID)
			continue
		}
		job, err := DecodeJob([]byte(raw))
		if err != nil {
			log.Warnf("Queue: message %s is not a job record, discarding: %v", msg.ID, err)
			q.ackMessage(ctx, msg.ID)
			continue
		}
		id := msg.ID
		d := Delivery{
			ID:  id,
			Job: job,
			ack: func(ctx context.Context) error {
				return q.ackMessage(ctx, id)
			},
		}
		select {
		case out <- d:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (q *RedisQueue) reclaimPending(ctx context.Context) []redis.XMessage {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.reclaimIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err != nil && err != redis.Nil && ctx.Err() == nil {
		log.Warnf("Queue: reclaim of pending deliveries failed: %v", err)
		return nil
	}
	if len(msgs) > 0 {
		log.Infof("Queue: reclaimed %d pending deliveries", len(msgs))
	}
	return msgs
}

func (q *RedisQueue) ackMessage(ctx context.Context, id string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, id).Err(); err != nil {
		return fmt.Errorf("%w: ack %s: %v", ErrQueueUnavailable, id, err)
	}
	return nil
}

// DeadLetter copies the payload onto the dead-letter stream together with its
// origin delivery ID, then acks the original so redelivery stops.
func (q *RedisQueue) DeadLetter(ctx context.Context, d Delivery) error {
	payload, err := d.Job.Encode()
	if err != nil {
		return err
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadStream,
		Values: map[string]any{"data": payload, "origin": d.ID},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: dead-letter %s: %v", ErrQueueUnavailable, d.ID, err)
	}
	return d.Ack(ctx)
}

// Close is a no-op; the Redis client is owned by the service main.
func (q *RedisQueue) Close() error { return nil }
