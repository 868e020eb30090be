// shared/queue.go
package shared

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Delivery is one job handed to a consumer together with its acknowledgment
// handle. The delivery ID is stable across redeliveries of the same message,
// which is what the worker's duplicate-delivery dedup keys on.
type Delivery struct {
	ID  string
	Job Job

	ack func(ctx context.Context) error
}

// Ack removes the message from the durable queue. Until it is called the
// broker considers the job undelivered and will eventually hand it out again.
func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// MessageQueueClient is the durable handoff between job intake and workers.
// Declaring the underlying channel is idempotent on both sides.
type MessageQueueClient interface {
	// Publish appends a job to the queue, returning synchronously.
	Publish(ctx context.Context, job Job) error
	// Consume yields deliveries in arrival order until the context is
	// cancelled or the connection is lost, at which point the channel closes.
	Consume(ctx context.Context) (<-chan Delivery, error)
	// DeadLetter moves an exhausted delivery to the dead-letter channel and
	// acknowledges the original, so the job is preserved but stops redelivering.
	DeadLetter(ctx context.Context, d Delivery) error
	Close() error
}

// InMemoryQueue implements MessageQueueClient on a Go channel. It backs tests
// of queue semantics; services always run against the Redis implementation.
type InMemoryQueue struct {
	queue chan Delivery
	stop  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	nextID  int
	pending map[string]Job // delivered but not yet acked
	dead    []Job
}

// NewInMemoryQueue creates a new in-memory queue instance
func NewInMemoryQueue(bufferSize int) *InMemoryQueue {
	return &InMemoryQueue{
		queue:   make(chan Delivery, bufferSize),
		stop:    make(chan struct{}),
		pending: make(map[string]Job),
	}
}

// Publish sends a job to the queue
func (q *InMemoryQueue) Publish(ctx context.Context, job Job) error {
	q.mu.Lock()
	q.nextID++
	id := strconv.Itoa(q.nextID)
	q.mu.Unlock()
	return q.enqueue(id, job)
}

func (q *InMemoryQueue) enqueue(id string, job Job) error {
	// Refuse before touching q.queue: a closed queue must error, and the
	// send select below would pick a ready case at random.
	select {
	case <-q.stop:
		return fmt.Errorf("%w: queue is closed", ErrQueueUnavailable)
	default:
	}
	d := Delivery{
		ID:  id,
		Job: job,
		ack: func(context.Context) error {
			q.mu.Lock()
			defer q.mu.Unlock()
			delete(q.pending, id)
			return nil
		},
	}
	select {
	case q.queue <- d:
		q.mu.Lock()
		q.pending[id] = job
		q.mu.Unlock()
		return nil
	case <-q.stop:
		return fmt.Errorf("%w: queue is closed", ErrQueueUnavailable)
	default:
		return fmt.Errorf("%w: queue is full", ErrQueueUnavailable)
	}
}

// Consume returns a channel from which deliveries can be received
func (q *InMemoryQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-q.queue:
				if !ok {
					return
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			case <-q.stop:
				return
			}
		}
	}()
	return out, nil
}

// DeadLetter records the job on the dead-letter list and acks the delivery.
func (q *InMemoryQueue) DeadLetter(ctx context.Context, d Delivery) error {
	q.mu.Lock()
	q.dead = append(q.dead, d.Job)
	q.mu.Unlock()
	return d.Ack(ctx)
}

// DeadLetters returns jobs routed to the dead-letter list, for tests.
func (q *InMemoryQueue) DeadLetters() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.dead...)
}

// Redeliver re-queues every delivered-but-unacked job under its original
// delivery ID, simulating a consumer crash for at-least-once tests.
func (q *InMemoryQueue) Redeliver() int {
	q.mu.Lock()
	snapshot := make(map[string]Job, len(q.pending))
	for id, job := range q.pending {
		snapshot[id] = job
	}
	q.mu.Unlock()

	n := 0
	for id, job := range snapshot {
		if err := q.enqueue(id, job); err == nil {
			n++
		}
	}
	return n
}

// Close stops the queue from accepting new messages and ends consumption.
// The delivery channel itself stays open: closing it would turn a late
// Publish into a send on a closed channel.
func (q *InMemoryQueue) Close() error {
	q.once.Do(func() {
		log.Debug("Queue: closing")
		close(q.stop)
	})
	return nil
}
