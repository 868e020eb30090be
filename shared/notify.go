// shared/notify.go
package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Notifier delivers worker-side outcome notices back to the requester. The
// chat front-end drains them through the gateway; the worker itself never
// talks to the chat surface.
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}

// Notice is one stored notification.
type Notice struct {
	ID   string    `json:"id"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// notificationCap bounds each user's stored notices.
const notificationCap = 50

// RedisNotifier stores notices on a capped per-user stream.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) streamKey(userID string) string {
	return fmt.Sprintf("notifications:%s", userID)
}

func (n *RedisNotifier) Notify(ctx context.Context, userID, text string) error {
	return n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.streamKey(userID),
		MaxLen: notificationCap,
		Approx: true,
		Values: map[string]any{"id": uuid.NewString(), "text": text},
	}).Err()
}

// Recent returns up to count notices for a user, newest first.
func (n *RedisNotifier) Recent(ctx context.Context, userID string, count int) ([]Notice, error) {
	msgs, err := n.client.XRevRangeN(ctx, n.streamKey(userID), "+", "-", int64(count)).Result()
	if err != nil {
		return nil, err
	}
	notices := make([]Notice, 0, len(msgs))
	for _, msg := range msgs {
		notice := Notice{At: streamIDTime(msg.ID)}
		if id, ok := msg.Values["id"].(string); ok {
			notice.ID = id
		}
		if text, ok := msg.Values["text"].(string); ok {
			notice.Text = text
		}
		notices = append(notices, notice)
	}
	return notices, nil
}

// streamIDTime extracts the millisecond timestamp prefix of a stream entry ID.
func streamIDTime(id string) time.Time {
	var ms int64
	if _, err := fmt.Sscanf(id, "%d-", &ms); err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// NopNotifier discards notices; it backs tests and single-process setups.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string) error { return nil }
