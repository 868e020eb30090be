package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// processedMarkerTTL bounds how long duplicate-delivery markers are kept.
// A redelivery arrives within the reclaim window, so a week is ample.
const processedMarkerTTL = 7 * 24 * time.Hour

// RedisJobStore implements JobStoreClient using Redis as a key-value store
// Keys: jobrec:<key> => JSON(JobRecord)
// Sorted set for listing: jobrecs (score: createdAt unix)
// Processed markers: processed:<deliveryID> with TTL
type RedisJobStore struct {
	client *redis.Client
}

func NewRedisJobStore(client *redis.Client) *RedisJobStore {
	return &RedisJobStore{client: client}
}

func (r *RedisJobStore) recordKey(key string) string { return fmt.Sprintf("jobrec:%s", key) }

func (r *RedisJobStore) SaveRecord(rec *JobRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.recordKey(rec.Key), b, 0)
	pipe.ZAdd(ctx, "jobrecs", redis.Z{Score: float64(rec.CreatedAt.Unix()), Member: rec.Key})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisJobStore) GetRecord(key string) (*JobRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := r.client.Get(ctx, r.recordKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("job record %s not found", key)
		}
		return nil, err
	}
	var rec JobRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RedisJobStore) ListRecords() ([]*JobRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	keys, err := r.client.ZRevRange(ctx, "jobrecs", 0, -1).Result()
	if err != nil {
		return nil, err
	}
	recs := make([]*JobRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := r.GetRecord(key)
		if err == nil {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (r *RedisJobStore) processedKey(id string) string { return fmt.Sprintf("processed:%s", id) }

func (r *RedisJobStore) MarkProcessed(deliveryID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.client.SetNX(ctx, r.processedKey(deliveryID), 1, processedMarkerTTL).Result()
}

func (r *RedisJobStore) WasProcessed(deliveryID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := r.client.Exists(ctx, r.processedKey(deliveryID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
