// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jason-s-yu/sequence/internal/models"
)

// DefaultQueueName is the Redis list (queue) name for command audit records.
const DefaultQueueName = "sequence_audit"

// Connect builds a Redis client and pings it.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// AuditQueue pushes command records onto a Redis list for the historian.
type AuditQueue struct {
	rdb   *redis.Client
	queue string
}

// NewAuditQueue returns a queue writer; an empty name means DefaultQueueName.
func NewAuditQueue(rdb *redis.Client, queue string) *AuditQueue {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &AuditQueue{rdb: rdb, queue: queue}
}

// PublishCommandRecord serializes the record to JSON and pushes it to the queue.
func (q *AuditQueue) PublishCommandRecord(ctx context.Context, record models.CommandRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal CommandRecord: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.queue, err)
	}
	return nil
}

// Pop blocks up to timeout for the next record. It returns nil, nil when the queue stayed
// empty. A record that does not decode is returned as an error and dropped.
func (q *AuditQueue) Pop(ctx context.Context, timeout time.Duration) (*models.CommandRecord, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return nil, nil
	}
	var record models.CommandRecord
	if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
		return nil, fmt.Errorf("invalid command record: %w", err)
	}
	return &record, nil
}
