package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still carries the caller's holder token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// acquireScript takes a free key, or extends it when the caller already holds it.
var acquireScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
	return 1
end
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// Redis is a Locker backed by SET NX PX.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis builds a Redis locker. Keys are "<prefix><roomID>".
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "room_lock:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) TryAcquire(ctx context.Context, roomID, holder string, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, r.rdb, []string{r.prefix + roomID}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire lock for room %s: %w", roomID, err)
	}
	return n == 1, nil
}

func (r *Redis) Release(ctx context.Context, roomID, holder string) error {
	if err := releaseScript.Run(ctx, r.rdb, []string{r.prefix + roomID}, holder).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock for room %s: %w", roomID, err)
	}
	return nil
}
