package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const roomsKey = "presence_rooms"

// Redis keeps one hash per room, "presence:<roomID>", mapping uid|conn to the last
// heartbeat in unix millis, plus a set of rooms that have presence data.
type Redis struct {
	rdb   *redis.Client
	stale time.Duration
	now   func() time.Time
}

// NewRedis builds a redis-backed tracker.
func NewRedis(rdb *redis.Client, stale time.Duration, now func() time.Time) *Redis {
	if now == nil {
		now = time.Now
	}
	return &Redis{rdb: rdb, stale: stale, now: now}
}

func roomKey(roomID string) string { return "presence:" + roomID }

func (r *Redis) Heartbeat(ctx context.Context, roomID, uid, connID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, roomKey(roomID), field(uid, connID), r.now().UnixMilli())
	pipe.SAdd(ctx, roomsKey, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence heartbeat %s/%s: %w", roomID, uid, err)
	}
	return nil
}

func (r *Redis) Leave(ctx context.Context, roomID, uid, connID string) error {
	if err := r.rdb.HDel(ctx, roomKey(roomID), field(uid, connID)).Err(); err != nil {
		return fmt.Errorf("presence leave %s/%s: %w", roomID, uid, err)
	}
	return nil
}

func (r *Redis) ActiveUIDs(ctx context.Context, roomID string) ([]string, error) {
	all, err := r.rdb.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence read %s: %w", roomID, err)
	}
	cutoff := r.now().Add(-r.stale).UnixMilli()
	seen := make(map[string]bool)
	for f, v := range all {
		at, err := strconv.ParseInt(v, 10, 64)
		if err != nil || at <= cutoff {
			continue
		}
		seen[uidOf(f)] = true
	}
	out := make([]string, 0, len(seen))
	for uid := range seen {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Redis) PruneStale(ctx context.Context) (int, error) {
	rooms, err := r.rdb.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("presence list rooms: %w", err)
	}
	cutoff := r.now().Add(-r.stale).UnixMilli()
	pruned := 0
	for _, roomID := range rooms {
		all, err := r.rdb.HGetAll(ctx, roomKey(roomID)).Result()
		if err != nil {
			return pruned, fmt.Errorf("presence read %s: %w", roomID, err)
		}
		var stale []string
		for f, v := range all {
			at, err := strconv.ParseInt(v, 10, 64)
			if err != nil || at <= cutoff {
				stale = append(stale, f)
			}
		}
		if len(stale) > 0 {
			if err := r.rdb.HDel(ctx, roomKey(roomID), stale...).Err(); err != nil {
				return pruned, fmt.Errorf("presence prune %s: %w", roomID, err)
			}
			pruned += len(stale)
		}
		if len(stale) == len(all) {
			r.rdb.SRem(ctx, roomsKey, roomID)
		}
	}
	return pruned, nil
}
