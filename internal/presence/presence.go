// internal/presence/presence.go
package presence

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"
)

// Tracker records connection heartbeats keyed by {roomID, uid, connectionID}.
// The engine only reads from it; clients write through the heartbeat endpoint.
type Tracker interface {
	Heartbeat(ctx context.Context, roomID, uid, connID string) error
	Leave(ctx context.Context, roomID, uid, connID string) error
	// ActiveUIDs returns the uids with at least one connection heartbeating within the
	// staleness window, sorted.
	ActiveUIDs(ctx context.Context, roomID string) ([]string, error)
	// PruneStale drops stale connections from every room and returns how many went.
	PruneStale(ctx context.Context) (int, error)
}

// Snapshot is the result of a bounded presence query.
type Snapshot struct {
	// Known is false when the query failed or timed out; absence then means "unknown".
	Known bool
	UIDs  []string
}

// Active reports whether uid was seen in a known snapshot.
func (s Snapshot) Active(uid string) bool {
	if !s.Known {
		return false
	}
	return slices.Contains(s.UIDs, uid)
}

// Query asks the tracker for active uids but never waits longer than timeout.
func Query(ctx context.Context, t Tracker, roomID string, timeout time.Duration) Snapshot {
	if t == nil {
		return Snapshot{}
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		uids []string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		uids, err := t.ActiveUIDs(qctx, roomID)
		done <- result{uids, err}
	}()

	select {
	case <-qctx.Done():
		return Snapshot{}
	case r := <-done:
		if r.err != nil {
			return Snapshot{}
		}
		uids := append([]string(nil), r.uids...)
		sort.Strings(uids)
		return Snapshot{Known: true, UIDs: uids}
	}
}

const fieldSep = "|"

func field(uid, connID string) string { return uid + fieldSep + connID }

func uidOf(f string) string {
	uid, _, _ := strings.Cut(f, fieldSep)
	return uid
}
