package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Tracker.
type Memory struct {
	mu    sync.Mutex
	rooms map[string]map[string]time.Time // roomID -> uid|conn -> last heartbeat
	stale time.Duration
	now   func() time.Time
}

// NewMemory builds a tracker that treats connections older than stale as gone.
func NewMemory(stale time.Duration, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{rooms: make(map[string]map[string]time.Time), stale: stale, now: now}
}

func (m *Memory) Heartbeat(ctx context.Context, roomID, uid, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[roomID] == nil {
		m.rooms[roomID] = make(map[string]time.Time)
	}
	m.rooms[roomID][field(uid, connID)] = m.now()
	return nil
}

func (m *Memory) Leave(ctx context.Context, roomID, uid, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms[roomID], field(uid, connID))
	return nil
}

func (m *Memory) ActiveUIDs(ctx context.Context, roomID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.stale)
	seen := make(map[string]bool)
	for f, at := range m.rooms[roomID] {
		if at.After(cutoff) {
			seen[uidOf(f)] = true
		}
	}
	out := make([]string, 0, len(seen))
	for uid := range seen {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) PruneStale(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.stale)
	n := 0
	for roomID, conns := range m.rooms {
		for f, at := range conns {
			if !at.After(cutoff) {
				delete(conns, f)
				n++
			}
		}
		if len(conns) == 0 {
			delete(m.rooms, roomID)
		}
	}
	return n, nil
}
