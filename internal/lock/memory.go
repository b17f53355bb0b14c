package lock

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/sequence/internal/models"
)

// Memory is an in-process Locker.
type Memory struct {
	mu    sync.Mutex
	locks map[string]models.Lock
	now   func() time.Time
}

// NewMemory returns a Memory locker using now as its clock (time.Now when nil).
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{locks: make(map[string]models.Lock), now: now}
}

func (m *Memory) TryAcquire(ctx context.Context, roomID, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.locks[roomID]; ok && now.Before(cur.ExpiresAt) && cur.Holder != holder {
		return false, nil
	}
	m.locks[roomID] = models.Lock{Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	return true, nil
}

func (m *Memory) Release(ctx context.Context, roomID, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.locks[roomID]; ok && cur.Holder == holder {
		delete(m.locks, roomID)
	}
	return nil
}

// Holder returns the current holder, or "" when the lock is free or expired.
func (m *Memory) Holder(roomID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.locks[roomID]
	if !ok || !m.now().Before(cur.ExpiresAt) {
		return ""
	}
	return cur.Holder
}
