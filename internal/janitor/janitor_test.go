package janitor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sequence/internal/lock"
	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/presence"
	"github.com/jason-s-yu/sequence/internal/room"
	"github.com/jason-s-yu/sequence/internal/store"
	"github.com/jason-s-yu/sequence/internal/testutil"
)

type fixture struct {
	ctx      context.Context
	clock    *testutil.Clock
	store    *store.Memory
	presence *presence.Memory
	engine   *room.Engine
	janitor  *Janitor
}

type prunerFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f prunerFunc) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := testutil.NewClock()
	log := logrus.New()
	log.SetOutput(io.Discard)
	f := &fixture{
		ctx:      context.Background(),
		clock:    clk,
		store:    store.NewMemory(clk.Now),
		presence: presence.NewMemory(45*time.Second, clk.Now),
	}
	f.engine = room.NewEngine(room.Deps{
		Store:    f.store,
		Locker:   lock.NewMemory(clk.Now),
		Presence: f.presence,
		Auth:     testutil.Tokens{},
		Audit:    &testutil.Audit{},
		Logger:   log,
		Now:      clk.Now,
	})
	f.janitor = &Janitor{
		Store:    f.store,
		Presence: f.presence,
		Log:      log,
		Now:      clk.Now,
		Settings: Settings{
			IdleRoom:        30 * time.Minute,
			GhostRoom:       10 * time.Minute,
			EventRetention:  7 * 24 * time.Hour,
			PresenceTimeout: time.Second,
		},
	}
	return f
}

// started returns a room in clue status with host and p1 dealt.
func (f *fixture) started(t *testing.T) string {
	t.Helper()
	r, err := f.engine.CreateRoom(f.ctx, "host", "Host", nil)
	require.NoError(t, err)
	_, err = f.engine.JoinRoom(f.ctx, "p1", r.ID, "P1", "")
	require.NoError(t, err)
	require.NoError(t, f.engine.Heartbeat(f.ctx, "host", r.ID, "c1"))
	require.NoError(t, f.engine.Heartbeat(f.ctx, "p1", r.ID, "c1"))
	_, err = f.engine.Start(f.ctx, room.Request{Token: "host", RoomID: r.ID, RequestID: "s1"})
	require.NoError(t, err)
	return r.ID
}

func TestPrunePresence(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.presence.Heartbeat(f.ctx, "r1", "a", "c1"))
	require.NoError(t, f.presence.Heartbeat(f.ctx, "r1", "b", "c1"))
	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.presence.Heartbeat(f.ctx, "r1", "b", "c1"))
	f.clock.Advance(20 * time.Second)

	n, err := f.janitor.PrunePresence(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	uids, err := f.presence.ActiveUIDs(f.ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, uids)
}

func TestResetIdleRooms(t *testing.T) {
	f := newFixture(t)
	roomID := f.started(t)
	before, err := f.store.GetRoom(f.ctx, roomID)
	require.NoError(t, err)

	// Still within the idle window.
	n, err := f.janitor.ResetIdleRooms(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(31 * time.Minute)
	_, err = f.janitor.PrunePresence(f.ctx)
	require.NoError(t, err)

	n, err = f.janitor.ResetIdleRooms(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := f.store.GetRoom(f.ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, after.Status)
	assert.Equal(t, before.StatusVersion+1, after.StatusVersion)
	assert.True(t, after.FreshRound())
	assert.Nil(t, after.Order)

	players, err := f.store.ListPlayers(f.ctx, roomID)
	require.NoError(t, err)
	for _, p := range players {
		assert.Nil(t, p.Number, p.ID)
	}
}

func TestResetIdleRoomsKeepsConnectedRooms(t *testing.T) {
	f := newFixture(t)
	roomID := f.started(t)
	f.clock.Advance(31 * time.Minute)
	require.NoError(t, f.presence.Heartbeat(f.ctx, roomID, "p1", "c2"))

	n, err := f.janitor.ResetIdleRooms(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	r, err := f.store.GetRoom(f.ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClue, r.Status)
}

func TestDeleteGhostRooms(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	ghost := &models.Room{ID: "ghost", Status: models.StatusWaiting, CreatedAt: now, LastActiveAt: now}
	require.NoError(t, f.store.CreateRoom(f.ctx, ghost, nil))
	kept, err := f.engine.CreateRoom(f.ctx, "host", "Host", nil)
	require.NoError(t, err)

	n, err := f.janitor.DeleteGhostRooms(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "too young")

	f.clock.Advance(11 * time.Minute)
	n, err = f.janitor.DeleteGhostRooms(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.store.GetRoom(f.ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.store.GetRoom(f.ctx, kept.ID)
	assert.NoError(t, err)
}

func TestPurgeExpiredRooms(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	require.NoError(t, f.store.CreateRoom(f.ctx, &models.Room{ID: "old", ExpiresAt: now.Add(time.Hour)}, nil))
	require.NoError(t, f.store.CreateRoom(f.ctx, &models.Room{ID: "forever"}, nil))
	require.NoError(t, f.store.CreateRoom(f.ctx, &models.Room{ID: "new", ExpiresAt: now.Add(48 * time.Hour)}, nil))

	f.clock.Advance(2 * time.Hour)
	n, err := f.janitor.PurgeExpiredRooms(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rooms, err := f.store.ListRooms(f.ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"forever", "new"}, ids)
}

func TestPruneEvents(t *testing.T) {
	f := newFixture(t)
	n, err := f.janitor.PruneEvents(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "no event store")

	var got time.Time
	f.janitor.Events = prunerFunc(func(ctx context.Context, cutoff time.Time) (int64, error) {
		got = cutoff
		return 3, nil
	})
	n, err = f.janitor.PruneEvents(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, f.clock.Now().Add(-7*24*time.Hour), got)
}

func TestRunOnceJoinsErrors(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	ran := 0
	err := f.janitor.RunOnce(f.ctx,
		Job{Name: "bad", Run: func(context.Context) (int, error) { ran++; return 0, boom }},
		Job{Name: "good", Run: func(context.Context) (int, error) { ran++; return 1, nil }},
	)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, ran)
}

func TestJobLookup(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"presence", "idle", "ghost", "expired", "events"} {
		job, ok := f.janitor.Job(name)
		require.True(t, ok, name)
		assert.Positive(t, job.Every)
	}
	_, ok := f.janitor.Job("chat")
	assert.False(t, ok)
}
