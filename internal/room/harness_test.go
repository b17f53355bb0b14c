package room

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sequence/internal/lock"
	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/presence"
	"github.com/jason-s-yu/sequence/internal/store"
	"github.com/jason-s-yu/sequence/internal/testutil"
)

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *testutil.Clock
	store    *store.Memory
	locker   *lock.Memory
	presence *presence.Memory
	audit    *testutil.Audit
	engine   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := testutil.NewClock()
	log := logrus.New()
	log.SetOutput(io.Discard)

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    clk,
		store:    store.NewMemory(clk.Now),
		locker:   lock.NewMemory(clk.Now),
		presence: presence.NewMemory(45*time.Second, clk.Now),
		audit:    &testutil.Audit{},
	}
	h.engine = NewEngine(Deps{
		Store:    h.store,
		Locker:   h.locker,
		Presence: h.presence,
		Auth:     testutil.Tokens{},
		Audit:    h.audit,
		Logger:   log,
		Now:      clk.Now,
	})
	return h
}

// room creates a room hosted by "host" with the other uids joined, everyone heartbeating.
func (h *harness) room(uids ...string) string {
	h.t.Helper()
	r, err := h.engine.CreateRoom(h.ctx, "host", "Host", nil)
	require.NoError(h.t, err)
	require.NoError(h.t, h.engine.Heartbeat(h.ctx, "host", r.ID, "c1"))
	for _, uid := range uids {
		_, err := h.engine.JoinRoom(h.ctx, uid, r.ID, uid, "")
		require.NoError(h.t, err)
		require.NoError(h.t, h.engine.Heartbeat(h.ctx, uid, r.ID, "c1"))
	}
	return r.ID
}

func (h *harness) get(roomID string) *models.Room {
	h.t.Helper()
	r, err := h.store.GetRoom(h.ctx, roomID)
	require.NoError(h.t, err)
	return r
}

func (h *harness) req(token, roomID, requestID string) Request {
	return Request{Token: token, RoomID: roomID, RequestID: requestID}
}

// cool moves the clock past the rate-limit window.
func (h *harness) cool() { h.clock.Advance(2 * time.Second) }

// setMode switches the resolve mode while waiting.
func (h *harness) setMode(roomID string, mode models.ResolveMode) {
	h.t.Helper()
	_, err := h.engine.UpdateOptions(h.ctx, h.req("host", roomID, ""), OptionsPatch{ResolveMode: &mode})
	require.NoError(h.t, err)
	h.cool()
}

// rig overwrites the dealt numbers so reveal outcomes are predictable.
func (h *harness) rig(roomID string, numbers map[string]int) {
	h.t.Helper()
	err := h.store.RunTx(h.ctx, roomID, func(tx store.Tx) error {
		r, err := tx.Room()
		if err != nil {
			return err
		}
		for uid, n := range numbers {
			r.Deal.Numbers[uid] = n
			r.Order.Numbers[uid] = n
		}
		tx.PutRoom(r)
		return nil
	})
	require.NoError(h.t, err)
}
