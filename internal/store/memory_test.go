package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sequence/internal/models"
)

func seedRoom(t *testing.T, m *Memory) *models.Room {
	t.Helper()
	room := &models.Room{ID: "r1", Status: models.StatusWaiting, HostID: "host", StatusVersion: 1}
	require.NoError(t, m.CreateRoom(context.Background(), room, &models.Player{ID: "host", RoomID: "r1", Name: "Host"}))
	return room
}

func TestMemoryCreateAndGet(t *testing.T) {
	m := NewMemory(nil)
	seedRoom(t, m)
	ctx := context.Background()

	got, err := m.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "host", got.HostID)

	got.HostID = "mutated"
	again, err := m.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "host", again.HostID, "reads return copies")

	_, err = m.GetRoom(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, m.CreateRoom(ctx, &models.Room{ID: "r1"}, nil))
}

func TestMemoryTxRollsBackOnError(t *testing.T) {
	m := NewMemory(nil)
	seedRoom(t, m)
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.RunTx(ctx, "r1", func(tx Tx) error {
		r, err := tx.Room()
		require.NoError(t, err)
		r.Status = models.StatusClue
		tx.PutRoom(r)
		tx.PutPlayer(&models.Player{ID: "a", RoomID: "r1"})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	r, err := m.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, r.Status)
	players, err := m.ListPlayers(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, players, 1)
}

func TestMemoryTxSeesOwnWrites(t *testing.T) {
	m := NewMemory(nil)
	seedRoom(t, m)

	err := m.RunTx(context.Background(), "r1", func(tx Tx) error {
		tx.PutPlayer(&models.Player{ID: "a", RoomID: "r1"})
		tx.DeletePlayer("host")
		players, err := tx.Players()
		require.NoError(t, err)
		require.Len(t, players, 1)
		assert.Equal(t, "a", players[0].ID)

		_, err = tx.Player("host")
		assert.ErrorIs(t, err, ErrNotFound)

		doc, err := tx.Proposal()
		require.NoError(t, err)
		assert.Nil(t, doc)
		tx.PutProposal(&models.ProposalDoc{RoomID: "r1", Proposal: []string{"a"}, Seed: "s"})
		doc, err = tx.Proposal()
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, doc.Proposal)
		return nil
	})
	require.NoError(t, err)
}

func TestMemorySubscribe(t *testing.T) {
	m := NewMemory(nil)
	seedRoom(t, m)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := m.Subscribe(ctx, "r1")
	require.NoError(t, err)

	err = m.RunTx(ctx, "r1", func(tx Tx) error {
		r, err := tx.Room()
		if err != nil {
			return err
		}
		r.StatusVersion++
		tx.PutRoom(r)
		tx.PutSession(&models.SpectatorSession{ID: "s1", RoomID: "r1", Status: models.SessionWatching})
		return nil
	})
	require.NoError(t, err)

	kinds := map[ChangeKind]Change{}
	for i := 0; i < 2; i++ {
		select {
		case c := <-ch:
			kinds[c.Kind] = c
		case <-time.After(time.Second):
			t.Fatal("no change received")
		}
	}
	assert.Equal(t, int64(2), kinds[ChangeRoom].StatusVersion)
	assert.Equal(t, "s1", kinds[ChangeSession].ID)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryInvitesAndDelete(t *testing.T) {
	m := NewMemory(nil)
	seedRoom(t, m)
	ctx := context.Background()

	err := m.RunTx(ctx, "r1", func(tx Tx) error {
		tx.PutInvite(&models.SpectatorInvite{ID: "inv", RoomID: "r1", MaxUses: 1})
		return nil
	})
	require.NoError(t, err)

	// invites are visible from any room's transaction
	err = m.RunTx(ctx, "other", func(tx Tx) error {
		inv, err := tx.Invite("inv")
		require.NoError(t, err)
		assert.Equal(t, "r1", inv.RoomID)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, m.DeleteRoom(ctx, "r1"))
	assert.ErrorIs(t, m.DeleteRoom(ctx, "r1"), ErrNotFound)
	err = m.RunTx(ctx, "r2", func(tx Tx) error {
		_, err := tx.Invite("inv")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}
