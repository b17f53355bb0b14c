package spectator

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sequence/internal/apperr"
	"github.com/jason-s-yu/sequence/internal/lock"
	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/store"
	"github.com/jason-s-yu/sequence/internal/testutil"
)

type fixture struct {
	ctx    context.Context
	clock  *testutil.Clock
	store  *store.Memory
	locker *lock.Memory
	svc    *Service
	roomID string
}

func newFixture(t *testing.T, status models.RoomStatus) *fixture {
	t.Helper()
	clk := testutil.NewClock()
	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &fixture{
		ctx:    context.Background(),
		clock:  clk,
		store:  store.NewMemory(clk.Now),
		locker: lock.NewMemory(clk.Now),
		roomID: "room-1",
	}
	settings := DefaultSettings()
	settings.Backoff = lock.Backoff{Attempts: 2, Base: time.Millisecond, Factor: 2, Max: 2 * time.Millisecond}
	f.svc = NewService(Deps{
		Store:    f.store,
		Locker:   f.locker,
		Auth:     testutil.Tokens{},
		Logger:   log,
		Now:      clk.Now,
		Settings: settings,
	})

	room := &models.Room{
		ID:            f.roomID,
		Status:        status,
		HostID:        "host",
		CreatorID:     "host",
		Options:       models.DefaultOptions(),
		StatusVersion: 1,
		Deal:          &models.Deal{SeatHistory: map[string]int{"old": 2}},
		CreatedAt:     clk.Now(),
	}
	require.NoError(t, f.store.CreateRoom(f.ctx, room, &models.Player{ID: "host", RoomID: f.roomID}))
	return f
}

func (f *fixture) invite(t *testing.T, maxUses int) *models.SpectatorInvite {
	t.Helper()
	inv, err := f.svc.CreateInvite(f.ctx, InviteRequest{Token: "host", RoomID: f.roomID, MaxUses: maxUses})
	require.NoError(t, err)
	return inv
}

func (f *fixture) session(t *testing.T, viewer string) *models.SpectatorSession {
	t.Helper()
	inv := f.invite(t, 1)
	sess, err := f.svc.ConsumeInvite(f.ctx, ConsumeRequest{Token: viewer, RoomID: f.roomID, InviteID: inv.ID, Name: viewer})
	require.NoError(t, err)
	return sess
}

func (f *fixture) sreq(token, sessionID string) SessionRequest {
	return SessionRequest{Token: token, RoomID: f.roomID, SessionID: sessionID}
}

func TestInviteSingleUse(t *testing.T) {
	f := newFixture(t, models.StatusClue)
	inv := f.invite(t, 1)

	sess, err := f.svc.ConsumeInvite(f.ctx, ConsumeRequest{Token: "v1", RoomID: f.roomID, InviteID: inv.ID})
	require.NoError(t, err)
	assert.Equal(t, models.SessionWatching, sess.Status)
	assert.Equal(t, "Viewer", sess.ViewerName)

	_, err = f.svc.ConsumeInvite(f.ctx, ConsumeRequest{Token: "v2", RoomID: f.roomID, InviteID: inv.ID})
	assert.Equal(t, apperr.CodeInviteLimitReached, apperr.CodeOf(err))

	got, err := f.svc.GetInvite(f.ctx, "host", f.roomID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedCount)
}

func TestInviteFailures(t *testing.T) {
	f := newFixture(t, models.StatusClue)
	inv := f.invite(t, 1)

	_, err := f.svc.ConsumeInvite(f.ctx, ConsumeRequest{Token: "v", RoomID: f.roomID, InviteID: "nope"})
	assert.Equal(t, apperr.CodeInviteNotFound, apperr.CodeOf(err))

	other := &models.Room{ID: "room-2", HostID: "host", Status: models.StatusWaiting}
	require.NoError(t, f.store.CreateRoom(f.ctx, other, nil))
	_, err = f.svc.ConsumeInvite(f.ctx, ConsumeRequest{Token: "v", RoomID: "room-2", InviteID: inv.ID})
	assert.Equal(t, apperr.CodeInviteRoomMismatch, apperr.CodeOf(err))

	f.clock.Advance(25 * time.Hour)
	_, err = f.svc.ConsumeInvite(f.ctx, ConsumeRequest{Token: "v", RoomID: f.roomID, InviteID: inv.ID})
	assert.Equal(t, apperr.CodeInviteExpired, apperr.CodeOf(err))

	_, err = f.svc.CreateInvite(f.ctx, InviteRequest{Token: "v", RoomID: f.roomID})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestRejoinApprove(t *testing.T) {
	f := newFixture(t, models.StatusClue)
	sess := f.session(t, "viewer")

	pending, err := f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("viewer", sess.ID)})
	require.NoError(t, err)
	assert.Equal(t, models.SessionRejoinPending, pending.Status)
	require.NotNil(t, pending.RejoinRequest)
	assert.Equal(t, models.SourceManual, pending.RejoinRequest.Source)
	askedAt := pending.RejoinRequest.CreatedAt

	// asking twice is idempotent
	again, err := f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("viewer", sess.ID)})
	require.NoError(t, err)
	assert.Equal(t, askedAt, again.RejoinRequest.CreatedAt)

	_, err = f.svc.Approve(f.ctx, ResolveRequest{SessionRequest: f.sreq("viewer", sess.ID)})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	f.clock.Advance(5 * time.Second)
	approved, err := f.svc.Approve(f.ctx, ResolveRequest{SessionRequest: f.sreq("host", sess.ID)})
	require.NoError(t, err)
	assert.Equal(t, models.SessionRejoinApproved, approved.Status)
	req := approved.RejoinRequest
	assert.Equal(t, models.RequestAccepted, req.Status)
	assert.Equal(t, askedAt, req.CreatedAt, "createdAt is preserved")
	assert.Equal(t, models.SourceManual, req.Source)
	require.NotNil(t, req.ResolvedAt)
	assert.True(t, req.ResolvedAt.After(req.CreatedAt))
	assert.Equal(t, "host", req.ResolvedBy)

	players, err := f.store.ListPlayers(f.ctx, f.roomID)
	require.NoError(t, err)
	assert.Len(t, players, 2, "viewer holds a seat again")
	room, err := f.store.GetRoom(f.ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), room.StatusVersion)
	assert.Empty(t, f.locker.Holder(f.roomID))

	_, err = f.svc.Approve(f.ctx, ResolveRequest{SessionRequest: f.sreq("host", sess.ID)})
	assert.Equal(t, apperr.CodeRejoinNotPending, apperr.CodeOf(err))
}

func TestApproveWhileRoomBusy(t *testing.T) {
	f := newFixture(t, models.StatusClue)
	sess := f.session(t, "viewer")
	_, err := f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("viewer", sess.ID)})
	require.NoError(t, err)

	ok, err := f.locker.TryAcquire(f.ctx, f.roomID, "start:x", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Approve(f.ctx, ResolveRequest{SessionRequest: f.sreq("host", sess.ID)})
	assert.Equal(t, apperr.CodeLockUnavailable, apperr.CodeOf(err))
	assert.True(t, apperr.Retryable(err))
}

func TestRejectNeedsReason(t *testing.T) {
	f := newFixture(t, models.StatusClue)
	sess := f.session(t, "viewer")
	_, err := f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("viewer", sess.ID)})
	require.NoError(t, err)

	_, err = f.svc.Reject(f.ctx, ResolveRequest{SessionRequest: f.sreq("host", sess.ID), Reason: "   "})
	assert.Equal(t, apperr.CodeInvalidPayload, apperr.CodeOf(err))

	long := make([]rune, 300)
	for i := range long {
		long[i] = 'x'
	}
	rejected, err := f.svc.Reject(f.ctx, ResolveRequest{SessionRequest: f.sreq("host", sess.ID), Reason: string(long)})
	require.NoError(t, err)
	assert.Equal(t, models.SessionRejoinRejected, rejected.Status)
	assert.Equal(t, models.RequestRejected, rejected.RejoinRequest.Status)
	assert.Len(t, []rune(rejected.RejoinRequest.Reason), 200)

	// a rejected viewer may ask again
	again, err := f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("viewer", sess.ID)})
	require.NoError(t, err)
	assert.Equal(t, models.SessionRejoinPending, again.Status)
	assert.Empty(t, again.RejoinRequest.Reason)
}

func TestCancelThenRequestGetsFreshTimestamp(t *testing.T) {
	f := newFixture(t, models.StatusClue)
	sess := f.session(t, "viewer")

	first, err := f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("viewer", sess.ID)})
	require.NoError(t, err)
	firstAt := first.RejoinRequest.CreatedAt

	cancelled, err := f.svc.CancelRejoin(f.ctx, f.sreq("viewer", sess.ID))
	require.NoError(t, err)
	assert.Equal(t, models.SessionWatching, cancelled.Status)
	assert.Nil(t, cancelled.RejoinRequest)

	// the clock has not moved
	second, err := f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("viewer", sess.ID)})
	require.NoError(t, err)
	assert.True(t, second.RejoinRequest.CreatedAt.After(firstAt))

	_, err = f.svc.CancelRejoin(f.ctx, f.sreq("viewer", sess.ID))
	require.NoError(t, err)
	_, err = f.svc.CancelRejoin(f.ctx, f.sreq("viewer", sess.ID))
	assert.Equal(t, apperr.CodeRejoinNotPending, apperr.CodeOf(err))
}

func TestAutoRejoin(t *testing.T) {
	f := newFixture(t, models.StatusClue)

	stranger := f.session(t, "stranger")
	_, err := f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("stranger", stranger.ID), Source: models.SourceAuto})
	assert.Equal(t, apperr.CodeInvalidSource, apperr.CodeOf(err))

	old := f.session(t, "old")
	res, err := f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("old", old.ID), Source: models.SourceAuto})
	require.NoError(t, err)
	assert.Equal(t, models.SessionRejoinPending, res.Status, "rounds in progress still need the host")

	late := f.session(t, "old")
	f.clock.Advance(3 * time.Minute)
	_, err = f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("old", late.ID), Source: models.SourceAuto})
	assert.Equal(t, apperr.CodeInvalidSource, apperr.CodeOf(err))

	_, err = f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("old", late.ID), Source: "robot"})
	assert.Equal(t, apperr.CodeInvalidSource, apperr.CodeOf(err))
}

func TestAutoRejoinApprovedInLobby(t *testing.T) {
	f := newFixture(t, models.StatusWaiting)
	sess := f.session(t, "old")

	res, err := f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("old", sess.ID), Source: models.SourceAuto})
	require.NoError(t, err)
	assert.Equal(t, models.SessionRejoinApproved, res.Status)
	assert.Equal(t, SystemResolver, res.RejoinRequest.ResolvedBy)
}

func TestViewerMismatchAndEnd(t *testing.T) {
	f := newFixture(t, models.StatusClue)
	sess := f.session(t, "viewer")

	_, err := f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("intruder", sess.ID)})
	assert.Equal(t, apperr.CodeViewerMismatch, apperr.CodeOf(err))

	_, err = f.svc.Watch(f.ctx, f.sreq("viewer", "missing"))
	assert.Equal(t, apperr.CodeSessionNotFound, apperr.CodeOf(err))

	view, err := f.svc.Watch(f.ctx, f.sreq("viewer", sess.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusClue, view.RoomStatus)

	ended, err := f.svc.End(f.ctx, EndRequest{SessionRequest: f.sreq("host", sess.ID), Reason: "bye"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, ended.Status)
	assert.Equal(t, "bye", ended.EndedReason)

	_, err = f.svc.End(f.ctx, EndRequest{SessionRequest: f.sreq("viewer", sess.ID)})
	assert.NoError(t, err)

	_, err = f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("viewer", sess.ID)})
	assert.Equal(t, apperr.CodeInvalidStatus, apperr.CodeOf(err))
}

func TestRejoinBlockedByInviteFlag(t *testing.T) {
	f := newFixture(t, models.StatusClue)
	no := false
	inv, err := f.svc.CreateInvite(f.ctx, InviteRequest{Token: "host", RoomID: f.roomID, AllowRejoin: &no})
	require.NoError(t, err)
	sess, err := f.svc.ConsumeInvite(f.ctx, ConsumeRequest{Token: "viewer", RoomID: f.roomID, InviteID: inv.ID})
	require.NoError(t, err)

	_, err = f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("viewer", sess.ID)})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func (f *fixture) setMaxPlayers(t *testing.T, n int) {
	t.Helper()
	err := f.store.RunTx(f.ctx, f.roomID, func(tx store.Tx) error {
		room, err := tx.Room()
		if err != nil {
			return err
		}
		room.Options.MaxPlayers = n
		tx.PutRoom(room)
		return nil
	})
	require.NoError(t, err)
}

func TestApproveIntoFullRoom(t *testing.T) {
	f := newFixture(t, models.StatusClue)
	sess := f.session(t, "viewer")
	_, err := f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("viewer", sess.ID)})
	require.NoError(t, err)
	f.setMaxPlayers(t, 1)
	before, err := f.store.GetRoom(f.ctx, f.roomID)
	require.NoError(t, err)

	_, err = f.svc.Approve(f.ctx, ResolveRequest{SessionRequest: f.sreq("host", sess.ID)})
	assert.Equal(t, apperr.CodeInvalidStatus, apperr.CodeOf(err))

	players, err := f.store.ListPlayers(f.ctx, f.roomID)
	require.NoError(t, err)
	assert.Len(t, players, 1)
	after, err := f.store.GetRoom(f.ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, before.StatusVersion, after.StatusVersion)

	stored, err := f.store.GetSession(f.ctx, f.roomID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionRejoinPending, stored.Status)
	assert.Empty(t, f.locker.Holder(f.roomID))
}

func TestAutoRejoinIntoFullLobbyStaysPending(t *testing.T) {
	f := newFixture(t, models.StatusWaiting)
	f.setMaxPlayers(t, 1)
	sess := f.session(t, "old")

	res, err := f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("old", sess.ID), Source: models.SourceAuto})
	require.NoError(t, err)
	assert.Equal(t, models.SessionRejoinPending, res.Status)
	assert.Equal(t, models.RequestPending, res.RejoinRequest.Status)

	players, err := f.store.ListPlayers(f.ctx, f.roomID)
	require.NoError(t, err)
	assert.Len(t, players, 1)
}

func TestAutoRejoinWaitsForRoomLock(t *testing.T) {
	f := newFixture(t, models.StatusWaiting)
	sess := f.session(t, "old")

	ok, err := f.locker.TryAcquire(f.ctx, f.roomID, "start:x", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.RequestRejoin(f.ctx, RejoinRequest{SessionRequest: f.sreq("old", sess.ID), Source: models.SourceAuto})
	assert.Equal(t, apperr.CodeLockUnavailable, apperr.CodeOf(err))

	stored, err := f.store.GetSession(f.ctx, f.roomID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionWatching, stored.Status)
}

func TestInviteExpiryBoundaryAndUses(t *testing.T) {
	f := newFixture(t, models.StatusClue)
	inv := f.invite(t, 2)

	f.clock.Advance(24 * time.Hour)
	_, err := f.svc.ConsumeInvite(f.ctx, ConsumeRequest{Token: "v1", RoomID: f.roomID, InviteID: inv.ID})
	require.NoError(t, err, "an invite is still good at its expiry instant")

	f.clock.Advance(time.Millisecond)
	_, err = f.svc.ConsumeInvite(f.ctx, ConsumeRequest{Token: "v2", RoomID: f.roomID, InviteID: inv.ID})
	assert.Equal(t, apperr.CodeInviteExpired, apperr.CodeOf(err))

	single := f.invite(t, 0)
	assert.Equal(t, 1, single.MaxUses)

	_, err = f.svc.CreateInvite(f.ctx, InviteRequest{Token: "host", RoomID: f.roomID, MaxUses: -1})
	assert.Equal(t, apperr.CodeInvalidPayload, apperr.CodeOf(err))
}
