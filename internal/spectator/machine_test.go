package spectator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sequence/internal/apperr"
	"github.com/jason-s-yu/sequence/internal/models"
)

func watching(t *testing.T) Machine {
	t.Helper()
	m, _ := Transition(Machine{}, Init{RoomID: "r"})
	require.Equal(t, StateReady, m.State)
	m, effects := Transition(m, ConsumeInvite{InviteID: "inv", Name: "V"})
	require.Equal(t, StateInviting, m.State)
	require.Equal(t, []Effect{DoConsumeInvite{RoomID: "r", InviteID: "inv", Name: "V"}}, effects)
	m, effects = Transition(m, InviteAccepted{Session: &models.SpectatorSession{ID: "s", Status: models.SessionWatching}})
	require.Equal(t, StateWatching, m.State)
	require.Equal(t, []Effect{DoSubscribe{RoomID: "r", SessionID: "s"}}, effects)
	return m
}

func snap(status models.SessionStatus) Snapshot {
	return Snapshot{Session: &models.SpectatorSession{ID: "s", Status: status}}
}

func TestMachineInviteRejected(t *testing.T) {
	m, _ := Transition(Machine{}, Init{RoomID: "r"})
	m, _ = Transition(m, ConsumeInvite{InviteID: "inv"})
	m, effects := Transition(m, InviteRejected{Code: apperr.CodeInviteExpired})
	assert.Equal(t, StateInvitationRejected, m.State)
	assert.Equal(t, apperr.CodeInviteExpired, m.LastError)
	assert.Empty(t, effects)

	// terminal
	m, effects = Transition(m, RequestRejoin{})
	assert.Equal(t, StateInvitationRejected, m.State)
	assert.Empty(t, effects)
}

func TestMachineRejoinApproved(t *testing.T) {
	m := watching(t)
	m, effects := Transition(m, RequestRejoin{Source: models.SourceManual})
	assert.Equal(t, StateRejoinPending, m.State)
	assert.Equal(t, []Effect{DoRequestRejoin{RoomID: "r", SessionID: "s", Source: models.SourceManual}}, effects)

	m, effects = Transition(m, snap(models.SessionRejoinPending))
	assert.Equal(t, StateRejoinPending, m.State)
	assert.Empty(t, effects)

	m, effects = Transition(m, snap(models.SessionRejoinApproved))
	assert.Equal(t, StateRejoinApproved, m.State)
	assert.Equal(t, []Effect{DoUnsubscribe{}, DoTakeSeat{RoomID: "r"}}, effects)
}

func TestMachineRejectedThenRetry(t *testing.T) {
	m := watching(t)
	m, _ = Transition(m, RequestRejoin{})
	m, _ = Transition(m, snap(models.SessionRejoinRejected))
	assert.Equal(t, StateRejoinRejected, m.State)

	m, effects := Transition(m, RequestRejoin{})
	assert.Equal(t, StateRejoinPending, m.State)
	assert.Len(t, effects, 1)
}

func TestMachineCancelAndFailure(t *testing.T) {
	m := watching(t)
	m, _ = Transition(m, RequestRejoin{})
	m, effects := Transition(m, CancelRejoin{})
	assert.Equal(t, StateWatching, m.State)
	assert.Equal(t, []Effect{DoCancelRejoin{RoomID: "r", SessionID: "s"}}, effects)

	m, _ = Transition(m, RequestRejoin{})
	m, effects = Transition(m, RejoinFailed{Code: apperr.CodeRateLimited})
	assert.Equal(t, StateWatching, m.State)
	assert.Equal(t, apperr.CodeRateLimited, m.LastError)
	assert.Empty(t, effects)
}

func TestMachineEnd(t *testing.T) {
	m := watching(t)
	m, effects := Transition(m, End{Reason: "done"})
	assert.Equal(t, StateEnded, m.State)
	assert.Equal(t, []Effect{DoEndSession{RoomID: "r", SessionID: "s", Reason: "done"}, DoUnsubscribe{}}, effects)

	m = watching(t)
	m, effects = Transition(m, snap(models.SessionEnded))
	assert.Equal(t, StateEnded, m.State)
	assert.Equal(t, []Effect{DoUnsubscribe{}}, effects)

	m = watching(t)
	m, _ = Transition(m, Failed{Code: apperr.CodeInternal})
	assert.Equal(t, StateEnded, m.State)
	assert.True(t, m.Terminal())
}

func TestMachineIgnoresForeignSnapshots(t *testing.T) {
	m := watching(t)
	m, _ = Transition(m, RequestRejoin{})
	other := Snapshot{Session: &models.SpectatorSession{ID: "other", Status: models.SessionRejoinApproved}}
	m, effects := Transition(m, other)
	assert.Equal(t, StateRejoinPending, m.State)
	assert.Empty(t, effects)
}

func TestMachineIgnoresUnexpectedEvents(t *testing.T) {
	m, effects := Transition(Machine{}, RequestRejoin{})
	assert.Equal(t, StateIdle, m.State)
	assert.Empty(t, effects)
}
