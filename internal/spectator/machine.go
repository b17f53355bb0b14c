// internal/spectator/machine.go
package spectator

import (
	"github.com/jason-s-yu/sequence/internal/apperr"
	"github.com/jason-s-yu/sequence/internal/models"
)

// State is the viewer-side position in the spectator workflow.
type State string

const (
	StateIdle               State = "idle"
	StateReady              State = "ready"
	StateInviting           State = "inviting"
	StateWatching           State = "watching"
	StateInvitationRejected State = "invitationRejected"
	StateRejoinPending      State = "rejoinPending"
	StateRejoinApproved     State = "rejoinApproved"
	StateRejoinRejected     State = "rejoinRejected"
	StateEnded              State = "ended"
)

// Machine is the full client-side state. It is a value; Transition returns a new one.
type Machine struct {
	State     State
	RoomID    string
	InviteID  string
	Session   *models.SpectatorSession
	LastError apperr.Code
}

// Event is one input to the machine.
type Event interface{ event() }

type (
	// Init marks the client ready to consume an invite.
	Init struct{ RoomID string }
	// ConsumeInvite asks to open a session with an invite.
	ConsumeInvite struct {
		InviteID string
		Name     string
	}
	// InviteAccepted carries the opened session.
	InviteAccepted struct{ Session *models.SpectatorSession }
	// InviteRejected carries the consume failure.
	InviteRejected struct{ Code apperr.Code }
	// RequestRejoin asks for a seat.
	RequestRejoin struct{ Source models.RequestSource }
	// RejoinFailed reports that the request never reached the server.
	RejoinFailed struct{ Code apperr.Code }
	// CancelRejoin withdraws a pending request.
	CancelRejoin struct{}
	// Snapshot is a session document pushed by the store.
	Snapshot struct{ Session *models.SpectatorSession }
	// End closes the session.
	End struct{ Reason string }
	// Failed is an unrecoverable error.
	Failed struct{ Code apperr.Code }
)

func (Init) event()           {}
func (ConsumeInvite) event()  {}
func (InviteAccepted) event() {}
func (InviteRejected) event() {}
func (RequestRejoin) event()  {}
func (RejoinFailed) event()   {}
func (CancelRejoin) event()   {}
func (Snapshot) event()       {}
func (End) event()            {}
func (Failed) event()         {}

// Effect is a side effect the driver must perform.
type Effect interface{ effect() }

type (
	DoConsumeInvite struct {
		RoomID   string
		InviteID string
		Name     string
	}
	DoSubscribe     struct{ RoomID, SessionID string }
	DoUnsubscribe   struct{}
	DoRequestRejoin struct {
		RoomID, SessionID string
		Source            models.RequestSource
	}
	DoCancelRejoin struct{ RoomID, SessionID string }
	DoEndSession   struct {
		RoomID, SessionID string
		Reason            string
	}
	// DoTakeSeat tells the outer client to switch from viewer to player.
	DoTakeSeat struct{ RoomID string }
)

func (DoConsumeInvite) effect() {}
func (DoSubscribe) effect()     {}
func (DoUnsubscribe) effect()   {}
func (DoRequestRejoin) effect() {}
func (DoCancelRejoin) effect()  {}
func (DoEndSession) effect()    {}
func (DoTakeSeat) effect()      {}

// Terminal reports whether no further events change the state.
func (m Machine) Terminal() bool {
	return m.State == StateEnded || m.State == StateInvitationRejected
}

func (m Machine) sessionID() string {
	if m.Session == nil {
		return ""
	}
	return m.Session.ID
}

// Transition is the pure state transition function. Events that do not apply to the
// current state leave it unchanged with no effects.
func Transition(m Machine, ev Event) (Machine, []Effect) {
	if m.State == "" {
		m.State = StateIdle
	}
	if m.Terminal() {
		return m, nil
	}

	switch ev := ev.(type) {
	case End:
		var effects []Effect
		if m.Session != nil {
			effects = append(effects, DoEndSession{RoomID: m.RoomID, SessionID: m.sessionID(), Reason: ev.Reason}, DoUnsubscribe{})
		}
		m.State = StateEnded
		return m, effects

	case Failed:
		m.LastError = ev.Code
		m.State = StateEnded
		if m.Session != nil {
			return m, []Effect{DoUnsubscribe{}}
		}
		return m, nil
	}

	switch m.State {
	case StateIdle:
		if ev, ok := ev.(Init); ok {
			m.RoomID = ev.RoomID
			m.State = StateReady
		}

	case StateReady:
		if ev, ok := ev.(ConsumeInvite); ok {
			m.InviteID = ev.InviteID
			m.State = StateInviting
			return m, []Effect{DoConsumeInvite{RoomID: m.RoomID, InviteID: ev.InviteID, Name: ev.Name}}
		}

	case StateInviting:
		switch ev := ev.(type) {
		case InviteAccepted:
			m.Session = ev.Session
			m.State = StateWatching
			return m, []Effect{DoSubscribe{RoomID: m.RoomID, SessionID: ev.Session.ID}}
		case InviteRejected:
			m.LastError = ev.Code
			m.State = StateInvitationRejected
		}

	case StateWatching, StateRejoinRejected:
		switch ev := ev.(type) {
		case RequestRejoin:
			m.State = StateRejoinPending
			m.LastError = ""
			return m, []Effect{DoRequestRejoin{RoomID: m.RoomID, SessionID: m.sessionID(), Source: ev.Source}}
		case Snapshot:
			return m.follow(ev.Session)
		}

	case StateRejoinPending:
		switch ev := ev.(type) {
		case CancelRejoin:
			m.State = StateWatching
			return m, []Effect{DoCancelRejoin{RoomID: m.RoomID, SessionID: m.sessionID()}}
		case RejoinFailed:
			m.LastError = ev.Code
			m.State = StateWatching
		case Snapshot:
			return m.follow(ev.Session)
		}

	case StateRejoinApproved:
		if ev, ok := ev.(Snapshot); ok && ev.Session != nil && ev.Session.Status == models.SessionEnded {
			m.Session = ev.Session
			m.State = StateEnded
			return m, []Effect{DoUnsubscribe{}}
		}
	}
	return m, nil
}

// follow moves the machine to match a server snapshot of its session.
func (m Machine) follow(sess *models.SpectatorSession) (Machine, []Effect) {
	if sess == nil || sess.ID != m.sessionID() {
		return m, nil
	}
	m.Session = sess
	switch sess.Status {
	case models.SessionRejoinApproved:
		m.State = StateRejoinApproved
		return m, []Effect{DoUnsubscribe{}, DoTakeSeat{RoomID: m.RoomID}}
	case models.SessionRejoinRejected:
		if m.State == StateRejoinPending {
			m.State = StateRejoinRejected
		}
	case models.SessionEnded:
		m.State = StateEnded
		return m, []Effect{DoUnsubscribe{}}
	case models.SessionWatching:
		// A pending request the server no longer holds was cancelled elsewhere.
		if m.State == StateRejoinPending && sess.RejoinRequest == nil {
			m.State = StateWatching
		}
	}
	return m, nil
}
