// internal/spectator/service.go
package spectator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/apperr"
	"github.com/jason-s-yu/sequence/internal/auth"
	"github.com/jason-s-yu/sequence/internal/lock"
	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/sanitize"
	"github.com/jason-s-yu/sequence/internal/store"
)

const (
	maxReasonRunes = 200
	maxNameRunes   = 24

	// SystemResolver marks requests approved without a host.
	SystemResolver = "system"
)

// Settings are the service tunables.
type Settings struct {
	AutoRejoinGrace time.Duration
	InviteTTL       time.Duration
	LockTTL         time.Duration
	Backoff         lock.Backoff
}

// DefaultSettings mirrors the config defaults.
func DefaultSettings() Settings {
	return Settings{
		AutoRejoinGrace: 2 * time.Minute,
		InviteTTL:       24 * time.Hour,
		LockTTL:         8 * time.Second,
		Backoff:         lock.DefaultBackoff,
	}
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Store    store.Store
	Locker   lock.Locker
	Auth     auth.Verifier
	Logger   logrus.FieldLogger
	Now      func() time.Time
	Settings Settings
}

// Service runs the server side of spectator sessions: invites, watching and the rejoin
// request workflow.
type Service struct {
	store  store.Store
	locker lock.Locker
	auth   auth.Verifier
	log    logrus.FieldLogger
	now    func() time.Time
	cfg    Settings
}

// NewService wires a Service.
func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.Settings == (Settings{}) {
		d.Settings = DefaultSettings()
	}
	return &Service{store: d.Store, locker: d.Locker, auth: d.Auth, log: d.Logger, now: d.Now, cfg: d.Settings}
}

// SessionRequest addresses one session.
type SessionRequest struct {
	Token     string `json:"token"`
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId"`
}

// InviteRequest creates an invite. A zero MaxUses makes a single-use invite.
type InviteRequest struct {
	Token       string            `json:"token"`
	RoomID      string            `json:"roomId"`
	MaxUses     int               `json:"maxUses"`
	TTLMs       int64             `json:"ttlMs"`
	Mode        models.InviteMode `json:"mode"`
	AllowRejoin *bool             `json:"allowRejoin,omitempty"`
}

// ConsumeRequest turns an invite into a session.
type ConsumeRequest struct {
	Token    string `json:"token"`
	RoomID   string `json:"roomId"`
	InviteID string `json:"inviteId"`
	Name     string `json:"name"`
}

func (s *Service) verify(token, roomID string) (auth.Identity, error) {
	id, err := s.auth.Verify(token)
	if err != nil {
		return id, err
	}
	if roomID == "" {
		return id, apperr.New(apperr.CodeRoomIDRequired, "roomId is required")
	}
	return id, nil
}

// tx runs fn against the room and session named by req.
func (s *Service) tx(ctx context.Context, roomID string, fn func(tx store.Tx, room *models.Room) error) error {
	err := s.store.RunTx(ctx, roomID, func(tx store.Tx) error {
		room, err := tx.Room()
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.CodeRoomNotFound, "room not found")
		}
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "load room")
		}
		return fn(tx, room)
	})
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.CodeInternal, err, "transaction failed")
}

func loadSession(tx store.Tx, id string) (*models.SpectatorSession, error) {
	if id == "" {
		return nil, apperr.New(apperr.CodeInvalidPayload, "sessionId is required")
	}
	sess, err := tx.Session(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeSessionNotFound, "session not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "load session")
	}
	return sess, nil
}

func hostOf(room *models.Room, caller auth.Identity) error {
	if caller.Admin || room.IsHost(caller.UID) {
		return nil
	}
	return apperr.New(apperr.CodeForbidden, "only the host may do this")
}

func viewerOf(sess *models.SpectatorSession, caller auth.Identity) error {
	if sess.ViewerUID != caller.UID {
		return apperr.New(apperr.CodeViewerMismatch, "session belongs to another viewer")
	}
	return nil
}

// CreateInvite issues a spectator invite for the room.
func (s *Service) CreateInvite(ctx context.Context, req InviteRequest) (*models.SpectatorInvite, error) {
	caller, err := s.verify(req.Token, req.RoomID)
	if err != nil {
		return nil, err
	}
	if req.MaxUses < 0 {
		return nil, apperr.New(apperr.CodeInvalidPayload, "maxUses must not be negative")
	}
	maxUses := req.MaxUses
	if maxUses == 0 {
		maxUses = 1
	}
	mode := req.Mode
	if mode == "" {
		mode = models.InvitePrivate
	}
	if mode != models.InvitePrivate && mode != models.InvitePublic {
		return nil, apperr.New(apperr.CodeInvalidPayload, "unknown invite mode %q", mode)
	}
	ttl := s.cfg.InviteTTL
	if req.TTLMs > 0 {
		ttl = time.Duration(req.TTLMs) * time.Millisecond
	}
	allow := true
	if req.AllowRejoin != nil {
		allow = *req.AllowRejoin
	}

	var inv *models.SpectatorInvite
	err = s.tx(ctx, req.RoomID, func(tx store.Tx, room *models.Room) error {
		if err := hostOf(room, caller); err != nil {
			return err
		}
		now := s.now()
		inv = &models.SpectatorInvite{
			ID:        uuid.NewString(),
			RoomID:    room.ID,
			CreatedBy: caller.UID,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
			MaxUses:   maxUses,
			Mode:      mode,
			Flags:     models.InviteFlags{AllowRejoin: allow},
		}
		tx.PutInvite(inv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"room_id": req.RoomID, "invite_id": inv.ID, "max_uses": inv.MaxUses}).Info("spectator invite created")
	return inv, nil
}

// GetInvite returns an invite of the room for its host.
func (s *Service) GetInvite(ctx context.Context, token, roomID, inviteID string) (*models.SpectatorInvite, error) {
	caller, err := s.verify(token, roomID)
	if err != nil {
		return nil, err
	}
	var inv *models.SpectatorInvite
	err = s.tx(ctx, roomID, func(tx store.Tx, room *models.Room) error {
		if err := hostOf(room, caller); err != nil {
			return err
		}
		var err error
		inv, err = findInvite(tx, inviteID, roomID)
		return err
	})
	return inv, err
}

func findInvite(tx store.Tx, inviteID, roomID string) (*models.SpectatorInvite, error) {
	if inviteID == "" {
		return nil, apperr.New(apperr.CodeInviteNotFound, "inviteId is required")
	}
	inv, err := tx.Invite(inviteID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeInviteNotFound, "invite not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "load invite")
	}
	if inv.RoomID != roomID {
		return nil, apperr.New(apperr.CodeInviteRoomMismatch, "invite belongs to another room")
	}
	return inv, nil
}

// ConsumeInvite validates the invite, counts the use and opens a watching session, all in
// one transaction.
func (s *Service) ConsumeInvite(ctx context.Context, req ConsumeRequest) (*models.SpectatorSession, error) {
	caller, err := s.verify(req.Token, req.RoomID)
	if err != nil {
		return nil, err
	}
	var sess *models.SpectatorSession
	err = s.tx(ctx, req.RoomID, func(tx store.Tx, room *models.Room) error {
		inv, err := findInvite(tx, req.InviteID, room.ID)
		if err != nil {
			return err
		}
		now := s.now()
		if !inv.ExpiresAt.IsZero() && now.After(inv.ExpiresAt) {
			return apperr.New(apperr.CodeInviteExpired, "invite expired")
		}
		if inv.UsedCount >= inv.MaxUses {
			return apperr.New(apperr.CodeInviteLimitReached, "invite has no uses left")
		}
		inv.UsedCount++
		tx.PutInvite(inv)

		name := sanitize.Text(req.Name, maxNameRunes)
		if name == "" {
			name = "Viewer"
		}
		sess = &models.SpectatorSession{
			ID:         uuid.NewString(),
			RoomID:     room.ID,
			ViewerUID:  caller.UID,
			ViewerName: name,
			InviteID:   inv.ID,
			Status:     models.SessionWatching,
			Mode:       inv.Mode,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		tx.PutSession(sess)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"room_id": req.RoomID, "session_id": sess.ID, "viewer": caller.UID}).Info("spectator session opened")
	return sess, nil
}

// WatchView is what a watching viewer polls.
type WatchView struct {
	Session       *models.SpectatorSession `json:"session"`
	RoomStatus    models.RoomStatus        `json:"roomStatus"`
	StatusVersion int64                    `json:"statusVersion"`
}

// Watch returns the viewer's session with the room's current status.
func (s *Service) Watch(ctx context.Context, req SessionRequest) (*WatchView, error) {
	caller, err := s.verify(req.Token, req.RoomID)
	if err != nil {
		return nil, err
	}
	var out *WatchView
	err = s.tx(ctx, req.RoomID, func(tx store.Tx, room *models.Room) error {
		sess, err := loadSession(tx, req.SessionID)
		if err != nil {
			return err
		}
		if err := hostOf(room, caller); err != nil {
			if err := viewerOf(sess, caller); err != nil {
				return err
			}
		}
		out = &WatchView{Session: sess, RoomStatus: room.Status, StatusVersion: room.StatusVersion}
		return nil
	})
	return out, err
}

// RejoinRequest asks for a seat.
type RejoinRequest struct {
	SessionRequest
	Source models.RequestSource `json:"source"`
}

// RequestRejoin moves a watching or rejected session to rejoinPending with a fresh request.
// Asking again while a request is pending returns the session unchanged.
func (s *Service) RequestRejoin(ctx context.Context, req RejoinRequest) (*models.SpectatorSession, error) {
	caller, err := s.verify(req.Token, req.RoomID)
	if err != nil {
		return nil, err
	}
	source := req.Source
	if source == "" {
		source = models.SourceManual
	}
	if !source.Valid() {
		return nil, apperr.New(apperr.CodeInvalidSource, "unknown source %q", source)
	}

	var out *models.SpectatorSession
	request := func(tx store.Tx, room *models.Room) error {
		sess, err := loadSession(tx, req.SessionID)
		if err != nil {
			return err
		}
		if err := viewerOf(sess, caller); err != nil {
			return err
		}
		if sess.Status == models.SessionRejoinPending && sess.RejoinRequest != nil &&
			sess.RejoinRequest.Status == models.RequestPending {
			out = sess
			return nil
		}
		if sess.Status != models.SessionWatching && sess.Status != models.SessionRejoinRejected {
			return apperr.New(apperr.CodeInvalidStatus, "cannot request a seat from %s", sess.Status)
		}
		if inv, err := tx.Invite(sess.InviteID); err == nil && !inv.Flags.AllowRejoin {
			return apperr.New(apperr.CodeForbidden, "invite does not allow rejoining")
		}

		now := s.now()
		if source == models.SourceAuto {
			if room.Deal == nil || room.Deal.SeatHistory == nil {
				return apperr.New(apperr.CodeInvalidSource, "viewer never held a seat")
			}
			if _, seated := room.Deal.SeatHistory[caller.UID]; !seated {
				return apperr.New(apperr.CodeInvalidSource, "viewer never held a seat")
			}
			if now.Sub(sess.CreatedAt) > s.cfg.AutoRejoinGrace {
				return apperr.New(apperr.CodeInvalidSource, "auto rejoin grace elapsed")
			}
		}

		createdAt := now
		if sess.LastRequestAt != nil && !createdAt.After(*sess.LastRequestAt) {
			createdAt = sess.LastRequestAt.Add(time.Millisecond)
		}
		sess.RejoinRequest = &models.RejoinRequest{
			Status:    models.RequestPending,
			Source:    source,
			CreatedAt: createdAt,
		}
		sess.LastRequestAt = &createdAt
		sess.Status = models.SessionRejoinPending
		sess.UpdatedAt = now

		if source == models.SourceAuto && room.Status == models.StatusWaiting {
			// a full room leaves the request pending for the host
			if err := approve(tx, room, sess, SystemResolver, now); err != nil &&
				apperr.CodeOf(err) != apperr.CodeInvalidStatus {
				return err
			}
		}
		tx.PutSession(sess)
		out = sess
		return nil
	}
	if source == models.SourceAuto {
		// an auto request may seat the viewer, which happens under the room lock
		err = s.withLock(ctx, req.RoomID, lockHolder("rejoin-auto", req.SessionID), func() error {
			return s.tx(ctx, req.RoomID, request)
		})
	} else {
		err = s.tx(ctx, req.RoomID, request)
	}
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"room_id":    req.RoomID,
		"session_id": req.SessionID,
		"source":     source,
		"status":     out.Status,
	}).Info("rejoin requested")
	return out, nil
}

// CancelRejoin withdraws a pending request and returns to watching.
func (s *Service) CancelRejoin(ctx context.Context, req SessionRequest) (*models.SpectatorSession, error) {
	caller, err := s.verify(req.Token, req.RoomID)
	if err != nil {
		return nil, err
	}
	var out *models.SpectatorSession
	err = s.tx(ctx, req.RoomID, func(tx store.Tx, room *models.Room) error {
		sess, err := loadSession(tx, req.SessionID)
		if err != nil {
			return err
		}
		if err := viewerOf(sess, caller); err != nil {
			return err
		}
		if !pending(sess) {
			return apperr.New(apperr.CodeRejoinNotPending, "no pending request")
		}
		sess.RejoinRequest = nil
		sess.Status = models.SessionWatching
		sess.UpdatedAt = s.now()
		tx.PutSession(sess)
		out = sess
		return nil
	})
	return out, err
}

func pending(sess *models.SpectatorSession) bool {
	return sess.Status == models.SessionRejoinPending && sess.RejoinRequest != nil &&
		sess.RejoinRequest.Status == models.RequestPending
}

// hasSeat reports whether uid could be seated without pushing the room past maxPlayers.
func hasSeat(tx store.Tx, room *models.Room, uid string) (bool, error) {
	players, err := tx.Players()
	if err != nil {
		return false, apperr.Wrap(apperr.CodeInternal, err, "list players")
	}
	for _, p := range players {
		if p.ID == uid {
			return true, nil
		}
	}
	return len(players) < room.Options.MaxPlayers, nil
}

// approve resolves the pending request and seats the viewer. The request keeps its
// original createdAt and source. A full room refuses the seat and leaves the request pending.
func approve(tx store.Tx, room *models.Room, sess *models.SpectatorSession, by string, now time.Time) error {
	ok, err := hasSeat(tx, room, sess.ViewerUID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.CodeInvalidStatus, "room is full")
	}
	at := now
	sess.RejoinRequest.Status = models.RequestAccepted
	sess.RejoinRequest.ResolvedAt = &at
	sess.RejoinRequest.ResolvedBy = by
	sess.Status = models.SessionRejoinApproved
	sess.UpdatedAt = now

	p, err := tx.Player(sess.ViewerUID)
	if err != nil {
		p = &models.Player{ID: sess.ViewerUID, RoomID: room.ID, Name: sess.ViewerName, JoinedAt: now}
	}
	p.LastSeen = now
	tx.PutPlayer(p)
	if room.HostID == "" {
		room.HostID = sess.ViewerUID
	}
	room.StatusVersion++
	room.LastActiveAt = now
	tx.PutRoom(room)
	return nil
}

// ResolveRequest approves or rejects a pending request.
type ResolveRequest struct {
	SessionRequest
	Reason string `json:"reason"`
}

// lockHolder names the lock owner for a host resolution.
func lockHolder(kind, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", kind, sessionID, uuid.NewString())
}

// withLock takes the room lock with bounded retries for the duration of fn.
func (s *Service) withLock(ctx context.Context, roomID, holder string, fn func() error) error {
	err := lock.Retry(ctx, s.locker, roomID, holder, s.cfg.LockTTL, s.cfg.Backoff)
	if errors.Is(err, lock.ErrHeld) {
		return apperr.Wrap(apperr.CodeLockUnavailable, err, "room is busy")
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "acquire room lock")
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := s.locker.Release(rctx, roomID, holder); err != nil {
			s.log.WithFields(logrus.Fields{"room_id": roomID, "holder": holder}).WithError(err).Warn("failed to release room lock")
		}
	}()
	return fn()
}

// Approve seats the viewer behind a pending request.
func (s *Service) Approve(ctx context.Context, req ResolveRequest) (*models.SpectatorSession, error) {
	caller, err := s.verify(req.Token, req.RoomID)
	if err != nil {
		return nil, err
	}
	var out *models.SpectatorSession
	err = s.withLock(ctx, req.RoomID, lockHolder("rejoin-accept", req.SessionID), func() error {
		return s.tx(ctx, req.RoomID, func(tx store.Tx, room *models.Room) error {
			if err := hostOf(room, caller); err != nil {
				return err
			}
			sess, err := loadSession(tx, req.SessionID)
			if err != nil {
				return err
			}
			if !pending(sess) {
				return apperr.New(apperr.CodeRejoinNotPending, "no pending request")
			}
			if err := approve(tx, room, sess, caller.UID, s.now()); err != nil {
				return err
			}
			tx.PutSession(sess)
			out = sess
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"room_id": req.RoomID, "session_id": req.SessionID, "by": caller.UID}).Info("rejoin approved")
	return out, nil
}

// Reject declines a pending request with a reason.
func (s *Service) Reject(ctx context.Context, req ResolveRequest) (*models.SpectatorSession, error) {
	caller, err := s.verify(req.Token, req.RoomID)
	if err != nil {
		return nil, err
	}
	reason := sanitize.Text(req.Reason, maxReasonRunes)
	if reason == "" {
		return nil, apperr.New(apperr.CodeInvalidPayload, "a reason is required")
	}
	var out *models.SpectatorSession
	err = s.withLock(ctx, req.RoomID, lockHolder("rejoin-reject", req.SessionID), func() error {
		return s.tx(ctx, req.RoomID, func(tx store.Tx, room *models.Room) error {
			if err := hostOf(room, caller); err != nil {
				return err
			}
			sess, err := loadSession(tx, req.SessionID)
			if err != nil {
				return err
			}
			if !pending(sess) {
				return apperr.New(apperr.CodeRejoinNotPending, "no pending request")
			}
			now := s.now()
			at := now
			sess.RejoinRequest.Status = models.RequestRejected
			sess.RejoinRequest.ResolvedAt = &at
			sess.RejoinRequest.ResolvedBy = caller.UID
			sess.RejoinRequest.Reason = reason
			sess.Status = models.SessionRejoinRejected
			sess.UpdatedAt = now
			tx.PutSession(sess)
			out = sess
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"room_id": req.RoomID, "session_id": req.SessionID, "by": caller.UID}).Info("rejoin rejected")
	return out, nil
}

// EndRequest closes a session.
type EndRequest struct {
	SessionRequest
	Reason string `json:"reason"`
}

// End closes the session for good. Either the viewer or the host may end it; ending an
// ended session is a no-op.
func (s *Service) End(ctx context.Context, req EndRequest) (*models.SpectatorSession, error) {
	caller, err := s.verify(req.Token, req.RoomID)
	if err != nil {
		return nil, err
	}
	var out *models.SpectatorSession
	err = s.tx(ctx, req.RoomID, func(tx store.Tx, room *models.Room) error {
		sess, err := loadSession(tx, req.SessionID)
		if err != nil {
			return err
		}
		if err := viewerOf(sess, caller); err != nil {
			if hostOf(room, caller) != nil {
				return err
			}
		}
		out = sess
		if sess.Status == models.SessionEnded {
			return nil
		}
		sess.Status = models.SessionEnded
		sess.EndedReason = sanitize.Text(req.Reason, maxReasonRunes)
		sess.UpdatedAt = s.now()
		tx.PutSession(sess)
		return nil
	})
	return out, err
}
