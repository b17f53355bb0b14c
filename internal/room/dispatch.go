// internal/room/dispatch.go
package room

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/apperr"
	"github.com/jason-s-yu/sequence/internal/auth"
	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/store"
)

// Kind names a room command. It prefixes lock holders and audit records.
type Kind string

const (
	KindStart          Kind = "start"
	KindDeal           Kind = "deal"
	KindSubmitOrder    Kind = "submit-order"
	KindMutateProposal Kind = "mutate-proposal"
	KindCommitPlay     Kind = "commit-play"
	KindReset          Kind = "reset"
	KindContinue       Kind = "continue-after-fail"
	KindFinalize       Kind = "finalize-reveal"
	KindUpdateOptions  Kind = "update-options"
)

// Request is the envelope every room command carries.
type Request struct {
	Token     string `json:"token"`
	RoomID    string `json:"roomId"`
	RequestID string `json:"requestId"`
}

// Result is what a command hands back to its caller.
type Result struct {
	Room     *models.Room
	Replayed bool
	Proposal []string
	Complete bool
}

// mutation is the state a command's apply step works on.
type mutation struct {
	tx        store.Tx
	room      *models.Room
	caller    auth.Identity
	requestID string
	now       time.Time
	result    *Result
}

// command describes one room command to the dispatcher.
type command struct {
	kind Kind
	req  Request

	// hostOnly rejects callers who are not host, creator or admin.
	hostOnly bool
	// authorize runs after the host check for commands open to participants.
	authorize func(room *models.Room, caller auth.Identity) error
	// replayed reports whether the room already carries this request's token.
	replayed func(room *models.Room, requestID string) bool
	// throttled commands are refused inside the rate-limit window.
	throttled bool
	// from lists the statuses the command may start from; nil means any.
	from []models.RoomStatus
	// precheck runs after the status check for extra preconditions.
	precheck func(room *models.Room) error
	// prepare runs once the lock is held and before the transaction opens.
	prepare func(ctx context.Context) error
	apply   func(ctx context.Context, m *mutation) error
}

func isHost(room *models.Room, caller auth.Identity) bool {
	return caller.Admin || room.IsHost(caller.UID)
}

// execute runs cmd through the shared wrapper: authenticate, take the room lock, then in a
// single transaction check authorization, idempotency, the rate limit and the status
// precondition before applying the change and bumping statusVersion.
func (e *Engine) execute(ctx context.Context, cmd command) (*Result, error) {
	if cmd.req.RoomID == "" {
		return nil, apperr.New(apperr.CodeRoomIDRequired, "roomId is required")
	}
	if cmd.req.RequestID == "" {
		cmd.req.RequestID = uuid.NewString()
	}

	caller, err := e.auth.Verify(cmd.req.Token)
	if err != nil {
		return nil, err
	}

	rec := models.CommandRecord{
		RoomID:    cmd.req.RoomID,
		UID:       caller.UID,
		RequestID: cmd.req.RequestID,
		Command:   string(cmd.kind),
	}
	defer func() { e.record(ctx, &rec) }()

	holder := fmt.Sprintf("%s:%s", cmd.kind, cmd.req.RequestID)
	ok, err := e.locker.TryAcquire(ctx, cmd.req.RoomID, holder, e.cfg.LockTTL)
	if err != nil {
		err = apperr.Wrap(apperr.CodeInternal, err, "acquire room lock")
		rec.Outcome, rec.Error = models.OutcomeRejected, string(apperr.CodeOf(err))
		return nil, err
	}
	if !ok {
		err = apperr.New(apperr.CodeRateLimited, "another command holds room %s", cmd.req.RoomID)
		rec.Outcome, rec.Error = models.OutcomeRejected, string(apperr.CodeRateLimited)
		return nil, err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := e.locker.Release(rctx, cmd.req.RoomID, holder); err != nil {
			e.log.WithFields(logrus.Fields{"room_id": cmd.req.RoomID, "holder": holder}).
				WithError(err).Warn("failed to release room lock")
		}
	}()

	if cmd.prepare != nil {
		if err := cmd.prepare(ctx); err != nil {
			rec.Outcome, rec.Error = models.OutcomeRejected, string(apperr.CodeOf(err))
			return nil, err
		}
	}

	res := &Result{}
	err = e.store.RunTx(ctx, cmd.req.RoomID, func(tx store.Tx) error {
		room, err := loadRoom(tx)
		if err != nil {
			return err
		}
		rec.PrevStatus = string(room.Status)

		if cmd.hostOnly && !isHost(room, caller) {
			return apperr.New(apperr.CodeForbidden, "%s requires the host", cmd.kind)
		}
		if cmd.authorize != nil {
			if err := cmd.authorize(room, caller); err != nil {
				return err
			}
		}
		if cmd.replayed != nil && cmd.replayed(room, cmd.req.RequestID) {
			res.Room, res.Replayed = room, true
			return nil
		}
		now := e.now()
		if cmd.throttled && !room.FreshRound() && room.LastCommandAt != nil &&
			now.Sub(*room.LastCommandAt) < e.cfg.RateLimitWindow {
			return apperr.New(apperr.CodeRateLimited, "room %s is cooling down", room.ID)
		}
		if cmd.from != nil && !slices.Contains(cmd.from, room.Status) {
			return apperr.New(apperr.CodeInvalidStatus, "%s not allowed from %s", cmd.kind, room.Status)
		}
		if cmd.precheck != nil {
			if err := cmd.precheck(room); err != nil {
				return err
			}
		}

		m := &mutation{tx: tx, room: room, caller: caller, requestID: cmd.req.RequestID, now: now, result: res}
		if err := cmd.apply(ctx, m); err != nil {
			return err
		}
		room.StatusVersion++
		room.LastCommandAt = &now
		room.LastActiveAt = now
		tx.PutRoom(room)
		res.Room = room
		return nil
	})
	if err != nil {
		err = asAppErr(err)
		rec.Outcome, rec.Error = models.OutcomeRejected, string(apperr.CodeOf(err))
		return nil, err
	}

	rec.NextStatus = string(res.Room.Status)
	rec.StatusVersion = res.Room.StatusVersion
	rec.Outcome = models.OutcomeApplied
	if res.Replayed {
		rec.Outcome = models.OutcomeReplayed
	}
	return res, nil
}

// record logs the attempt and queues it for the historian.
func (e *Engine) record(ctx context.Context, rec *models.CommandRecord) {
	rec.Timestamp = e.now().UnixMilli()
	fields := logrus.Fields{
		"room_id":        rec.RoomID,
		"uid":            rec.UID,
		"request_id":     rec.RequestID,
		"command":        rec.Command,
		"prev_status":    rec.PrevStatus,
		"next_status":    rec.NextStatus,
		"status_version": rec.StatusVersion,
		"outcome":        rec.Outcome,
	}
	switch rec.Error {
	case "":
		e.log.WithFields(fields).Info("room command")
	case string(apperr.CodeInternal):
		fields["error"] = rec.Error
		e.log.WithFields(fields).Error("room command failed")
	default:
		fields["error"] = rec.Error
		e.log.WithFields(fields).Warn("room command rejected")
	}
	if e.audit == nil {
		return
	}
	if err := e.audit.PublishCommandRecord(context.WithoutCancel(ctx), *rec); err != nil {
		e.log.WithFields(fields).WithError(err).Warn("failed to queue audit record")
	}
}

func loadRoom(tx store.Tx) (*models.Room, error) {
	room, err := tx.Room()
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeRoomNotFound, "room not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "load room")
	}
	return room, nil
}

// asAppErr keeps coded errors and wraps anything else as internal.
func asAppErr(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.CodeInternal, err, "request cancelled")
	}
	return apperr.Wrap(apperr.CodeInternal, err, "transaction failed")
}
