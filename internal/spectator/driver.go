// internal/spectator/driver.go
package spectator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/apperr"
	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/store"
)

// API is the slice of the Service the driver calls.
type API interface {
	ConsumeInvite(ctx context.Context, req ConsumeRequest) (*models.SpectatorSession, error)
	RequestRejoin(ctx context.Context, req RejoinRequest) (*models.SpectatorSession, error)
	CancelRejoin(ctx context.Context, req SessionRequest) (*models.SpectatorSession, error)
	End(ctx context.Context, req EndRequest) (*models.SpectatorSession, error)
}

// Driver owns one Machine, executes its effects and feeds session snapshots from the
// store back in. All steps run under one mutex so a snapshot is always read after the
// effects of earlier events have landed.
type Driver struct {
	api   API
	store store.Store
	token string
	log   logrus.FieldLogger

	// OnChange, if set, is called with every new machine value.
	OnChange func(Machine)
	// OnSeat, if set, is called once the viewer has been given a seat.
	OnSeat func(roomID string)

	mu     sync.Mutex
	m      Machine
	cancel context.CancelFunc
	subWG  sync.WaitGroup
}

// NewDriver builds a driver acting for the holder of token.
func NewDriver(api API, st store.Store, token string, log logrus.FieldLogger) *Driver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Driver{api: api, store: st, token: token, log: log, m: Machine{State: StateIdle}}
}

// Machine returns the current state.
func (d *Driver) Machine() Machine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.m
}

// Dispatch feeds ev through the machine and runs every resulting effect, including the
// follow-up events those effects produce.
func (d *Driver) Dispatch(ctx context.Context, ev Event) Machine {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.run(ctx, ev)
	return d.m
}

// Close stops the store subscription.
func (d *Driver) Close() {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
	d.subWG.Wait()
}

func (d *Driver) run(ctx context.Context, first Event) {
	queue := []Event{first}
	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]

		prev := d.m.State
		next, effects := Transition(d.m, ev)
		d.m = next
		if next.State != prev {
			d.log.WithFields(logrus.Fields{"room_id": next.RoomID, "from": prev, "to": next.State}).Debug("spectator state")
		}
		if d.OnChange != nil {
			d.OnChange(next)
		}
		for _, eff := range effects {
			if follow := d.execute(ctx, eff); follow != nil {
				queue = append(queue, follow)
			}
		}
	}
}

func (d *Driver) execute(ctx context.Context, eff Effect) Event {
	switch eff := eff.(type) {
	case DoConsumeInvite:
		sess, err := d.api.ConsumeInvite(ctx, ConsumeRequest{Token: d.token, RoomID: eff.RoomID, InviteID: eff.InviteID, Name: eff.Name})
		if err != nil {
			return InviteRejected{Code: apperr.CodeOf(err)}
		}
		return InviteAccepted{Session: sess}

	case DoSubscribe:
		if err := d.subscribeLocked(ctx, eff.RoomID, eff.SessionID); err != nil {
			return Failed{Code: apperr.CodeOf(err)}
		}

	case DoUnsubscribe:
		d.stopLocked()

	case DoRequestRejoin:
		sess, err := d.api.RequestRejoin(ctx, RejoinRequest{
			SessionRequest: SessionRequest{Token: d.token, RoomID: eff.RoomID, SessionID: eff.SessionID},
			Source:         eff.Source,
		})
		if err != nil {
			return RejoinFailed{Code: apperr.CodeOf(err)}
		}
		return Snapshot{Session: sess}

	case DoCancelRejoin:
		sess, err := d.api.CancelRejoin(ctx, SessionRequest{Token: d.token, RoomID: eff.RoomID, SessionID: eff.SessionID})
		if err != nil {
			d.log.WithField("session_id", eff.SessionID).WithError(err).Warn("cancel rejoin failed")
			return nil
		}
		return Snapshot{Session: sess}

	case DoEndSession:
		if _, err := d.api.End(ctx, EndRequest{
			SessionRequest: SessionRequest{Token: d.token, RoomID: eff.RoomID, SessionID: eff.SessionID},
			Reason:         eff.Reason,
		}); err != nil {
			d.log.WithField("session_id", eff.SessionID).WithError(err).Warn("end session failed")
		}

	case DoTakeSeat:
		if d.OnSeat != nil {
			d.OnSeat(eff.RoomID)
		}
	}
	return nil
}

func (d *Driver) subscribeLocked(ctx context.Context, roomID, sessionID string) error {
	d.stopLocked()
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	changes, err := d.store.Subscribe(subCtx, roomID)
	if err != nil {
		cancel()
		return apperr.Wrap(apperr.CodeInternal, err, "subscribe")
	}
	d.cancel = cancel
	d.subWG.Add(1)
	go func() {
		defer d.subWG.Done()
		for c := range changes {
			if c.Kind != store.ChangeSession || c.ID != sessionID {
				continue
			}
			d.refresh(subCtx, roomID, sessionID)
		}
	}()
	return nil
}

// refresh reads the session under the driver lock and feeds it to the machine.
func (d *Driver) refresh(ctx context.Context, roomID, sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	sess, err := d.store.GetSession(ctx, roomID, sessionID)
	if err != nil {
		d.log.WithField("session_id", sessionID).WithError(err).Warn("failed to read session snapshot")
		return
	}
	d.run(ctx, Snapshot{Session: sess})
}

func (d *Driver) stopLocked() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}
