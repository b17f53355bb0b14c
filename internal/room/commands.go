// internal/room/commands.go
package room

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/apperr"
	"github.com/jason-s-yu/sequence/internal/dealing"
	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/presence"
	"github.com/jason-s-yu/sequence/internal/reveal"
)

// notSuperseded refuses requestID when the room already carries it from an earlier round:
// that request was applied once and the room has since moved on.
func notSuperseded(requestID string, token func(*models.Room) string) func(*models.Room) error {
	return func(r *models.Room) error {
		if requestID != "" && requestID == token(r) {
			return apperr.New(apperr.CodeInvalidStatus, "request %s was already applied to an earlier round", requestID)
		}
		return nil
	}
}

// Start moves a waiting room into the clue phase and deals the first round.
func (e *Engine) Start(ctx context.Context, req Request) (*Result, error) {
	var snap presence.Snapshot
	return e.execute(ctx, command{
		kind:      KindStart,
		req:       req,
		hostOnly:  true,
		throttled: true,
		replayed: func(r *models.Room, id string) bool {
			return r.StartRequestID == id && r.Status != models.StatusWaiting
		},
		from:     []models.RoomStatus{models.StatusWaiting},
		precheck: notSuperseded(req.RequestID, func(r *models.Room) string { return r.StartRequestID }),
		prepare: func(ctx context.Context) error {
			snap = presence.Query(ctx, e.presence, req.RoomID, e.cfg.PresenceTimeout)
			return nil
		},
		apply: func(ctx context.Context, m *mutation) error {
			if err := e.dealRound(m, snap); err != nil {
				return err
			}
			m.room.Status = models.StatusClue
			m.room.Round++
			m.room.StartRequestID = m.requestID
			return nil
		},
	})
}

// Deal replaces the current round's deal with a fresh one under a new seed.
func (e *Engine) Deal(ctx context.Context, req Request) (*Result, error) {
	var snap presence.Snapshot
	return e.execute(ctx, command{
		kind:      KindDeal,
		req:       req,
		hostOnly:  true,
		throttled: true,
		replayed:  func(r *models.Room, id string) bool { return r.DealRequestID == id },
		from:      []models.RoomStatus{models.StatusClue},
		prepare: func(ctx context.Context) error {
			snap = presence.Query(ctx, e.presence, req.RoomID, e.cfg.PresenceTimeout)
			return nil
		},
		apply: func(ctx context.Context, m *mutation) error {
			if err := e.dealRound(m, snap); err != nil {
				return err
			}
			m.room.DealRequestID = m.requestID
			return nil
		},
	})
}

// dealRound selects the seated players, draws their numbers and resets every per-round
// field: deal, order, result, each player's round state and the proposal document.
func (e *Engine) dealRound(m *mutation, snap presence.Snapshot) error {
	players, err := m.tx.Players()
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "list players")
	}
	ids := make([]string, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.ID)
	}

	sel := dealing.SelectPlayers(ids, snap, m.room.Options.MaxPlayers)
	if len(sel.Players) == 0 {
		return apperr.New(apperr.CodeInvalidStatus, "no players to deal")
	}
	if sel.Fallback {
		e.log.WithFields(logrus.Fields{
			"room_id": m.room.ID,
			"active":  len(snap.UIDs),
			"players": len(ids),
		}).Warn("presence looks unreliable, dealing every player")
	}

	var prevSeats map[string]int
	if m.room.Deal != nil {
		prevSeats = m.room.Deal.SeatHistory
	}
	seed := dealing.NewSeed(m.now)
	deal, err := dealing.Build(sel.Players, seed, m.room.Options.DealMin, m.room.Options.DealMax, prevSeats)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidPayload, err, "deal range too small")
	}

	m.room.Deal = deal
	m.room.Order = reveal.NewOrder(deal)
	m.room.Result = nil

	for _, p := range players {
		p.ResetRound()
		if n, ok := deal.Numbers[p.ID]; ok {
			num := n
			p.Number = &num
		}
		m.tx.PutPlayer(p)
	}
	m.tx.PutProposal(&models.ProposalDoc{
		RoomID:    m.room.ID,
		Proposal:  make([]string, len(deal.Players)),
		Seed:      seed,
		UpdatedAt: m.now,
	})
	return nil
}

// Reset returns the room to the lobby from any status. Stats survive.
func (e *Engine) Reset(ctx context.Context, req Request) (*Result, error) {
	return e.execute(ctx, command{
		kind:      KindReset,
		req:       req,
		hostOnly:  true,
		throttled: true,
		replayed:  func(r *models.Room, id string) bool { return r.ResetRequestID == id },
		apply: func(ctx context.Context, m *mutation) error {
			if err := clearRound(m); err != nil {
				return err
			}
			m.room.ResetRequestID = m.requestID
			return nil
		},
	})
}

// ContinueAfterFail sends the room back to the lobby after a failed round, keeping stats.
func (e *Engine) ContinueAfterFail(ctx context.Context, req Request) (*Result, error) {
	return e.execute(ctx, command{
		kind:      KindContinue,
		req:       req,
		hostOnly:  true,
		throttled: true,
		replayed:  func(r *models.Room, id string) bool { return r.ContinueRequestID == id },
		from:      []models.RoomStatus{models.StatusReveal, models.StatusFinished},
		precheck: func(r *models.Room) error {
			if r.Result == nil || r.Result.Success {
				return apperr.New(apperr.CodeInvalidStatus, "round did not fail")
			}
			return nil
		},
		apply: func(ctx context.Context, m *mutation) error {
			if err := clearRound(m); err != nil {
				return err
			}
			m.room.ContinueRequestID = m.requestID
			return nil
		},
	})
}

// FinalizeReveal closes the reveal phase.
func (e *Engine) FinalizeReveal(ctx context.Context, req Request) (*Result, error) {
	return e.execute(ctx, command{
		kind:      KindFinalize,
		req:       req,
		hostOnly:  true,
		throttled: true,
		replayed: func(r *models.Room, id string) bool {
			return r.FinalizeRequestID == id && r.Status == models.StatusFinished
		},
		from:     []models.RoomStatus{models.StatusReveal},
		precheck: notSuperseded(req.RequestID, func(r *models.Room) string { return r.FinalizeRequestID }),
		apply: func(ctx context.Context, m *mutation) error {
			m.room.Status = models.StatusFinished
			m.room.FinalizeRequestID = m.requestID
			return nil
		},
	})
}

func clearRound(m *mutation) error {
	players, err := m.tx.Players()
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "list players")
	}
	for _, p := range players {
		p.ResetRound()
		m.tx.PutPlayer(p)
	}
	m.tx.DeleteProposal()
	m.room.ClearRound()
	m.room.Status = models.StatusWaiting
	return nil
}

// OptionsPatch carries the options a host wants to change; nil fields are left alone.
type OptionsPatch struct {
	ResolveMode            *models.ResolveMode `json:"resolveMode,omitempty"`
	DefaultTopicType       *string             `json:"defaultTopicType,omitempty"`
	AllowContinueAfterFail *bool               `json:"allowContinueAfterFail,omitempty"`
	DealMin                *int                `json:"dealMin,omitempty"`
	DealMax                *int                `json:"dealMax,omitempty"`
	MaxPlayers             *int                `json:"maxPlayers,omitempty"`
}

func (p OptionsPatch) applyTo(o models.Options) (models.Options, error) {
	if p.ResolveMode != nil {
		o.ResolveMode = *p.ResolveMode
	}
	if p.DefaultTopicType != nil {
		o.DefaultTopicType = *p.DefaultTopicType
	}
	if p.AllowContinueAfterFail != nil {
		o.AllowContinueAfterFail = *p.AllowContinueAfterFail
	}
	if p.DealMin != nil {
		o.DealMin = *p.DealMin
	}
	if p.DealMax != nil {
		o.DealMax = *p.DealMax
	}
	if p.MaxPlayers != nil {
		o.MaxPlayers = *p.MaxPlayers
	}
	switch {
	case !o.ResolveMode.Valid():
		return o, apperr.New(apperr.CodeInvalidPayload, "unknown resolve mode %q", o.ResolveMode)
	case o.MaxPlayers < 1:
		return o, apperr.New(apperr.CodeInvalidPayload, "maxPlayers must be positive")
	case o.DealMax < o.DealMin:
		return o, apperr.New(apperr.CodeInvalidPayload, "dealMax below dealMin")
	case o.DealMax-o.DealMin+1 < o.MaxPlayers:
		return o, apperr.New(apperr.CodeInvalidPayload, "deal range smaller than maxPlayers")
	}
	return o, nil
}

// UpdateOptions edits the room options while in the lobby.
func (e *Engine) UpdateOptions(ctx context.Context, req Request, patch OptionsPatch) (*Result, error) {
	return e.execute(ctx, command{
		kind:      KindUpdateOptions,
		req:       req,
		hostOnly:  true,
		throttled: true,
		replayed:  func(r *models.Room, id string) bool { return r.OptionsRequestID == id },
		from:      []models.RoomStatus{models.StatusWaiting},
		apply: func(ctx context.Context, m *mutation) error {
			opts, err := patch.applyTo(m.room.Options)
			if err != nil {
				return err
			}
			m.room.Options = opts
			m.room.OptionsRequestID = m.requestID
			return nil
		},
	})
}
