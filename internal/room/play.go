// internal/room/play.go
package room

import (
	"context"
	"errors"
	"slices"

	"github.com/jason-s-yu/sequence/internal/apperr"
	"github.com/jason-s-yu/sequence/internal/auth"
	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/proposal"
	"github.com/jason-s-yu/sequence/internal/reveal"
	"github.com/jason-s-yu/sequence/internal/store"
)

// participantOrHost admits anyone dealt into the current round plus the host.
func participantOrHost(r *models.Room, caller auth.Identity) error {
	if isHost(r, caller) || r.Deal.Has(caller.UID) {
		return nil
	}
	return apperr.New(apperr.CodeForbidden, "not a participant in this round")
}

func requireMode(mode models.ResolveMode) func(*models.Room) error {
	return func(r *models.Room) error {
		if r.Options.ResolveMode != mode {
			return apperr.New(apperr.CodeInvalidStatus, "room resolves in %s mode", r.Options.ResolveMode)
		}
		if r.Deal == nil || r.Order == nil {
			return apperr.New(apperr.CodeInvalidStatus, "nothing dealt")
		}
		return nil
	}
}

// isPermutation reports whether list holds every id of players exactly once.
func isPermutation(list, players []string) bool {
	if len(list) != len(players) {
		return false
	}
	seen := make(map[string]bool, len(list))
	for _, id := range list {
		if seen[id] || !slices.Contains(players, id) {
			return false
		}
		seen[id] = true
	}
	return true
}

// SubmitOrder reveals a sort-submit round in the order given.
func (e *Engine) SubmitOrder(ctx context.Context, req Request, list []string) (*Result, error) {
	return e.execute(ctx, command{
		kind:      KindSubmitOrder,
		req:       req,
		authorize: participantOrHost,
		replayed:  func(r *models.Room, id string) bool { return r.SubmitRequestID == id },
		from:      []models.RoomStatus{models.StatusClue},
		precheck: func(r *models.Room) error {
			if err := requireMode(models.ResolveSortSubmit)(r); err != nil {
				return err
			}
			if !isPermutation(list, r.Deal.Players) {
				return apperr.New(apperr.CodeInvalidPayload, "order must list every dealt player exactly once")
			}
			return nil
		},
		apply: func(ctx context.Context, m *mutation) error {
			order := m.room.Order
			out := reveal.Evaluate(list, order.Numbers)
			order.List = slices.Clone(list)
			order.Proposal = slices.Clone(list)
			order.Failed, order.FailedAt, order.LastNumber = out.Failed, out.FailedAt, out.LastNumber
			reveal.Conclude(m.room, m.now)
			m.room.Status = models.StatusReveal
			m.room.SubmitRequestID = m.requestID

			if err := m.indexPlayers(); err != nil {
				return err
			}
			m.tx.PutProposal(&models.ProposalDoc{
				RoomID:    m.room.ID,
				Proposal:  slices.Clone(list),
				Seed:      m.room.Deal.Seed,
				UpdatedAt: m.now,
			})
			return nil
		},
	})
}

// recentProposalEdits bounds how many proposal edit tokens a room remembers.
const recentProposalEdits = 64

// rememberProposalEdit records id, dropping the oldest tokens past the bound.
func rememberProposalEdit(r *models.Room, id string) {
	r.ProposalRequestIDs = append(r.ProposalRequestIDs, id)
	if over := len(r.ProposalRequestIDs) - recentProposalEdits; over > 0 {
		r.ProposalRequestIDs = slices.Clone(r.ProposalRequestIDs[over:])
	}
}

// MutateProposal applies one add, remove or move to the shared proposal. Edits are not
// throttled but are serialized by the room lock. A retried request id is answered with
// the current proposal and never applied twice.
func (e *Engine) MutateProposal(ctx context.Context, req Request, op proposal.Op) (*Result, error) {
	res, err := e.execute(ctx, command{
		kind:      KindMutateProposal,
		req:       req,
		authorize: participantOrHost,
		replayed: func(r *models.Room, id string) bool {
			return slices.Contains(r.ProposalRequestIDs, id)
		},
		from:     []models.RoomStatus{models.StatusClue},
		precheck: requireMode(models.ResolveSortSubmit),
		apply: func(ctx context.Context, m *mutation) error {
			doc, err := m.tx.Proposal()
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, err, "load proposal")
			}
			eligible := m.room.Deal.Players
			next, err := proposal.Apply(proposal.Current(doc, m.room.Deal.Seed), op, eligible)
			switch {
			case errors.Is(err, proposal.ErrNotEligible), errors.Is(err, proposal.ErrMissingTarget),
				errors.Is(err, proposal.ErrUnknownOp):
				return apperr.Wrap(apperr.CodeInvalidPayload, err, "bad proposal op")
			case err != nil:
				return apperr.Wrap(apperr.CodeInternal, err, "apply proposal op")
			}

			m.room.Order.Proposal = next
			rememberProposalEdit(m.room, m.requestID)
			m.tx.PutProposal(&models.ProposalDoc{
				RoomID:    m.room.ID,
				Proposal:  next,
				Seed:      m.room.Deal.Seed,
				UpdatedAt: m.now,
			})
			m.result.Proposal = slices.Clone(next)
			m.result.Complete = proposal.Complete(next, eligible)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if res.Replayed && res.Room.Order != nil && res.Room.Deal != nil {
		res.Proposal = slices.Clone(res.Room.Order.Proposal)
		res.Complete = proposal.Complete(res.Proposal, res.Room.Deal.Players)
	}
	return res, nil
}

// CommitPlay reveals playerID's card in a sequential round. An empty playerID plays the
// caller. Playing a card that is already revealed is a no-op.
func (e *Engine) CommitPlay(ctx context.Context, req Request, playerID string) (*Result, error) {
	var target string
	return e.execute(ctx, command{
		kind: KindCommitPlay,
		req:  req,
		authorize: func(r *models.Room, caller auth.Identity) error {
			target = playerID
			if target == "" {
				target = caller.UID
			}
			if target != caller.UID && !isHost(r, caller) {
				return apperr.New(apperr.CodeForbidden, "only the host may play for someone else")
			}
			if !r.Deal.Has(target) {
				return apperr.New(apperr.CodeInvalidPayload, "player %s was not dealt in", target)
			}
			return nil
		},
		replayed: func(r *models.Room, _ string) bool {
			return r.Order != nil && slices.Contains(r.Order.List, target)
		},
		from:     []models.RoomStatus{models.StatusClue},
		precheck: requireMode(models.ResolveSequential),
		apply: func(ctx context.Context, m *mutation) error {
			order := m.room.Order
			reveal.Play(order, target)

			p, err := m.tx.Player(target)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return apperr.Wrap(apperr.CodeInternal, err, "load player")
			default:
				idx := len(order.List) - 1
				p.OrderIndex = &idx
				m.tx.PutPlayer(p)
			}

			if reveal.SequentialDone(order, m.room.Options.AllowContinueAfterFail) {
				reveal.Conclude(m.room, m.now)
				m.room.Status = models.StatusReveal
			}
			return nil
		},
	})
}

// indexPlayers stores each player's position in the revealed list.
func (m *mutation) indexPlayers() error {
	players, err := m.tx.Players()
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "list players")
	}
	for _, p := range players {
		idx := slices.Index(m.room.Order.List, p.ID)
		if idx < 0 {
			continue
		}
		p.OrderIndex = &idx
		m.tx.PutPlayer(p)
	}
	return nil
}
