// internal/room/membership.go
package room

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/apperr"
	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/proposal"
	"github.com/jason-s-yu/sequence/internal/reveal"
	"github.com/jason-s-yu/sequence/internal/sanitize"
	"github.com/jason-s-yu/sequence/internal/store"
)

const (
	maxNameRunes = 24
	maxClueRunes = 120
)

func playerName(name string) string {
	if n := sanitize.Text(name, maxNameRunes); n != "" {
		return n
	}
	return "Player"
}

// write runs fn in a room transaction and bumps statusVersion when fn succeeds. Membership
// writes skip the command lock and the rate limit and do not touch lastCommandAt.
func (e *Engine) write(ctx context.Context, roomID string, fn func(tx store.Tx, room *models.Room) error) (*models.Room, error) {
	if roomID == "" {
		return nil, apperr.New(apperr.CodeRoomIDRequired, "roomId is required")
	}
	var out *models.Room
	err := e.store.RunTx(ctx, roomID, func(tx store.Tx) error {
		room, err := loadRoom(tx)
		if err != nil {
			return err
		}
		if err := fn(tx, room); err != nil {
			return err
		}
		room.StatusVersion++
		room.LastActiveAt = e.now()
		tx.PutRoom(room)
		out = room
		return nil
	})
	if err != nil {
		return nil, asAppErr(err)
	}
	return out, nil
}

// CreateRoom opens a new waiting room with the caller as host and first player.
func (e *Engine) CreateRoom(ctx context.Context, token, name string, opts *OptionsPatch) (*models.Room, error) {
	caller, err := e.auth.Verify(token)
	if err != nil {
		return nil, err
	}
	options := models.DefaultOptions()
	if opts != nil {
		if options, err = opts.applyTo(options); err != nil {
			return nil, err
		}
	}
	now := e.now()
	room := &models.Room{
		ID:            uuid.NewString(),
		Status:        models.StatusWaiting,
		HostID:        caller.UID,
		CreatorID:     caller.UID,
		Options:       options,
		StatusVersion: 1,
		CreatedAt:     now,
		LastActiveAt:  now,
		ExpiresAt:     now.Add(e.cfg.RoomTTL),
	}
	host := &models.Player{
		ID:       caller.UID,
		RoomID:   room.ID,
		Name:     playerName(name),
		JoinedAt: now,
		LastSeen: now,
	}
	if err := e.store.CreateRoom(ctx, room, host); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "create room")
	}
	e.log.WithFields(logrus.Fields{"room_id": room.ID, "host": caller.UID}).Info("room created")
	return room, nil
}

// JoinRoom seats the caller. Joining again only refreshes the name and avatar.
func (e *Engine) JoinRoom(ctx context.Context, token, roomID, name, avatar string) (*models.Room, error) {
	caller, err := e.auth.Verify(token)
	if err != nil {
		return nil, err
	}
	return e.write(ctx, roomID, func(tx store.Tx, room *models.Room) error {
		now := e.now()
		p, err := tx.Player(caller.UID)
		if err == nil {
			p.Name = playerName(name)
			p.Avatar = sanitize.Text(avatar, 64)
			p.LastSeen = now
			tx.PutPlayer(p)
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return apperr.Wrap(apperr.CodeInternal, err, "load player")
		}
		if room.Status != models.StatusWaiting {
			return apperr.New(apperr.CodeRoomInProgress, "round already in progress")
		}
		players, err := tx.Players()
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "list players")
		}
		if len(players) >= room.Options.MaxPlayers {
			return apperr.New(apperr.CodeInvalidStatus, "room is full")
		}
		tx.PutPlayer(&models.Player{
			ID:       caller.UID,
			RoomID:   room.ID,
			Name:     playerName(name),
			Avatar:   sanitize.Text(avatar, 64),
			JoinedAt: now,
			LastSeen: now,
		})
		if room.HostID == "" {
			room.HostID = caller.UID
		}
		return nil
	})
}

// LeaveRoom removes the caller. If the host leaves, the lexically first remaining player
// takes over. A player leaving mid-clue is dropped from the deal so the round can finish.
func (e *Engine) LeaveRoom(ctx context.Context, token, roomID string) (*models.Room, error) {
	caller, err := e.auth.Verify(token)
	if err != nil {
		return nil, err
	}
	return e.write(ctx, roomID, func(tx store.Tx, room *models.Room) error {
		if _, err := tx.Player(caller.UID); errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.CodePlayerNotFound, "not in this room")
		} else if err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "load player")
		}
		tx.DeletePlayer(caller.UID)

		if room.HostID == caller.UID {
			players, err := tx.Players()
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, err, "list players")
			}
			ids := make([]string, 0, len(players))
			for _, p := range players {
				ids = append(ids, p.ID)
			}
			slices.Sort(ids)
			room.HostID = ""
			if len(ids) > 0 {
				room.HostID = ids[0]
			}
		}

		if room.Status == models.StatusClue {
			return dropFromRound(tx, room, caller.UID, e.now())
		}
		return nil
	})
}

// dropFromRound removes an unrevealed player from the running round.
func dropFromRound(tx store.Tx, room *models.Room, uid string, now time.Time) error {
	if !room.Deal.Has(uid) || room.Order == nil || slices.Contains(room.Order.List, uid) {
		return nil
	}
	room.Deal.Players = slices.DeleteFunc(slices.Clone(room.Deal.Players), func(id string) bool { return id == uid })
	delete(room.Deal.Numbers, uid)
	delete(room.Order.Numbers, uid)
	room.Order.Total = len(room.Deal.Players)

	doc, err := tx.Proposal()
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "load proposal")
	}
	scrubbed := proposal.Normalize(proposal.Current(doc, room.Deal.Seed), room.Deal.Players, len(room.Deal.Players))
	room.Order.Proposal = scrubbed
	tx.PutProposal(&models.ProposalDoc{RoomID: room.ID, Proposal: scrubbed, Seed: room.Deal.Seed, UpdatedAt: now})

	if room.Options.ResolveMode == models.ResolveSequential && len(room.Deal.Players) > 0 &&
		reveal.SequentialDone(room.Order, room.Options.AllowContinueAfterFail) {
		reveal.Conclude(room, now)
		room.Status = models.StatusReveal
	}
	return nil
}

// SubmitClue stores the caller's clue for the current round.
func (e *Engine) SubmitClue(ctx context.Context, token, roomID, clue string) (*models.Room, error) {
	caller, err := e.auth.Verify(token)
	if err != nil {
		return nil, err
	}
	return e.write(ctx, roomID, func(tx store.Tx, room *models.Room) error {
		if room.Status != models.StatusClue {
			return apperr.New(apperr.CodeInvalidStatus, "clues are only taken during the clue phase")
		}
		if !room.Deal.Has(caller.UID) {
			return apperr.New(apperr.CodeForbidden, "not a participant in this round")
		}
		p, err := playerOf(tx, caller.UID)
		if err != nil {
			return err
		}
		p.Clue1 = sanitize.Text(clue, maxClueRunes)
		p.LastSeen = e.now()
		tx.PutPlayer(p)
		return nil
	})
}

// SetReady toggles the caller's ready flag.
func (e *Engine) SetReady(ctx context.Context, token, roomID string, ready bool) (*models.Room, error) {
	caller, err := e.auth.Verify(token)
	if err != nil {
		return nil, err
	}
	return e.write(ctx, roomID, func(tx store.Tx, room *models.Room) error {
		p, err := playerOf(tx, caller.UID)
		if err != nil {
			return err
		}
		p.Ready = ready
		p.LastSeen = e.now()
		tx.PutPlayer(p)
		return nil
	})
}

// Heartbeat records a live connection in the presence tracker. It writes no documents.
func (e *Engine) Heartbeat(ctx context.Context, token, roomID, connID string) error {
	caller, err := e.auth.Verify(token)
	if err != nil {
		return err
	}
	if roomID == "" {
		return apperr.New(apperr.CodeRoomIDRequired, "roomId is required")
	}
	if e.presence == nil {
		return nil
	}
	if connID == "" {
		connID = "default"
	}
	if err := e.presence.Heartbeat(ctx, roomID, caller.UID, connID); err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "record heartbeat")
	}
	return nil
}

// Snapshot returns the room as the caller may see it.
func (e *Engine) Snapshot(ctx context.Context, token, roomID string) (*View, error) {
	caller, err := e.auth.Verify(token)
	if err != nil {
		return nil, err
	}
	if roomID == "" {
		return nil, apperr.New(apperr.CodeRoomIDRequired, "roomId is required")
	}
	room, err := e.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeRoomNotFound, "room not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "load room")
	}
	players, err := e.store.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "list players")
	}
	return NewView(room, players, caller), nil
}

func playerOf(tx store.Tx, uid string) (*models.Player, error) {
	p, err := tx.Player(uid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodePlayerNotFound, "not in this room")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "load player")
	}
	return p, nil
}
