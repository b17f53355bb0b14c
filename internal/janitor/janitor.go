// Package janitor holds the periodic clean-up jobs that run against the shared store.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/presence"
	"github.com/jason-s-yu/sequence/internal/store"
)

// EventPruner drops old audit events.
type EventPruner interface {
	PruneEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// Settings are the ages after which things are cleaned up.
type Settings struct {
	IdleRoom        time.Duration
	GhostRoom       time.Duration
	EventRetention  time.Duration
	PresenceTimeout time.Duration
}

// Janitor runs the clean-up jobs. Events may be nil when no event store is configured.
type Janitor struct {
	Store    store.Store
	Presence presence.Tracker
	Events   EventPruner
	Settings Settings
	Log      logrus.FieldLogger
	Now      func() time.Time
}

func (j *Janitor) now() time.Time {
	if j.Now == nil {
		return time.Now()
	}
	return j.Now()
}

func (j *Janitor) log() logrus.FieldLogger {
	if j.Log == nil {
		return logrus.StandardLogger()
	}
	return j.Log
}

// Job is one named clean-up with its cadence.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) (int, error)
}

// Jobs lists every job in a stable order.
func (j *Janitor) Jobs() []Job {
	return []Job{
		{Name: "presence", Every: time.Minute, Run: j.PrunePresence},
		{Name: "idle", Every: 5 * time.Minute, Run: j.ResetIdleRooms},
		{Name: "expired", Every: 10 * time.Minute, Run: j.PurgeExpiredRooms},
		{Name: "ghost", Every: 15 * time.Minute, Run: j.DeleteGhostRooms},
		{Name: "events", Every: 24 * time.Hour, Run: j.PruneEvents},
	}
}

// Job returns the job called name.
func (j *Janitor) Job(name string) (Job, bool) {
	for _, job := range j.Jobs() {
		if job.Name == name {
			return job, true
		}
	}
	return Job{}, false
}

// PrunePresence drops stale presence connections.
func (j *Janitor) PrunePresence(ctx context.Context) (int, error) {
	if j.Presence == nil {
		return 0, nil
	}
	return j.Presence.PruneStale(ctx)
}

// ResetIdleRooms sends rooms that sat mid-round with nobody connected back to the lobby.
// Rooms whose presence cannot be read are left alone.
func (j *Janitor) ResetIdleRooms(ctx context.Context) (int, error) {
	rooms, err := j.Store.ListRooms(ctx)
	if err != nil {
		return 0, err
	}
	now := j.now()
	reset := 0
	for _, r := range rooms {
		if r.Status == models.StatusWaiting || now.Sub(r.LastActiveAt) < j.Settings.IdleRoom {
			continue
		}
		snap := presence.Query(ctx, j.Presence, r.ID, j.Settings.PresenceTimeout)
		if !snap.Known || len(snap.UIDs) > 0 {
			continue
		}
		err := j.Store.RunTx(ctx, r.ID, func(tx store.Tx) error {
			room, err := tx.Room()
			if err != nil {
				return err
			}
			if room.Status == models.StatusWaiting || now.Sub(room.LastActiveAt) < j.Settings.IdleRoom {
				return errSkip
			}
			players, err := tx.Players()
			if err != nil {
				return err
			}
			for _, p := range players {
				p.ResetRound()
				tx.PutPlayer(p)
			}
			tx.DeleteProposal()
			room.ClearRound()
			room.Status = models.StatusWaiting
			room.StatusVersion++
			room.LastActiveAt = now
			tx.PutRoom(room)
			return nil
		})
		switch {
		case errors.Is(err, errSkip), errors.Is(err, store.ErrNotFound):
		case err != nil:
			return reset, fmt.Errorf("reset room %s: %w", r.ID, err)
		default:
			reset++
			j.log().WithField("room_id", r.ID).Info("reset idle room")
		}
	}
	return reset, nil
}

var errSkip = errors.New("skip")

// DeleteGhostRooms removes rooms nobody has sat in for the ghost-room window.
func (j *Janitor) DeleteGhostRooms(ctx context.Context) (int, error) {
	rooms, err := j.Store.ListRooms(ctx)
	if err != nil {
		return 0, err
	}
	now := j.now()
	deleted := 0
	for _, r := range rooms {
		if now.Sub(r.LastActiveAt) < j.Settings.GhostRoom {
			continue
		}
		players, err := j.Store.ListPlayers(ctx, r.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		if len(players) > 0 {
			continue
		}
		if err := j.delete(ctx, r.ID, "ghost"); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// PurgeExpiredRooms removes rooms past their expiry.
func (j *Janitor) PurgeExpiredRooms(ctx context.Context) (int, error) {
	rooms, err := j.Store.ListRooms(ctx)
	if err != nil {
		return 0, err
	}
	now := j.now()
	deleted := 0
	for _, r := range rooms {
		if r.ExpiresAt.IsZero() || now.Before(r.ExpiresAt) {
			continue
		}
		if err := j.delete(ctx, r.ID, "expired"); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (j *Janitor) delete(ctx context.Context, roomID, why string) error {
	err := j.Store.DeleteRoom(ctx, roomID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	j.log().WithFields(logrus.Fields{"room_id": roomID, "reason": why}).Info("deleted room")
	return nil
}

// PruneEvents drops audit events older than the retention window.
func (j *Janitor) PruneEvents(ctx context.Context) (int, error) {
	if j.Events == nil {
		return 0, nil
	}
	n, err := j.Events.PruneEvents(ctx, j.now().Add(-j.Settings.EventRetention))
	return int(n), err
}

// RunOnce runs each job once and logs its result.
func (j *Janitor) RunOnce(ctx context.Context, jobs ...Job) error {
	var errs []error
	for _, job := range jobs {
		n, err := job.Run(ctx)
		fields := logrus.Fields{"job": job.Name, "affected": n}
		if err != nil {
			j.log().WithFields(fields).WithError(err).Error("janitor job failed")
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
			continue
		}
		j.log().WithFields(fields).Info("janitor job done")
	}
	return errors.Join(errs...)
}

// Loop runs every job on its own cadence until ctx is done. Each job also runs once at
// start.
func (j *Janitor) Loop(ctx context.Context, jobs ...Job) {
	done := make(chan struct{})
	for _, job := range jobs {
		go func(job Job) {
			defer func() { done <- struct{}{} }()
			_ = j.RunOnce(ctx, job)
			t := time.NewTicker(job.Every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					_ = j.RunOnce(ctx, job)
				}
			}
		}(job)
	}
	for range jobs {
		<-done
	}
}
