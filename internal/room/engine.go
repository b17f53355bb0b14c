// internal/room/engine.go
package room

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/auth"
	"github.com/jason-s-yu/sequence/internal/lock"
	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/presence"
	"github.com/jason-s-yu/sequence/internal/store"
)

// AuditPublisher receives one record per command attempt.
type AuditPublisher interface {
	PublishCommandRecord(ctx context.Context, record models.CommandRecord) error
}

// Settings are the engine's tunables.
type Settings struct {
	RateLimitWindow time.Duration
	LockTTL         time.Duration
	PresenceTimeout time.Duration
	RoomTTL         time.Duration
}

// DefaultSettings mirrors the config defaults.
func DefaultSettings() Settings {
	return Settings{
		RateLimitWindow: 1200 * time.Millisecond,
		LockTTL:         8 * time.Second,
		PresenceTimeout: 600 * time.Millisecond,
		RoomTTL:         24 * time.Hour,
	}
}

// Deps are the collaborators an Engine is built from. Audit and Presence may be nil.
type Deps struct {
	Store    store.Store
	Locker   lock.Locker
	Presence presence.Tracker
	Auth     auth.Verifier
	Audit    AuditPublisher
	Logger   logrus.FieldLogger
	Now      func() time.Time
	Settings Settings
}

// Engine runs every room command. It holds no per-room state between calls; all
// coordination goes through the store transaction and the locker.
type Engine struct {
	store    store.Store
	locker   lock.Locker
	presence presence.Tracker
	auth     auth.Verifier
	audit    AuditPublisher
	log      logrus.FieldLogger
	now      func() time.Time
	cfg      Settings
}

// NewEngine wires an Engine.
func NewEngine(d Deps) *Engine {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.Settings == (Settings{}) {
		d.Settings = DefaultSettings()
	}
	return &Engine{
		store:    d.Store,
		locker:   d.Locker,
		presence: d.Presence,
		auth:     d.Auth,
		audit:    d.Audit,
		log:      d.Logger,
		now:      d.Now,
		cfg:      d.Settings,
	}
}

// Store exposes the engine's document store to sibling services.
func (e *Engine) Store() store.Store { return e.store }
