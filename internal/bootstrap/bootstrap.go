// Package bootstrap turns a Config into the live collaborators shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/auth"
	"github.com/jason-s-yu/sequence/internal/cache"
	"github.com/jason-s-yu/sequence/internal/config"
	"github.com/jason-s-yu/sequence/internal/database"
	"github.com/jason-s-yu/sequence/internal/janitor"
	"github.com/jason-s-yu/sequence/internal/lock"
	"github.com/jason-s-yu/sequence/internal/presence"
	"github.com/jason-s-yu/sequence/internal/room"
	"github.com/jason-s-yu/sequence/internal/spectator"
	"github.com/jason-s-yu/sequence/internal/store"
)

// Infra holds the opened backends. Redis and Pool are nil when not configured; the
// in-process fallbacks are then used instead.
type Infra struct {
	Store    store.Store
	Locker   lock.Locker
	Presence presence.Tracker
	Audit    *cache.AuditQueue
	Events   *database.Events

	Redis *redis.Client
	Pool  *pgxpool.Pool
}

// Open connects the store, then Redis. A missing Redis degrades to in-process locks and
// presence, which is only correct for a single server.
func Open(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*Infra, error) {
	in := &Infra{}
	switch cfg.StoreDriver {
	case "memory":
		in.Store = store.NewMemory(time.Now)
		log.Warn("using in-memory store; state is lost on restart")
	case "postgres", "":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres store needs DATABASE_URL or PG_HOST")
		}
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		in.Pool = pool
		in.Store = database.NewStore(pool, time.Now)
		in.Events = database.NewEvents(pool)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		log.WithError(err).Warn("redis unavailable; using in-process locks and presence")
		in.Locker = lock.NewMemory(time.Now)
		in.Presence = presence.NewMemory(cfg.PresenceStale(), time.Now)
		return in, nil
	}
	in.Redis = rdb
	in.Locker = lock.NewRedis(rdb, "lock:")
	in.Presence = presence.NewRedis(rdb, cfg.PresenceStale(), time.Now)
	in.Audit = cache.NewAuditQueue(rdb, cfg.AuditQueueName)
	return in, nil
}

// Close releases every connection.
func (in *Infra) Close() {
	if in.Redis != nil {
		_ = in.Redis.Close()
	}
	if in.Pool != nil {
		in.Pool.Close()
	}
}

// Authority loads the signing keys named by the config, or generates a throwaway pair.
func Authority(cfg *config.Config, log *logrus.Logger) (*auth.Authority, error) {
	ttl, err := auth.ParseTokenExpireTime(cfg.TokenExpireTime)
	if err != nil {
		return nil, err
	}
	if cfg.JWTPublicKeyPath == "" {
		log.Warn("no JWT keys configured; generated an ephemeral key pair")
		return auth.Generate(ttl)
	}
	return auth.LoadFromPath(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, ttl)
}

// Engine builds the room engine over in.
func (in *Infra) Engine(cfg *config.Config, verifier auth.Verifier, log *logrus.Logger) *room.Engine {
	d := room.Deps{
		Store:    in.Store,
		Locker:   in.Locker,
		Presence: in.Presence,
		Auth:     verifier,
		Logger:   log,
		Settings: room.Settings{
			RateLimitWindow: cfg.RateLimitWindow(),
			LockTTL:         cfg.LockTTL(),
			PresenceTimeout: cfg.PresenceTimeout(),
			RoomTTL:         cfg.RoomTTL(),
		},
	}
	if in.Audit != nil {
		d.Audit = in.Audit
	}
	return room.NewEngine(d)
}

// Spectators builds the spectator service over in.
func (in *Infra) Spectators(cfg *config.Config, verifier auth.Verifier, log *logrus.Logger) *spectator.Service {
	return spectator.NewService(spectator.Deps{
		Store:  in.Store,
		Locker: in.Locker,
		Auth:   verifier,
		Logger: log,
		Settings: spectator.Settings{
			AutoRejoinGrace: cfg.AutoRejoinGrace(),
			InviteTTL:       cfg.InviteTTL(),
			LockTTL:         cfg.LockTTL(),
			Backoff:         lock.DefaultBackoff,
		},
	})
}

// Janitor builds the clean-up jobs over in.
func (in *Infra) Janitor(cfg *config.Config, log *logrus.Logger) *janitor.Janitor {
	j := &janitor.Janitor{
		Store:    in.Store,
		Presence: in.Presence,
		Log:      log,
		Settings: janitor.Settings{
			IdleRoom:        cfg.IdleRoom(),
			GhostRoom:       cfg.GhostRoom(),
			EventRetention:  cfg.EventRetention(),
			PresenceTimeout: cfg.PresenceTimeout(),
		},
	}
	if in.Events != nil {
		j.Events = in.Events
	}
	return j
}
