// internal/database/store.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/store"
)

// ChangeChannel is the NOTIFY channel room changes are published on.
const ChangeChannel = "room_changes"

// Store keeps every document as JSONB in Postgres. A room transaction locks the room
// row with SELECT ... FOR UPDATE, and changes are announced with pg_notify, which
// Postgres delivers only once the transaction commits.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore wraps pool.
func NewStore(pool *pgxpool.Pool, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{pool: pool, now: now}
}

var _ store.Store = (*Store)(nil)

func decode[T any](data []byte) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateRoom(ctx context.Context, room *models.Room, host *models.Player) error {
	roomDoc, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			INSERT INTO rooms (id, status, status_version, doc, created_at, last_active_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		if _, err := tx.Exec(ctx, q, room.ID, room.Status, room.StatusVersion, roomDoc,
			room.CreatedAt, room.LastActiveAt, nullTime(room.ExpiresAt)); err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		if host != nil {
			hostDoc, err := json.Marshal(host)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO room_players (room_id, uid, doc) VALUES ($1, $2, $3)`,
				room.ID, host.ID, hostDoc); err != nil {
				return fmt.Errorf("insert host: %w", err)
			}
		}
		return notify(ctx, tx, store.Change{RoomID: room.ID, Kind: store.ChangeRoom, StatusVersion: room.StatusVersion, At: s.now()})
	})
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM rooms WHERE id = $1`, roomID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode[models.Room](doc)
}

func (s *Store) ListPlayers(ctx context.Context, roomID string) ([]*models.Player, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return queryDocs[models.Player](ctx, s.pool, `SELECT doc FROM room_players WHERE room_id = $1 ORDER BY uid`, roomID)
}

func (s *Store) GetSession(ctx context.Context, roomID, sessionID string) (*models.SpectatorSession, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM spectator_sessions WHERE id = $1 AND room_id = $2`,
		sessionID, roomID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode[models.SpectatorSession](doc)
}

func (s *Store) ListRooms(ctx context.Context) ([]*models.Room, error) {
	return queryDocs[models.Room](ctx, s.pool, `SELECT doc FROM rooms ORDER BY id`)
}

func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return notify(ctx, tx, store.Change{RoomID: roomID, Kind: store.ChangeDeleted, At: s.now()})
	})
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryDocs[T any](ctx context.Context, q querier, sql string, args ...any) ([]*T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*T, error) {
		var doc []byte
		if err := row.Scan(&doc); err != nil {
			return nil, err
		}
		return decode[T](doc)
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func notify(ctx context.Context, tx pgx.Tx, c store.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, string(payload))
	return err
}

// RunTx locks the room row for the length of fn. Writes go straight to the database
// transaction; the first write error aborts it.
func (s *Store) RunTx(ctx context.Context, roomID string, fn func(tx store.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		t := &pgTx{ctx: ctx, tx: tx, roomID: roomID}

		var doc []byte
		err := tx.QueryRow(ctx, `SELECT doc FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&doc)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("lock room: %w", err)
		default:
			if t.room, err = decode[models.Room](doc); err != nil {
				return err
			}
		}

		if err := fn(t); err != nil {
			return err
		}
		if t.err != nil {
			return t.err
		}

		version := int64(0)
		if t.room != nil {
			version = t.room.StatusVersion
		}
		now := s.now()
		for _, c := range t.changes {
			c.StatusVersion, c.At = version, now
			if err := notify(ctx, tx, c); err != nil {
				return fmt.Errorf("notify: %w", err)
			}
		}
		return nil
	})
}

// pgTx implements store.Tx over one database transaction.
type pgTx struct {
	ctx     context.Context
	tx      pgx.Tx
	roomID  string
	room    *models.Room
	changes []store.Change
	err     error
}

func (t *pgTx) fail(err error) {
	if t.err == nil && err != nil {
		t.err = err
	}
}

func (t *pgTx) changed(kind store.ChangeKind, id string) {
	t.changes = append(t.changes, store.Change{RoomID: t.roomID, Kind: kind, ID: id})
}

func (t *pgTx) exec(sql string, args ...any) bool {
	if t.err != nil {
		return false
	}
	if _, err := t.tx.Exec(t.ctx, sql, args...); err != nil {
		t.fail(err)
		return false
	}
	return true
}

func (t *pgTx) getDoc(sql string, args ...any) ([]byte, error) {
	var doc []byte
	err := t.tx.QueryRow(t.ctx, sql, args...).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return doc, err
}

func (t *pgTx) Room() (*models.Room, error) {
	if t.room == nil {
		return nil, store.ErrNotFound
	}
	data, err := json.Marshal(t.room)
	if err != nil {
		return nil, err
	}
	return decode[models.Room](data)
}

func (t *pgTx) PutRoom(room *models.Room) {
	doc, err := json.Marshal(room)
	if err != nil {
		t.fail(err)
		return
	}
	q := `
		INSERT INTO rooms (id, status, status_version, doc, created_at, last_active_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET status = $2, status_version = $3, doc = $4, last_active_at = $6, expires_at = $7
	`
	if t.exec(q, room.ID, room.Status, room.StatusVersion, doc, room.CreatedAt, room.LastActiveAt, nullTime(room.ExpiresAt)) {
		t.room, _ = decode[models.Room](doc)
		t.changed(store.ChangeRoom, "")
	}
}

func (t *pgTx) Players() ([]*models.Player, error) {
	return queryDocs[models.Player](t.ctx, t.tx, `SELECT doc FROM room_players WHERE room_id = $1 ORDER BY uid`, t.roomID)
}

func (t *pgTx) Player(uid string) (*models.Player, error) {
	doc, err := t.getDoc(`SELECT doc FROM room_players WHERE room_id = $1 AND uid = $2`, t.roomID, uid)
	if err != nil {
		return nil, err
	}
	return decode[models.Player](doc)
}

func (t *pgTx) PutPlayer(p *models.Player) {
	doc, err := json.Marshal(p)
	if err != nil {
		t.fail(err)
		return
	}
	q := `
		INSERT INTO room_players (room_id, uid, doc) VALUES ($1, $2, $3)
		ON CONFLICT (room_id, uid) DO UPDATE SET doc = $3
	`
	if t.exec(q, t.roomID, p.ID, doc) {
		t.changed(store.ChangePlayer, p.ID)
	}
}

func (t *pgTx) DeletePlayer(uid string) {
	if t.exec(`DELETE FROM room_players WHERE room_id = $1 AND uid = $2`, t.roomID, uid) {
		t.changed(store.ChangePlayer, uid)
	}
}

func (t *pgTx) Proposal() (*models.ProposalDoc, error) {
	doc, err := t.getDoc(`SELECT doc FROM room_proposals WHERE room_id = $1`, t.roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[models.ProposalDoc](doc)
}

func (t *pgTx) PutProposal(p *models.ProposalDoc) {
	doc, err := json.Marshal(p)
	if err != nil {
		t.fail(err)
		return
	}
	q := `
		INSERT INTO room_proposals (room_id, doc) VALUES ($1, $2)
		ON CONFLICT (room_id) DO UPDATE SET doc = $2
	`
	if t.exec(q, t.roomID, doc) {
		t.changed(store.ChangeProposal, "")
	}
}

func (t *pgTx) DeleteProposal() {
	if t.exec(`DELETE FROM room_proposals WHERE room_id = $1`, t.roomID) {
		t.changed(store.ChangeProposal, "")
	}
}

func (t *pgTx) Session(id string) (*models.SpectatorSession, error) {
	doc, err := t.getDoc(`SELECT doc FROM spectator_sessions WHERE id = $1 AND room_id = $2`, id, t.roomID)
	if err != nil {
		return nil, err
	}
	return decode[models.SpectatorSession](doc)
}

func (t *pgTx) PutSession(sess *models.SpectatorSession) {
	doc, err := json.Marshal(sess)
	if err != nil {
		t.fail(err)
		return
	}
	q := `
		INSERT INTO spectator_sessions (id, room_id, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = $3
	`
	if t.exec(q, sess.ID, t.roomID, doc) {
		t.changed(store.ChangeSession, sess.ID)
	}
}

func (t *pgTx) Invite(id string) (*models.SpectatorInvite, error) {
	doc, err := t.getDoc(`SELECT doc FROM spectator_invites WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	return decode[models.SpectatorInvite](doc)
}

func (t *pgTx) PutInvite(inv *models.SpectatorInvite) {
	doc, err := json.Marshal(inv)
	if err != nil {
		t.fail(err)
		return
	}
	q := `
		INSERT INTO spectator_invites (id, room_id, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = $3
	`
	if t.exec(q, inv.ID, inv.RoomID, doc) {
		t.changed(store.ChangeInvite, inv.ID)
	}
}

// Subscribe holds a dedicated connection in LISTEN mode until ctx is done.
func (s *Store) Subscribe(ctx context.Context, roomID string) (<-chan store.Change, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	out := make(chan store.Change, 32)
	go func() {
		defer close(out)
		defer func() {
			// the connection is still in LISTEN mode; drop it from the pool
			_ = conn.Conn().Close(context.Background())
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logrus.WithField("room_id", roomID).WithError(err).Warn("change listener stopped")
				}
				return
			}
			var c store.Change
			if err := json.Unmarshal([]byte(n.Payload), &c); err != nil || c.RoomID != roomID {
				continue
			}
			select {
			case out <- c:
			default:
			}
		}
	}()
	return out, nil
}
