// internal/database/events.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jason-s-yu/sequence/internal/models"
)

// Events persists the command audit trail.
type Events struct {
	pool *pgxpool.Pool
}

// NewEvents wraps pool.
func NewEvents(pool *pgxpool.Pool) *Events {
	return &Events{pool: pool}
}

// InsertEvents writes records in a single transaction.
func (e *Events) InsertEvents(ctx context.Context, records []models.CommandRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, e.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			INSERT INTO room_events (
				room_id, uid, request_id, command, prev_status, next_status,
				status_version, outcome, error, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		batch := &pgx.Batch{}
		for _, rec := range records {
			batch.Queue(q, rec.RoomID, rec.UID, rec.RequestID, rec.Command, rec.PrevStatus,
				rec.NextStatus, rec.StatusVersion, rec.Outcome, rec.Error, time.UnixMilli(rec.Timestamp))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("insert room events: %w", err)
	}
	return nil
}

// PruneEvents deletes events created before cutoff and returns how many went.
func (e *Events) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := e.pool.Exec(ctx, `DELETE FROM room_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune room events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RoomEvents returns a room's audit trail, oldest first.
func (e *Events) RoomEvents(ctx context.Context, roomID string, limit int) ([]models.CommandRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
		SELECT room_id, uid, request_id, command, prev_status, next_status,
		       status_version, outcome, error, created_at
		FROM room_events
		WHERE room_id = $1
		ORDER BY created_at, id
		LIMIT $2
	`
	rows, err := e.pool.Query(ctx, q, roomID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.CommandRecord, error) {
		var rec models.CommandRecord
		var at time.Time
		err := row.Scan(&rec.RoomID, &rec.UID, &rec.RequestID, &rec.Command, &rec.PrevStatus,
			&rec.NextStatus, &rec.StatusVersion, &rec.Outcome, &rec.Error, &at)
		rec.Timestamp = at.UnixMilli()
		return rec, err
	})
}
