// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jason-s-yu/sequence/internal/models"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("store: not found")

// ChangeKind names the document family a Change refers to.
type ChangeKind string

const (
	ChangeRoom     ChangeKind = "room"
	ChangePlayer   ChangeKind = "player"
	ChangeProposal ChangeKind = "proposal"
	ChangeSession  ChangeKind = "session"
	ChangeInvite   ChangeKind = "invite"
	ChangeDeleted  ChangeKind = "deleted"
)

// Change is pushed to subscribers after a transaction commits.
type Change struct {
	RoomID        string     `json:"roomId"`
	Kind          ChangeKind `json:"kind"`
	ID            string     `json:"id,omitempty"`
	StatusVersion int64      `json:"statusVersion"`
	At            time.Time  `json:"at"`
}

// Tx is a read-modify-write view over the documents of a single room. Reads observe the
// latest committed state plus this transaction's own writes. Writes become visible to
// others only when the transaction function returns nil.
type Tx interface {
	Room() (*models.Room, error)
	PutRoom(room *models.Room)

	Players() ([]*models.Player, error)
	Player(uid string) (*models.Player, error)
	PutPlayer(p *models.Player)
	DeletePlayer(uid string)

	// Proposal returns nil, nil when the room has no proposal document.
	Proposal() (*models.ProposalDoc, error)
	PutProposal(doc *models.ProposalDoc)
	DeleteProposal()

	Session(id string) (*models.SpectatorSession, error)
	PutSession(s *models.SpectatorSession)

	// Invite looks the invite up by id regardless of room so callers can detect mismatches.
	Invite(id string) (*models.SpectatorInvite, error)
	PutInvite(inv *models.SpectatorInvite)
}

// Store is the document store the engine is built on: per-room atomic transactions
// and a change subscription.
type Store interface {
	CreateRoom(ctx context.Context, room *models.Room, host *models.Player) error
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	ListPlayers(ctx context.Context, roomID string) ([]*models.Player, error)
	GetSession(ctx context.Context, roomID, sessionID string) (*models.SpectatorSession, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error

	// RunTx executes fn atomically against roomID's documents. If fn returns an error
	// nothing is written.
	RunTx(ctx context.Context, roomID string, fn func(tx Tx) error) error

	// Subscribe streams changes for roomID until ctx is done; the channel is then closed.
	Subscribe(ctx context.Context, roomID string) (<-chan Change, error)
}
