// internal/models/room.go
package models

import (
	"slices"
	"time"
)

// RoomStatus is the room's position in the round lifecycle.
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusClue     RoomStatus = "clue"
	StatusReveal   RoomStatus = "reveal"
	StatusFinished RoomStatus = "finished"
)

// Valid reports whether s is a known status.
func (s RoomStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusClue, StatusReveal, StatusFinished:
		return true
	}
	return false
}

// ResolveMode selects how a round is revealed.
type ResolveMode string

const (
	// ResolveSequential evaluates each play as it happens.
	ResolveSequential ResolveMode = "sequential"
	// ResolveSortSubmit lets players arrange a shared proposal, then reveals all at once.
	ResolveSortSubmit ResolveMode = "sort-submit"
)

// Valid reports whether m is a known resolve mode.
func (m ResolveMode) Valid() bool {
	return m == ResolveSequential || m == ResolveSortSubmit
}

// Options are the host-editable room settings.
type Options struct {
	ResolveMode            ResolveMode `json:"resolveMode"`
	DefaultTopicType       string      `json:"defaultTopicType"`
	AllowContinueAfterFail bool        `json:"allowContinueAfterFail"`
	DealMin                int         `json:"dealMin"`
	DealMax                int         `json:"dealMax"`
	MaxPlayers             int         `json:"maxPlayers"`
}

// DefaultOptions returns the settings a new room starts with.
func DefaultOptions() Options {
	return Options{
		ResolveMode:      ResolveSequential,
		DefaultTopicType: "classic",
		DealMin:          1,
		DealMax:          100,
		MaxPlayers:       10,
	}
}

// Deal is the number assignment of one round.
type Deal struct {
	Seed        string         `json:"seed"`
	Min         int            `json:"min"`
	Max         int            `json:"max"`
	Players     []string       `json:"players"`
	Numbers     map[string]int `json:"numbers"`
	SeatHistory map[string]int `json:"seatHistory"`
}

// Has reports whether uid was dealt into this round.
func (d *Deal) Has(uid string) bool {
	return d != nil && slices.Contains(d.Players, uid)
}

// Order tracks the reveal of the current round.
type Order struct {
	List       []string       `json:"list"`
	Proposal   []string       `json:"proposal"`
	Numbers    map[string]int `json:"numbers"`
	Total      int            `json:"total"`
	Failed     bool           `json:"failed"`
	FailedAt   *int           `json:"failedAt"`
	LastNumber *int           `json:"lastNumber"`
	DecidedAt  *time.Time     `json:"decidedAt"`
}

// Result is the outcome of a completed round.
type Result struct {
	Success    bool      `json:"success"`
	FailedAt   *int      `json:"failedAt"`
	LastNumber *int      `json:"lastNumber"`
	RevealedAt time.Time `json:"revealedAt"`
}

// Stats are the room's running statistics across rounds.
type Stats struct {
	CurrentStreak int        `json:"currentStreak"`
	BestStreak    int        `json:"bestStreak"`
	RoundsPlayed  int        `json:"roundsPlayed"`
	Successes     int        `json:"successes"`
	Failures      int        `json:"failures"`
	LastOutcomeAt *time.Time `json:"lastOutcomeAt,omitempty"`
}

// Room is the shared document every client observes.
type Room struct {
	ID        string     `json:"id"`
	Status    RoomStatus `json:"status"`
	HostID    string     `json:"hostId"`
	CreatorID string     `json:"creatorId"`
	Options   Options    `json:"options"`
	Round     int        `json:"round"`

	Deal   *Deal   `json:"deal,omitempty"`
	Order  *Order  `json:"order,omitempty"`
	Result *Result `json:"result,omitempty"`
	Stats  Stats   `json:"stats"`

	// StatusVersion increases by exactly one on every committed mutation.
	StatusVersion int64 `json:"statusVersion"`

	StartRequestID    string `json:"startRequestId,omitempty"`
	DealRequestID     string `json:"dealRequestId,omitempty"`
	ResetRequestID    string `json:"resetRequestId,omitempty"`
	SubmitRequestID   string `json:"submitRequestId,omitempty"`
	ContinueRequestID string `json:"continueRequestId,omitempty"`
	FinalizeRequestID string `json:"finalizeRequestId,omitempty"`
	OptionsRequestID  string `json:"optionsRequestId,omitempty"`
	// ProposalRequestIDs holds the most recent proposal edit tokens, oldest first.
	ProposalRequestIDs []string `json:"proposalRequestIds,omitempty"`

	LastCommandAt *time.Time `json:"lastCommandAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastActiveAt  time.Time  `json:"lastActiveAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
}

// IsHost reports whether uid is the host or creator. Admin claims are checked by callers.
func (r *Room) IsHost(uid string) bool {
	return uid != "" && (uid == r.HostID || uid == r.CreatorID)
}

// FreshRound is true when the room sits in the lobby with nothing dealt.
func (r *Room) FreshRound() bool {
	return r.Status == StatusWaiting && (r.Deal == nil || len(r.Deal.Numbers) == 0)
}

// ClearRound drops every per-round field, keeping options, stats and seat history.
func (r *Room) ClearRound() {
	if r.Deal != nil && len(r.Deal.SeatHistory) > 0 {
		r.Deal = &Deal{SeatHistory: r.Deal.SeatHistory}
	} else {
		r.Deal = nil
	}
	r.Order = nil
	r.Result = nil
}

// ProposalDoc mirrors room.order.proposal so proposal edits can be merged without the full room.
// Empty slots hold "".
type ProposalDoc struct {
	RoomID    string    `json:"roomId"`
	Proposal  []string  `json:"proposal"`
	Seed      string    `json:"seed"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Lock is the transient per-room mutual exclusion record.
type Lock struct {
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}
