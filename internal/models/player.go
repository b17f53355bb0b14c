package models

import "time"

// Player is one seated member of a room. Players are created on join and deleted on leave.
type Player struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	Name       string    `json:"name"`
	Avatar     string    `json:"avatar"`
	Number     *int      `json:"number"`
	Clue1      string    `json:"clue1"`
	Ready      bool      `json:"ready"`
	OrderIndex *int      `json:"orderIndex"`
	JoinedAt   time.Time `json:"joinedAt"`
	LastSeen   time.Time `json:"lastSeen"`
}

// ResetRound clears the per-round fields.
func (p *Player) ResetRound() {
	p.Number = nil
	p.Clue1 = ""
	p.Ready = false
	p.OrderIndex = nil
}
