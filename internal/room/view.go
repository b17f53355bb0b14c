// internal/room/view.go
package room

import (
	"maps"

	"github.com/jason-s-yu/sequence/internal/auth"
	"github.com/jason-s-yu/sequence/internal/models"
)

// View is a room as one caller is allowed to see it.
type View struct {
	Room    *models.Room     `json:"room"`
	Players []*models.Player `json:"players"`
}

func revealed(status models.RoomStatus) bool {
	return status == models.StatusReveal || status == models.StatusFinished
}

// NewView copies room and players, hiding other players' numbers until the reveal.
// Numbers already played in a sequential round stay visible.
func NewView(room *models.Room, players []*models.Player, caller auth.Identity) *View {
	r := *room
	open := revealed(room.Status)

	visible := func(uid string) bool {
		if open || uid == caller.UID {
			return true
		}
		if room.Order != nil {
			for _, id := range room.Order.List {
				if id == uid {
					return true
				}
			}
		}
		return false
	}
	filter := func(in map[string]int) map[string]int {
		if in == nil {
			return nil
		}
		out := make(map[string]int, len(in))
		for uid, n := range in {
			if visible(uid) {
				out[uid] = n
			}
		}
		return out
	}

	if room.Deal != nil {
		d := *room.Deal
		d.Numbers = filter(room.Deal.Numbers)
		d.SeatHistory = maps.Clone(room.Deal.SeatHistory)
		r.Deal = &d
	}
	if room.Order != nil {
		o := *room.Order
		o.Numbers = filter(room.Order.Numbers)
		r.Order = &o
	}

	out := make([]*models.Player, 0, len(players))
	for _, p := range players {
		cp := *p
		if !visible(p.ID) {
			cp.Number = nil
		}
		out = append(out, &cp)
	}
	return &View{Room: &r, Players: out}
}
