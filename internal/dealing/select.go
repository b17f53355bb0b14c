// internal/dealing/select.go
package dealing

import (
	"slices"

	"github.com/jason-s-yu/sequence/internal/presence"
)

// Selection is the ordered list of players who receive numbers this round.
type Selection struct {
	Players []string
	// Fallback is set when presence data looked unreliable and every known player was used.
	Fallback bool
}

// SelectPlayers orders candidates for a deal. Players seen by presence come first, the
// rest after, each group in lexical uid order. When presence is healthy only the active
// players are dealt in; when it is unknown, or when it reports at most one active uid
// while several candidates exist, every candidate is used in lexical order. limit caps
// the number of seats (0 means no cap).
func SelectPlayers(candidates []string, snap presence.Snapshot, limit int) Selection {
	all := slices.Clone(candidates)
	slices.Sort(all)
	all = slices.Compact(all)
	if len(all) > 0 && all[0] == "" {
		all = all[1:]
	}

	capTo := func(ids []string) []string {
		if limit > 0 && len(ids) > limit {
			return ids[:limit]
		}
		return ids
	}

	if !snap.Known {
		return Selection{Players: capTo(all)}
	}

	var active, unknown []string
	for _, uid := range all {
		if snap.Active(uid) {
			active = append(active, uid)
		} else {
			unknown = append(unknown, uid)
		}
	}

	if len(all) > 1 && len(active) <= 1 {
		return Selection{Players: capTo(all), Fallback: true}
	}

	ordered := append(active, unknown...)
	target := len(active)
	if limit > 0 && target > limit {
		target = limit
	}
	return Selection{Players: ordered[:target]}
}
