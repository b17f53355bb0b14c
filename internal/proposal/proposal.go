// internal/proposal/proposal.go
package proposal

import (
	"errors"
	"slices"

	"github.com/jason-s-yu/sequence/internal/models"
)

// OpKind is one of the three proposal edits.
type OpKind string

const (
	OpAdd    OpKind = "add"
	OpRemove OpKind = "remove"
	OpMove   OpKind = "move"
)

// Valid reports whether k is a known op.
func (k OpKind) Valid() bool {
	return k == OpAdd || k == OpRemove || k == OpMove
}

// Op is a single edit. TargetIndex is optional for add and ignored for remove.
type Op struct {
	Kind        OpKind `json:"op"`
	PlayerID    string `json:"playerId"`
	TargetIndex *int   `json:"targetIndex,omitempty"`
}

var (
	// ErrNotEligible is returned for an op on a player outside the current deal.
	ErrNotEligible = errors.New("proposal: player not in current deal")
	// ErrMissingTarget is returned for a move without a target.
	ErrMissingTarget = errors.New("proposal: move needs a target index")
	// ErrUnknownOp is returned for an unrecognised op kind.
	ErrUnknownOp = errors.New("proposal: unknown op")
)

// Current returns the slots to edit from the stored document. A document dealt under a
// different seed is stale and yields an all-empty proposal.
func Current(doc *models.ProposalDoc, dealSeed string) []string {
	if doc == nil || doc.Seed != dealSeed {
		return nil
	}
	return doc.Proposal
}

// Normalize resizes slots to exactly maxCount, scrubs ids that are not eligible, and keeps
// only the first slot of any repeated id.
func Normalize(slots []string, eligible []string, maxCount int) []string {
	maxCount = max(maxCount, 0)
	out := make([]string, maxCount)
	seen := make(map[string]bool, len(slots))
	for i := 0; i < maxCount && i < len(slots); i++ {
		id := slots[i]
		if id == "" || seen[id] || !slices.Contains(eligible, id) {
			continue
		}
		seen[id] = true
		out[i] = id
	}
	return out
}

func clamp(i, maxCount int) int {
	if i < 0 {
		return 0
	}
	if i > maxCount-1 {
		return maxCount - 1
	}
	return i
}

// Apply runs op against slots and returns the new slots. Slots are normalized first, so
// the result always has len(eligible) entries and each id appears at most once.
func Apply(slots []string, op Op, eligible []string) ([]string, error) {
	maxCount := len(eligible)
	out := Normalize(slots, eligible, maxCount)
	if !op.Kind.Valid() {
		return out, ErrUnknownOp
	}
	if !slices.Contains(eligible, op.PlayerID) {
		return out, ErrNotEligible
	}
	if maxCount == 0 {
		return out, nil
	}
	cur := slices.Index(out, op.PlayerID)

	switch op.Kind {
	case OpAdd:
		if cur >= 0 {
			return out, nil
		}
		start := 0
		if op.TargetIndex != nil {
			start = clamp(*op.TargetIndex, maxCount)
		}
		for i := start; i < maxCount; i++ {
			if out[i] == "" {
				out[i] = op.PlayerID
				return out, nil
			}
		}
	case OpRemove:
		if cur >= 0 {
			out[cur] = ""
		}
	case OpMove:
		if op.TargetIndex == nil {
			return out, ErrMissingTarget
		}
		target := clamp(*op.TargetIndex, maxCount)
		switch {
		case cur == target:
		case out[target] == "":
			if cur >= 0 {
				out[cur] = ""
			}
			out[target] = op.PlayerID
		case cur >= 0:
			out[cur], out[target] = out[target], out[cur]
		}
		// A player with no slot cannot displace someone else.
	}
	return out, nil
}

// Compact drops empty slots, preserving order.
func Compact(slots []string) []string {
	out := make([]string, 0, len(slots))
	for _, id := range slots {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Complete reports whether every eligible id is placed.
func Complete(slots []string, eligible []string) bool {
	if len(eligible) == 0 {
		return false
	}
	placed := Compact(slots)
	if len(placed) != len(eligible) {
		return false
	}
	for _, id := range eligible {
		if !slices.Contains(placed, id) {
			return false
		}
	}
	return true
}
