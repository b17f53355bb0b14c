// internal/reveal/reveal.go
package reveal

import (
	"time"

	"github.com/jason-s-yu/sequence/internal/models"
)

// Outcome is the evaluation of an ordered reveal.
type Outcome struct {
	Failed     bool
	FailedAt   *int
	LastNumber *int
}

// Evaluate walks list in order. The sequence holds while every number is at least the one
// revealed before it; the first drop marks the failure position and the offending number.
func Evaluate(list []string, numbers map[string]int) Outcome {
	var out Outcome
	for i, id := range list {
		n := numbers[id]
		if !out.Failed && i > 0 && n < numbers[list[i-1]] {
			pos, val := i, n
			out.Failed, out.FailedAt, out.LastNumber = true, &pos, &val
		}
		if !out.Failed {
			val := n
			out.LastNumber = &val
		}
	}
	return out
}

// NewOrder starts the reveal state for a fresh deal.
func NewOrder(deal *models.Deal) *models.Order {
	nums := make(map[string]int, len(deal.Numbers))
	for k, v := range deal.Numbers {
		nums[k] = v
	}
	return &models.Order{
		List:     []string{},
		Proposal: make([]string, len(deal.Players)),
		Numbers:  nums,
		Total:    len(deal.Players),
	}
}

// Play appends id to the revealed list and evaluates just that step. It returns true when
// this play is the round's first failure. Replaying an id already in the list is a no-op.
func Play(order *models.Order, id string) bool {
	for _, done := range order.List {
		if done == id {
			return false
		}
	}
	n := order.Numbers[id]
	order.List = append(order.List, id)
	if order.Failed {
		return false
	}
	pos := len(order.List) - 1
	if pos > 0 && n < order.Numbers[order.List[pos-1]] {
		val := n
		order.Failed, order.FailedAt, order.LastNumber = true, &pos, &val
		return true
	}
	val := n
	order.LastNumber = &val
	return false
}

// SequentialDone reports whether a sequential round is over: everyone has played, or the
// first failure happened and play may not continue past it.
func SequentialDone(order *models.Order, allowContinueAfterFail bool) bool {
	if len(order.List) >= order.Total {
		return true
	}
	return order.Failed && !allowContinueAfterFail
}

// Conclude writes the round's result and folds it into the streak statistics. It must run
// in the same transaction as the status change to reveal.
func Conclude(room *models.Room, now time.Time) {
	o := room.Order
	room.Result = &models.Result{
		Success:    !o.Failed,
		FailedAt:   o.FailedAt,
		LastNumber: o.LastNumber,
		RevealedAt: now,
	}
	at := now
	o.DecidedAt = &at
	ApplyStats(&room.Stats, !o.Failed, now)
}

// ApplyStats records one finished round.
func ApplyStats(s *models.Stats, success bool, now time.Time) {
	s.RoundsPlayed++
	if success {
		s.Successes++
		s.CurrentStreak++
		if s.CurrentStreak > s.BestStreak {
			s.BestStreak = s.CurrentStreak
		}
	} else {
		s.Failures++
		s.CurrentStreak = 0
	}
	at := now
	s.LastOutcomeAt = &at
}
