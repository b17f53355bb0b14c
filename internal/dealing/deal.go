package dealing

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/jason-s-yu/sequence/internal/models"
)

// NewSeed returns a "<unix millis>-<random>" seed.
func NewSeed(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), random)
}

func rngFor(seed string) *rand.Rand {
	sum := blake2b.Sum256([]byte(seed))
	return rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(sum[0:8]),
		binary.LittleEndian.Uint64(sum[8:16]),
	))
}

// Numbers draws n pairwise-distinct integers from [lo, hi]. The same seed always yields
// the same sequence.
func Numbers(seed string, lo, hi, n int) ([]int, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative count %d", n)
	}
	size := hi - lo + 1
	if size < n {
		return nil, fmt.Errorf("range [%d,%d] holds %d values, need %d", lo, hi, max(size, 0), n)
	}

	r := rngFor(seed)
	// Partial Fisher-Yates over the virtual array lo..hi; only touched slots are stored.
	moved := make(map[int]int, 2*n)
	at := func(i int) int {
		if v, ok := moved[i]; ok {
			return v
		}
		return i
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		j := i + r.IntN(size-i)
		vi, vj := at(i), at(j)
		moved[i], moved[j] = vj, vi
		out[i] = lo + vj
	}
	return out, nil
}

// Build assigns numbers 1:1 in players order. Seats from earlier rounds are kept in
// SeatHistory; players dealt now record their index in this deal.
func Build(players []string, seed string, lo, hi int, prevSeats map[string]int) (*models.Deal, error) {
	nums, err := Numbers(seed, lo, hi, len(players))
	if err != nil {
		return nil, err
	}
	d := &models.Deal{
		Seed:        seed,
		Min:         lo,
		Max:         hi,
		Players:     append([]string(nil), players...),
		Numbers:     make(map[string]int, len(players)),
		SeatHistory: make(map[string]int, len(prevSeats)+len(players)),
	}
	for uid, seat := range prevSeats {
		d.SeatHistory[uid] = seat
	}
	for i, uid := range players {
		d.Numbers[uid] = nums[i]
		d.SeatHistory[uid] = i
	}
	return d, nil
}
