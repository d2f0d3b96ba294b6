// ring.go holds the rolling DLS history that makes the thresholds adaptive.
package liquidity

import "math"

// minSamplesForRank is the history size below which the percentile is pinned
// to the neutral 50: ranking against a near-empty ring is meaningless.
const minSamplesForRank = 10

// Ring is a bounded FIFO of recent DLS scores. At the default cap of 2880
// and one sample per 30s it spans 24 hours. Not safe for concurrent use;
// it is owned by the analyzer and mutated only from the engine's tick loop.
type Ring struct {
	scores []int
	cap    int
}

// NewRing creates a ring bounded to capacity samples.
func NewRing(capacity int) *Ring {
	return &Ring{
		scores: make([]int, 0, capacity),
		cap:    capacity,
	}
}

// Append records a score, evicting the oldest when full.
func (r *Ring) Append(score int) {
	if len(r.scores) >= r.cap {
		copy(r.scores, r.scores[1:])
		r.scores = r.scores[:len(r.scores)-1]
	}
	r.scores = append(r.scores, score)
}

// Percentile ranks score within the retained history: the percentage of
// entries less than or equal to it, rounded. Returns 50 until the ring has
// at least minSamplesForRank entries.
func (r *Ring) Percentile(score int) int {
	if len(r.scores) < minSamplesForRank {
		return 50
	}
	le := 0
	for _, s := range r.scores {
		if s <= score {
			le++
		}
	}
	return int(math.Round(float64(le) / float64(len(r.scores)) * 100))
}

// Len returns the number of retained samples.
func (r *Ring) Len() int { return len(r.scores) }
