// volume.go tracks recent traded notional so the DLS can weigh current
// activity against the last hour. The factor stays at the neutral 1.0 until
// the window has enough history to compare against.
package liquidity

import "time"

// recentSpan is the slice of the window treated as "now" when comparing
// current activity against the hourly baseline.
const recentSpan = 5 * time.Minute

type volumePoint struct {
	notional float64
	ts       time.Time
}

// VolumeWindow is a rolling window of notional volume observations.
// Owned by the analyzer; mutated only from the engine's tick loop.
type VolumeWindow struct {
	window time.Duration
	points []volumePoint
}

// NewVolumeWindow creates a window of the given span (default one hour).
func NewVolumeWindow(window time.Duration) *VolumeWindow {
	return &VolumeWindow{
		window: window,
		points: make([]volumePoint, 0, 512),
	}
}

// Add records a notional observation and evicts anything out of the window.
func (v *VolumeWindow) Add(notionalUSD float64, ts time.Time) {
	v.points = append(v.points, volumePoint{notional: notionalUSD, ts: ts})
	cutoff := ts.Add(-v.window)
	firstValid := 0
	for firstValid < len(v.points) && v.points[firstValid].ts.Before(cutoff) {
		firstValid++
	}
	if firstValid > 0 {
		v.points = v.points[firstValid:]
	}
}

// Factor compares the recent notional rate against the whole-window average
// rate and normalizes the ratio into [0.5, 1.5]. Returns 1.0 when the window
// has too little history to form a baseline.
func (v *VolumeWindow) Factor(now time.Time) float64 {
	if len(v.points) < 2 {
		return 1.0
	}

	span := now.Sub(v.points[0].ts)
	if span < 2*recentSpan {
		return 1.0
	}

	var total, recent float64
	recentCutoff := now.Add(-recentSpan)
	for _, p := range v.points {
		total += p.notional
		if !p.ts.Before(recentCutoff) {
			recent += p.notional
		}
	}
	if total == 0 {
		return 1.0
	}

	avgRate := total / span.Seconds()
	recentRate := recent / recentSpan.Seconds()
	ratio := recentRate / avgRate

	if ratio < 0.5 {
		return 0.5
	}
	if ratio > 1.5 {
		return 1.5
	}
	return ratio
}

// Len returns the number of retained observations.
func (v *VolumeWindow) Len() int { return len(v.points) }
