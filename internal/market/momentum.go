// momentum.go tracks mid-price history in a rolling window and derives the
// momentum feature: percent change from the oldest retained price to the
// current one. Entries are kept for the full window (default 5 minutes) so
// the measurement always spans the window once warm.
package market

import (
	"sync"
	"time"
)

// pricePoint is one (price, timestamp) observation.
type pricePoint struct {
	price float64
	ts    time.Time
}

// MomentumWindow is a rolling window of mid-price observations.
type MomentumWindow struct {
	mu     sync.Mutex
	window time.Duration
	points []pricePoint
}

// NewMomentumWindow creates a window of the given span.
func NewMomentumWindow(window time.Duration) *MomentumWindow {
	return &MomentumWindow{
		window: window,
		points: make([]pricePoint, 0, 256),
	}
}

// Add records a price observation and evicts points that have fallen out of
// the window, always keeping at least two so momentum stays defined.
func (m *MomentumWindow) Add(price float64, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.points = append(m.points, pricePoint{price: price, ts: ts})

	cutoff := ts.Add(-m.window)
	firstValid := 0
	for firstValid < len(m.points)-2 && m.points[firstValid].ts.Before(cutoff) {
		firstValid++
	}
	if firstValid > 0 {
		m.points = m.points[firstValid:]
	}
}

// Momentum returns the percent change from the oldest retained observation
// to the newest. Returns 0 with fewer than two points or a zero base price.
func (m *MomentumWindow) Momentum() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.points) < 2 {
		return 0
	}
	oldest := m.points[0]
	newest := m.points[len(m.points)-1]
	if oldest.price == 0 {
		return 0
	}
	return (newest.price - oldest.price) / oldest.price * 100
}

// Len returns the number of retained observations.
func (m *MomentumWindow) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points)
}
