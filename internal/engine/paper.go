// paper.go is the paper-trading regime consumer: it records simulated
// entries for actionable regimes without touching any exchange. It exists
// to exercise the consumer contract — the engine publishes every
// detection, and each consumer enforces its own cooldown.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"sentrycoin/pkg/types"
)

// PaperSide is the simulated position direction for a regime.
type PaperSide string

const (
	PaperShort PaperSide = "SHORT"
	PaperLong  PaperSide = "LONG"
)

// PaperPosition is one simulated entry.
type PaperPosition struct {
	Symbol     string       `json:"symbol"`
	Regime     types.Regime `json:"regime"`
	Side       PaperSide    `json:"side"`
	EntryPrice float64      `json:"entryPrice"`
	Confidence int          `json:"confidence"`
	OpenedAt   time.Time    `json:"openedAt"`
}

// PaperTrader consumes regime events and records simulated positions.
// Repeated identical regimes within the cooldown are ignored here, not in
// the engine.
type PaperTrader struct {
	mu        sync.Mutex
	cooldown  time.Duration
	lastEntry map[types.Regime]time.Time
	positions []PaperPosition
	skipped   int64
	logger    *slog.Logger
}

// NewPaperTrader creates a trader with a per-regime entry cooldown.
func NewPaperTrader(cooldown time.Duration, logger *slog.Logger) *PaperTrader {
	return &PaperTrader{
		cooldown:  cooldown,
		lastEntry: make(map[types.Regime]time.Time),
		logger:    logger.With("component", "paper_trader"),
	}
}

// OnRegime implements Consumer. COIL_WATCHER is observational only; the
// other two regimes open a simulated position in their expected direction.
func (p *PaperTrader) OnRegime(ev types.RegimeEvent) {
	var side PaperSide
	switch ev.Decision.Regime {
	case types.RegimeCascadeHunter:
		side = PaperShort // forced selling into thin books
	case types.RegimeShakeoutDetector:
		side = PaperLong // capitulation flush, expect reversal
	default:
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.lastEntry[ev.Decision.Regime]; ok && ev.EmittedAt.Sub(last) < p.cooldown {
		p.skipped++
		return
	}
	p.lastEntry[ev.Decision.Regime] = ev.EmittedAt

	pos := PaperPosition{
		Symbol:     ev.Symbol,
		Regime:     ev.Decision.Regime,
		Side:       side,
		EntryPrice: ev.Decision.Inputs.Price,
		Confidence: ev.Decision.Confidence,
		OpenedAt:   ev.EmittedAt,
	}
	p.positions = append(p.positions, pos)
	p.logger.Info("paper entry",
		"regime", string(pos.Regime),
		"side", string(pos.Side),
		"price", pos.EntryPrice,
		"confidence", pos.Confidence,
	)
}

// Positions returns a copy of the recorded entries.
func (p *PaperTrader) Positions() []PaperPosition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PaperPosition(nil), p.positions...)
}

// Skipped reports entries suppressed by the cooldown.
func (p *PaperTrader) Skipped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipped
}
