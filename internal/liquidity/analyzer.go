// Package liquidity implements the Dynamic Liquidity Analyzer.
//
// Every order-book snapshot is condensed into a composite Dynamic Liquidity
// Score (DLS) built from five normalized components: depth, density around
// mid, spread tightness, simulated market impact, and recent volume. The
// score itself is meaningless in isolation — what the rest of the system
// consumes is its percentile within a 24-hour rolling ring, which makes
// every downstream threshold self-calibrating. Static DLS thresholds are
// deliberately impossible to express here.
//
// The analyzer is single-consumer by design: it is owned by the engine and
// invoked only from the engine's tick loop, so the ring and the volume
// window need no locks.
package liquidity

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"sentrycoin/internal/config"
	"sentrycoin/pkg/types"
)

// Component weights of the composite DLS. Each component is normalized to
// [0,100] before weighting.
const (
	weightDepth   = 0.25
	weightDensity = 0.25
	weightSpread  = 0.20
	weightImpact  = 0.20
	weightVolume  = 0.10
)

// densityBandPct is the half-width of the mid-price band used for the
// density component (±1%).
const densityBandPct = 0.01

// Analyzer converts order-book snapshots into LiquiditySamples.
type Analyzer struct {
	cfg        config.LiquidityConfig
	ring       *Ring
	volume     *VolumeWindow
	lastAppend time.Time
}

// NewAnalyzer creates an analyzer with an empty history ring.
func NewAnalyzer(cfg config.LiquidityConfig) *Analyzer {
	return &Analyzer{
		cfg:    cfg,
		ring:   NewRing(cfg.RingSize),
		volume: NewVolumeWindow(cfg.VolumeWindow),
	}
}

// RecordVolume feeds a traded-notional observation into the volume window.
func (a *Analyzer) RecordVolume(notionalUSD float64, ts time.Time) {
	a.volume.Add(notionalUSD, ts)
}

// RingLen exposes the current history depth (for /status).
func (a *Analyzer) RingLen() int { return a.ring.Len() }

// Analyze scores one snapshot. Malformed input (empty side, crossed book,
// non-positive quantity) yields an INVALID_DATA sample and leaves the
// history ring untouched.
func (a *Analyzer) Analyze(snap types.OrderBookSnapshot) types.LiquiditySample {
	now := snap.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	if !validSnapshot(snap) {
		return types.LiquiditySample{Status: types.SampleInvalid, Timestamp: now}
	}

	mid := midPrice(snap)
	comp := types.LiquidityComponents{
		Depth:   a.depthScore(snap),
		Density: densityScore(snap, mid),
		Spread:  spreadScore(snap, mid),
		Impact:  a.impactScore(snap, mid),
		Volume:  volumeScore(a.volume.Factor(now)),
	}

	dls := weightDepth*comp.Depth +
		weightDensity*comp.Density +
		weightSpread*comp.Spread +
		weightImpact*comp.Impact +
		weightVolume*comp.Volume
	score := clampScore(int(math.Round(dls)))

	// Ring appends are paced to the sample interval so the 2880-slot ring
	// spans 24 hours regardless of how fast book updates arrive.
	if a.cfg.SampleInterval <= 0 || a.lastAppend.IsZero() || now.Sub(a.lastAppend) >= a.cfg.SampleInterval {
		a.ring.Append(score)
		a.lastAppend = now
	}
	percentile := a.ring.Percentile(score)

	return types.LiquiditySample{
		Status:           types.SampleOK,
		DLS:              score,
		Percentile:       percentile,
		Regime:           types.GradeLiquidity(percentile),
		Components:       comp,
		IsValidForSignal: percentile >= a.cfg.SignalThreshold,
		Event:            deriveEvent(percentile),
		Timestamp:        now,
	}
}

func validSnapshot(snap types.OrderBookSnapshot) bool {
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return false
	}
	if !snap.Bids[0].Price.LessThan(snap.Asks[0].Price) {
		return false
	}
	for _, lvl := range snap.Bids {
		if !lvl.Qty.IsPositive() {
			return false
		}
	}
	for _, lvl := range snap.Asks {
		if !lvl.Qty.IsPositive() {
			return false
		}
	}
	return true
}

func midPrice(snap types.OrderBookSnapshot) float64 {
	mid, _ := snap.Bids[0].Price.Add(snap.Asks[0].Price).Div(decimal.NewFromInt(2)).Float64()
	return mid
}

// depthScore sums quantities on both sides and maps them against the
// configured "full depth" normal.
func (a *Analyzer) depthScore(snap types.OrderBookSnapshot) float64 {
	total := decimal.Zero
	for _, lvl := range snap.Bids {
		total = total.Add(lvl.Qty)
	}
	for _, lvl := range snap.Asks {
		total = total.Add(lvl.Qty)
	}
	t, _ := total.Float64()
	if a.cfg.DepthNormal <= 0 {
		return 0
	}
	return math.Min(100, t/a.cfg.DepthNormal*100)
}

// densityScore averages quantity per level within ±1% of mid, scaled ×10.
// Zero when no levels fall inside the band.
func densityScore(snap types.OrderBookSnapshot, mid float64) float64 {
	lo, hi := mid*(1-densityBandPct), mid*(1+densityBandPct)
	var sum float64
	var count int
	for _, lvl := range snap.Bids {
		p, _ := lvl.Price.Float64()
		if p >= lo && p <= hi {
			q, _ := lvl.Qty.Float64()
			sum += q
			count++
		}
	}
	for _, lvl := range snap.Asks {
		p, _ := lvl.Price.Float64()
		if p >= lo && p <= hi {
			q, _ := lvl.Qty.Float64()
			sum += q
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return math.Min(100, sum/float64(count)*10)
}

// spreadScore rewards tight books: 100 at zero spread, 0 beyond 50 bps.
func spreadScore(snap types.OrderBookSnapshot, mid float64) float64 {
	bid, _ := snap.Bids[0].Price.Float64()
	ask, _ := snap.Asks[0].Price.Float64()
	if mid <= 0 {
		return 0
	}
	spreadBps := (ask - bid) / mid * 10000
	return math.Max(0, 100-spreadBps*2)
}

// impactScore walks the bid side with a hypothetical market sell of the
// configured notional and scores the VWAP slippage. A book too thin to
// absorb the order scores 0 (worst case).
func (a *Analyzer) impactScore(snap types.OrderBookSnapshot, mid float64) float64 {
	remaining := a.cfg.ImpactNotionalUSD
	var filledQty float64
	for _, lvl := range snap.Bids {
		price, _ := lvl.Price.Float64()
		qty, _ := lvl.Qty.Float64()
		levelNotional := price * qty
		take := math.Min(remaining, levelNotional)
		if price > 0 {
			filledQty += take / price
		}
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	if remaining > 1e-9 || filledQty == 0 {
		return 0
	}
	vwap := a.cfg.ImpactNotionalUSD / filledQty
	impactBps := math.Abs(vwap-mid) / mid * 10000
	return math.Max(0, 100-impactBps*20)
}

// volumeScore maps the [0.5, 1.5] volume factor onto [0, 100].
func volumeScore(factor float64) float64 {
	s := (factor - 0.5) * 100
	return math.Max(0, math.Min(100, s))
}

func deriveEvent(percentile int) types.LiquidityEvent {
	switch {
	case percentile >= 90:
		return types.EventHighLiquidityRegime
	case percentile <= 10:
		return types.EventCriticalLiquidity
	case percentile <= 25:
		return types.EventLowLiquidityWarning
	default:
		return ""
	}
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
