// Package classifier implements the market regime decision function.
//
// Classify is pure over its inputs plus the side-channel alert state: given
// the per-tick feature tuple (price, DLS, percentile, pressure, momentum)
// it evaluates the three regime rules in a fixed order and returns the first
// match, or NO_REGIME. Every decision carries a full diagnostic record —
// per-regime PASS/FAIL with the failing conditions named, the effective
// adaptive threshold and its live adjustments, and cumulative stats — so an
// operator can always answer "why didn't it fire".
//
// The classifier is not safe for concurrent use. The engine drives it from
// a single tick loop; only the alert set and the silence timer persist
// between ticks.
package classifier

import (
	"math"
	"time"

	"sentrycoin/internal/config"
	"sentrycoin/pkg/types"
)

// epsilon absorbs float noise at rule boundaries so a pressure of exactly
// the threshold (modulo representation error) still matches.
const epsilon = 1e-10

// Failure reason labels, one per rule condition.
const (
	reasonPressure  = "Pressure"
	reasonLiquidity = "Liquidity"
	reasonMomentum  = "Momentum"
)

// Confidence weights: how far pressure, liquidity and momentum exceeded
// their required thresholds, linearly combined.
const (
	confWeightPressure  = 40.0
	confWeightLiquidity = 30.0
	confWeightMomentum  = 30.0
)

// Stats accumulates classifier activity for diagnostics.
type Stats struct {
	TotalTicks    int64                  `json:"totalTicks"`
	RegimeCounts  map[types.Regime]int64 `json:"regimeCounts"`
	ForcedRecords int64                  `json:"forcedRecords"`
	LastTickAt    time.Time              `json:"lastTickAt,omitzero"`
}

// ForcedDiagnostic is the heartbeat record emitted after a silent minute.
type ForcedDiagnostic struct {
	SilentFor time.Duration `json:"silentFor"`
	Stats     Stats         `json:"stats"`
	Timestamp time.Time     `json:"timestamp"`
}

// Classifier evaluates regime rules with an adaptive liquidity threshold.
type Classifier struct {
	profile Profile
	cfg     config.ClassifierConfig
	alerts  *AlertSet

	stats        Stats
	lastActivity time.Time // last tick or forced diagnostic
}

// New creates a classifier with the given profile.
func New(profile Profile, cfg config.ClassifierConfig) *Classifier {
	return &Classifier{
		profile: profile,
		cfg:     cfg,
		alerts:  NewAlertSet(),
		stats: Stats{
			RegimeCounts: make(map[types.Regime]int64),
		},
		lastActivity: time.Now(),
	}
}

// Profile returns the active threshold profile.
func (c *Classifier) Profile() Profile { return c.profile }

// RaiseAlert adds or refreshes a side-channel alert.
func (c *Classifier) RaiseAlert(alert types.DerivativesAlert) {
	c.alerts.Raise(alert)
}

// ActiveAlerts returns the live alerts at now (for /status).
func (c *Classifier) ActiveAlerts(now time.Time) []types.DerivativesAlert {
	return c.alerts.Active(now)
}

// Stats returns a copy of the cumulative counters.
func (c *Classifier) Stats() Stats {
	s := c.stats
	s.RegimeCounts = make(map[types.Regime]int64, len(c.stats.RegimeCounts))
	for k, v := range c.stats.RegimeCounts {
		s.RegimeCounts[k] = v
	}
	return s
}

// Classify evaluates the regime rules against one feature tuple.
func (c *Classifier) Classify(in types.ClassifierInputs) types.ClassifierDecision {
	now := in.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	threshold := c.alerts.Threshold(now, c.profile.BaseThreshold, c.cfg.AlertReduction, c.cfg.ThresholdFloor)

	checks := map[types.Regime]types.RegimeCheck{
		types.RegimeCascadeHunter:    c.checkCascade(in, threshold.Effective),
		types.RegimeCoilWatcher:      c.checkCoil(in),
		types.RegimeShakeoutDetector: c.checkShakeout(in),
	}

	// First match wins, evaluated in a fixed order; the rules are built so
	// at most one can pass for any input.
	regime := types.NoRegime
	for _, r := range []types.Regime{types.RegimeCascadeHunter, types.RegimeCoilWatcher, types.RegimeShakeoutDetector} {
		if checks[r].Passed {
			regime = r
			break
		}
	}

	c.stats.TotalTicks++
	c.stats.RegimeCounts[regime]++
	c.stats.LastTickAt = now
	c.lastActivity = now

	return types.ClassifierDecision{
		Regime:     regime,
		Confidence: c.confidence(regime, in, threshold.Effective),
		Inputs:     roundInputs(in),
		Checks:     checks,
		Threshold:  threshold,
		Timestamp:  now,
	}
}

// MaybeForcedDiagnostic returns a heartbeat record when no classification
// (and no prior heartbeat) happened within the silence window, else nil.
// At most one record is produced per silent window.
func (c *Classifier) MaybeForcedDiagnostic(now time.Time) *ForcedDiagnostic {
	silence := now.Sub(c.lastActivity)
	if silence < c.cfg.SilenceWindow {
		return nil
	}
	c.lastActivity = now
	c.stats.ForcedRecords++
	return &ForcedDiagnostic{
		SilentFor: silence,
		Stats:     c.Stats(),
		Timestamp: now,
	}
}

func (c *Classifier) checkCascade(in types.ClassifierInputs, effective int) types.RegimeCheck {
	var reasons []string
	if !geq(in.Pressure, c.profile.CascadePressureMin) {
		reasons = append(reasons, reasonPressure)
	}
	if in.Percentile < effective {
		reasons = append(reasons, reasonLiquidity)
	}
	if !leq(in.Momentum, c.profile.CascadeMomentumMax) {
		reasons = append(reasons, reasonMomentum)
	}
	return types.RegimeCheck{Passed: len(reasons) == 0, Reasons: reasons}
}

func (c *Classifier) checkCoil(in types.ClassifierInputs) types.RegimeCheck {
	var reasons []string
	if !leq(in.Pressure, c.profile.CoilPressureMax) {
		reasons = append(reasons, reasonPressure)
	}
	if in.Percentile < c.profile.CoilPercentileMin {
		reasons = append(reasons, reasonLiquidity)
	}
	if !geq(in.Momentum, c.profile.CoilMomentumMin) || !leq(in.Momentum, c.profile.CoilMomentumMax) {
		reasons = append(reasons, reasonMomentum)
	}
	return types.RegimeCheck{Passed: len(reasons) == 0, Reasons: reasons}
}

func (c *Classifier) checkShakeout(in types.ClassifierInputs) types.RegimeCheck {
	var reasons []string
	if !leq(in.Pressure, c.profile.ShakeoutPressureMax) {
		reasons = append(reasons, reasonPressure)
	}
	if in.Percentile < c.profile.ShakeoutPercentileMin {
		reasons = append(reasons, reasonLiquidity)
	}
	if !leq(in.Momentum, c.profile.ShakeoutMomentumMax) {
		reasons = append(reasons, reasonMomentum)
	}
	return types.RegimeCheck{Passed: len(reasons) == 0, Reasons: reasons}
}

// confidence scores how far each input cleared its threshold, weighted
// 40/30/30 (pressure/liquidity/momentum) and clipped to [0,100].
// The exact weights are a regression surface, not a contract.
func (c *Classifier) confidence(regime types.Regime, in types.ClassifierInputs, effective int) int {
	var pTerm, lTerm, mTerm float64
	switch regime {
	case types.RegimeCascadeHunter:
		pTerm = clamp01((in.Pressure - c.profile.CascadePressureMin) / c.profile.CascadePressureMin)
		lTerm = excessAbove(in.Percentile, effective)
		mTerm = momentumExcess(in.Momentum, c.profile.CascadeMomentumMax)
	case types.RegimeCoilWatcher:
		pTerm = clamp01((c.profile.CoilPressureMax - in.Pressure) / c.profile.CoilPressureMax)
		lTerm = excessAbove(in.Percentile, c.profile.CoilPercentileMin)
		// Closer to dead-flat momentum means a tighter coil.
		band := math.Max(math.Abs(c.profile.CoilMomentumMin), math.Abs(c.profile.CoilMomentumMax))
		if band > 0 {
			mTerm = clamp01(1 - math.Abs(in.Momentum)/band)
		}
	case types.RegimeShakeoutDetector:
		pTerm = clamp01((c.profile.ShakeoutPressureMax - in.Pressure) / c.profile.ShakeoutPressureMax)
		lTerm = excessAbove(in.Percentile, c.profile.ShakeoutPercentileMin)
		mTerm = momentumExcess(in.Momentum, c.profile.ShakeoutMomentumMax)
	default:
		return 0
	}
	score := confWeightPressure*pTerm + confWeightLiquidity*lTerm + confWeightMomentum*mTerm
	return int(math.Round(math.Max(0, math.Min(100, score))))
}

// excessAbove maps percentile headroom above a requirement onto [0,1].
func excessAbove(percentile, required int) float64 {
	if required >= 100 {
		return 1
	}
	return clamp01(float64(percentile-required) / float64(100-required))
}

// momentumExcess maps how far momentum undershot a negative requirement
// onto [0,1], saturating at twice the requirement.
func momentumExcess(momentum, required float64) float64 {
	span := math.Abs(required)
	if span == 0 {
		span = 1
	}
	return clamp01((required - momentum) / span)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func geq(a, b float64) bool { return a >= b-epsilon }
func leq(a, b float64) bool { return a <= b+epsilon }

// roundInputs trims the tuple for the diagnostic record.
func roundInputs(in types.ClassifierInputs) types.ClassifierInputs {
	in.Price = math.Round(in.Price*100) / 100
	in.Pressure = math.Round(in.Pressure*1e8) / 1e8
	in.Momentum = math.Round(in.Momentum*1e4) / 1e4
	return in
}
