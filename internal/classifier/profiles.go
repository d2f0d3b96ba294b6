// profiles.go ships the two threshold calibrations.
//
// "strict" is the production calibration: regimes fire only on genuinely
// stretched books. "aggressive" places every threshold a hair from the
// neutral baseline (pressure ~1.0, momentum ~0) so regimes fire constantly;
// it exists for shakedowns and integration testing and must be selected
// explicitly.
package classifier

// Profile is one named set of regime thresholds. Pressure is the ask/bid
// volume ratio, momentum a percent change, percentiles in [0,100].
type Profile struct {
	Name string

	CascadePressureMin float64 // pressure >= this
	CascadeMomentumMax float64 // momentum <= this (negative)

	CoilPressureMax   float64 // pressure <= this
	CoilMomentumMin   float64 // tight band around zero
	CoilMomentumMax   float64
	CoilPercentileMin int

	ShakeoutPressureMax   float64 // pressure <= this
	ShakeoutMomentumMax   float64 // momentum <= this (strongly negative)
	ShakeoutPercentileMin int

	BaseThreshold int // base DLS percentile for signal validation
}

// StrictProfile is the default production calibration.
func StrictProfile() Profile {
	return Profile{
		Name:               "strict",
		CascadePressureMin: 3.0,
		CascadeMomentumMax: -0.3,

		CoilPressureMax:   0.8,
		CoilMomentumMin:   -0.05,
		CoilMomentumMax:   0.05,
		CoilPercentileMin: 85,

		ShakeoutPressureMax:   0.6,
		ShakeoutMomentumMax:   -0.5,
		ShakeoutPercentileMin: 80,

		BaseThreshold: 75,
	}
}

// AggressiveProfile keeps every threshold within noise of the neutral
// baseline so regimes trigger on nearly balanced books.
func AggressiveProfile() Profile {
	return Profile{
		Name:               "aggressive",
		CascadePressureMin: 1.00001,
		CascadeMomentumMax: -0.05,

		CoilPressureMax:   1.000005,
		CoilMomentumMin:   -0.02,
		CoilMomentumMax:   0.02,
		CoilPercentileMin: 85,

		ShakeoutPressureMax:   1.000002,
		ShakeoutMomentumMax:   -0.1,
		ShakeoutPercentileMin: 80,

		BaseThreshold: 25,
	}
}

// ProfileByName resolves a configured profile name, defaulting to strict.
func ProfileByName(name string) Profile {
	if name == "aggressive" {
		return AggressiveProfile()
	}
	return StrictProfile()
}
