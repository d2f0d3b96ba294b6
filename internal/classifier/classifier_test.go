package classifier

import (
	"math/rand"
	"testing"
	"time"

	"sentrycoin/internal/config"
	"sentrycoin/pkg/types"
)

func testConfig() config.ClassifierConfig {
	return config.ClassifierConfig{
		Profile:        "aggressive",
		AlertReduction: 15,
		ThresholdFloor: 10,
		SilenceWindow:  60 * time.Second,
		WhaleAlertTTL:  30 * time.Second,
		OIAlertTTL:     60 * time.Second,
	}
}

func inputs(price float64, percentile int, pressure, momentum float64, ts time.Time) types.ClassifierInputs {
	return types.ClassifierInputs{
		Price:      price,
		DLSScore:   percentile,
		Percentile: percentile,
		Pressure:   pressure,
		Momentum:   momentum,
		Timestamp:  ts,
	}
}

func TestCascadeAtBoundary(t *testing.T) {
	t.Parallel()
	c := New(AggressiveProfile(), testConfig())

	// Pressure a hair over the threshold, momentum just under the max.
	d := c.Classify(inputs(3500, 50, 1.000015, -0.06, time.Now()))
	if d.Regime != types.RegimeCascadeHunter {
		t.Fatalf("regime = %s, want CASCADE_HUNTER (checks: %+v)", d.Regime, d.Checks)
	}
	if d.Confidence < 0 || d.Confidence > 100 {
		t.Errorf("confidence %d out of [0,100]", d.Confidence)
	}
}

func TestCoilDetection(t *testing.T) {
	t.Parallel()
	c := New(AggressiveProfile(), testConfig())

	d := c.Classify(inputs(3500, 90, 1.000003, 0.01, time.Now()))
	if d.Regime != types.RegimeCoilWatcher {
		t.Fatalf("regime = %s, want COIL_WATCHER (checks: %+v)", d.Regime, d.Checks)
	}
}

func TestShakeoutDetection(t *testing.T) {
	t.Parallel()
	c := New(AggressiveProfile(), testConfig())

	d := c.Classify(inputs(3500, 85, 1.0000005, -0.15, time.Now()))
	if d.Regime != types.RegimeShakeoutDetector {
		t.Fatalf("regime = %s, want SHAKEOUT_DETECTOR (checks: %+v)", d.Regime, d.Checks)
	}
}

func TestNoRegimeOnBalancedBook(t *testing.T) {
	t.Parallel()
	c := New(StrictProfile(), testConfig())

	d := c.Classify(inputs(3500, 60, 1.2, 0.1, time.Now()))
	if d.Regime != types.NoRegime {
		t.Fatalf("regime = %s, want NO_REGIME", d.Regime)
	}
	if d.Confidence != 0 {
		t.Errorf("NO_REGIME confidence = %d, want 0", d.Confidence)
	}
	// Every check must carry at least one named failure reason.
	for regime, check := range d.Checks {
		if check.Passed {
			t.Errorf("%s passed unexpectedly", regime)
		}
		if len(check.Reasons) == 0 {
			t.Errorf("%s failed with no reasons recorded", regime)
		}
	}
}

func TestFailureReasonsNamed(t *testing.T) {
	t.Parallel()
	c := New(StrictProfile(), testConfig())

	// Pressure high enough for cascade but liquidity and momentum failing.
	d := c.Classify(inputs(3500, 20, 3.5, 0.2, time.Now()))
	check := d.Checks[types.RegimeCascadeHunter]
	if check.Passed {
		t.Fatal("cascade should not pass")
	}
	want := map[string]bool{"Liquidity": true, "Momentum": true}
	for _, r := range check.Reasons {
		if !want[r] {
			t.Errorf("unexpected reason %q", r)
		}
		delete(want, r)
	}
	for r := range want {
		t.Errorf("missing reason %q", r)
	}
}

func TestAdaptiveThresholdAcceptsThenExpires(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	c := New(StrictProfile(), cfg) // base 75

	now := time.Now()
	in := inputs(3500, 62, 3.5, -0.4, now)

	// Without the alert, percentile 62 < 75 fails liquidity.
	d := c.Classify(in)
	if d.Regime != types.NoRegime {
		t.Fatalf("pre-alert regime = %s, want NO_REGIME", d.Regime)
	}

	// OI spike lowers the effective threshold to 60 for its TTL.
	c.RaiseAlert(types.DerivativesAlert{
		Type:      types.AlertOISpike,
		Timestamp: now,
		ExpiresAt: now.Add(cfg.OIAlertTTL),
	})
	d = c.Classify(in)
	if d.Regime != types.RegimeCascadeHunter {
		t.Fatalf("in-window regime = %s, want CASCADE_HUNTER (threshold %+v)", d.Regime, d.Threshold)
	}
	if d.Threshold.Effective != 60 {
		t.Errorf("effective threshold = %d, want 60", d.Threshold.Effective)
	}
	if len(d.Threshold.Adjustments) != 1 || d.Threshold.Adjustments[0].Source != types.AlertOISpike {
		t.Errorf("adjustments = %+v, want single OI_SPIKE entry", d.Threshold.Adjustments)
	}

	// Same tuple a tick after expiry reverts to the base threshold.
	in.Timestamp = now.Add(cfg.OIAlertTTL + time.Second)
	d = c.Classify(in)
	if d.Regime != types.NoRegime {
		t.Fatalf("post-expiry regime = %s, want NO_REGIME", d.Regime)
	}
	if d.Threshold.Effective != 75 {
		t.Errorf("post-expiry threshold = %d, want 75", d.Threshold.Effective)
	}
}

func TestReraisedAlertRefreshesNotStacks(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	c := New(StrictProfile(), cfg)

	now := time.Now()
	for i := 0; i < 5; i++ {
		c.RaiseAlert(types.DerivativesAlert{
			Type:      types.AlertOISpike,
			Timestamp: now,
			ExpiresAt: now.Add(cfg.OIAlertTTL),
		})
	}
	d := c.Classify(inputs(3500, 50, 1.0, 0, now))
	if d.Threshold.Effective != 60 {
		t.Errorf("effective = %d, want 60 (one reduction per alert type)", d.Threshold.Effective)
	}
}

func TestThresholdFloor(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	c := New(StrictProfile(), cfg)

	now := time.Now()
	for _, at := range []types.AlertType{
		types.AlertOISpike,
		types.AlertFundingSpike,
		types.AlertWhaleSpike,
		types.AlertHighVolatility,
	} {
		c.RaiseAlert(types.DerivativesAlert{
			Type:      at,
			Timestamp: now,
			ExpiresAt: now.Add(time.Minute),
		})
	}

	// 75 - 4*15 = 15, above the floor; with a lower base it must clamp.
	d := c.Classify(inputs(3500, 50, 1.0, 0, now))
	if d.Threshold.Effective != 15 {
		t.Errorf("effective = %d, want 15", d.Threshold.Effective)
	}

	c2 := New(AggressiveProfile(), cfg) // base 25
	for _, at := range []types.AlertType{
		types.AlertOISpike,
		types.AlertFundingSpike,
		types.AlertWhaleSpike,
	} {
		c2.RaiseAlert(types.DerivativesAlert{
			Type:      at,
			Timestamp: now,
			ExpiresAt: now.Add(time.Minute),
		})
	}
	d = c2.Classify(inputs(3500, 50, 1.2, 0.1, now))
	if d.Threshold.Effective != cfg.ThresholdFloor {
		t.Errorf("effective = %d, want floor %d", d.Threshold.Effective, cfg.ThresholdFloor)
	}
}

func TestRegimesMutuallyExclusive(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))

	for _, profile := range []Profile{StrictProfile(), AggressiveProfile()} {
		c := New(profile, testConfig())
		for i := 0; i < 5000; i++ {
			in := inputs(
				3000+rng.Float64()*1000,
				rng.Intn(101),
				rng.Float64()*5,
				rng.Float64()*2-1,
				time.Now(),
			)
			d := c.Classify(in)
			passed := 0
			for _, check := range d.Checks {
				if check.Passed {
					passed++
				}
			}
			if passed > 1 {
				t.Fatalf("profile %s: %d regimes passed for %+v", profile.Name, passed, in)
			}
		}
	}
}

func TestForcedDiagnosticOncePerSilentWindow(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	c := New(StrictProfile(), cfg)

	start := time.Now()
	c.Classify(inputs(3500, 50, 1.0, 0, start))

	// Within the window: nothing.
	if fd := c.MaybeForcedDiagnostic(start.Add(30 * time.Second)); fd != nil {
		t.Fatal("diagnostic fired inside the silence window")
	}

	// Past the window: exactly one record.
	fd := c.MaybeForcedDiagnostic(start.Add(61 * time.Second))
	if fd == nil {
		t.Fatal("diagnostic missing after silent window")
	}
	if fd.SilentFor < cfg.SilenceWindow {
		t.Errorf("silentFor = %s, want >= %s", fd.SilentFor, cfg.SilenceWindow)
	}
	if fd := c.MaybeForcedDiagnostic(start.Add(62 * time.Second)); fd != nil {
		t.Fatal("diagnostic fired twice in the same silent window")
	}

	// Another full silent window produces the next one.
	if fd := c.MaybeForcedDiagnostic(start.Add(125 * time.Second)); fd == nil {
		t.Fatal("diagnostic missing after second silent window")
	}

	// Classification resets the silence clock.
	c.Classify(inputs(3500, 50, 1.0, 0, start.Add(130*time.Second)))
	if fd := c.MaybeForcedDiagnostic(start.Add(150 * time.Second)); fd != nil {
		t.Fatal("diagnostic fired right after an active tick")
	}
}

func TestStatsAccumulate(t *testing.T) {
	t.Parallel()
	c := New(AggressiveProfile(), testConfig())

	now := time.Now()
	c.Classify(inputs(3500, 50, 1.000015, -0.06, now)) // cascade
	c.Classify(inputs(3500, 90, 1.000003, 0.01, now))  // coil
	c.Classify(inputs(3500, 60, 1.2, 0.1, now))        // nothing

	s := c.Stats()
	if s.TotalTicks != 3 {
		t.Errorf("totalTicks = %d, want 3", s.TotalTicks)
	}
	if s.RegimeCounts[types.RegimeCascadeHunter] != 1 {
		t.Errorf("cascade count = %d, want 1", s.RegimeCounts[types.RegimeCascadeHunter])
	}
	if s.RegimeCounts[types.RegimeCoilWatcher] != 1 {
		t.Errorf("coil count = %d, want 1", s.RegimeCounts[types.RegimeCoilWatcher])
	}
	if s.RegimeCounts[types.NoRegime] != 1 {
		t.Errorf("no-regime count = %d, want 1", s.RegimeCounts[types.NoRegime])
	}
}

func TestProfileByNameDefaultsStrict(t *testing.T) {
	t.Parallel()
	if p := ProfileByName("aggressive"); p.Name != "aggressive" {
		t.Errorf("ProfileByName(aggressive) = %s", p.Name)
	}
	if p := ProfileByName(""); p.Name != "strict" {
		t.Errorf("ProfileByName(\"\") = %s, want strict", p.Name)
	}
	if p := ProfileByName("bogus"); p.Name != "strict" {
		t.Errorf("ProfileByName(bogus) = %s, want strict", p.Name)
	}
}
