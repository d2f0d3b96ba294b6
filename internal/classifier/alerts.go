// alerts.go maintains the side-channel alert set behind the adaptive DLS
// threshold. Each active alert lowers the base threshold by a fixed number
// of points; the effective threshold never drops below the floor. Expired
// alerts are evicted lazily on read. One alert per type is retained —
// re-raising a type extends its expiry instead of stacking reductions.
package classifier

import (
	"time"

	"sentrycoin/pkg/types"
)

// AlertSet is the classifier-private collection of live alerts.
// Not safe for concurrent use: owned by the classifier, which is driven
// exclusively from the engine's tick loop.
type AlertSet struct {
	active map[types.AlertType]types.DerivativesAlert
}

// NewAlertSet creates an empty set.
func NewAlertSet() *AlertSet {
	return &AlertSet{active: make(map[types.AlertType]types.DerivativesAlert)}
}

// Raise records or refreshes an alert.
func (s *AlertSet) Raise(alert types.DerivativesAlert) {
	s.active[alert.Type] = alert
}

// Active returns the live alerts at now, evicting expired ones.
func (s *AlertSet) Active(now time.Time) []types.DerivativesAlert {
	out := make([]types.DerivativesAlert, 0, len(s.active))
	for t, a := range s.active {
		if now.After(a.ExpiresAt) {
			delete(s.active, t)
			continue
		}
		out = append(out, a)
	}
	return out
}

// Threshold derives the effective DLS threshold from the base, the live
// alerts, the per-alert reduction, and the floor.
func (s *AlertSet) Threshold(now time.Time, base, reduction, floor int) types.AdaptiveThreshold {
	active := s.Active(now)

	effective := base
	adjustments := make([]types.ThresholdAdjustment, 0, len(active))
	for _, a := range active {
		effective -= reduction
		adjustments = append(adjustments, types.ThresholdAdjustment{
			Source:    a.Type,
			Reduction: reduction,
			ExpiresAt: a.ExpiresAt,
		})
	}
	if effective < floor {
		effective = floor
	}

	return types.AdaptiveThreshold{
		Base:        base,
		Effective:   effective,
		Floor:       floor,
		Adjustments: adjustments,
	}
}
