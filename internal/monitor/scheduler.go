package monitor

import (
	"time"

	"github.com/attestra/attestra/internal/registry"
)

// Intervals holds the sensitivity-tiered re-verification periods.
type Intervals struct {
	Critical time.Duration
	Strict   time.Duration
	Normal   time.Duration
}

// DefaultIntervals returns the re-verification tiers used when config
// does not override them.
func DefaultIntervals() Intervals {
	return Intervals{
		Critical: 5 * time.Minute,
		Strict:   15 * time.Minute,
		Normal:   60 * time.Minute,
	}
}

func (iv Intervals) forSensitivity(s registry.Sensitivity) time.Duration {
	switch s {
	case registry.SensitivityCritical:
		return iv.Critical
	case registry.SensitivityStrict:
		return iv.Strict
	default:
		return iv.Normal
	}
}

// due reports whether an asset's re-verification interval has elapsed.
// Assets without a verified baseline are never due: there is nothing
// to re-check against.
func (iv Intervals) due(a *registry.Asset, now time.Time) bool {
	if a.VerifiedHash == "" || a.LastVerified.IsZero() {
		return false
	}
	return now.Sub(a.LastVerified) >= iv.forSensitivity(a.Sensitivity)
}
