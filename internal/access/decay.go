package access

import (
	"time"
)

// Policy holds the decay parameters from config. The tracker itself only
// records facts; these computations feed the maintain prompt and can be
// re-run outside any LLM call.
type Policy struct {
	DecayDays int
	MinFloor  float64
	GraceDays int
}

// EffectiveConfidence applies time decay to a memory's confidence:
//
//	confidence × max(min_floor, 1 − days_since_last_access / decay_days)
//
// A memory with no access record decays from its created time instead. The
// result is monotone non-increasing in the days since last access and never
// falls below min_floor × confidence.
func (p Policy) EffectiveConfidence(confidence float64, lastAccess, created *time.Time, now time.Time) float64 {
	ref := lastAccess
	if ref == nil {
		ref = created
	}
	if ref == nil || p.DecayDays <= 0 {
		return confidence
	}
	days := now.Sub(*ref).Hours() / 24
	if days < 0 {
		days = 0
	}
	factor := 1 - days/float64(p.DecayDays)
	if factor < p.MinFloor {
		factor = p.MinFloor
	}
	return confidence * factor
}

// WithinGrace reports whether the memory was accessed recently enough that
// maintain must not archive it regardless of confidence.
func (p Policy) WithinGrace(lastAccess *time.Time, now time.Time) bool {
	if lastAccess == nil || p.GraceDays <= 0 {
		return false
	}
	return now.Sub(*lastAccess) <= time.Duration(p.GraceDays)*24*time.Hour
}
