package models

// Tier represents the complexity routing bucket for a stage task.
type Tier string

const (
	// TierSimple is for tasks a single cheap worker can settle.
	TierSimple Tier = "simple"
	// TierMedium is for standard tasks handled by two cheap workers.
	TierMedium Tier = "medium"
	// TierComplex is for tasks needing cheap workers plus an anchor and aggregator.
	TierComplex Tier = "complex"
	// TierCritical is for audit and release-gate stages that always get the
	// highest-capability roster regardless of budget pressure.
	TierCritical Tier = "critical"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierSimple, TierMedium, TierComplex, TierCritical:
		return true
	default:
		return false
	}
}

// Rank returns the relative cost ordering of the tier, cheapest first.
// Unknown tiers rank as Medium.
func (t Tier) Rank() int {
	switch t {
	case TierSimple:
		return 0
	case TierMedium:
		return 1
	case TierComplex:
		return 2
	case TierCritical:
		return 3
	default:
		return 1
	}
}
