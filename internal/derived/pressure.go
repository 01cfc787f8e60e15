package derived

import "fmt"

// MAPStrategy selects the mean arterial pressure formula.
type MAPStrategy string

const (
	// MAPInterpolated is diastolic + (systolic - diastolic)/3.
	MAPInterpolated MAPStrategy = "interpolated"
	// MAPWeighted is (systolic + 2*diastolic)/3.
	MAPWeighted MAPStrategy = "weighted"

	DefaultMAPStrategy = MAPInterpolated
)

// ParseMAPStrategy accepts "interpolated", "weighted" or "" (the default).
func ParseMAPStrategy(s string) (MAPStrategy, error) {
	switch MAPStrategy(s) {
	case "":
		return DefaultMAPStrategy, nil
	case MAPInterpolated, MAPWeighted:
		return MAPStrategy(s), nil
	}
	return "", fmt.Errorf("unknown MAP strategy %q", s)
}

// MAP returns mean arterial pressure in mmHg, 2 decimals, using strategy.
// An unrecognised strategy falls back to DefaultMAPStrategy.
func MAP(systolic, diastolic float64, strategy MAPStrategy) Value {
	if strategy == MAPWeighted {
		return MAPWeightedMean(systolic, diastolic)
	}
	return MAPInterpolatedMean(systolic, diastolic)
}

// MAPInterpolatedMean is diastolic + (systolic - diastolic)/3, 2 decimals.
func MAPInterpolatedMean(systolic, diastolic float64) Value {
	if reason, ok := positive(systolic, diastolic); !ok {
		return Unavailable(reason)
	}
	return available(diastolic+(systolic-diastolic)/3, 2)
}

// MAPWeightedMean is (systolic + 2*diastolic)/3, 2 decimals.
func MAPWeightedMean(systolic, diastolic float64) Value {
	if reason, ok := positive(systolic, diastolic); !ok {
		return Unavailable(reason)
	}
	return available((systolic+2*diastolic)/3, 2)
}
