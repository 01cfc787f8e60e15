package derived

import (
	"math"
	"sort"
	"time"
)

// HbEntry is one hemoglobin measurement. Hb is nil when the panel was drawn
// without a hemoglobin result.
type HbEntry struct {
	Date time.Time
	Hb   *float64
}

// HbChangePercent returns the percent change from previous to current,
// 2 decimals.
func HbChangePercent(current, previous float64) Value {
	if reason, ok := nonNegative(current); !ok {
		return Unavailable(reason)
	}
	if reason, ok := positive(previous); !ok {
		return Unavailable(reason)
	}
	return available((current-previous)/previous*100, 2)
}

// HbSymmetricDiffPercent returns |a-b| divided by the mean of a and b, in
// percent, 2 decimals. It is direction-free and is not a substitute for
// HbChangePercent.
func HbSymmetricDiffPercent(a, b float64) Value {
	if reason, ok := nonNegative(a, b); !ok {
		return Unavailable(reason)
	}
	if a+b <= 0 {
		return Unavailable(ReasonNonPositive)
	}
	return available(math.Abs(a-b)/((a+b)/2)*100, 2)
}

// MostRecentPriorHb returns the latest non-null hemoglobin dated strictly
// before asOf. Dates are compared by calendar day, so an entry on the asOf
// day itself is never returned. The series need not be sorted.
func MostRecentPriorHb(series []HbEntry, asOf time.Time) Value {
	cutoff := day(asOf)
	prior := make([]HbEntry, 0, len(series))
	for _, e := range series {
		if day(e.Date).Before(cutoff) {
			prior = append(prior, e)
		}
	}
	sort.SliceStable(prior, func(i, j int) bool {
		return prior[i].Date.After(prior[j].Date)
	})
	for _, e := range prior {
		if e.Hb != nil && finite(*e.Hb) {
			return Value{Value: *e.Hb, OK: true}
		}
	}
	return Unavailable(ReasonNoPriorValue)
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
