package derived

import "time"

// Count is an integer-valued result such as an age in whole years.
type Count struct {
	N      int    `json:"value"`
	OK     bool   `json:"available"`
	Reason string `json:"reason,omitempty"`
}

// Duration is the elapsed time on dialysis.
type Duration struct {
	Months int    `json:"months"`
	Years  int    `json:"years"`
	OK     bool   `json:"available"`
	Reason string `json:"reason,omitempty"`
}

// Age returns the age in whole years at ref. One year is subtracted when the
// birthday has not yet occurred in ref's year. Times are compared as calendar
// dates in their own locations.
func Age(dob, ref time.Time) Count {
	if dob.IsZero() || ref.IsZero() {
		return Count{Reason: ReasonMissing}
	}
	by, bm, bd := dob.Date()
	ry, rm, rd := ref.Date()
	if ry < by || (ry == by && (rm < bm || (rm == bm && rd < bd))) {
		return Count{Reason: ReasonDateOrder}
	}
	years := ry - by
	if rm < bm || (rm == bm && rd < bd) {
		years--
	}
	return Count{N: years, OK: true}
}

// DialysisDuration returns the whole months and years between start and ref.
// Months are decremented when ref's day of month precedes start's.
func DialysisDuration(start, ref time.Time) Duration {
	if start.IsZero() || ref.IsZero() {
		return Duration{Reason: ReasonMissing}
	}
	sy, sm, sd := start.Date()
	ry, rm, rd := ref.Date()
	months := (ry-sy)*12 + int(rm) - int(sm)
	if rd < sd {
		months--
	}
	if months < 0 {
		return Duration{Reason: ReasonDateOrder}
	}
	return Duration{Months: months, Years: months / 12, OK: true}
}
