package derived

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Reasons attached to unavailable values.
const (
	ReasonMissing      = "missing input"
	ReasonNonPositive  = "input must be greater than zero"
	ReasonNegative     = "input must not be negative"
	ReasonNotFinite    = "input is not a finite number"
	ReasonLogDomain    = "logarithm argument is not positive"
	ReasonDateOrder    = "reference date precedes start date"
	ReasonNoPriorValue = "no earlier value recorded"
)

// Value is the result of a derived-value computation. OK is false when the
// inputs were insufficient or outside the formula's domain; Reason then says
// why and Value is zero.
type Value struct {
	Value  float64 `json:"value"`
	OK     bool    `json:"available"`
	Reason string  `json:"reason,omitempty"`
}

// Unavailable returns a Value that carries no number.
func Unavailable(reason string) Value {
	return Value{Reason: reason}
}

// available rounds v to decimals places and wraps it. A non-finite result is
// turned into an unavailable Value so NaN never leaves the package.
func available(v float64, decimals int) Value {
	r := Round(v, decimals)
	if !finite(r) {
		return Unavailable(ReasonNotFinite)
	}
	return Value{Value: r, OK: true}
}

// Ptr returns a pointer to the number, or nil when unavailable. Storage and
// JSON adapters use it to leave a column blank.
func (v Value) Ptr() *float64 {
	if !v.OK {
		return nil
	}
	f := v.Value
	return &f
}

// FromPtr reads back a stored column. Nil, NaN and Inf are unavailable.
func FromPtr(p *float64) Value {
	if p == nil {
		return Unavailable(ReasonMissing)
	}
	if !finite(*p) {
		return Unavailable(ReasonNotFinite)
	}
	return Value{Value: *p, OK: true}
}

// Or returns the number, or def when unavailable.
func (v Value) Or(def float64) float64 {
	if !v.OK {
		return def
	}
	return v.Value
}

// Format renders the number with the given decimals, or "" when unavailable.
func (v Value) Format(decimals int) string {
	if !v.OK {
		return ""
	}
	return strconv.FormatFloat(v.Value, 'f', decimals, 64)
}

// MarshalJSON writes an unavailable value as {"value":null,...}.
func (v Value) MarshalJSON() ([]byte, error) {
	out := struct {
		Value  *float64 `json:"value"`
		OK     bool     `json:"available"`
		Reason string   `json:"reason,omitempty"`
	}{Value: v.Ptr(), OK: v.OK, Reason: v.Reason}
	return json.Marshal(out)
}

// Round rounds x to decimals places, halves away from zero. Ties are judged
// on the shortest decimal form of x, so 1.005 rounds to 1.01 even though its
// binary value lies just below. NaN and Inf are returned unchanged.
func Round(x float64, decimals int) float64 {
	if decimals < 0 || !finite(x) {
		return x
	}
	digits := strconv.FormatFloat(math.Abs(x), 'f', -1, 64)
	whole, frac, _ := strings.Cut(digits, ".")
	if len(frac) <= decimals {
		return x
	}
	kept := []byte(whole + frac[:decimals])
	if frac[decimals] >= '5' {
		i := len(kept) - 1
		for ; i >= 0 && kept[i] == '9'; i-- {
			kept[i] = '0'
		}
		if i < 0 {
			kept = append([]byte{'1'}, kept...)
			whole += "0"
		} else {
			kept[i]++
		}
	}
	n := len(whole)
	out, err := strconv.ParseFloat(string(kept[:n])+"."+string(kept[n:])+"0", 64)
	if err != nil {
		return x
	}
	if x < 0 && out != 0 {
		out = -out
	}
	return out
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// positive reports the first reason any of xs fails the "> 0" check.
func positive(xs ...float64) (string, bool) {
	if !finite(xs...) {
		return ReasonNotFinite, false
	}
	for _, x := range xs {
		if x <= 0 {
			return ReasonNonPositive, false
		}
	}
	return "", true
}

func nonNegative(xs ...float64) (string, bool) {
	if !finite(xs...) {
		return ReasonNotFinite, false
	}
	for _, x := range xs {
		if x < 0 {
			return ReasonNegative, false
		}
	}
	return "", true
}
