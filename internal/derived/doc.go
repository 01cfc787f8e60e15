// Package derived computes clinical derived values for hemodialysis patients
// from raw observations.
//
// Every function is pure: it takes explicit numeric or date inputs, performs
// no I/O and keeps no state, so callers may compute metrics in any order or in
// parallel. The only ordering is data dependency (CaPhosProduct consumes the
// output of CorrectedCalcium).
//
// Results are reported as Value. A Value is either a finite number rounded
// once, half away from zero, to the precision documented on the function, or
// unavailable with a Reason naming the failed precondition. Nothing here
// panics or returns NaN/Inf; callers render an unavailable Value as a blank
// field.
//
// Two metrics have more than one formula in use and both are kept as named
// strategies:
//
//	MAP   MAPInterpolated  dia + (sys-dia)/3   (default)
//	      MAPWeighted      (sys + 2*dia)/3
//	Kt/V  KtVSimple        -ln(post/pre) + 4*(pre-post)/(pre*100)
//	      KtVDaugirdas     -ln(R-0.03) + (4-3.5R)*UF/W, BUN in mmol/L
//
// The MAP variants are algebraically identical. The Kt/V variants are not and
// produce different numbers for the same treatment. Likewise the two Hb
// comparisons (HbChangePercent and HbSymmetricDiffPercent) answer different
// questions and must not be substituted for one another.
package derived
