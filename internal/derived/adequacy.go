package derived

import (
	"fmt"
	"math"
)

// BUNMmolToMgdl converts blood urea nitrogen from mmol/L to mg/dL.
const BUNMmolToMgdl = 2.8011

// daugirdasOffset is the urea generation correction subtracted from the
// post/pre ratio inside the logarithm.
const daugirdasOffset = 0.03

// KtVModel names a single-pool Kt/V formula.
type KtVModel string

const (
	KtVModelSimple    KtVModel = "simple"
	KtVModelDaugirdas KtVModel = "daugirdas"

	DefaultKtVModel = KtVModelDaugirdas
)

// ParseKtVModel accepts "simple", "daugirdas" or "" (the default).
func ParseKtVModel(s string) (KtVModel, error) {
	switch KtVModel(s) {
	case "":
		return DefaultKtVModel, nil
	case KtVModelSimple, KtVModelDaugirdas:
		return KtVModel(s), nil
	}
	return "", fmt.Errorf("unknown Kt/V model %q", s)
}

// URR returns the urea reduction ratio in percent, 2 decimals.
func URR(preBUN, postBUN float64) Value {
	if reason, ok := positive(preBUN); !ok {
		return Unavailable(reason)
	}
	if reason, ok := nonNegative(postBUN); !ok {
		return Unavailable(reason)
	}
	return available((preBUN-postBUN)/preBUN*100, 2)
}

// KtVSimple returns -ln(post/pre) + 4*(pre-post)/(pre*100), 2 decimals.
// Duration and post-dialysis weight do not enter the formula but are required
// so the value is only reported for a fully documented session.
func KtVSimple(preBUN, postBUN, durationHr, postWeightKg float64) Value {
	if reason, ok := positive(preBUN, postBUN, durationHr, postWeightKg); !ok {
		return Unavailable(reason)
	}
	ratio := postBUN / preBUN
	if ratio <= 0 {
		return Unavailable(ReasonLogDomain)
	}
	return available(-math.Log(ratio)+4*(preBUN-postBUN)/(preBUN*100), 2)
}

// KtVDaugirdas returns the second-generation Daugirdas single-pool Kt/V,
// 2 decimals. BUN values are given in mmol/L and converted to mg/dL:
//
//	R   = post/pre
//	ktv = -ln(R - 0.03) + (4 - 3.5R) * UF/W
//
// R must exceed 0.03 so the logarithm is defined.
func KtVDaugirdas(preBUNMmol, postBUNMmol, ufVolumeL, postWeightKg float64) Value {
	if reason, ok := positive(preBUNMmol, postWeightKg); !ok {
		return Unavailable(reason)
	}
	if reason, ok := nonNegative(postBUNMmol, ufVolumeL); !ok {
		return Unavailable(reason)
	}
	pre := preBUNMmol * BUNMmolToMgdl
	post := postBUNMmol * BUNMmolToMgdl
	ratio := post / pre
	if ratio <= daugirdasOffset {
		return Unavailable(ReasonLogDomain)
	}
	return available(-math.Log(ratio-daugirdasOffset)+(4-3.5*ratio)*(ufVolumeL/postWeightKg), 2)
}

// KtVInputs carries every field either Kt/V model may need.
type KtVInputs struct {
	PreBUN       float64
	PostBUN      float64
	DurationHr   float64
	PostWeightKg float64
	UFVolumeL    float64
}

// KtV dispatches to the formula named by model.
func KtV(model KtVModel, in KtVInputs) Value {
	if model == KtVModelSimple {
		return KtVSimple(in.PreBUN, in.PostBUN, in.DurationHr, in.PostWeightKg)
	}
	return KtVDaugirdas(in.PreBUN, in.PostBUN, in.UFVolumeL, in.PostWeightKg)
}
