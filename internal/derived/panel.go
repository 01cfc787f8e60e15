package derived

import "time"

// PanelInput gathers every raw observation the engine understands. Nil
// pointers and zero dates are treated as missing.
type PanelInput struct {
	BirthDate         time.Time
	DialysisStartDate time.Time
	// ReferenceDate anchors Age and DialysisDuration. Callers pass today's date;
	// the engine never reads the clock.
	ReferenceDate time.Time

	HeightCm  *float64
	WeightKg  *float64
	Systolic  *float64
	Diastolic *float64

	Iron       *float64
	TIBC       *float64
	Calcium    *float64
	Albumin    *float64
	Phosphorus *float64
	// CorrectedCalcium may be supplied instead of Calcium and Albumin.
	CorrectedCalcium *float64
	PTHPmol          *float64

	PreBUN       *float64
	PostBUN      *float64
	DurationHr   *float64
	PostWeightKg *float64
	UFVolumeL    *float64

	Hb         *float64
	PreviousHb *float64

	MAPStrategy MAPStrategy
	KtVModel    KtVModel
}

// PanelOutput holds every derived metric for one PanelInput.
type PanelOutput struct {
	Age              Count       `json:"age"`
	DialysisDuration Duration    `json:"dialysis_duration"`
	BMI              Value       `json:"bmi"`
	BSA              Value       `json:"bsa"`
	MAP              Value       `json:"map"`
	MAPStrategy      MAPStrategy `json:"map_strategy"`
	TSAT             Value       `json:"tsat"`
	CorrectedCalcium Value       `json:"corrected_calcium"`
	CaPhosProduct    Value       `json:"ca_phos_product"`
	URR              Value       `json:"urr"`
	KtV              Value       `json:"ktv"`
	KtVModel         KtVModel    `json:"ktv_model"`
	KtVSimple        Value       `json:"ktv_simple"`
	KtVDaugirdas     Value       `json:"ktv_daugirdas"`
	PTHPgml          Value       `json:"pth_pgml"`
	HbChangePercent  Value       `json:"hb_change_percent"`
	HbSymmetricDiff  Value       `json:"hb_symmetric_diff_percent"`
}

// ComputePanel evaluates every metric. Metrics whose inputs are absent come
// back unavailable with ReasonMissing.
func ComputePanel(in PanelInput) PanelOutput {
	mapStrategy := in.MAPStrategy
	if mapStrategy != MAPWeighted {
		mapStrategy = DefaultMAPStrategy
	}
	ktvModel := in.KtVModel
	if ktvModel != KtVModelSimple {
		ktvModel = DefaultKtVModel
	}

	out := PanelOutput{
		MAPStrategy: mapStrategy,
		KtVModel:    ktvModel,
	}

	out.Age = Age(in.BirthDate, in.ReferenceDate)
	out.DialysisDuration = DialysisDuration(in.DialysisStartDate, in.ReferenceDate)

	if h, w, ok := both(in.HeightCm, in.WeightKg); ok {
		out.BMI = BMI(h, w)
		out.BSA = BSA(h, w)
	} else {
		out.BMI = Unavailable(ReasonMissing)
		out.BSA = Unavailable(ReasonMissing)
	}

	if s, d, ok := both(in.Systolic, in.Diastolic); ok {
		out.MAP = MAP(s, d, mapStrategy)
	} else {
		out.MAP = Unavailable(ReasonMissing)
	}

	if fe, tibc, ok := both(in.Iron, in.TIBC); ok {
		out.TSAT = TSAT(fe, tibc)
	} else {
		out.TSAT = Unavailable(ReasonMissing)
	}

	switch {
	case in.Calcium != nil && in.Albumin != nil:
		out.CorrectedCalcium = CorrectedCalcium(*in.Calcium, *in.Albumin)
	case in.CorrectedCalcium != nil:
		out.CorrectedCalcium = available(*in.CorrectedCalcium, 3)
		if *in.CorrectedCalcium <= 0 {
			out.CorrectedCalcium = Unavailable(ReasonNonPositive)
		}
	default:
		out.CorrectedCalcium = Unavailable(ReasonMissing)
	}

	switch {
	case in.Phosphorus == nil:
		out.CaPhosProduct = Unavailable(ReasonMissing)
	case !out.CorrectedCalcium.OK:
		out.CaPhosProduct = Unavailable(out.CorrectedCalcium.Reason)
	default:
		out.CaPhosProduct = CaPhosProduct(out.CorrectedCalcium.Value, *in.Phosphorus)
	}

	if pre, post, ok := both(in.PreBUN, in.PostBUN); ok {
		out.URR = URR(pre, post)
		kin := KtVInputs{
			PreBUN:       pre,
			PostBUN:      post,
			DurationHr:   deref(in.DurationHr),
			PostWeightKg: deref(in.PostWeightKg),
			UFVolumeL:    deref(in.UFVolumeL),
		}
		out.KtVSimple = missingOr(in.DurationHr != nil && in.PostWeightKg != nil, func() Value {
			return KtV(KtVModelSimple, kin)
		})
		out.KtVDaugirdas = missingOr(in.UFVolumeL != nil && in.PostWeightKg != nil, func() Value {
			return KtV(KtVModelDaugirdas, kin)
		})
	} else {
		out.URR = Unavailable(ReasonMissing)
		out.KtVSimple = Unavailable(ReasonMissing)
		out.KtVDaugirdas = Unavailable(ReasonMissing)
	}
	out.KtV = out.KtVDaugirdas
	if ktvModel == KtVModelSimple {
		out.KtV = out.KtVSimple
	}

	if in.PTHPmol != nil {
		out.PTHPgml = PTHPmolToPgml(*in.PTHPmol)
	} else {
		out.PTHPgml = Unavailable(ReasonMissing)
	}

	if cur, prev, ok := both(in.Hb, in.PreviousHb); ok {
		out.HbChangePercent = HbChangePercent(cur, prev)
		out.HbSymmetricDiff = HbSymmetricDiffPercent(cur, prev)
	} else {
		out.HbChangePercent = Unavailable(ReasonMissing)
		out.HbSymmetricDiff = Unavailable(ReasonMissing)
	}

	return out
}

func both(a, b *float64) (float64, float64, bool) {
	if a == nil || b == nil {
		return 0, 0, false
	}
	return *a, *b, true
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func missingOr(present bool, f func() Value) Value {
	if !present {
		return Unavailable(ReasonMissing)
	}
	return f()
}
