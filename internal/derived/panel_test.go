package derived

import "testing"

func f(v float64) *float64 { return &v }

func TestComputePanel_Full(t *testing.T) {
	out := ComputePanel(PanelInput{
		BirthDate:         date(1960, 5, 20),
		DialysisStartDate: date(2021, 2, 10),
		ReferenceDate:     date(2024, 7, 1),
		HeightCm:          f(170),
		WeightKg:          f(70),
		Systolic:          f(140),
		Diastolic:         f(90),
		Iron:              f(100),
		TIBC:              f(300),
		Calcium:           f(2.2),
		Albumin:           f(35),
		Phosphorus:        f(1.6),
		PTHPmol:           f(10),
		PreBUN:            f(60),
		PostBUN:           f(20),
		DurationHr:        f(4),
		PostWeightKg:      f(70),
		UFVolumeL:         f(2),
		Hb:                f(110),
		PreviousHb:        f(100),
		KtVModel:          KtVModelSimple,
	})

	if !out.Age.OK || out.Age.N != 64 {
		t.Errorf("Age = %+v", out.Age)
	}
	if !out.DialysisDuration.OK || out.DialysisDuration.Months != 40 || out.DialysisDuration.Years != 3 {
		t.Errorf("DialysisDuration = %+v", out.DialysisDuration)
	}
	checks := []struct {
		name string
		got  Value
		want float64
	}{
		{"bmi", out.BMI, 24.22},
		{"map", out.MAP, 106.67},
		{"tsat", out.TSAT, 33.33},
		{"corrected calcium", out.CorrectedCalcium, 2.3},
		{"ca x p", out.CaPhosProduct, 45.68},
		{"urr", out.URR, 66.67},
		{"ktv", out.KtV, 1.13},
		{"ktv simple", out.KtVSimple, 1.13},
		{"pth", out.PTHPgml, 94.3},
		{"hb change", out.HbChangePercent, 10},
		{"hb symmetric", out.HbSymmetricDiff, 9.52},
	}
	for _, c := range checks {
		if !c.got.OK || c.got.Value != c.want {
			t.Errorf("%s = %+v, want %v", c.name, c.got, c.want)
		}
	}
	if !out.KtVDaugirdas.OK {
		t.Errorf("daugirdas should be available: %s", out.KtVDaugirdas.Reason)
	}
	if out.KtVModel != KtVModelSimple || out.MAPStrategy != DefaultMAPStrategy {
		t.Errorf("strategies = %s / %s", out.KtVModel, out.MAPStrategy)
	}
}

func TestComputePanel_Empty(t *testing.T) {
	out := ComputePanel(PanelInput{})
	for name, v := range map[string]Value{
		"bmi": out.BMI, "bsa": out.BSA, "map": out.MAP, "tsat": out.TSAT,
		"cca": out.CorrectedCalcium, "caxp": out.CaPhosProduct, "urr": out.URR,
		"ktv": out.KtV, "pth": out.PTHPgml, "hb": out.HbChangePercent,
	} {
		if v.OK {
			t.Errorf("%s should be unavailable", name)
		}
		if v.Reason != ReasonMissing {
			t.Errorf("%s reason = %q, want %q", name, v.Reason, ReasonMissing)
		}
	}
	if out.Age.OK || out.DialysisDuration.OK {
		t.Error("date metrics should be unavailable without dates")
	}
	if out.KtVModel != DefaultKtVModel {
		t.Errorf("default Kt/V model = %s", out.KtVModel)
	}
}

func TestComputePanel_CorrectedCalciumSupplied(t *testing.T) {
	out := ComputePanel(PanelInput{CorrectedCalcium: f(2.3), Phosphorus: f(1.6)})
	if !out.CaPhosProduct.OK || out.CaPhosProduct.Value != 45.68 {
		t.Errorf("CaPhosProduct = %+v", out.CaPhosProduct)
	}
}

func TestComputePanel_PartialKtVInputs(t *testing.T) {
	out := ComputePanel(PanelInput{PreBUN: f(25), PostBUN: f(7.5), PostWeightKg: f(70)})
	if !out.URR.OK {
		t.Error("URR only needs BUN values")
	}
	if out.KtVDaugirdas.OK || out.KtVDaugirdas.Reason != ReasonMissing {
		t.Errorf("daugirdas without UF = %+v", out.KtVDaugirdas)
	}
	if out.KtVSimple.OK {
		t.Error("simple without duration should be unavailable")
	}
}
