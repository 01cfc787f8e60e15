package labs

import (
	"time"

	"github.com/google/uuid"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
	"github.com/smmrizwan/hemodialysis-sub001/internal/targets"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

// LabPanel is one quarterly lab draw. Raw values are entered by staff; the
// derived block is always recomputed from them before storage and is
// ignored on input.
type LabPanel struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patient_id"`
	TestDate  civil.Date `json:"test_date"`

	Hb           *float64 `json:"hb,omitempty"`
	Iron         *float64 `json:"iron,omitempty"`
	TIBC         *float64 `json:"tibc,omitempty"`
	Calcium      *float64 `json:"calcium,omitempty"`
	Albumin      *float64 `json:"albumin,omitempty"`
	Phosphorus   *float64 `json:"phosphorus,omitempty"`
	PTHPmol      *float64 `json:"pth_pmol,omitempty"`
	PreBUN       *float64 `json:"pre_bun,omitempty"`
	PostBUN      *float64 `json:"post_bun,omitempty"`
	DurationHr   *float64 `json:"duration_hr,omitempty"`
	PostWeightKg *float64 `json:"post_weight_kg,omitempty"`
	UFVolumeL    *float64 `json:"uf_volume_l,omitempty"`
	Notes        string   `json:"notes,omitempty"`

	Derived Derived `json:"derived"`
	// Flags is evaluated on read against the active clinical targets.
	Flags map[string]targets.Status `json:"flags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Derived mirrors the stored derived columns. Nil means the inputs did not
// allow the value to be computed.
type Derived struct {
	TSAT             *float64         `json:"tsat"`
	CorrectedCalcium *float64         `json:"corrected_calcium"`
	CaPhosProduct    *float64         `json:"ca_phos_product"`
	URR              *float64         `json:"urr"`
	KtV              *float64         `json:"ktv"`
	KtVModel         derived.KtVModel `json:"ktv_model"`
	PTHPgml          *float64         `json:"pth_pgml"`
	HbChangePercent  *float64         `json:"hb_change_percent"`
}

// TrendPoint is one hemoglobin reading with its change against the most
// recent earlier reading.
type TrendPoint struct {
	PanelID              uuid.UUID      `json:"panel_id"`
	TestDate             civil.Date     `json:"test_date"`
	Hb                   float64        `json:"hb"`
	PreviousHb           derived.Value  `json:"previous_hb"`
	ChangePercent        derived.Value  `json:"change_percent"`
	SymmetricDiffPercent derived.Value  `json:"symmetric_diff_percent"`
	Status               targets.Status `json:"status"`
}

func (p *LabPanel) input() derived.PanelInput {
	return derived.PanelInput{
		Hb:           p.Hb,
		Iron:         p.Iron,
		TIBC:         p.TIBC,
		Calcium:      p.Calcium,
		Albumin:      p.Albumin,
		Phosphorus:   p.Phosphorus,
		PTHPmol:      p.PTHPmol,
		PreBUN:       p.PreBUN,
		PostBUN:      p.PostBUN,
		DurationHr:   p.DurationHr,
		PostWeightKg: p.PostWeightKg,
		UFVolumeL:    p.UFVolumeL,
	}
}

// metrics returns the stored values keyed by target metric name.
func (p *LabPanel) metrics() map[string]derived.Value {
	return map[string]derived.Value{
		targets.MetricHb:               derived.FromPtr(p.Hb),
		targets.MetricTSAT:             derived.FromPtr(p.Derived.TSAT),
		targets.MetricCorrectedCalcium: derived.FromPtr(p.Derived.CorrectedCalcium),
		targets.MetricCaPhosProduct:    derived.FromPtr(p.Derived.CaPhosProduct),
		targets.MetricURR:              derived.FromPtr(p.Derived.URR),
		targets.MetricKtV:              derived.FromPtr(p.Derived.KtV),
		targets.MetricPTH:              derived.FromPtr(p.Derived.PTHPgml),
	}
}
