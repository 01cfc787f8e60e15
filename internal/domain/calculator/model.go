package calculator

import (
	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
	"github.com/smmrizwan/hemodialysis-sub001/internal/targets"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

// Request carries any subset of raw observations. Absent fields leave the
// dependent metrics unavailable.
type Request struct {
	BirthDate         civil.Date `json:"birth_date"`
	DialysisStartDate civil.Date `json:"dialysis_start_date"`
	// ReferenceDate anchors age and dialysis duration; defaults to today.
	ReferenceDate civil.Date `json:"reference_date"`

	HeightCm  *float64 `json:"height_cm"`
	WeightKg  *float64 `json:"weight_kg"`
	Systolic  *float64 `json:"systolic"`
	Diastolic *float64 `json:"diastolic"`

	Iron             *float64 `json:"iron"`
	TIBC             *float64 `json:"tibc"`
	Calcium          *float64 `json:"calcium"`
	Albumin          *float64 `json:"albumin"`
	Phosphorus       *float64 `json:"phosphorus"`
	CorrectedCalcium *float64 `json:"corrected_calcium"`
	PTHPmol          *float64 `json:"pth_pmol"`

	PreBUN       *float64 `json:"pre_bun"`
	PostBUN      *float64 `json:"post_bun"`
	DurationHr   *float64 `json:"duration_hr"`
	PostWeightKg *float64 `json:"post_weight_kg"`
	UFVolumeL    *float64 `json:"uf_volume_l"`

	Hb         *float64 `json:"hb"`
	PreviousHb *float64 `json:"previous_hb"`

	MAPStrategy string `json:"map_strategy"`
	KtVModel    string `json:"ktv_model"`
}

type Result struct {
	ReferenceDate civil.Date                `json:"reference_date"`
	Results       derived.PanelOutput       `json:"results"`
	Flags         map[string]targets.Status `json:"flags"`
}

type MetricResult struct {
	Metric string         `json:"metric"`
	Result interface{}    `json:"result"`
	Status targets.Status `json:"status,omitempty"`
}

type HbReading struct {
	Date civil.Date `json:"date"`
	Hb   *float64   `json:"hb"`
}

type PriorHbRequest struct {
	AsOf   civil.Date  `json:"as_of"`
	Series []HbReading `json:"series"`
}

// Metric names accepted by Metric, in display order.
var Metrics = []string{
	"age", "dialysis_duration", "bmi", "bsa", "map",
	"tsat", "corrected_calcium", "ca_phos_product", "pth_pgml",
	"urr", "ktv", "ktv_simple", "ktv_daugirdas",
	"hb_change_percent", "hb_symmetric_diff_percent",
}
