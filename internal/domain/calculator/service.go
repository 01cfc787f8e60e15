package calculator

import (
	"errors"
	"fmt"
	"time"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
	"github.com/smmrizwan/hemodialysis-sub001/internal/targets"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

var ErrUnknownMetric = errors.New("unknown metric")

// Service runs ad-hoc calculations without touching storage. Request-level
// strategy choices override the configured defaults.
type Service struct {
	mapStrategy derived.MAPStrategy
	ktvModel    derived.KtVModel
	targets     *targets.Store
	now         func() time.Time
}

func NewService(mapStrategy derived.MAPStrategy, ktvModel derived.KtVModel, store *targets.Store) *Service {
	if store == nil {
		store = targets.NewStore(nil)
	}
	return &Service{
		mapStrategy: mapStrategy,
		ktvModel:    ktvModel,
		targets:     store,
		now:         time.Now,
	}
}

func (s *Service) input(req *Request) (derived.PanelInput, civil.Date, error) {
	mapStrategy := s.mapStrategy
	if req.MAPStrategy != "" {
		m, err := derived.ParseMAPStrategy(req.MAPStrategy)
		if err != nil {
			return derived.PanelInput{}, civil.Date{}, err
		}
		mapStrategy = m
	}
	ktvModel := s.ktvModel
	if req.KtVModel != "" {
		m, err := derived.ParseKtVModel(req.KtVModel)
		if err != nil {
			return derived.PanelInput{}, civil.Date{}, err
		}
		ktvModel = m
	}

	ref := req.ReferenceDate
	if ref.IsZero() {
		ref = civil.Of(s.now())
	}

	return derived.PanelInput{
		BirthDate:         req.BirthDate.Time,
		DialysisStartDate: req.DialysisStartDate.Time,
		ReferenceDate:     ref.Time,
		HeightCm:          req.HeightCm,
		WeightKg:          req.WeightKg,
		Systolic:          req.Systolic,
		Diastolic:         req.Diastolic,
		Iron:              req.Iron,
		TIBC:              req.TIBC,
		Calcium:           req.Calcium,
		Albumin:           req.Albumin,
		Phosphorus:        req.Phosphorus,
		CorrectedCalcium:  req.CorrectedCalcium,
		PTHPmol:           req.PTHPmol,
		PreBUN:            req.PreBUN,
		PostBUN:           req.PostBUN,
		DurationHr:        req.DurationHr,
		PostWeightKg:      req.PostWeightKg,
		UFVolumeL:         req.UFVolumeL,
		Hb:                req.Hb,
		PreviousHb:        req.PreviousHb,
		MAPStrategy:       mapStrategy,
		KtVModel:          ktvModel,
	}, ref, nil
}

// Compute evaluates every metric the request has inputs for.
func (s *Service) Compute(req *Request) (*Result, error) {
	in, ref, err := s.input(req)
	if err != nil {
		return nil, err
	}
	out := derived.ComputePanel(in)
	return &Result{
		ReferenceDate: ref,
		Results:       out,
		Flags: s.targets.Flags(map[string]derived.Value{
			targets.MetricTSAT:             out.TSAT,
			targets.MetricCorrectedCalcium: out.CorrectedCalcium,
			targets.MetricCaPhosProduct:    out.CaPhosProduct,
			targets.MetricURR:              out.URR,
			targets.MetricKtV:              out.KtV,
			targets.MetricPTH:              out.PTHPgml,
			targets.MetricHb:               derived.FromPtr(req.Hb),
		}),
	}, nil
}

// Metric evaluates a single named metric.
func (s *Service) Metric(name string, req *Request) (*MetricResult, error) {
	in, _, err := s.input(req)
	if err != nil {
		return nil, err
	}
	out := derived.ComputePanel(in)

	res := &MetricResult{Metric: name}
	var v derived.Value
	switch name {
	case "age":
		res.Result = out.Age
		return res, nil
	case "dialysis_duration":
		res.Result = out.DialysisDuration
		return res, nil
	case "bmi":
		v = out.BMI
	case "bsa":
		v = out.BSA
	case "map":
		v = out.MAP
	case "tsat":
		v = out.TSAT
	case "corrected_calcium":
		v = out.CorrectedCalcium
	case "ca_phos_product":
		v = out.CaPhosProduct
	case "pth_pgml":
		v = out.PTHPgml
	case "urr":
		v = out.URR
	case "ktv":
		v = out.KtV
	case "ktv_simple":
		v = out.KtVSimple
	case "ktv_daugirdas":
		v = out.KtVDaugirdas
	case "hb_change_percent":
		v = out.HbChangePercent
	case "hb_symmetric_diff_percent":
		v = out.HbSymmetricDiff
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	res.Result = v
	target := name
	if name == "ktv_simple" || name == "ktv_daugirdas" {
		target = targets.MetricKtV
	}
	if t, ok := s.targets.Current().Get(target); ok {
		res.Status = s.targets.Evaluate(t.Metric, v)
	}
	return res, nil
}

// PriorHb returns the most recent non-null reading strictly before AsOf.
func (s *Service) PriorHb(req *PriorHbRequest) (derived.Value, error) {
	if req.AsOf.IsZero() {
		return derived.Value{}, fmt.Errorf("as_of is required")
	}
	series := make([]derived.HbEntry, 0, len(req.Series))
	for i, r := range req.Series {
		if r.Date.IsZero() {
			return derived.Value{}, fmt.Errorf("series[%d]: date is required", i)
		}
		series = append(series, derived.HbEntry{Date: r.Date.Time, Hb: r.Hb})
	}
	return derived.MostRecentPriorHb(series, req.AsOf.Time), nil
}
