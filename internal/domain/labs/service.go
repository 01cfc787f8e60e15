package labs

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
	"github.com/smmrizwan/hemodialysis-sub001/internal/domain/patient"
	"github.com/smmrizwan/hemodialysis-sub001/internal/targets"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

// PatientLookup is satisfied by *patient.Service.
type PatientLookup interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	GetPatientByMRN(ctx context.Context, mrn string) (*patient.Patient, error)
}

// Observer receives every derived value computed for a stored panel.
type Observer interface {
	ObserveDerived(metric string, v derived.Value)
}

// TxFunc runs fn in a transaction carried on ctx.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func noTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type Service struct {
	repo     Repository
	patients PatientLookup
	targets  *targets.Store
	ktvModel derived.KtVModel
	inTx     TxFunc
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithTx(fn TxFunc) Option {
	return func(s *Service) { s.inTx = fn }
}

func WithKtVModel(m derived.KtVModel) Option {
	return func(s *Service) { s.ktvModel = m }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func NewService(repo Repository, patients PatientLookup, store *targets.Store, logger zerolog.Logger, opts ...Option) *Service {
	if store == nil {
		store = targets.NewStore(nil)
	}
	s := &Service{
		repo:     repo,
		patients: patients,
		targets:  store,
		ktvModel: derived.DefaultKtVModel,
		inTx:     noTx,
		logger:   logger.With().Str("component", "labs").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) validate(p *LabPanel) error {
	if p.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if p.TestDate.IsZero() {
		return fmt.Errorf("test_date is required")
	}
	if p.TestDate.After(civil.Of(s.now()).Time) {
		return fmt.Errorf("test_date cannot be in the future")
	}
	for name, v := range map[string]*float64{
		"hb": p.Hb, "iron": p.Iron, "tibc": p.TIBC, "calcium": p.Calcium,
		"albumin": p.Albumin, "phosphorus": p.Phosphorus, "pth_pmol": p.PTHPmol,
		"pre_bun": p.PreBUN, "post_bun": p.PostBUN, "duration_hr": p.DurationHr,
		"post_weight_kg": p.PostWeightKg, "uf_volume_l": p.UFVolumeL,
	} {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return fmt.Errorf("%s must be a finite number", name)
		}
		if *v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// derive recomputes every derived column of p. history is the patient's
// other panels; the previous Hb is the most recent reading strictly before
// p's test date.
func (s *Service) derive(p *LabPanel, history []*LabPanel) derived.PanelOutput {
	series := make([]derived.HbEntry, 0, len(history))
	for _, h := range history {
		if h.ID == p.ID {
			continue
		}
		series = append(series, derived.HbEntry{Date: h.TestDate.Time, Hb: h.Hb})
	}

	in := p.input()
	in.KtVModel = s.ktvModel
	if prev := derived.MostRecentPriorHb(series, p.TestDate.Time); prev.OK {
		in.PreviousHb = prev.Ptr()
	}
	out := derived.ComputePanel(in)

	p.Derived = Derived{
		TSAT:             out.TSAT.Ptr(),
		CorrectedCalcium: out.CorrectedCalcium.Ptr(),
		CaPhosProduct:    out.CaPhosProduct.Ptr(),
		URR:              out.URR.Ptr(),
		KtV:              out.KtV.Ptr(),
		KtVModel:         out.KtVModel,
		PTHPgml:          out.PTHPgml.Ptr(),
		HbChangePercent:  out.HbChangePercent.Ptr(),
	}
	return out
}

// observe reports the derived values of a panel that is being written.
func (s *Service) observe(p *LabPanel, out derived.PanelOutput) {
	for name, v := range map[string]derived.Value{
		"tsat": out.TSAT, "corrected_calcium": out.CorrectedCalcium, "ca_phos_product": out.CaPhosProduct,
		"urr": out.URR, "ktv": out.KtV, "pth_pgml": out.PTHPgml, "hb_change_percent": out.HbChangePercent,
	} {
		if s.observer != nil {
			s.observer.ObserveDerived(name, v)
		}
		if !v.OK && v.Reason != derived.ReasonMissing {
			s.logger.Debug().Str("panel_id", p.ID.String()).Str("metric", name).
				Str("reason", v.Reason).Msg("derived value unavailable")
		}
	}
}

func (s *Service) flag(p *LabPanel) *LabPanel {
	p.Flags = s.targets.Flags(p.metrics())
	return p
}

func (s *Service) CreatePanel(ctx context.Context, p *LabPanel) error {
	if err := s.validate(p); err != nil {
		return err
	}
	if _, err := s.patients.GetPatient(ctx, p.PatientID); err != nil {
		return err
	}
	return s.inTx(ctx, func(ctx context.Context) error {
		history, err := s.repo.History(ctx, p.PatientID)
		if err != nil {
			return err
		}
		out := s.derive(p, history)
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		s.observe(p, out)
		if _, err := s.refreshChain(ctx, p.PatientID); err != nil {
			return err
		}
		s.flag(p)
		return nil
	})
}

func (s *Service) GetPanel(ctx context.Context, id uuid.UUID) (*LabPanel, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.flag(p), nil
}

// UpdatePanel replaces the raw values of an existing panel. The patient of
// a panel never changes.
func (s *Service) UpdatePanel(ctx context.Context, p *LabPanel) error {
	existing, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.PatientID = existing.PatientID
	if err := s.validate(p); err != nil {
		return err
	}
	return s.inTx(ctx, func(ctx context.Context) error {
		history, err := s.repo.History(ctx, p.PatientID)
		if err != nil {
			return err
		}
		out := s.derive(p, history)
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		s.observe(p, out)
		if _, err := s.refreshChain(ctx, p.PatientID); err != nil {
			return err
		}
		s.flag(p)
		return nil
	})
}

func (s *Service) DeletePanel(ctx context.Context, id uuid.UUID) error {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		_, err := s.refreshChain(ctx, existing.PatientID)
		return err
	})
}

func (s *Service) ListPanels(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabPanel, int, error) {
	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, p := range items {
		s.flag(p)
	}
	return items, total, nil
}

// refreshChain re-derives every panel of a patient and writes back those
// whose derived block changed. A panel's Hb change depends on its
// predecessor, so any insert, edit or delete can move later panels.
func (s *Service) refreshChain(ctx context.Context, patientID uuid.UUID) (int, error) {
	history, err := s.repo.History(ctx, patientID)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, p := range history {
		before := p.Derived
		out := s.derive(p, history)
		if sameDerived(before, p.Derived) {
			continue
		}
		if err := s.repo.UpdateDerived(ctx, p.ID, p.Derived); err != nil {
			return updated, err
		}
		s.observe(p, out)
		updated++
	}
	return updated, nil
}

// RecomputeResult reports a Recompute run.
type RecomputeResult struct {
	Patients int `json:"patients"`
	Updated  int `json:"updated"`
}

// Recompute re-derives every stored panel, for use after a formula or
// configuration change. Each patient is handled in its own transaction.
func (s *Service) Recompute(ctx context.Context) (RecomputeResult, error) {
	var res RecomputeResult
	ids, err := s.repo.PatientIDs(ctx)
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var n int
		err := s.inTx(ctx, func(ctx context.Context) error {
			var err error
			n, err = s.refreshChain(ctx, id)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("recompute patient %s: %w", id, err)
		}
		res.Patients++
		res.Updated += n
		if n > 0 {
			s.logger.Info().Str("patient_id", id.String()).Int("updated", n).Msg("lab panels recomputed")
		}
	}
	return res, nil
}

// HbTrend returns the patient's hemoglobin readings in date order, each
// with both the percent change and the symmetric percent difference against
// the most recent earlier reading.
func (s *Service) HbTrend(ctx context.Context, patientID uuid.UUID) ([]TrendPoint, error) {
	if _, err := s.patients.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	history, err := s.repo.History(ctx, patientID)
	if err != nil {
		return nil, err
	}

	series := make([]derived.HbEntry, 0, len(history))
	for _, p := range history {
		series = append(series, derived.HbEntry{Date: p.TestDate.Time, Hb: p.Hb})
	}

	points := make([]TrendPoint, 0, len(history))
	for _, p := range history {
		if p.Hb == nil {
			continue
		}
		cur := *p.Hb
		prev := derived.MostRecentPriorHb(series, p.TestDate.Time)
		pt := TrendPoint{
			PanelID:    p.ID,
			TestDate:   p.TestDate,
			Hb:         cur,
			PreviousHb: prev,
			Status:     s.targets.Evaluate(targets.MetricHb, derived.FromPtr(p.Hb)),
		}
		if prev.OK {
			pt.ChangePercent = derived.HbChangePercent(cur, prev.Value)
			pt.SymmetricDiffPercent = derived.HbSymmetricDiffPercent(cur, prev.Value)
		} else {
			pt.ChangePercent = derived.Unavailable(derived.ReasonNoPriorValue)
			pt.SymmetricDiffPercent = derived.Unavailable(derived.ReasonNoPriorValue)
		}
		points = append(points, pt)
	}
	return points, nil
}

func sameDerived(a, b Derived) bool {
	return a.KtVModel == b.KtVModel &&
		samePtr(a.TSAT, b.TSAT) &&
		samePtr(a.CorrectedCalcium, b.CorrectedCalcium) &&
		samePtr(a.CaPhosProduct, b.CaPhosProduct) &&
		samePtr(a.URR, b.URR) &&
		samePtr(a.KtV, b.KtV) &&
		samePtr(a.PTHPgml, b.PTHPgml) &&
		samePtr(a.HbChangePercent, b.HbChangePercent)
}

func samePtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
