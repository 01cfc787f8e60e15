package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

var ErrDuplicateMRN = errors.New("mrn already registered")

type Service struct {
	repo        Repository
	mapStrategy derived.MAPStrategy
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(repo Repository, mapStrategy derived.MAPStrategy, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		mapStrategy: mapStrategy,
		logger:      logger.With().Str("component", "patient").Logger(),
		now:         time.Now,
	}
}

func (s *Service) today() civil.Date {
	return civil.Of(s.now())
}

func (s *Service) validate(p *Patient) error {
	p.FullName = strings.TrimSpace(p.FullName)
	p.MRN = strings.TrimSpace(p.MRN)
	if p.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	if p.MRN == "" {
		return fmt.Errorf("mrn is required")
	}

	p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	if p.Gender == "" {
		p.Gender = "unknown"
	}
	if !validGenders[p.Gender] {
		return fmt.Errorf("gender must be one of male, female, other, unknown")
	}

	today := s.today()
	if p.BirthDate.IsZero() {
		return fmt.Errorf("birth_date is required")
	}
	if p.BirthDate.After(today.Time) {
		return fmt.Errorf("birth_date cannot be in the future")
	}
	if !p.DialysisStartDate.IsZero() {
		if p.DialysisStartDate.Before(p.BirthDate.Time) {
			return fmt.Errorf("dialysis_start_date cannot precede birth_date")
		}
		if p.DialysisStartDate.After(today.Time) {
			return fmt.Errorf("dialysis_start_date cannot be in the future")
		}
	}

	for name, v := range map[string]*float64{
		"height_cm": p.HeightCm,
		"weight_kg": p.WeightKg,
		"systolic":  p.Systolic,
		"diastolic": p.Diastolic,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := s.validate(p); err != nil {
		return err
	}
	existing, err := s.repo.GetByMRN(ctx, p.MRN)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil {
		return ErrDuplicateMRN
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// GetPatientByMRN resolves the medical record number used by external
// systems such as the laboratory interface.
func (s *Service) GetPatientByMRN(ctx context.Context, mrn string) (*Patient, error) {
	mrn = strings.TrimSpace(mrn)
	if mrn == "" {
		return nil, ErrNotFound
	}
	return s.repo.GetByMRN(ctx, mrn)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := s.validate(p); err != nil {
		return err
	}
	existing, err := s.repo.GetByMRN(ctx, p.MRN)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil && existing.ID != p.ID {
		return ErrDuplicateMRN
	}
	return s.repo.Update(ctx, p)
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Summary derives age, dialysis vintage, BMI, BSA and MAP from the intake
// record. A zero asOf means today.
func (s *Service) Summary(ctx context.Context, id uuid.UUID, asOf civil.Date) (*Summary, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = s.today()
	}
	return Summarize(p, asOf, s.mapStrategy, s.logger), nil
}

// Summarize runs the intake values through the derived engine.
func Summarize(p *Patient, asOf civil.Date, strategy derived.MAPStrategy, logger zerolog.Logger) *Summary {
	out := derived.ComputePanel(derived.PanelInput{
		BirthDate:         p.BirthDate.Time,
		DialysisStartDate: p.DialysisStartDate.Time,
		ReferenceDate:     asOf.Time,
		HeightCm:          p.HeightCm,
		WeightKg:          p.WeightKg,
		Systolic:          p.Systolic,
		Diastolic:         p.Diastolic,
		MAPStrategy:       strategy,
	})

	sum := &Summary{
		PatientID:        p.ID,
		AsOf:             asOf,
		Age:              out.Age,
		DialysisDuration: out.DialysisDuration,
		BMI:              out.BMI,
		BSA:              out.BSA,
		MAP:              out.MAP,
		MAPStrategy:      out.MAPStrategy,
	}

	for name, v := range map[string]derived.Value{"bmi": sum.BMI, "bsa": sum.BSA, "map": sum.MAP} {
		if !v.OK {
			logger.Debug().Str("patient_id", p.ID.String()).Str("metric", name).
				Str("reason", v.Reason).Msg("derived value unavailable")
		}
	}
	return sum
}
