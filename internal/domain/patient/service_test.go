package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

type mockRepo struct {
	patients map[uuid.UUID]*Patient
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) GetByMRN(_ context.Context, mrn string) (*Patient, error) {
	for _, p := range m.patients {
		if p.MRN == mrn {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.patients[id]; !ok {
		return ErrNotFound
	}
	delete(m.patients, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var result []*Patient
	for _, p := range m.patients {
		result = append(result, p)
	}
	return result, len(result), nil
}

func f(v float64) *float64 { return &v }

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo, derived.MAPInterpolated, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC) }
	return svc, repo
}

func validPatient() *Patient {
	return &Patient{
		MRN:               "HD-0001",
		FullName:          "Amina Yusuf",
		BirthDate:         civil.New(1960, time.May, 15),
		Gender:            "Female",
		HeightCm:          f(170),
		WeightKg:          f(70),
		Systolic:          f(140),
		Diastolic:         f(90),
		DialysisStartDate: civil.New(2021, time.March, 1),
	}
}

func TestService_CreatePatient(t *testing.T) {
	svc, repo := newTestService()
	p := validPatient()
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected ID to be assigned")
	}
	if p.Gender != "female" {
		t.Errorf("expected normalised gender, got %q", p.Gender)
	}
	if len(repo.patients) != 1 {
		t.Errorf("expected 1 stored patient, got %d", len(repo.patients))
	}
}

func TestService_CreatePatient_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Patient)
	}{
		{"missing name", func(p *Patient) { p.FullName = "  " }},
		{"missing mrn", func(p *Patient) { p.MRN = "" }},
		{"bad gender", func(p *Patient) { p.Gender = "x" }},
		{"missing birth date", func(p *Patient) { p.BirthDate = civil.Date{} }},
		{"future birth date", func(p *Patient) { p.BirthDate = civil.New(2030, time.January, 1) }},
		{"start before birth", func(p *Patient) { p.DialysisStartDate = civil.New(1950, time.January, 1) }},
		{"future start", func(p *Patient) { p.DialysisStartDate = civil.New(2024, time.August, 1) }},
		{"zero height", func(p *Patient) { p.HeightCm = f(0) }},
		{"negative systolic", func(p *Patient) { p.Systolic = f(-120) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService()
			p := validPatient()
			tt.mutate(p)
			if err := svc.CreatePatient(context.Background(), p); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestService_CreatePatient_DuplicateMRN(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.CreatePatient(context.Background(), validPatient()); err != nil {
		t.Fatal(err)
	}
	err := svc.CreatePatient(context.Background(), validPatient())
	if !errors.Is(err, ErrDuplicateMRN) {
		t.Fatalf("expected ErrDuplicateMRN, got %v", err)
	}
}

func TestService_GetPatientByMRN(t *testing.T) {
	svc, _ := newTestService()
	p := validPatient()
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	got, err := svc.GetPatientByMRN(context.Background(), " HD-0001 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("got patient %s, want %s", got.ID, p.ID)
	}
	for _, mrn := range []string{"", "HD-9999"} {
		if _, err := svc.GetPatientByMRN(context.Background(), mrn); !errors.Is(err, ErrNotFound) {
			t.Errorf("mrn %q: expected ErrNotFound, got %v", mrn, err)
		}
	}
}

func TestService_UpdatePatient_KeepsOwnMRN(t *testing.T) {
	svc, _ := newTestService()
	p := validPatient()
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	updated := *p
	updated.WeightKg = f(72)
	if err := svc.UpdatePatient(context.Background(), &updated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	other := validPatient()
	other.MRN = "HD-0002"
	if err := svc.CreatePatient(context.Background(), other); err != nil {
		t.Fatal(err)
	}
	other.MRN = "HD-0001"
	if err := svc.UpdatePatient(context.Background(), other); !errors.Is(err, ErrDuplicateMRN) {
		t.Errorf("expected ErrDuplicateMRN, got %v", err)
	}
}

func TestService_Summary(t *testing.T) {
	svc, _ := newTestService()
	p := validPatient()
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	sum, err := svc.Summary(context.Background(), p.ID, civil.Date{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.AsOf != civil.New(2024, time.July, 1) {
		t.Errorf("as_of should default to today, got %s", sum.AsOf)
	}
	if !sum.Age.OK || sum.Age.N != 64 {
		t.Errorf("age = %+v, want 64", sum.Age)
	}
	if !sum.DialysisDuration.OK || sum.DialysisDuration.Months != 40 || sum.DialysisDuration.Years != 3 {
		t.Errorf("duration = %+v, want 40 months / 3 years", sum.DialysisDuration)
	}
	if sum.BMI.Value != 24.22 {
		t.Errorf("bmi = %v, want 24.22", sum.BMI.Value)
	}
	if !sum.BSA.OK {
		t.Errorf("bsa unavailable: %s", sum.BSA.Reason)
	}
	if sum.MAP.Value != 106.67 || sum.MAPStrategy != derived.MAPInterpolated {
		t.Errorf("map = %v (%s), want 106.67 interpolated", sum.MAP.Value, sum.MAPStrategy)
	}
}

func TestService_Summary_MissingVitals(t *testing.T) {
	svc, _ := newTestService()
	p := validPatient()
	p.HeightCm = nil
	p.Systolic = nil
	p.DialysisStartDate = civil.Date{}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	sum, err := svc.Summary(context.Background(), p.ID, civil.New(2024, time.May, 14))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Age.N != 63 {
		t.Errorf("age the day before the birthday = %d, want 63", sum.Age.N)
	}
	for name, v := range map[string]derived.Value{"bmi": sum.BMI, "bsa": sum.BSA, "map": sum.MAP} {
		if v.OK || v.Reason != derived.ReasonMissing {
			t.Errorf("%s = %+v, want unavailable/missing", name, v)
		}
	}
	if sum.DialysisDuration.OK {
		t.Error("duration should be unavailable without a start date")
	}
}

func TestService_Summary_NotFound(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Summary(context.Background(), uuid.New(), civil.Date{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
