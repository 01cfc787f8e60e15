package labs

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
	"github.com/smmrizwan/hemodialysis-sub001/internal/domain/patient"
	"github.com/smmrizwan/hemodialysis-sub001/internal/targets"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

// -- Mock Repository --

type mockRepo struct {
	panels map[uuid.UUID]LabPanel
}

func newMockRepo() *mockRepo {
	return &mockRepo{panels: make(map[uuid.UUID]LabPanel)}
}

func (m *mockRepo) Create(_ context.Context, p *LabPanel) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.panels[p.ID] = *p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*LabPanel, error) {
	p, ok := m.panels[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *mockRepo) Update(_ context.Context, p *LabPanel) error {
	existing, ok := m.panels[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()
	m.panels[p.ID] = *p
	return nil
}

func (m *mockRepo) UpdateDerived(_ context.Context, id uuid.UUID, d Derived) error {
	p, ok := m.panels[id]
	if !ok {
		return ErrNotFound
	}
	p.Derived = d
	m.panels[id] = p
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.panels[id]; !ok {
		return ErrNotFound
	}
	delete(m.panels, id)
	return nil
}

func (m *mockRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabPanel, int, error) {
	all, _ := m.History(ctx, patientID)
	return all, len(all), nil
}

func (m *mockRepo) History(_ context.Context, patientID uuid.UUID) ([]*LabPanel, error) {
	var out []*LabPanel
	for _, p := range m.panels {
		if p.PatientID == patientID {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TestDate.Before(out[j].TestDate.Time) })
	return out, nil
}

func (m *mockRepo) PatientIDs(_ context.Context) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, p := range m.panels {
		if !seen[p.PatientID] {
			seen[p.PatientID] = true
			ids = append(ids, p.PatientID)
		}
	}
	return ids, nil
}

type mockPatients struct {
	known map[uuid.UUID]bool
	mrns  map[string]uuid.UUID
}

func (m *mockPatients) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	if !m.known[id] {
		return nil, patient.ErrNotFound
	}
	return &patient.Patient{ID: id}, nil
}

func (m *mockPatients) GetPatientByMRN(_ context.Context, mrn string) (*patient.Patient, error) {
	id, ok := m.mrns[mrn]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return &patient.Patient{ID: id, MRN: mrn}, nil
}

func f(v float64) *float64 { return &v }

type fixture struct {
	svc       *Service
	repo      *mockRepo
	patientID uuid.UUID
	txCalls   int
}

func newFixture(opts ...Option) *fixture {
	fx := &fixture{repo: newMockRepo(), patientID: uuid.New()}
	patients := &mockPatients{
		known: map[uuid.UUID]bool{fx.patientID: true},
		mrns:  map[string]uuid.UUID{"MRN-100": fx.patientID},
	}
	counting := WithTx(func(ctx context.Context, fn func(ctx context.Context) error) error {
		fx.txCalls++
		return fn(ctx)
	})
	fx.svc = NewService(fx.repo, patients, targets.NewStore(nil), zerolog.Nop(), append([]Option{counting}, opts...)...)
	fx.svc.now = func() time.Time { return time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC) }
	return fx
}

func (fx *fixture) hbPanel(t *testing.T, date civil.Date, hb *float64) *LabPanel {
	t.Helper()
	p := &LabPanel{PatientID: fx.patientID, TestDate: date, Hb: hb}
	if err := fx.svc.CreatePanel(context.Background(), p); err != nil {
		t.Fatalf("create panel %s: %v", date, err)
	}
	return p
}

func fullPanel(pid uuid.UUID) *LabPanel {
	return &LabPanel{
		PatientID:    pid,
		TestDate:     civil.New(2024, time.July, 1),
		Hb:           f(110),
		Iron:         f(50),
		TIBC:         f(150),
		Calcium:      f(2.2),
		Albumin:      f(35),
		Phosphorus:   f(1.6),
		PTHPmol:      f(10),
		PreBUN:       f(25),
		PostBUN:      f(7.5),
		DurationHr:   f(4),
		PostWeightKg: f(70),
		UFVolumeL:    f(2.5),
	}
}

func wantPtr(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Errorf("%s is nil, want %v", name, want)
		return
	}
	if *got != want {
		t.Errorf("%s = %v, want %v", name, *got, want)
	}
}

func TestService_CreatePanel_DerivesColumns(t *testing.T) {
	fx := newFixture()
	p := fullPanel(fx.patientID)
	if err := fx.svc.CreatePanel(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := p.Derived
	wantPtr(t, "tsat", d.TSAT, 33.33)
	wantPtr(t, "corrected_calcium", d.CorrectedCalcium, 2.3)
	wantPtr(t, "ca_phos_product", d.CaPhosProduct, 45.68)
	wantPtr(t, "urr", d.URR, 70)
	wantPtr(t, "ktv", d.KtV, 1.41)
	wantPtr(t, "pth_pgml", d.PTHPgml, 94.3)
	if d.KtVModel != derived.KtVModelDaugirdas {
		t.Errorf("ktv_model = %s", d.KtVModel)
	}
	if d.HbChangePercent != nil {
		t.Errorf("first panel has no prior Hb, got %v", *d.HbChangePercent)
	}

	want := map[string]targets.Status{
		targets.MetricTSAT: targets.StatusInRange,
		targets.MetricURR:  targets.StatusInRange,
		targets.MetricKtV:  targets.StatusInRange,
		targets.MetricPTH:  targets.StatusLow,
		targets.MetricHb:   targets.StatusInRange,
	}
	for m, s := range want {
		if p.Flags[m] != s {
			t.Errorf("flag %s = %s, want %s", m, p.Flags[m], s)
		}
	}
	if fx.txCalls != 1 {
		t.Errorf("expected one transaction, got %d", fx.txCalls)
	}
}

func TestService_CreatePanel_IgnoresClientDerived(t *testing.T) {
	fx := newFixture()
	p := &LabPanel{
		PatientID: fx.patientID,
		TestDate:  civil.New(2024, time.July, 1),
		Derived:   Derived{TSAT: f(99), URR: f(99)},
	}
	if err := fx.svc.CreatePanel(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.Derived.TSAT != nil || p.Derived.URR != nil {
		t.Errorf("client-supplied derived values must be discarded, got %+v", p.Derived)
	}
}

func TestService_CreatePanel_SimpleKtV(t *testing.T) {
	fx := newFixture(WithKtVModel(derived.KtVModelSimple))
	p := fullPanel(fx.patientID)
	if err := fx.svc.CreatePanel(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	wantPtr(t, "ktv", p.Derived.KtV, 1.23)
	if p.Derived.KtVModel != derived.KtVModelSimple {
		t.Errorf("ktv_model = %s", p.Derived.KtVModel)
	}
}

func TestService_CreatePanel_LogDomainLeavesBlank(t *testing.T) {
	fx := newFixture()
	p := &LabPanel{
		PatientID: fx.patientID, TestDate: civil.New(2024, time.July, 1),
		PreBUN: f(5), PostBUN: f(0.1), UFVolumeL: f(2), PostWeightKg: f(70),
	}
	if err := fx.svc.CreatePanel(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.Derived.KtV != nil {
		t.Errorf("ktv should be blank, got %v", *p.Derived.KtV)
	}
	if p.Flags[targets.MetricKtV] != targets.StatusUnknown {
		t.Errorf("ktv flag = %s, want unknown", p.Flags[targets.MetricKtV])
	}
}

func TestService_CreatePanel_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*LabPanel)
	}{
		{"missing date", func(p *LabPanel) { p.TestDate = civil.Date{} }},
		{"future date", func(p *LabPanel) { p.TestDate = civil.New(2025, time.January, 5) }},
		{"negative iron", func(p *LabPanel) { p.Iron = f(-1) }},
		{"NaN hb", func(p *LabPanel) { p.Hb = f(math.NaN()) }},
		{"infinite calcium", func(p *LabPanel) { p.Calcium = f(math.Inf(1)) }},
		{"missing patient", func(p *LabPanel) { p.PatientID = uuid.Nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture()
			p := fullPanel(fx.patientID)
			tt.mutate(p)
			if err := fx.svc.CreatePanel(context.Background(), p); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestService_CreatePanel_UnknownPatient(t *testing.T) {
	fx := newFixture()
	err := fx.svc.CreatePanel(context.Background(), fullPanel(uuid.New()))
	if !errors.Is(err, patient.ErrNotFound) {
		t.Fatalf("expected patient.ErrNotFound, got %v", err)
	}
}

func TestService_HbChangeChain(t *testing.T) {
	fx := newFixture()
	fx.hbPanel(t, civil.New(2024, time.January, 1), f(100))
	fx.hbPanel(t, civil.New(2024, time.April, 1), nil)
	july := fx.hbPanel(t, civil.New(2024, time.July, 1), f(110))

	// Skips the null April reading and compares against January.
	wantPtr(t, "hb_change_percent", july.Derived.HbChangePercent, 10)

	// A back-dated May panel becomes July's predecessor.
	fx.hbPanel(t, civil.New(2024, time.May, 1), f(105))
	stored, err := fx.repo.GetByID(context.Background(), july.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantPtr(t, "hb_change_percent after insert", stored.Derived.HbChangePercent, 4.76)
}

func TestService_UpdatePanel(t *testing.T) {
	fx := newFixture()
	p := fullPanel(fx.patientID)
	if err := fx.svc.CreatePanel(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	edit := &LabPanel{ID: p.ID, PatientID: uuid.New(), TestDate: p.TestDate, Iron: f(30), TIBC: f(150)}
	if err := fx.svc.UpdatePanel(context.Background(), edit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if edit.PatientID != fx.patientID {
		t.Error("update must not move a panel to another patient")
	}
	wantPtr(t, "tsat", edit.Derived.TSAT, 20)
	if edit.Derived.URR != nil {
		t.Error("urr should be cleared when BUN values are removed")
	}

	err := fx.svc.UpdatePanel(context.Background(), &LabPanel{ID: uuid.New(), TestDate: p.TestDate})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_DeletePanel_RefreshesChain(t *testing.T) {
	fx := newFixture()
	fx.hbPanel(t, civil.New(2024, time.January, 1), f(100))
	may := fx.hbPanel(t, civil.New(2024, time.May, 1), f(105))
	july := fx.hbPanel(t, civil.New(2024, time.July, 1), f(110))

	if err := fx.svc.DeletePanel(context.Background(), may.ID); err != nil {
		t.Fatal(err)
	}
	stored, _ := fx.repo.GetByID(context.Background(), july.ID)
	wantPtr(t, "hb_change_percent after delete", stored.Derived.HbChangePercent, 10)

	if err := fx.svc.DeletePanel(context.Background(), may.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestService_Recompute(t *testing.T) {
	fx := newFixture()
	p := fullPanel(fx.patientID)
	if err := fx.svc.CreatePanel(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	stale := fx.repo.panels[p.ID]
	stale.Derived.TSAT = f(12.34)
	stale.Derived.KtVModel = derived.KtVModelSimple
	fx.repo.panels[p.ID] = stale

	res, err := fx.svc.Recompute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Patients != 1 || res.Updated != 1 {
		t.Errorf("result = %+v, want 1 patient / 1 updated", res)
	}
	wantPtr(t, "tsat", fx.repo.panels[p.ID].Derived.TSAT, 33.33)

	res, err = fx.svc.Recompute(context.Background())
	if err != nil || res.Updated != 0 {
		t.Errorf("second run should be a no-op, got %+v, %v", res, err)
	}
}

func TestService_Recompute_Cancelled(t *testing.T) {
	fx := newFixture()
	fx.hbPanel(t, civil.New(2024, time.January, 1), f(100))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fx.svc.Recompute(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestService_HbTrend(t *testing.T) {
	fx := newFixture()
	fx.hbPanel(t, civil.New(2024, time.January, 1), f(100))
	fx.hbPanel(t, civil.New(2024, time.April, 1), nil)
	fx.hbPanel(t, civil.New(2024, time.July, 1), f(110))

	points, err := fx.svc.HbTrend(context.Background(), fx.patientID)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points (null reading skipped), got %d", len(points))
	}
	if points[0].ChangePercent.OK || points[0].ChangePercent.Reason != derived.ReasonNoPriorValue {
		t.Errorf("first point change = %+v", points[0].ChangePercent)
	}
	if points[1].PreviousHb.Value != 100 {
		t.Errorf("previous hb = %v, want 100", points[1].PreviousHb.Value)
	}
	if points[1].ChangePercent.Value != 10 {
		t.Errorf("change = %v, want 10", points[1].ChangePercent.Value)
	}
	if points[1].SymmetricDiffPercent.Value != 9.52 {
		t.Errorf("symmetric diff = %v, want 9.52", points[1].SymmetricDiffPercent.Value)
	}
	if points[1].Status != targets.StatusInRange {
		t.Errorf("status = %s", points[1].Status)
	}

	if _, err := fx.svc.HbTrend(context.Background(), uuid.New()); !errors.Is(err, patient.ErrNotFound) {
		t.Errorf("expected patient.ErrNotFound, got %v", err)
	}
}

type recordingObserver struct {
	seen  map[string]derived.Value
	calls map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{seen: map[string]derived.Value{}, calls: map[string]int{}}
}

func (o *recordingObserver) ObserveDerived(metric string, v derived.Value) {
	o.seen[metric] = v
	o.calls[metric]++
}

func TestService_CreatePanel_NotifiesObserver(t *testing.T) {
	obs := newRecordingObserver()
	fx := newFixture(WithObserver(obs))

	if err := fx.svc.CreatePanel(context.Background(), fullPanel(fx.patientID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(obs.seen) != 7 {
		t.Errorf("observed %d metrics, want 7: %v", len(obs.seen), obs.seen)
	}
	if v := obs.seen["urr"]; !v.OK {
		t.Errorf("urr should be available, got %+v", v)
	}
	if v := obs.seen["hb_change_percent"]; v.OK || v.Reason != derived.ReasonMissing {
		t.Errorf("first panel has no prior Hb, got %+v", v)
	}
}

// Each write reports the written panel once. Re-deriving unchanged panels
// of the chain reports nothing; a later panel whose Hb change moves is
// reported again.
func TestService_ObserverCountsPerWrite(t *testing.T) {
	obs := newRecordingObserver()
	fx := newFixture(WithObserver(obs))
	ctx := context.Background()

	for _, d := range []int{1, 2, 3} {
		p := fullPanel(fx.patientID)
		p.TestDate = civil.New(2024, time.March, d)
		if err := fx.svc.CreatePanel(ctx, p); err != nil {
			t.Fatalf("create %d: %v", d, err)
		}
	}
	if obs.calls["urr"] != 3 {
		t.Errorf("urr observed %d times for 3 panels, want 3", obs.calls["urr"])
	}

	// A back-dated panel with a different Hb shifts the change on the
	// panel that follows it.
	early := fullPanel(fx.patientID)
	early.TestDate = civil.New(2024, time.February, 1)
	early.Hb = f(90)
	if err := fx.svc.CreatePanel(ctx, early); err != nil {
		t.Fatalf("create early: %v", err)
	}
	if obs.calls["urr"] != 5 {
		t.Errorf("urr observed %d times, want 5 (new panel and its successor)", obs.calls["urr"])
	}
}
