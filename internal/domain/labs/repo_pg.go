package labs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/db"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const panelCols = `id, patient_id, test_date,
	hb, iron, tibc, calcium, albumin, phosphorus, pth_pmol,
	pre_bun, post_bun, duration_hr, post_weight_kg, uf_volume_l, notes,
	tsat, corrected_calcium, ca_phos_product, urr, ktv, ktv_model, pth_pgml, hb_change_percent,
	created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *LabPanel) error {
	p.ID = uuid.New()
	d := p.Derived
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO lab_panel (
			id, patient_id, test_date,
			hb, iron, tibc, calcium, albumin, phosphorus, pth_pmol,
			pre_bun, post_bun, duration_hr, post_weight_kg, uf_volume_l, notes,
			tsat, corrected_calcium, ca_phos_product, urr, ktv, ktv_model, pth_pgml, hb_change_percent
		) VALUES (
			$1,$2,$3,
			$4,$5,$6,$7,$8,$9,$10,
			$11,$12,$13,$14,$15,$16,
			$17,$18,$19,$20,$21,$22,$23,$24
		)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, p.TestDate.Ptr(),
		p.Hb, p.Iron, p.TIBC, p.Calcium, p.Albumin, p.Phosphorus, p.PTHPmol,
		p.PreBUN, p.PostBUN, p.DurationHr, p.PostWeightKg, p.UFVolumeL, p.Notes,
		d.TSAT, d.CorrectedCalcium, d.CaPhosProduct, d.URR, d.KtV, string(d.KtVModel), d.PTHPgml, d.HbChangePercent,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("lab panel create: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabPanel, error) {
	return scanPanel(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+panelCols+` FROM lab_panel WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *LabPanel) error {
	d := p.Derived
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE lab_panel SET
			test_date=$2,
			hb=$3, iron=$4, tibc=$5, calcium=$6, albumin=$7, phosphorus=$8, pth_pmol=$9,
			pre_bun=$10, post_bun=$11, duration_hr=$12, post_weight_kg=$13, uf_volume_l=$14, notes=$15,
			tsat=$16, corrected_calcium=$17, ca_phos_product=$18, urr=$19, ktv=$20, ktv_model=$21,
			pth_pgml=$22, hb_change_percent=$23, updated_at=NOW()
		WHERE id = $1
		RETURNING patient_id, created_at, updated_at`,
		p.ID, p.TestDate.Ptr(),
		p.Hb, p.Iron, p.TIBC, p.Calcium, p.Albumin, p.Phosphorus, p.PTHPmol,
		p.PreBUN, p.PostBUN, p.DurationHr, p.PostWeightKg, p.UFVolumeL, p.Notes,
		d.TSAT, d.CorrectedCalcium, d.CaPhosProduct, d.URR, d.KtV, string(d.KtVModel), d.PTHPgml, d.HbChangePercent,
	).Scan(&p.PatientID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lab panel update: %w", err)
	}
	return nil
}

func (r *repoPG) UpdateDerived(ctx context.Context, id uuid.UUID, d Derived) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE lab_panel SET
			tsat=$2, corrected_calcium=$3, ca_phos_product=$4, urr=$5, ktv=$6, ktv_model=$7,
			pth_pgml=$8, hb_change_percent=$9, updated_at=NOW()
		WHERE id = $1`,
		id, d.TSAT, d.CorrectedCalcium, d.CaPhosProduct, d.URR, d.KtV, string(d.KtVModel), d.PTHPgml, d.HbChangePercent)
	if err != nil {
		return fmt.Errorf("lab panel update derived: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM lab_panel WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("lab panel delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabPanel, int, error) {
	q := db.Conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM lab_panel WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("lab panel count: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT `+panelCols+` FROM lab_panel WHERE patient_id = $1
		ORDER BY test_date DESC, created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("lab panel list: %w", err)
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) History(ctx context.Context, patientID uuid.UUID) ([]*LabPanel, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+panelCols+` FROM lab_panel WHERE patient_id = $1
		ORDER BY test_date, created_at`, patientID)
	if err != nil {
		return nil, fmt.Errorf("lab panel history: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) PatientIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT DISTINCT patient_id FROM lab_panel ORDER BY patient_id`)
	if err != nil {
		return nil, fmt.Errorf("lab panel patients: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("lab panel patients: %w", err)
	}
	return ids, nil
}

func collect(rows pgx.Rows) ([]*LabPanel, error) {
	defer rows.Close()
	var items []*LabPanel
	for rows.Next() {
		p, err := scanPanel(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPanel(row scanner) (*LabPanel, error) {
	var p LabPanel
	var testDate *time.Time
	var model string
	d := &p.Derived
	err := row.Scan(&p.ID, &p.PatientID, &testDate,
		&p.Hb, &p.Iron, &p.TIBC, &p.Calcium, &p.Albumin, &p.Phosphorus, &p.PTHPmol,
		&p.PreBUN, &p.PostBUN, &p.DurationHr, &p.PostWeightKg, &p.UFVolumeL, &p.Notes,
		&d.TSAT, &d.CorrectedCalcium, &d.CaPhosProduct, &d.URR, &d.KtV, &model, &d.PTHPgml, &d.HbChangePercent,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lab panel scan: %w", err)
	}
	p.TestDate = civil.FromPtr(testDate)
	d.KtVModel = derived.KtVModel(model)
	return &p, nil
}
