package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/db"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const patientCols = `id, mrn, full_name, birth_date, gender,
	height_cm, weight_kg, systolic, diastolic, dialysis_start_date,
	created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (
			id, mrn, full_name, birth_date, gender,
			height_cm, weight_kg, systolic, diastolic, dialysis_start_date
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		p.ID, p.MRN, p.FullName, p.BirthDate.Ptr(), p.Gender,
		p.HeightCm, p.WeightKg, p.Systolic, p.Diastolic, p.DialysisStartDate.Ptr(),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE mrn = $1`, mrn))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patient SET
			mrn=$2, full_name=$3, birth_date=$4, gender=$5,
			height_cm=$6, weight_kg=$7, systolic=$8, diastolic=$9,
			dialysis_start_date=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.MRN, p.FullName, p.BirthDate.Ptr(), p.Gender,
		p.HeightCm, p.WeightKg, p.Systolic, p.Diastolic, p.DialysisStartDate.Ptr(),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("patient update: %w", err)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("patient delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	q := db.Conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("patient count: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT `+patientCols+` FROM patient
		ORDER BY full_name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("patient list: %w", err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPatient(row scanner) (*Patient, error) {
	var p Patient
	var birth, start *time.Time
	err := row.Scan(&p.ID, &p.MRN, &p.FullName, &birth, &p.Gender,
		&p.HeightCm, &p.WeightKg, &p.Systolic, &p.Diastolic, &start,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patient scan: %w", err)
	}
	p.BirthDate = civil.FromPtr(birth)
	p.DialysisStartDate = civil.FromPtr(start)
	return &p, nil
}
