package labs

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("lab panel not found")

type Repository interface {
	Create(ctx context.Context, p *LabPanel) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabPanel, error)
	Update(ctx context.Context, p *LabPanel) error
	// UpdateDerived rewrites only the derived columns.
	UpdateDerived(ctx context.Context, id uuid.UUID, d Derived) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabPanel, int, error)
	// History returns every panel for the patient ordered by test date.
	History(ctx context.Context, patientID uuid.UUID) ([]*LabPanel, error)
	PatientIDs(ctx context.Context) ([]uuid.UUID, error)
}
