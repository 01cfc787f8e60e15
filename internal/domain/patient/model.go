package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

// Patient is the intake record. Vitals are the values measured at intake and
// feed the anthropometric and blood pressure summaries.
type Patient struct {
	ID                uuid.UUID  `json:"id"`
	MRN               string     `json:"mrn"`
	FullName          string     `json:"full_name"`
	BirthDate         civil.Date `json:"birth_date"`
	Gender            string     `json:"gender"`
	HeightCm          *float64   `json:"height_cm,omitempty"`
	WeightKg          *float64   `json:"weight_kg,omitempty"`
	Systolic          *float64   `json:"systolic,omitempty"`
	Diastolic         *float64   `json:"diastolic,omitempty"`
	DialysisStartDate civil.Date `json:"dialysis_start_date"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Summary is the set of values derived from the intake record as of a date.
type Summary struct {
	PatientID        uuid.UUID           `json:"patient_id"`
	AsOf             civil.Date          `json:"as_of"`
	Age              derived.Count       `json:"age"`
	DialysisDuration derived.Duration    `json:"dialysis_duration"`
	BMI              derived.Value       `json:"bmi"`
	BSA              derived.Value       `json:"bsa"`
	MAP              derived.Value       `json:"map"`
	MAPStrategy      derived.MAPStrategy `json:"map_strategy"`
}

var validGenders = map[string]bool{
	"male":    true,
	"female":  true,
	"other":   true,
	"unknown": true,
}
