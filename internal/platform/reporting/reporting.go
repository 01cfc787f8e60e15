// Package reporting serves the unit's quality measures: how many stored lab
// panels meet the clinical targets, grouped by calendar quarter.
package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/auth"
	"github.com/smmrizwan/hemodialysis-sub001/internal/targets"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Measure is a predefined report. Its SQL always receives the period as $1
// and $2 (NULL when open), followed by min and max of each target in
// Targets, in order.
type Measure struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Targets     []string `json:"targets,omitempty"`
	SQL         string   `json:"-"`
}

type Report struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	From        civil.Date               `json:"from"`
	To          civil.Date               `json:"to"`
	Targets     []targets.Target         `json:"targets,omitempty"`
	Results     []map[string]interface{} `json:"results"`
}

const period = `($1::date IS NULL OR test_date >= $1::date) AND ($2::date IS NULL OR test_date <= $2::date)`

const quarter = `to_char(test_date, 'YYYY-"Q"Q')`

// within is true when col lies in [min, max]; a NULL bound is open.
func within(col string, minArg, maxArg int) string {
	return fmt.Sprintf("%[1]s >= COALESCE($%[2]d::float8, %[1]s) AND %[1]s <= COALESCE($%[3]d::float8, %[1]s)", col, minArg, maxArg)
}

var Measures = []Measure{
	{
		ID:          "patient-count",
		Name:        "Patient Count",
		Description: "Registered patients and how many have a lab panel in the period",
		SQL: `SELECT COUNT(*) AS patients,
			COUNT(*) FILTER (WHERE EXISTS (
				SELECT 1 FROM lab_panel l WHERE l.patient_id = p.id AND ` + period + `
			)) AS with_labs
			FROM patient p`,
	},
	{
		ID:          "adequacy-attainment",
		Name:        "Dialysis Adequacy Attainment",
		Description: "Panels reporting URR and Kt/V per quarter, and how many meet target",
		Targets:     []string{targets.MetricURR, targets.MetricKtV},
		SQL: `SELECT ` + quarter + ` AS quarter,
			COUNT(urr) AS urr_reported,
			COUNT(*) FILTER (WHERE ` + within("urr", 3, 4) + `) AS urr_met,
			COUNT(ktv) AS ktv_reported,
			COUNT(*) FILTER (WHERE ` + within("ktv", 5, 6) + `) AS ktv_met
			FROM lab_panel WHERE ` + period + `
			GROUP BY 1 ORDER BY 1`,
	},
	{
		ID:          "anemia-control",
		Name:        "Anemia Control",
		Description: "Hemoglobin and TSAT results per quarter against target",
		Targets:     []string{targets.MetricHb, targets.MetricTSAT},
		SQL: `SELECT ` + quarter + ` AS quarter,
			COUNT(hb) AS hb_reported,
			COUNT(*) FILTER (WHERE hb < $3::float8) AS hb_low,
			COUNT(*) FILTER (WHERE ` + within("hb", 3, 4) + `) AS hb_in_range,
			COUNT(*) FILTER (WHERE hb > $4::float8) AS hb_high,
			COUNT(tsat) AS tsat_reported,
			COUNT(*) FILTER (WHERE ` + within("tsat", 5, 6) + `) AS tsat_in_range
			FROM lab_panel WHERE ` + period + `
			GROUP BY 1 ORDER BY 1`,
	},
	{
		ID:          "mineral-control",
		Name:        "Mineral and Bone Control",
		Description: "Corrected calcium, calcium-phosphorus product and PTH per quarter against target",
		Targets:     []string{targets.MetricCorrectedCalcium, targets.MetricCaPhosProduct, targets.MetricPTH},
		SQL: `SELECT ` + quarter + ` AS quarter,
			COUNT(corrected_calcium) AS calcium_reported,
			COUNT(*) FILTER (WHERE ` + within("corrected_calcium", 3, 4) + `) AS calcium_in_range,
			COUNT(ca_phos_product) AS ca_phos_reported,
			COUNT(*) FILTER (WHERE ` + within("ca_phos_product", 5, 6) + `) AS ca_phos_in_range,
			COUNT(pth_pgml) AS pth_reported,
			COUNT(*) FILTER (WHERE ` + within("pth_pgml", 7, 8) + `) AS pth_in_range
			FROM lab_panel WHERE ` + period + `
			GROUP BY 1 ORDER BY 1`,
	},
}

func FindMeasure(id string) *Measure {
	for i := range Measures {
		if Measures[i].ID == id {
			return &Measures[i]
		}
	}
	return nil
}

// Args returns the query arguments for m over [from, to] with the bounds
// of set. A metric with no target gets open bounds.
func (m *Measure) Args(set *targets.Set, from, to civil.Date) ([]interface{}, []targets.Target) {
	args := []interface{}{from.Ptr(), to.Ptr()}
	var used []targets.Target
	for _, metric := range m.Targets {
		t, ok := set.Get(metric)
		if !ok {
			args = append(args, nil, nil)
			continue
		}
		args = append(args, t.Min, t.Max)
		used = append(used, t)
	}
	return args, used
}

type Handler struct {
	db      Querier
	targets *targets.Store
	now     func() time.Time
}

func NewHandler(db Querier, store *targets.Store) *Handler {
	if store == nil {
		store = targets.NewStore(nil)
	}
	return &Handler{db: db, targets: store, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleClinician))
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, Measures)
}

// EvaluateMeasure runs a measure. The period comes from the optional from
// and to query parameters (YYYY-MM-DD).
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	m := FindMeasure(c.Param("id"))
	if m == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}
	from, err := dateParam(c, "from")
	if err != nil {
		return err
	}
	to, err := dateParam(c, "to")
	if err != nil {
		return err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from.Time) {
		return echo.NewHTTPError(http.StatusBadRequest, "to must not be before from")
	}

	args, used := m.Args(h.targets.Current(), from, to)
	results, err := h.query(c.Request().Context(), m.SQL, args...)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}
	return c.JSON(http.StatusOK, Report{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: h.now().UTC(),
		From:        from,
		To:          to,
		Targets:     used,
		Results:     results,
	})
}

func dateParam(c echo.Context, name string) (civil.Date, error) {
	v := c.QueryParam(name)
	if v == "" {
		return civil.Date{}, nil
	}
	d, err := civil.Parse(v)
	if err != nil {
		return civil.Date{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s date", name))
	}
	return d, nil
}

// query returns each row as a column-name map.
func (h *Handler) query(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := h.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
