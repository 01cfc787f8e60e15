package labs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	fx := newFixture()
	return NewHandler(fx.svc), fx, echo.New()
}

func TestHandler_CreatePanel(t *testing.T) {
	h, fx, e := newTestHandler()
	body := `{"test_date":"2024-07-01","iron":50,"tibc":150,"pre_bun":25,"post_bun":7.5,
		"uf_volume_l":2.5,"post_weight_kg":70,"derived":{"tsat":99}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fx.patientID.String())

	if err := h.CreatePanel(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var got struct {
		PatientID string `json:"patient_id"`
		Derived   struct {
			TSAT     *float64 `json:"tsat"`
			KtV      *float64 `json:"ktv"`
			PTHPgml  *float64 `json:"pth_pgml"`
			KtVModel string   `json:"ktv_model"`
		} `json:"derived"`
		Flags map[string]string `json:"flags"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PatientID != fx.patientID.String() {
		t.Errorf("patient_id = %s", got.PatientID)
	}
	if got.Derived.TSAT == nil || *got.Derived.TSAT != 33.33 {
		t.Errorf("tsat = %v", got.Derived.TSAT)
	}
	if got.Derived.KtV == nil || *got.Derived.KtV != 1.41 {
		t.Errorf("ktv = %v", got.Derived.KtV)
	}
	if got.Derived.PTHPgml != nil {
		t.Errorf("pth_pgml should be null without input, got %v", *got.Derived.PTHPgml)
	}
	if got.Flags["urr"] != "in_range" || got.Flags["pth_pgml"] != "unknown" {
		t.Errorf("flags = %v", got.Flags)
	}
}

func TestHandler_CreatePanel_UnknownPatient(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"test_date":"2024-07-01"}`))
	req.Header.Set("Content-Type", "application/json")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.CreatePanel(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_CreatePanel_Invalid(t *testing.T) {
	h, fx, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"test_date":"2024-07-01","iron":-4}`))
	req.Header.Set("Content-Type", "application/json")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(fx.patientID.String())

	err := h.CreatePanel(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetPanel_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetPanel(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_HbTrend(t *testing.T) {
	h, fx, e := newTestHandler()
	fx.hbPanel(t, civil.New(2024, time.January, 1), f(100))
	fx.hbPanel(t, civil.New(2024, time.July, 1), f(110))

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(fx.patientID.String())

	if err := h.HbTrend(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		Points []struct {
			TestDate      string `json:"test_date"`
			ChangePercent struct {
				Value     *float64 `json:"value"`
				Available bool     `json:"available"`
			} `json:"change_percent"`
		} `json:"points"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(got.Points))
	}
	if got.Points[0].ChangePercent.Value != nil || got.Points[0].ChangePercent.Available {
		t.Errorf("first change should be null/unavailable")
	}
	if v := got.Points[1].ChangePercent.Value; v == nil || *v != 10 {
		t.Errorf("second change = %v", v)
	}
	if got.Points[1].TestDate != "2024-07-01" {
		t.Errorf("test_date = %s", got.Points[1].TestDate)
	}
}

func TestHandler_DeletePanel(t *testing.T) {
	h, fx, e := newTestHandler()
	p := fx.hbPanel(t, civil.New(2024, time.January, 1), f(100))

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	if err := h.DeletePanel(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if _, err := fx.repo.GetByID(context.Background(), p.ID); err == nil {
		t.Error("panel still stored after delete")
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"GET /api/v1/patients/:id/labs":     false,
		"POST /api/v1/patients/:id/labs":    false,
		"GET /api/v1/patients/:id/hb-trend": false,
		"GET /api/v1/labs/:id":              false,
		"PUT /api/v1/labs/:id":              false,
		"DELETE /api/v1/labs/:id":           false,
		"POST /api/v1/labs/recompute":       false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("missing route %s", route)
		}
	}
}
