package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/auth"
)

func TestAudit_LogsPatientAccess(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()

	pid := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+pid+"/labs", nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "nurse-7")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"nurse"})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")

	h := Audit(logger)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("audit line is not JSON: %v (%s)", err, buf.String())
	}
	checks := map[string]string{
		"type":       "phi_audit",
		"user_id":    "nurse-7",
		"patient_id": pid,
		"resource":   "patients",
		"action":     "read",
		"request_id": "req-123",
	}
	for k, want := range checks {
		if line[k] != want {
			t.Errorf("%s = %v, want %q", k, line[k], want)
		}
	}
}

func TestAudit_SkipsCalculatorAndHealth(t *testing.T) {
	for _, path := range []string{"/api/v1/calculate", "/api/v1/calculate/bmi", "/health"} {
		var buf bytes.Buffer
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		c := e.NewContext(req, httptest.NewRecorder())

		h := Audit(zerolog.New(&buf))(func(c echo.Context) error { return nil })
		if err := h(c); err != nil {
			t.Fatalf("%s: unexpected error: %v", path, err)
		}
		if buf.Len() != 0 {
			t.Errorf("%s: expected no audit line, got %s", path, buf.String())
		}
	}
}

func TestActionFromMethod(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := actionFromMethod(method); got != want {
			t.Errorf("actionFromMethod(%s) = %s, want %s", method, got, want)
		}
	}
}

func TestPatientIDFromRequest_Query(t *testing.T) {
	e := echo.New()
	pid := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/labs?patient_id="+pid, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if got := patientIDFromRequest(c); got != pid {
		t.Errorf("got %q, want %q", got, pid)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/labs?patient_id=not-a-uuid", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	if got := patientIDFromRequest(c); got != "" {
		t.Errorf("got %q for invalid id", got)
	}
}
