package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/auth"
)

// AuditEntry records who touched which patient record and how.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	UserID     string
	UserRoles  []string
	Resource   string
	PatientID  string
	Action     string
	Method     string
	Path       string
	IPAddress  string
	StatusCode int
}

// Audit logs an access entry for every /api/v1 request after the handler
// has run. Stateless calculator calls carry no patient data and are skipped.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c)
			logger.Info().
				Str("type", "phi_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Time("at", entry.Timestamp).
				Msg("phi_access")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context) AuditEntry {
	req := c.Request()
	ctx := req.Context()
	return AuditEntry{
		Timestamp:  time.Now().UTC(),
		RequestID:  RequestIDFrom(c),
		UserID:     auth.UserIDFromContext(ctx),
		UserRoles:  auth.RolesFromContext(ctx),
		Resource:   resourceFromPath(req.URL.Path),
		PatientID:  patientIDFromRequest(c),
		Action:     actionFromMethod(req.Method),
		Method:     req.Method,
		Path:       req.URL.Path,
		IPAddress:  c.RealIP(),
		StatusCode: c.Response().Status,
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/") && !strings.HasPrefix(path, "/api/v1/calculate")
}

func actionFromMethod(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceFromPath returns the first segment after /api/v1/.
func resourceFromPath(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	seg, _, _ := strings.Cut(rest, "/")
	if seg == "" {
		return "unknown"
	}
	return seg
}

// patientIDFromRequest looks for /api/v1/patients/<uuid> in the path and
// falls back to the patient_id query parameter.
func patientIDFromRequest(c echo.Context) string {
	path := c.Request().URL.Path
	if rest, ok := strings.CutPrefix(path, "/api/v1/patients/"); ok {
		seg, _, _ := strings.Cut(rest, "/")
		if _, err := uuid.Parse(seg); err == nil {
			return seg
		}
	}
	if pid := c.QueryParam("patient_id"); pid != "" {
		if _, err := uuid.Parse(pid); err == nil {
			return pid
		}
	}
	return ""
}
