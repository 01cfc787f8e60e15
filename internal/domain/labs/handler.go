package labs

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/smmrizwan/hemodialysis-sub001/internal/domain/patient"
	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/auth"
	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/hl7v2"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleNurse, auth.RoleViewer))
	read.GET("/patients/:id/labs", h.ListPanels)
	read.GET("/patients/:id/hb-trend", h.HbTrend)
	read.GET("/labs/:id", h.GetPanel)

	write := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleNurse))
	write.POST("/patients/:id/labs", h.CreatePanel)
	write.PUT("/labs/:id", h.UpdatePanel)
	write.POST("/labs/import/hl7", h.ImportHL7)

	clinician := api.Group("", auth.RequireRole(auth.RoleClinician))
	clinician.DELETE("/labs/:id", h.DeletePanel)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/labs/recompute", h.Recompute)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// writeError maps not-found errors to 404 and everything else to fallback.
func writeError(err error, fallback int) error {
	switch {
	case errors.Is(err, patient.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "lab panel not found")
	default:
		return echo.NewHTTPError(fallback, err.Error())
	}
}

func (h *Handler) CreatePanel(c echo.Context) error {
	pid, err := parseID(c)
	if err != nil {
		return err
	}
	var p LabPanel
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.PatientID = pid
	if err := h.svc.CreatePanel(c.Request().Context(), &p); err != nil {
		return writeError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPanel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPanel(c.Request().Context(), id)
	if err != nil {
		return writeError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPanels(c echo.Context) error {
	pid, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPanels(c.Request().Context(), pid, pg.Limit, pg.Offset)
	if err != nil {
		return writeError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePanel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p LabPanel
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdatePanel(c.Request().Context(), &p); err != nil {
		return writeError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePanel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePanel(c.Request().Context(), id); err != nil {
		return writeError(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) HbTrend(c echo.Context) error {
	pid, err := parseID(c)
	if err != nil {
		return err
	}
	points, err := h.svc.HbTrend(c.Request().Context(), pid)
	if err != nil {
		return writeError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patient_id": pid,
		"points":     points,
	})
}

func (h *Handler) Recompute(c echo.Context) error {
	res, err := h.svc.Recompute(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// ImportHL7 takes a raw ER7-encoded ORU message as the request body.
func (h *Handler) ImportHL7(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msg, err := hl7v2.Parse(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.ImportORU(c.Request().Context(), msg)
	if err != nil {
		return writeError(err, http.StatusUnprocessableEntity)
	}
	return c.JSON(http.StatusCreated, res)
}
