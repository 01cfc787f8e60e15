package calculator

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the calculator. Any authenticated user may call it;
// no patient data is read or written.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/calculate")
	g.POST("", h.Calculate)
	g.POST("/prior-hb", h.PriorHb)
	g.POST("/:metric", h.CalculateMetric)
	g.GET("/metrics", h.ListMetrics)
}

func (h *Handler) Calculate(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Compute(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CalculateMetric(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Metric(c.Param("metric"), &req)
	if errors.Is(err, ErrUnknownMetric) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) PriorHb(c echo.Context) error {
	var req PriorHbRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.PriorHb(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"as_of":    req.AsOf,
		"prior_hb": v,
	})
}

func (h *Handler) ListMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"metrics": Metrics})
}
