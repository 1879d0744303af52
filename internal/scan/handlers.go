package scan

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mchestr/plex-wrapped-sub007/internal/rules"
)

// Handlers provides HTTP handlers for scan operations.
type Handlers struct {
	service *Service
}

// NewHandlers creates a new scan handlers instance.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers scan routes on an Echo group.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Run)
	g.GET("/:id", h.Get)
	g.POST("/:id/cancel", h.Cancel)
}

// Run starts a scan for a rule in the background and returns the scan row.
// POST /api/v1/scans
func (h *Handlers) Run(c echo.Context) error {
	var req struct {
		RuleID int64 `json:"ruleId"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RuleID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "ruleId is required")
	}

	scan, err := h.service.Start(c.Request().Context(), req.RuleID)
	if err != nil {
		switch {
		case errors.Is(err, rules.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrRuleDisabled):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrScanInProgress):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusAccepted, scan)
}

// List returns paginated scans.
// GET /api/v1/scans
func (h *Handlers) List(c echo.Context) error {
	opts := ListOptions{Status: c.QueryParam("status")}
	if v, err := strconv.ParseInt(c.QueryParam("ruleId"), 10, 64); err == nil {
		opts.RuleID = v
	}
	if v, err := strconv.Atoi(c.QueryParam("page")); err == nil && v > 0 {
		opts.Page = v
	}
	if v, err := strconv.Atoi(c.QueryParam("pageSize")); err == nil && v > 0 {
		opts.PageSize = v
	}

	result, err := h.service.List(c.Request().Context(), opts)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// Get returns one scan.
// GET /api/v1/scans/:id
func (h *Handlers) Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid scan id")
	}

	scan, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, scan)
}

// Cancel asks a running scan to stop between items.
// POST /api/v1/scans/:id/cancel
func (h *Handlers) Cancel(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid scan id")
	}

	if err := h.service.Cancel(id); err != nil {
		if errors.Is(err, ErrNotRunning) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}
