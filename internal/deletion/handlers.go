package deletion

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mchestr/plex-wrapped-sub007/internal/candidates"
	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

// Handlers provides HTTP handlers for deletions and the audit log.
type Handlers struct {
	executor *Executor
}

// NewHandlers creates a new deletion handlers instance.
func NewHandlers(executor *Executor) *Handlers {
	return &Handlers{executor: executor}
}

// RegisterRoutes registers deletion routes on an Echo group.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.POST("", h.ExecuteCandidate)
	g.POST("/manual", h.ExecuteManual)
	g.GET("", h.List)
	g.GET("/stats", h.GetStats)
}

type executeRequest struct {
	CandidateID int64  `json:"candidateId"`
	DeletedBy   string `json:"deletedBy"`
}

// ExecuteCandidate deletes the item behind an approved candidate.
// POST /api/v1/deletions
func (h *Handlers) ExecuteCandidate(c echo.Context) error {
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CandidateID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "candidateId is required")
	}
	if req.DeletedBy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "deletedBy is required")
	}

	entry, err := h.executor.ExecuteCandidate(c.Request().Context(), req.CandidateID, req.DeletedBy)
	if err != nil {
		return deletionError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

type manualRequest struct {
	RatingKey string `json:"ratingKey"`
	DeletedBy string `json:"deletedBy"`
}

// ExecuteManual deletes an arbitrary library item by rating key.
// POST /api/v1/deletions/manual
func (h *Handlers) ExecuteManual(c echo.Context) error {
	var req manualRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RatingKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ratingKey is required")
	}
	if req.DeletedBy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "deletedBy is required")
	}

	entry, err := h.executor.ExecuteManual(c.Request().Context(), req.RatingKey, req.DeletedBy)
	if err != nil {
		return deletionError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// List returns paginated deletion logs.
// GET /api/v1/deletions
func (h *Handlers) List(c echo.Context) error {
	opts := ListOptions{
		MediaType: media.Type(c.QueryParam("mediaType")),
		DeletedBy: c.QueryParam("deletedBy"),
	}
	if v, err := time.Parse(time.RFC3339, c.QueryParam("from")); err == nil {
		opts.From = v
	}
	if v, err := time.Parse(time.RFC3339, c.QueryParam("to")); err == nil {
		opts.To = v
	}
	if v, err := strconv.Atoi(c.QueryParam("page")); err == nil && v > 0 {
		opts.Page = v
	}
	if v, err := strconv.Atoi(c.QueryParam("pageSize")); err == nil && v > 0 {
		opts.PageSize = v
	}

	result, err := h.executor.List(c.Request().Context(), opts)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// GetStats returns aggregate deletion statistics.
// GET /api/v1/deletions/stats
func (h *Handlers) GetStats(c echo.Context) error {
	stats, err := h.executor.GetStats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// deletionError maps executor errors to HTTP responses. Collaborator
// failures surface as 502 so callers can tell them from our own faults.
func deletionError(err error) error {
	var delErr *DeletionError
	var invalid *candidates.InvalidTransitionError
	var conflict *candidates.ConflictError
	switch {
	case errors.Is(err, candidates.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &invalid), errors.As(err, &conflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &delErr):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
