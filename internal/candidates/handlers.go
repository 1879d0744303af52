package candidates

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handlers provides HTTP handlers for candidate review operations.
type Handlers struct {
	service *Service
}

// NewHandlers creates a new candidates handlers instance.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers candidate routes on an Echo group.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.POST("/review", h.BulkReview)
	g.GET("/:id", h.Get)
	g.POST("/:id/review", h.Review)
	g.POST("/:id/reset", h.Reset)
}

// List returns paginated candidates.
// GET /api/v1/candidates
func (h *Handlers) List(c echo.Context) error {
	opts := ListOptions{
		ReviewStatus: c.QueryParam("reviewStatus"),
		MediaType:    c.QueryParam("mediaType"),
	}
	if v, err := strconv.ParseInt(c.QueryParam("scanId"), 10, 64); err == nil {
		opts.ScanID = v
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

// Get returns one candidate.
// GET /api/v1/candidates/:id
func (h *Handlers) Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid candidate id")
	}

	cand, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return candidateError(err)
	}
	return c.JSON(http.StatusOK, cand)
}

type reviewRequest struct {
	Decision   Decision `json:"decision"`
	ReviewedBy string   `json:"reviewedBy"`
	Note       string   `json:"note"`
}

// Review applies an approve or reject decision to one candidate.
// POST /api/v1/candidates/:id/review
func (h *Handlers) Review(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid candidate id")
	}

	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cand, err := h.service.Review(c.Request().Context(), id, req.Decision, req.ReviewedBy, req.Note)
	if err != nil {
		return candidateError(err)
	}
	return c.JSON(http.StatusOK, cand)
}

type bulkReviewRequest struct {
	IDs        []int64  `json:"ids"`
	Decision   Decision `json:"decision"`
	ReviewedBy string   `json:"reviewedBy"`
	Note       string   `json:"note"`
}

// BulkReview applies one decision to many candidates, returning a
// per-item result list.
// POST /api/v1/candidates/review
func (h *Handlers) BulkReview(c echo.Context) error {
	var req bulkReviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.IDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "ids is required")
	}
	if req.Decision != DecisionApprove && req.Decision != DecisionReject {
		return echo.NewHTTPError(http.StatusBadRequest, "decision must be approve or reject")
	}

	results := h.service.BulkReview(c.Request().Context(), req.IDs, req.Decision, req.ReviewedBy, req.Note)
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

// Reset moves a candidate back to pending.
// POST /api/v1/candidates/:id/reset
func (h *Handlers) Reset(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid candidate id")
	}

	cand, err := h.service.Reset(c.Request().Context(), id)
	if err != nil {
		return candidateError(err)
	}
	return c.JSON(http.StatusOK, cand)
}

// candidateError maps workflow errors to HTTP responses. Conflicts prompt
// the client to refresh its view of the candidate.
func candidateError(err error) error {
	var conflict *ConflictError
	var invalid *InvalidTransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &conflict), errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
