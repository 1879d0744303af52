package rules

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mchestr/plex-wrapped-sub007/internal/media"
)

// Handlers provides HTTP handlers for rule operations.
type Handlers struct {
	service *Service
}

// NewHandlers creates a new rules handlers instance.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers rule routes on an Echo group.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.POST("/validate", h.ValidateTree)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}

// List returns all rules.
// GET /api/v1/rules
func (h *Handlers) List(c echo.Context) error {
	result, err := h.service.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// Create creates a new rule.
// POST /api/v1/rules
func (h *Handlers) Create(c echo.Context) error {
	var input CreateInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rule, err := h.service.Create(c.Request().Context(), input)
	if err != nil {
		return ruleError(c, err)
	}
	return c.JSON(http.StatusCreated, rule)
}

// ValidateTree validates a condition tree without persisting anything.
// POST /api/v1/rules/validate
func (h *Handlers) ValidateTree(c echo.Context) error {
	var input struct {
		MediaType string `json:"mediaType"`
		Criteria  *Node  `json:"criteria"`
	}
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	errs := Validate(input.Criteria, media.Type(input.MediaType))
	return c.JSON(http.StatusOK, map[string]any{
		"valid":  len(errs) == 0,
		"errors": errs,
	})
}

// Get returns one rule.
// GET /api/v1/rules/:id
func (h *Handlers) Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rule id")
	}

	rule, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return ruleError(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// Update updates a rule.
// PUT /api/v1/rules/:id
func (h *Handlers) Update(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rule id")
	}

	var input UpdateInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rule, err := h.service.Update(c.Request().Context(), id, input)
	if err != nil {
		return ruleError(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// Delete removes a rule.
// DELETE /api/v1/rules/:id
func (h *Handlers) Delete(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rule id")
	}

	if err := h.service.Delete(c.Request().Context(), id); err != nil {
		return ruleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ruleError maps service errors to HTTP responses. Validation errors carry
// the offending node paths so the rule builder can point at them.
func ruleError(c echo.Context, err error) error {
	var verrs ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return c.JSON(http.StatusBadRequest, map[string]any{
			"message": "rule validation failed",
			"errors":  verrs,
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNameTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
