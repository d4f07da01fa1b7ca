package ledger

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes case timeline queries over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a ledger HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers case query routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/cases/:id/timeline", h.HandleTimeline)
	g.GET("/cases/:id/duration", h.HandleDuration)
	g.GET("/cases/:id/events", h.HandleEvents)
	g.GET("/cases/:id/errors", h.HandleErrors)
}

// HandleTimeline handles GET /cases/:id/timeline.
func (h *Handler) HandleTimeline(c echo.Context) error {
	entries, err := h.svc.Timeline(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if entries == nil {
		entries = []TimelineEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

// HandleDuration handles GET /cases/:id/duration. The duration is null until
// both a start and an end event exist.
func (h *Handler) HandleDuration(c echo.Context) error {
	minutes, err := h.svc.Duration(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]*int64{"duration_minutes": minutes})
}

// HandleEvents handles GET /cases/:id/events.
func (h *Handler) HandleEvents(c echo.Context) error {
	events, err := h.svc.Events(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if events == nil {
		events = []*EventRecord{}
	}
	return c.JSON(http.StatusOK, events)
}

// HandleErrors handles GET /cases/:id/errors.
func (h *Handler) HandleErrors(c echo.Context) error {
	errs, err := h.svc.CaseErrors(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if errs == nil {
		errs = []*CaseError{}
	}
	return c.JSON(http.StatusOK, errs)
}
