package hub

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opsbridge/opsbridge/internal/event"
)

// Handler exposes server-side event submission for producers that are not on
// a WebSocket connection (batch importers, integration tests, gateways).
type Handler struct {
	hub *Hub
}

// NewHandler creates a hub HTTP handler.
func NewHandler(h *Hub) *Handler {
	return &Handler{hub: h}
}

// RegisterRoutes registers event submission routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/events", h.HandleSubmit)
	g.GET("/connections/stats", h.HandleStats)
}

// submitRequest is the JSON body for POST /events.
type submitRequest struct {
	From event.Role `json:"from"`
	event.Submission
}

// HandleSubmit handles POST /events. Validation failures return 422 with
// accepted=false; storage failures return 503 so the producer retries.
func (h *Handler) HandleSubmit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if !req.From.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown role"})
	}

	res, err := h.hub.Ingest(c.Request().Context(), req.From, &req.Submission)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	if !res.Accepted {
		return c.JSON(http.StatusUnprocessableEntity, res)
	}
	return c.JSON(http.StatusCreated, res)
}

// HandleStats handles GET /connections/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{
		"total":                h.hub.registry.Count(),
		"clinician":            h.hub.registry.CountByRole(event.RoleClinician),
		"laboratory":           h.hub.registry.CountByRole(event.RoleLaboratory),
		"executive":            h.hub.registry.CountByRole(event.RoleExecutive),
		"patient-notification": h.hub.registry.CountByRole(event.RolePatientNotification),
	})
}
