package inventory

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Handler exposes inventory and procurement operations over HTTP.
type Handler struct {
	engine     *Engine
	materials  MaterialRepository
	procedures ProcedureRepository
	orders     OrderRepository
	tasks      TaskRepository
	summaries  SummaryRepository
	logger     zerolog.Logger
}

// NewHandler creates the inventory HTTP handler.
func NewHandler(
	engine *Engine,
	materials MaterialRepository,
	procedures ProcedureRepository,
	orders OrderRepository,
	tasks TaskRepository,
	summaries SummaryRepository,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		engine:     engine,
		materials:  materials,
		procedures: procedures,
		orders:     orders,
		tasks:      tasks,
		summaries:  summaries,
		logger:     logger.With().Str("component", "inventory-handler").Logger(),
	}
}

// RegisterRoutes registers inventory routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/materials", h.HandleListMaterials)
	g.PUT("/materials/:sku", h.HandleUpsertMaterial)
	g.POST("/materials/:sku/delivery", h.HandleDelivery)
	g.POST("/procedures", h.HandleCreateProcedure)
	g.GET("/orders", h.HandleListOrders)
	g.GET("/tasks", h.HandleListTasks)
	g.POST("/tasks/:id/complete", h.HandleCompleteTask)
	g.POST("/forecast/run", h.HandleRunForecast)
	g.GET("/forecast/summaries", h.HandleListSummaries)
}

// HandleListMaterials handles GET /materials.
func (h *Handler) HandleListMaterials(c echo.Context) error {
	items, err := h.materials.List(c.Request().Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list materials")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list materials"})
	}
	return c.JSON(http.StatusOK, items)
}

// HandleUpsertMaterial handles PUT /materials/:sku.
func (h *Handler) HandleUpsertMaterial(c echo.Context) error {
	var m MaterialItem
	if err := c.Bind(&m); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	m.SKU = c.Param("sku")
	if m.SKU == "" || m.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "sku and name are required"})
	}
	if err := h.materials.Upsert(c.Request().Context(), &m); err != nil {
		h.logger.Error().Err(err).Str("sku", m.SKU).Msg("failed to upsert material")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save material"})
	}
	return c.JSON(http.StatusOK, m)
}

// deliveryRequest is the JSON body for POST /materials/:sku/delivery.
type deliveryRequest struct {
	OrderID  string `json:"order_id"`
	Quantity int    `json:"quantity"`
}

// HandleDelivery handles POST /materials/:sku/delivery. Stock goes up by the
// received quantity; the referenced order, if any, is acknowledged.
func (h *Handler) HandleDelivery(c echo.Context) error {
	var req deliveryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Quantity <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "quantity must be positive"})
	}

	orderID := uuid.Nil
	if req.OrderID != "" {
		id, err := uuid.Parse(req.OrderID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid order_id"})
		}
		orderID = id
	}

	if err := h.engine.RecordDelivery(c.Request().Context(), orderID, c.Param("sku"), req.Quantity); err != nil {
		h.logger.Error().Err(err).Str("sku", c.Param("sku")).Msg("failed to record delivery")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to record delivery"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "recorded"})
}

// procedureRequest is the JSON body for POST /procedures.
type procedureRequest struct {
	CaseID        string    `json:"case_id"`
	PatientID     string    `json:"patient_id"`
	ProcedureType string    `json:"procedure_type"`
	ScheduledAt   time.Time `json:"scheduled_at"`
}

// HandleCreateProcedure handles POST /procedures.
func (h *Handler) HandleCreateProcedure(c echo.Context) error {
	var req procedureRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.CaseID == "" || req.ProcedureType == "" || req.ScheduledAt.IsZero() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "case_id, procedure_type and scheduled_at are required"})
	}

	p := &PlannedProcedure{
		ID:            uuid.New(),
		CaseID:        req.CaseID,
		PatientID:     req.PatientID,
		ProcedureType: req.ProcedureType,
		ScheduledAt:   req.ScheduledAt,
		Status:        "planned",
	}
	if err := h.procedures.Create(c.Request().Context(), p); err != nil {
		h.logger.Error().Err(err).Str("case_id", req.CaseID).Msg("failed to create planned procedure")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create procedure"})
	}
	return c.JSON(http.StatusCreated, p)
}

// HandleListOrders handles GET /orders with limit/offset pagination.
func (h *Handler) HandleListOrders(c echo.Context) error {
	limit, offset := paginationParams(c)
	orders, total, err := h.orders.List(c.Request().Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list orders")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list orders"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"orders": orders,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// HandleListTasks handles GET /tasks (open manual procurement tasks).
func (h *Handler) HandleListTasks(c echo.Context) error {
	tasks, err := h.tasks.ListOpen(c.Request().Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list tasks")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list tasks"})
	}
	return c.JSON(http.StatusOK, tasks)
}

// HandleCompleteTask handles POST /tasks/:id/complete.
func (h *Handler) HandleCompleteTask(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid task id"})
	}
	if err := h.tasks.Complete(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "completed"})
}

// HandleRunForecast handles POST /forecast/run, the operator trigger. A run
// already in progress answers 409.
func (h *Handler) HandleRunForecast(c echo.Context) error {
	summary, err := h.engine.Run(c.Request().Context())
	if err != nil {
		if errors.Is(err, ErrForecastRunning) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "forecast run already in progress"})
		}
		h.logger.Error().Err(err).Msg("forecast run failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "forecast run failed"})
	}
	return c.JSON(http.StatusOK, summary)
}

// HandleListSummaries handles GET /forecast/summaries.
func (h *Handler) HandleListSummaries(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	summaries, err := h.summaries.List(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list summaries")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list summaries"})
	}
	return c.JSON(http.StatusOK, summaries)
}

func paginationParams(c echo.Context) (limit, offset int) {
	limit, offset = 50, 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
