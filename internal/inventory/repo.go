package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInsufficientStock is returned when an adjustment would drive stock
// below zero.
var ErrInsufficientStock = errors.New("insufficient stock")

// MaterialRepository is the persistence contract for material stock. Stock
// mutations are atomic at the store: never read-modify-write at the
// application layer.
type MaterialRepository interface {
	GetBySKU(ctx context.Context, sku string) (*MaterialItem, error)
	List(ctx context.Context) ([]*MaterialItem, error)
	Upsert(ctx context.Context, m *MaterialItem) error
	// AdjustStock atomically applies delta (positive or negative) and fails
	// with ErrInsufficientStock if the result would be negative.
	AdjustStock(ctx context.Context, sku string, delta int) error
	// Consume decrements stock for a clinical consumption exactly once per
	// idempotency key; a replayed key is a no-op.
	Consume(ctx context.Context, key, caseID, sku string, quantity int, occurredAt time.Time) error
	// DailyConsumptionRate averages consumption per day over the trailing
	// window.
	DailyConsumptionRate(ctx context.Context, sku string, windowDays int) (float64, error)
}

// ProcedureRepository reads the planned-procedure window the forecast
// consumes.
type ProcedureRepository interface {
	Create(ctx context.Context, p *PlannedProcedure) error
	ListPlanned(ctx context.Context, from, to time.Time) ([]*PlannedProcedure, error)
	SetStatus(ctx context.Context, caseID, status string) error
}

// OrderRepository stores procurement orders.
type OrderRepository interface {
	Create(ctx context.Context, o *ProcurementOrder) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	List(ctx context.Context, limit, offset int) ([]*ProcurementOrder, int, error)
}

// TaskRepository stores manual procurement tasks.
type TaskRepository interface {
	Create(ctx context.Context, t *ManualTask) error
	Complete(ctx context.Context, id uuid.UUID) error
	ListOpen(ctx context.Context) ([]*ManualTask, error)
}

// SummaryRepository stores forecast run summaries.
type SummaryRepository interface {
	Record(ctx context.Context, s *ForecastSummary) error
	List(ctx context.Context, limit int) ([]*ForecastSummary, error)
}
