// Package inventory implements material stock tracking, the daily demand
// forecast, and procurement order placement with channel fallback.
package inventory

import (
	"time"

	"github.com/google/uuid"
)

// MaterialItem maps to the material_item table. CurrentStock is only mutated
// through atomic adjustments; it can never go negative.
type MaterialItem struct {
	SKU              string    `db:"sku" json:"sku"`
	Name             string    `db:"name" json:"name"`
	CurrentStock     int       `db:"current_stock" json:"current_stock"`
	ReorderThreshold int       `db:"reorder_threshold" json:"reorder_threshold"`
	UnitCost         float64   `db:"unit_cost" json:"unit_cost"`
	SupplierName     string    `db:"supplier_name" json:"supplier_name"`
	LeadTimeDays     int       `db:"lead_time_days" json:"lead_time_days"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Procurement channel methods.
const (
	MethodAutomatedChannel = "automated-channel"
	MethodNotifyChannel    = "notify-channel"
	MethodManualTask       = "manual-task"
)

// Procurement order statuses.
const (
	OrderStatusRequested    = "requested"
	OrderStatusSent         = "sent"
	OrderStatusAcknowledged = "acknowledged"
	OrderStatusFailed       = "failed"
)

// ProcurementOrder maps to the procurement_order table. Immutable once sent
// except for Status.
type ProcurementOrder struct {
	ID                    uuid.UUID `db:"id" json:"id"`
	SKU                   string    `db:"sku" json:"sku"`
	Quantity              int       `db:"quantity" json:"quantity"`
	SupplierName          string    `db:"supplier_name" json:"supplier_name"`
	Method                string    `db:"method" json:"method"`
	EstimatedCost         float64   `db:"estimated_cost" json:"estimated_cost"`
	EstimatedDeliveryDate time.Time `db:"estimated_delivery_date" json:"estimated_delivery_date"`
	Status                string    `db:"status" json:"status"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// ManualTask maps to the procurement_task table: a human-in-the-loop reorder
// used for suppliers without an automatable channel and as the fallback when
// the automated channel fails.
type ManualTask struct {
	ID           uuid.UUID `db:"id" json:"id"`
	SKU          string    `db:"sku" json:"sku"`
	Quantity     int       `db:"quantity" json:"quantity"`
	SupplierName string    `db:"supplier_name" json:"supplier_name"`
	Note         string    `db:"note" json:"note"`
	Status       string    `db:"status" json:"status"` // "open", "completed"
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// PlannedProcedure is the read model of upcoming procedures the forecast
// window queries. Status "planned" means not yet started.
type PlannedProcedure struct {
	ID            uuid.UUID `db:"id" json:"id"`
	CaseID        string    `db:"case_id" json:"case_id"`
	PatientID     string    `db:"patient_id" json:"patient_id"`
	ProcedureType string    `db:"procedure_type" json:"procedure_type"`
	ScheduledAt   time.Time `db:"scheduled_at" json:"scheduled_at"`
	Status        string    `db:"status" json:"status"`
}

// ForecastSummary maps to the forecast_summary table, recorded on every run
// for auditability regardless of whether any order was placed.
type ForecastSummary struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	RanAt               time.Time `db:"ran_at" json:"ran_at"`
	MaterialsAnalyzed   int       `db:"materials_analyzed" json:"materials_analyzed"`
	ShortagesIdentified int       `db:"shortages_identified" json:"shortages_identified"`
	OrdersPlaced        int       `db:"orders_placed" json:"orders_placed"`
	SKUsSkipped         int       `db:"skus_skipped" json:"skus_skipped"`
}

// Supplier is static procurement configuration for one supplier.
type Supplier struct {
	Name                 string `json:"name"`
	Contact              string `json:"contact"`
	Channel              string `json:"channel"` // automated-channel or notify-channel
	MinimumOrderQuantity int    `json:"minimum_order_quantity"`
}

// BOMLine is one material requirement of a procedure type.
type BOMLine struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}
