package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrForecastRunning is returned when a run is requested while another run is
// still in progress.
var ErrForecastRunning = errors.New("forecast run already in progress")

// EngineOptions tune a forecast Engine.
type EngineOptions struct {
	// WindowDays is the planning horizon for demand. Default 7.
	WindowDays int
	// ConsumptionWindowDays is the trailing window used to derive the daily
	// consumption rate. Default 30.
	ConsumptionWindowDays int
	// RunBudget caps the wall-clock duration of a run. Default 2 minutes.
	RunBudget time.Duration
}

func (o *EngineOptions) fill() {
	if o.WindowDays <= 0 {
		o.WindowDays = 7
	}
	if o.ConsumptionWindowDays <= 0 {
		o.ConsumptionWindowDays = 30
	}
	if o.RunBudget <= 0 {
		o.RunBudget = 2 * time.Minute
	}
}

// Engine runs the demand forecast and places procurement orders. Exactly one
// run may be in progress at a time; the scheduler and the operator trigger
// share the guard.
type Engine struct {
	materials  MaterialRepository
	procedures ProcedureRepository
	orders     OrderRepository
	tasks      TaskRepository
	summaries  SummaryRepository
	bom        *BillOfMaterials
	directory  *SupplierDirectory
	channel    ProcurementChannel
	logger     zerolog.Logger
	opts       EngineOptions

	running atomic.Bool
	now     func() time.Time
}

// NewEngine wires a forecast engine. channel handles suppliers configured for
// the automated method; everything else becomes a manual task.
func NewEngine(
	materials MaterialRepository,
	procedures ProcedureRepository,
	orders OrderRepository,
	tasks TaskRepository,
	summaries SummaryRepository,
	bom *BillOfMaterials,
	directory *SupplierDirectory,
	channel ProcurementChannel,
	logger zerolog.Logger,
	opts EngineOptions,
) *Engine {
	opts.fill()
	return &Engine{
		materials:  materials,
		procedures: procedures,
		orders:     orders,
		tasks:      tasks,
		summaries:  summaries,
		bom:        bom,
		directory:  directory,
		channel:    channel,
		logger:     logger.With().Str("component", "forecast").Logger(),
		opts:       opts,
		now:        time.Now,
	}
}

// Run executes one forecast pass. It analyzes every known material, places
// orders for shortages, and records a summary even when nothing is ordered.
// A second concurrent call fails fast with ErrForecastRunning.
func (e *Engine) Run(ctx context.Context) (*ForecastSummary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrForecastRunning
	}
	defer e.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, e.opts.RunBudget)
	defer cancel()

	start := e.now().UTC()
	e.logger.Info().Int("window_days", e.opts.WindowDays).Msg("forecast run started")

	procs, err := e.procedures.ListPlanned(ctx, start, start.AddDate(0, 0, e.opts.WindowDays))
	if err != nil {
		return nil, fmt.Errorf("list planned procedures: %w", err)
	}
	required := e.bom.RequiredFor(procs)

	items, err := e.materials.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}

	summary := &ForecastSummary{RanAt: start}
	for _, item := range items {
		if ctx.Err() != nil {
			e.logger.Warn().Int("remaining", len(items)-summary.MaterialsAnalyzed-summary.SKUsSkipped).Msg("run budget exhausted")
			break
		}
		shortage, ordered, err := e.analyzeMaterial(ctx, item, required[item.SKU])
		if err != nil {
			// One bad sku must not starve the rest of the run.
			e.logger.Error().Err(err).Str("sku", item.SKU).Msg("sku analysis failed, skipping")
			summary.SKUsSkipped++
			continue
		}
		summary.MaterialsAnalyzed++
		if shortage {
			summary.ShortagesIdentified++
		}
		if ordered {
			summary.OrdersPlaced++
		}
	}

	if err := e.summaries.Record(ctx, summary); err != nil {
		e.logger.Error().Err(err).Msg("failed to record forecast summary")
	}
	e.logger.Info().
		Int("materials_analyzed", summary.MaterialsAnalyzed).
		Int("shortages", summary.ShortagesIdentified).
		Int("orders_placed", summary.OrdersPlaced).
		Int("skus_skipped", summary.SKUsSkipped).
		Dur("elapsed", e.now().UTC().Sub(start)).
		Msg("forecast run finished")
	return summary, nil
}

// analyzeMaterial decides whether one sku is short and, if so, orders it.
func (e *Engine) analyzeMaterial(ctx context.Context, item *MaterialItem, requiredQty int) (shortage, ordered bool, err error) {
	rate, err := e.materials.DailyConsumptionRate(ctx, item.SKU, e.opts.ConsumptionWindowDays)
	if err != nil {
		return false, false, fmt.Errorf("consumption rate: %w", err)
	}

	// Safety stock covers the supplier lead time plus a two-day margin.
	safetyStock := int(math.Ceil(rate * float64(item.LeadTimeDays+2)))
	totalNeeded := requiredQty + safetyStock
	if item.CurrentStock >= totalNeeded {
		return false, false, nil
	}

	supplier, ok := e.directory.Lookup(item.SupplierName)
	if !ok {
		return true, false, fmt.Errorf("supplier %s not registered", item.SupplierName)
	}

	orderQty := totalNeeded - item.CurrentStock
	if orderQty < supplier.MinimumOrderQuantity {
		orderQty = supplier.MinimumOrderQuantity
	}

	placed, err := e.placeOrder(ctx, item, supplier, orderQty)
	if err != nil {
		return true, false, err
	}
	return true, placed, nil
}

// placeOrder persists the order, pushes it through the supplier's channel,
// and degrades to a manual task when the channel fails or the supplier has
// none. placed reports whether the order actually went out through an
// automated channel; manual-task degradations return false.
func (e *Engine) placeOrder(ctx context.Context, item *MaterialItem, supplier Supplier, qty int) (placed bool, err error) {
	order := &ProcurementOrder{
		ID:                    uuid.New(),
		SKU:                   item.SKU,
		Quantity:              qty,
		SupplierName:          supplier.Name,
		Method:                supplier.Channel,
		EstimatedCost:         float64(qty) * item.UnitCost,
		EstimatedDeliveryDate: e.now().UTC().AddDate(0, 0, item.LeadTimeDays),
		Status:                OrderStatusRequested,
	}

	if supplier.Channel != MethodAutomatedChannel {
		order.Method = MethodManualTask
		if err := e.orders.Create(ctx, order); err != nil {
			return false, fmt.Errorf("create order: %w", err)
		}
		return false, e.openTask(ctx, order, "supplier has no automated ordering channel")
	}

	if err := e.orders.Create(ctx, order); err != nil {
		return false, fmt.Errorf("create order: %w", err)
	}

	req := OrderRequest{
		OrderID:               order.ID.String(),
		SKU:                   item.SKU,
		MaterialName:          item.Name,
		Quantity:              qty,
		SupplierName:          supplier.Name,
		EstimatedCost:         order.EstimatedCost,
		EstimatedDeliveryDate: order.EstimatedDeliveryDate,
	}
	if err := e.channel.PlaceOrder(ctx, req); err != nil {
		e.logger.Warn().Err(err).Str("sku", item.SKU).Str("supplier", supplier.Name).Msg("automated channel failed, opening manual task")
		if serr := e.orders.SetStatus(ctx, order.ID, OrderStatusFailed); serr != nil {
			e.logger.Error().Err(serr).Str("order_id", order.ID.String()).Msg("failed to mark order failed")
		}
		return false, e.openTask(ctx, order, fmt.Sprintf("automated channel failed: %v", err))
	}

	if err := e.orders.SetStatus(ctx, order.ID, OrderStatusSent); err != nil {
		e.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to mark order sent")
	}
	return true, nil
}

func (e *Engine) openTask(ctx context.Context, order *ProcurementOrder, note string) error {
	task := &ManualTask{
		SKU:          order.SKU,
		Quantity:     order.Quantity,
		SupplierName: order.SupplierName,
		Note:         note,
		Status:       "open",
	}
	if err := e.tasks.Create(ctx, task); err != nil {
		return fmt.Errorf("create manual task: %w", err)
	}
	e.logger.Info().Str("sku", order.SKU).Int("quantity", order.Quantity).Msg("manual procurement task opened")
	return nil
}

// RecordDelivery increments stock for a received order quantity and marks the
// order acknowledged.
func (e *Engine) RecordDelivery(ctx context.Context, orderID uuid.UUID, sku string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("delivery quantity must be positive, got %d", quantity)
	}
	if err := e.materials.AdjustStock(ctx, sku, quantity); err != nil {
		return fmt.Errorf("adjust stock for %s: %w", sku, err)
	}
	if orderID != uuid.Nil {
		if err := e.orders.SetStatus(ctx, orderID, OrderStatusAcknowledged); err != nil {
			e.logger.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to acknowledge order")
		}
	}
	return nil
}

// Running reports whether a forecast pass is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}
