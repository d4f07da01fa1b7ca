package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ---- Material repo ----

type materialRepoPG struct{ pool *pgxpool.Pool }

// NewMaterialRepoPG returns a Postgres-backed material repository.
func NewMaterialRepoPG(pool *pgxpool.Pool) MaterialRepository {
	return &materialRepoPG{pool: pool}
}

const materialCols = `sku, name, current_stock, reorder_threshold, unit_cost,
	supplier_name, lead_time_days, updated_at`

func scanMaterial(row pgx.Row) (*MaterialItem, error) {
	var m MaterialItem
	err := row.Scan(&m.SKU, &m.Name, &m.CurrentStock, &m.ReorderThreshold,
		&m.UnitCost, &m.SupplierName, &m.LeadTimeDays, &m.UpdatedAt)
	return &m, err
}

func (r *materialRepoPG) GetBySKU(ctx context.Context, sku string) (*MaterialItem, error) {
	return scanMaterial(r.pool.QueryRow(ctx,
		`SELECT `+materialCols+` FROM material_item WHERE sku = $1`, sku))
}

func (r *materialRepoPG) List(ctx context.Context) ([]*MaterialItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+materialCols+` FROM material_item ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*MaterialItem
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *materialRepoPG) Upsert(ctx context.Context, m *MaterialItem) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO material_item (sku, name, current_stock, reorder_threshold,
			unit_cost, supplier_name, lead_time_days)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (sku) DO UPDATE SET name = EXCLUDED.name,
			reorder_threshold = EXCLUDED.reorder_threshold,
			unit_cost = EXCLUDED.unit_cost,
			supplier_name = EXCLUDED.supplier_name,
			lead_time_days = EXCLUDED.lead_time_days,
			updated_at = NOW()`,
		m.SKU, m.Name, m.CurrentStock, m.ReorderThreshold,
		m.UnitCost, m.SupplierName, m.LeadTimeDays)
	return err
}

// AdjustStock applies the delta in a single guarded UPDATE so concurrent
// adjustments never lose updates or drive stock negative.
func (r *materialRepoPG) AdjustStock(ctx context.Context, sku string, delta int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE material_item
		SET current_stock = current_stock + $2, updated_at = NOW()
		WHERE sku = $1 AND current_stock + $2 >= 0`, sku, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientStock
	}
	return nil
}

// Consume records the consumption under its idempotency key and decrements
// stock only when the key is new, in one transaction. A replayed event is a
// no-op for stock.
func (r *materialRepoPG) Consume(ctx context.Context, key, caseID, sku string, quantity int, occurredAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO material_consumption (idempotency_key, case_id, sku, quantity, consumed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		key, caseID, sku, quantity, occurredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil // already consumed
	}

	tag, err = tx.Exec(ctx, `
		UPDATE material_item
		SET current_stock = current_stock - $2, updated_at = NOW()
		WHERE sku = $1 AND current_stock - $2 >= 0`, sku, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientStock
	}

	return tx.Commit(ctx)
}

func (r *materialRepoPG) DailyConsumptionRate(ctx context.Context, sku string, windowDays int) (float64, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM material_consumption
		WHERE sku = $1 AND consumed_at > NOW() - make_interval(days => $2)`,
		sku, windowDays).Scan(&total)
	if err != nil {
		return 0, err
	}
	if windowDays <= 0 {
		windowDays = 1
	}
	return float64(total) / float64(windowDays), nil
}

// ---- Planned procedure repo ----

type procedureRepoPG struct{ pool *pgxpool.Pool }

// NewProcedureRepoPG returns a Postgres-backed planned-procedure repository.
func NewProcedureRepoPG(pool *pgxpool.Pool) ProcedureRepository {
	return &procedureRepoPG{pool: pool}
}

func (r *procedureRepoPG) Create(ctx context.Context, p *PlannedProcedure) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = "planned"
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO planned_procedure (id, case_id, patient_id, procedure_type, scheduled_at, status)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.CaseID, p.PatientID, p.ProcedureType, p.ScheduledAt, p.Status)
	return err
}

func (r *procedureRepoPG) ListPlanned(ctx context.Context, from, to time.Time) ([]*PlannedProcedure, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, case_id, patient_id, procedure_type, scheduled_at, status
		FROM planned_procedure
		WHERE status = 'planned' AND scheduled_at >= $1 AND scheduled_at < $2
		ORDER BY scheduled_at`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var procs []*PlannedProcedure
	for rows.Next() {
		var p PlannedProcedure
		if err := rows.Scan(&p.ID, &p.CaseID, &p.PatientID, &p.ProcedureType, &p.ScheduledAt, &p.Status); err != nil {
			return nil, err
		}
		procs = append(procs, &p)
	}
	return procs, rows.Err()
}

func (r *procedureRepoPG) SetStatus(ctx context.Context, caseID, status string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE planned_procedure SET status = $2 WHERE case_id = $1`, caseID, status)
	return err
}

// ---- Order repo ----

type orderRepoPG struct{ pool *pgxpool.Pool }

// NewOrderRepoPG returns a Postgres-backed procurement order repository.
func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) Create(ctx context.Context, o *ProcurementOrder) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO procurement_order (id, sku, quantity, supplier_name, method,
			estimated_cost, estimated_delivery_date, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.SKU, o.Quantity, o.SupplierName, o.Method,
		o.EstimatedCost, o.EstimatedDeliveryDate, o.Status)
	return err
}

func (r *orderRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE procurement_order SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

func (r *orderRepoPG) List(ctx context.Context, limit, offset int) ([]*ProcurementOrder, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM procurement_order`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, sku, quantity, supplier_name, method, estimated_cost,
			estimated_delivery_date, status, created_at, updated_at
		FROM procurement_order ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []*ProcurementOrder
	for rows.Next() {
		var o ProcurementOrder
		if err := rows.Scan(&o.ID, &o.SKU, &o.Quantity, &o.SupplierName, &o.Method,
			&o.EstimatedCost, &o.EstimatedDeliveryDate, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, 0, err
		}
		orders = append(orders, &o)
	}
	return orders, total, rows.Err()
}

// ---- Manual task repo ----

type taskRepoPG struct{ pool *pgxpool.Pool }

// NewTaskRepoPG returns a Postgres-backed manual task repository.
func NewTaskRepoPG(pool *pgxpool.Pool) TaskRepository {
	return &taskRepoPG{pool: pool}
}

func (r *taskRepoPG) Create(ctx context.Context, t *ManualTask) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = "open"
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO procurement_task (id, sku, quantity, supplier_name, note, status)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		t.ID, t.SKU, t.Quantity, t.SupplierName, t.Note, t.Status)
	return err
}

func (r *taskRepoPG) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE procurement_task SET status = 'completed' WHERE id = $1`, id)
	return err
}

func (r *taskRepoPG) ListOpen(ctx context.Context) ([]*ManualTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, sku, quantity, supplier_name, note, status, created_at
		FROM procurement_task WHERE status = 'open' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*ManualTask
	for rows.Next() {
		var t ManualTask
		if err := rows.Scan(&t.ID, &t.SKU, &t.Quantity, &t.SupplierName, &t.Note, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// ---- Forecast summary repo ----

type summaryRepoPG struct{ pool *pgxpool.Pool }

// NewSummaryRepoPG returns a Postgres-backed forecast summary repository.
func NewSummaryRepoPG(pool *pgxpool.Pool) SummaryRepository {
	return &summaryRepoPG{pool: pool}
}

func (r *summaryRepoPG) Record(ctx context.Context, s *ForecastSummary) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.RanAt.IsZero() {
		s.RanAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO forecast_summary (id, ran_at, materials_analyzed,
			shortages_identified, orders_placed, skus_skipped)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		s.ID, s.RanAt, s.MaterialsAnalyzed, s.ShortagesIdentified, s.OrdersPlaced, s.SKUsSkipped)
	return err
}

func (r *summaryRepoPG) List(ctx context.Context, limit int) ([]*ForecastSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, ran_at, materials_analyzed, shortages_identified, orders_placed, skus_skipped
		FROM forecast_summary ORDER BY ran_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*ForecastSummary
	for rows.Next() {
		var s ForecastSummary
		if err := rows.Scan(&s.ID, &s.RanAt, &s.MaterialsAnalyzed, &s.ShortagesIdentified, &s.OrdersPlaced, &s.SKUsSkipped); err != nil {
			return nil, err
		}
		summaries = append(summaries, &s)
	}
	return summaries, rows.Err()
}
