package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a thread-safe in-memory implementation of every inventory
// repository, used by tests and local development. Semantics match the
// Postgres repos, including atomic guarded stock adjustment and idempotent
// consumption.
type MemoryStore struct {
	mu           sync.Mutex
	materials    map[string]*MaterialItem
	consumptions map[string]consumption
	procedures   map[uuid.UUID]*PlannedProcedure
	orders       map[uuid.UUID]*ProcurementOrder
	orderSeq     []uuid.UUID
	tasks        map[uuid.UUID]*ManualTask
	taskSeq      []uuid.UUID
	summaries    []*ForecastSummary
}

type consumption struct {
	sku        string
	quantity   int
	consumedAt time.Time
}

// NewMemoryStore creates an empty in-memory inventory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		materials:    make(map[string]*MaterialItem),
		consumptions: make(map[string]consumption),
		procedures:   make(map[uuid.UUID]*PlannedProcedure),
		orders:       make(map[uuid.UUID]*ProcurementOrder),
		tasks:        make(map[uuid.UUID]*ManualTask),
	}
}

// ---- MaterialRepository ----

func (s *MemoryStore) GetBySKU(_ context.Context, sku string) (*MaterialItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.materials[sku]
	if !ok {
		return nil, fmt.Errorf("material %s not found", sku)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*MaterialItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	skus := make([]string, 0, len(s.materials))
	for sku := range s.materials {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	items := make([]*MaterialItem, 0, len(skus))
	for _, sku := range skus {
		cp := *s.materials[sku]
		items = append(items, &cp)
	}
	return items, nil
}

func (s *MemoryStore) Upsert(_ context.Context, m *MaterialItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.UpdatedAt = time.Now().UTC()
	s.materials[m.SKU] = &cp
	return nil
}

func (s *MemoryStore) AdjustStock(_ context.Context, sku string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustLocked(sku, delta)
}

func (s *MemoryStore) adjustLocked(sku string, delta int) error {
	m, ok := s.materials[sku]
	if !ok {
		return fmt.Errorf("material %s not found", sku)
	}
	if m.CurrentStock+delta < 0 {
		return ErrInsufficientStock
	}
	m.CurrentStock += delta
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, key, _ string, sku string, quantity int, occurredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.consumptions[key]; seen {
		return nil
	}
	if err := s.adjustLocked(sku, -quantity); err != nil {
		return err
	}
	s.consumptions[key] = consumption{sku: sku, quantity: quantity, consumedAt: occurredAt}
	return nil
}

func (s *MemoryStore) DailyConsumptionRate(_ context.Context, sku string, windowDays int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if windowDays <= 0 {
		windowDays = 1
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)
	total := 0
	for _, c := range s.consumptions {
		if c.sku == sku && c.consumedAt.After(cutoff) {
			total += c.quantity
		}
	}
	return float64(total) / float64(windowDays), nil
}

// ---- ProcedureRepository ----

func (s *MemoryStore) Create(_ context.Context, p *PlannedProcedure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = "planned"
	}
	cp := *p
	s.procedures[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ListPlanned(_ context.Context, from, to time.Time) ([]*PlannedProcedure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var procs []*PlannedProcedure
	for _, p := range s.procedures {
		if p.Status == "planned" && !p.ScheduledAt.Before(from) && p.ScheduledAt.Before(to) {
			cp := *p
			procs = append(procs, &cp)
		}
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].ScheduledAt.Before(procs[j].ScheduledAt) })
	return procs, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, caseID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.procedures {
		if p.CaseID == caseID {
			p.Status = status
		}
	}
	return nil
}

// ---- OrderRepository ----

func (s *MemoryStore) CreateOrder(_ context.Context, o *ProcurementOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	s.orders[o.ID] = &cp
	s.orderSeq = append(s.orderSeq, o.ID)
	return nil
}

func (s *MemoryStore) SetOrderStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s not found", id)
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListOrders(_ context.Context, limit, offset int) ([]*ProcurementOrder, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.orderSeq)
	if offset >= total {
		return []*ProcurementOrder{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	var orders []*ProcurementOrder
	for _, id := range s.orderSeq[offset:end] {
		cp := *s.orders[id]
		orders = append(orders, &cp)
	}
	return orders, total, nil
}

// ---- TaskRepository ----

func (s *MemoryStore) CreateTask(_ context.Context, t *ManualTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = "open"
	}
	t.CreatedAt = time.Now().UTC()
	cp := *t
	s.tasks[t.ID] = &cp
	s.taskSeq = append(s.taskSeq, t.ID)
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	t.Status = "completed"
	return nil
}

func (s *MemoryStore) ListOpen(_ context.Context) ([]*ManualTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*ManualTask
	for _, id := range s.taskSeq {
		if t := s.tasks[id]; t.Status == "open" {
			cp := *t
			tasks = append(tasks, &cp)
		}
	}
	return tasks, nil
}

// ---- SummaryRepository ----

func (s *MemoryStore) Record(_ context.Context, sum *ForecastSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sum.ID == uuid.Nil {
		sum.ID = uuid.New()
	}
	if sum.RanAt.IsZero() {
		sum.RanAt = time.Now().UTC()
	}
	cp := *sum
	s.summaries = append(s.summaries, &cp)
	return nil
}

func (s *MemoryStore) ListSummaries(_ context.Context, limit int) ([]*ForecastSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.summaries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*ForecastSummary, 0, n)
	for i := len(s.summaries) - 1; i >= 0 && len(out) < n; i-- {
		cp := *s.summaries[i]
		out = append(out, &cp)
	}
	return out, nil
}

// Typed views so one MemoryStore can satisfy the individual repository
// interfaces despite overlapping method names.

// Orders returns the store's OrderRepository view.
func (s *MemoryStore) Orders() OrderRepository { return ordersView{s} }

// Tasks returns the store's TaskRepository view.
func (s *MemoryStore) Tasks() TaskRepository { return tasksView{s} }

// Summaries returns the store's SummaryRepository view.
func (s *MemoryStore) Summaries() SummaryRepository { return summariesView{s} }

type ordersView struct{ s *MemoryStore }

func (v ordersView) Create(ctx context.Context, o *ProcurementOrder) error {
	return v.s.CreateOrder(ctx, o)
}
func (v ordersView) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	return v.s.SetOrderStatus(ctx, id, status)
}
func (v ordersView) List(ctx context.Context, limit, offset int) ([]*ProcurementOrder, int, error) {
	return v.s.ListOrders(ctx, limit, offset)
}

type tasksView struct{ s *MemoryStore }

func (v tasksView) Create(ctx context.Context, t *ManualTask) error { return v.s.CreateTask(ctx, t) }
func (v tasksView) Complete(ctx context.Context, id uuid.UUID) error {
	return v.s.Complete(ctx, id)
}
func (v tasksView) ListOpen(ctx context.Context) ([]*ManualTask, error) { return v.s.ListOpen(ctx) }

type summariesView struct{ s *MemoryStore }

func (v summariesView) Record(ctx context.Context, sum *ForecastSummary) error {
	return v.s.Record(ctx, sum)
}
func (v summariesView) List(ctx context.Context, limit int) ([]*ForecastSummary, error) {
	return v.s.ListSummaries(ctx, limit)
}
