package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is a thread-safe in-memory Repository used by tests and by the
// hub's unit wiring. Semantics match the Postgres repo: per-case gap-free
// sequence assignment and append-only storage.
type MemoryRepo struct {
	mu     sync.Mutex
	byCase map[string][]*EventRecord
}

// NewMemoryRepo creates an empty in-memory ledger repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byCase: make(map[string][]*EventRecord)}
}

func (m *MemoryRepo) Append(_ context.Context, r *EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.SequenceNumber = int64(len(m.byCase[r.CaseID])) + 1
	r.CreatedAt = time.Now().UTC()

	stored := *r
	m.byCase[r.CaseID] = append(m.byCase[r.CaseID], &stored)
	return nil
}

func (m *MemoryRepo) ListByCase(_ context.Context, caseID string) ([]*EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.byCase[caseID]
	out := make([]*EventRecord, len(events))
	for i, e := range events {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryRepo) MarkProcessed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, events := range m.byCase {
		for _, e := range events {
			if e.ID == id {
				e.Processed = true
				return nil
			}
		}
	}
	return fmt.Errorf("event %s not found", id)
}

// MemoryErrorRepo is a thread-safe in-memory ErrorRepository.
type MemoryErrorRepo struct {
	mu     sync.Mutex
	byCase map[string][]*CaseError
}

// NewMemoryErrorRepo creates an empty in-memory error repository.
func NewMemoryErrorRepo() *MemoryErrorRepo {
	return &MemoryErrorRepo{byCase: make(map[string][]*CaseError)}
}

func (m *MemoryErrorRepo) Record(_ context.Context, e *CaseError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	stored := *e
	m.byCase[e.CaseID] = append(m.byCase[e.CaseID], &stored)
	return nil
}

func (m *MemoryErrorRepo) ListByCase(_ context.Context, caseID string) ([]*CaseError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	errs := m.byCase[caseID]
	out := make([]*CaseError, len(errs))
	copy(out, errs)
	return out, nil
}
