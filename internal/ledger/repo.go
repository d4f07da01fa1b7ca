package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence contract for the procedure event ledger.
// Append must assign r.SequenceNumber = count(case)+1 atomically with the
// insert; implementations serialize appends for the same case.
type Repository interface {
	Append(ctx context.Context, r *EventRecord) error
	ListByCase(ctx context.Context, caseID string) ([]*EventRecord, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
}

// ErrorRepository stores ledger-adjacent error records.
type ErrorRepository interface {
	Record(ctx context.Context, e *CaseError) error
	ListByCase(ctx context.Context, caseID string) ([]*CaseError, error)
}
