package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Postgres-backed ledger repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const eventCols = `id, case_id, patient_id, event_type, payload,
	event_timestamp, sequence_number, processed, created_at`

func scanEvent(row pgx.Row) (*EventRecord, error) {
	var r EventRecord
	err := row.Scan(&r.ID, &r.CaseID, &r.PatientID, &r.EventType, &r.Payload,
		&r.Timestamp, &r.SequenceNumber, &r.Processed, &r.CreatedAt)
	return &r, err
}

// Append inserts the record with sequence_number = max(case)+1. A transaction-
// scoped advisory lock on the case id serializes concurrent appenders for the
// same case; the unique (case_id, sequence_number) constraint backstops it.
func (p *repoPG) Append(ctx context.Context, r *EventRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r.CaseID); err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO procedure_event (id, case_id, patient_id, event_type, payload,
			event_timestamp, sequence_number)
		SELECT $1, $2, $3, $4, $5, $6, COALESCE(MAX(sequence_number), 0) + 1
		FROM procedure_event WHERE case_id = $2
		RETURNING sequence_number, created_at`,
		r.ID, r.CaseID, r.PatientID, r.EventType, r.Payload, r.Timestamp,
	).Scan(&r.SequenceNumber, &r.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (p *repoPG) ListByCase(ctx context.Context, caseID string) ([]*EventRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+eventCols+`
		FROM procedure_event WHERE case_id = $1 ORDER BY sequence_number`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		r, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, r)
	}
	return events, rows.Err()
}

func (p *repoPG) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `UPDATE procedure_event SET processed = TRUE WHERE id = $1`, id)
	return err
}

// ---- CaseError repo ----

type errorRepoPG struct{ pool *pgxpool.Pool }

// NewErrorRepoPG returns a Postgres-backed case error repository.
func NewErrorRepoPG(pool *pgxpool.Pool) ErrorRepository {
	return &errorRepoPG{pool: pool}
}

func (p *errorRepoPG) Record(ctx context.Context, e *CaseError) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO case_error (id, case_id, source, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.CaseID, e.Source, e.Message, e.CreatedAt)
	return err
}

func (p *errorRepoPG) ListByCase(ctx context.Context, caseID string) ([]*CaseError, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, case_id, source, message, created_at
		FROM case_error WHERE case_id = $1 ORDER BY created_at`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errs []*CaseError
	for rows.Next() {
		var e CaseError
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Source, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		errs = append(errs, &e)
	}
	return errs, rows.Err()
}
