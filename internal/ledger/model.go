// Package ledger implements the durable, append-only, per-case ordered
// procedure event log. Sequence numbers are assigned at append time and are
// gap-free and strictly increasing within a case.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/opsbridge/opsbridge/internal/event"
)

// EventRecord maps to the procedure_event table. Rows are never deleted and,
// apart from the Processed flag, never mutated.
type EventRecord struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	CaseID         string          `db:"case_id" json:"case_id"`
	PatientID      string          `db:"patient_id" json:"patient_id"`
	EventType      event.Type      `db:"event_type" json:"event_type"`
	Payload        json.RawMessage `db:"payload" json:"payload,omitempty"`
	Timestamp      time.Time       `db:"event_timestamp" json:"timestamp"`
	SequenceNumber int64           `db:"sequence_number" json:"sequence_number"`
	Processed      bool            `db:"processed" json:"processed"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// CaseError maps to the case_error table. It records failures in
// ledger-adjacent processing (terminal analysis, stock consumption) that must
// not propagate back to the event producer.
type CaseError struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CaseID    string    `db:"case_id" json:"case_id"`
	Source    string    `db:"source" json:"source"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TimelineEntry is one step of a case timeline, ordered by sequence number.
type TimelineEntry struct {
	SequenceNumber int64      `json:"sequence_number"`
	EventType      event.Type `json:"event_type"`
	Timestamp      time.Time  `json:"timestamp"`
}
