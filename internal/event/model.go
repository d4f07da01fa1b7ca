// Package event defines the closed set of procedure event types carried by the
// operational backbone, the roles they are routed to, and the typed payload
// attached to each event type.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type identifies a kind of procedure event. The set is closed: adding a type
// requires a new constant, a payload struct, and a DecodePayload case.
type Type string

const (
	TypeStart                  Type = "start"
	TypeAnesthesiaAdministered Type = "anesthesia-administered"
	TypeIncisionMade           Type = "incision-made"
	TypeImplantPlaced          Type = "implant-placed"
	TypeImplantFailed          Type = "implant-failed"
	TypeScanTaken              Type = "scan-taken"
	TypeProsthesisTriedIn      Type = "prosthesis-tried-in"
	TypeMaterialConfirmed      Type = "material-confirmed"
	TypeOsteotomyCompleted     Type = "osteotomy-completed"
	TypeLabAdjustmentRequested Type = "lab-adjustment-requested"
	TypeComplicationDetected   Type = "complication-detected"
	TypeVitalsUpdate           Type = "vitals-update"
	TypeEnd                    Type = "end"
)

// Types lists every valid event type in declaration order.
var Types = []Type{
	TypeStart, TypeAnesthesiaAdministered, TypeIncisionMade,
	TypeImplantPlaced, TypeImplantFailed, TypeScanTaken,
	TypeProsthesisTriedIn, TypeMaterialConfirmed, TypeOsteotomyCompleted,
	TypeLabAdjustmentRequested, TypeComplicationDetected, TypeVitalsUpdate,
	TypeEnd,
}

var validTypes = func() map[Type]bool {
	m := make(map[Type]bool, len(Types))
	for _, t := range Types {
		m[t] = true
	}
	return m
}()

// Valid reports whether t is one of the closed set of event types.
func (t Type) Valid() bool { return validTypes[t] }

// Terminal reports whether t closes a case's timeline.
func (t Type) Terminal() bool { return t == TypeEnd }

// Role is a logical recipient group used for fan-out targeting.
type Role string

const (
	RoleClinician           Role = "clinician"
	RoleLaboratory          Role = "laboratory"
	RoleExecutive           Role = "executive"
	RolePatientNotification Role = "patient-notification"
)

var validRoles = map[Role]bool{
	RoleClinician: true, RoleLaboratory: true,
	RoleExecutive: true, RolePatientNotification: true,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return validRoles[r] }

// Priority is advisory rendering priority for fan-out messages. It never
// affects delivery order.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// DefaultPriority returns the advisory priority assigned to an event type when
// the producer does not set one.
func DefaultPriority(t Type) Priority {
	switch t {
	case TypeComplicationDetected, TypeImplantFailed:
		return PriorityCritical
	case TypeStart, TypeEnd, TypeLabAdjustmentRequested:
		return PriorityHigh
	case TypeVitalsUpdate:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Validation errors returned by Submission.Validate.
var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingCaseID    = errors.New("case_id is required")
	ErrMissingPatientID = errors.New("patient_id is required")
	ErrMissingTimestamp = errors.New("timestamp is required")
)

// Submission is the inbound wire shape a producer sends to the hub.
type Submission struct {
	EventType Type            `json:"event_type"`
	CaseID    string          `json:"case_id"`
	PatientID string          `json:"patient_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the submission against the closed event-type set and the
// required identifier fields. It does not touch storage.
func (s *Submission) Validate() error {
	if !s.EventType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, s.EventType)
	}
	if s.CaseID == "" {
		return ErrMissingCaseID
	}
	if s.PatientID == "" {
		return ErrMissingPatientID
	}
	if s.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if _, err := DecodePayload(s.EventType, s.Payload); err != nil {
		return err
	}
	return nil
}

// Message is the outbound fan-out shape pushed to connected peers.
type Message struct {
	From           Role            `json:"from"`
	To             Role            `json:"to"`
	EventType      Type            `json:"event_type"`
	CaseID         string          `json:"case_id"`
	SequenceNumber int64           `json:"sequence_number"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Priority       Priority        `json:"priority"`
}
