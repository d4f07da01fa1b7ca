package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsbridge/opsbridge/internal/event"
)

// CaseAnalyzer is the downstream analysis collaborator invoked when a case
// reaches its terminal event. Implementations live outside the ledger; the
// call is fire-and-forget with respect to Append.
type CaseAnalyzer interface {
	AnalyzeCase(ctx context.Context, caseID string, events []*EventRecord) error
}

// Service owns append ordering, timeline derivation, and the terminal-event
// hook. Appends for the same case are serialized with a per-case lock so two
// racing submissions can never observe the same sequence number.
type Service struct {
	repo       Repository
	errors     ErrorRepository
	dispatcher *analysisDispatcher
	logger     zerolog.Logger

	mu        sync.Mutex
	caseLocks map[string]*sync.Mutex
}

// NewService constructs a ledger Service. analyzer may be nil, in which case
// terminal events are persisted but not dispatched.
func NewService(repo Repository, errors ErrorRepository, analyzer CaseAnalyzer, logger zerolog.Logger) *Service {
	s := &Service{
		repo:      repo,
		errors:    errors,
		logger:    logger.With().Str("component", "ledger").Logger(),
		caseLocks: make(map[string]*sync.Mutex),
	}
	if analyzer != nil {
		s.dispatcher = newAnalysisDispatcher(analyzer, errors, s.logger)
	}
	return s
}

// Start launches the terminal-analysis dispatcher worker.
func (s *Service) Start() {
	if s.dispatcher != nil {
		s.dispatcher.start()
	}
}

// Stop drains and stops the dispatcher.
func (s *Service) Stop() {
	if s.dispatcher != nil {
		s.dispatcher.stop()
	}
}

func (s *Service) lockCase(caseID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.caseLocks[caseID]
	if !ok {
		l = &sync.Mutex{}
		s.caseLocks[caseID] = l
	}
	return l
}

// Append durably persists one event and returns the record with its assigned
// sequence number. When the event type is terminal the full case history is
// handed to the analysis dispatcher; a slow or failing analyzer never blocks
// or fails the append.
func (s *Service) Append(ctx context.Context, sub *event.Submission) (*EventRecord, error) {
	rec := &EventRecord{
		CaseID:    sub.CaseID,
		PatientID: sub.PatientID,
		EventType: sub.EventType,
		Payload:   sub.Payload,
		Timestamp: sub.Timestamp,
	}

	l := s.lockCase(sub.CaseID)
	l.Lock()
	err := s.repo.Append(ctx, rec)
	l.Unlock()
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("case_id", rec.CaseID).
		Str("event_type", string(rec.EventType)).
		Int64("sequence", rec.SequenceNumber).
		Msg("event appended")

	if rec.EventType.Terminal() && s.dispatcher != nil {
		events, err := s.repo.ListByCase(ctx, rec.CaseID)
		if err != nil {
			// The append itself succeeded; record the hook failure instead of
			// surfacing it to the producer.
			s.recordError(rec.CaseID, "terminal-hook", err.Error())
		} else {
			s.dispatcher.enqueue(rec.CaseID, events)
		}
	}

	return rec, nil
}

// Timeline returns the case's events ordered by sequence number.
func (s *Service) Timeline(ctx context.Context, caseID string) ([]TimelineEntry, error) {
	events, err := s.repo.ListByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	entries := make([]TimelineEntry, 0, len(events))
	for _, e := range events {
		entries = append(entries, TimelineEntry{
			SequenceNumber: e.SequenceNumber,
			EventType:      e.EventType,
			Timestamp:      e.Timestamp,
		})
	}
	return entries, nil
}

// Duration returns the minute-rounded delta between the first start event and
// the last end event, or nil if either bracket is missing.
func (s *Service) Duration(ctx context.Context, caseID string) (*int64, error) {
	events, err := s.repo.ListByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	var start, end *time.Time
	for _, e := range events {
		switch e.EventType {
		case event.TypeStart:
			if start == nil {
				t := e.Timestamp
				start = &t
			}
		case event.TypeEnd:
			t := e.Timestamp
			end = &t
		}
	}
	if start == nil || end == nil {
		return nil, nil
	}

	minutes := int64(end.Sub(*start).Round(time.Minute) / time.Minute)
	return &minutes, nil
}

// Events returns the full event records for a case, ordered by sequence.
func (s *Service) Events(ctx context.Context, caseID string) ([]*EventRecord, error) {
	return s.repo.ListByCase(ctx, caseID)
}

// CaseErrors lists the ledger-adjacent error records for a case.
func (s *Service) CaseErrors(ctx context.Context, caseID string) ([]*CaseError, error) {
	return s.errors.ListByCase(ctx, caseID)
}

func (s *Service) recordError(caseID, source, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.errors.Record(ctx, &CaseError{CaseID: caseID, Source: source, Message: msg}); err != nil {
		s.logger.Error().Err(err).Str("case_id", caseID).Msg("failed to record case error")
	}
}
