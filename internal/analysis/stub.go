package analysis

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/opsbridge/opsbridge/internal/ledger"
)

// RecordingAnalyzer is a test double for ledger.CaseAnalyzer that records
// hand-offs and can be made to fail.
type RecordingAnalyzer struct {
	mu      sync.Mutex
	cases   []string
	FailErr error
}

// AnalyzeCase records the case ID and returns FailErr if set.
func (r *RecordingAnalyzer) AnalyzeCase(_ context.Context, caseID string, _ []*ledger.EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailErr != nil {
		return r.FailErr
	}
	r.cases = append(r.cases, caseID)
	return nil
}

// Cases returns a copy of the recorded case IDs.
func (r *RecordingAnalyzer) Cases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.cases))
	copy(out, r.cases)
	return out
}

// StaticScorer is a Scorer stub answering a fixed score.
type StaticScorer struct {
	Result Score
	Err    error
}

// Score returns the configured result.
func (s *StaticScorer) Score(_ context.Context, _ json.RawMessage) (Score, error) {
	if s.Err != nil {
		return Score{}, s.Err
	}
	return s.Result, nil
}
