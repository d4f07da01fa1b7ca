// Package analysis holds the outbound contract to the case-analysis
// collaborator. The platform treats analysis as an opaque capability: it
// posts a completed case's events and only cares whether the hand-off
// succeeded.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsbridge/opsbridge/internal/ledger"
)

// Score is the collaborator's verdict on one input.
type Score struct {
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Scorer scores a single opaque input. Implementations live outside this
// platform; the interface exists so callers can be tested against a stub.
type Scorer interface {
	Score(ctx context.Context, input json.RawMessage) (Score, error)
}

// Client posts completed cases to the analysis service over HTTP. It
// implements ledger.CaseAnalyzer.
type Client struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewClient builds an analysis client. A nil http.Client gets a 30 second
// timeout, matching the terminal-hook dispatch budget.
func NewClient(baseURL string, client *http.Client, logger zerolog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		client:  client,
		logger:  logger.With().Str("component", "analysis-client").Logger(),
	}
}

type analyzeRequest struct {
	CaseID string                `json:"caseId"`
	Events []*ledger.EventRecord `json:"events"`
}

// AnalyzeCase posts the case's full event history. The response body is
// ignored; any transport error or non-2xx status is a failure the caller may
// retry.
func (c *Client) AnalyzeCase(ctx context.Context, caseID string, events []*ledger.EventRecord) error {
	body, err := json.Marshal(analyzeRequest{CaseID: caseID, Events: events})
	if err != nil {
		return fmt.Errorf("marshal analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post case %s for analysis: %w", caseID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("analysis service returned status %d for case %s", resp.StatusCode, caseID)
	}
	c.logger.Info().Str("case_id", caseID).Int("events", len(events)).Msg("case handed off for analysis")
	return nil
}
