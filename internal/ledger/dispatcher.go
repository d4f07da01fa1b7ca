package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// analysisDispatcher feeds terminal-case event lists to the analysis
// collaborator through a bounded work queue with one retry. A transient
// analyzer failure therefore does not silently lose the trigger, and a final
// failure is persisted as a case error record.
type analysisDispatcher struct {
	analyzer   CaseAnalyzer
	errors     ErrorRepository
	logger     zerolog.Logger
	work       chan analysisJob
	retryDelay time.Duration
	timeout    time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

type analysisJob struct {
	caseID string
	events []*EventRecord
}

func newAnalysisDispatcher(analyzer CaseAnalyzer, errors ErrorRepository, logger zerolog.Logger) *analysisDispatcher {
	return &analysisDispatcher{
		analyzer:   analyzer,
		errors:     errors,
		logger:     logger,
		work:       make(chan analysisJob, 64),
		retryDelay: 5 * time.Second,
		timeout:    30 * time.Second,
		done:       make(chan struct{}),
	}
}

func (d *analysisDispatcher) start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

func (d *analysisDispatcher) stop() {
	d.stopOnce.Do(func() {
		close(d.work)
		<-d.done
	})
}

// enqueue never blocks the appender. A full queue is itself recorded as an
// error so a lost trigger stays observable.
func (d *analysisDispatcher) enqueue(caseID string, events []*EventRecord) {
	select {
	case d.work <- analysisJob{caseID: caseID, events: events}:
	default:
		d.record(caseID, "analysis queue full, trigger dropped")
	}
}

func (d *analysisDispatcher) run() {
	defer close(d.done)
	for job := range d.work {
		if err := d.dispatch(job); err == nil {
			continue
		}
		time.Sleep(d.retryDelay)
		if err := d.dispatch(job); err != nil {
			d.record(job.caseID, err.Error())
		}
	}
}

func (d *analysisDispatcher) dispatch(job analysisJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := d.analyzer.AnalyzeCase(ctx, job.caseID, job.events)
	if err != nil {
		d.logger.Warn().Err(err).Str("case_id", job.caseID).Msg("terminal analysis failed")
		return err
	}
	d.logger.Info().Str("case_id", job.caseID).Int("events", len(job.events)).Msg("terminal analysis dispatched")
	return nil
}

func (d *analysisDispatcher) record(caseID, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.errors.Record(ctx, &CaseError{CaseID: caseID, Source: "terminal-analysis", Message: msg}); err != nil {
		d.logger.Error().Err(err).Str("case_id", caseID).Msg("failed to record analysis error")
	}
}
