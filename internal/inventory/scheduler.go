package inventory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler triggers a forecast run on a fixed interval. Runs the engine
// refuses (one already in progress) are logged and skipped, not queued.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   zerolog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler builds a scheduler. Interval defaults to 24h.
func NewScheduler(engine *Engine, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   logger.With().Str("component", "forecast-scheduler").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the ticker goroutine.
func (s *Scheduler) Start() {
	go s.run()
	s.logger.Info().Dur("interval", s.interval).Msg("forecast scheduler started")
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.engine.Run(context.Background()); err != nil {
				if errors.Is(err, ErrForecastRunning) {
					s.logger.Warn().Msg("scheduled run skipped, previous run still in progress")
					continue
				}
				s.logger.Error().Err(err).Msg("scheduled forecast run failed")
			}
		case <-s.stop:
			return
		}
	}
}

// Stop halts the scheduler and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
