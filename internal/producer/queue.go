// Package producer implements the client-side offline event queue. A producer
// emits events through the queue; while the transport is down events are
// buffered in order and replayed one at a time on reconnect, so a single
// producer's sequence numbers reflect its intent order.
package producer

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opsbridge/opsbridge/internal/event"
)

// ErrBufferFull is returned by Emit when the bounded buffer overflows.
// Clinical event loss must be observable, never silent.
var ErrBufferFull = errors.New("offline buffer full, event not queued")

// Ack is the hub's synchronous answer to one submission.
type Ack struct {
	Accepted       bool
	SequenceNumber int64
	Reason         string
}

// Submitter is the transport used to hand events to the hub. A returned error
// means the transport or the hub's storage failed and the event should be
// retried; Accepted=false with a nil error is a validation rejection and must
// not be retried.
type Submitter interface {
	Submit(ctx context.Context, sub *event.Submission) (Ack, error)
}

type state int

const (
	stateDisconnected state = iota
	stateDraining
	stateConnected
)

// Queue is the per-producer offline buffer and connection state machine.
type Queue struct {
	submitter Submitter
	logger    zerolog.Logger
	capacity  int

	// onFatal is invoked when the buffer overflows. Optional.
	onFatal func(error)
	// onReject is invoked when the hub rejects a buffered event during
	// replay. The event is dropped, not retried. Optional.
	onReject func(sub *event.Submission, reason string)

	mu    sync.Mutex
	buf   []*event.Submission
	state state
}

// Options configure a Queue.
type Options struct {
	// Capacity bounds the offline buffer. Default 1024.
	Capacity int
	// OnFatal observes buffer overflow. Optional.
	OnFatal func(error)
	// OnReject observes validation rejections during replay. Optional.
	OnReject func(sub *event.Submission, reason string)
}

// NewQueue creates a disconnected queue.
func NewQueue(s Submitter, logger zerolog.Logger, opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = 1024
	}
	return &Queue{
		submitter: s,
		logger:    logger.With().Str("component", "producer-queue").Logger(),
		capacity:  opts.Capacity,
		onFatal:   opts.OnFatal,
		onReject:  opts.OnReject,
		state:     stateDisconnected,
	}
}

// Emit sends the event if connected, otherwise buffers it. While disconnected
// (or draining) Emit never blocks beyond the buffer append. A transport
// failure on the live path transitions to DISCONNECTED and pushes the event
// back to the front of the buffer; it is not lost.
func (q *Queue) Emit(ctx context.Context, sub *event.Submission) (Ack, error) {
	q.mu.Lock()
	if q.state != stateConnected {
		err := q.enqueueLocked(sub, false)
		q.mu.Unlock()
		return Ack{}, err
	}
	q.mu.Unlock()

	ack, err := q.submitter.Submit(ctx, sub)
	if err != nil {
		q.logger.Warn().Err(err).Str("case_id", sub.CaseID).Msg("submit failed, going offline")
		q.mu.Lock()
		q.state = stateDisconnected
		ferr := q.enqueueLocked(sub, true)
		q.mu.Unlock()
		return Ack{}, ferr
	}
	return ack, nil
}

// enqueueLocked appends (or prepends) within capacity. Caller holds q.mu.
func (q *Queue) enqueueLocked(sub *event.Submission, front bool) error {
	if len(q.buf) >= q.capacity {
		q.logger.Error().Int("capacity", q.capacity).Str("case_id", sub.CaseID).Msg("offline buffer overflow")
		if q.onFatal != nil {
			q.onFatal(ErrBufferFull)
		}
		return ErrBufferFull
	}
	if front {
		q.buf = append([]*event.Submission{sub}, q.buf...)
	} else {
		q.buf = append(q.buf, sub)
	}
	return nil
}

// SetConnected flips the connection state. On the DISCONNECTED→CONNECTED
// transition the buffer is drained strictly in enqueue order, one submission
// at a time, each waiting for its ack before the next is sent. Emit calls
// arriving mid-drain are appended behind the buffered events.
func (q *Queue) SetConnected(ctx context.Context, connected bool) {
	q.mu.Lock()
	if !connected {
		q.state = stateDisconnected
		q.mu.Unlock()
		return
	}
	if q.state != stateDisconnected {
		q.mu.Unlock()
		return
	}
	q.state = stateDraining
	q.mu.Unlock()

	q.drain(ctx)
}

func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		// A SetConnected(false) arriving mid-drain wins; the remaining
		// buffer stays put for the next reconnect.
		if q.state != stateDraining {
			q.mu.Unlock()
			return
		}
		if len(q.buf) == 0 {
			q.state = stateConnected
			q.mu.Unlock()
			q.logger.Info().Msg("offline buffer drained")
			return
		}
		sub := q.buf[0]
		q.buf = q.buf[1:]
		q.mu.Unlock()

		ack, err := q.submitter.Submit(ctx, sub)
		if err != nil {
			// Back offline; the event goes back to the front so ordering is
			// preserved for the next reconnect.
			q.logger.Warn().Err(err).Str("case_id", sub.CaseID).Msg("replay failed, going offline")
			q.mu.Lock()
			q.state = stateDisconnected
			q.buf = append([]*event.Submission{sub}, q.buf...)
			q.mu.Unlock()
			return
		}
		if !ack.Accepted {
			// Validation rejection: retrying forever would wedge the queue.
			q.logger.Error().Str("case_id", sub.CaseID).Str("reason", ack.Reason).Msg("buffered event rejected")
			if q.onReject != nil {
				q.onReject(sub, ack.Reason)
			}
		}
	}
}

// Pending returns the number of buffered events.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Connected reports whether the queue is in the CONNECTED state.
func (q *Queue) Connected() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == stateConnected
}
