package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsbridge/opsbridge/internal/event"
	"github.com/opsbridge/opsbridge/internal/ledger"
)

// ErrUnknownConnection is returned by Submit for a connection id that is not
// registered (never handshaken, already disconnected, or swept).
var ErrUnknownConnection = errors.New("unknown connection")

// StockConsumer applies the stock side effect of material-confirmed events.
// Implementations must be idempotent per (caseID, eventType, timestamp).
type StockConsumer interface {
	ConsumeMaterial(ctx context.Context, caseID string, sku string, quantity int, occurredAt time.Time) error
}

// CaseAlerter pushes out-of-band notifications (email/SMS) for accepted
// events that warrant them. Implementations decide which event types apply
// and must tolerate being called for every accepted event.
type CaseAlerter interface {
	AlertCase(ctx context.Context, sub *event.Submission) error
}

// SubmitResult is the synchronous outcome of a Submit call.
type SubmitResult struct {
	Accepted       bool   `json:"accepted"`
	SequenceNumber int64  `json:"sequence_number,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Options tune hub liveness and delivery behavior.
type Options struct {
	// LivenessTimeout evicts connections not seen for this long. Default 5m.
	LivenessTimeout time.Duration
	// SweepInterval is how often the liveness sweep runs. Default 5m.
	SweepInterval time.Duration
	// MaxDeliveryFailures drops a connection after this many consecutive
	// failed deliveries. Default 3.
	MaxDeliveryFailures int
}

func (o *Options) fill() {
	if o.LivenessTimeout <= 0 {
		o.LivenessTimeout = 5 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Minute
	}
	if o.MaxDeliveryFailures <= 0 {
		o.MaxDeliveryFailures = 3
	}
}

// Hub accepts inbound events from connected peers, persists them to the
// ledger, and fans them out to every live connection in the routed roles.
// The durable append always completes before the first delivery is attempted.
type Hub struct {
	registry *Registry
	routes   *RoutingTable
	ledger   *ledger.Service
	stock    StockConsumer
	alerts   CaseAlerter
	logger   zerolog.Logger
	opts     Options

	stopOnce sync.Once
	stop     chan struct{}
}

// New constructs a Hub. stock and alerts may each be nil when that side
// effect is handled elsewhere.
func New(registry *Registry, routes *RoutingTable, led *ledger.Service, stock StockConsumer, alerts CaseAlerter, logger zerolog.Logger, opts Options) *Hub {
	opts.fill()
	return &Hub{
		registry: registry,
		routes:   routes,
		ledger:   led,
		stock:    stock,
		alerts:   alerts,
		logger:   logger.With().Str("component", "hub").Logger(),
		opts:     opts,
		stop:     make(chan struct{}),
	}
}

// Connect registers a peer under role and returns its connection id. It has
// no side effect on the ledger.
func (h *Hub) Connect(role event.Role, t Transport) (string, error) {
	if !role.Valid() {
		return "", errors.New("unknown role")
	}
	c := h.registry.Add(role, t)
	h.logger.Info().Str("connection_id", c.ID).Str("role", string(role)).Msg("peer connected")
	return c.ID, nil
}

// Disconnect removes the connection immediately and closes its transport.
// Nothing already delivered is retracted.
func (h *Hub) Disconnect(connID string) {
	if c := h.registry.Remove(connID); c != nil {
		_ = c.transport.Close()
		h.logger.Info().Str("connection_id", connID).Str("role", string(c.Role)).Msg("peer disconnected")
	}
}

// Submit validates and ingests one event from a connected peer. Validation
// failures return Accepted=false without touching the ledger; a ledger write
// failure fails the call entirely and nothing is fanned out.
func (h *Hub) Submit(ctx context.Context, connID string, sub *event.Submission) (*SubmitResult, error) {
	c := h.registry.Get(connID)
	if c == nil {
		return nil, ErrUnknownConnection
	}
	h.registry.Touch(connID)
	return h.ingest(ctx, c.Role, connID, sub)
}

// Ingest accepts an event on behalf of a role without a registered
// connection. It is the path used by the REST endpoint and by server-side
// producers.
func (h *Hub) Ingest(ctx context.Context, from event.Role, sub *event.Submission) (*SubmitResult, error) {
	if !from.Valid() {
		return nil, errors.New("unknown role")
	}
	return h.ingest(ctx, from, "", sub)
}

func (h *Hub) ingest(ctx context.Context, from event.Role, connID string, sub *event.Submission) (*SubmitResult, error) {
	if err := sub.Validate(); err != nil {
		h.logger.Warn().Err(err).Str("case_id", sub.CaseID).Msg("event rejected")
		return &SubmitResult{Accepted: false, Reason: err.Error()}, nil
	}

	// Durable write first. Fan-out must never observe an event the ledger
	// cannot serve back.
	rec, err := h.ledger.Append(ctx, sub)
	if err != nil {
		return nil, err
	}

	h.applySideEffects(ctx, sub)
	h.fanOut(from, connID, rec)

	return &SubmitResult{Accepted: true, SequenceNumber: rec.SequenceNumber}, nil
}

// applySideEffects runs post-append consumers. Their failures are contained:
// the event is already durable, so a stock or alert error is logged, not
// surfaced.
func (h *Hub) applySideEffects(ctx context.Context, sub *event.Submission) {
	h.consumeStock(ctx, sub)
	h.alertCase(ctx, sub)
}

func (h *Hub) consumeStock(ctx context.Context, sub *event.Submission) {
	if h.stock == nil || sub.EventType != event.TypeMaterialConfirmed {
		return
	}
	p, err := event.DecodePayload(sub.EventType, sub.Payload)
	if err != nil {
		return
	}
	mc := p.(*event.MaterialConfirmedPayload)
	qty := mc.Quantity
	if qty <= 0 {
		qty = 1
	}
	if err := h.stock.ConsumeMaterial(ctx, sub.CaseID, mc.SKU, qty, sub.Timestamp); err != nil {
		h.logger.Error().Err(err).
			Str("case_id", sub.CaseID).
			Str("sku", mc.SKU).
			Msg("material consumption failed")
	}
}

func (h *Hub) alertCase(ctx context.Context, sub *event.Submission) {
	if h.alerts == nil {
		return
	}
	if err := h.alerts.AlertCase(ctx, sub); err != nil {
		h.logger.Error().Err(err).
			Str("case_id", sub.CaseID).
			Str("event_type", string(sub.EventType)).
			Msg("case alert failed")
	}
}

// fanOut delivers the accepted event to every live peer in the routed roles,
// at most once each. Per-peer transport errors are isolated; a peer that
// keeps failing is dropped. Sends happen on a registry snapshot so a slow
// peer cannot stall ingestion for others.
func (h *Hub) fanOut(from event.Role, submitterConnID string, rec *ledger.EventRecord) {
	targets := h.routes.TargetsFor(rec.EventType)
	if len(targets) == 0 {
		return
	}

	// The table is the explicit role list: the submitter's own role receives
	// the event only when routed, and the submitting connection never does.
	peers := h.registry.PeersInRoles(targets, submitterConnID)
	for _, peer := range peers {
		msg := event.Message{
			From:           from,
			To:             peer.Role,
			EventType:      rec.EventType,
			CaseID:         rec.CaseID,
			SequenceNumber: rec.SequenceNumber,
			Timestamp:      rec.Timestamp,
			Payload:        rec.Payload,
			Priority:       event.DefaultPriority(rec.EventType),
		}
		data, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to marshal fan-out message")
			continue
		}
		h.deliver(peer, data)
	}
}

func (h *Hub) deliver(peer *Connection, data []byte) {
	if err := peer.transport.Deliver(data); err != nil {
		failures := int(peer.failures.Add(1))
		h.logger.Warn().Err(err).
			Str("connection_id", peer.ID).
			Int("failures", failures).
			Msg("delivery failed")
		if failures >= h.opts.MaxDeliveryFailures {
			h.logger.Warn().Str("connection_id", peer.ID).Msg("dropping connection after repeated delivery failures")
			h.Disconnect(peer.ID)
		}
		return
	}
	peer.failures.Store(0)
}

// StartSweeper launches the recurring liveness sweep.
func (h *Hub) StartSweeper() {
	go func() {
		ticker := time.NewTicker(h.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.sweep()
			case <-h.stop:
				return
			}
		}
	}()
}

// Stop halts the liveness sweeper.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) sweep() {
	for _, c := range h.registry.Stale(h.opts.LivenessTimeout) {
		h.logger.Info().
			Str("connection_id", c.ID).
			Time("last_seen", c.LastSeenAt).
			Msg("evicting stale connection")
		h.Disconnect(c.ID)
	}
}
