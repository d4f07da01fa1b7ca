package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsbridge/opsbridge/internal/event"
	"github.com/opsbridge/opsbridge/internal/ledger"
)

type fakeTransport struct {
	mu     sync.Mutex
	msgs   [][]byte
	err    error
	closed bool
}

func (t *fakeTransport) Deliver(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	t.msgs = append(t.msgs, cp)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) received() []event.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]event.Message, 0, len(t.msgs))
	for _, raw := range t.msgs {
		var m event.Message
		if err := json.Unmarshal(raw, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

type fakeStock struct {
	mu    sync.Mutex
	calls []stockCall
	err   error
}

type stockCall struct {
	caseID string
	sku    string
	qty    int
}

func (s *fakeStock) ConsumeMaterial(_ context.Context, caseID, sku string, quantity int, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, stockCall{caseID: caseID, sku: sku, qty: quantity})
	return s.err
}

type fakeAlerter struct {
	mu   sync.Mutex
	subs []*event.Submission
	err  error
}

func (a *fakeAlerter) AlertCase(_ context.Context, sub *event.Submission) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs = append(a.subs, sub)
	return a.err
}

func (a *fakeAlerter) alerted() []*event.Submission {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*event.Submission(nil), a.subs...)
}

func newTestHub(t *testing.T, stock StockConsumer, opts Options) (*Hub, *ledger.Service) {
	t.Helper()
	svc := ledger.NewService(ledger.NewMemoryRepo(), ledger.NewMemoryErrorRepo(), nil, zerolog.Nop())
	return New(NewRegistry(), DefaultRoutingTable(), svc, stock, nil, zerolog.Nop(), opts), svc
}

func newAlertingHub(t *testing.T, alerts CaseAlerter) (*Hub, *ledger.Service) {
	t.Helper()
	svc := ledger.NewService(ledger.NewMemoryRepo(), ledger.NewMemoryErrorRepo(), nil, zerolog.Nop())
	return New(NewRegistry(), DefaultRoutingTable(), svc, nil, alerts, zerolog.Nop(), Options{}), svc
}

func sub(caseID string, typ event.Type, payload string) *event.Submission {
	raw := json.RawMessage(`{}`)
	if payload != "" {
		raw = json.RawMessage(payload)
	}
	return &event.Submission{
		EventType: typ,
		CaseID:    caseID,
		PatientID: "patient-1",
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}
}

func TestHubSubmit_FansOutPerRoutingTable(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{})

	clinician := &fakeTransport{}
	lab := &fakeTransport{}
	exec := &fakeTransport{}
	notify := &fakeTransport{}

	clinID, err := h.Connect(event.RoleClinician, clinician)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Connect(event.RoleLaboratory, lab); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Connect(event.RoleExecutive, exec); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Connect(event.RolePatientNotification, notify); err != nil {
		t.Fatal(err)
	}

	// scan-taken routes to the laboratory only.
	res, err := h.Submit(context.Background(), clinID, sub("case-route", event.TypeScanTaken, `{"scan_type":"intraoral"}`))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Accepted || res.SequenceNumber != 1 {
		t.Fatalf("result = %+v", res)
	}

	if got := len(lab.received()); got != 1 {
		t.Errorf("laboratory deliveries = %d, want 1", got)
	}
	for name, tr := range map[string]*fakeTransport{"clinician": clinician, "executive": exec, "patient-notification": notify} {
		if got := len(tr.received()); got != 0 {
			t.Errorf("%s deliveries = %d, want 0", name, got)
		}
	}

	msg := lab.received()[0]
	if msg.To != event.RoleLaboratory || msg.From != event.RoleClinician {
		t.Errorf("message addressing = from %q to %q", msg.From, msg.To)
	}
	if msg.EventType != event.TypeScanTaken || msg.SequenceNumber != 1 {
		t.Errorf("message = %+v", msg)
	}
	if msg.Priority != event.PriorityMedium {
		t.Errorf("priority = %q, want medium", msg.Priority)
	}

	// end routes to all four roles; the submitting connection is excluded but
	// other clinician peers are not.
	if _, err := h.Submit(context.Background(), clinID, sub("case-route", event.TypeEnd, "")); err != nil {
		t.Fatal(err)
	}
	if got := len(clinician.received()); got != 0 {
		t.Errorf("submitter received own event (%d messages)", got)
	}
	for name, tr := range map[string]*fakeTransport{"laboratory": lab, "executive": exec, "patient-notification": notify} {
		msgs := tr.received()
		if len(msgs) == 0 || msgs[len(msgs)-1].EventType != event.TypeEnd {
			t.Errorf("%s did not receive the end event", name)
		}
	}
}

func TestHubSubmit_ExcludesSubmitterNotRole(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{})

	submitter := &fakeTransport{}
	otherClin := &fakeTransport{}
	submitID, _ := h.Connect(event.RoleClinician, submitter)
	if _, err := h.Connect(event.RoleClinician, otherClin); err != nil {
		t.Fatal(err)
	}

	if _, err := h.Submit(context.Background(), submitID, sub("case-ex", event.TypeVitalsUpdate, "")); err != nil {
		t.Fatal(err)
	}

	if len(submitter.received()) != 0 {
		t.Error("submitting connection must not receive its own event")
	}
	if len(otherClin.received()) != 1 {
		t.Errorf("peer clinician deliveries = %d, want 1", len(otherClin.received()))
	}
}

func TestHubSubmit_RejectsInvalidWithoutLedgerWrite(t *testing.T) {
	h, svc := newTestHub(t, nil, Options{})
	lab := &fakeTransport{}
	clinID, _ := h.Connect(event.RoleClinician, &fakeTransport{})
	if _, err := h.Connect(event.RoleLaboratory, lab); err != nil {
		t.Fatal(err)
	}

	s := sub("case-bad", event.TypeScanTaken, "")
	s.PatientID = ""
	res, err := h.Submit(context.Background(), clinID, s)
	if err != nil {
		t.Fatalf("validation failure must not error the call: %v", err)
	}
	if res.Accepted {
		t.Fatal("invalid submission accepted")
	}
	if res.Reason == "" {
		t.Error("rejection carries no reason")
	}

	events, err := svc.Events(context.Background(), "case-bad")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("rejected event reached the ledger: %d records", len(events))
	}
	if len(lab.received()) != 0 {
		t.Error("rejected event was fanned out")
	}
}

func TestHubSubmit_UnknownConnection(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{})
	if _, err := h.Submit(context.Background(), "no-such-conn", sub("case-x", event.TypeStart, "")); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("err = %v, want ErrUnknownConnection", err)
	}
}

func TestHubIngest_UnknownRole(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{})
	if _, err := h.Ingest(context.Background(), "plumber", sub("case-x", event.TypeStart, "")); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestHubIngest_PersistsAndFansOut(t *testing.T) {
	h, svc := newTestHub(t, nil, Options{})
	clin := &fakeTransport{}
	if _, err := h.Connect(event.RoleClinician, clin); err != nil {
		t.Fatal(err)
	}

	res, err := h.Ingest(context.Background(), event.RoleClinician, sub("case-rest", event.TypeIncisionMade, `{"site":"36"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Accepted || res.SequenceNumber != 1 {
		t.Fatalf("result = %+v", res)
	}

	events, err := svc.Events(context.Background(), "case-rest")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("ledger records = %d, want 1", len(events))
	}
	// No connection id to exclude, so a same-role peer still receives it.
	if len(clin.received()) != 1 {
		t.Errorf("clinician deliveries = %d, want 1", len(clin.received()))
	}
}

func TestHubDeliver_DropsAfterRepeatedFailures(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{MaxDeliveryFailures: 2})

	broken := &fakeTransport{err: errors.New("peer gone")}
	brokenID, _ := h.Connect(event.RoleLaboratory, broken)
	clinID, _ := h.Connect(event.RoleClinician, &fakeTransport{})

	if _, err := h.Submit(context.Background(), clinID, sub("case-drop", event.TypeScanTaken, "")); err != nil {
		t.Fatal(err)
	}
	if h.registry.Get(brokenID) == nil {
		t.Fatal("connection dropped after a single failure")
	}

	if _, err := h.Submit(context.Background(), clinID, sub("case-drop", event.TypeScanTaken, "")); err != nil {
		t.Fatal(err)
	}
	if h.registry.Get(brokenID) != nil {
		t.Fatal("connection not dropped after reaching the failure limit")
	}
	broken.mu.Lock()
	closed := broken.closed
	broken.mu.Unlock()
	if !closed {
		t.Error("dropped connection's transport was not closed")
	}
}

func TestHubDeliver_SuccessResetsFailureCount(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{MaxDeliveryFailures: 2})

	flaky := &fakeTransport{err: errors.New("timeout")}
	flakyID, _ := h.Connect(event.RoleLaboratory, flaky)
	clinID, _ := h.Connect(event.RoleClinician, &fakeTransport{})

	if _, err := h.Submit(context.Background(), clinID, sub("case-flaky", event.TypeScanTaken, "")); err != nil {
		t.Fatal(err)
	}
	flaky.mu.Lock()
	flaky.err = nil
	flaky.mu.Unlock()
	if _, err := h.Submit(context.Background(), clinID, sub("case-flaky", event.TypeScanTaken, "")); err != nil {
		t.Fatal(err)
	}
	// Counter reset by the success; a single new failure must not drop it.
	flaky.mu.Lock()
	flaky.err = errors.New("timeout")
	flaky.mu.Unlock()
	if _, err := h.Submit(context.Background(), clinID, sub("case-flaky", event.TypeScanTaken, "")); err != nil {
		t.Fatal(err)
	}
	if h.registry.Get(flakyID) == nil {
		t.Fatal("connection dropped despite an intervening successful delivery")
	}
}

func TestHubDeliver_RacingDisconnectDoesNotPanic(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{})

	connID, _ := h.Connect(event.RoleLaboratory, NewChannelTransport(4))
	peers := h.registry.PeersInRoles([]event.Role{event.RoleLaboratory}, "")
	if len(peers) != 1 {
		t.Fatalf("peers = %d, want 1", len(peers))
	}

	// A fan-out can hold a registry snapshot taken before a concurrent
	// disconnect closed the transport. Delivering to that stale peer must
	// surface an error, never a send on a closed channel.
	h.Disconnect(connID)
	h.deliver(peers[0], []byte(`{"kind":"late"}`))

	if err := peers[0].transport.Deliver([]byte("x")); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("err = %v, want ErrTransportClosed", err)
	}
}

func TestHubSubmit_MaterialConfirmedConsumesStock(t *testing.T) {
	stock := &fakeStock{}
	h, _ := newTestHub(t, stock, Options{})
	clinID, _ := h.Connect(event.RoleClinician, &fakeTransport{})

	if _, err := h.Submit(context.Background(), clinID, sub("case-mat", event.TypeMaterialConfirmed, `{"sku":"MEM-COL-25","quantity":3}`)); err != nil {
		t.Fatal(err)
	}
	// Quantity omitted defaults to one.
	if _, err := h.Submit(context.Background(), clinID, sub("case-mat", event.TypeMaterialConfirmed, `{"sku":"CEM-RES-01"}`)); err != nil {
		t.Fatal(err)
	}

	stock.mu.Lock()
	defer stock.mu.Unlock()
	if len(stock.calls) != 2 {
		t.Fatalf("stock calls = %d, want 2", len(stock.calls))
	}
	if stock.calls[0].sku != "MEM-COL-25" || stock.calls[0].qty != 3 {
		t.Errorf("first call = %+v", stock.calls[0])
	}
	if stock.calls[1].sku != "CEM-RES-01" || stock.calls[1].qty != 1 {
		t.Errorf("second call = %+v", stock.calls[1])
	}
}

func TestHubSubmit_StockFailureDoesNotFailSubmit(t *testing.T) {
	stock := &fakeStock{err: errors.New("stock store down")}
	h, svc := newTestHub(t, stock, Options{})
	clinID, _ := h.Connect(event.RoleClinician, &fakeTransport{})

	res, err := h.Submit(context.Background(), clinID, sub("case-sfail", event.TypeMaterialConfirmed, `{"sku":"GRF-BOV-05"}`))
	if err != nil {
		t.Fatalf("stock failure surfaced to submitter: %v", err)
	}
	if !res.Accepted {
		t.Fatal("event rejected on stock failure")
	}
	events, _ := svc.Events(context.Background(), "case-sfail")
	if len(events) != 1 {
		t.Errorf("ledger records = %d, want 1", len(events))
	}
}

func TestHubSubmit_AcceptedEventReachesAlerter(t *testing.T) {
	alerts := &fakeAlerter{}
	h, _ := newAlertingHub(t, alerts)
	clinID, _ := h.Connect(event.RoleClinician, &fakeTransport{})

	if _, err := h.Submit(context.Background(), clinID, sub("case-alert", event.TypeEnd, `{"outcome":"success"}`)); err != nil {
		t.Fatal(err)
	}

	got := alerts.alerted()
	if len(got) != 1 {
		t.Fatalf("alerter calls = %d, want 1", len(got))
	}
	if got[0].CaseID != "case-alert" || got[0].EventType != event.TypeEnd {
		t.Errorf("alerted submission = %+v", got[0])
	}
}

func TestHubSubmit_RejectedEventNeverReachesAlerter(t *testing.T) {
	alerts := &fakeAlerter{}
	h, _ := newAlertingHub(t, alerts)
	clinID, _ := h.Connect(event.RoleClinician, &fakeTransport{})

	s := sub("case-alert-bad", event.TypeEnd, "")
	s.PatientID = ""
	if _, err := h.Submit(context.Background(), clinID, s); err != nil {
		t.Fatal(err)
	}
	if len(alerts.alerted()) != 0 {
		t.Error("rejected submission was alerted")
	}
}

func TestHubSubmit_AlertFailureDoesNotFailSubmit(t *testing.T) {
	alerts := &fakeAlerter{err: errors.New("SMTP down")}
	h, svc := newAlertingHub(t, alerts)
	clinID, _ := h.Connect(event.RoleClinician, &fakeTransport{})

	res, err := h.Submit(context.Background(), clinID, sub("case-afail", event.TypeComplicationDetected, `{"description":"bleeding"}`))
	if err != nil {
		t.Fatalf("alert failure surfaced to submitter: %v", err)
	}
	if !res.Accepted {
		t.Fatal("event rejected on alert failure")
	}
	events, _ := svc.Events(context.Background(), "case-afail")
	if len(events) != 1 {
		t.Errorf("ledger records = %d, want 1", len(events))
	}
}

func TestHubSweep_EvictsStaleConnections(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{LivenessTimeout: time.Minute})

	staleID, _ := h.Connect(event.RoleClinician, &fakeTransport{})
	freshID, _ := h.Connect(event.RoleLaboratory, &fakeTransport{})

	h.registry.Get(staleID).LastSeenAt = time.Now().UTC().Add(-2 * time.Minute)
	h.sweep()

	if h.registry.Get(staleID) != nil {
		t.Error("stale connection survived the sweep")
	}
	if h.registry.Get(freshID) == nil {
		t.Error("fresh connection was evicted")
	}
}

func TestHubSubmit_TouchKeepsConnectionFresh(t *testing.T) {
	h, _ := newTestHub(t, nil, Options{LivenessTimeout: time.Minute})
	connID, _ := h.Connect(event.RoleClinician, &fakeTransport{})
	h.registry.Get(connID).LastSeenAt = time.Now().UTC().Add(-2 * time.Minute)

	if _, err := h.Submit(context.Background(), connID, sub("case-touch", event.TypeVitalsUpdate, "")); err != nil {
		t.Fatal(err)
	}
	h.sweep()
	if h.registry.Get(connID) == nil {
		t.Error("connection evicted despite a recent submission")
	}
}
