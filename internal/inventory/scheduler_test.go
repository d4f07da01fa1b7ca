package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSchedulerRunsEngineOnInterval(t *testing.T) {
	store := NewMemoryStore()
	eng := newTestEngine(store, DefaultBillOfMaterials(), NewSupplierDirectory(nil), &fakeChannel{}, EngineOptions{})

	s := NewScheduler(eng, 10*time.Millisecond, zerolog.Nop())
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		summaries, err := store.ListSummaries(context.Background(), 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(summaries) > 0 {
			s.Stop()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	t.Fatal("scheduler never triggered a forecast run")
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	eng := newTestEngine(store, DefaultBillOfMaterials(), NewSupplierDirectory(nil), &fakeChannel{}, EngineOptions{})

	s := NewScheduler(eng, time.Hour, zerolog.Nop())
	s.Start()
	s.Stop()
	s.Stop()
}
