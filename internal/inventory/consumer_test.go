package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConsumerConsumeMaterial(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Upsert(ctx, &MaterialItem{SKU: "GRF-BOV-05", Name: "Bovine graft", CurrentStock: 10}); err != nil {
		t.Fatal(err)
	}

	c := NewConsumer(store, zerolog.Nop())
	at := time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

	if err := c.ConsumeMaterial(ctx, "case-1", "GRF-BOV-05", 2, at); err != nil {
		t.Fatalf("ConsumeMaterial: %v", err)
	}
	m, _ := store.GetBySKU(ctx, "GRF-BOV-05")
	if m.CurrentStock != 8 {
		t.Fatalf("stock = %d, want 8", m.CurrentStock)
	}
}

func TestConsumerConsumeMaterial_ReplayIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Upsert(ctx, &MaterialItem{SKU: "MEM-COL-25", Name: "Collagen membrane", CurrentStock: 5}); err != nil {
		t.Fatal(err)
	}

	c := NewConsumer(store, zerolog.Nop())
	at := time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

	// The same event delivered three times (offline replay, reconnect retry)
	// must decrement stock exactly once.
	for i := 0; i < 3; i++ {
		if err := c.ConsumeMaterial(ctx, "case-1", "MEM-COL-25", 2, at); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	m, _ := store.GetBySKU(ctx, "MEM-COL-25")
	if m.CurrentStock != 3 {
		t.Fatalf("stock = %d, want 3", m.CurrentStock)
	}

	// A distinct usage in the same case is a new key.
	if err := c.ConsumeMaterial(ctx, "case-1", "MEM-COL-25", 1, at.Add(5*time.Minute)); err != nil {
		t.Fatal(err)
	}
	m, _ = store.GetBySKU(ctx, "MEM-COL-25")
	if m.CurrentStock != 2 {
		t.Fatalf("stock = %d, want 2", m.CurrentStock)
	}
}

func TestConsumerConsumeMaterial_DefaultsQuantityToOne(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Upsert(ctx, &MaterialItem{SKU: "CEM-RES-01", Name: "Resin cement", CurrentStock: 4}); err != nil {
		t.Fatal(err)
	}

	c := NewConsumer(store, zerolog.Nop())
	if err := c.ConsumeMaterial(ctx, "case-2", "CEM-RES-01", 0, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	m, _ := store.GetBySKU(ctx, "CEM-RES-01")
	if m.CurrentStock != 3 {
		t.Fatalf("stock = %d, want 3", m.CurrentStock)
	}
}

func TestConsumerConsumeMaterial_InsufficientStock(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Upsert(ctx, &MaterialItem{SKU: "IMP-TI-4.1", Name: "Titanium implant", CurrentStock: 1}); err != nil {
		t.Fatal(err)
	}

	c := NewConsumer(store, zerolog.Nop())
	if err := c.ConsumeMaterial(ctx, "case-3", "IMP-TI-4.1", 5, time.Now().UTC()); err == nil {
		t.Fatal("expected error for consumption exceeding stock")
	}
	m, _ := store.GetBySKU(ctx, "IMP-TI-4.1")
	if m.CurrentStock != 1 {
		t.Fatalf("failed consumption altered stock: %d", m.CurrentStock)
	}
}

func TestConsumptionKey_StableAndDistinct(t *testing.T) {
	at := time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

	a := consumptionKey("case-1", "GRF-BOV-05", at)
	b := consumptionKey("case-1", "GRF-BOV-05", at)
	if a != b {
		t.Error("identical usage produced different keys")
	}
	// Timezone representation must not change the key.
	if c := consumptionKey("case-1", "GRF-BOV-05", at.In(time.FixedZone("CET", 3600))); c != a {
		t.Error("key depends on timestamp timezone")
	}

	for name, other := range map[string]string{
		"different case": consumptionKey("case-2", "GRF-BOV-05", at),
		"different sku":  consumptionKey("case-1", "MEM-COL-25", at),
		"different time": consumptionKey("case-1", "GRF-BOV-05", at.Add(time.Second)),
	} {
		if other == a {
			t.Errorf("%s produced the same key", name)
		}
	}
}
