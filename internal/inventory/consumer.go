package inventory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Consumer decrements material stock when a material-confirmed event is
// routed. Replayed events (offline-buffer drains, reconnect retries) hit the
// same idempotency key and are no-ops, so stock is never double-decremented.
type Consumer struct {
	materials MaterialRepository
	logger    zerolog.Logger
}

// NewConsumer builds the stock consumer over a material repository.
func NewConsumer(materials MaterialRepository, logger zerolog.Logger) *Consumer {
	return &Consumer{
		materials: materials,
		logger:    logger.With().Str("component", "stock-consumer").Logger(),
	}
}

// ConsumeMaterial applies one confirmed material usage to stock.
func (c *Consumer) ConsumeMaterial(ctx context.Context, caseID, sku string, quantity int, occurredAt time.Time) error {
	if quantity <= 0 {
		quantity = 1
	}
	key := consumptionKey(caseID, sku, occurredAt)
	if err := c.materials.Consume(ctx, key, caseID, sku, quantity, occurredAt); err != nil {
		c.logger.Error().Err(err).
			Str("case_id", caseID).
			Str("sku", sku).
			Int("quantity", quantity).
			Msg("stock consumption failed")
		return fmt.Errorf("consume %s for case %s: %w", sku, caseID, err)
	}
	c.logger.Debug().Str("case_id", caseID).Str("sku", sku).Int("quantity", quantity).Msg("stock consumed")
	return nil
}

// consumptionKey derives the idempotency key from the fields that identify a
// single clinical usage. The same event replayed later produces the same key.
func consumptionKey(caseID, sku string, occurredAt time.Time) string {
	h := sha256.Sum256([]byte(caseID + "|" + sku + "|" + occurredAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:])
}
