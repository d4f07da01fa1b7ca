package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsbridge/opsbridge/internal/platform/notification"
)

// OrderRequest is the channel-independent payload of one procurement order.
type OrderRequest struct {
	OrderID               string    `json:"order_id"`
	SKU                   string    `json:"sku"`
	MaterialName          string    `json:"material_name"`
	Quantity              int       `json:"quantity"`
	SupplierName          string    `json:"supplier_name"`
	EstimatedCost         float64   `json:"estimated_cost"`
	EstimatedDeliveryDate time.Time `json:"estimated_delivery_date"`
}

// ProcurementChannel places one order with a supplier. A returned error means
// the order did not reach the supplier and the caller must fall back.
type ProcurementChannel interface {
	PlaceOrder(ctx context.Context, req OrderRequest) error
}

// SupplierDirectory resolves supplier configuration by name.
type SupplierDirectory struct {
	mu        sync.RWMutex
	suppliers map[string]Supplier
}

// NewSupplierDirectory builds a directory from a supplier list.
func NewSupplierDirectory(suppliers []Supplier) *SupplierDirectory {
	d := &SupplierDirectory{suppliers: make(map[string]Supplier, len(suppliers))}
	for _, s := range suppliers {
		d.suppliers[s.Name] = s
	}
	return d
}

// Lookup returns the supplier configuration, or false when the supplier is
// not registered.
func (d *SupplierDirectory) Lookup(name string) (Supplier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.suppliers[name]
	return s, ok
}

// Register adds or replaces a supplier entry.
func (d *SupplierDirectory) Register(s Supplier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suppliers[s.Name] = s
}

// HTTPChannel places orders against a supplier's ordering API. The supplier
// Contact field holds the endpoint URL.
type HTTPChannel struct {
	client    *http.Client
	directory *SupplierDirectory
	logger    zerolog.Logger
}

// NewHTTPChannel builds the automated ordering channel. A nil client gets a
// 10 second default timeout.
func NewHTTPChannel(client *http.Client, directory *SupplierDirectory, logger zerolog.Logger) *HTTPChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPChannel{
		client:    client,
		directory: directory,
		logger:    logger.With().Str("component", "procurement-http").Logger(),
	}
}

// PlaceOrder posts the order as JSON to the supplier endpoint. Any non-2xx
// response is a failure.
func (c *HTTPChannel) PlaceOrder(ctx context.Context, req OrderRequest) error {
	supplier, ok := c.directory.Lookup(req.SupplierName)
	if !ok {
		return fmt.Errorf("supplier %s not registered", req.SupplierName)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, supplier.Contact, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post order to %s: %w", req.SupplierName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("supplier %s returned status %d", req.SupplierName, resp.StatusCode)
	}
	c.logger.Info().Str("order_id", req.OrderID).Str("sku", req.SKU).Str("supplier", req.SupplierName).Msg("order placed")
	return nil
}

// NotifyChannel sends the order as a templated email to the supplier contact
// address. Used for suppliers without an ordering API.
type NotifyChannel struct {
	manager   *notification.NotificationManager
	directory *SupplierDirectory
}

// NewNotifyChannel builds the email ordering channel.
func NewNotifyChannel(manager *notification.NotificationManager, directory *SupplierDirectory) *NotifyChannel {
	return &NotifyChannel{manager: manager, directory: directory}
}

// PlaceOrder renders the procurement-order template and emails it.
func (c *NotifyChannel) PlaceOrder(ctx context.Context, req OrderRequest) error {
	supplier, ok := c.directory.Lookup(req.SupplierName)
	if !ok {
		return fmt.Errorf("supplier %s not registered", req.SupplierName)
	}

	data := map[string]string{
		"order_id":      req.OrderID,
		"sku":           req.SKU,
		"material_name": req.MaterialName,
		"quantity":      strconv.Itoa(req.Quantity),
		"delivery_date": req.EstimatedDeliveryDate.Format("2006-01-02"),
	}
	if _, err := c.manager.SendFromTemplate(ctx, "procurement-order", data, supplier.Contact); err != nil {
		return fmt.Errorf("email order to %s: %w", req.SupplierName, err)
	}
	return nil
}
