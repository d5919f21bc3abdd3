// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	courierstore "github.com/xraph/courier/store"
	"github.com/xraph/courier/tenant"
	"github.com/xraph/courier/webhook"
)

// compile-time interface check.
var _ courierstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]*tenantData
	closed  bool
}

type tenantData struct {
	webhooks   map[string]*webhook.Webhook   // keyed by ID string
	deliveries map[string]*delivery.Delivery // keyed by ID string
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		tenants: make(map[string]*tenantData),
	}
}

// tenant returns the data for schema, creating it when create is set.
// Callers must hold s.mu (write lock when create is set).
func (s *Store) tenant(schema string, create bool) (*tenantData, error) {
	if s.closed {
		return nil, courierstore.ErrClosed
	}
	if err := tenant.ValidateSchema(schema); err != nil {
		return nil, err
	}
	t, ok := s.tenants[schema]
	if !ok && create {
		t = &tenantData{
			webhooks:   make(map[string]*webhook.Webhook),
			deliveries: make(map[string]*delivery.Delivery),
		}
		s.tenants[schema] = t
	}
	return t, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate registers schema.
func (s *Store) Migrate(_ context.Context, schema string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.tenant(schema, true)
	return err
}

// Schemas returns the known tenant schemas in lexical order.
func (s *Store) Schemas(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, courierstore.ErrClosed
	}
	out := make([]string, 0, len(s.tenants))
	for name := range s.tenants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return courierstore.ErrClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

// CreateWebhook persists a new subscription.
func (s *Store) CreateWebhook(_ context.Context, schema string, w *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.tenant(schema, true)
	if err != nil {
		return err
	}
	key := w.ID.String()
	if _, exists := t.webhooks[key]; exists {
		return fmt.Errorf("memory: webhook %s already exists", key)
	}
	t.webhooks[key] = copyWebhook(w)
	return nil
}

// GetWebhook returns a subscription by ID.
func (s *Store) GetWebhook(_ context.Context, schema string, whID id.ID) (*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.tenant(schema, false)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, webhook.ErrNotFound
	}
	w, ok := t.webhooks[whID.String()]
	if !ok {
		return nil, webhook.ErrNotFound
	}
	return copyWebhook(w), nil
}

// UpdateWebhook replaces an existing subscription.
func (s *Store) UpdateWebhook(_ context.Context, schema string, w *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.tenant(schema, false)
	if err != nil {
		return err
	}
	if t == nil {
		return webhook.ErrNotFound
	}
	key := w.ID.String()
	if _, ok := t.webhooks[key]; !ok {
		return webhook.ErrNotFound
	}
	t.webhooks[key] = copyWebhook(w)
	return nil
}

// DeleteWebhook removes a subscription.
func (s *Store) DeleteWebhook(_ context.Context, schema string, whID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.tenant(schema, false)
	if err != nil {
		return err
	}
	if t == nil {
		return webhook.ErrNotFound
	}
	key := whID.String()
	if _, ok := t.webhooks[key]; !ok {
		return webhook.ErrNotFound
	}
	delete(t.webhooks, key)
	return nil
}

// ListWebhooks returns subscriptions oldest first.
func (s *Store) ListWebhooks(_ context.Context, schema string, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.tenant(schema, false)
	if err != nil || t == nil {
		return nil, err
	}

	var result []*webhook.Webhook
	for _, w := range t.webhooks {
		if opts.Active != nil && w.Active != *opts.Active {
			continue
		}
		result = append(result, copyWebhook(w))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// MatchWebhooks returns active subscriptions to eventType.
func (s *Store) MatchWebhooks(_ context.Context, schema, eventType string) ([]*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.tenant(schema, false)
	if err != nil || t == nil {
		return nil, err
	}

	var result []*webhook.Webhook
	for _, w := range t.webhooks {
		if w.Matches(eventType) {
			result = append(result, copyWebhook(w))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// CreateDelivery persists a new delivery.
func (s *Store) CreateDelivery(_ context.Context, schema string, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.tenant(schema, true)
	if err != nil {
		return err
	}
	key := d.ID.String()
	if _, exists := t.deliveries[key]; exists {
		return fmt.Errorf("memory: delivery %s already exists", key)
	}
	t.deliveries[key] = copyDelivery(d)
	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(_ context.Context, schema string, delID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := s.lookup(schema, delID)
	if err != nil {
		return nil, err
	}
	return copyDelivery(d), nil
}

// ClaimDelivery leases a pending delivery that has no live lease.
func (s *Store) ClaimDelivery(_ context.Context, schema string, delID id.ID, c delivery.Claim) (*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.lookup(schema, delID)
	if err != nil {
		return nil, err
	}
	if d.Status != delivery.StatusPending || leased(d, time.Now()) {
		return nil, delivery.ErrNotClaimable
	}

	until := c.Until.UTC()
	d.ClaimToken = c.Token
	d.ClaimedUntil = &until
	return copyDelivery(d), nil
}

// UpdateDelivery stores attempt results and clears the lease.
func (s *Store) UpdateDelivery(_ context.Context, schema string, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.lookup(schema, d.ID)
	if err != nil {
		return err
	}
	if d.ClaimToken != "" && existing.ClaimToken != d.ClaimToken {
		return delivery.ErrClaimLost
	}

	next := copyDelivery(d)
	next.CreatedAt = existing.CreatedAt
	next.ClaimToken = ""
	next.ClaimedUntil = nil
	s.tenants[schema].deliveries[d.ID.String()] = next
	return nil
}

// ListDeliveries returns deliveries newest first.
func (s *Store) ListDeliveries(_ context.Context, schema string, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.tenant(schema, false)
	if err != nil || t == nil {
		return nil, err
	}

	var result []*delivery.Delivery
	for _, d := range t.deliveries {
		if !opts.WebhookID.IsNil() && d.WebhookID.String() != opts.WebhookID.String() {
			continue
		}
		if opts.Status != nil && d.Status != *opts.Status {
			continue
		}
		result = append(result, copyDelivery(d))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() > result[j].ID.String()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ResetDelivery moves a delivery back to pending.
func (s *Store) ResetDelivery(_ context.Context, schema string, delID id.ID, from ...delivery.Status) (*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.lookup(schema, delID)
	if err != nil {
		return nil, err
	}
	if len(from) > 0 && !slices.Contains(from, d.Status) {
		return nil, delivery.ErrNotFound
	}
	now := time.Now().UTC()
	if leased(d, now) {
		return nil, delivery.ErrInFlight
	}

	d.Status = delivery.StatusPending
	d.NextRetryAt = &now
	d.ClaimToken = ""
	d.ClaimedUntil = nil
	d.Touch()
	return copyDelivery(d), nil
}

// ListStale returns unleased pending deliveries due before the cutoff,
// oldest due first.
func (s *Store) ListStale(_ context.Context, schema string, before time.Time, limit int) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.tenant(schema, false)
	if err != nil || t == nil {
		return nil, err
	}

	now := time.Now()
	var result []*delivery.Delivery
	for _, d := range t.deliveries {
		if d.Status != delivery.StatusPending || leased(d, now) {
			continue
		}
		if dueAt(d).Before(before) {
			result = append(result, copyDelivery(d))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return dueAt(result[i]).Before(dueAt(result[j]))
	})
	return applyPagination(result, 0, limit), nil
}

// TouchStale stamps next_retry_at on a delivery that is still stale.
func (s *Store) TouchStale(_ context.Context, schema string, delID id.ID, before, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.lookup(schema, delID)
	if errors.Is(err, delivery.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if d.Status != delivery.StatusPending || leased(d, time.Now()) || !dueAt(d).Before(before) {
		return false, nil
	}
	at = at.UTC()
	d.NextRetryAt = &at
	return true, nil
}

// lookup returns the stored delivery. Callers must hold s.mu.
func (s *Store) lookup(schema string, delID id.ID) (*delivery.Delivery, error) {
	t, err := s.tenant(schema, false)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, delivery.ErrNotFound
	}
	d, ok := t.deliveries[delID.String()]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return d, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func leased(d *delivery.Delivery, now time.Time) bool {
	return d.ClaimedUntil != nil && d.ClaimedUntil.After(now)
}

func dueAt(d *delivery.Delivery) time.Time {
	if d.NextRetryAt != nil {
		return *d.NextRetryAt
	}
	return d.CreatedAt
}

func copyWebhook(w *webhook.Webhook) *webhook.Webhook {
	cp := *w
	cp.Events = slices.Clone(w.Events)
	return &cp
}

func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	cp.Payload = slices.Clone(d.Payload)
	cp.NextRetryAt = copyTime(d.NextRetryAt)
	cp.DeliveredAt = copyTime(d.DeliveredAt)
	cp.ClaimedUntil = copyTime(d.ClaimedUntil)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
