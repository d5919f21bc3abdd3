// Package webhook manages tenant webhook subscriptions: the target URL, the
// signing secret, and the set of event types an endpoint wants to receive.
package webhook

import (
	"errors"
	"slices"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// ErrNotFound is returned when a subscription does not exist in the tenant schema.
var ErrNotFound = errors.New("webhook: subscription not found")

// Webhook is a tenant-configured delivery target.
type Webhook struct {
	entity.Entity

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// URL is the HTTPS endpoint deliveries are POSTed to.
	URL string `json:"url"`

	// Secret is the HMAC signing secret. Never serialized.
	Secret string `json:"-"`

	// Events is the set of event types this subscription receives.
	Events []string `json:"events"`

	// Active subscriptions take part in dispatch matching.
	Active bool `json:"active"`

	// Description is free text shown to operators.
	Description string `json:"description"`

	// OwnerID identifies the user or service that created the subscription.
	OwnerID string `json:"owner_id,omitempty"`

	// RateLimit caps deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`
}

// Subscribes reports whether the subscription wants eventType.
func (w *Webhook) Subscribes(eventType string) bool {
	return slices.Contains(w.Events, eventType)
}

// Matches reports whether an active subscription wants eventType.
func (w *Webhook) Matches(eventType string) bool {
	return w.Active && w.Subscribes(eventType)
}
