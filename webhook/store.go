package webhook

import (
	"context"

	"github.com/xraph/courier/id"
)

// Store defines the persistence contract for subscriptions.
// Every call is scoped to a tenant schema.
type Store interface {
	// CreateWebhook persists a new subscription.
	CreateWebhook(ctx context.Context, schema string, w *Webhook) error

	// GetWebhook returns a subscription by ID, or ErrNotFound.
	GetWebhook(ctx context.Context, schema string, whID id.ID) (*Webhook, error)

	// UpdateWebhook replaces a subscription's mutable fields.
	UpdateWebhook(ctx context.Context, schema string, w *Webhook) error

	// DeleteWebhook removes a subscription.
	DeleteWebhook(ctx context.Context, schema string, whID id.ID) error

	// ListWebhooks returns subscriptions, oldest first.
	ListWebhooks(ctx context.Context, schema string, opts ListOpts) ([]*Webhook, error)

	// MatchWebhooks returns the active subscriptions whose event set
	// contains eventType. This is the dispatch hot path.
	MatchWebhooks(ctx context.Context, schema, eventType string) ([]*Webhook, error)
}
