package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/tenant"
	"github.com/xraph/courier/webhook"
)

// ErrInvalidEventType is returned by Dispatch for a blank event type.
var ErrInvalidEventType = errors.New("delivery: event type is required")

// DispatchStore is the interface the dispatcher needs for fan-out.
type DispatchStore interface {
	MatchWebhooks(ctx context.Context, schema, eventType string) ([]*webhook.Webhook, error)
	CreateDelivery(ctx context.Context, schema string, d *Delivery) error
}

// Dispatcher fans an application event out to matching subscriptions.
type Dispatcher struct {
	store   DispatchStore
	queue   queue.Queue
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store DispatchStore, q queue.Queue, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		queue:   q,
		metrics: metrics,
		logger:  logger,
	}
}

// Dispatch creates one pending delivery per active subscription of schema
// that subscribes to eventType, and enqueues each. data is marshaled to
// JSON once; pass a json.RawMessage to supply pre-encoded data.
//
// Deliveries are committed before they are enqueued. A failed enqueue is
// logged and left for the reconciler; it does not fail the dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, schema, eventType string, data any) ([]*Delivery, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return nil, err
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, ErrInvalidEventType
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("delivery: marshal event data: %w", err)
	}

	hooks, err := d.store.MatchWebhooks(ctx, schema, eventType)
	if err != nil {
		return nil, fmt.Errorf("delivery: match webhooks: %w", err)
	}
	if len(hooks) == 0 {
		d.metrics.EventDispatched(0)
		d.logger.DebugContext(ctx, "no subscriptions for event", "schema", schema, "event_type", eventType)
		return nil, nil
	}

	out := make([]*Delivery, 0, len(hooks))
	for _, wh := range hooks {
		_, payload, err := NewEnvelope(eventType, raw)
		if err != nil {
			return out, fmt.Errorf("delivery: build envelope: %w", err)
		}

		del := &Delivery{
			Entity:    entity.New(),
			ID:        id.NewDeliveryID(),
			WebhookID: wh.ID,
			EventType: eventType,
			Payload:   payload,
			Status:    StatusPending,
		}
		if err := d.store.CreateDelivery(ctx, schema, del); err != nil {
			return out, fmt.Errorf("delivery: create delivery for %s: %w", wh.ID, err)
		}
		out = append(out, del)

		if err := d.queue.Push(ctx, JobFor(schema, del)); err != nil {
			d.metrics.QueueError("push")
			d.logger.ErrorContext(ctx, "enqueue delivery failed; left for reconciler",
				"schema", schema, "delivery_id", del.ID, "error", err)
		}
	}

	d.metrics.EventDispatched(len(out))
	d.logger.DebugContext(ctx, "event dispatched",
		"schema", schema, "event_type", eventType, "deliveries", len(out))

	return out, nil
}
