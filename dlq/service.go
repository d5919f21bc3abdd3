// Package dlq manages dead deliveries: listing them, putting them back on the
// queue, and announcing new ones to notifiers.
package dlq

import (
	"context"
	"log/slog"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/tenant"
)

// compile-time interface check.
var _ delivery.DeadLetterNotifier = (*Service)(nil)

// Service manages the dead letter queue.
type Service struct {
	store    Store
	queue    queue.Queue
	notifier Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewService creates a new dead-letter service. A nil notifier logs notices.
func NewService(store Store, q queue.Queue, notifier Notifier, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &Service{
		store:    store,
		queue:    q,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// ListDead returns every dead delivery in schema, newest first.
func (svc *Service) ListDead(ctx context.Context, schema string) ([]*delivery.Delivery, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return nil, err
	}
	dead := delivery.StatusDead
	return svc.store.ListDeliveries(ctx, schema, delivery.ListOpts{Status: &dead})
}

// Requeue moves a dead delivery back to pending and enqueues it. The
// attempt count is kept, so a requeued delivery that fails again goes
// straight back to dead. A delivery that is missing or not dead yields
// delivery.ErrNotFound.
func (svc *Service) Requeue(ctx context.Context, schema string, delID id.ID) (*delivery.Delivery, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return nil, err
	}
	d, err := svc.store.ResetDelivery(ctx, schema, delID, delivery.StatusDead)
	if err != nil {
		return nil, err
	}

	if err := svc.queue.Push(ctx, delivery.JobFor(schema, d)); err != nil {
		svc.metrics.QueueError("push")
		svc.logger.ErrorContext(ctx, "enqueue requeued delivery failed; left for reconciler",
			"schema", schema, "delivery_id", d.ID, "error", err)
	}
	svc.metrics.Requeue()
	svc.logger.InfoContext(ctx, "dead delivery requeued",
		"schema", schema, "delivery_id", d.ID, "attempts", d.AttemptCount)
	return d, nil
}

// NotifyDead announces a delivery that just went dead.
func (svc *Service) NotifyDead(ctx context.Context, schema string, d *delivery.Delivery) error {
	return svc.notifier.Notify(ctx, NewNotice(schema, d))
}
