package dlq

import (
	"context"
	"errors"
	"log/slog"
)

// Notifier receives dead-letter notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notice) error {
	return f(ctx, n)
}

// LogNotifier writes each notice to a logger at warn level.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs n.
func (l LogNotifier) Notify(ctx context.Context, n Notice) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "webhook delivery dead",
		"schema", n.TenantSchema,
		"delivery_id", n.DeliveryID,
		"webhook_id", n.WebhookID,
		"event_type", n.EventType,
		"attempts", n.AttemptCount,
		"last_status", n.LastStatusCode,
		"error", n.Error,
	)
	return nil
}

// Notifiers fans a notice out to every notifier and joins their errors.
type Notifiers []Notifier

// Notify calls every notifier, even after one fails.
func (ns Notifiers) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, nt := range ns {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
