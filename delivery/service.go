package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/tenant"
	"github.com/xraph/courier/webhook"
)

// TestEventType is the event type of test sends.
const TestEventType = "webhook.test"

// ServiceStore is the interface the management service needs.
type ServiceStore interface {
	GetWebhook(ctx context.Context, schema string, whID id.ID) (*webhook.Webhook, error)
	GetDelivery(ctx context.Context, schema string, delID id.ID) (*Delivery, error)
	ListDeliveries(ctx context.Context, schema string, opts ListOpts) ([]*Delivery, error)
	ResetDelivery(ctx context.Context, schema string, delID id.ID, from ...Status) (*Delivery, error)
}

// TestResult reports the outcome of a test send.
type TestResult struct {
	DeliveryID   id.ID  `json:"delivery_id"`
	EventID      id.ID  `json:"event_id"`
	Success      bool   `json:"success"`
	StatusCode   int    `json:"status_code,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
	Error        string `json:"error,omitempty"`
	LatencyMs    int    `json:"latency_ms"`
}

// Service provides delivery inspection and operator actions.
type Service struct {
	store   ServiceStore
	queue   queue.Queue
	sender  *Sender
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService creates a delivery management service. A nil sender uses a
// sender with a 10s timeout.
func NewService(store ServiceStore, q queue.Queue, sender *Sender, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		sender = NewSender(0)
	}
	return &Service{
		store:   store,
		queue:   q,
		sender:  sender,
		metrics: metrics,
		logger:  logger,
	}
}

// List returns deliveries of one subscription, newest first.
func (s *Service) List(ctx context.Context, schema string, whID id.ID, opts ListOpts) ([]*Delivery, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return nil, err
	}
	if opts.Status != nil && !opts.Status.Valid() {
		return nil, &webhook.ValidationError{Field: "status", Message: "unknown status"}
	}
	if _, err := s.store.GetWebhook(ctx, schema, whID); err != nil {
		return nil, err
	}
	opts.WebhookID = whID
	return s.store.ListDeliveries(ctx, schema, opts)
}

// Get returns one delivery.
func (s *Service) Get(ctx context.Context, schema string, delID id.ID) (*Delivery, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return nil, err
	}
	return s.store.GetDelivery(ctx, schema, delID)
}

// Redeliver resets a delivery to pending from any status and enqueues it.
// The attempt count is kept.
func (s *Service) Redeliver(ctx context.Context, schema string, delID id.ID) (*Delivery, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return nil, err
	}
	d, err := s.store.ResetDelivery(ctx, schema, delID)
	if err != nil {
		return nil, err
	}

	if err := s.queue.Push(ctx, JobFor(schema, d)); err != nil {
		s.metrics.QueueError("push")
		s.logger.ErrorContext(ctx, "enqueue redelivery failed; left for reconciler",
			"schema", schema, "delivery_id", d.ID, "error", err)
	}
	s.metrics.Requeue()
	s.logger.InfoContext(ctx, "delivery redelivered", "schema", schema, "delivery_id", d.ID)
	return d, nil
}

// Test sends a signed webhook.test envelope to a subscription right away.
// Nothing is persisted or enqueued.
func (s *Service) Test(ctx context.Context, schema string, whID id.ID) (*TestResult, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return nil, err
	}
	wh, err := s.store.GetWebhook(ctx, schema, whID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(map[string]string{
		"webhook_id": wh.ID.String(),
		"message":    "This is a test delivery.",
	})
	if err != nil {
		return nil, fmt.Errorf("delivery: marshal test data: %w", err)
	}
	env, payload, err := NewEnvelope(TestEventType, data)
	if err != nil {
		return nil, fmt.Errorf("delivery: build test envelope: %w", err)
	}

	delID := id.NewDeliveryID()
	res := s.sender.Send(ctx, Request{
		URL:        wh.URL,
		Secret:     wh.Secret,
		WebhookID:  wh.ID.String(),
		DeliveryID: delID.String(),
		Payload:    payload,
	})

	return &TestResult{
		DeliveryID:   delID,
		EventID:      env.ID,
		Success:      res.OK(),
		StatusCode:   res.StatusCode,
		ResponseBody: res.Response,
		Error:        res.Error,
		LatencyMs:    res.LatencyMs,
	}, nil
}
