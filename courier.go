package courier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/ratelimit"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/tenant"
	"github.com/xraph/courier/webhook"
)

// Courier is the root webhook delivery pipeline.
type Courier struct {
	config    Config
	store     store.Store
	queue     queue.Queue
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	notifiers dlq.Notifiers
	usage     delivery.UsageRecorder
	limiter   delivery.Limiter
	sender    *delivery.Sender

	webhookSvc  *webhook.Service
	deliverySvc *delivery.Service
	dlqSvc      *dlq.Service
	dispatcher  *delivery.Dispatcher
	tasks       *delivery.Tasks
	worker      *delivery.Worker
	reconciler  *delivery.Reconciler
}

// New creates a new Courier with the given options.
func New(opts ...Option) (*Courier, error) {
	c := &Courier{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.store == nil {
		return nil, ErrNoStore
	}
	if c.queue == nil {
		return nil, ErrNoQueue
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.wireServices()
	return c, nil
}

// wireServices initializes the internal services after options have been applied.
func (c *Courier) wireServices() {
	if c.limiter == nil {
		c.limiter = ratelimit.New()
	}
	if c.sender == nil {
		c.sender = delivery.NewSender(c.config.RequestTimeout)
	}
	var notifier dlq.Notifier
	switch len(c.notifiers) {
	case 0:
	case 1:
		notifier = c.notifiers[0]
	default:
		notifier = c.notifiers
	}

	throttle, _ := c.limiter.(webhook.Throttle)
	c.webhookSvc = webhook.NewService(c.store, webhook.Config{
		AllowInsecureURLs: c.config.AllowInsecureURLs,
		Throttle:          throttle,
	}, c.logger)

	c.deliverySvc = delivery.NewService(c.store, c.queue, c.sender, c.metrics, c.logger)

	c.dlqSvc = dlq.NewService(c.store, c.queue, notifier, c.metrics, c.logger)

	c.dispatcher = delivery.NewDispatcher(c.store, c.queue, c.metrics, c.logger)

	c.tasks = delivery.NewTasks(c.config.TaskErrorBuffer, c.logger)

	c.worker = delivery.NewWorker(c.store, c.queue, delivery.WorkerConfig{
		PollInterval:   c.config.PollInterval,
		BatchSize:      c.config.BatchSize,
		Concurrency:    c.config.Concurrency,
		RequestTimeout: c.config.RequestTimeout,
		RetrySchedule:  c.config.RetrySchedule,
		LeaseDuration:  c.config.LeaseDuration,
		RecoveryGrace:  c.config.RecoveryGrace,
		DeadLetters:    c.dlqSvc,
		Usage:          c.usage,
		Limiter:        c.limiter,
		Tasks:          c.tasks,
		Sender:         c.sender,
		Metrics:        c.metrics,
		Tracer:         c.tracer,
	}, c.logger)

	c.reconciler = delivery.NewReconciler(c.store, c.queue, delivery.ReconcilerConfig{
		Interval:  c.config.ReconcileInterval,
		Grace:     c.config.ReconcileGrace,
		BatchSize: 100,
		Metrics:   c.metrics,
	}, c.logger)
}

// Start begins the delivery worker and, unless disabled, the reconciler.
func (c *Courier) Start(ctx context.Context) error {
	if err := c.worker.Start(ctx); err != nil {
		return err
	}
	if c.config.ReconcileInterval > 0 {
		c.reconciler.Start(ctx)
	}
	return nil
}

// Stop halts the reconciler and the worker, waiting for in-flight attempts
// and background tasks up to ShutdownTimeout or ctx, whichever ends first.
func (c *Courier) Stop(ctx context.Context) error {
	if c.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ShutdownTimeout)
		defer cancel()
	}
	return errors.Join(
		c.reconciler.Stop(ctx),
		c.worker.Stop(ctx),
	)
}

// Migrate creates the tables for one tenant schema.
func (c *Courier) Migrate(ctx context.Context, schema string) error {
	if err := tenant.ValidateSchema(schema); err != nil {
		return err
	}
	if err := c.store.Migrate(ctx, schema); err != nil {
		return fmt.Errorf("courier: migrate %s: %w", schema, err)
	}
	c.logger.InfoContext(ctx, "tenant schema migrated", "schema", schema)
	return nil
}

// Dispatch creates one pending delivery per active subscription in schema
// that wants eventType, and enqueues each. data is serialized once into the
// envelope's data field.
func (c *Courier) Dispatch(ctx context.Context, schema, eventType string, data any) ([]*delivery.Delivery, error) {
	return c.dispatcher.Dispatch(ctx, schema, eventType, data)
}

// Webhooks returns the subscription management service.
func (c *Courier) Webhooks() *webhook.Service {
	return c.webhookSvc
}

// Deliveries returns the delivery management service.
func (c *Courier) Deliveries() *delivery.Service {
	return c.deliverySvc
}

// DeadLetters returns the dead-letter service.
func (c *Courier) DeadLetters() *dlq.Service {
	return c.dlqSvc
}

// Dispatcher returns the event dispatcher.
func (c *Courier) Dispatcher() *delivery.Dispatcher {
	return c.dispatcher
}

// Worker returns the delivery worker.
func (c *Courier) Worker() *delivery.Worker {
	return c.worker
}

// Reconciler returns the orphan reconciler.
func (c *Courier) Reconciler() *delivery.Reconciler {
	return c.reconciler
}

// Store returns the underlying store.
func (c *Courier) Store() store.Store {
	return c.store
}

// Queue returns the underlying job queue.
func (c *Courier) Queue() queue.Queue {
	return c.queue
}

// Config returns the effective configuration.
func (c *Courier) Config() Config {
	return c.config
}

// TaskErrors returns failures of background side effects such as
// dead-letter notification and usage recording.
func (c *Courier) TaskErrors() <-chan error {
	return c.tasks.Errors()
}
