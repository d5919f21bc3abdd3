package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/tenant"
	"github.com/xraph/courier/webhook"
)

// earlyTolerance absorbs clock skew between replicas when deciding whether a
// job arrived before its scheduled retry.
const earlyTolerance = time.Second

// ErrWorkerRunning is returned by Start on a worker that is already running.
var ErrWorkerRunning = errors.New("delivery: worker already running")

// WorkerStore is the interface the worker needs for delivery operations.
type WorkerStore interface {
	GetDelivery(ctx context.Context, schema string, delID id.ID) (*Delivery, error)
	ClaimDelivery(ctx context.Context, schema string, delID id.ID, c Claim) (*Delivery, error)
	UpdateDelivery(ctx context.Context, schema string, d *Delivery) error
	GetWebhook(ctx context.Context, schema string, whID id.ID) (*webhook.Webhook, error)
}

// DeadLetterNotifier is told about every delivery that goes dead.
type DeadLetterNotifier interface {
	NotifyDead(ctx context.Context, schema string, d *Delivery) error
}

// UsageRecorder is told about every completed attempt.
type UsageRecorder interface {
	RecordAttempt(ctx context.Context, schema string, d *Delivery, res Result) error
}

// Limiter throttles deliveries per subscription. Delay returns how long the
// caller must wait before the next send for key, or zero to send now.
type Limiter interface {
	Delay(key string, perSecond int) time.Duration
}

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	// PollInterval is how often the queue is polled.
	PollInterval time.Duration

	// BatchSize is the maximum number of jobs popped per poll.
	BatchSize int

	// Concurrency caps in-flight attempts.
	Concurrency int

	// RequestTimeout bounds each HTTP attempt.
	RequestTimeout time.Duration

	// RetrySchedule is the backoff after each failed attempt.
	RetrySchedule []time.Duration

	// LeaseDuration is how long a claim protects a delivery from other workers.
	LeaseDuration time.Duration

	// RecoveryGrace is added to a retry delay to form the recovery copy's TTL.
	RecoveryGrace time.Duration

	DeadLetters DeadLetterNotifier
	Usage       UsageRecorder
	Limiter     Limiter
	Tasks       *Tasks
	Sender      *Sender
	Metrics     *observability.Metrics
	Tracer      *observability.Tracer
}

func (c *WorkerConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 3 * c.RequestTimeout
	}
	if c.RecoveryGrace <= 0 {
		c.RecoveryGrace = time.Minute
	}
}

// Worker polls the queue and performs signed delivery attempts.
type Worker struct {
	store   WorkerStore
	queue   queue.Queue
	sender  *Sender
	retrier *Retrier
	tasks   *Tasks
	config  WorkerConfig
	logger  *slog.Logger
	owner   string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	timers  map[string]*time.Timer

	sem    chan struct{}
	loopWG sync.WaitGroup
	jobsWG sync.WaitGroup
}

// NewWorker creates a delivery worker.
func NewWorker(store WorkerStore, q queue.Queue, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()

	sender := cfg.Sender
	if sender == nil {
		sender = NewSender(cfg.RequestTimeout)
	}
	tasks := cfg.Tasks
	if tasks == nil {
		tasks = NewTasks(64, logger)
	}
	owner := uuid.NewString()

	return &Worker{
		store:   store,
		queue:   q,
		sender:  sender,
		retrier: NewRetrier(cfg.RetrySchedule),
		tasks:   tasks,
		config:  cfg,
		logger:  logger.With("worker", owner),
		owner:   owner,
		timers:  make(map[string]*time.Timer),
		sem:     make(chan struct{}, cfg.Concurrency),
	}
}

// Start re-arms persisted retries and begins the poll loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWorkerRunning
	}
	w.running = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.recoverRetries(ctx)

	w.loopWG.Add(1)
	go func() {
		defer w.loopWG.Done()
		w.pollLoop(ctx)
	}()

	w.logger.InfoContext(ctx, "delivery worker started",
		"poll_interval", w.config.PollInterval, "concurrency", w.config.Concurrency)
	return nil
}

// Stop halts polling and cancels pending re-enqueue timers, then waits for
// in-flight attempts and background tasks or for ctx to end. Recovery
// copies of cancelled retries survive for the next Start.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	for key, t := range w.timers {
		t.Stop()
		delete(w.timers, key)
	}
	cancel := w.cancel
	w.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		w.loopWG.Wait()
		w.jobsWG.Wait()
		w.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("delivery worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the worker has been started and not stopped.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Scheduled returns the number of armed retry timers.
func (w *Worker) Scheduled() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

// Tasks returns the background task runner.
func (w *Worker) Tasks() *Tasks {
	return w.tasks
}

// pollLoop pops jobs on every tick while concurrency slots are free.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	for range w.config.BatchSize {
		select {
		case w.sem <- struct{}{}:
		default:
			return
		}

		job, err := w.queue.Pop(ctx)
		if err != nil {
			<-w.sem
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrMalformedJob) {
				w.logger.WarnContext(ctx, "discarding malformed job", "error", err)
				continue
			}
			w.config.Metrics.QueueError("pop")
			w.logger.ErrorContext(ctx, "dequeue failed", "error", err)
			return
		}
		if job == nil {
			<-w.sem
			return
		}

		w.jobsWG.Add(1)
		go func(j queue.Job) {
			defer w.jobsWG.Done()
			defer func() { <-w.sem }()
			defer func() {
				if rec := recover(); rec != nil {
					w.logger.Error("panic processing delivery",
						"delivery_id", j.DeliveryID, "panic", rec)
				}
			}()
			// In-flight attempts outlive Stop; only the HTTP timeout bounds them.
			w.process(context.WithoutCancel(ctx), j)
		}(*job)
	}
}

// process runs one attempt for one job.
func (w *Worker) process(ctx context.Context, job queue.Job) {
	schema := job.TenantSchema
	if err := tenant.ValidateSchema(schema); err != nil {
		w.logger.WarnContext(ctx, "dropping job without valid tenant schema",
			"delivery_id", job.DeliveryID, "error", err)
		return
	}
	ctx = tenant.WithSchema(ctx, schema)

	now := time.Now().UTC()
	d, err := w.store.ClaimDelivery(ctx, schema, job.DeliveryID, Claim{
		Token: uuid.NewString(),
		Until: now.Add(w.config.LeaseDuration),
	})
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotClaimable):
		w.logger.DebugContext(ctx, "skipping stale job",
			"schema", schema, "delivery_id", job.DeliveryID, "reason", err)
		return
	case err != nil:
		w.logger.ErrorContext(ctx, "claim delivery failed",
			"schema", schema, "delivery_id", job.DeliveryID, "error", err)
		return
	}

	if d.NextRetryAt != nil && d.NextRetryAt.After(now.Add(earlyTolerance)) {
		w.logger.DebugContext(ctx, "job ahead of scheduled retry",
			"schema", schema, "delivery_id", d.ID, "next_retry_at", d.NextRetryAt)
		w.release(ctx, schema, d)
		return
	}

	var span trace.Span
	if w.config.Tracer != nil {
		ctx, span = w.config.Tracer.StartDeliverySpan(ctx, schema, d.ID.String(), d.WebhookID.String())
	}

	wh, err := w.store.GetWebhook(ctx, schema, d.WebhookID)
	if err != nil {
		if errors.Is(err, webhook.ErrNotFound) {
			w.deadLetterOrphan(ctx, schema, d)
			w.endSpan(span, 0, 0, "webhook subscription not found")
			return
		}
		w.logger.ErrorContext(ctx, "get webhook failed",
			"schema", schema, "delivery_id", d.ID, "webhook_id", d.WebhookID, "error", err)
		w.release(ctx, schema, d)
		w.endSpan(span, 0, 0, err.Error())
		return
	}

	if wh.RateLimit > 0 && w.config.Limiter != nil {
		if wait := w.config.Limiter.Delay(wh.ID.String(), wh.RateLimit); wait > 0 {
			w.logger.DebugContext(ctx, "delivery throttled",
				"schema", schema, "delivery_id", d.ID, "wait", wait)
			w.release(ctx, schema, d)
			w.schedule(job, wait)
			w.endSpan(span, 0, 0, "throttled")
			return
		}
	}

	result := w.sender.Send(ctx, Request{
		URL:        wh.URL,
		Secret:     wh.Secret,
		WebhookID:  wh.ID.String(),
		DeliveryID: d.ID.String(),
		Payload:    d.Payload,
	})

	decision, delay := w.apply(d, result)
	w.endSpan(span, result.StatusCode, result.LatencyMs, result.Error)

	if err := w.store.UpdateDelivery(ctx, schema, d); err != nil {
		if errors.Is(err, ErrClaimLost) {
			w.logger.WarnContext(ctx, "claim lost before update; attempt result discarded",
				"schema", schema, "delivery_id", d.ID)
			return
		}
		w.logger.ErrorContext(ctx, "update delivery failed",
			"schema", schema, "delivery_id", d.ID, "error", err)
		return
	}

	w.config.Metrics.RecordAttempt(decision.String(), float64(result.LatencyMs)/1000.0)
	w.recordUsage(ctx, schema, d, result)

	switch decision {
	case Delivered:
		w.forgetRetry(ctx, d.ID)
		w.logger.DebugContext(ctx, "delivered",
			"schema", schema, "delivery_id", d.ID, "status", result.StatusCode, "latency_ms", result.LatencyMs)

	case Retry:
		next := JobFor(schema, d)
		if err := w.queue.SaveRetry(ctx, next, delay+w.config.RecoveryGrace); err != nil {
			w.config.Metrics.QueueError("save_retry")
			w.logger.ErrorContext(ctx, "save retry copy failed",
				"schema", schema, "delivery_id", d.ID, "error", err)
		}
		w.schedule(next, delay)
		w.logger.DebugContext(ctx, "retry scheduled",
			"schema", schema, "delivery_id", d.ID, "attempt", d.AttemptCount, "next_retry_at", d.NextRetryAt)

	case Dead:
		w.forgetRetry(ctx, d.ID)
		w.notifyDead(ctx, schema, d)
		w.logger.WarnContext(ctx, "delivery dead-lettered",
			"schema", schema, "delivery_id", d.ID, "attempts", d.AttemptCount, "error", d.LastError)
	}
}

// apply records an attempt result on d and moves it to its next state.
func (w *Worker) apply(d *Delivery, res Result) (Decision, time.Duration) {
	now := time.Now().UTC()

	d.AttemptCount++
	d.LastResponseStatus = res.StatusCode
	d.LastResponseBody = res.Response
	d.LastError = res.Error
	d.Touch()

	decision := w.retrier.Decide(res, d.AttemptCount)
	var delay time.Duration
	switch decision {
	case Delivered:
		d.Status = StatusSuccess
		d.DeliveredAt = &now
		d.NextRetryAt = nil
	case Retry:
		delay, _ = w.retrier.Delay(d.AttemptCount)
		next := now.Add(delay)
		d.Status = StatusPending
		d.NextRetryAt = &next
	case Dead:
		d.Status = StatusDead
		d.NextRetryAt = nil
	}
	return decision, delay
}

// deadLetterOrphan marks a delivery whose subscription vanished as dead
// without counting an attempt.
func (w *Worker) deadLetterOrphan(ctx context.Context, schema string, d *Delivery) {
	d.Status = StatusDead
	d.NextRetryAt = nil
	d.LastError = "webhook subscription not found"
	d.Touch()

	if err := w.store.UpdateDelivery(ctx, schema, d); err != nil {
		w.logger.ErrorContext(ctx, "dead-letter orphaned delivery failed",
			"schema", schema, "delivery_id", d.ID, "error", err)
		return
	}
	w.config.Metrics.RecordAttempt(Dead.String(), 0)
	w.forgetRetry(ctx, d.ID)
	w.notifyDead(ctx, schema, d)
	w.logger.WarnContext(ctx, "delivery dead-lettered: webhook subscription not found",
		"schema", schema, "delivery_id", d.ID, "webhook_id", d.WebhookID)
}

// release drops the lease without recording an attempt.
func (w *Worker) release(ctx context.Context, schema string, d *Delivery) {
	if err := w.store.UpdateDelivery(ctx, schema, d); err != nil && !errors.Is(err, ErrClaimLost) {
		w.logger.WarnContext(ctx, "release claim failed",
			"schema", schema, "delivery_id", d.ID, "error", err)
	}
}

func (w *Worker) notifyDead(ctx context.Context, schema string, d *Delivery) {
	w.config.Metrics.DeadLettered()
	if w.config.DeadLetters == nil {
		return
	}
	snapshot := *d
	w.tasks.Go(ctx, "dead-letter-notify", func(ctx context.Context) error {
		return w.config.DeadLetters.NotifyDead(ctx, schema, &snapshot)
	})
}

func (w *Worker) recordUsage(ctx context.Context, schema string, d *Delivery, res Result) {
	if w.config.Usage == nil {
		return
	}
	snapshot := *d
	w.tasks.Go(ctx, "usage-record", func(ctx context.Context) error {
		return w.config.Usage.RecordAttempt(ctx, schema, &snapshot, res)
	})
}

func (w *Worker) forgetRetry(ctx context.Context, delID id.ID) {
	if err := w.queue.DeleteRetry(ctx, delID); err != nil {
		w.logger.DebugContext(ctx, "delete retry copy failed", "delivery_id", delID, "error", err)
	}
}

func (w *Worker) endSpan(span trace.Span, status, latencyMs int, errMsg string) {
	if span != nil {
		w.config.Tracer.EndDeliverySpan(span, status, latencyMs, errMsg)
	}
}

// ──────────────────────────────────────────────────
// Retry timers
// ──────────────────────────────────────────────────

// schedule arms a timer that pushes job back onto the queue after delay.
func (w *Worker) schedule(job queue.Job, delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	key := job.DeliveryID.String()
	if prev, ok := w.timers[key]; ok {
		prev.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(max(delay, 0), func() {
		w.mu.Lock()
		if w.timers[key] == t {
			delete(w.timers, key)
		}
		running := w.running
		w.mu.Unlock()

		if running {
			w.fire(job)
		}
	})
	w.timers[key] = t
}

// fire pushes a due retry back onto the queue.
func (w *Worker) fire(job queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.RequestTimeout)
	defer cancel()

	if err := w.queue.Push(ctx, job); err != nil {
		w.config.Metrics.QueueError("push")
		w.logger.ErrorContext(ctx, "re-enqueue failed; recovery copy kept",
			"delivery_id", job.DeliveryID, "error", err)
		return
	}
	w.forgetRetry(ctx, job.DeliveryID)
}

// recoverRetries re-arms timers for recovery copies left by a previous run.
func (w *Worker) recoverRetries(ctx context.Context) {
	jobs, err := w.queue.PendingRetries(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "load pending retries failed", "error", err)
		return
	}

	recovered := 0
	for _, job := range jobs {
		if tenant.ValidateSchema(job.TenantSchema) != nil {
			w.forgetRetry(ctx, job.DeliveryID)
			continue
		}
		d, err := w.store.GetDelivery(ctx, job.TenantSchema, job.DeliveryID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				w.forgetRetry(ctx, job.DeliveryID)
				continue
			}
			w.logger.ErrorContext(ctx, "recover retry failed",
				"schema", job.TenantSchema, "delivery_id", job.DeliveryID, "error", err)
			continue
		}
		if d.Status != StatusPending {
			w.forgetRetry(ctx, job.DeliveryID)
			continue
		}

		var delay time.Duration
		if d.NextRetryAt != nil {
			delay = time.Until(*d.NextRetryAt)
		}
		w.schedule(job, delay)
		recovered++
	}

	if recovered > 0 {
		w.logger.InfoContext(ctx, "recovered scheduled retries", "count", recovered)
	}
}

// JobFor builds the queue job that points at d.
func JobFor(schema string, d *Delivery) queue.Job {
	return queue.Job{
		DeliveryID:   d.ID,
		WebhookID:    d.WebhookID,
		TenantSchema: schema,
	}
}
