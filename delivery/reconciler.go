package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
)

// ReconcileStore is the interface the reconciler needs.
type ReconcileStore interface {
	// Schemas lists the tenant schemas the store holds data for.
	Schemas(ctx context.Context) ([]string, error)
	ListStale(ctx context.Context, schema string, before time.Time, limit int) ([]*Delivery, error)
	TouchStale(ctx context.Context, schema string, delID id.ID, before, at time.Time) (bool, error)
}

// ReconcilerConfig holds reconciler configuration.
type ReconcilerConfig struct {
	// Interval between sweeps.
	Interval time.Duration

	// Grace is how long a pending delivery may sit past its due time before
	// it is considered orphaned.
	Grace time.Duration

	// BatchSize caps deliveries re-enqueued per schema per sweep.
	BatchSize int

	Metrics *observability.Metrics
}

// Reconciler re-enqueues pending deliveries that lost their queue job, such
// as when a push failed after commit or a retry timer died with its process.
type Reconciler struct {
	store  ReconcileStore
	queue  queue.Queue
	config ReconcilerConfig
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler creates a reconciler.
func NewReconciler(store ReconcileStore, q queue.Queue, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reconciler{
		store:  store,
		queue:  q,
		config: cfg,
		logger: logger,
	}
}

// Start begins periodic sweeps. Calling Start on a running reconciler is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
					r.logger.ErrorContext(ctx, "reconcile sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts sweeping and waits for an in-progress sweep or for ctx.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs one pass over every tenant schema and returns the number of
// deliveries re-enqueued. Each delivery is stamped due before its push, so
// it is not picked up again until another grace period has passed.
// Per-schema failures are joined; the sweep continues past them.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	schemas, err := r.store.Schemas(ctx)
	if err != nil {
		return 0, fmt.Errorf("delivery: list schemas: %w", err)
	}

	now := time.Now().UTC()
	cutoff := now.Add(-r.config.Grace)
	var (
		total int
		errs  []error
	)
	for _, schema := range schemas {
		stale, err := r.store.ListStale(ctx, schema, cutoff, r.config.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("delivery: list stale in %s: %w", schema, err))
			continue
		}
		for _, d := range stale {
			ok, err := r.store.TouchStale(ctx, schema, d.ID, cutoff, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("delivery: stamp %s: %w", d.ID, err))
				continue
			}
			if !ok {
				continue
			}
			if err := r.queue.Push(ctx, JobFor(schema, d)); err != nil {
				r.config.Metrics.QueueError("push")
				errs = append(errs, fmt.Errorf("delivery: re-enqueue %s: %w", d.ID, err))
				continue
			}
			total++
		}
	}

	r.config.Metrics.Reconcile(total)
	if total > 0 {
		r.logger.InfoContext(ctx, "re-enqueued stale deliveries", "count", total)
	}
	return total, errors.Join(errs...)
}
