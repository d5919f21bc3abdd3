package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/courier/tenant"
)

// Tasks runs fire-and-forget side effects (dead-letter notification, usage
// recording) in tracked goroutines. A failing task never affects the state
// transition that spawned it; its error is logged and offered on Errors.
type Tasks struct {
	wg     sync.WaitGroup
	errs   chan error
	logger *slog.Logger
}

// NewTasks creates a task runner whose error channel buffers up to buffer
// errors. Errors beyond the buffer are dropped after logging.
func NewTasks(buffer int, logger *slog.Logger) *Tasks {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Tasks{
		errs:   make(chan error, buffer),
		logger: logger,
	}
}

// Go runs fn in the background. The context passed to fn is detached from
// ctx's cancellation so a stopping worker does not abort notifications.
func (t *Tasks) Go(ctx context.Context, name string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				t.report(ctx, name, fmt.Errorf("panic: %v", rec))
			}
		}()
		if err := fn(ctx); err != nil {
			t.report(ctx, name, err)
		}
	}()
}

// Errors returns the channel task failures are published on.
func (t *Tasks) Errors() <-chan error {
	return t.errs
}

// Wait blocks until every started task has returned.
func (t *Tasks) Wait() {
	t.wg.Wait()
}

func (t *Tasks) report(ctx context.Context, name string, err error) {
	attrs := []any{"task", name}
	if schema, ok := tenant.FromContext(ctx); ok {
		err = fmt.Errorf("delivery: task %s (%s): %w", name, schema, err)
		attrs = append(attrs, "schema", schema)
	} else {
		err = fmt.Errorf("delivery: task %s: %w", name, err)
	}
	t.logger.WarnContext(ctx, "background task failed", append(attrs, "error", err)...)
	select {
	case t.errs <- err:
	default:
	}
}
