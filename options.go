package courier

import (
	"log/slog"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/store"
)

// Option configures a Courier instance.
type Option func(*Courier) error

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(c *Courier) error {
		c.store = s
		return nil
	}
}

// WithQueue sets the job queue.
func WithQueue(q queue.Queue) Option {
	return func(c *Courier) error {
		c.queue = q
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Courier) error {
		c.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Courier) error {
		c.config = cfg
		return nil
	}
}

// WithConcurrency sets the maximum number of in-flight delivery attempts.
func WithConcurrency(n int) Option {
	return func(c *Courier) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the worker polls the queue.
func WithPollInterval(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of jobs popped per poll.
func WithBatchSize(n int) Option {
	return func(c *Courier) error {
		c.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.RequestTimeout = d
		return nil
	}
}

// WithRetrySchedule sets the backoff intervals between attempts.
func WithRetrySchedule(schedule []time.Duration) Option {
	return func(c *Courier) error {
		c.config.RetrySchedule = schedule
		return nil
	}
}

// WithLeaseDuration sets how long a claim protects a delivery.
func WithLeaseDuration(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.LeaseDuration = d
		return nil
	}
}

// WithRecoveryGrace sets the extra TTL on persisted retry copies.
func WithRecoveryGrace(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.RecoveryGrace = d
		return nil
	}
}

// WithReconcileInterval sets the time between reconciliation sweeps. 0 disables them.
func WithReconcileInterval(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.ReconcileInterval = d
		return nil
	}
}

// WithReconcileGrace sets how overdue a pending delivery must be before it is re-enqueued.
func WithReconcileGrace(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.ReconcileGrace = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight work on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.ShutdownTimeout = d
		return nil
	}
}

// WithAllowInsecureURLs permits http:// subscription URLs.
func WithAllowInsecureURLs(allow bool) Option {
	return func(c *Courier) error {
		c.config.AllowInsecureURLs = allow
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Courier) error {
		c.metrics = m
		return nil
	}
}

// WithTracer enables OpenTelemetry spans around delivery attempts.
func WithTracer(t *observability.Tracer) Option {
	return func(c *Courier) error {
		c.tracer = t
		return nil
	}
}

// WithNotifier adds a dead-letter notifier. The log notifier is used when none is set.
func WithNotifier(n dlq.Notifier) Option {
	return func(c *Courier) error {
		c.notifiers = append(c.notifiers, n)
		return nil
	}
}

// WithUsageRecorder sets the recorder told about every completed attempt.
func WithUsageRecorder(u delivery.UsageRecorder) Option {
	return func(c *Courier) error {
		c.usage = u
		return nil
	}
}

// WithLimiter replaces the per-subscription rate limiter.
func WithLimiter(l delivery.Limiter) Option {
	return func(c *Courier) error {
		c.limiter = l
		return nil
	}
}

// WithSender replaces the HTTP sender used for attempts and test sends.
func WithSender(s *delivery.Sender) Option {
	return func(c *Courier) error {
		c.sender = s
		return nil
	}
}
