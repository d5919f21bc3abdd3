package courier

import (
	"time"

	"github.com/xraph/courier/delivery"
)

// Config holds the configuration for a Courier instance.
type Config struct {
	// Concurrency caps in-flight delivery attempts.
	Concurrency int

	// PollInterval is how often the worker polls the queue.
	PollInterval time.Duration

	// BatchSize is the maximum number of jobs popped per poll.
	BatchSize int

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// RetrySchedule defines the backoff intervals between attempts. A
	// delivery goes dead after len(RetrySchedule)+1 failed attempts.
	RetrySchedule []time.Duration

	// LeaseDuration is how long a claimed delivery is protected from other workers.
	LeaseDuration time.Duration

	// RecoveryGrace is added to each retry delay to form the TTL of the
	// persisted recovery copy.
	RecoveryGrace time.Duration

	// ReconcileInterval is the time between reconciliation sweeps.
	// Set to 0 to disable the reconciler.
	ReconcileInterval time.Duration

	// ReconcileGrace is how long a pending delivery may be overdue before
	// the reconciler re-enqueues it.
	ReconcileGrace time.Duration

	// ShutdownTimeout is the maximum time Stop waits for in-flight work.
	ShutdownTimeout time.Duration

	// AllowInsecureURLs permits http:// subscription URLs.
	AllowInsecureURLs bool

	// TaskErrorBuffer is the capacity of the background task error channel.
	TaskErrorBuffer int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		PollInterval:      1 * time.Second,
		BatchSize:         1,
		RequestTimeout:    10 * time.Second,
		RetrySchedule:     delivery.DefaultRetrySchedule,
		LeaseDuration:     1 * time.Minute,
		RecoveryGrace:     1 * time.Minute,
		ReconcileInterval: 1 * time.Minute,
		ReconcileGrace:    5 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		TaskErrorBuffer:   64,
	}
}
