// Package queue defines the durable delivery job queue shared by every tenant.
//
// The queue carries only job references. The tenant's delivery store stays
// the source of truth for delivery state; a job whose delivery is no longer
// pending is discarded by the worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/courier/id"
)

// Default key names.
const (
	// DefaultName is the list every producer pushes to.
	DefaultName = "courier:webhook-deliveries"

	// DefaultRetryPrefix prefixes the recovery copy of a scheduled retry.
	DefaultRetryPrefix = "courier:webhook-retry:"
)

// ErrMalformedJob is returned by Pop when the head entry cannot be decoded.
// The entry is consumed.
var ErrMalformedJob = errors.New("queue: malformed job")

// Job points at one delivery in one tenant schema.
type Job struct {
	DeliveryID   id.ID  `json:"deliveryId"`
	WebhookID    id.ID  `json:"webhookId"`
	TenantSchema string `json:"tenantSchema"`
}

// Queue is a FIFO of delivery jobs plus a keyed, expiring recovery store for
// jobs waiting on a retry timer.
type Queue interface {
	// Push appends a job at the tail.
	Push(ctx context.Context, job Job) error

	// Pop removes the job at the head. It returns nil, nil when the queue is empty.
	Pop(ctx context.Context) (*Job, error)

	// Len returns the number of queued jobs.
	Len(ctx context.Context) (int64, error)

	// SaveRetry stores a recovery copy of job keyed by its delivery ID.
	SaveRetry(ctx context.Context, job Job, ttl time.Duration) error

	// DeleteRetry removes the recovery copy for a delivery.
	DeleteRetry(ctx context.Context, deliveryID id.ID) error

	// PendingRetries returns every unexpired recovery copy.
	PendingRetries(ctx context.Context) ([]Job, error)
}

// Encode serializes a job for storage.
func Encode(job Job) ([]byte, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("queue: encode job: %w", err)
	}
	return b, nil
}

// Decode parses a stored job.
func Decode(raw []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if job.DeliveryID.IsNil() {
		return nil, fmt.Errorf("%w: missing deliveryId", ErrMalformedJob)
	}
	return &job, nil
}
