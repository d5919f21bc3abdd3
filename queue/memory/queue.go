// Package memory provides an in-process Queue for tests and single-node use.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/queue"
)

// compile-time interface check.
var _ queue.Queue = (*Queue)(nil)

type retryEntry struct {
	job       queue.Job
	expiresAt time.Time
}

// Queue is an in-memory implementation of queue.Queue.
type Queue struct {
	mu      sync.Mutex
	jobs    []queue.Job
	retries map[string]retryEntry
	now     func() time.Time
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		retries: make(map[string]retryEntry),
		now:     time.Now,
	}
}

// Push appends a job at the tail.
func (q *Queue) Push(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = append(q.jobs, job)
	return nil
}

// Pop removes the job at the head, or returns nil when empty.
func (q *Queue) Pop(_ context.Context) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return &job, nil
}

// Len returns the number of queued jobs.
func (q *Queue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return int64(len(q.jobs)), nil
}

// Jobs returns a snapshot of the queued jobs in order.
func (q *Queue) Jobs() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]queue.Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// SaveRetry stores a recovery copy that expires after ttl.
func (q *Queue) SaveRetry(_ context.Context, job queue.Job, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.retries[job.DeliveryID.String()] = retryEntry{job: job, expiresAt: q.now().Add(ttl)}
	return nil
}

// DeleteRetry removes a recovery copy.
func (q *Queue) DeleteRetry(_ context.Context, deliveryID id.ID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.retries, deliveryID.String())
	return nil
}

// PendingRetries returns the unexpired recovery copies.
func (q *Queue) PendingRetries(_ context.Context) ([]queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	out := make([]queue.Job, 0, len(q.retries))
	for k, e := range q.retries {
		if !now.Before(e.expiresAt) {
			delete(q.retries, k)
			continue
		}
		out = append(out, e.job)
	}
	return out, nil
}
