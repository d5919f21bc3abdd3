// Package redis implements queue.Queue on a Redis list.
//
// Jobs are RPUSHed to a single list and LPOPed by workers. Recovery copies of
// scheduled retries are plain string keys with an expiry, enumerated with SCAN.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/queue"
)

// compile-time interface check
var _ queue.Queue = (*Queue)(nil)

const scanCount = 100

// Queue implements queue.Queue using go-redis.
type Queue struct {
	rdb         goredis.UniversalClient
	name        string
	retryPrefix string
}

// New creates a Redis-backed queue on an existing client.
func New(rdb goredis.UniversalClient, opts ...Option) *Queue {
	q := &Queue{rdb: rdb}
	defaults(q)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Client returns the underlying Redis client.
func (q *Queue) Client() goredis.UniversalClient { return q.rdb }

// Ping checks Redis connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (q *Queue) Close() error {
	return q.rdb.Close()
}

// Push appends a job at the tail of the list.
func (q *Queue) Push(ctx context.Context, job queue.Job) error {
	raw, err := queue.Encode(job)
	if err != nil {
		return err
	}
	if err := q.rdb.RPush(ctx, q.name, raw).Err(); err != nil {
		return fmt.Errorf("courier/redis: push: %w", err)
	}
	return nil
}

// Pop removes the head of the list without blocking.
func (q *Queue) Pop(ctx context.Context) (*queue.Job, error) {
	raw, err := q.rdb.LPop(ctx, q.name).Bytes()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("courier/redis: pop: %w", err)
	}
	return queue.Decode(raw)
}

// Len returns the list length.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: len: %w", err)
	}
	return n, nil
}

// SaveRetry writes the recovery copy with an expiry.
func (q *Queue) SaveRetry(ctx context.Context, job queue.Job, ttl time.Duration) error {
	raw, err := queue.Encode(job)
	if err != nil {
		return err
	}
	if err := q.rdb.Set(ctx, q.retryKey(job.DeliveryID.String()), raw, ttl).Err(); err != nil {
		return fmt.Errorf("courier/redis: save retry: %w", err)
	}
	return nil
}

// DeleteRetry removes the recovery copy.
func (q *Queue) DeleteRetry(ctx context.Context, deliveryID id.ID) error {
	if err := q.rdb.Del(ctx, q.retryKey(deliveryID.String())).Err(); err != nil {
		return fmt.Errorf("courier/redis: delete retry: %w", err)
	}
	return nil
}

// PendingRetries scans the recovery keys and decodes every surviving copy.
// Keys that expire between SCAN and MGET are skipped.
func (q *Queue) PendingRetries(ctx context.Context) ([]queue.Job, error) {
	var keys []string
	iter := q.rdb.Scan(ctx, 0, q.retryPrefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("courier/redis: scan retries: %w", err)
	}

	jobs := make([]queue.Job, 0, len(keys))
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))
		vals, err := q.rdb.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("courier/redis: load retries: %w", err)
		}
		for _, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			job, err := queue.Decode([]byte(s))
			if err != nil {
				continue
			}
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

// isRedisNil checks if an error is a Redis nil (key not found).
func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}
