package redis

import "github.com/xraph/courier/queue"

// Option configures key names.
type Option func(*Queue)

// WithName overrides the list key.
func WithName(name string) Option {
	return func(q *Queue) { q.name = name }
}

// WithRetryPrefix overrides the recovery key prefix.
func WithRetryPrefix(prefix string) Option {
	return func(q *Queue) { q.retryPrefix = prefix }
}

func defaults(q *Queue) {
	q.name = queue.DefaultName
	q.retryPrefix = queue.DefaultRetryPrefix
}

// retryKey returns the recovery key for a delivery.
func (q *Queue) retryKey(deliveryID string) string {
	return q.retryPrefix + deliveryID
}
