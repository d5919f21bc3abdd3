// Package stream publishes dead-letter notices to a Redis stream so other
// services can react to failed webhook deliveries.
package stream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/xraph/courier/dlq"
)

// DefaultKey is the stream dead-letter notices are appended to.
const DefaultKey = "courier:dead-letters"

// defaultMaxLen approximately caps the stream length.
const defaultMaxLen = 100000

// compile-time interface check.
var _ dlq.Notifier = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithKey sets the stream key.
func WithKey(key string) Option {
	return func(p *Publisher) { p.key = key }
}

// WithMaxLen sets the approximate stream length cap.
func WithMaxLen(n int64) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.maxLen = n
		}
	}
}

// Publisher appends dead-letter notices to a Redis stream with XADD.
type Publisher struct {
	client rueidis.Client
	key    string
	maxLen int64
}

// New creates a publisher on an existing rueidis client.
func New(client rueidis.Client, opts ...Option) *Publisher {
	p := &Publisher{
		client: client,
		key:    DefaultKey,
		maxLen: defaultMaxLen,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dial connects a rueidis client to addr and wraps it in a Publisher.
func Dial(addr string, opts ...Option) (*Publisher, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("courier/stream: connect: %w", err)
	}
	return New(client, opts...), nil
}

// Key returns the stream key.
func (p *Publisher) Key() string {
	return p.key
}

// Notify appends n to the stream, trimming it to roughly the configured
// length.
func (p *Publisher) Notify(ctx context.Context, n dlq.Notice) error {
	cmd := p.client.B().Xadd().Key(p.key).
		Maxlen().Almost().Threshold(strconv.FormatInt(p.maxLen, 10)).
		Id("*").
		FieldValue().
		FieldValue("tenant_schema", n.TenantSchema).
		FieldValue("delivery_id", n.DeliveryID.String()).
		FieldValue("webhook_id", n.WebhookID.String()).
		FieldValue("event_type", n.EventType).
		FieldValue("attempt_count", strconv.Itoa(n.AttemptCount)).
		FieldValue("last_status_code", strconv.Itoa(n.LastStatusCode)).
		FieldValue("error", n.Error).
		FieldValue("failed_at", n.FailedAt.UTC().Format(time.RFC3339Nano)).
		Build()

	if err := p.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("courier/stream: xadd %s: %w", p.key, err)
	}
	return nil
}

// Close closes the underlying client.
func (p *Publisher) Close() {
	p.client.Close()
}
