package delivery

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// Sentinel errors returned by delivery stores.
var (
	// ErrNotFound is returned when a delivery does not exist, or does not
	// satisfy the status precondition of a reset.
	ErrNotFound = errors.New("delivery: not found")

	// ErrNotClaimable is returned when a delivery exists but is not pending
	// or is leased by another worker.
	ErrNotClaimable = errors.New("delivery: not claimable")

	// ErrClaimLost is returned when an update carries a claim token that no
	// longer owns the delivery.
	ErrClaimLost = errors.New("delivery: claim lost")

	// ErrInFlight is returned when a reset targets a delivery that a worker
	// currently holds a live lease on.
	ErrInFlight = errors.New("delivery: attempt in progress")
)

// Status is the lifecycle state of a delivery.
type Status string

const (
	// StatusPending is awaiting its next attempt.
	StatusPending Status = "pending"

	// StatusSuccess received a 2xx response. Terminal.
	StatusSuccess Status = "success"

	// StatusDead exhausted its retries or lost its subscription. Terminal
	// until requeued.
	StatusDead Status = "dead"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusDead:
		return true
	}
	return false
}

// Delivery is one attempt-tracked obligation to deliver one event to one
// subscription.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery. Sent as X-Delivery-ID.
	ID id.ID `json:"id"`

	// WebhookID references the target subscription.
	WebhookID id.ID `json:"webhook_id"`

	// EventType is the envelope's event type.
	EventType string `json:"event_type"`

	// Payload is the serialized envelope, sent verbatim on every attempt.
	Payload json.RawMessage `json:"payload"`

	// Status is the current delivery state.
	Status Status `json:"status"`

	// AttemptCount is the number of HTTP attempts made so far.
	AttemptCount int `json:"attempt_count"`

	// NextRetryAt is when the next automatic attempt is due.
	NextRetryAt *time.Time `json:"next_retry_at"`

	// LastResponseStatus is the HTTP status of the most recent attempt.
	LastResponseStatus int `json:"last_response_status,omitempty"`

	// LastResponseBody is the response body of the most recent attempt (capped at 1KB).
	LastResponseBody string `json:"last_response_body,omitempty"`

	// LastError describes the most recent failure.
	LastError string `json:"last_error,omitempty"`

	// DeliveredAt is set once the delivery succeeds.
	DeliveredAt *time.Time `json:"delivered_at"`

	// ClaimToken identifies the worker attempt currently holding the lease.
	ClaimToken string `json:"-"`

	// ClaimedUntil is when the lease expires.
	ClaimedUntil *time.Time `json:"-"`
}

// Claim is a lease request for ClaimDelivery.
type Claim struct {
	Token string
	Until time.Time
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	// WebhookID restricts results to one subscription when set.
	WebhookID id.ID
	Status    *Status
	Offset    int
	Limit     int
}

// Envelope is the immutable JSON body delivered to subscribers.
type Envelope struct {
	ID        id.ID           `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope builds an envelope with a fresh event ID and serializes it.
func NewEnvelope(eventType string, data json.RawMessage) (Envelope, []byte, error) {
	env := Envelope{
		ID:        id.NewEventID(),
		Type:      eventType,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Data:      data,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, err
	}
	return env, b, nil
}
