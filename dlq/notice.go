package dlq

import (
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
)

// Notice describes a delivery that has just gone dead.
type Notice struct {
	// TenantSchema identifies the tenant that owns the delivery.
	TenantSchema string `json:"tenant_schema"`

	// DeliveryID references the dead delivery.
	DeliveryID id.ID `json:"delivery_id"`

	// WebhookID references the target subscription.
	WebhookID id.ID `json:"webhook_id"`

	// EventType is the event type name for filtering.
	EventType string `json:"event_type"`

	// Error is the error message from the final attempt.
	Error string `json:"error"`

	// AttemptCount is the total number of attempts made.
	AttemptCount int `json:"attempt_count"`

	// LastStatusCode is the HTTP status code from the final attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// FailedAt is when the delivery went dead.
	FailedAt time.Time `json:"failed_at"`
}

// NewNotice builds a Notice from a dead delivery.
func NewNotice(schema string, d *delivery.Delivery) Notice {
	failedAt := d.UpdatedAt
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}
	return Notice{
		TenantSchema:   schema,
		DeliveryID:     d.ID,
		WebhookID:      d.WebhookID,
		EventType:      d.EventType,
		Error:          d.LastError,
		AttemptCount:   d.AttemptCount,
		LastStatusCode: d.LastResponseStatus,
		FailedAt:       failedAt,
	}
}
