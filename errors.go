package courier

import (
	"errors"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/tenant"
	"github.com/xraph/courier/webhook"
)

// Sentinel errors returned by Courier operations.
var (
	// ErrNoStore is returned when a Courier is created without a store.
	ErrNoStore = errors.New("courier: store is required")

	// ErrNoQueue is returned when a Courier is created without a queue.
	ErrNoQueue = errors.New("courier: queue is required")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = store.ErrClosed

	// ErrWebhookNotFound is returned when a subscription cannot be found.
	ErrWebhookNotFound = webhook.ErrNotFound

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = delivery.ErrNotFound

	// ErrNotClaimable is returned when a delivery is not pending or is leased.
	ErrNotClaimable = delivery.ErrNotClaimable

	// ErrClaimLost is returned when a worker's lease was taken over.
	ErrClaimLost = delivery.ErrClaimLost

	// ErrDeliveryInFlight is returned when a redelivery or requeue races a
	// running attempt.
	ErrDeliveryInFlight = delivery.ErrInFlight

	// ErrInvalidEventType is returned by Dispatch for a blank event type.
	ErrInvalidEventType = delivery.ErrInvalidEventType

	// ErrMalformedJob is returned when a queue entry cannot be decoded.
	ErrMalformedJob = queue.ErrMalformedJob

	// ErrInvalidSchema is returned for tenant schema names that are not safe identifiers.
	ErrInvalidSchema = tenant.ErrInvalidSchema
)
