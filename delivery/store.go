package delivery

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
)

// Store defines the persistence contract for deliveries. Every call is
// scoped to a tenant schema.
type Store interface {
	// CreateDelivery persists a new pending delivery.
	CreateDelivery(ctx context.Context, schema string, d *Delivery) error

	// GetDelivery returns a delivery by ID, or ErrNotFound.
	GetDelivery(ctx context.Context, schema string, delID id.ID) (*Delivery, error)

	// ClaimDelivery atomically leases a pending delivery whose previous
	// lease is absent or expired, and returns it. It returns ErrNotFound or
	// ErrNotClaimable otherwise.
	ClaimDelivery(ctx context.Context, schema string, delID id.ID, c Claim) (*Delivery, error)

	// UpdateDelivery persists attempt results and clears the lease. When
	// d.ClaimToken is set the write only applies while that token still
	// holds the lease; otherwise it fails with ErrClaimLost.
	UpdateDelivery(ctx context.Context, schema string, d *Delivery) error

	// ListDeliveries returns deliveries newest first.
	ListDeliveries(ctx context.Context, schema string, opts ListOpts) ([]*Delivery, error)

	// ResetDelivery moves a delivery back to pending and marks it due now.
	// With a non-empty from it only applies when the current status is
	// listed; otherwise it returns ErrNotFound. A delivery under a live
	// lease is left alone and yields ErrInFlight.
	ResetDelivery(ctx context.Context, schema string, delID id.ID, from ...Status) (*Delivery, error)

	// ListStale returns pending deliveries without a live lease whose
	// next_retry_at (or created_at when unset) is before the cutoff.
	ListStale(ctx context.Context, schema string, before time.Time, limit int) ([]*Delivery, error)

	// TouchStale sets next_retry_at to at while the delivery still matches
	// ListStale for before. It reports whether the row was stamped.
	TouchStale(ctx context.Context, schema string, delID id.ID, before, at time.Time) (bool, error)
}
