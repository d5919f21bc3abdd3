package dlq

import (
	"context"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
)

// Store is the subset of delivery persistence the dead-letter manager needs.
type Store interface {
	ListDeliveries(ctx context.Context, schema string, opts delivery.ListOpts) ([]*delivery.Delivery, error)
	ResetDelivery(ctx context.Context, schema string, delID id.ID, from ...delivery.Status) (*delivery.Delivery, error)
}
