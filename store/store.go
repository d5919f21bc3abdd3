// Package store defines the composite Store interface for all Courier
// persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them. Every data operation is scoped to a tenant schema.
package store

import (
	"context"
	"errors"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/webhook"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store is the aggregate persistence interface.
type Store interface {
	webhook.Store
	delivery.Store

	// Migrate creates the tenant schema and its tables if missing.
	Migrate(ctx context.Context, schema string) error

	// Schemas lists tenant schemas that have been migrated.
	Schemas(ctx context.Context) ([]string, error)

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
