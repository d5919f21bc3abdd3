// Package mongo implements store.Store on MongoDB. Each tenant gets its own
// database named by a prefix plus the tenant schema.
package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	courierstore "github.com/xraph/courier/store"
	"github.com/xraph/courier/tenant"
)

// Collection name constants.
const (
	colWebhooks   = "webhooks"
	colDeliveries = "webhook_deliveries"
)

// DefaultDatabasePrefix is prepended to tenant schemas to form database names.
const DefaultDatabasePrefix = "courier_"

// Compile-time interface check.
var _ courierstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithDatabasePrefix sets the tenant database prefix.
func WithDatabasePrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Store implements store.Store using MongoDB.
type Store struct {
	client *mongo.Client
	prefix string
}

// New creates a new MongoDB store on a connected client.
func New(client *mongo.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultDatabasePrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to uri.
func Open(uri string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: connect: %w", err)
	}
	return New(client, opts...), nil
}

// Client returns the underlying Mongo client for direct access.
func (s *Store) Client() *mongo.Client { return s.client }

func (s *Store) collection(schema, name string) (*mongo.Collection, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return nil, err
	}
	return s.client.Database(s.prefix + schema).Collection(name), nil
}

// Migrate creates indexes for the tenant's collections.
func (s *Store) Migrate(ctx context.Context, schema string) error {
	for col, models := range migrationIndexes() {
		c, err := s.collection(schema, col)
		if err != nil {
			return err
		}
		if _, err := c.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("courier/mongo: migrate %s.%s indexes: %w", schema, col, err)
		}
	}
	return nil
}

// Schemas lists tenant schemas from databases carrying the prefix.
func (s *Store) Schemas(ctx context.Context) ([]string, error) {
	names, err := s.client.ListDatabaseNames(ctx, bson.D{
		{Key: "name", Value: bson.D{{Key: "$regex", Value: "^" + s.prefix}}},
	})
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: list databases: %w", err)
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		schema := strings.TrimPrefix(name, s.prefix)
		if tenant.ValidateSchema(schema) == nil {
			out = append(out, schema)
		}
	}
	return out, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// migrationIndexes returns the index definitions for a tenant database.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colWebhooks: {
			{Keys: bson.D{{Key: "events", Value: 1}, {Key: "active", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		colDeliveries: {
			{Keys: bson.D{{Key: "webhook_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_retry_at", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
}
