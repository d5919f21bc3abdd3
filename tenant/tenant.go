// Package tenant validates tenant schema names and carries the active tenant
// scope through a context.
//
// A tenant schema names the tenant's isolated data space: a Postgres schema
// or a Mongo database suffix, depending on the store.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidSchema is returned for empty or malformed schema names.
var ErrInvalidSchema = errors.New("tenant: invalid schema name")

var schemaPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidateSchema reports whether schema can be used verbatim as a SQL
// identifier and database name suffix.
func ValidateSchema(schema string) error {
	if !schemaPattern.MatchString(schema) {
		return fmt.Errorf("%w: %q", ErrInvalidSchema, schema)
	}
	return nil
}

type ctxKey struct{}

// WithSchema returns a copy of ctx scoped to schema.
func WithSchema(ctx context.Context, schema string) context.Context {
	return context.WithValue(ctx, ctxKey{}, schema)
}

// FromContext returns the schema stored by WithSchema.
func FromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxKey{}).(string)
	return s, ok && s != ""
}
