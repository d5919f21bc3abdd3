// Package postgres implements store.Store on PostgreSQL with the Bun ORM.
// Each tenant lives in its own Postgres schema holding a webhooks and a
// webhook_deliveries table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/extra/bunotel"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	courierstore "github.com/xraph/courier/store"
	"github.com/xraph/courier/tenant"
	"github.com/xraph/courier/webhook"
)

// compile-time interface check
var _ courierstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Bun.
type Store struct {
	db *bun.DB
}

// New creates a new PostgreSQL store on an existing Bun database.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn through the pgx driver and enables query tracing.
func Open(dsn string) (*Store, error) {
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: open: %w", err)
	}
	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(bunotel.NewQueryHook(bunotel.WithDBName("courier")))
	return New(db), nil
}

// DB returns the underlying Bun database for direct access.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the tenant schema, its tables and indexes.
func (s *Store) Migrate(ctx context.Context, schema string) error {
	if err := tenant.ValidateSchema(schema); err != nil {
		return err
	}
	for _, ddl := range schemaDDL {
		if _, err := s.db.ExecContext(ctx, ddl, bun.Ident(schema)); err != nil {
			return fmt.Errorf("courier/postgres: migrate %s: %w", schema, err)
		}
	}
	return nil
}

// Schemas lists schemas that hold a webhook_deliveries table.
func (s *Store) Schemas(ctx context.Context) ([]string, error) {
	var schemas []string
	err := s.db.NewRaw(`
		SELECT table_schema FROM information_schema.tables
		WHERE table_name = 'webhook_deliveries'
		ORDER BY table_schema
	`).Scan(ctx, &schemas)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list schemas: %w", err)
	}
	return schemas, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func webhooksTable(schema string) (string, []any, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return "", nil, err
	}
	return "?.webhooks AS w", []any{bun.Ident(schema)}, nil
}

func deliveriesTable(schema string) (string, []any, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return "", nil, err
	}
	return "?.webhook_deliveries AS d", []any{bun.Ident(schema)}, nil
}

// ==================== Webhook Store ====================

// CreateWebhook persists a new subscription.
func (s *Store) CreateWebhook(ctx context.Context, schema string, w *webhook.Webhook) error {
	if err := tenant.ValidateSchema(schema); err != nil {
		return err
	}
	_, err := s.db.NewInsert().
		Model(toWebhookModel(w)).
		ModelTableExpr("?.webhooks", bun.Ident(schema)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/postgres: create webhook: %w", err)
	}
	return nil
}

// GetWebhook returns a subscription by ID.
func (s *Store) GetWebhook(ctx context.Context, schema string, whID id.ID) (*webhook.Webhook, error) {
	table, args, err := webhooksTable(schema)
	if err != nil {
		return nil, err
	}
	m := new(webhookModel)
	err = s.db.NewSelect().
		Model(m).
		ModelTableExpr(table, args...).
		Where("id = ?", whID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, webhook.ErrNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get webhook: %w", err)
	}
	return fromWebhookModel(m)
}

// UpdateWebhook replaces a subscription's mutable fields.
func (s *Store) UpdateWebhook(ctx context.Context, schema string, w *webhook.Webhook) error {
	table, args, err := webhooksTable(schema)
	if err != nil {
		return err
	}
	m := toWebhookModel(w)
	res, err := s.db.NewUpdate().
		Model((*webhookModel)(nil)).
		ModelTableExpr(table, args...).
		Set("url = ?", m.URL).
		Set("secret = ?", m.Secret).
		Set("events = ?", pgdialect.Array(m.Events)).
		Set("active = ?", m.Active).
		Set("description = ?", m.Description).
		Set("owner_id = ?", m.OwnerID).
		Set("rate_limit = ?", m.RateLimit).
		Set("updated_at = ?", m.UpdatedAt).
		Where("id = ?", m.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/postgres: update webhook: %w", err)
	}
	return expectRow(res, webhook.ErrNotFound)
}

// DeleteWebhook removes a subscription. Its deliveries are kept.
func (s *Store) DeleteWebhook(ctx context.Context, schema string, whID id.ID) error {
	table, args, err := webhooksTable(schema)
	if err != nil {
		return err
	}
	res, err := s.db.NewDelete().
		Model((*webhookModel)(nil)).
		ModelTableExpr(table, args...).
		Where("id = ?", whID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/postgres: delete webhook: %w", err)
	}
	return expectRow(res, webhook.ErrNotFound)
}

// ListWebhooks returns subscriptions oldest first.
func (s *Store) ListWebhooks(ctx context.Context, schema string, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	table, args, err := webhooksTable(schema)
	if err != nil {
		return nil, err
	}
	var models []webhookModel
	q := s.db.NewSelect().Model(&models).ModelTableExpr(table, args...)
	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
	}
	q = q.OrderExpr("created_at ASC, id ASC")
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/postgres: list webhooks: %w", err)
	}
	return fromWebhookModels(models)
}

// MatchWebhooks returns active subscriptions whose events contain eventType.
func (s *Store) MatchWebhooks(ctx context.Context, schema, eventType string) ([]*webhook.Webhook, error) {
	table, args, err := webhooksTable(schema)
	if err != nil {
		return nil, err
	}
	var models []webhookModel
	err = s.db.NewSelect().
		Model(&models).
		ModelTableExpr(table, args...).
		Where("active").
		Where("? = ANY(events)", eventType).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: match webhooks: %w", err)
	}
	return fromWebhookModels(models)
}

// ==================== Delivery Store ====================

// CreateDelivery persists a new delivery.
func (s *Store) CreateDelivery(ctx context.Context, schema string, d *delivery.Delivery) error {
	if err := tenant.ValidateSchema(schema); err != nil {
		return err
	}
	_, err := s.db.NewInsert().
		Model(toDeliveryModel(d)).
		ModelTableExpr("?.webhook_deliveries", bun.Ident(schema)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/postgres: create delivery: %w", err)
	}
	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, schema string, delID id.ID) (*delivery.Delivery, error) {
	table, args, err := deliveriesTable(schema)
	if err != nil {
		return nil, err
	}
	m := new(deliveryModel)
	err = s.db.NewSelect().
		Model(m).
		ModelTableExpr(table, args...).
		Where("id = ?", delID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get delivery: %w", err)
	}
	return fromDeliveryModel(m)
}

// ClaimDelivery leases a pending delivery with no live lease in one
// conditional UPDATE.
func (s *Store) ClaimDelivery(ctx context.Context, schema string, delID id.ID, c delivery.Claim) (*delivery.Delivery, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return nil, err
	}
	m := new(deliveryModel)
	err := s.db.NewRaw(`
		UPDATE ?.webhook_deliveries
		SET claim_token = ?, claimed_until = ?
		WHERE id = ?
		  AND status = 'pending'
		  AND (claimed_until IS NULL OR claimed_until < NOW())
		RETURNING *
	`, bun.Ident(schema), c.Token, c.Until.UTC(), delID.String()).Scan(ctx, m)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetDelivery(ctx, schema, delID); getErr != nil {
				return nil, getErr
			}
			return nil, delivery.ErrNotClaimable
		}
		return nil, fmt.Errorf("courier/postgres: claim delivery: %w", err)
	}
	return fromDeliveryModel(m)
}

// UpdateDelivery stores attempt results and clears the lease.
func (s *Store) UpdateDelivery(ctx context.Context, schema string, d *delivery.Delivery) error {
	table, args, err := deliveriesTable(schema)
	if err != nil {
		return err
	}
	m := toDeliveryModel(d)
	q := s.db.NewUpdate().
		Model((*deliveryModel)(nil)).
		ModelTableExpr(table, args...).
		Set("status = ?", m.Status).
		Set("attempt_count = ?", m.AttemptCount).
		Set("next_retry_at = ?", m.NextRetryAt).
		Set("last_response_status = ?", m.LastResponseStatus).
		Set("last_response_body = ?", m.LastResponseBody).
		Set("last_error = ?", m.LastError).
		Set("delivered_at = ?", m.DeliveredAt).
		Set("updated_at = ?", m.UpdatedAt).
		Set("claim_token = ''").
		Set("claimed_until = NULL").
		Where("id = ?", m.ID)
	if d.ClaimToken != "" {
		q = q.Where("claim_token = ?", d.ClaimToken)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/postgres: update delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.GetDelivery(ctx, schema, d.ID); err != nil {
		return err
	}
	return delivery.ErrClaimLost
}

// ListDeliveries returns deliveries newest first.
func (s *Store) ListDeliveries(ctx context.Context, schema string, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	table, args, err := deliveriesTable(schema)
	if err != nil {
		return nil, err
	}
	var models []deliveryModel
	q := s.db.NewSelect().Model(&models).ModelTableExpr(table, args...)
	if !opts.WebhookID.IsNil() {
		q = q.Where("webhook_id = ?", opts.WebhookID.String())
	}
	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	q = q.OrderExpr("created_at DESC, id DESC")
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/postgres: list deliveries: %w", err)
	}
	return fromDeliveryModels(models)
}

// ResetDelivery moves a delivery back to pending.
func (s *Store) ResetDelivery(ctx context.Context, schema string, delID id.ID, from ...delivery.Status) (*delivery.Delivery, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	query := `
		UPDATE ?.webhook_deliveries
		SET status = 'pending', next_retry_at = ?,
		    claim_token = '', claimed_until = NULL, updated_at = ?
		WHERE id = ?
		  AND (claimed_until IS NULL OR claimed_until < NOW())`
	args := []any{bun.Ident(schema), now, now, delID.String()}
	if len(from) > 0 {
		statuses := make([]string, len(from))
		for i, st := range from {
			statuses[i] = string(st)
		}
		query += ` AND status IN (?)`
		args = append(args, bun.In(statuses))
	}
	query += ` RETURNING *`

	m := new(deliveryModel)
	if err := s.db.NewRaw(query, args...).Scan(ctx, m); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.resetBlocked(ctx, schema, delID, from)
		}
		return nil, fmt.Errorf("courier/postgres: reset delivery: %w", err)
	}
	return fromDeliveryModel(m)
}

// resetBlocked explains why a reset matched no row.
func (s *Store) resetBlocked(ctx context.Context, schema string, delID id.ID, from []delivery.Status) error {
	d, err := s.GetDelivery(ctx, schema, delID)
	if err != nil {
		return err
	}
	if len(from) > 0 && !slices.Contains(from, d.Status) {
		return delivery.ErrNotFound
	}
	return delivery.ErrInFlight
}

// ListStale returns unleased pending deliveries due before the cutoff,
// oldest due first.
func (s *Store) ListStale(ctx context.Context, schema string, before time.Time, limit int) ([]*delivery.Delivery, error) {
	table, args, err := deliveriesTable(schema)
	if err != nil {
		return nil, err
	}
	var models []deliveryModel
	q := s.db.NewSelect().
		Model(&models).
		ModelTableExpr(table, args...).
		Where("status = ?", string(delivery.StatusPending)).
		Where("(claimed_until IS NULL OR claimed_until < NOW())").
		Where("COALESCE(next_retry_at, created_at) < ?", before.UTC()).
		OrderExpr("COALESCE(next_retry_at, created_at) ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/postgres: list stale: %w", err)
	}
	return fromDeliveryModels(models)
}

// TouchStale stamps next_retry_at on a delivery that is still stale.
func (s *Store) TouchStale(ctx context.Context, schema string, delID id.ID, before, at time.Time) (bool, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE ?.webhook_deliveries
		SET next_retry_at = ?
		WHERE id = ?
		  AND status = 'pending'
		  AND (claimed_until IS NULL OR claimed_until < NOW())
		  AND COALESCE(next_retry_at, created_at) < ?
	`, bun.Ident(schema), at.UTC(), delID.String(), before.UTC())
	if err != nil {
		return false, fmt.Errorf("courier/postgres: touch stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("courier/postgres: touch stale: %w", err)
	}
	return n > 0, nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
