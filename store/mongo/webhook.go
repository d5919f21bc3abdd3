package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/webhook"
)

// CreateWebhook persists a new subscription.
func (s *Store) CreateWebhook(ctx context.Context, schema string, w *webhook.Webhook) error {
	col, err := s.collection(schema, colWebhooks)
	if err != nil {
		return err
	}
	if _, err := col.InsertOne(ctx, toWebhookModel(w)); err != nil {
		return fmt.Errorf("courier/mongo: create webhook: %w", err)
	}
	return nil
}

// GetWebhook returns a subscription by ID.
func (s *Store) GetWebhook(ctx context.Context, schema string, whID id.ID) (*webhook.Webhook, error) {
	col, err := s.collection(schema, colWebhooks)
	if err != nil {
		return nil, err
	}
	var m webhookModel
	if err := col.FindOne(ctx, bson.M{"_id": whID.String()}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, webhook.ErrNotFound
		}
		return nil, fmt.Errorf("courier/mongo: get webhook: %w", err)
	}
	return fromWebhookModel(&m)
}

// UpdateWebhook replaces a subscription's mutable fields.
func (s *Store) UpdateWebhook(ctx context.Context, schema string, w *webhook.Webhook) error {
	col, err := s.collection(schema, colWebhooks)
	if err != nil {
		return err
	}
	m := toWebhookModel(w)
	res, err := col.UpdateOne(ctx, bson.M{"_id": m.ID}, bson.M{"$set": bson.M{
		"url":         m.URL,
		"secret":      m.Secret,
		"events":      m.Events,
		"active":      m.Active,
		"description": m.Description,
		"owner_id":    m.OwnerID,
		"rate_limit":  m.RateLimit,
		"updated_at":  m.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("courier/mongo: update webhook: %w", err)
	}
	if res.MatchedCount == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

// DeleteWebhook removes a subscription. Its deliveries are kept.
func (s *Store) DeleteWebhook(ctx context.Context, schema string, whID id.ID) error {
	col, err := s.collection(schema, colWebhooks)
	if err != nil {
		return err
	}
	res, err := col.DeleteOne(ctx, bson.M{"_id": whID.String()})
	if err != nil {
		return fmt.Errorf("courier/mongo: delete webhook: %w", err)
	}
	if res.DeletedCount == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

// ListWebhooks returns subscriptions oldest first.
func (s *Store) ListWebhooks(ctx context.Context, schema string, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	col, err := s.collection(schema, colWebhooks)
	if err != nil {
		return nil, err
	}
	filter := bson.M{}
	if opts.Active != nil {
		filter["active"] = *opts.Active
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	return s.findWebhooks(ctx, col, filter, findOpts)
}

// MatchWebhooks returns active subscriptions whose events contain eventType.
func (s *Store) MatchWebhooks(ctx context.Context, schema, eventType string) ([]*webhook.Webhook, error) {
	col, err := s.collection(schema, colWebhooks)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"active": true, "events": eventType}
	return s.findWebhooks(ctx, col, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

func (s *Store) findWebhooks(ctx context.Context, col *mongo.Collection, filter bson.M, opts *options.FindOptionsBuilder) ([]*webhook.Webhook, error) {
	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: find webhooks: %w", err)
	}
	var models []webhookModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("courier/mongo: decode webhooks: %w", err)
	}
	out := make([]*webhook.Webhook, 0, len(models))
	for i := range models {
		w, err := fromWebhookModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
