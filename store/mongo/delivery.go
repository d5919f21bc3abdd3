package mongo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
)

// unleased matches documents with no claim or an expired one.
func unleased(at time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"claimed_until": nil},
		bson.M{"claimed_until": bson.M{"$lt": at}},
	}}
}

// CreateDelivery persists a new delivery.
func (s *Store) CreateDelivery(ctx context.Context, schema string, d *delivery.Delivery) error {
	col, err := s.collection(schema, colDeliveries)
	if err != nil {
		return err
	}
	if _, err := col.InsertOne(ctx, toDeliveryModel(d)); err != nil {
		return fmt.Errorf("courier/mongo: create delivery: %w", err)
	}
	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, schema string, delID id.ID) (*delivery.Delivery, error) {
	col, err := s.collection(schema, colDeliveries)
	if err != nil {
		return nil, err
	}
	var m deliveryModel
	if err := col.FindOne(ctx, bson.M{"_id": delID.String()}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("courier/mongo: get delivery: %w", err)
	}
	return fromDeliveryModel(&m)
}

// ClaimDelivery leases a pending delivery with no live lease in one
// find-and-modify.
func (s *Store) ClaimDelivery(ctx context.Context, schema string, delID id.ID, c delivery.Claim) (*delivery.Delivery, error) {
	col, err := s.collection(schema, colDeliveries)
	if err != nil {
		return nil, err
	}
	filter := bson.M{
		"_id":    delID.String(),
		"status": string(delivery.StatusPending),
	}
	for k, v := range unleased(now()) {
		filter[k] = v
	}
	update := bson.M{"$set": bson.M{
		"claim_token":   c.Token,
		"claimed_until": c.Until.UTC(),
	}}

	var m deliveryModel
	err = col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, getErr := s.GetDelivery(ctx, schema, delID); getErr != nil {
				return nil, getErr
			}
			return nil, delivery.ErrNotClaimable
		}
		return nil, fmt.Errorf("courier/mongo: claim delivery: %w", err)
	}
	return fromDeliveryModel(&m)
}

// UpdateDelivery stores attempt results and clears the lease.
func (s *Store) UpdateDelivery(ctx context.Context, schema string, d *delivery.Delivery) error {
	col, err := s.collection(schema, colDeliveries)
	if err != nil {
		return err
	}
	m := toDeliveryModel(d)
	filter := bson.M{"_id": m.ID}
	if d.ClaimToken != "" {
		filter["claim_token"] = d.ClaimToken
	}
	update := bson.M{"$set": bson.M{
		"status":               m.Status,
		"attempt_count":        m.AttemptCount,
		"next_retry_at":        m.NextRetryAt,
		"last_response_status": m.LastResponseStatus,
		"last_response_body":   m.LastResponseBody,
		"last_error":           m.LastError,
		"delivered_at":         m.DeliveredAt,
		"updated_at":           m.UpdatedAt,
		"claim_token":          "",
		"claimed_until":        nil,
	}}

	res, err := col.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("courier/mongo: update delivery: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if _, err := s.GetDelivery(ctx, schema, d.ID); err != nil {
		return err
	}
	return delivery.ErrClaimLost
}

// ListDeliveries returns deliveries newest first.
func (s *Store) ListDeliveries(ctx context.Context, schema string, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	col, err := s.collection(schema, colDeliveries)
	if err != nil {
		return nil, err
	}
	filter := bson.M{}
	if !opts.WebhookID.IsNil() {
		filter["webhook_id"] = opts.WebhookID.String()
	}
	if opts.Status != nil {
		filter["status"] = string(*opts.Status)
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	return s.findDeliveries(ctx, col, filter, findOpts)
}

// ResetDelivery moves a delivery back to pending.
func (s *Store) ResetDelivery(ctx context.Context, schema string, delID id.ID, from ...delivery.Status) (*delivery.Delivery, error) {
	col, err := s.collection(schema, colDeliveries)
	if err != nil {
		return nil, err
	}
	at := now()
	filter := bson.M{"_id": delID.String()}
	if len(from) > 0 {
		statuses := make(bson.A, len(from))
		for i, st := range from {
			statuses[i] = string(st)
		}
		filter["status"] = bson.M{"$in": statuses}
	}
	for k, v := range unleased(at) {
		filter[k] = v
	}
	update := bson.M{"$set": bson.M{
		"status":        string(delivery.StatusPending),
		"next_retry_at": at,
		"claim_token":   "",
		"claimed_until": nil,
		"updated_at":    at,
	}}

	var m deliveryModel
	err = col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, s.resetBlocked(ctx, schema, delID, from)
		}
		return nil, fmt.Errorf("courier/mongo: reset delivery: %w", err)
	}
	return fromDeliveryModel(&m)
}

// ListStale returns unleased pending deliveries due before the cutoff,
// oldest first.
func (s *Store) ListStale(ctx context.Context, schema string, before time.Time, limit int) ([]*delivery.Delivery, error) {
	col, err := s.collection(schema, colDeliveries)
	if err != nil {
		return nil, err
	}
	filter := staleFilter(before.UTC())
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	return s.findDeliveries(ctx, col, filter, findOpts)
}

// resetBlocked explains why a reset matched no document.
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

// staleFilter matches pending documents with no live lease that fell due
// before the cutoff.
func staleFilter(before time.Time) bson.M {
	return bson.M{
		"status": string(delivery.StatusPending),
		"$and": bson.A{
			unleased(now()),
			bson.M{"$or": bson.A{
				bson.M{"next_retry_at": bson.M{"$lt": before}},
				bson.M{"next_retry_at": nil, "created_at": bson.M{"$lt": before}},
			}},
		},
	}
}

// TouchStale stamps next_retry_at on a delivery that is still stale.
func (s *Store) TouchStale(ctx context.Context, schema string, delID id.ID, before, at time.Time) (bool, error) {
	col, err := s.collection(schema, colDeliveries)
	if err != nil {
		return false, err
	}
	filter := staleFilter(before.UTC())
	filter["_id"] = delID.String()
	res, err := col.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"next_retry_at": at.UTC()}})
	if err != nil {
		return false, fmt.Errorf("courier/mongo: touch stale: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (s *Store) findDeliveries(ctx context.Context, col *mongo.Collection, filter bson.M, opts *options.FindOptionsBuilder) ([]*delivery.Delivery, error) {
	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: find deliveries: %w", err)
	}
	var models []deliveryModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("courier/mongo: decode deliveries: %w", err)
	}
	out := make([]*delivery.Delivery, 0, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
