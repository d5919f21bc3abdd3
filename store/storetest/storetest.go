// Package storetest holds a conformance suite every store.Store backend runs
// against itself.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/webhook"
)

// Run exercises s within schema. The schema is migrated first and should be
// empty.
func Run(t *testing.T, s store.Store, schema string) {
	t.Helper()
	ctx := context.Background()
	if err := s.Migrate(ctx, schema); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Run("WebhookLifecycle", func(t *testing.T) { webhookLifecycle(t, s, schema) })
	t.Run("ClaimLease", func(t *testing.T) { claimLease(t, s, schema) })
	t.Run("ResetAndStale", func(t *testing.T) { resetAndStale(t, s, schema) })
}

func newWebhook(events ...string) *webhook.Webhook {
	return &webhook.Webhook{
		Entity: entity.New(),
		ID:     id.NewWebhookID(),
		URL:    "https://example.com/hook",
		Secret: "whsec_0123456789abcdef",
		Events: events,
		Active: true,
	}
}

func newDelivery(whID id.ID) *delivery.Delivery {
	return &delivery.Delivery{
		Entity:    entity.New(),
		ID:        id.NewDeliveryID(),
		WebhookID: whID,
		EventType: "invoice.paid",
		Payload:   []byte(`{"id":"evt_x","type":"invoice.paid","data":{"b":1,"a":2}}`),
		Status:    delivery.StatusPending,
	}
}

func webhookLifecycle(t *testing.T, s store.Store, schema string) {
	ctx := context.Background()
	w := newWebhook("invoice.paid", "invoice.created")
	if err := s.CreateWebhook(ctx, schema, w); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetWebhook(ctx, schema, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Secret != w.Secret || len(got.Events) != 2 {
		t.Fatalf("unexpected webhook %+v", got)
	}

	matches, err := s.MatchWebhooks(ctx, schema, "invoice.created")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}

	got.Active = false
	got.Touch()
	if err := s.UpdateWebhook(ctx, schema, got); err != nil {
		t.Fatal(err)
	}
	if matches, _ := s.MatchWebhooks(ctx, schema, "invoice.created"); len(matches) != 0 {
		t.Fatal("inactive webhook should not match")
	}

	if err := s.DeleteWebhook(ctx, schema, w.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetWebhook(ctx, schema, w.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func claimLease(t *testing.T, s store.Store, schema string) {
	ctx := context.Background()
	d := newDelivery(id.NewWebhookID())
	if err := s.CreateDelivery(ctx, schema, d); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimDelivery(ctx, schema, d.ID, delivery.Claim{Token: "a", Until: time.Now().Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if string(claimed.Payload) != string(d.Payload) {
		t.Fatalf("payload must round-trip byte for byte: %s", claimed.Payload)
	}
	if _, err := s.ClaimDelivery(ctx, schema, d.ID, delivery.Claim{Token: "b", Until: time.Now().Add(time.Minute)}); !errors.Is(err, delivery.ErrNotClaimable) {
		t.Fatalf("expected ErrNotClaimable, got %v", err)
	}

	stale := *claimed
	stale.ClaimToken = "other"
	if err := s.UpdateDelivery(ctx, schema, &stale); !errors.Is(err, delivery.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost, got %v", err)
	}

	now := time.Now().UTC()
	claimed.Status = delivery.StatusSuccess
	claimed.AttemptCount = 1
	claimed.DeliveredAt = &now
	claimed.LastResponseStatus = 200
	claimed.Touch()
	if err := s.UpdateDelivery(ctx, schema, claimed); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDelivery(ctx, schema, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusSuccess || got.AttemptCount != 1 || got.ClaimToken != "" {
		t.Fatalf("unexpected delivery %+v", got)
	}
	if _, err := s.ClaimDelivery(ctx, schema, id.NewDeliveryID(), delivery.Claim{Token: "c", Until: time.Now()}); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func resetAndStale(t *testing.T, s store.Store, schema string) {
	ctx := context.Background()
	whID := id.NewWebhookID()

	dead := newDelivery(whID)
	dead.Status = delivery.StatusDead
	dead.AttemptCount = 6
	dead.CreatedAt = time.Now().Add(-time.Hour).UTC()
	orphan := newDelivery(whID)
	orphan.CreatedAt = time.Now().Add(-time.Hour).UTC()
	for _, d := range []*delivery.Delivery{dead, orphan} {
		if err := s.CreateDelivery(ctx, schema, d); err != nil {
			t.Fatal(err)
		}
	}

	deadStatus := delivery.StatusDead
	list, err := s.ListDeliveries(ctx, schema, delivery.ListOpts{WebhookID: whID, Status: &deadStatus})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 dead delivery, got %d", len(list))
	}

	if _, err := s.ResetDelivery(ctx, schema, orphan.ID, delivery.StatusDead); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on status mismatch, got %v", err)
	}
	reset, err := s.ResetDelivery(ctx, schema, dead.ID, delivery.StatusDead)
	if err != nil {
		t.Fatal(err)
	}
	if reset.Status != delivery.StatusPending || reset.AttemptCount != 6 {
		t.Fatalf("unexpected reset %+v", reset)
	}

	stale, err := s.ListStale(ctx, schema, time.Now().Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, d := range stale {
		if d.ID.String() == orphan.ID.String() {
			found = true
		}
		if d.ID.String() == reset.ID.String() {
			t.Fatal("a just-reset delivery should not be stale")
		}
	}
	if !found {
		t.Fatal("orphaned delivery should be stale")
	}

	cutoff := time.Now().Add(-5 * time.Minute)
	ok, err := s.TouchStale(ctx, schema, orphan.ID, cutoff, time.Now())
	if err != nil || !ok {
		t.Fatalf("expected stale delivery to be stamped, got ok=%v err=%v", ok, err)
	}
	if ok, err := s.TouchStale(ctx, schema, orphan.ID, cutoff, time.Now()); err != nil || ok {
		t.Fatalf("stamped delivery should not be stamped again, got ok=%v err=%v", ok, err)
	}
	stale, err = s.ListStale(ctx, schema, cutoff, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range stale {
		if d.ID.String() == orphan.ID.String() {
			t.Fatal("stamped delivery should not be stale")
		}
	}

	if _, err := s.ClaimDelivery(ctx, schema, orphan.ID, delivery.Claim{Token: "live", Until: time.Now().Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ResetDelivery(ctx, schema, orphan.ID); !errors.Is(err, delivery.ErrInFlight) {
		t.Fatalf("expected ErrInFlight for a leased delivery, got %v", err)
	}
	if _, err := s.ResetDelivery(ctx, schema, orphan.ID, delivery.StatusDead); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on status mismatch under lease, got %v", err)
	}
	if _, err := s.ClaimDelivery(ctx, schema, orphan.ID, delivery.Claim{Token: "second", Until: time.Now().Add(time.Minute)}); !errors.Is(err, delivery.ErrNotClaimable) {
		t.Fatalf("blocked reset must keep the lease, got %v", err)
	}

	schemas, err := s.Schemas(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ok = false
	for _, name := range schemas {
		if name == schema {
			ok = true
		}
	}
	if !ok {
		t.Fatalf("schema %q missing from %v", schema, schemas)
	}
}
