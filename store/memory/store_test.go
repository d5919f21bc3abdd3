package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	courierstore "github.com/xraph/courier/store"
	"github.com/xraph/courier/tenant"
	"github.com/xraph/courier/webhook"
)

const schema = "tenant_acme"

func ctx() context.Context { return context.Background() }

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
		Payload:   []byte(`{"id":"evt_x"}`),
		Status:    delivery.StatusPending,
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	s := New()

	if err := s.Migrate(ctx(), schema); err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(ctx(), "Bad Schema"); !errors.Is(err, tenant.ErrInvalidSchema) {
		t.Fatalf("expected ErrInvalidSchema, got %v", err)
	}
	schemas, err := s.Schemas(ctx())
	if err != nil || len(schemas) != 1 || schemas[0] != schema {
		t.Fatalf("unexpected schemas %v (%v)", schemas, err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, courierstore.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

func TestWebhookCRUD(t *testing.T) {
	s := New()
	w := newWebhook("invoice.paid")

	if err := s.CreateWebhook(ctx(), schema, w); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetWebhook(ctx(), schema, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != w.URL || got.Secret != w.Secret {
		t.Fatalf("unexpected webhook %+v", got)
	}

	// Mutating a read must not leak into the store.
	got.Events[0] = "mutated"
	again, _ := s.GetWebhook(ctx(), schema, w.ID)
	if again.Events[0] != "invoice.paid" {
		t.Fatal("store returned shared slice")
	}

	got.Active = false
	if err := s.UpdateWebhook(ctx(), schema, got); err != nil {
		t.Fatal(err)
	}
	again, _ = s.GetWebhook(ctx(), schema, w.ID)
	if again.Active {
		t.Fatal("update not applied")
	}

	if err := s.DeleteWebhook(ctx(), schema, w.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetWebhook(ctx(), schema, w.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteWebhook(ctx(), schema, w.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestWebhookTenantIsolation(t *testing.T) {
	s := New()
	w := newWebhook("invoice.paid")
	if err := s.CreateWebhook(ctx(), schema, w); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetWebhook(ctx(), "tenant_other", w.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
	matches, err := s.MatchWebhooks(ctx(), "tenant_other", "invoice.paid")
	if err != nil || len(matches) != 0 {
		t.Fatalf("expected no matches across tenants, got %d (%v)", len(matches), err)
	}
}

func TestMatchWebhooks(t *testing.T) {
	s := New()
	a := newWebhook("invoice.paid", "invoice.created")
	b := newWebhook("invoice.paid")
	c := newWebhook("user.created")
	d := newWebhook("invoice.paid")
	d.Active = false

	for _, w := range []*webhook.Webhook{a, b, c, d} {
		if err := s.CreateWebhook(ctx(), schema, w); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := s.MatchWebhooks(ctx(), schema, "invoice.paid")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	for _, m := range matches {
		if m.ID.String() == d.ID.String() {
			t.Fatal("inactive webhook matched")
		}
	}
}

func TestListWebhooksPagination(t *testing.T) {
	s := New()
	for range 5 {
		if err := s.CreateWebhook(ctx(), schema, newWebhook("a")); err != nil {
			t.Fatal(err)
		}
	}
	page, err := s.ListWebhooks(ctx(), schema, webhook.ListOpts{Offset: 3, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2, got %d", len(page))
	}
	if rest, _ := s.ListWebhooks(ctx(), schema, webhook.ListOpts{Offset: 9}); len(rest) != 0 {
		t.Fatalf("expected empty page, got %d", len(rest))
	}
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func TestClaimAndUpdate(t *testing.T) {
	s := New()
	d := newDelivery(id.NewWebhookID())
	if err := s.CreateDelivery(ctx(), schema, d); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimDelivery(ctx(), schema, d.ID, delivery.Claim{Token: "a", Until: time.Now().Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if claimed.ClaimToken != "a" {
		t.Fatalf("expected claim token, got %q", claimed.ClaimToken)
	}

	// A live lease blocks a second claim.
	if _, err := s.ClaimDelivery(ctx(), schema, d.ID, delivery.Claim{Token: "b", Until: time.Now().Add(time.Minute)}); !errors.Is(err, delivery.ErrNotClaimable) {
		t.Fatalf("expected ErrNotClaimable, got %v", err)
	}

	claimed.AttemptCount = 1
	claimed.Status = delivery.StatusSuccess
	if err := s.UpdateDelivery(ctx(), schema, claimed); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetDelivery(ctx(), schema, d.ID)
	if got.Status != delivery.StatusSuccess || got.AttemptCount != 1 {
		t.Fatalf("unexpected delivery %+v", got)
	}
	if got.ClaimToken != "" || got.ClaimedUntil != nil {
		t.Fatal("update should clear the lease")
	}

	// Terminal deliveries are not claimable.
	if _, err := s.ClaimDelivery(ctx(), schema, d.ID, delivery.Claim{Token: "c", Until: time.Now().Add(time.Minute)}); !errors.Is(err, delivery.ErrNotClaimable) {
		t.Fatalf("expected ErrNotClaimable, got %v", err)
	}
	if _, err := s.ClaimDelivery(ctx(), schema, id.NewDeliveryID(), delivery.Claim{Token: "c"}); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExpiredLeaseIsReclaimable(t *testing.T) {
	s := New()
	d := newDelivery(id.NewWebhookID())
	if err := s.CreateDelivery(ctx(), schema, d); err != nil {
		t.Fatal(err)
	}

	first, err := s.ClaimDelivery(ctx(), schema, d.ID, delivery.Claim{Token: "a", Until: time.Now().Add(-time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimDelivery(ctx(), schema, d.ID, delivery.Claim{Token: "b", Until: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("expired lease should be reclaimable: %v", err)
	}

	first.AttemptCount = 1
	if err := s.UpdateDelivery(ctx(), schema, first); !errors.Is(err, delivery.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost, got %v", err)
	}
}

func TestResetDelivery(t *testing.T) {
	s := New()
	d := newDelivery(id.NewWebhookID())
	d.Status = delivery.StatusDead
	d.AttemptCount = 6
	d.LastError = "unexpected status 500"
	if err := s.CreateDelivery(ctx(), schema, d); err != nil {
		t.Fatal(err)
	}

	if _, err := s.ResetDelivery(ctx(), schema, d.ID, delivery.StatusPending); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on status mismatch, got %v", err)
	}

	got, err := s.ResetDelivery(ctx(), schema, d.ID, delivery.StatusDead)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusPending || got.NextRetryAt == nil {
		t.Fatalf("unexpected reset result %+v", got)
	}
	if got.AttemptCount != 6 {
		t.Fatalf("attempt count should be kept, got %d", got.AttemptCount)
	}

	// Unfiltered reset applies from any status.
	if _, err := s.ResetDelivery(ctx(), schema, d.ID); err != nil {
		t.Fatal(err)
	}

	// A live lease blocks the reset and is left intact.
	if _, err := s.ClaimDelivery(ctx(), schema, d.ID, delivery.Claim{Token: "t1", Until: time.Now().Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ResetDelivery(ctx(), schema, d.ID); !errors.Is(err, delivery.ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
	if _, err := s.ClaimDelivery(ctx(), schema, d.ID, delivery.Claim{Token: "t2", Until: time.Now().Add(time.Minute)}); !errors.Is(err, delivery.ErrNotClaimable) {
		t.Fatalf("second claim must fail while the first holds the lease, got %v", err)
	}
	held, _ := s.GetDelivery(ctx(), schema, d.ID)
	held.ClaimToken = "t1"
	held.AttemptCount++
	if err := s.UpdateDelivery(ctx(), schema, held); err != nil {
		t.Fatalf("lease holder should still commit its attempt: %v", err)
	}
}

func TestListDeliveries(t *testing.T) {
	s := New()
	whA, whB := id.NewWebhookID(), id.NewWebhookID()

	var last *delivery.Delivery
	for i := range 4 {
		d := newDelivery(whA)
		d.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		if i == 0 {
			d.Status = delivery.StatusDead
		}
		if err := s.CreateDelivery(ctx(), schema, d); err != nil {
			t.Fatal(err)
		}
		last = d
	}
	if err := s.CreateDelivery(ctx(), schema, newDelivery(whB)); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListDeliveries(ctx(), schema, delivery.ListOpts{WebhookID: whA})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4, got %d", len(all))
	}
	if all[0].ID.String() != last.ID.String() {
		t.Fatal("expected newest first")
	}

	dead := delivery.StatusDead
	deadOnly, _ := s.ListDeliveries(ctx(), schema, delivery.ListOpts{WebhookID: whA, Status: &dead})
	if len(deadOnly) != 1 {
		t.Fatalf("expected 1 dead, got %d", len(deadOnly))
	}

	page, _ := s.ListDeliveries(ctx(), schema, delivery.ListOpts{WebhookID: whA, Offset: 1, Limit: 2})
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
}

func TestListStale(t *testing.T) {
	s := New()
	old := newDelivery(id.NewWebhookID())
	old.CreatedAt = time.Now().Add(-time.Hour)
	fresh := newDelivery(id.NewWebhookID())
	future := newDelivery(id.NewWebhookID())
	future.CreatedAt = time.Now().Add(-time.Hour)
	next := time.Now().Add(time.Hour)
	future.NextRetryAt = &next
	done := newDelivery(id.NewWebhookID())
	done.CreatedAt = time.Now().Add(-time.Hour)
	done.Status = delivery.StatusSuccess

	for _, d := range []*delivery.Delivery{old, fresh, future, done} {
		if err := s.CreateDelivery(ctx(), schema, d); err != nil {
			t.Fatal(err)
		}
	}

	stale, err := s.ListStale(ctx(), schema, time.Now().Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID.String() != old.ID.String() {
		t.Fatalf("expected only the old pending delivery, got %d", len(stale))
	}

	// Leased deliveries are not stale.
	if _, err := s.ClaimDelivery(ctx(), schema, old.ID, delivery.Claim{Token: "a", Until: time.Now().Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	stale, _ = s.ListStale(ctx(), schema, time.Now().Add(-5*time.Minute), 10)
	if len(stale) != 0 {
		t.Fatalf("expected no stale deliveries while leased, got %d", len(stale))
	}
}

func TestTouchStale(t *testing.T) {
	s := New()
	d := newDelivery(id.NewWebhookID())
	d.CreatedAt = time.Now().Add(-time.Hour)
	if err := s.CreateDelivery(ctx(), schema, d); err != nil {
		t.Fatal(err)
	}

	cutoff := time.Now().Add(-5 * time.Minute)
	ok, err := s.TouchStale(ctx(), schema, d.ID, cutoff, time.Now())
	if err != nil || !ok {
		t.Fatalf("expected stamp, got ok=%v err=%v", ok, err)
	}
	if stale, _ := s.ListStale(ctx(), schema, cutoff, 10); len(stale) != 0 {
		t.Fatalf("stamped delivery should not be stale, got %d", len(stale))
	}
	if ok, _ := s.TouchStale(ctx(), schema, d.ID, cutoff, time.Now()); ok {
		t.Fatal("second stamp within the grace window should not apply")
	}
	if ok, err := s.TouchStale(ctx(), schema, id.NewDeliveryID(), cutoff, time.Now()); ok || err != nil {
		t.Fatalf("missing delivery should not stamp, got ok=%v err=%v", ok, err)
	}
}
