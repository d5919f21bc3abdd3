package dlq_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	memqueue "github.com/xraph/courier/queue/memory"
	"github.com/xraph/courier/store/memory"
)

const schema = "tenant_acme"

func ctx() context.Context { return context.Background() }

func newService(notifier dlq.Notifier) (*dlq.Service, *memory.Store, *memqueue.Queue) {
	store := memory.New()
	q := memqueue.New()
	return dlq.NewService(store, q, notifier, nil, nil), store, q
}

func seed(t *testing.T, store *memory.Store, status delivery.Status) *delivery.Delivery {
	t.Helper()
	d := &delivery.Delivery{
		Entity:             entity.New(),
		ID:                 id.NewDeliveryID(),
		WebhookID:          id.NewWebhookID(),
		EventType:          "invoice.paid",
		Payload:            []byte(`{}`),
		Status:             status,
		AttemptCount:       6,
		LastResponseStatus: 500,
		LastError:          "unexpected status 500",
	}
	if err := store.CreateDelivery(ctx(), schema, d); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestListDead(t *testing.T) {
	svc, store, _ := newService(nil)
	seed(t, store, delivery.StatusDead)
	seed(t, store, delivery.StatusDead)
	seed(t, store, delivery.StatusSuccess)

	dead, err := svc.ListDead(ctx(), schema)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 2 {
		t.Fatalf("expected 2 dead, got %d", len(dead))
	}
	for _, d := range dead {
		if d.Status != delivery.StatusDead {
			t.Fatalf("unexpected status %s", d.Status)
		}
	}
}

func TestRequeueKeepsAttemptCount(t *testing.T) {
	svc, store, q := newService(nil)
	d := seed(t, store, delivery.StatusDead)

	got, err := svc.Requeue(ctx(), schema, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if got.AttemptCount != 6 {
		t.Fatalf("attempt count should be kept, got %d", got.AttemptCount)
	}
	if got.NextRetryAt == nil || time.Since(*got.NextRetryAt) > time.Minute {
		t.Fatalf("requeued delivery should be due now, got %v", got.NextRetryAt)
	}

	jobs := q.Jobs()
	if len(jobs) != 1 || jobs[0].DeliveryID.String() != d.ID.String() || jobs[0].TenantSchema != schema {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
}

func TestRequeueRejectsNonDead(t *testing.T) {
	svc, store, q := newService(nil)
	d := seed(t, store, delivery.StatusSuccess)

	if _, err := svc.Requeue(ctx(), schema, d.ID); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Requeue(ctx(), schema, id.NewDeliveryID()); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing delivery, got %v", err)
	}
	if len(q.Jobs()) != 0 {
		t.Fatal("nothing should be enqueued")
	}
}

type recorder struct {
	mu      sync.Mutex
	notices []dlq.Notice
}

func (r *recorder) Notify(_ context.Context, n dlq.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return nil
}

func TestNotifyDead(t *testing.T) {
	rec := &recorder{}
	failing := dlq.NotifierFunc(func(context.Context, dlq.Notice) error {
		return errors.New("stream unavailable")
	})
	svc, store, _ := newService(dlq.Notifiers{failing, rec})
	d := seed(t, store, delivery.StatusDead)

	err := svc.NotifyDead(ctx(), schema, d)
	if err == nil || !strings.Contains(err.Error(), "stream unavailable") {
		t.Fatalf("expected joined notifier error, got %v", err)
	}
	if len(rec.notices) != 1 {
		t.Fatal("later notifiers should still run after a failure")
	}

	n := rec.notices[0]
	if n.TenantSchema != schema || n.DeliveryID.String() != d.ID.String() {
		t.Fatalf("unexpected notice %+v", n)
	}
	if n.AttemptCount != 6 || n.LastStatusCode != 500 || n.Error != "unexpected status 500" {
		t.Fatalf("unexpected notice details %+v", n)
	}
	if n.FailedAt.IsZero() {
		t.Fatal("failed_at should be set")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	n := dlq.Notice{TenantSchema: schema, DeliveryID: id.NewDeliveryID(), EventType: "invoice.paid"}
	if err := (dlq.LogNotifier{Logger: logger}).Notify(ctx(), n); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "webhook delivery dead") || !strings.Contains(buf.String(), n.DeliveryID.String()) {
		t.Fatalf("unexpected log output %q", buf.String())
	}
}
