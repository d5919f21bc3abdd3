package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/queue/redis"
)

// newQueue connects to COURIER_TEST_REDIS_ADDR and isolates the test under
// unique key names.
func newQueue(t *testing.T) *redis.Queue {
	t.Helper()
	addr := os.Getenv("COURIER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COURIER_TEST_REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	suffix := id.NewDeliveryID().String()
	q := redis.New(rdb,
		redis.WithName("courier-test:"+suffix),
		redis.WithRetryPrefix("courier-test-retry:"+suffix+":"),
	)
	t.Cleanup(func() {
		rdb.Del(context.Background(), "courier-test:"+suffix)
		rdb.Close()
	})
	return q
}

func TestRedisQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)

	if got, err := q.Pop(ctx); err != nil || got != nil {
		t.Fatalf("expected empty pop, got %v, %v", got, err)
	}

	jobs := []queue.Job{
		{DeliveryID: id.NewDeliveryID(), WebhookID: id.NewWebhookID(), TenantSchema: "tenant_a"},
		{DeliveryID: id.NewDeliveryID(), WebhookID: id.NewWebhookID(), TenantSchema: "tenant_b"},
	}
	for _, j := range jobs {
		if err := q.Push(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	if n, err := q.Len(ctx); err != nil || n != 2 {
		t.Fatalf("expected len 2, got %d, %v", n, err)
	}
	for _, want := range jobs {
		got, err := q.Pop(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || *got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	}
}

func TestRedisQueueRetries(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)

	job := queue.Job{DeliveryID: id.NewDeliveryID(), WebhookID: id.NewWebhookID(), TenantSchema: "tenant_a"}
	if err := q.SaveRetry(ctx, job, time.Minute); err != nil {
		t.Fatal(err)
	}

	pending, err := q.PendingRetries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != job {
		t.Fatalf("expected the saved job, got %+v", pending)
	}

	if err := q.DeleteRetry(ctx, job.DeliveryID); err != nil {
		t.Fatal(err)
	}
	pending, _ = q.PendingRetries(ctx)
	if len(pending) != 0 {
		t.Fatalf("expected no retries, got %d", len(pending))
	}
}
