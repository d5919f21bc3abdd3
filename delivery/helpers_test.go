package delivery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	memqueue "github.com/xraph/courier/queue/memory"
	memstore "github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/webhook"
)

const schema = "tenant_acme"

type fixture struct {
	store *memstore.Store
	queue *memqueue.Queue
	srv   *httptest.Server
	hits  atomic.Int32
}

// newFixture starts a subscriber that answers with status.
func newFixture(t *testing.T, status int) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(),
		queue: memqueue.New(),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) addWebhook(t *testing.T, events ...string) *webhook.Webhook {
	t.Helper()
	w := &webhook.Webhook{
		Entity: entity.New(),
		ID:     id.NewWebhookID(),
		URL:    f.srv.URL,
		Secret: testSecret,
		Events: events,
		Active: true,
	}
	if err := f.store.CreateWebhook(context.Background(), schema, w); err != nil {
		t.Fatal(err)
	}
	return w
}

func (f *fixture) startWorker(t *testing.T, cfg delivery.WorkerConfig) *delivery.Worker {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	w := delivery.NewWorker(f.store, f.queue, cfg, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.Stop(ctx); err != nil {
			t.Errorf("stop worker: %v", err)
		}
	})
	return w
}

func (f *fixture) get(t *testing.T, delID id.ID) *delivery.Delivery {
	t.Helper()
	d, err := f.store.GetDelivery(context.Background(), schema, delID)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type recordingNotifier struct {
	mu   sync.Mutex
	dead []*delivery.Delivery
}

func (n *recordingNotifier) NotifyDead(_ context.Context, _ string, d *delivery.Delivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dead = append(n.dead, d)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.dead)
}
