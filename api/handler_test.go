package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/courier/api"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	memqueue "github.com/xraph/courier/queue/memory"
	memstore "github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/webhook"
)

const tenantPath = "/tenants/tenant_acme"

type testEnv struct {
	srv        *httptest.Server
	subscriber *httptest.Server
	store      *memstore.Store
	queue      *memqueue.Queue
	received   atomic.Int32
}

// newTestEnv creates a Handler backed by memory backends and a subscriber
// that always answers 200.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store: memstore.New(),
		queue: memqueue.New(),
	}
	env.subscriber = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		env.received.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(env.subscriber.Close)

	logger := slog.Default()
	whSvc := webhook.NewService(env.store, webhook.Config{AllowInsecureURLs: true}, logger)
	delSvc := delivery.NewService(env.store, env.queue, nil, nil, logger)
	dlqSvc := dlq.NewService(env.store, env.queue, nil, nil, logger)
	dispatcher := delivery.NewDispatcher(env.store, env.queue, nil, logger)

	h := api.NewHandler(env.store, whSvc, delSvc, dlqSvc, dispatcher, logger)
	env.srv = httptest.NewServer(h)
	t.Cleanup(env.srv.Close)
	return env
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, b)
	}
}

func (env *testEnv) createWebhook(t *testing.T, events ...string) map[string]any {
	t.Helper()
	resp := doJSON(t, "POST", env.srv.URL+tenantPath+"/webhooks", map[string]any{
		"url":    env.subscriber.URL,
		"events": events,
	})
	expectStatus(t, resp, http.StatusCreated)
	var created map[string]any
	decodeBody(t, resp, &created)
	return created
}

// --- Webhooks ---

func TestWebhooks_CRUD(t *testing.T) {
	env := newTestEnv(t)

	created := env.createWebhook(t, "invoice.paid")
	whID, _ := created["id"].(string)
	if !strings.HasPrefix(whID, "wh_") {
		t.Fatalf("id = %q, want wh_ prefix", whID)
	}
	secret, _ := created["secret"].(string)
	if !strings.HasPrefix(secret, "whsec_") {
		t.Fatalf("secret = %q, want whsec_ prefix", secret)
	}

	// Get never exposes the secret.
	resp := doJSON(t, "GET", env.srv.URL+tenantPath+"/webhooks/"+whID, nil)
	expectStatus(t, resp, http.StatusOK)
	var got map[string]any
	decodeBody(t, resp, &got)
	if _, ok := got["secret"]; ok {
		t.Error("get response exposes the secret")
	}

	// Update
	resp = doJSON(t, "PUT", env.srv.URL+tenantPath+"/webhooks/"+whID, map[string]any{
		"description": "billing",
		"active":      false,
	})
	expectStatus(t, resp, http.StatusOK)
	var updated map[string]any
	decodeBody(t, resp, &updated)
	if updated["description"] != "billing" || updated["active"] != false {
		t.Errorf("updated = %v", updated)
	}

	// List
	resp = doJSON(t, "GET", env.srv.URL+tenantPath+"/webhooks?active=false", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("list: expected 1 webhook, got %d", len(list))
	}

	// Rotate
	resp = doJSON(t, "POST", env.srv.URL+tenantPath+"/webhooks/"+whID+"/rotate-secret", nil)
	expectStatus(t, resp, http.StatusOK)
	var rotated map[string]any
	decodeBody(t, resp, &rotated)
	if rotated["secret"] == secret || rotated["secret"] == "" {
		t.Errorf("rotated secret = %v, want a new one", rotated["secret"])
	}

	// Delete
	resp = doJSON(t, "DELETE", env.srv.URL+tenantPath+"/webhooks/"+whID, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, "GET", env.srv.URL+tenantPath+"/webhooks/"+whID, nil)
	expectStatus(t, resp, http.StatusNotFound)
	var errBody map[string]string
	decodeBody(t, resp, &errBody)
	if errBody["error"] == "" {
		t.Error("expected error body")
	}
}

func TestWebhooks_EmptyList(t *testing.T) {
	env := newTestEnv(t)

	resp := doJSON(t, "GET", env.srv.URL+tenantPath+"/webhooks", nil)
	expectStatus(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if strings.TrimSpace(string(b)) != "[]" {
		t.Errorf("body = %s, want []", b)
	}
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"invalid schema", "GET", "/tenants/Bad-Schema/webhooks", nil},
		{"invalid webhook id", "GET", tenantPath + "/webhooks/not-an-id", nil},
		{"delivery id as webhook id", "GET", tenantPath + "/webhooks/" + id.NewDeliveryID().String(), nil},
		{"missing url", "POST", tenantPath + "/webhooks", map[string]any{"events": []string{"a.b"}}},
		{"no events", "POST", tenantPath + "/webhooks", map[string]any{"url": "http://example.com"}},
		{"blank event type", "POST", tenantPath + "/events", map[string]any{"type": " "}},
		{"invalid delivery id", "GET", tenantPath + "/deliveries/wh_x", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, tt.method, env.srv.URL+tt.path, tt.body)
			expectStatus(t, resp, http.StatusBadRequest)
			resp.Body.Close()
		})
	}
}

func TestTestSend(t *testing.T) {
	env := newTestEnv(t)
	whID, _ := env.createWebhook(t, "invoice.paid")["id"].(string)

	resp := doJSON(t, "POST", env.srv.URL+tenantPath+"/webhooks/"+whID+"/test", nil)
	expectStatus(t, resp, http.StatusOK)
	var res delivery.TestResult
	decodeBody(t, resp, &res)
	if !res.Success || res.StatusCode != http.StatusOK {
		t.Errorf("result = %+v", res)
	}
	if env.received.Load() != 1 {
		t.Errorf("subscriber received %d requests, want 1", env.received.Load())
	}

	// Test sends are not persisted.
	resp = doJSON(t, "GET", env.srv.URL+tenantPath+"/webhooks/"+whID+"/deliveries", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 0 {
		t.Errorf("expected no deliveries, got %d", len(list))
	}
}

// --- Deliveries ---

func TestDispatchAndRedeliver(t *testing.T) {
	env := newTestEnv(t)
	whID, _ := env.createWebhook(t, "invoice.paid")["id"].(string)
	env.createWebhook(t, "invoice.created")

	resp := doJSON(t, "POST", env.srv.URL+tenantPath+"/events", map[string]any{
		"type": "invoice.paid",
		"data": map[string]any{"amount": 42},
	})
	expectStatus(t, resp, http.StatusAccepted)
	var dispatched struct {
		DeliveryIDs []string `json:"delivery_ids"`
	}
	decodeBody(t, resp, &dispatched)
	if len(dispatched.DeliveryIDs) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(dispatched.DeliveryIDs))
	}
	delID := dispatched.DeliveryIDs[0]

	resp = doJSON(t, "GET", env.srv.URL+tenantPath+"/webhooks/"+whID+"/deliveries?status=pending&limit=10", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 || list[0]["id"] != delID {
		t.Fatalf("list = %v", list)
	}

	resp = doJSON(t, "GET", env.srv.URL+tenantPath+"/deliveries/"+delID, nil)
	expectStatus(t, resp, http.StatusOK)
	var got map[string]any
	decodeBody(t, resp, &got)
	payload, _ := got["payload"].(map[string]any)
	if payload["type"] != "invoice.paid" {
		t.Errorf("payload = %v", got["payload"])
	}

	resp = doJSON(t, "POST", env.srv.URL+tenantPath+"/deliveries/"+delID+"/redeliver", nil)
	expectStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()

	if n, _ := env.queue.Len(context.Background()); n != 2 {
		t.Errorf("queue length = %d, want 2", n)
	}
}

func TestRedeliver_InFlight(t *testing.T) {
	env := newTestEnv(t)
	env.createWebhook(t, "invoice.paid")

	resp := doJSON(t, "POST", env.srv.URL+tenantPath+"/events", map[string]any{"type": "invoice.paid"})
	expectStatus(t, resp, http.StatusAccepted)
	var dispatched struct {
		DeliveryIDs []string `json:"delivery_ids"`
	}
	decodeBody(t, resp, &dispatched)
	delID, err := id.ParseDeliveryID(dispatched.DeliveryIDs[0])
	if err != nil {
		t.Fatal(err)
	}

	claim := delivery.Claim{Token: "worker-1", Until: time.Now().Add(time.Minute)}
	if _, err := env.store.ClaimDelivery(context.Background(), "tenant_acme", delID, claim); err != nil {
		t.Fatal(err)
	}

	resp = doJSON(t, "POST", env.srv.URL+tenantPath+"/deliveries/"+delID.String()+"/redeliver", nil)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	if n, _ := env.queue.Len(context.Background()); n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}
	got, err := env.store.GetDelivery(context.Background(), "tenant_acme", delID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ClaimToken != claim.Token {
		t.Errorf("lease should be kept, got token %q", got.ClaimToken)
	}
}

func TestListDeliveries_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	whID, _ := env.createWebhook(t, "invoice.paid")["id"].(string)

	resp := doJSON(t, "GET", env.srv.URL+tenantPath+"/webhooks/"+whID+"/deliveries?status=bogus", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doJSON(t, "GET", env.srv.URL+tenantPath+"/webhooks/"+id.NewWebhookID().String()+"/deliveries", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

// --- Dead letters ---

func TestDeadLetters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := &delivery.Delivery{
		Entity:       entity.New(),
		ID:           id.NewDeliveryID(),
		WebhookID:    id.NewWebhookID(),
		EventType:    "invoice.paid",
		Payload:      []byte(`{"id":"evt_x"}`),
		Status:       delivery.StatusDead,
		AttemptCount: 6,
	}
	if err := env.store.CreateDelivery(ctx, "tenant_acme", d); err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, "GET", env.srv.URL+tenantPath+"/dead-letters", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(list))
	}

	resp = doJSON(t, "POST", env.srv.URL+tenantPath+"/dead-letters/"+d.ID.String()+"/requeue", nil)
	expectStatus(t, resp, http.StatusAccepted)
	var requeued map[string]any
	decodeBody(t, resp, &requeued)
	if requeued["status"] != "pending" || requeued["attempt_count"] != float64(6) {
		t.Errorf("requeued = %v", requeued)
	}

	// No longer dead.
	resp = doJSON(t, "POST", env.srv.URL+tenantPath+"/dead-letters/"+d.ID.String()+"/requeue", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp := doJSON(t, "GET", env.srv.URL+"/healthz", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	_ = env.store.Close()
	resp = doJSON(t, "GET", env.srv.URL+"/healthz", nil)
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()
}
