// Package courier provides tenant-scoped outbound webhook delivery for Go.
//
// Courier is a library, not a service. Import it into an application to get
// per-tenant webhook subscriptions, signed at-least-once delivery through a
// durable queue, fixed-schedule retries, and a dead-letter state operators
// can inspect and requeue.
//
// Key features:
//   - Tenant isolation by schema (Postgres schema or Mongo database per tenant)
//   - HMAC-SHA256 signatures in X-Webhook-Signature on every attempt
//   - Retry backoff of 1m, 5m, 30m, 2h and 12h before a delivery goes dead
//   - Claim leases so several workers can share one queue safely
//   - Periodic reconciliation of pending deliveries that lost their job
//   - Per-subscription rate limiting
//
// Quick start:
//
//	c, err := courier.New(
//	    courier.WithStore(memstore.New()),
//	    courier.WithQueue(memqueue.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop(ctx)
//
//	wh, _ := c.Webhooks().Create(ctx, "tenant_acme", webhook.Input{
//	    URL:    "https://example.com/hooks",
//	    Events: []string{"invoice.paid"},
//	})
//
//	c.Dispatch(ctx, "tenant_acme", "invoice.paid", map[string]any{"invoice_id": "inv_123"})
package courier
