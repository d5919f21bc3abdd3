package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xraph/courier/signature"
)

const maxResponseBody = 1024 // 1KB cap on response body storage

// Header names sent with every delivery attempt.
const (
	HeaderSignature  = "X-Webhook-Signature"
	HeaderWebhookID  = "X-Webhook-ID"
	HeaderDeliveryID = "X-Delivery-ID"
)

const userAgent = "Courier-Webhooks/1.0"

// Request is one outbound attempt.
type Request struct {
	URL        string
	Secret     string
	WebhookID  string
	DeliveryID string
	Payload    []byte
}

// Sender performs signed HTTP webhook delivery.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given HTTP timeout. A non-positive
// timeout means 10s.
func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// NewSenderWithClient creates a sender on a caller-supplied client.
func NewSenderWithClient(client *http.Client) *Sender {
	return &Sender{client: client}
}

// Send POSTs the payload and returns the outcome. Transport failures are
// reported in Result.Error with a zero status code.
func (s *Sender) Send(ctx context.Context, r Request) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Payload))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, signature.Sign(r.Payload, r.Secret))
	req.Header.Set(HeaderWebhookID, r.WebhookID)
	req.Header.Set(HeaderDeliveryID, r.DeliveryID)

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is a tenant-configured webhook destination.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: int(latency),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	res := Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  int(latency),
	}
	if readErr != nil {
		res.Error = fmt.Sprintf("read response: %v", readErr)
	} else if !res.OK() {
		res.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return res
}
