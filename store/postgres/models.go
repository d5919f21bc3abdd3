package postgres

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/webhook"
)

// --- Webhook models ---

type webhookModel struct {
	bun.BaseModel `bun:"table:webhooks,alias:w"`

	ID          string    `bun:"id,pk"`
	URL         string    `bun:"url"`
	Secret      string    `bun:"secret"`
	Events      []string  `bun:"events,array"`
	Active      bool      `bun:"active"`
	Description string    `bun:"description"`
	OwnerID     string    `bun:"owner_id"`
	RateLimit   int       `bun:"rate_limit"`
	CreatedAt   time.Time `bun:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at"`
}

func toWebhookModel(w *webhook.Webhook) *webhookModel {
	events := w.Events
	if events == nil {
		events = []string{}
	}
	return &webhookModel{
		ID:          w.ID.String(),
		URL:         w.URL,
		Secret:      w.Secret,
		Events:      events,
		Active:      w.Active,
		Description: w.Description,
		OwnerID:     w.OwnerID,
		RateLimit:   w.RateLimit,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

func fromWebhookModel(m *webhookModel) (*webhook.Webhook, error) {
	whID, err := id.ParseWebhookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.ID, err)
	}
	return &webhook.Webhook{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          whID,
		URL:         m.URL,
		Secret:      m.Secret,
		Events:      m.Events,
		Active:      m.Active,
		Description: m.Description,
		OwnerID:     m.OwnerID,
		RateLimit:   m.RateLimit,
	}, nil
}

func fromWebhookModels(ms []webhookModel) ([]*webhook.Webhook, error) {
	out := make([]*webhook.Webhook, 0, len(ms))
	for i := range ms {
		w, err := fromWebhookModel(&ms[i])
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// --- Delivery models ---

type deliveryModel struct {
	bun.BaseModel `bun:"table:webhook_deliveries,alias:d"`

	ID                 string     `bun:"id,pk"`
	WebhookID          string     `bun:"webhook_id"`
	EventType          string     `bun:"event_type"`
	Payload            []byte     `bun:"payload,type:bytea"`
	Status             string     `bun:"status"`
	AttemptCount       int        `bun:"attempt_count"`
	NextRetryAt        *time.Time `bun:"next_retry_at"`
	LastResponseStatus int        `bun:"last_response_status"`
	LastResponseBody   string     `bun:"last_response_body"`
	LastError          string     `bun:"last_error"`
	DeliveredAt        *time.Time `bun:"delivered_at"`
	ClaimToken         string     `bun:"claim_token"`
	ClaimedUntil       *time.Time `bun:"claimed_until"`
	CreatedAt          time.Time  `bun:"created_at"`
	UpdatedAt          time.Time  `bun:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:                 d.ID.String(),
		WebhookID:          d.WebhookID.String(),
		EventType:          d.EventType,
		Payload:            d.Payload,
		Status:             string(d.Status),
		AttemptCount:       d.AttemptCount,
		NextRetryAt:        d.NextRetryAt,
		LastResponseStatus: d.LastResponseStatus,
		LastResponseBody:   d.LastResponseBody,
		LastError:          d.LastError,
		DeliveredAt:        d.DeliveredAt,
		ClaimToken:         d.ClaimToken,
		ClaimedUntil:       d.ClaimedUntil,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	whID, err := id.ParseWebhookID(m.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.WebhookID, err)
	}
	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                 delID,
		WebhookID:          whID,
		EventType:          m.EventType,
		Payload:            m.Payload,
		Status:             delivery.Status(m.Status),
		AttemptCount:       m.AttemptCount,
		NextRetryAt:        m.NextRetryAt,
		LastResponseStatus: m.LastResponseStatus,
		LastResponseBody:   m.LastResponseBody,
		LastError:          m.LastError,
		DeliveredAt:        m.DeliveredAt,
		ClaimToken:         m.ClaimToken,
		ClaimedUntil:       m.ClaimedUntil,
	}, nil
}

func fromDeliveryModels(ms []deliveryModel) ([]*delivery.Delivery, error) {
	out := make([]*delivery.Delivery, 0, len(ms))
	for i := range ms {
		d, err := fromDeliveryModel(&ms[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
