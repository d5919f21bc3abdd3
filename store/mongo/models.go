package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/webhook"
)

// --- Webhook models ---

type webhookModel struct {
	ID          string    `bson:"_id"`
	URL         string    `bson:"url"`
	Secret      string    `bson:"secret"`
	Events      []string  `bson:"events"`
	Active      bool      `bson:"active"`
	Description string    `bson:"description"`
	OwnerID     string    `bson:"owner_id"`
	RateLimit   int       `bson:"rate_limit"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
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

// --- Delivery models ---

type deliveryModel struct {
	ID                 string     `bson:"_id"`
	WebhookID          string     `bson:"webhook_id"`
	EventType          string     `bson:"event_type"`
	Payload            []byte     `bson:"payload"`
	Status             string     `bson:"status"`
	AttemptCount       int        `bson:"attempt_count"`
	NextRetryAt        *time.Time `bson:"next_retry_at"`
	LastResponseStatus int        `bson:"last_response_status"`
	LastResponseBody   string     `bson:"last_response_body"`
	LastError          string     `bson:"last_error"`
	DeliveredAt        *time.Time `bson:"delivered_at"`
	ClaimToken         string     `bson:"claim_token"`
	ClaimedUntil       *time.Time `bson:"claimed_until"`
	CreatedAt          time.Time  `bson:"created_at"`
	UpdatedAt          time.Time  `bson:"updated_at"`
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
