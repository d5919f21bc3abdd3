package webhook

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/signature"
	"github.com/xraph/courier/tenant"
)

const minSecretLength = 16

// Config holds service-level validation settings.
type Config struct {
	// AllowInsecureURLs accepts http:// targets. Intended for tests and local development.
	AllowInsecureURLs bool

	// Throttle, when set, has its per-subscription state dropped on delete
	// and on rate limit changes.
	Throttle Throttle
}

// Throttle holds per-subscription rate limit state keyed by webhook ID.
type Throttle interface {
	Forget(key string)
}

// Service provides subscription management operations.
type Service struct {
	store  Store
	config Config
	logger *slog.Logger
}

// NewService creates a new subscription service.
func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Create registers a new subscription. The returned record carries the
// signing secret; later reads never expose it again.
func (svc *Service) Create(ctx context.Context, schema string, in Input) (*Webhook, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return nil, err
	}
	if err := svc.validateURL(in.URL); err != nil {
		return nil, err
	}
	events, err := normalizeEvents(in.Events)
	if err != nil {
		return nil, err
	}
	if in.RateLimit < 0 {
		return nil, &ValidationError{Field: "rate_limit", Message: "must not be negative"}
	}

	secret := in.Secret
	switch {
	case secret == "":
		secret = signature.GenerateSecret()
	case len(secret) < minSecretLength:
		return nil, &ValidationError{Field: "secret", Message: "must be at least 16 characters"}
	}

	w := &Webhook{
		Entity:      entity.New(),
		ID:          id.NewWebhookID(),
		URL:         in.URL,
		Secret:      secret,
		Events:      events,
		Active:      !in.Inactive,
		Description: in.Description,
		OwnerID:     in.OwnerID,
		RateLimit:   in.RateLimit,
	}

	if err := svc.store.CreateWebhook(ctx, schema, w); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "webhook created",
		"schema", schema, "webhook_id", w.ID, "events", len(w.Events))

	return w, nil
}

// Get returns a subscription by ID.
func (svc *Service) Get(ctx context.Context, schema string, whID id.ID) (*Webhook, error) {
	return svc.store.GetWebhook(ctx, schema, whID)
}

// Update modifies an existing subscription.
func (svc *Service) Update(ctx context.Context, schema string, whID id.ID, in UpdateInput) (*Webhook, error) {
	w, err := svc.store.GetWebhook(ctx, schema, whID)
	if err != nil {
		return nil, err
	}

	if in.URL != nil {
		if err := svc.validateURL(*in.URL); err != nil {
			return nil, err
		}
		w.URL = *in.URL
	}
	if in.Events != nil {
		events, err := normalizeEvents(in.Events)
		if err != nil {
			return nil, err
		}
		w.Events = events
	}
	if in.Active != nil {
		w.Active = *in.Active
	}
	if in.Description != nil {
		w.Description = *in.Description
	}
	rateChanged := false
	if in.RateLimit != nil {
		if *in.RateLimit < 0 {
			return nil, &ValidationError{Field: "rate_limit", Message: "must not be negative"}
		}
		rateChanged = w.RateLimit != *in.RateLimit
		w.RateLimit = *in.RateLimit
	}
	w.Touch()

	if err := svc.store.UpdateWebhook(ctx, schema, w); err != nil {
		return nil, err
	}
	if rateChanged {
		svc.forget(w.ID)
	}

	return w, nil
}

// Delete removes a subscription. Existing deliveries keep their records;
// pending ones are dead-lettered by the worker on their next attempt.
func (svc *Service) Delete(ctx context.Context, schema string, whID id.ID) error {
	if err := svc.store.DeleteWebhook(ctx, schema, whID); err != nil {
		return err
	}
	svc.forget(whID)
	return nil
}

func (svc *Service) forget(whID id.ID) {
	if svc.config.Throttle != nil {
		svc.config.Throttle.Forget(whID.String())
	}
}

// List returns subscriptions for a tenant.
func (svc *Service) List(ctx context.Context, schema string, opts ListOpts) ([]*Webhook, error) {
	if err := tenant.ValidateSchema(schema); err != nil {
		return nil, err
	}
	return svc.store.ListWebhooks(ctx, schema, opts)
}

// RotateSecret generates a new signing secret and returns it once.
func (svc *Service) RotateSecret(ctx context.Context, schema string, whID id.ID) (string, error) {
	w, err := svc.store.GetWebhook(ctx, schema, whID)
	if err != nil {
		return "", err
	}

	w.Secret = signature.GenerateSecret()
	w.Touch()
	if err := svc.store.UpdateWebhook(ctx, schema, w); err != nil {
		return "", err
	}

	svc.logger.InfoContext(ctx, "webhook secret rotated", "schema", schema, "webhook_id", whID)
	return w.Secret, nil
}

func (svc *Service) validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" {
		return &ValidationError{Field: "url", Message: "invalid URL"}
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if svc.config.AllowInsecureURLs {
			return nil
		}
	}
	return &ValidationError{Field: "url", Message: "must use https"}
}

func normalizeEvents(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, &ValidationError{Field: "events", Message: "at least one event type required"}
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.TrimSpace(e)
		if e == "" {
			return nil, &ValidationError{Field: "events", Message: "event types must not be blank"}
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "webhook validation: " + e.Field + ": " + e.Message
}
