package webhook

// Input is the creation payload for subscriptions.
type Input struct {
	// URL is the delivery target.
	URL string `json:"url"`

	// Secret is the HMAC signing secret. Generated when empty.
	Secret string `json:"secret,omitempty"`

	// Events are the subscribed event types.
	Events []string `json:"events"`

	// Description is free text.
	Description string `json:"description"`

	// OwnerID identifies the creator.
	OwnerID string `json:"owner_id"`

	// RateLimit caps deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Inactive creates the subscription switched off.
	Inactive bool `json:"inactive,omitempty"`
}

// UpdateInput changes the non-nil fields of a subscription.
type UpdateInput struct {
	URL         *string  `json:"url,omitempty"`
	Events      []string `json:"events,omitempty"`
	Active      *bool    `json:"active,omitempty"`
	Description *string  `json:"description,omitempty"`
	RateLimit   *int     `json:"rate_limit,omitempty"`
}

// ListOpts configures filtering and pagination for subscription listing.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}
