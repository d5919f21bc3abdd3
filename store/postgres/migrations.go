package postgres

// schemaDDL creates one tenant's schema, tables and indexes. Each statement
// takes the schema identifier as its only argument.
var schemaDDL = []string{
	`CREATE SCHEMA IF NOT EXISTS ?`,

	`CREATE TABLE IF NOT EXISTS ?.webhooks (
    id          TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    secret      TEXT NOT NULL,
    events      TEXT[] NOT NULL DEFAULT '{}',
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    description TEXT NOT NULL DEFAULT '',
    owner_id    TEXT NOT NULL DEFAULT '',
    rate_limit  INT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,

	`CREATE INDEX IF NOT EXISTS webhooks_events_idx ON ?.webhooks USING GIN (events) WHERE active`,

	`CREATE TABLE IF NOT EXISTS ?.webhook_deliveries (
    id                   TEXT PRIMARY KEY,
    webhook_id           TEXT NOT NULL,
    event_type           TEXT NOT NULL,
    payload              BYTEA NOT NULL,
    status               TEXT NOT NULL DEFAULT 'pending',
    attempt_count        INT NOT NULL DEFAULT 0,
    next_retry_at        TIMESTAMPTZ,
    last_response_status INT NOT NULL DEFAULT 0,
    last_response_body   TEXT NOT NULL DEFAULT '',
    last_error           TEXT NOT NULL DEFAULT '',
    delivered_at         TIMESTAMPTZ,
    claim_token          TEXT NOT NULL DEFAULT '',
    claimed_until        TIMESTAMPTZ,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,

	`CREATE INDEX IF NOT EXISTS webhook_deliveries_webhook_idx ON ?.webhook_deliveries (webhook_id, created_at DESC)`,

	`CREATE INDEX IF NOT EXISTS webhook_deliveries_pending_idx ON ?.webhook_deliveries (COALESCE(next_retry_at, created_at)) WHERE status = 'pending'`,

	`CREATE INDEX IF NOT EXISTS webhook_deliveries_status_idx ON ?.webhook_deliveries (status, created_at DESC)`,
}
