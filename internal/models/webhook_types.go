package models

import "time"

// WebhookEvent is the model for the 'webhook_events' table.
// Every inbound Stripe event is persisted here, keyed by Stripe's event
// id, BEFORE any processing happens. A second delivery of the same id
// hits the primary key and is skipped (Stripe delivers at-least-once).
type WebhookEvent struct {
	EventID     string     `json:"eventId" db:"event_id"`
	EventType   string     `json:"eventType" db:"event_type"`
	Payload     string     `json:"-" db:"payload"`
	ReceivedAt  time.Time  `json:"receivedAt" db:"received_at"`
	ProcessedAt *time.Time `json:"processedAt,omitempty" db:"processed_at"`
}
