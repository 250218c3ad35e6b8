package domain

import "time"

// WebhookEvent is the delivery dedup record for inbound provider events.
// One row per provider+event id; Processed flips to true only after the
// downstream handler completed, so a provider retry of a half-finished
// delivery is re-dispatched instead of dropped. Rows are purged after a
// bounded retention window.
type WebhookEvent struct {
	Provider        string `gorm:"primaryKey"`
	ExternalEventID string `gorm:"primaryKey"`
	Topic           string
	PayloadHash     string
	LowTrust        bool
	ReceivedAt      time.Time `gorm:"index"`
	Processed       bool      `gorm:"index"`
	ProcessedAt     *time.Time
}
