package domain

import "time"

type SessionStatus string

const (
	SessionSucceeded SessionStatus = "succeeded"
	SessionPending   SessionStatus = "pending"
	SessionFailed    SessionStatus = "failed"
)

// PaymentSession is the provider's authoritative view of a deposit session.
// Amount and currency always come from here, never from client input.
type PaymentSession struct {
	ID        string
	AccountID string
	Amount    int64
	Currency  string
	Status    SessionStatus
}

// TrackerInfo is what the carrier returns when a tracker is registered.
type TrackerInfo struct {
	ID          string
	Status      ShipmentState
	EstDelivery *time.Time
}
