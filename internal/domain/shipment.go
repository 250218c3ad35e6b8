package domain

import "time"

type ShipmentState string

const (
	ShipmentUnknown        ShipmentState = "unknown"
	ShipmentPreTransit     ShipmentState = "pre_transit"
	ShipmentInTransit      ShipmentState = "in_transit"
	ShipmentOutForDelivery ShipmentState = "out_for_delivery"
	ShipmentDelivered      ShipmentState = "delivered"
	ShipmentException      ShipmentState = "exception"
)

var shipmentRanks = map[ShipmentState]int{
	ShipmentUnknown:        0,
	ShipmentPreTransit:     1,
	ShipmentInTransit:      2,
	ShipmentOutForDelivery: 3,
	ShipmentDelivered:      4,
}

// Rank returns the forward-progress order of a normal state and -1 for
// exception, which sits outside the ordering.
func (s ShipmentState) Rank() int {
	r, ok := shipmentRanks[s]
	if !ok {
		return -1
	}
	return r
}

// ShipmentRecord tracks one order's shipment. Status carries the effective
// state shown to callers; Rank remembers the furthest normal state seen so
// that an exception does not erase forward progress.
type ShipmentRecord struct {
	OrderID           string        `gorm:"primaryKey"`
	Carrier           string
	TrackingCode      string        `gorm:"index"`
	ExternalTrackerID string        `gorm:"uniqueIndex;not null"`
	Status            ShipmentState `gorm:"index"`
	Rank              int
	LastEventAt       time.Time
	EstDelivery       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NextShipment decides whether an incoming carrier state may be applied on
// top of the current one. Rules:
//   - a normal state strictly ahead of the stored rank always advances;
//   - delivered may be re-confirmed idempotently;
//   - while in exception, a normal report at or ahead of the stored rank
//     resumes forward progress (carriers re-report after flagging);
//   - exception interrupts any non-terminal state;
//   - everything else is a stale replay and is dropped.
func NextShipment(curStatus ShipmentState, curRank int, incoming ShipmentState) (to ShipmentState, toRank int, ok bool) {
	if incoming == ShipmentException {
		if curStatus == ShipmentDelivered || curStatus == ShipmentException {
			return curStatus, curRank, false
		}
		return ShipmentException, curRank, true
	}
	r := incoming.Rank()
	if r < 0 {
		return curStatus, curRank, false
	}
	if curStatus == ShipmentException {
		if r >= curRank {
			return incoming, r, true
		}
		return curStatus, curRank, false
	}
	if r > curRank {
		return incoming, r, true
	}
	if incoming == ShipmentDelivered && curStatus == ShipmentDelivered {
		// re-confirmation, accepted without changing anything
		return curStatus, curRank, true
	}
	return curStatus, curRank, false
}
