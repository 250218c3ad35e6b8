// Package service holds the reconciliation core: payment and shipment
// reconciliation plus the auction closing engine. All cross-cutting
// correctness comes from idempotency keys and conditional writes in the
// stores, so every dependency here is an interface the gorm and in-memory
// backends both satisfy.
package service

import (
	"context"
	"time"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
)

type LedgerStore interface {
	CreateIfAbsent(ctx context.Context, e *domain.WalletLedgerEntry) (bool, *domain.WalletLedgerEntry, error)
	MarkApplied(ctx context.Context, idempotencyKey string) (bool, error)
	ByKey(ctx context.Context, idempotencyKey string) (*domain.WalletLedgerEntry, error)
	Balance(ctx context.Context, accountID string) (int64, error)
}

type ShipmentStore interface {
	Create(ctx context.Context, rec *domain.ShipmentRecord) error
	ByOrderID(ctx context.Context, orderID string) (*domain.ShipmentRecord, error)
	ByTrackerID(ctx context.Context, trackerID string) (*domain.ShipmentRecord, error)
	UpdateStateCAS(ctx context.Context, trackerID string, fromStatus domain.ShipmentState, fromRank int, to domain.ShipmentState, toRank int, eventAt time.Time) (bool, error)
}

type AuctionStore interface {
	ByID(ctx context.Context, auctionID string) (*domain.AuctionRecord, error)
	ExpiredIDs(ctx context.Context, now time.Time) ([]string, error)
	TransitionStatus(ctx context.Context, auctionID string, from, to domain.AuctionStatus) (bool, error)
	SetWinner(ctx context.Context, auctionID, bidID string, amount int64) error
}

// BidReader is the settlement collaborator: an opaque read of the accepted
// winning bid at closing time.
type BidReader interface {
	WinningBid(ctx context.Context, auctionID string) (*domain.Bid, error)
}

type PaymentProvider interface {
	GetSession(ctx context.Context, sessionID string) (*domain.PaymentSession, error)
}

type CarrierProvider interface {
	CreateTracker(ctx context.Context, trackingCode, carrier string) (*domain.TrackerInfo, error)
}

// Publisher fans reconciliation outcomes out to the topic exchange.
// Publishing is best-effort and never gates state correctness.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }
