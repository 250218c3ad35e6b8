package domain

import "time"

type LedgerReason string

const (
	ReasonDeposit           LedgerReason = "deposit"
	ReasonAuctionSettlement LedgerReason = "auction_settlement"
	ReasonRefund            LedgerReason = "refund"
)

type LedgerStatus string

const (
	LedgerPending  LedgerStatus = "pending"
	LedgerApplied  LedgerStatus = "applied"
	LedgerReversed LedgerStatus = "reversed"
)

// WalletLedgerEntry is one immutable balance change. Entries are never
// updated in place except for the single pending->applied flip; an account's
// balance is the sum of its applied entries, there is no mutable balance
// column anywhere.
type WalletLedgerEntry struct {
	ID             string       `gorm:"primaryKey"`
	IdempotencyKey string       `gorm:"uniqueIndex;not null"`
	AccountID      string       `gorm:"index;not null"`
	Amount         int64        // signed, minor units
	Currency       string
	Reason         LedgerReason `gorm:"index"`
	Status         LedgerStatus `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
