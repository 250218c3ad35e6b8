package domain

import "time"

type AuctionStatus string

const (
	AuctionOpen    AuctionStatus = "open"
	AuctionClosing AuctionStatus = "closing"
	AuctionClosed  AuctionStatus = "closed"
	AuctionSettled AuctionStatus = "settled"
)

// AuctionRecord holds end time and settlement outcome for one auction.
// Status only ever moves forward: open -> closing -> closed|settled. The
// closing state is the settlement claim; a sweep that crashes mid-settlement
// leaves the auction in closing and a later sweep resumes it.
type AuctionRecord struct {
	AuctionID     string        `gorm:"primaryKey"`
	SellerID      string        `gorm:"index"`
	EndAt         time.Time     `gorm:"index"`
	Status        AuctionStatus `gorm:"index"`
	WinningBidID  string
	WinningAmount int64
	Currency      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Bid is an accepted bid on an auction. Bid acceptance itself happens
// outside this service; the sweep only reads the winner at closing time.
type Bid struct {
	ID        string `gorm:"primaryKey"`
	AuctionID string `gorm:"index"`
	BidderID  string
	Amount    int64
	CreatedAt time.Time
}
