package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
)

type AuctionRepo struct{ db *gorm.DB }

func NewAuctionRepo(db *gorm.DB) *AuctionRepo {
	return &AuctionRepo{db: db}
}

func (r *AuctionRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.AuctionRecord{}, &domain.Bid{})
}

func (r *AuctionRepo) Create(ctx context.Context, a *domain.AuctionRecord) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *AuctionRepo) ByID(ctx context.Context, auctionID string) (*domain.AuctionRecord, error) {
	var a domain.AuctionRecord
	err := r.db.WithContext(ctx).First(&a, "auction_id = ?", auctionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ExpiredIDs lists auctions past their end time that still need closing
// work: open ones waiting for the open->closing claim and closing ones left
// behind by an interrupted settlement.
func (r *AuctionRepo) ExpiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&domain.AuctionRecord{}).
		Where("end_at <= ? AND status IN ?", now, []domain.AuctionStatus{domain.AuctionOpen, domain.AuctionClosing}).
		Order("end_at ASC").
		Pluck("auction_id", &ids).Error
	return ids, err
}

// TransitionStatus performs the conditional status move. Exactly one caller
// wins a given from->to edge per auction.
func (r *AuctionRepo) TransitionStatus(ctx context.Context, auctionID string, from, to domain.AuctionStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.AuctionRecord{}).
		Where("auction_id = ? AND status = ?", auctionID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *AuctionRepo) SetWinner(ctx context.Context, auctionID, bidID string, amount int64) error {
	return r.db.WithContext(ctx).
		Model(&domain.AuctionRecord{}).
		Where("auction_id = ?", auctionID).
		Updates(map[string]any{
			"winning_bid_id": bidID,
			"winning_amount": amount,
		}).Error
}

// WinningBid returns the highest bid for an auction.
func (r *AuctionRepo) WinningBid(ctx context.Context, auctionID string) (*domain.Bid, error) {
	var b domain.Bid
	err := r.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("amount DESC, created_at ASC").
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoBids
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
