package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
	"github.com/devinpfox/fanbidz-reconcile/pkg/obs"
)

// AuctionSvc computes countdowns and closes expired auctions. The
// open->closing CAS is the single settlement claim: no matter how many
// sweepers run concurrently, one of them wins the edge and settlement money
// moves once, guarded again by the ledger idempotency key (the auction id).
type AuctionSvc struct {
	auctions AuctionStore
	bids     BidReader
	ledger   LedgerStore
	pub      Publisher
	clock    Clock
}

func NewAuctionSvc(auctions AuctionStore, bids BidReader, ledger LedgerStore, pub Publisher, clock Clock) *AuctionSvc {
	if clock == nil {
		clock = RealClock{}
	}
	return &AuctionSvc{auctions: auctions, bids: bids, ledger: ledger, pub: pub, clock: clock}
}

// Remaining returns end_at - now floored at zero. Formatting is the UI's
// problem.
func (s *AuctionSvc) Remaining(ctx context.Context, auctionID string, now time.Time) (time.Duration, error) {
	rec, err := s.auctions.ByID(ctx, auctionID)
	if err != nil {
		return 0, fmt.Errorf("auction lookup: %w", err)
	}
	if rec == nil {
		return 0, domain.ErrUnknownEntity
	}
	d := rec.EndAt.Sub(now)
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// SweepExpired finds auctions past end_at and finalizes them, returning the
// ids this call newly closed or settled. Auctions stuck in closing from an
// earlier interrupted sweep are resumed here; the ledger key makes the
// resumed credit a no-op if it already landed.
func (s *AuctionSvc) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.auctions.ExpiredIDs(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("expired scan: %w", err)
	}
	var finalized []string
	for _, id := range ids {
		done, err := s.settle(ctx, id)
		if err != nil {
			// stays in closing; next sweep resumes it
			obs.Logger.Error("settlement failed", "auction_id", id, "err", err)
			continue
		}
		if done {
			finalized = append(finalized, id)
		}
	}
	return finalized, nil
}

func (s *AuctionSvc) settle(ctx context.Context, auctionID string) (bool, error) {
	rec, err := s.auctions.ByID(ctx, auctionID)
	if err != nil {
		return false, fmt.Errorf("auction lookup: %w", err)
	}
	if rec == nil {
		return false, domain.ErrUnknownEntity
	}

	switch rec.Status {
	case domain.AuctionOpen:
		claimed, err := s.auctions.TransitionStatus(ctx, auctionID, domain.AuctionOpen, domain.AuctionClosing)
		if err != nil {
			return false, fmt.Errorf("claim closing: %w", err)
		}
		if !claimed {
			// a concurrent sweeper owns it
			return false, nil
		}
	case domain.AuctionClosing:
		// resume an interrupted settlement
	default:
		return false, nil
	}

	bid, err := s.bids.WinningBid(ctx, auctionID)
	if errors.Is(err, domain.ErrNoBids) {
		closed, terr := s.auctions.TransitionStatus(ctx, auctionID, domain.AuctionClosing, domain.AuctionClosed)
		if terr != nil {
			return false, fmt.Errorf("close without bids: %w", terr)
		}
		if closed {
			obs.Logger.Info("auction closed without bids", "auction_id", auctionID)
		}
		return closed, nil
	}
	if err != nil {
		return false, fmt.Errorf("winning bid: %w", err)
	}

	if err := s.auctions.SetWinner(ctx, auctionID, bid.ID, bid.Amount); err != nil {
		return false, fmt.Errorf("record winner: %w", err)
	}

	entry := &domain.WalletLedgerEntry{
		ID:             uuid.NewString(),
		IdempotencyKey: auctionID,
		AccountID:      rec.SellerID,
		Amount:         bid.Amount,
		Currency:       rec.Currency,
		Reason:         domain.ReasonAuctionSettlement,
		Status:         domain.LedgerPending,
		CreatedAt:      s.clock.Now(),
	}
	if _, _, err := s.ledger.CreateIfAbsent(ctx, entry); err != nil {
		return false, fmt.Errorf("settlement insert: %w", err)
	}
	if _, err := s.ledger.MarkApplied(ctx, auctionID); err != nil {
		return false, fmt.Errorf("settlement apply: %w", err)
	}

	settled, err := s.auctions.TransitionStatus(ctx, auctionID, domain.AuctionClosing, domain.AuctionSettled)
	if err != nil {
		return false, fmt.Errorf("mark settled: %w", err)
	}
	if settled {
		obs.Logger.Info("auction settled",
			"auction_id", auctionID, "winning_bid", bid.ID, "amount", bid.Amount)
		s.publish(ctx, "auction.settled", map[string]any{
			"auction_id":     auctionID,
			"winning_bid_id": bid.ID,
			"amount":         bid.Amount,
			"seller_id":      rec.SellerID,
		})
	}
	return settled, nil
}

func (s *AuctionSvc) publish(ctx context.Context, key string, v any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishJSON(ctx, key, v); err != nil {
		obs.Logger.Warn("publish failed", "routing_key", key, "err", err)
	}
}
