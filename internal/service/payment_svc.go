package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
	"github.com/devinpfox/fanbidz-reconcile/pkg/obs"
)

type DepositOutcome string

const (
	DepositApplied DepositOutcome = "applied"
	DepositPending DepositOutcome = "pending"
)

type DepositResult struct {
	Outcome  DepositOutcome `json:"outcome"`
	Amount   int64          `json:"amount,omitempty"`
	Currency string         `json:"currency,omitempty"`
}

type PaymentSvc struct {
	ledger   LedgerStore
	provider PaymentProvider
	pub      Publisher
	clock    Clock
}

func NewPaymentSvc(ledger LedgerStore, provider PaymentProvider, pub Publisher, clock Clock) *PaymentSvc {
	if clock == nil {
		clock = RealClock{}
	}
	return &PaymentSvc{ledger: ledger, provider: provider, pub: pub, clock: clock}
}

// ConfirmDeposit reconciles one deposit session into at most one applied
// ledger entry, keyed by the session id. Safe to call from the polling
// endpoint and the webhook path concurrently; whichever lands first credits,
// the other becomes a read.
func (s *PaymentSvc) ConfirmDeposit(ctx context.Context, sessionID string) (DepositResult, error) {
	if sessionID == "" {
		return DepositResult{}, domain.ErrUnknownEntity
	}

	if e, err := s.ledger.ByKey(ctx, sessionID); err != nil {
		return DepositResult{}, fmt.Errorf("ledger lookup: %w", err)
	} else if e != nil && e.Status == domain.LedgerApplied {
		return DepositResult{Outcome: DepositApplied, Amount: e.Amount, Currency: e.Currency}, nil
	}

	// No applied entry yet (or a pending one left by a crashed writer):
	// ask the provider for the authoritative session state.
	sess, err := s.provider.GetSession(ctx, sessionID)
	if err != nil {
		return DepositResult{}, err
	}

	switch sess.Status {
	case domain.SessionPending:
		return DepositResult{Outcome: DepositPending}, nil
	case domain.SessionFailed:
		return DepositResult{}, fmt.Errorf("%w: session %s", domain.ErrPermanentProvider, sessionID)
	}

	entry := &domain.WalletLedgerEntry{
		ID:             uuid.NewString(),
		IdempotencyKey: sessionID,
		AccountID:      sess.AccountID,
		Amount:         sess.Amount,
		Currency:       sess.Currency,
		Reason:         domain.ReasonDeposit,
		Status:         domain.LedgerPending,
		CreatedAt:      s.clock.Now(),
	}
	created, stored, err := s.ledger.CreateIfAbsent(ctx, entry)
	if err != nil {
		return DepositResult{}, fmt.Errorf("ledger insert: %w", err)
	}
	if !created {
		entry = stored
	}

	flipped, err := s.ledger.MarkApplied(ctx, sessionID)
	if err != nil {
		return DepositResult{}, fmt.Errorf("ledger apply: %w", err)
	}
	if flipped {
		obs.Logger.Info("deposit applied",
			"session_id", sessionID, "account_id", entry.AccountID, "amount", entry.Amount)
		s.publish(ctx, "ledger.applied", map[string]any{
			"idempotency_key": sessionID,
			"account_id":      entry.AccountID,
			"amount":          entry.Amount,
			"currency":        entry.Currency,
			"reason":          domain.ReasonDeposit,
		})
	}
	return DepositResult{Outcome: DepositApplied, Amount: entry.Amount, Currency: entry.Currency}, nil
}

// omiseEvent is the provider webhook envelope; the charge inside carries the
// session id. Amounts in the payload are ignored on purpose.
type omiseEvent struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// OnPaymentWebhook handles a payment provider event routed by the gateway.
// Permanent and unknown-session outcomes are absorbed (logged, acked) so the
// provider stops retrying; transient failures bubble up so the delivery
// stays unprocessed and eligible for retry.
func (s *PaymentSvc) OnPaymentWebhook(ctx context.Context, payload []byte) error {
	var ev omiseEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode payment event: %w", err)
	}
	sessionID := ev.Data.ID
	if sessionID == "" {
		obs.Logger.Warn("payment event without charge id", "event_id", ev.ID)
		return nil
	}

	_, err := s.ConfirmDeposit(ctx, sessionID)
	switch {
	case err == nil:
		return nil
	case isAbsorbable(err):
		obs.Logger.Info("payment event absorbed", "session_id", sessionID, "reason", err.Error())
		return nil
	default:
		return err
	}
}

// Refund appends a compensating entry for an applied deposit or settlement.
// The original is never mutated; the refund has its own idempotency key
// derived from the original's, so retries stay single-shot.
func (s *PaymentSvc) Refund(ctx context.Context, originalKey string) (*domain.WalletLedgerEntry, error) {
	orig, err := s.ledger.ByKey(ctx, originalKey)
	if err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}
	if orig == nil || orig.Status != domain.LedgerApplied {
		return nil, domain.ErrUnknownEntity
	}

	refundKey := "refund:" + originalKey
	entry := &domain.WalletLedgerEntry{
		ID:             uuid.NewString(),
		IdempotencyKey: refundKey,
		AccountID:      orig.AccountID,
		Amount:         -orig.Amount,
		Currency:       orig.Currency,
		Reason:         domain.ReasonRefund,
		Status:         domain.LedgerPending,
		CreatedAt:      s.clock.Now(),
	}
	created, stored, err := s.ledger.CreateIfAbsent(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("ledger insert: %w", err)
	}
	if !created {
		entry = stored
	}
	if _, err := s.ledger.MarkApplied(ctx, refundKey); err != nil {
		return nil, fmt.Errorf("ledger apply: %w", err)
	}
	entry.Status = domain.LedgerApplied
	return entry, nil
}

func (s *PaymentSvc) Balance(ctx context.Context, accountID string) (int64, error) {
	return s.ledger.Balance(ctx, accountID)
}

func (s *PaymentSvc) publish(ctx context.Context, key string, v any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishJSON(ctx, key, v); err != nil {
		obs.Logger.Warn("publish failed", "routing_key", key, "err", err)
	}
}

func isAbsorbable(err error) bool {
	return errors.Is(err, domain.ErrPermanentProvider) || errors.Is(err, domain.ErrUnknownEntity)
}
