package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
)

type LedgerRepo struct{ db *gorm.DB }

func NewLedgerRepo(db *gorm.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

func (r *LedgerRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.WalletLedgerEntry{})
}

// CreateIfAbsent inserts the entry unless one with the same idempotency key
// already exists. Uses ON CONFLICT DO NOTHING so concurrent writers racing on
// the same key both converge on the single stored row.
func (r *LedgerRepo) CreateIfAbsent(ctx context.Context, e *domain.WalletLedgerEntry) (bool, *domain.WalletLedgerEntry, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(e)
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected == 1 {
		return true, e, nil
	}
	existing, err := r.ByKey(ctx, e.IdempotencyKey)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// MarkApplied flips a pending entry to applied. The WHERE guard on status
// makes the flip happen at most once per key.
func (r *LedgerRepo) MarkApplied(ctx context.Context, idempotencyKey string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.WalletLedgerEntry{}).
		Where("idempotency_key = ? AND status = ?", idempotencyKey, domain.LedgerPending).
		Update("status", domain.LedgerApplied)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *LedgerRepo) ByKey(ctx context.Context, idempotencyKey string) (*domain.WalletLedgerEntry, error) {
	var e domain.WalletLedgerEntry
	err := r.db.WithContext(ctx).First(&e, "idempotency_key = ?", idempotencyKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Balance derives the account balance as the sum of applied entries.
func (r *LedgerRepo) Balance(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&domain.WalletLedgerEntry{}).
		Where("account_id = ? AND status = ?", accountID, domain.LedgerApplied).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}
