package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
)

var ErrOrderExists = errors.New("order_already_tracked")

type ShipmentRepo struct{ db *gorm.DB }

func NewShipmentRepo(db *gorm.DB) *ShipmentRepo {
	return &ShipmentRepo{db: db}
}

func (r *ShipmentRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.ShipmentRecord{})
}

func (r *ShipmentRepo) Create(ctx context.Context, rec *domain.ShipmentRecord) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderExists
	}
	return nil
}

func (r *ShipmentRepo) ByOrderID(ctx context.Context, orderID string) (*domain.ShipmentRecord, error) {
	var rec domain.ShipmentRecord
	err := r.db.WithContext(ctx).First(&rec, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ShipmentRepo) ByTrackerID(ctx context.Context, trackerID string) (*domain.ShipmentRecord, error) {
	var rec domain.ShipmentRecord
	err := r.db.WithContext(ctx).First(&rec, "external_tracker_id = ?", trackerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateStateCAS advances the shipment only if it is still in the state the
// caller observed. Returns false when a concurrent writer got there first;
// the caller reloads and re-evaluates the transition.
func (r *ShipmentRepo) UpdateStateCAS(ctx context.Context, trackerID string, fromStatus domain.ShipmentState, fromRank int, to domain.ShipmentState, toRank int, eventAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.ShipmentRecord{}).
		Where("external_tracker_id = ? AND status = ? AND rank = ?", trackerID, fromStatus, fromRank).
		Updates(map[string]any{
			"status":        to,
			"rank":          toRank,
			"last_event_at": eventAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
