package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
)

type WebhookRepo struct{ db *gorm.DB }

func NewWebhookRepo(db *gorm.DB) *WebhookRepo {
	return &WebhookRepo{db: db}
}

func (r *WebhookRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.WebhookEvent{})
}

// InsertIfAbsent records the delivery unless the provider+event id pair is
// already known. The returned existing row tells the gateway whether the
// event was fully processed or needs re-dispatch.
func (r *WebhookRepo) InsertIfAbsent(ctx context.Context, ev *domain.WebhookEvent) (bool, *domain.WebhookEvent, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "external_event_id"}},
			DoNothing: true,
		}).
		Create(ev)
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected == 1 {
		return true, ev, nil
	}
	var existing domain.WebhookEvent
	err := r.db.WithContext(ctx).
		First(&existing, "provider = ? AND external_event_id = ?", ev.Provider, ev.ExternalEventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return false, &existing, nil
}

func (r *WebhookRepo) MarkProcessed(ctx context.Context, provider, externalEventID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("provider = ? AND external_event_id = ?", provider, externalEventID).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": at,
		}).Error
}

// PurgeOlderThan drops processed dedup rows past the retention window.
// Unprocessed rows are kept so a late provider retry can still complete them.
func (r *WebhookRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed = ? AND received_at < ?", true, cutoff).
		Delete(&domain.WebhookEvent{})
	return res.RowsAffected, res.Error
}
