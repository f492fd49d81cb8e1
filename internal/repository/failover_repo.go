package repository

import (
	"context"

	"github.com/sendwave/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type FailoverEventRepository interface {
	Create(ctx context.Context, event *domain.FailoverEvent) error
	ListByCampaign(ctx context.Context, campaignID string) ([]domain.FailoverEvent, error)
}

type GormFailoverEventRepo struct {
	db *gorm.DB
}

func NewGormFailoverEventRepo(db *gorm.DB) *GormFailoverEventRepo {
	return &GormFailoverEventRepo{db: db}
}

func (r *GormFailoverEventRepo) Create(ctx context.Context, event *domain.FailoverEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *GormFailoverEventRepo) ListByCampaign(ctx context.Context, campaignID string) ([]domain.FailoverEvent, error) {
	var events []domain.FailoverEvent
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("occurred_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
