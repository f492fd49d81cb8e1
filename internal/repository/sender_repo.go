package repository

import (
	"context"
	"errors"

	"github.com/sendwave/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type SenderRepository interface {
	Create(ctx context.Context, s *domain.Sender) error
	GetByID(ctx context.Context, id string) (*domain.Sender, error)
	List(ctx context.Context) ([]domain.Sender, error)
	Update(ctx context.Context, s *domain.Sender) error
}

type GormSenderRepo struct {
	db *gorm.DB
}

func NewGormSenderRepo(db *gorm.DB) *GormSenderRepo {
	return &GormSenderRepo{db: db}
}

func (r *GormSenderRepo) Create(ctx context.Context, s *domain.Sender) error {
	model := senderModelFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if s != nil {
		*s = *senderModelToDomain(model)
	}
	return nil
}

func (r *GormSenderRepo) GetByID(ctx context.Context, id string) (*domain.Sender, error) {
	var model SenderModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return senderModelToDomain(&model), nil
}

func (r *GormSenderRepo) List(ctx context.Context) ([]domain.Sender, error) {
	var models []SenderModel
	err := r.db.WithContext(ctx).
		Order("position ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	senders := make([]domain.Sender, 0, len(models))
	for i := range models {
		senders = append(senders, *senderModelToDomain(&models[i]))
	}
	return senders, nil
}

func (r *GormSenderRepo) Update(ctx context.Context, s *domain.Sender) error {
	model := senderModelFromDomain(s)
	result := r.db.WithContext(ctx).
		Model(&SenderModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"position":           model.Position,
			"capacity":           model.Capacity,
			"effective_capacity": model.EffectiveCapacity,
			"quota":              model.Quota,
			"quality_tier":       model.QualityTier,
			"state":              model.State,
			"tier_limit":         model.TierLimit,
			"tier_used":          model.TierUsed,
			"cooldown_until":     model.CooldownUntil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
