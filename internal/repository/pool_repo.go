package repository

import (
	"context"
	"errors"

	"github.com/sendwave/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PoolConfigRepository stores the single operator-set pool configuration row.
type PoolConfigRepository interface {
	Get(ctx context.Context) (*domain.PoolConfig, error)
	Save(ctx context.Context, cfg *domain.PoolConfig) error
}

type GormPoolConfigRepo struct {
	db *gorm.DB
}

func NewGormPoolConfigRepo(db *gorm.DB) *GormPoolConfigRepo {
	return &GormPoolConfigRepo{db: db}
}

// Get returns the stored configuration, falling back to defaults when none
// has been saved yet.
func (r *GormPoolConfigRepo) Get(ctx context.Context) (*domain.PoolConfig, error) {
	var cfg domain.PoolConfig
	err := r.db.WithContext(ctx).First(&cfg, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		defaults := domain.DefaultPoolConfig()
		return &defaults, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *GormPoolConfigRepo) Save(ctx context.Context, cfg *domain.PoolConfig) error {
	if cfg == nil {
		return domain.ErrValidation
	}
	cfg.ID = 1
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(cfg).Error
}
