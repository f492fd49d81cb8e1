package service

import (
	"context"
	"fmt"

	"github.com/sendwave/campaign-engine/internal/domain"
	"github.com/sendwave/campaign-engine/internal/registry"
	"github.com/sendwave/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// SenderService manages the sender pool's membership and configuration.
type SenderService struct {
	pool    *registry.SenderRegistry
	configs repository.PoolConfigRepository
	logger  *zap.Logger
}

func NewSenderService(pool *registry.SenderRegistry, configs repository.PoolConfigRepository, logger *zap.Logger) (*SenderService, error) {
	if pool == nil {
		return nil, fmt.Errorf("sender registry is required")
	}
	if configs == nil {
		return nil, fmt.Errorf("pool config repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SenderService{pool: pool, configs: configs, logger: logger}, nil
}

// Register adds a sender number to the pool and persists it.
func (s *SenderService) Register(ctx context.Context, sender *domain.Sender) (*domain.Sender, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: sender is required", domain.ErrValidation)
	}
	if err := s.pool.Register(ctx, sender); err != nil {
		return nil, err
	}
	s.logger.Info("sender registered",
		zap.String("senderId", sender.ID),
		zap.String("phone", sender.PhoneNumber),
		zap.Int("capacity", sender.Capacity),
	)
	return sender, nil
}

// List returns every pool member with its live state.
func (s *SenderService) List(_ context.Context) []domain.Sender {
	return s.pool.Senders()
}

// Config returns the active pool configuration.
func (s *SenderService) Config(_ context.Context) domain.PoolConfig {
	return s.pool.Config()
}

// UpdateConfig validates, persists, and applies a new pool configuration.
// Rule changes take effect on the next signal or sweep; no sender state is
// recomputed retroactively.
func (s *SenderService) UpdateConfig(ctx context.Context, cfg domain.PoolConfig) (*domain.PoolConfig, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := s.configs.Save(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to persist pool config: %w", err)
	}
	if err := s.pool.ApplyConfig(cfg); err != nil {
		return nil, err
	}
	s.logger.Info("pool config updated", zap.String("rotation", cfg.Rotation.String()))
	return &cfg, nil
}
