package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sendwave/campaign-engine/internal/domain"
	"github.com/sendwave/campaign-engine/internal/registry"
	"github.com/sendwave/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// SignalService ingests provider webhooks: per-message delivery receipts and
// per-sender quality ratings. Receipts settle jobs and feed the sender's
// failure window; quality ratings drive the tier rules.
type SignalService struct {
	jobs   repository.JobRepository
	pool   *registry.SenderRegistry
	logger *zap.Logger
	now    func() time.Time
}

func NewSignalService(jobs repository.JobRepository, pool *registry.SenderRegistry, logger *zap.Logger) (*SignalService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("sender registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalService{jobs: jobs, pool: pool, logger: logger, now: time.Now}, nil
}

// RecordDeliveryReceipt settles the job the provider message belongs to.
// Replays of a terminal receipt are no-ops; a receipt for an unknown message
// yields ErrNotFound.
func (s *SignalService) RecordDeliveryReceipt(ctx context.Context, providerMsgID, status string, occurredAt time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(providerMsgID) == "" {
		return fmt.Errorf("%w: provider message id is required", domain.ErrValidation)
	}
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}

	job, err := s.jobs.GetByProviderMessageID(ctx, providerMsgID)
	if err != nil {
		return err
	}

	var kind domain.SignalKind
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "delivered", "read":
		kind = domain.SignalDelivered
		if err := s.jobs.MarkDelivered(ctx, job.ID); err != nil {
			return err
		}
	case "failed", "undeliverable":
		kind = domain.SignalFailed
		if err := s.jobs.MarkFailed(ctx, job.ID, "delivery failed"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown delivery status %q", domain.ErrValidation, status)
	}

	s.recordSignal(ctx, domain.HealthSignal{
		SenderID:   job.SenderID,
		Kind:       kind,
		OccurredAt: occurredAt,
	})
	return nil
}

// RecordQualityRating applies a provider quality rating to a sender.
func (s *SignalService) RecordQualityRating(ctx context.Context, senderID, rating string, occurredAt time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tier, err := domain.ParseQualityTierFromString(rating)
	if err != nil {
		return err
	}
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}

	s.recordSignal(ctx, domain.HealthSignal{
		SenderID:   senderID,
		Kind:       domain.SignalQuality,
		Quality:    tier,
		OccurredAt: occurredAt,
	})
	return nil
}

// recordSignal folds the signal into the pool. Signals for senders removed
// from the pool are stale, not errors: dropped at debug.
func (s *SignalService) recordSignal(ctx context.Context, sig domain.HealthSignal) {
	state, err := s.pool.RecordHealthSignal(ctx, sig)
	if err != nil {
		if errors.Is(err, domain.ErrStaleSignal) {
			s.logger.Debug("dropped stale health signal",
				zap.String("senderId", sig.SenderID),
				zap.String("kind", string(sig.Kind)),
			)
			return
		}
		s.logger.Warn("failed to record health signal",
			zap.String("senderId", sig.SenderID),
			zap.Error(err),
		)
		return
	}

	s.logger.Debug("health signal recorded",
		zap.String("senderId", sig.SenderID),
		zap.String("kind", string(sig.Kind)),
		zap.String("state", state.String()),
	)
}
