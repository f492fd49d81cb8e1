package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sendwave/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SenderBacklog is the queued remainder for one sender within a campaign,
// used to rebuild the in-memory assignment on resume.
type SenderBacklog struct {
	SenderID    string `gorm:"column:sender_id"`
	QueuedCount int64  `gorm:"column:queued_count"`
	MinSequence int64  `gorm:"column:min_sequence"`
}

// JobRepository is the dispatch queue: the durable, idempotent ledger of one
// job per (campaign, recipient) pair. It is the only place recipient→sender
// assignment and job status live.
type JobRepository interface {
	// CreateJobs bulk-inserts jobs, skipping any (campaign, recipient) pair
	// that already exists, and returns the number actually inserted.
	CreateJobs(ctx context.Context, jobs []*domain.DispatchJob) (int64, error)
	GetByID(ctx context.Context, id string) (*domain.DispatchJob, error)
	GetByProviderMessageID(ctx context.Context, providerMsgID string) (*domain.DispatchJob, error)
	// NextBatch returns up to maxN QUEUED jobs for the sender in sequence order.
	NextBatch(ctx context.Context, campaignID, senderID string, maxN int) ([]domain.DispatchJob, error)
	MarkSent(ctx context.Context, id string, providerMsgID string, sentAt time.Time) error
	MarkDelivered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	IncrementAttempt(ctx context.Context, id string) error
	// ReassignQueued re-homes all QUEUED jobs of a campaign from one sender to
	// another starting at the given sequence, returning the affected count.
	ReassignQueued(ctx context.Context, campaignID, fromSenderID, toSenderID string, fromSequence int64) (int64, error)
	CountByCampaign(ctx context.Context, campaignID string) (int64, error)
	CountByStatus(ctx context.Context, campaignID string) (map[domain.JobStatus]int64, error)
	// QueuedBySender summarizes the queued backlog per sender in sequence order.
	QueuedBySender(ctx context.Context, campaignID string) ([]SenderBacklog, error)
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

func (r *GormJobRepo) CreateJobs(ctx context.Context, jobs []*domain.DispatchJob) (int64, error) {
	models := make([]DispatchJobModel, 0, len(jobs))
	for _, j := range jobs {
		if model := jobModelFromDomain(j); model != nil {
			models = append(models, *model)
		}
	}
	if len(models) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "recipient_id"}},
			DoNothing: true,
		}).
		CreateInBatches(&models, 500)
	if result.Error != nil {
		// A conflict the DO NOTHING clause did not absorb means two jobs
		// competed for the same (campaign, sequence) slot.
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return 0, fmt.Errorf("%w: conflicting sequence in campaign ledger", domain.ErrDuplicateJob)
		}
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, id string) (*domain.DispatchJob, error) {
	var model DispatchJobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) GetByProviderMessageID(ctx context.Context, providerMsgID string) (*domain.DispatchJob, error) {
	var model DispatchJobModel
	err := r.db.WithContext(ctx).
		Where("provider_message_id = ?", providerMsgID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) NextBatch(ctx context.Context, campaignID, senderID string, maxN int) ([]domain.DispatchJob, error) {
	if maxN <= 0 {
		return nil, nil
	}

	var models []DispatchJobModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND sender_id = ? AND status = ?", campaignID, senderID, domain.JobQueued).
		Order("sequence ASC").
		Limit(maxN).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.DispatchJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}
	return jobs, nil
}

func (r *GormJobRepo) MarkSent(ctx context.Context, id string, providerMsgID string, sentAt time.Time) error {
	updates := map[string]any{
		"status":  domain.JobSent,
		"sent_at": sentAt,
	}
	if providerMsgID != "" {
		updates["provider_message_id"] = providerMsgID
	}

	result := r.db.WithContext(ctx).
		Model(&DispatchJobModel{}).
		Where("id = ? AND status = ?", id, domain.JobQueued).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.transitionConflict(ctx, id, domain.JobSent)
	}
	return nil
}

func (r *GormJobRepo) MarkDelivered(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&DispatchJobModel{}).
		Where("id = ? AND status = ?", id, domain.JobSent).
		Update("status", domain.JobDelivered)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.transitionConflict(ctx, id, domain.JobDelivered)
	}
	return nil
}

func (r *GormJobRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&DispatchJobModel{}).
		Where("id = ? AND status IN ?", id, []domain.JobStatus{domain.JobQueued, domain.JobSent}).
		Updates(map[string]any{
			"status":     domain.JobFailed,
			"last_error": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.transitionConflict(ctx, id, domain.JobFailed)
	}
	return nil
}

func (r *GormJobRepo) IncrementAttempt(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&DispatchJobModel{}).
		Where("id = ?", id).
		Update("attempt_count", gorm.Expr("attempt_count + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormJobRepo) ReassignQueued(ctx context.Context, campaignID, fromSenderID, toSenderID string, fromSequence int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&DispatchJobModel{}).
		Where("campaign_id = ? AND sender_id = ? AND status = ? AND sequence >= ?",
			campaignID, fromSenderID, domain.JobQueued, fromSequence).
		Update("sender_id", toSenderID)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormJobRepo) CountByCampaign(ctx context.Context, campaignID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&DispatchJobModel{}).
		Where("campaign_id = ?", campaignID).
		Count(&count).Error
	return count, err
}

func (r *GormJobRepo) CountByStatus(ctx context.Context, campaignID string) (map[domain.JobStatus]int64, error) {
	type statusCount struct {
		Status domain.JobStatus `gorm:"column:status"`
		Count  int64            `gorm:"column:count"`
	}

	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&DispatchJobModel{}).
		Select("status, COUNT(*) as count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.JobStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *GormJobRepo) QueuedBySender(ctx context.Context, campaignID string) ([]SenderBacklog, error) {
	var rows []SenderBacklog
	err := r.db.WithContext(ctx).
		Model(&DispatchJobModel{}).
		Select("sender_id, COUNT(*) as queued_count, MIN(sequence) as min_sequence").
		Where("campaign_id = ? AND status = ?", campaignID, domain.JobQueued).
		Group("sender_id").
		Order("min_sequence ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// transitionConflict distinguishes an idempotent terminal replay from a real
// illegal transition after a guarded update matched no rows.
func (r *GormJobRepo) transitionConflict(ctx context.Context, id string, want domain.JobStatus) error {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == want {
		// Duplicate signal replay; already in the target state.
		return nil
	}
	return domain.ErrConflict
}
