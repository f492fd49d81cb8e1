package repository

import (
	"time"

	"github.com/sendwave/campaign-engine/internal/domain"
)

// DispatchJobModel is the persistence model for the dispatch_jobs table.
// The (campaign_id, recipient_id) unique index is what makes job creation
// idempotent: a second createJobs run inserts nothing for known recipients.
type DispatchJobModel struct {
	ID                string           `gorm:"type:uuid;primaryKey"`
	CampaignID        string           `gorm:"type:uuid;not null;uniqueIndex:idx_jobs_campaign_recipient,priority:1"`
	RecipientID       string           `gorm:"type:uuid;not null;uniqueIndex:idx_jobs_campaign_recipient,priority:2"`
	SenderID          string           `gorm:"type:uuid;not null"`
	Sequence          int64            `gorm:"not null"`
	Status            domain.JobStatus `gorm:"type:varchar(10);not null"`
	AttemptCount      int              `gorm:"not null;default:0"`
	ProviderMessageID *string          `gorm:"type:varchar(255)"`
	LastError         *string          `gorm:"type:text"`
	SentAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (DispatchJobModel) TableName() string {
	return "dispatch_jobs"
}

// SenderModel is the persistence model for the senders table.
type SenderModel struct {
	ID                string             `gorm:"type:uuid;primaryKey"`
	PhoneNumber       string             `gorm:"type:varchar(32);not null;uniqueIndex"`
	DisplayName       string             `gorm:"type:varchar(255)"`
	Position          int                `gorm:"not null;default:0"`
	Capacity          int                `gorm:"not null"`
	EffectiveCapacity int                `gorm:"not null"`
	Quota             int                `gorm:"not null;default:0"`
	QualityTier       domain.QualityTier `gorm:"type:varchar(10);not null"`
	State             domain.SenderState `gorm:"type:varchar(10);not null"`
	TierLimit         int                `gorm:"not null;default:0"`
	TierUsed          int                `gorm:"not null;default:0"`
	CooldownUntil     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (SenderModel) TableName() string {
	return "senders"
}

// CampaignModel is the persistence model for the campaigns table.
type CampaignModel struct {
	ID          string                `gorm:"type:uuid;primaryKey"`
	Name        string                `gorm:"type:varchar(255);not null"`
	AudienceID  string                `gorm:"type:uuid;not null"`
	Template    string                `gorm:"type:text;not null"`
	Status      domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	QueuedCount int                   `gorm:"not null;default:0"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

func jobModelFromDomain(j *domain.DispatchJob) *DispatchJobModel {
	if j == nil {
		return nil
	}

	return &DispatchJobModel{
		ID:                j.ID,
		CampaignID:        j.CampaignID,
		RecipientID:       j.RecipientID,
		SenderID:          j.SenderID,
		Sequence:          j.Sequence,
		Status:            j.Status,
		AttemptCount:      j.AttemptCount,
		ProviderMessageID: j.ProviderMessageID,
		LastError:         j.LastError,
		SentAt:            j.SentAt,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}
}

func jobModelToDomain(m *DispatchJobModel) *domain.DispatchJob {
	if m == nil {
		return nil
	}

	return &domain.DispatchJob{
		ID:                m.ID,
		CampaignID:        m.CampaignID,
		RecipientID:       m.RecipientID,
		SenderID:          m.SenderID,
		Sequence:          m.Sequence,
		Status:            m.Status,
		AttemptCount:      m.AttemptCount,
		ProviderMessageID: m.ProviderMessageID,
		LastError:         m.LastError,
		SentAt:            m.SentAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func senderModelFromDomain(s *domain.Sender) *SenderModel {
	if s == nil {
		return nil
	}

	return &SenderModel{
		ID:                s.ID,
		PhoneNumber:       s.PhoneNumber,
		DisplayName:       s.DisplayName,
		Position:          s.Position,
		Capacity:          s.Capacity,
		EffectiveCapacity: s.EffectiveCapacity,
		Quota:             s.Quota,
		QualityTier:       s.QualityTier,
		State:             s.State,
		TierLimit:         s.TierLimit,
		TierUsed:          s.TierUsed,
		CooldownUntil:     s.CooldownUntil,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func senderModelToDomain(m *SenderModel) *domain.Sender {
	if m == nil {
		return nil
	}

	return &domain.Sender{
		ID:                m.ID,
		PhoneNumber:       m.PhoneNumber,
		DisplayName:       m.DisplayName,
		Position:          m.Position,
		Capacity:          m.Capacity,
		EffectiveCapacity: m.EffectiveCapacity,
		Quota:             m.Quota,
		QualityTier:       m.QualityTier,
		State:             m.State,
		TierLimit:         m.TierLimit,
		TierUsed:          m.TierUsed,
		CooldownUntil:     m.CooldownUntil,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}

	return &CampaignModel{
		ID:          c.ID,
		Name:        c.Name,
		AudienceID:  c.AudienceID,
		Template:    c.Template,
		Status:      c.Status,
		QueuedCount: c.QueuedCount,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:          m.ID,
		Name:        m.Name,
		AudienceID:  m.AudienceID,
		Template:    m.Template,
		Status:      m.Status,
		QueuedCount: m.QueuedCount,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
