package repository

import (
	"context"

	"github.com/sendwave/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

// AudienceRepository is a read-only view over the audience collaborator's
// recipients table. The scheduler snapshots an audience at campaign start and
// never writes back.
type AudienceRepository interface {
	// Snapshot returns the audience members in a stable order (creation
	// order), so replanning the same audience yields identical sequences.
	Snapshot(ctx context.Context, audienceID string) ([]domain.Recipient, error)
}

// audienceMemberModel maps the collaborator's audience_members table; only
// the columns the scheduler reads.
type audienceMemberModel struct {
	ID          string `gorm:"column:id"`
	AudienceID  string `gorm:"column:audience_id"`
	PhoneNumber string `gorm:"column:phone_number"`
	OptedOut    bool   `gorm:"column:opted_out"`
}

func (audienceMemberModel) TableName() string {
	return "audience_members"
}

type GormAudienceRepo struct {
	db *gorm.DB
}

func NewGormAudienceRepo(db *gorm.DB) *GormAudienceRepo {
	return &GormAudienceRepo{db: db}
}

func (r *GormAudienceRepo) Snapshot(ctx context.Context, audienceID string) ([]domain.Recipient, error) {
	var models []audienceMemberModel
	err := r.db.WithContext(ctx).
		Where("audience_id = ?", audienceID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for _, m := range models {
		recipient := domain.Recipient{
			ID:          m.ID,
			PhoneNumber: m.PhoneNumber,
		}
		if m.OptedOut {
			recipient.Eligibility = domain.EligibilityInvalid
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}
