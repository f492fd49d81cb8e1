package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignRunning   CampaignStatus = "RUNNING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignBlocked   CampaignStatus = "BLOCKED"
	CampaignCompleted CampaignStatus = "COMPLETED"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignDraft, CampaignRunning, CampaignPaused, CampaignBlocked, CampaignCompleted:
		return true
	}
	return false
}

func ParseCampaignStatusFromString(s string) (CampaignStatus, error) {
	st := CampaignStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign status %q", ErrValidation, s)
	}
	return st, nil
}

// CanStart reports whether the start operation is admissible. Starting a
// RUNNING campaign is allowed and must be idempotent.
func (s CampaignStatus) CanStart() bool {
	return s == CampaignDraft || s == CampaignRunning || s == CampaignPaused
}

// Campaign is one outbound messaging campaign over an audience snapshot.
type Campaign struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	Name        string         `gorm:"type:varchar(255);not null"`
	AudienceID  string         `gorm:"type:uuid;not null"`
	Template    string         `gorm:"type:text;not null"`
	Status      CampaignStatus `gorm:"type:varchar(20);not null"`
	QueuedCount int            `gorm:"not null;default:0"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(c.AudienceID) == "" {
		return fmt.Errorf("%w: audience id is required", ErrValidation)
	}
	if strings.TrimSpace(c.Template) == "" {
		return fmt.Errorf("%w: template is required", ErrValidation)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid campaign status %q", ErrValidation, c.Status)
	}
	return nil
}
