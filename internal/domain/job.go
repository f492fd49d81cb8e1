package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the dispatch state of one recipient's job.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobSent      JobStatus = "SENT"
	JobDelivered JobStatus = "DELIVERED"
	JobFailed    JobStatus = "FAILED"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobQueued, JobSent, JobDelivered, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether a status rejects further transitions. Webhook
// replays of the same terminal signal are treated as no-ops, not corruption.
func (s JobStatus) Terminal() bool {
	return s == JobDelivered || s == JobFailed
}

// CanTransition reports whether from→to is a legal, monotonic move.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobQueued:
		return to == JobSent || to == JobFailed
	case JobSent:
		return to == JobDelivered || to == JobFailed
	case JobFailed:
		// Idempotent replay of a failure signal.
		return to == JobFailed
	}
	return false
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// DispatchJob is the durable record of one recipient's send within one
// campaign. Exactly one job exists per (campaign, recipient) pair; Sequence
// is the campaign-global dispatch position and never changes after creation.
// SenderID is the current assignment and is rewritten on failover for jobs
// that are still QUEUED.
type DispatchJob struct {
	ID                string    `gorm:"type:uuid;primaryKey"`
	CampaignID        string    `gorm:"type:uuid;not null;uniqueIndex:idx_jobs_campaign_recipient,priority:1"`
	RecipientID       string    `gorm:"type:uuid;not null;uniqueIndex:idx_jobs_campaign_recipient,priority:2"`
	SenderID          string    `gorm:"type:uuid;not null"`
	Sequence          int64     `gorm:"not null"`
	Status            JobStatus `gorm:"type:varchar(10);not null"`
	AttemptCount      int       `gorm:"not null;default:0"`
	ProviderMessageID *string   `gorm:"type:varchar(255)"`
	LastError         *string   `gorm:"type:text"`
	SentAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (j *DispatchJob) Validate() error {
	if strings.TrimSpace(j.CampaignID) == "" {
		return fmt.Errorf("%w: campaign id is required", ErrValidation)
	}
	if strings.TrimSpace(j.RecipientID) == "" {
		return fmt.Errorf("%w: recipient id is required", ErrValidation)
	}
	if strings.TrimSpace(j.SenderID) == "" {
		return fmt.Errorf("%w: sender id is required", ErrValidation)
	}
	if j.Sequence < 0 {
		return fmt.Errorf("%w: sequence must be non-negative (got %d)", ErrValidation, j.Sequence)
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("%w: invalid job status %q", ErrValidation, j.Status)
	}
	return nil
}
