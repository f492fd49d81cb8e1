package domain

import "time"

// FailoverEvent is the immutable audit record of one sender handoff: which
// sender was demoted, which one took over, and the last campaign sequence
// number the demoted sender dispatched (-1 when it never dispatched).
// Dispatch resumes at Sequence+1, so consecutive events prove the zero-loss,
// zero-duplication guarantee.
type FailoverEvent struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	CampaignID   string `gorm:"type:uuid;not null;index"`
	FromSenderID string `gorm:"type:uuid;not null"`
	ToSenderID   string `gorm:"type:uuid;not null"`
	Sequence     int64  `gorm:"not null"`
	Reason       string `gorm:"type:varchar(64);not null"`
	OccurredAt   time.Time
}
