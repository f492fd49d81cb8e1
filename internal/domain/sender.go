package domain

import (
	"fmt"
	"strings"
	"time"
)

// SenderState represents the operational state of a sender number.
type SenderState string

const (
	SenderActive   SenderState = "ACTIVE"
	SenderDegraded SenderState = "DEGRADED"
	SenderPaused   SenderState = "PAUSED"
	SenderCooldown SenderState = "COOLDOWN"
)

func (s SenderState) String() string { return string(s) }

func (s SenderState) IsValid() bool {
	switch s {
	case SenderActive, SenderDegraded, SenderPaused, SenderCooldown:
		return true
	}
	return false
}

// Eligible reports whether the sender may be assigned new dispatch work.
// DEGRADED senders remain eligible but are deprioritized by the registry.
func (s SenderState) Eligible() bool {
	return s == SenderActive || s == SenderDegraded
}

func ParseSenderStateFromString(s string) (SenderState, error) {
	st := SenderState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid sender state %q", ErrValidation, s)
	}
	return st, nil
}

// QualityTier is the provider-reported messaging quality of a sender.
type QualityTier string

const (
	QualityHigh   QualityTier = "HIGH"
	QualityMedium QualityTier = "MEDIUM"
	QualityLow    QualityTier = "LOW"
)

func (q QualityTier) String() string { return string(q) }

func (q QualityTier) IsValid() bool {
	switch q {
	case QualityHigh, QualityMedium, QualityLow:
		return true
	}
	return false
}

func ParseQualityTierFromString(s string) (QualityTier, error) {
	q := QualityTier(strings.ToUpper(strings.TrimSpace(s)))
	if !q.IsValid() {
		return "", fmt.Errorf("%w: invalid quality tier %q", ErrValidation, s)
	}
	return q, nil
}

// Sender is a registered outbound phone number with a rate capacity and a
// live health state. Position orders the pool; EffectiveCapacity reflects
// rule-driven throttling and never exceeds Capacity.
type Sender struct {
	ID                string      `gorm:"type:uuid;primaryKey"`
	PhoneNumber       string      `gorm:"type:varchar(32);not null;uniqueIndex"`
	DisplayName       string      `gorm:"type:varchar(255)"`
	Position          int         `gorm:"not null;default:0"`
	Capacity          int         `gorm:"not null"`
	EffectiveCapacity int         `gorm:"not null"`
	Quota             int         `gorm:"not null;default:0"`
	QualityTier       QualityTier `gorm:"type:varchar(10);not null"`
	State             SenderState `gorm:"type:varchar(10);not null"`
	TierLimit         int         `gorm:"not null;default:0"`
	TierUsed          int         `gorm:"not null;default:0"`
	CooldownUntil     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s *Sender) Validate() error {
	if strings.TrimSpace(s.PhoneNumber) == "" {
		return fmt.Errorf("%w: phone number is required", ErrValidation)
	}
	if s.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be a positive integer (got %d)", ErrValidation, s.Capacity)
	}
	if !s.QualityTier.IsValid() {
		return fmt.Errorf("%w: invalid quality tier %q", ErrValidation, s.QualityTier)
	}
	if !s.State.IsValid() {
		return fmt.Errorf("%w: invalid sender state %q", ErrValidation, s.State)
	}
	return nil
}

// SignalKind classifies an inbound health event for a sender.
type SignalKind string

const (
	SignalDelivered SignalKind = "DELIVERED"
	SignalFailed    SignalKind = "FAILED"
	SignalQuality   SignalKind = "QUALITY"
)

func (k SignalKind) IsValid() bool {
	switch k {
	case SignalDelivered, SignalFailed, SignalQuality:
		return true
	}
	return false
}

// HealthSignal is one delivery, failure, or quality event for a sender.
// Quality signals carry the new tier; delivery and failure signals feed the
// sliding failure window.
type HealthSignal struct {
	SenderID   string
	Kind       SignalKind
	Quality    QualityTier
	OccurredAt time.Time
}

func (sig HealthSignal) Validate() error {
	if strings.TrimSpace(sig.SenderID) == "" {
		return fmt.Errorf("%w: sender id is required", ErrValidation)
	}
	if !sig.Kind.IsValid() {
		return fmt.Errorf("%w: invalid signal kind %q", ErrValidation, sig.Kind)
	}
	if sig.Kind == SignalQuality && !sig.Quality.IsValid() {
		return fmt.Errorf("%w: quality signal requires a tier", ErrValidation)
	}
	return nil
}
