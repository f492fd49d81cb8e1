package domain

import (
	"fmt"
	"strings"
	"time"
)

// RotationPolicy selects how recipient quotas are derived across the pool.
type RotationPolicy string

const (
	// RotationWeighted splits quotas proportionally to sender capacity.
	RotationWeighted RotationPolicy = "weighted-round-robin"
	// RotationRoundRobin splits quotas evenly across eligible senders.
	RotationRoundRobin RotationPolicy = "round-robin"
	// RotationSticky uses the operator-configured per-sender quotas as-is.
	RotationSticky RotationPolicy = "sticky-session"
)

func (p RotationPolicy) String() string { return string(p) }

func (p RotationPolicy) IsValid() bool {
	switch p {
	case RotationWeighted, RotationRoundRobin, RotationSticky:
		return true
	}
	return false
}

func ParseRotationPolicyFromString(s string) (RotationPolicy, error) {
	p := RotationPolicy(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid rotation policy %q", ErrValidation, s)
	}
	return p, nil
}

// PoolConfig is the operator-set sender pool behavior: rotation policy, the
// health rule toggles, and a global rate cap bounding the sum of per-sender
// capacities used in planning.
type PoolConfig struct {
	ID                    int            `gorm:"primaryKey"`
	Rotation              RotationPolicy `gorm:"type:varchar(32);not null"`
	GlobalRateCap         int            `gorm:"not null"`
	DemoteOnLowQuality    bool           `gorm:"not null;default:true"`
	ThrottleAtTierShare   bool           `gorm:"not null;default:true"`
	PauseOnFailureRate    bool           `gorm:"not null;default:true"`
	ReheatAfterCooldown   bool           `gorm:"not null;default:true"`
	FailureRateThreshold  float64        `gorm:"not null"`
	TierShareThreshold    float64        `gorm:"not null"`
	ThrottleFactor        float64        `gorm:"not null"`
	CooldownDuration      time.Duration  `gorm:"not null"`
	FailureWindowDuration time.Duration  `gorm:"not null"`
	UpdatedAt             time.Time
}

// DefaultPoolConfig mirrors the pool editor's defaults: pause at 10% failure
// rate for 30 minutes, throttle at 90% of the quality tier's message budget.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		ID:                    1,
		Rotation:              RotationSticky,
		GlobalRateCap:         0,
		DemoteOnLowQuality:    true,
		ThrottleAtTierShare:   true,
		PauseOnFailureRate:    true,
		ReheatAfterCooldown:   true,
		FailureRateThreshold:  0.10,
		TierShareThreshold:    0.90,
		ThrottleFactor:        0.50,
		CooldownDuration:      30 * time.Minute,
		FailureWindowDuration: 15 * time.Minute,
	}
}

func (c *PoolConfig) Validate() error {
	if !c.Rotation.IsValid() {
		return fmt.Errorf("%w: invalid rotation policy %q", ErrValidation, c.Rotation)
	}
	if c.GlobalRateCap < 0 {
		return fmt.Errorf("%w: global rate cap must be non-negative", ErrValidation)
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
		return fmt.Errorf("%w: failure rate threshold must be in (0, 1]", ErrValidation)
	}
	if c.TierShareThreshold <= 0 || c.TierShareThreshold > 1 {
		return fmt.Errorf("%w: tier share threshold must be in (0, 1]", ErrValidation)
	}
	if c.ThrottleFactor <= 0 || c.ThrottleFactor > 1 {
		return fmt.Errorf("%w: throttle factor must be in (0, 1]", ErrValidation)
	}
	if c.CooldownDuration <= 0 {
		return fmt.Errorf("%w: cooldown duration must be positive", ErrValidation)
	}
	if c.FailureWindowDuration <= 0 {
		return fmt.Errorf("%w: failure window duration must be positive", ErrValidation)
	}
	return nil
}
