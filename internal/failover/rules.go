// Package failover holds the per-sender health state machine and the
// campaign-level handoff protocol. Health policy is an ordered list of
// predicate/action rules evaluated against the sliding-window counters, so
// pool-editor toggles map to rule toggles instead of scattered conditionals.
package failover

import (
	"time"

	"github.com/sendwave/campaign-engine/internal/domain"
)

// WindowStats is a snapshot of a sender's sliding failure window.
type WindowStats struct {
	Sent   int
	Failed int
}

func (w WindowStats) Total() int { return w.Sent + w.Failed }

func (w WindowStats) FailureRate() float64 {
	total := w.Total()
	if total == 0 {
		return 0
	}
	return float64(w.Failed) / float64(total)
}

// minWindowSample keeps a single early failure from pausing a fresh sender;
// the failure-rate rule only fires once the window holds this many outcomes.
const minWindowSample = 10

// Rule is one health policy step. Rules run in order and may each mutate the
// sender; evaluation never touches other senders.
type Rule struct {
	Name  string
	When  func(s domain.Sender, w WindowStats, now time.Time) bool
	Apply func(s *domain.Sender, w WindowStats, now time.Time)
}

// DefaultRules builds the rule chain from the pool configuration. Order
// matters: time-based promotion runs before demotion so a sender whose window
// is still bad re-pauses in the same evaluation pass.
func DefaultRules(cfg domain.PoolConfig) []Rule {
	rules := make([]Rule, 0, 5)

	if cfg.ReheatAfterCooldown {
		rules = append(rules,
			Rule{
				Name: "cooldown-elapsed",
				When: func(s domain.Sender, _ WindowStats, now time.Time) bool {
					return s.State == domain.SenderPaused && s.CooldownUntil != nil && !now.Before(*s.CooldownUntil)
				},
				Apply: func(s *domain.Sender, _ WindowStats, _ time.Time) {
					s.State = domain.SenderCooldown
				},
			},
			Rule{
				Name: "reheat",
				When: func(s domain.Sender, w WindowStats, _ time.Time) bool {
					return s.State == domain.SenderCooldown && w.Failed == 0
				},
				Apply: func(s *domain.Sender, _ WindowStats, _ time.Time) {
					s.State = domain.SenderActive
					s.CooldownUntil = nil
					s.EffectiveCapacity = s.Capacity
				},
			},
		)
	}

	if cfg.PauseOnFailureRate {
		rules = append(rules, Rule{
			Name: "pause-on-failure-rate",
			When: func(s domain.Sender, w WindowStats, _ time.Time) bool {
				if s.State == domain.SenderPaused {
					return false
				}
				return w.Total() >= minWindowSample && w.FailureRate() >= cfg.FailureRateThreshold
			},
			Apply: func(s *domain.Sender, _ WindowStats, now time.Time) {
				until := now.Add(cfg.CooldownDuration)
				s.State = domain.SenderPaused
				s.CooldownUntil = &until
			},
		})
	}

	if cfg.DemoteOnLowQuality {
		rules = append(rules, Rule{
			Name: "demote-on-low-quality",
			When: func(s domain.Sender, _ WindowStats, _ time.Time) bool {
				return s.State == domain.SenderActive && s.QualityTier == domain.QualityLow
			},
			Apply: func(s *domain.Sender, _ WindowStats, _ time.Time) {
				s.State = domain.SenderDegraded
			},
		})
	}

	if cfg.ThrottleAtTierShare {
		rules = append(rules, Rule{
			Name: "throttle-at-tier-share",
			When: func(s domain.Sender, _ WindowStats, _ time.Time) bool {
				if s.QualityTier != domain.QualityLow || s.TierLimit <= 0 {
					return false
				}
				return float64(s.TierUsed) >= cfg.TierShareThreshold*float64(s.TierLimit)
			},
			Apply: func(s *domain.Sender, _ WindowStats, _ time.Time) {
				throttled := int(float64(s.Capacity) * cfg.ThrottleFactor)
				if throttled < 1 {
					throttled = 1
				}
				if throttled < s.EffectiveCapacity {
					s.EffectiveCapacity = throttled
				}
			},
		})
	}

	return rules
}

// Evaluate runs the rule chain against one sender and reports whether any
// rule changed it. The sender is mutated in place; callers persist changes.
func Evaluate(rules []Rule, s *domain.Sender, w WindowStats, now time.Time) bool {
	before := *s
	for _, rule := range rules {
		if rule.When(*s, w, now) {
			rule.Apply(s, w, now)
		}
	}
	return *s != before
}
