// Package planner computes the per-sender recipient assignment and the time
// estimates for a campaign. Planning is pure and deterministic: identical
// sender order, quotas, capacities, and recipient count always produce an
// identical plan.
package planner

import (
	"fmt"

	"github.com/sendwave/campaign-engine/internal/domain"
)

// SenderQuota is one eligible sender as seen by the planner: its effective
// send rate and the recipient quota the rotation policy derived for it.
type SenderQuota struct {
	SenderID string
	Capacity int
	Quota    int64
}

// ETA is the completion estimate reported to operators. TotalSeconds is the
// aggregate parallel-capacity lower bound; PerSender carries the strictly
// sequential per-sender timeline. Both are reported, unreconciled, because
// dispatch runs one sender at a time while capacity is pooled on paper.
type ETA struct {
	TotalSeconds int64
	PerSender    []SenderETA
}

type SenderETA struct {
	SenderID      string `json:"senderId"`
	AssignedCount int64  `json:"assignedCount"`
	ETASeconds    int64  `json:"etaSeconds"`
}

// Plan partitions recipientCount across senders in the given order. Each
// sender takes min(quota, remaining); the final sender absorbs any remainder
// unless its capacity is zero. globalCap, when positive, upper-bounds the
// capacity sum used for the aggregate ETA.
func Plan(campaignID string, recipientCount int64, senders []SenderQuota, globalCap int) (*domain.CampaignAssignment, *ETA, error) {
	if recipientCount < 0 {
		return nil, nil, fmt.Errorf("%w: recipient count must be non-negative", domain.ErrValidation)
	}
	if recipientCount > 0 && len(senders) == 0 {
		return nil, nil, fmt.Errorf("%w: no eligible sender for %d recipients", domain.ErrInsufficientCapacity, recipientCount)
	}

	slots := make([]domain.SenderSlot, 0, len(senders))
	remaining := recipientCount
	for i, s := range senders {
		assigned := s.Quota
		if assigned > remaining {
			assigned = remaining
		}
		if assigned < 0 {
			assigned = 0
		}
		if i == len(senders)-1 && remaining > assigned {
			// Fail-open: the last sender absorbs the remainder.
			if s.Capacity <= 0 {
				return nil, nil, fmt.Errorf("%w: %d recipients left with no sender capacity", domain.ErrInsufficientCapacity, remaining)
			}
			assigned = remaining
		}
		remaining -= assigned
		slots = append(slots, domain.SenderSlot{
			SenderID:   s.SenderID,
			Capacity:   s.Capacity,
			Quota:      assigned,
			ETASeconds: ceilDiv(assigned, int64(max(1, s.Capacity))),
		})
	}
	if remaining > 0 {
		return nil, nil, fmt.Errorf("%w: %d recipients left unassigned", domain.ErrInsufficientCapacity, remaining)
	}

	assignment, err := domain.NewCampaignAssignment(campaignID, recipientCount, slots)
	if err != nil {
		return nil, nil, err
	}

	return assignment, Estimate(assignment, globalCap), nil
}

// Estimate recomputes the ETA for an assignment, counting only undispatched
// work. Safe to call on a live assignment for UI polling.
func Estimate(a *domain.CampaignAssignment, globalCap int) *ETA {
	eta := &ETA{PerSender: make([]SenderETA, 0, len(a.Slots))}

	var remaining int64
	capSum := 0
	for _, slot := range a.Slots {
		left := slot.Remaining()
		remaining += left
		capSum += slot.Capacity
		eta.PerSender = append(eta.PerSender, SenderETA{
			SenderID:      slot.SenderID,
			AssignedCount: slot.Quota,
			ETASeconds:    ceilDiv(left, int64(max(1, slot.Capacity))),
		})
	}

	if globalCap > 0 && capSum > globalCap {
		capSum = globalCap
	}
	eta.TotalSeconds = ceilDiv(remaining, int64(max(1, capSum)))
	return eta
}

// DeriveQuotas turns the rotation policy into per-sender quotas over the
// eligible pool: weighted splits by capacity, round-robin splits evenly,
// sticky keeps the configured quotas. Leftover recipients from integer
// division go to the earliest senders so the split is deterministic.
func DeriveQuotas(policy domain.RotationPolicy, recipientCount int64, senders []domain.Sender) []SenderQuota {
	quotas := make([]SenderQuota, 0, len(senders))
	if len(senders) == 0 {
		return quotas
	}

	switch policy {
	case domain.RotationWeighted:
		capSum := int64(0)
		for _, s := range senders {
			capSum += int64(max(0, s.EffectiveCapacity))
		}
		if capSum == 0 {
			return DeriveQuotas(domain.RotationRoundRobin, recipientCount, senders)
		}
		var given int64
		for _, s := range senders {
			share := recipientCount * int64(max(0, s.EffectiveCapacity)) / capSum
			quotas = append(quotas, SenderQuota{SenderID: s.ID, Capacity: s.EffectiveCapacity, Quota: share})
			given += share
		}
		for i := 0; given < recipientCount; i = (i + 1) % len(quotas) {
			quotas[i].Quota++
			given++
		}
	case domain.RotationRoundRobin:
		base := recipientCount / int64(len(senders))
		extra := recipientCount % int64(len(senders))
		for i, s := range senders {
			q := base
			if int64(i) < extra {
				q++
			}
			quotas = append(quotas, SenderQuota{SenderID: s.ID, Capacity: s.EffectiveCapacity, Quota: q})
		}
	default: // sticky-session
		for _, s := range senders {
			quotas = append(quotas, SenderQuota{SenderID: s.ID, Capacity: s.EffectiveCapacity, Quota: int64(s.Quota)})
		}
	}

	return quotas
}

func ceilDiv(n, d int64) int64 {
	if d <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
