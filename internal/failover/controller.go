package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sendwave/campaign-engine/internal/domain"
	"go.uber.org/zap"
)

// SenderSource is the registry view the controller needs: eligible senders in
// pool order and per-sender capacity. Satisfied by registry.SenderRegistry.
type SenderSource interface {
	EligibleSenders(ctx context.Context) ([]domain.Sender, error)
	CapacityOf(senderID string) int
}

// Controller owns the campaign-scoped part of failover: freezing demoted
// senders and re-homing their unsent remainder onto the next eligible sender.
// Per-sender health transitions live in the rule chain; the controller only
// reacts to them.
type Controller struct {
	senders SenderSource
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	frozen map[string]struct{}
}

func NewController(senders SenderSource, logger *zap.Logger) (*Controller, error) {
	if senders == nil {
		return nil, fmt.Errorf("sender source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		senders: senders,
		logger:  logger,
		now:     time.Now,
		frozen:  make(map[string]struct{}),
	}, nil
}

// Freeze stops admission of new sends for a sender. Freezing is accepted at
// most once per sender and is checked again at send time, so a demotion
// racing the dispatch loop cannot slip a send through.
func (c *Controller) Freeze(senderID string) {
	c.mu.Lock()
	c.frozen[senderID] = struct{}{}
	c.mu.Unlock()
}

// Frozen reports whether a sender has an accepted demotion.
func (c *Controller) Frozen(senderID string) bool {
	c.mu.RLock()
	_, ok := c.frozen[senderID]
	c.mu.RUnlock()
	return ok
}

// Thaw readmits a sender after reheat.
func (c *Controller) Thaw(senderID string) {
	c.mu.Lock()
	delete(c.frozen, senderID)
	c.mu.Unlock()
}

// Handoff executes the demotion protocol for a campaign's active sender at
// its current cursor: freeze the demoted sender, pick the next ACTIVE sender
// in pool order, and re-home the unsent remainder onto it while preserving
// the global sequence position. The returned event records the handoff point.
// Returns ErrAllSendersExhausted when no ACTIVE sender remains.
func (c *Controller) Handoff(ctx context.Context, assignment *domain.CampaignAssignment, reason string) (*domain.FailoverEvent, error) {
	active, ok := assignment.Active()
	if !ok {
		return nil, fmt.Errorf("%w: nothing left to hand off", domain.ErrConflict)
	}

	c.Freeze(active.SenderID)

	next, err := c.nextEligible(ctx, active.SenderID)
	if err != nil {
		return nil, err
	}

	seq, err := assignment.Handoff(next.ID, c.senders.CapacityOf(next.ID))
	if err != nil {
		return nil, err
	}

	// The audit event records the demoted sender's final dispatched
	// sequence; dispatch resumes at Sequence+1.
	event := &domain.FailoverEvent{
		ID:           uuid.NewString(),
		CampaignID:   assignment.CampaignID,
		FromSenderID: active.SenderID,
		ToSenderID:   next.ID,
		Sequence:     seq - 1,
		Reason:       reason,
		OccurredAt:   c.now().UTC(),
	}

	c.logger.Info("sender handoff",
		zap.String("campaignId", assignment.CampaignID),
		zap.String("from", event.FromSenderID),
		zap.String("to", event.ToSenderID),
		zap.Int64("sequence", seq),
		zap.String("reason", reason),
	)

	return event, nil
}

// nextEligible returns the first ACTIVE, unfrozen sender in pool order.
// DEGRADED senders are deprioritized: they are only chosen when no ACTIVE
// sender remains, which beats blocking a pool that can still send.
func (c *Controller) nextEligible(ctx context.Context, demotedID string) (*domain.Sender, error) {
	senders, err := c.senders.EligibleSenders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible senders: %w", err)
	}

	var degraded *domain.Sender
	for i := range senders {
		s := senders[i]
		if s.ID == demotedID || c.Frozen(s.ID) {
			continue
		}
		switch s.State {
		case domain.SenderActive:
			return &s, nil
		case domain.SenderDegraded:
			if degraded == nil {
				degraded = &s
			}
		}
	}

	if degraded != nil {
		return degraded, nil
	}
	return nil, domain.ErrAllSendersExhausted
}
