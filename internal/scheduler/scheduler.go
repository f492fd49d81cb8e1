// Package scheduler runs one dispatch loop per active campaign. The loop
// owns the campaign's assignment (sender, quota, cursor) and the
// current-active-sender pointer; nothing outside the loop mutates them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sendwave/campaign-engine/internal/domain"
	"github.com/sendwave/campaign-engine/internal/failover"
	"github.com/sendwave/campaign-engine/internal/provider"
	"github.com/sendwave/campaign-engine/internal/queue"
	"github.com/sendwave/campaign-engine/internal/ratelimit"
	"github.com/sendwave/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultBatchSize       = 50
	defaultMaxSendAttempts = 3
	baseRetryDelay         = time.Second
	maxRetryDelay          = 30 * time.Second
	maxRetryJitterMillis   = 250
	idleBackoff            = 500 * time.Millisecond
)

// errSenderFrozen aborts the current batch when the active sender is demoted
// between sends.
var errSenderFrozen = errors.New("sender frozen")

// SenderPool is the registry view the dispatch loop needs. Satisfied by
// registry.SenderRegistry.
type SenderPool interface {
	StateOf(senderID string) (domain.SenderState, bool)
	CapacityOf(senderID string) int
	PhoneOf(senderID string) string
	RecordDispatch(senderID string)
	RecordHealthSignal(ctx context.Context, sig domain.HealthSignal) (domain.SenderState, error)
}

// Metrics is the subset of observability counters the loop touches.
type Metrics interface {
	IncJobDispatched(senderID string)
	IncJobFailed(senderID, reason string)
	IncFailover(reason string)
	ObserveSendDuration(senderID string, d time.Duration)
}

// CampaignScheduler dispatches one campaign's queued jobs through the
// currently active sender, within its rate limit, handing off on demotion.
type CampaignScheduler struct {
	campaign   domain.Campaign
	assignment *domain.CampaignAssignment
	phones     map[string]string

	jobs       repository.JobRepository
	campaigns  repository.CampaignRepository
	failovers  repository.FailoverEventRepository
	pool       SenderPool
	controller *failover.Controller
	provider   provider.Provider
	limiter    ratelimit.RateLimiter
	events     queue.Publisher
	logger     *zap.Logger
	metrics    Metrics

	batchSize   int
	maxAttempts int
	now         func() time.Time
	randIntn    func(n int) int
}

type Deps struct {
	Jobs       repository.JobRepository
	Campaigns  repository.CampaignRepository
	Failovers  repository.FailoverEventRepository
	Pool       SenderPool
	Controller *failover.Controller
	Provider   provider.Provider
	Limiter    ratelimit.RateLimiter
	Events     queue.Publisher
	Logger     *zap.Logger
	Metrics    Metrics

	BatchSize   int
	MaxAttempts int
}

// New builds a scheduler for one campaign. phones maps recipient IDs to
// phone numbers from the audience snapshot the assignment was planned over.
func New(campaign domain.Campaign, assignment *domain.CampaignAssignment, phones map[string]string, deps Deps) (*CampaignScheduler, error) {
	if assignment == nil {
		return nil, fmt.Errorf("assignment is required")
	}
	if deps.Jobs == nil || deps.Campaigns == nil || deps.Failovers == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Pool == nil || deps.Controller == nil || deps.Provider == nil || deps.Limiter == nil {
		return nil, fmt.Errorf("pool, controller, provider, and limiter are required")
	}
	if deps.Events == nil {
		deps.Events = queue.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = defaultBatchSize
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = defaultMaxSendAttempts
	}

	return &CampaignScheduler{
		campaign:    campaign,
		assignment:  assignment,
		phones:      phones,
		jobs:        deps.Jobs,
		campaigns:   deps.Campaigns,
		failovers:   deps.Failovers,
		pool:        deps.Pool,
		controller:  deps.Controller,
		provider:    deps.Provider,
		limiter:     deps.Limiter,
		events:      deps.Events,
		logger:      deps.Logger.With(zap.String("campaignId", campaign.ID)),
		metrics:     deps.Metrics,
		batchSize:   deps.BatchSize,
		maxAttempts: deps.MaxAttempts,
		now:         time.Now,
		randIntn:    rand.Intn,
	}, nil
}

// CampaignID identifies the campaign this loop serves.
func (s *CampaignScheduler) CampaignID() string { return s.campaign.ID }

// Snapshot returns a point-in-time copy of the assignment, safe to read for
// ETA recomputation while the loop is dispatching.
func (s *CampaignScheduler) Snapshot() *domain.CampaignAssignment { return s.assignment.Snapshot() }

// Run drives the dispatch loop until the assignment completes, every sender
// is exhausted, or the context is canceled (pause or shutdown). Cancellation
// stops admission of new sends; an in-flight send finishes and records its
// job state.
func (s *CampaignScheduler) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		slot, ok := s.assignment.Active()
		if !ok {
			return s.complete(ctx)
		}

		if !s.admissible(slot.SenderID) {
			if err := s.handleFailover(ctx, "sender-demoted"); err != nil {
				return err
			}
			continue
		}

		limit := s.batchSize
		if remaining := slot.Remaining(); remaining < int64(limit) {
			limit = int(remaining)
		}

		batch, err := s.jobs.NextBatch(ctx, s.campaign.ID, slot.SenderID, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("failed to fetch next batch", zap.Error(err))
			if err := sleepWithContext(ctx, idleBackoff); err != nil {
				return nil
			}
			continue
		}

		if len(batch) == 0 {
			// The ledger holds fewer queued jobs than the cursor expects
			// (jobs failed out of band). Fold the slot and move on.
			s.logger.Warn("queued ledger drained ahead of cursor",
				zap.String("senderId", slot.SenderID),
				zap.Int64("remaining", slot.Remaining()),
			)
			s.assignment.FoldActive()
			continue
		}

		for i := range batch {
			if err := s.dispatch(ctx, batch[i]); err != nil {
				if errors.Is(err, errSenderFrozen) {
					break
				}
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("dispatch error",
					zap.String("jobId", batch[i].ID),
					zap.Error(err),
				)
				if err := sleepWithContext(ctx, idleBackoff); err != nil {
					return nil
				}
				break
			}
		}
	}
}

// admissible re-checks the sender's state. Called before every batch and
// again before every individual send: a demotion accepted between checks
// must never admit another send.
func (s *CampaignScheduler) admissible(senderID string) bool {
	if s.controller.Frozen(senderID) {
		return false
	}
	state, ok := s.pool.StateOf(senderID)
	return ok && state.Eligible()
}

// dispatch sends one job, retrying transient provider failures with bounded
// backoff, and advances the cursor exactly once whether the job ends SENT or
// FAILED.
func (s *CampaignScheduler) dispatch(ctx context.Context, job domain.DispatchJob) error {
	if !s.admissible(job.SenderID) {
		return errSenderFrozen
	}

	if err := s.limiter.Wait(ctx, job.SenderID); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	// Re-check after the wait: a demotion may have landed while blocked.
	if !s.admissible(job.SenderID) {
		return errSenderFrozen
	}

	s.pool.RecordDispatch(job.SenderID)

	msg := provider.Message{
		SenderPhone:    s.pool.PhoneOf(job.SenderID),
		RecipientPhone: s.phones[job.RecipientID],
		Body:           s.campaign.Template,
		JobID:          job.ID,
	}

	// The admitted send runs to completion even if the campaign is paused
	// mid-flight; only admission is gated on ctx.
	sendCtx := context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		sendStart := s.now()
		result, err := s.provider.Send(sendCtx, msg)
		if s.metrics != nil {
			s.metrics.ObserveSendDuration(job.SenderID, s.now().Sub(sendStart))
		}

		if err == nil {
			return s.finishSent(sendCtx, job, result)
		}

		lastErr = err
		if attemptErr := s.jobs.IncrementAttempt(sendCtx, job.ID); attemptErr != nil {
			s.logger.Warn("failed to record attempt", zap.String("jobId", job.ID), zap.Error(attemptErr))
		}

		if !provider.IsTransient(err) || attempt == s.maxAttempts {
			break
		}

		if sleepErr := sleepWithContext(ctx, s.computeRetryDelay(attempt)); sleepErr != nil {
			// Pause or shutdown landed mid-backoff. The job keeps its attempt
			// count and stays QUEUED so resume retries it; only exhausting the
			// attempt limit may fail it.
			return sleepErr
		}
	}

	return s.finishFailed(sendCtx, job, lastErr)
}

func (s *CampaignScheduler) finishSent(ctx context.Context, job domain.DispatchJob, result *provider.SendResult) error {
	messageID := ""
	if result != nil {
		messageID = result.MessageID
	}

	if err := s.jobs.MarkSent(ctx, job.ID, messageID, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to mark job sent: %w", err)
	}

	s.assignment.Advance()
	if s.metrics != nil {
		s.metrics.IncJobDispatched(job.SenderID)
	}

	s.publish(ctx, queue.Event{
		Kind:       queue.EventJobSent,
		CampaignID: s.campaign.ID,
		JobID:      job.ID,
		SenderID:   job.SenderID,
		Sequence:   job.Sequence,
	})
	return nil
}

func (s *CampaignScheduler) finishFailed(ctx context.Context, job domain.DispatchJob, sendErr error) error {
	reason := "send failed"
	if sendErr != nil {
		reason = sendErr.Error()
	}

	if err := s.jobs.MarkFailed(ctx, job.ID, reason); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	// A hard send failure is a negative health signal for the sender.
	if _, err := s.pool.RecordHealthSignal(ctx, domain.HealthSignal{
		SenderID:   job.SenderID,
		Kind:       domain.SignalFailed,
		OccurredAt: s.now().UTC(),
	}); err != nil && !errors.Is(err, domain.ErrStaleSignal) {
		s.logger.Warn("failed to record health signal", zap.Error(err))
	}

	s.assignment.Advance()
	if s.metrics != nil {
		s.metrics.IncJobFailed(job.SenderID, "provider_error")
	}

	s.publish(ctx, queue.Event{
		Kind:       queue.EventJobFailed,
		CampaignID: s.campaign.ID,
		JobID:      job.ID,
		SenderID:   job.SenderID,
		Sequence:   job.Sequence,
		Detail:     reason,
	})
	return nil
}

// handleFailover executes the handoff protocol: freeze, pick the next
// eligible sender, re-home the queued remainder in the ledger, and record
// the audit event. The next dispatched job is exactly the one at the frozen
// sequence.
func (s *CampaignScheduler) handleFailover(ctx context.Context, reason string) error {
	active, ok := s.assignment.Active()
	if !ok {
		return nil
	}
	demoted := active.SenderID

	event, err := s.controller.Handoff(ctx, s.assignment, reason)
	if err != nil {
		if errors.Is(err, domain.ErrAllSendersExhausted) {
			return s.block(ctx)
		}
		return err
	}

	reassigned, err := s.jobs.ReassignQueued(ctx, s.campaign.ID, demoted, event.ToSenderID, event.Sequence+1)
	if err != nil {
		return fmt.Errorf("failed to re-home queued jobs: %w", err)
	}

	if err := s.failovers.Create(ctx, event); err != nil {
		s.logger.Error("failed to persist failover event", zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.IncFailover(reason)
	}

	s.logger.Info("failover complete",
		zap.String("from", event.FromSenderID),
		zap.String("to", event.ToSenderID),
		zap.Int64("sequence", event.Sequence),
		zap.Int64("reassigned", reassigned),
	)

	s.publish(ctx, queue.Event{
		Kind:       queue.EventSenderFailover,
		CampaignID: s.campaign.ID,
		SenderID:   event.FromSenderID,
		ToSenderID: event.ToSenderID,
		Sequence:   event.Sequence,
		Detail:     reason,
	})
	return nil
}

// block surfaces an exhausted pool as a BLOCKED campaign. Never a silent stall.
func (s *CampaignScheduler) block(ctx context.Context) error {
	err := s.campaigns.UpdateStatus(ctx, s.campaign.ID,
		[]domain.CampaignStatus{domain.CampaignRunning}, domain.CampaignBlocked)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		s.logger.Error("failed to mark campaign blocked", zap.Error(err))
	}

	s.logger.Warn("campaign blocked: no eligible sender remains")
	s.publish(ctx, queue.Event{
		Kind:       queue.EventCampaignBlocked,
		CampaignID: s.campaign.ID,
		Sequence:   s.assignment.NextSequence(),
	})
	return domain.ErrAllSendersExhausted
}

func (s *CampaignScheduler) complete(ctx context.Context) error {
	if err := s.campaigns.MarkCompleted(ctx, s.campaign.ID, s.now().UTC()); err != nil && !errors.Is(err, domain.ErrConflict) {
		s.logger.Error("failed to mark campaign completed", zap.Error(err))
	}

	s.logger.Info("campaign dispatch complete", zap.Int64("total", s.assignment.Total))
	s.publish(ctx, queue.Event{
		Kind:       queue.EventCampaignCompleted,
		CampaignID: s.campaign.ID,
		Sequence:   s.assignment.Total,
	})
	return nil
}

func (s *CampaignScheduler) publish(ctx context.Context, event queue.Event) {
	event.OccurredAt = s.now().UTC()
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Debug("failed to publish event", zap.String("kind", event.Kind.String()), zap.Error(err))
	}
}

func (s *CampaignScheduler) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if s.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = s.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
