package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sendwave/campaign-engine/internal/domain"
	"github.com/sendwave/campaign-engine/internal/observability"
	"github.com/sendwave/campaign-engine/internal/planner"
	"github.com/sendwave/campaign-engine/internal/queue"
	"github.com/sendwave/campaign-engine/internal/registry"
	"github.com/sendwave/campaign-engine/internal/repository"
	"github.com/sendwave/campaign-engine/internal/scheduler"
	"go.uber.org/zap"
)

// CampaignLauncher owns the running dispatch loops. Satisfied by
// scheduler.Manager.
type CampaignLauncher interface {
	Launch(sched *scheduler.CampaignScheduler) error
	Pause(campaignID string) bool
	IsRunning(campaignID string) bool
	Scheduler(campaignID string) (*scheduler.CampaignScheduler, bool)
}

// CampaignService orchestrates the campaign lifecycle: create, pre-flight,
// start (idempotent), pause, resume, and progress reporting. It plans the
// sender assignment, enqueues the job ledger exactly once, and hands the
// live loop to the launcher.
type CampaignService struct {
	campaigns repository.CampaignRepository
	jobs      repository.JobRepository
	audiences repository.AudienceRepository
	failovers repository.FailoverEventRepository
	pool      *registry.SenderRegistry
	launcher  CampaignLauncher
	schedDeps scheduler.Deps
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// StartResult reports what a start (or idempotent re-start) did.
type StartResult struct {
	Campaign       *domain.Campaign
	Enqueued       int64
	ETA            *planner.ETA
	Preflight      domain.PreflightReport
	AlreadyRunning bool
}

// CampaignProgress is the per-status job breakdown for one campaign.
type CampaignProgress struct {
	Campaign *domain.Campaign
	Counts   map[domain.JobStatus]int64
}

func NewCampaignService(
	campaigns repository.CampaignRepository,
	jobs repository.JobRepository,
	audiences repository.AudienceRepository,
	failovers repository.FailoverEventRepository,
	pool *registry.SenderRegistry,
	launcher CampaignLauncher,
	schedDeps scheduler.Deps,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*CampaignService, error) {
	if campaigns == nil || jobs == nil || audiences == nil || failovers == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if pool == nil {
		return nil, fmt.Errorf("sender registry is required")
	}
	if launcher == nil {
		return nil, fmt.Errorf("campaign launcher is required")
	}
	if publisher == nil {
		publisher = queue.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		campaigns: campaigns,
		jobs:      jobs,
		audiences: audiences,
		failovers: failovers,
		pool:      pool,
		launcher:  launcher,
		schedDeps: schedDeps,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *CampaignService) Create(ctx context.Context, campaign *domain.Campaign) (*domain.Campaign, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if campaign == nil {
		return nil, fmt.Errorf("%w: campaign is required", domain.ErrValidation)
	}
	if campaign.ID == "" {
		campaign.ID = uuid.NewString()
	}
	if campaign.Status == "" {
		campaign.Status = domain.CampaignDraft
	}
	if err := campaign.Validate(); err != nil {
		return nil, err
	}
	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	return campaign, nil
}

func (s *CampaignService) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.campaigns.GetByID(ctx, id)
}

func (s *CampaignService) List(ctx context.Context) ([]domain.Campaign, error) {
	return s.campaigns.List(ctx)
}

// Preflight classifies the campaign's audience without enqueueing anything.
func (s *CampaignService) Preflight(ctx context.Context, id string) (*domain.PreflightReport, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	recipients, err := s.audiences.Snapshot(ctx, campaign.AudienceID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot audience: %w", err)
	}

	report, _ := classifyAudience(recipients)
	return &report, nil
}

// Start moves a campaign into dispatch. It is idempotent: a second start of
// a running campaign is a no-op, and re-enqueueing an audience that was
// already enqueued inserts nothing thanks to the (campaign, recipient)
// uniqueness in the ledger. A campaign with an existing ledger resumes from
// its queued remainder instead of re-planning.
func (s *CampaignService) Start(ctx context.Context, id string) (*StartResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if campaign.Status == domain.CampaignRunning && s.launcher.IsRunning(id) {
		return &StartResult{Campaign: campaign, AlreadyRunning: true}, nil
	}
	if !campaign.Status.CanStart() {
		return nil, fmt.Errorf("%w: campaign %s is %s", domain.ErrConflict, id, campaign.Status)
	}

	existing, err := s.jobs.CountByCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count campaign jobs: %w", err)
	}
	if existing > 0 {
		return s.resume(ctx, campaign)
	}

	recipients, err := s.audiences.Snapshot(ctx, campaign.AudienceID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot audience: %w", err)
	}

	report, valid := classifyAudience(recipients)
	if !report.Startable() {
		return &StartResult{Campaign: campaign, Preflight: report},
			fmt.Errorf("%w: no dispatchable recipient in audience (%d invalid, %d without channel)",
				domain.ErrInsufficientCapacity, report.Invalid, report.NoChannel)
	}

	senders, err := s.pool.EligibleSenders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible senders: %w", err)
	}

	cfg := s.pool.Config()
	quotas := planner.DeriveQuotas(cfg.Rotation, int64(len(valid)), senders)
	assignment, eta, err := planner.Plan(id, int64(len(valid)), quotas, cfg.GlobalRateCap)
	if err != nil {
		return nil, err
	}

	enqueued, err := s.jobs.CreateJobs(ctx, buildJobs(assignment, valid))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue dispatch jobs: %w", err)
	}
	if enqueued < int64(len(valid)) {
		observability.WithContextLogger(s.logger, ctx).Info("enqueue skipped already-present jobs",
			zap.String("campaignId", id),
			zap.Int64("enqueued", enqueued),
			zap.Int("total", len(valid)),
		)
	}

	if err := s.campaigns.SetQueuedCount(ctx, id, len(valid), s.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to record queued count: %w", err)
	}

	// The status guard arbitrates concurrent starts: exactly one caller wins
	// the DRAFT/PAUSED -> RUNNING transition and launches the loop.
	err = s.campaigns.UpdateStatus(ctx, id,
		[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignPaused}, domain.CampaignRunning)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			current, getErr := s.campaigns.GetByID(ctx, id)
			if getErr == nil && current.Status == domain.CampaignRunning {
				return &StartResult{Campaign: current, AlreadyRunning: true}, nil
			}
		}
		return nil, err
	}
	campaign.Status = domain.CampaignRunning

	if err := s.launch(ctx, campaign, assignment, phoneIndex(valid)); err != nil {
		return nil, err
	}

	s.publish(ctx, queue.Event{
		Kind:       queue.EventCampaignStarted,
		CampaignID: id,
		Detail:     fmt.Sprintf("enqueued %d recipients", len(valid)),
	})

	return &StartResult{
		Campaign:  campaign,
		Enqueued:  enqueued,
		ETA:       eta,
		Preflight: report,
	}, nil
}

// Pause stops admission of new sends for a running campaign. The in-flight
// send completes; the queued remainder stays in the ledger.
func (s *CampaignService) Pause(ctx context.Context, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	err := s.campaigns.UpdateStatus(ctx, id,
		[]domain.CampaignStatus{domain.CampaignRunning}, domain.CampaignPaused)
	if err != nil {
		return err
	}

	s.launcher.Pause(id)
	s.publish(ctx, queue.Event{Kind: queue.EventCampaignPaused, CampaignID: id})
	return nil
}

// resume rebuilds the assignment from the queued remainder in the ledger and
// relaunches the loop. Used for paused campaigns and for running campaigns
// whose loop died with the process.
func (s *CampaignService) resume(ctx context.Context, campaign *domain.Campaign) (*StartResult, error) {
	backlogs, err := s.jobs.QueuedBySender(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read queued backlog: %w", err)
	}

	if len(backlogs) == 0 {
		if err := s.campaigns.MarkCompleted(ctx, campaign.ID, s.now().UTC()); err != nil && !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		campaign.Status = domain.CampaignCompleted
		return &StartResult{Campaign: campaign}, nil
	}

	slots := make([]domain.SenderSlot, 0, len(backlogs))
	for _, b := range backlogs {
		slots = append(slots, domain.SenderSlot{
			SenderID: b.SenderID,
			Capacity: s.pool.CapacityOf(b.SenderID),
			Quota:    b.QueuedCount,
			StartSeq: b.MinSequence,
		})
	}

	assignment, err := domain.ResumeAssignment(campaign.ID, int64(campaign.QueuedCount), slots)
	if err != nil {
		return nil, err
	}

	recipients, err := s.audiences.Snapshot(ctx, campaign.AudienceID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot audience: %w", err)
	}

	err = s.campaigns.UpdateStatus(ctx, campaign.ID,
		[]domain.CampaignStatus{domain.CampaignPaused}, domain.CampaignRunning)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}
	campaign.Status = domain.CampaignRunning

	if err := s.launch(ctx, campaign, assignment, phoneIndex(recipients)); err != nil {
		return nil, err
	}

	cfg := s.pool.Config()
	s.publish(ctx, queue.Event{
		Kind:       queue.EventCampaignStarted,
		CampaignID: campaign.ID,
		Detail:     "resumed from queued remainder",
	})

	return &StartResult{
		Campaign: campaign,
		ETA:      planner.Estimate(assignment, cfg.GlobalRateCap),
	}, nil
}

// ETA reports the completion estimate for a campaign: the live assignment
// when the loop is running, otherwise a rebuild from the queued remainder.
func (s *CampaignService) ETA(ctx context.Context, id string) (*planner.ETA, error) {
	cfg := s.pool.Config()

	if sched, ok := s.launcher.Scheduler(id); ok {
		return planner.Estimate(sched.Snapshot(), cfg.GlobalRateCap), nil
	}

	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	backlogs, err := s.jobs.QueuedBySender(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read queued backlog: %w", err)
	}
	if len(backlogs) == 0 {
		return &planner.ETA{}, nil
	}

	slots := make([]domain.SenderSlot, 0, len(backlogs))
	for _, b := range backlogs {
		slots = append(slots, domain.SenderSlot{
			SenderID: b.SenderID,
			Capacity: s.pool.CapacityOf(b.SenderID),
			Quota:    b.QueuedCount,
			StartSeq: b.MinSequence,
		})
	}
	assignment, err := domain.ResumeAssignment(id, int64(campaign.QueuedCount), slots)
	if err != nil {
		return nil, err
	}
	return planner.Estimate(assignment, cfg.GlobalRateCap), nil
}

// Progress reports the per-status job counts alongside the campaign record.
func (s *CampaignService) Progress(ctx context.Context, id string) (*CampaignProgress, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.jobs.CountByStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	return &CampaignProgress{Campaign: campaign, Counts: counts}, nil
}

// ListFailovers returns the campaign's failover audit trail in occurrence
// order.
func (s *CampaignService) ListFailovers(ctx context.Context, id string) ([]domain.FailoverEvent, error) {
	if _, err := s.campaigns.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.failovers.ListByCampaign(ctx, id)
}

func (s *CampaignService) launch(ctx context.Context, campaign *domain.Campaign, assignment *domain.CampaignAssignment, phones map[string]string) error {
	sched, err := scheduler.New(*campaign, assignment, phones, s.schedDeps)
	if err != nil {
		return fmt.Errorf("failed to build campaign scheduler: %w", err)
	}
	if err := s.launcher.Launch(sched); err != nil {
		return fmt.Errorf("failed to launch campaign loop: %w", err)
	}
	return nil
}

func (s *CampaignService) publish(ctx context.Context, event queue.Event) {
	event.OccurredAt = s.now().UTC()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Debug("failed to publish event", zap.String("kind", event.Kind.String()), zap.Error(err))
	}
}

// classifyAudience splits a snapshot into the pre-flight report and the list
// of dispatchable recipients, preserving snapshot order.
func classifyAudience(recipients []domain.Recipient) (domain.PreflightReport, []domain.Recipient) {
	var report domain.PreflightReport
	valid := make([]domain.Recipient, 0, len(recipients))

	for _, r := range recipients {
		switch r.Classify() {
		case domain.EligibilityValid:
			report.Valid++
			valid = append(valid, r)
		case domain.EligibilityInvalid:
			report.Invalid++
		case domain.EligibilityNoChannel:
			report.NoChannel++
		}
	}
	return report, valid
}

// buildJobs materializes the ledger: one job per dispatchable recipient, in
// snapshot order, with the campaign-global sequence number and the planned
// sender for that sequence range.
func buildJobs(assignment *domain.CampaignAssignment, recipients []domain.Recipient) []*domain.DispatchJob {
	jobs := make([]*domain.DispatchJob, 0, len(recipients))

	slotIdx := 0
	inSlot := int64(0)
	for i, r := range recipients {
		for slotIdx < len(assignment.Slots) && inSlot >= assignment.Slots[slotIdx].Quota {
			slotIdx++
			inSlot = 0
		}
		senderID := ""
		if slotIdx < len(assignment.Slots) {
			senderID = assignment.Slots[slotIdx].SenderID
		}
		jobs = append(jobs, &domain.DispatchJob{
			ID:          uuid.NewString(),
			CampaignID:  assignment.CampaignID,
			RecipientID: r.ID,
			SenderID:    senderID,
			Sequence:    int64(i),
			Status:      domain.JobQueued,
		})
		inSlot++
	}
	return jobs
}

func phoneIndex(recipients []domain.Recipient) map[string]string {
	phones := make(map[string]string, len(recipients))
	for _, r := range recipients {
		phones[r.ID] = r.PhoneNumber
	}
	return phones
}
