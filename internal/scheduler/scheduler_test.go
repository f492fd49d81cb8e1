package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sendwave/campaign-engine/internal/domain"
	"github.com/sendwave/campaign-engine/internal/failover"
	"github.com/sendwave/campaign-engine/internal/planner"
	"github.com/sendwave/campaign-engine/internal/provider"
	"github.com/sendwave/campaign-engine/internal/queue"
	"github.com/sendwave/campaign-engine/internal/repository"
)

// fakeJobRepo is an in-memory dispatch ledger. Single test goroutine plus the
// loop under test; the mutex keeps the race detector honest.
type fakeJobRepo struct {
	mu            sync.Mutex
	jobs          []*domain.DispatchJob
	attempts      map[string]int
	reassignCalls []reassignCall
}

type reassignCall struct {
	from    string
	to      string
	fromSeq int64
}

func newFakeJobRepo(jobs []*domain.DispatchJob) *fakeJobRepo {
	return &fakeJobRepo{jobs: jobs, attempts: make(map[string]int)}
}

func (f *fakeJobRepo) CreateJobs(_ context.Context, jobs []*domain.DispatchJob) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, jobs...)
	return int64(len(jobs)), nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, id string) (*domain.DispatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ID == id {
			copied := *j
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeJobRepo) GetByProviderMessageID(context.Context, string) (*domain.DispatchJob, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeJobRepo) NextBatch(_ context.Context, campaignID, senderID string, maxN int) ([]domain.DispatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var batch []domain.DispatchJob
	for _, j := range f.jobs {
		if j.CampaignID == campaignID && j.SenderID == senderID && j.Status == domain.JobQueued {
			batch = append(batch, *j)
		}
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Sequence < batch[j].Sequence })
	if len(batch) > maxN {
		batch = batch[:maxN]
	}
	return batch, nil
}

func (f *fakeJobRepo) MarkSent(_ context.Context, id, providerMsgID string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ID == id {
			j.Status = domain.JobSent
			if providerMsgID != "" {
				j.ProviderMessageID = &providerMsgID
			}
			j.SentAt = &sentAt
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeJobRepo) MarkDelivered(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ID == id {
			j.Status = domain.JobDelivered
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeJobRepo) MarkFailed(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ID == id {
			j.Status = domain.JobFailed
			j.LastError = &reason
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeJobRepo) IncrementAttempt(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[id]++
	return nil
}

func (f *fakeJobRepo) ReassignQueued(_ context.Context, campaignID, fromSenderID, toSenderID string, fromSequence int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reassignCalls = append(f.reassignCalls, reassignCall{from: fromSenderID, to: toSenderID, fromSeq: fromSequence})

	var count int64
	for _, j := range f.jobs {
		if j.CampaignID == campaignID && j.SenderID == fromSenderID && j.Status == domain.JobQueued && j.Sequence >= fromSequence {
			j.SenderID = toSenderID
			count++
		}
	}
	return count, nil
}

func (f *fakeJobRepo) CountByCampaign(_ context.Context, campaignID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, j := range f.jobs {
		if j.CampaignID == campaignID {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobRepo) CountByStatus(_ context.Context, campaignID string) (map[domain.JobStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[domain.JobStatus]int64)
	for _, j := range f.jobs {
		if j.CampaignID == campaignID {
			counts[j.Status]++
		}
	}
	return counts, nil
}

func (f *fakeJobRepo) QueuedBySender(_ context.Context, campaignID string) ([]repository.SenderBacklog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bySender := make(map[string]*repository.SenderBacklog)
	for _, j := range f.jobs {
		if j.CampaignID != campaignID || j.Status != domain.JobQueued {
			continue
		}
		b, ok := bySender[j.SenderID]
		if !ok {
			b = &repository.SenderBacklog{SenderID: j.SenderID, MinSequence: j.Sequence}
			bySender[j.SenderID] = b
		}
		b.QueuedCount++
		if j.Sequence < b.MinSequence {
			b.MinSequence = j.Sequence
		}
	}

	var out []repository.SenderBacklog
	for _, b := range bySender {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinSequence < out[j].MinSequence })
	return out, nil
}

func (f *fakeJobRepo) statuses() map[int64]domain.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]domain.JobStatus, len(f.jobs))
	for _, j := range f.jobs {
		out[j.Sequence] = j.Status
	}
	return out
}

type statusCall struct {
	from []domain.CampaignStatus
	to   domain.CampaignStatus
}

type fakeCampaignRepo struct {
	mu          sync.Mutex
	statusCalls []statusCall
	completed   int
}

func (f *fakeCampaignRepo) Create(context.Context, *domain.Campaign) error { return nil }

func (f *fakeCampaignRepo) GetByID(context.Context, string) (*domain.Campaign, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeCampaignRepo) List(context.Context) ([]domain.Campaign, error) { return nil, nil }

func (f *fakeCampaignRepo) ListByStatus(context.Context, domain.CampaignStatus) ([]domain.Campaign, error) {
	return nil, nil
}

func (f *fakeCampaignRepo) UpdateStatus(_ context.Context, _ string, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusCall{from: from, to: to})
	return nil
}

func (f *fakeCampaignRepo) SetQueuedCount(context.Context, string, int, time.Time) error {
	return nil
}

func (f *fakeCampaignRepo) MarkCompleted(_ context.Context, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
	return nil
}

type fakeFailoverRepo struct {
	mu     sync.Mutex
	events []domain.FailoverEvent
}

func (f *fakeFailoverRepo) Create(_ context.Context, event *domain.FailoverEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeFailoverRepo) ListByCampaign(context.Context, string) ([]domain.FailoverEvent, error) {
	return nil, nil
}

// fakePool doubles as the scheduler's pool view and the controller's sender
// source so both observe the same state flips.
type fakePool struct {
	mu      sync.Mutex
	order   []string
	states  map[string]domain.SenderState
	caps    map[string]int
	signals []domain.HealthSignal
}

func newFakePool() *fakePool {
	return &fakePool{
		states: make(map[string]domain.SenderState),
		caps:   make(map[string]int),
	}
}

func (p *fakePool) add(id string, capacity int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order = append(p.order, id)
	p.states[id] = domain.SenderActive
	p.caps[id] = capacity
}

func (p *fakePool) setState(id string, state domain.SenderState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[id] = state
}

func (p *fakePool) StateOf(id string) (domain.SenderState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[id]
	return state, ok
}

func (p *fakePool) CapacityOf(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps[id]
}

func (p *fakePool) PhoneOf(id string) string { return "+1500555" + id }

func (p *fakePool) RecordDispatch(string) {}

func (p *fakePool) RecordHealthSignal(_ context.Context, sig domain.HealthSignal) (domain.SenderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[sig.SenderID]
	if !ok {
		return "", domain.ErrStaleSignal
	}
	p.signals = append(p.signals, sig)
	return state, nil
}

func (p *fakePool) EligibleSenders(context.Context) ([]domain.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var senders []domain.Sender
	for i, id := range p.order {
		if !p.states[id].Eligible() {
			continue
		}
		senders = append(senders, domain.Sender{
			ID:                id,
			Position:          i,
			Capacity:          p.caps[id],
			EffectiveCapacity: p.caps[id],
			State:             p.states[id],
		})
	}
	return senders, nil
}

type fakeLimiter struct {
	waitFn func(ctx context.Context, senderID string) error
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeLimiter) Wait(ctx context.Context, senderID string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, senderID)
	}
	return ctx.Err()
}

type fakeProvider struct {
	sendFn func(ctx context.Context, msg provider.Message) (*provider.SendResult, error)
}

func (f *fakeProvider) Send(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
	return f.sendFn(ctx, msg)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []queue.Event
}

func (p *capturePublisher) Publish(_ context.Context, event queue.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) kinds() []queue.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.EventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

func (p *capturePublisher) hasKind(kind queue.EventKind) bool {
	for _, k := range p.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// jobsForSlots lays a contiguous sequence ledger over the planned slots, the
// same shape the campaign service writes at start.
func jobsForSlots(campaignID string, slots []domain.SenderSlot) []*domain.DispatchJob {
	var jobs []*domain.DispatchJob
	seq := int64(0)
	for _, slot := range slots {
		for i := int64(0); i < slot.Quota; i++ {
			jobs = append(jobs, &domain.DispatchJob{
				ID:          fmt.Sprintf("job-%d", seq),
				CampaignID:  campaignID,
				RecipientID: fmt.Sprintf("recipient-%d", seq),
				SenderID:    slot.SenderID,
				Sequence:    seq,
				Status:      domain.JobQueued,
			})
			seq++
		}
	}
	return jobs
}

func phonesForJobs(jobs []*domain.DispatchJob) map[string]string {
	phones := make(map[string]string, len(jobs))
	for _, j := range jobs {
		phones[j.RecipientID] = fmt.Sprintf("+1200555%04d", j.Sequence)
	}
	return phones
}

type schedulerFixture struct {
	sched     *CampaignScheduler
	jobs      *fakeJobRepo
	campaigns *fakeCampaignRepo
	failovers *fakeFailoverRepo
	pool      *fakePool
	publisher *capturePublisher
	seqByJob  map[string]int64
}

func newFixture(t *testing.T, slots []domain.SenderSlot, prov *fakeProvider) *schedulerFixture {
	t.Helper()

	campaign := domain.Campaign{
		ID:       "campaign-1",
		Name:     "spring-promo",
		Template: "hello {{name}}",
		Status:   domain.CampaignRunning,
	}

	var total int64
	for _, s := range slots {
		total += s.Quota
	}

	assignment, err := domain.NewCampaignAssignment(campaign.ID, total, slots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pool := newFakePool()
	for _, s := range slots {
		pool.add(s.SenderID, s.Capacity)
	}

	controller, err := failover.NewController(pool, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jobList := jobsForSlots(campaign.ID, slots)
	seqByJob := make(map[string]int64, len(jobList))
	for _, j := range jobList {
		seqByJob[j.ID] = j.Sequence
	}

	jobs := newFakeJobRepo(jobList)
	campaigns := &fakeCampaignRepo{}
	failovers := &fakeFailoverRepo{}
	publisher := &capturePublisher{}

	sched, err := New(campaign, assignment, phonesForJobs(jobList), Deps{
		Jobs:       jobs,
		Campaigns:  campaigns,
		Failovers:  failovers,
		Pool:       pool,
		Controller: controller,
		Provider:   prov,
		Limiter:    &fakeLimiter{waitFn: func(context.Context, string) error { return nil }},
		Events:     publisher,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sched.randIntn = func(int) int { return 0 }

	return &schedulerFixture{
		sched:     sched,
		jobs:      jobs,
		campaigns: campaigns,
		failovers: failovers,
		pool:      pool,
		publisher: publisher,
		seqByJob:  seqByJob,
	}
}

func TestRunDispatchesEverySequenceExactlyOnce(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		order []int64
	)

	var fx *schedulerFixture
	prov := &fakeProvider{
		sendFn: func(_ context.Context, msg provider.Message) (*provider.SendResult, error) {
			mu.Lock()
			order = append(order, fx.seqByJob[msg.JobID])
			mu.Unlock()
			return &provider.SendResult{StatusCode: 200, MessageID: "wamid-" + msg.JobID}, nil
		},
	}
	fx = newFixture(t, []domain.SenderSlot{
		{SenderID: "sender-a", Capacity: 30, Quota: 120},
	}, prov)

	if err := fx.sched.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(order) != 120 {
		t.Fatalf("expected 120 sends, got %d", len(order))
	}
	for i, seq := range order {
		if seq != int64(i) {
			t.Fatalf("expected sequence %d at position %d, got %d", i, i, seq)
		}
	}
	for seq, status := range fx.jobs.statuses() {
		if status != domain.JobSent {
			t.Errorf("expected sequence %d SENT, got %s", seq, status)
		}
	}
	if fx.campaigns.completed != 1 {
		t.Errorf("expected one completion, got %d", fx.campaigns.completed)
	}
	if !fx.publisher.hasKind(queue.EventCampaignCompleted) {
		t.Error("expected campaign.completed event")
	}
	if !fx.sched.Snapshot().Done() {
		t.Error("expected assignment done")
	}
}

func TestRunFailsOverWithoutLossOrDuplication(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		order []int64
	)

	var fx *schedulerFixture
	prov := &fakeProvider{
		sendFn: func(_ context.Context, msg provider.Message) (*provider.SendResult, error) {
			mu.Lock()
			order = append(order, fx.seqByJob[msg.JobID])
			sends := len(order)
			mu.Unlock()

			// Third delivery trips the demotion: sender-a pauses after
			// dispatching sequences 0..2.
			if sends == 3 {
				fx.pool.setState("sender-a", domain.SenderPaused)
			}
			return &provider.SendResult{StatusCode: 200, MessageID: "wamid-" + msg.JobID}, nil
		},
	}
	fx = newFixture(t, []domain.SenderSlot{
		{SenderID: "sender-a", Capacity: 30, Quota: 6},
		{SenderID: "sender-b", Capacity: 25, Quota: 4},
	}, prov)

	if err := fx.sched.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}

	if len(fx.jobs.reassignCalls) != 1 {
		t.Fatalf("expected one reassignment, got %d", len(fx.jobs.reassignCalls))
	}
	call := fx.jobs.reassignCalls[0]
	if call.from != "sender-a" || call.to != "sender-b" || call.fromSeq != 3 {
		t.Errorf("expected reassignment sender-a -> sender-b from sequence 3, got %+v", call)
	}

	if len(fx.failovers.events) != 1 {
		t.Fatalf("expected one failover event, got %d", len(fx.failovers.events))
	}
	event := fx.failovers.events[0]
	if event.FromSenderID != "sender-a" || event.ToSenderID != "sender-b" {
		t.Errorf("expected handoff sender-a -> sender-b, got %+v", event)
	}
	if event.Sequence != 2 {
		t.Errorf("expected demotion point at sequence 2, got %d", event.Sequence)
	}

	// Re-homed jobs carry the new sender in the ledger.
	for _, j := range fx.jobs.jobs {
		if j.Sequence >= 3 && j.SenderID != "sender-b" {
			t.Errorf("expected sequence %d on sender-b, got %s", j.Sequence, j.SenderID)
		}
		if j.Status != domain.JobSent {
			t.Errorf("expected sequence %d SENT, got %s", j.Sequence, j.Status)
		}
	}

	if !fx.publisher.hasKind(queue.EventSenderFailover) {
		t.Error("expected sender.failover event")
	}
	if fx.campaigns.completed != 1 {
		t.Errorf("expected one completion, got %d", fx.campaigns.completed)
	}
}

func TestRunBlocksWhenNoEligibleSenderRemains(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{
		sendFn: func(context.Context, provider.Message) (*provider.SendResult, error) {
			return &provider.SendResult{StatusCode: 200}, nil
		},
	}
	fx := newFixture(t, []domain.SenderSlot{
		{SenderID: "sender-a", Capacity: 30, Quota: 5},
	}, prov)

	fx.pool.setState("sender-a", domain.SenderPaused)

	err := fx.sched.Run(context.Background())
	if !errors.Is(err, domain.ErrAllSendersExhausted) {
		t.Fatalf("expected ErrAllSendersExhausted, got %v", err)
	}

	blocked := false
	for _, call := range fx.campaigns.statusCalls {
		if call.to == domain.CampaignBlocked {
			blocked = true
		}
	}
	if !blocked {
		t.Error("expected campaign to be marked BLOCKED")
	}
	if !fx.publisher.hasKind(queue.EventCampaignBlocked) {
		t.Error("expected campaign.blocked event")
	}
	for seq, status := range fx.jobs.statuses() {
		if status != domain.JobQueued {
			t.Errorf("expected sequence %d untouched, got %s", seq, status)
		}
	}
}

func TestRunStopsAdmissionOnCancel(t *testing.T) {
	t.Parallel()

	sends := 0
	prov := &fakeProvider{
		sendFn: func(context.Context, provider.Message) (*provider.SendResult, error) {
			sends++
			return &provider.SendResult{StatusCode: 200}, nil
		},
	}
	fx := newFixture(t, []domain.SenderSlot{
		{SenderID: "sender-a", Capacity: 30, Quota: 5},
	}, prov)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := fx.sched.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sends != 0 {
		t.Errorf("expected no sends after cancel, got %d", sends)
	}
	if fx.campaigns.completed != 0 {
		t.Error("expected no completion on cancel")
	}
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	attempts := 0
	prov := &fakeProvider{
		sendFn: func(_ context.Context, msg provider.Message) (*provider.SendResult, error) {
			attempts++
			if attempts == 1 {
				return nil, &provider.SendError{StatusCode: 503, Message: "rate limited upstream", Transient: true}
			}
			return &provider.SendResult{StatusCode: 200, MessageID: "wamid-" + msg.JobID}, nil
		},
	}
	fx := newFixture(t, []domain.SenderSlot{
		{SenderID: "sender-a", Capacity: 30, Quota: 1},
	}, prov)

	if err := fx.sched.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if got := fx.jobs.statuses()[0]; got != domain.JobSent {
		t.Errorf("expected SENT after retry, got %s", got)
	}
	if got := fx.jobs.attempts["job-0"]; got != 1 {
		t.Errorf("expected one recorded failed attempt, got %d", got)
	}
}

func TestPauseDuringRetryBackoffKeepsJobQueued(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	prov := &fakeProvider{
		sendFn: func(context.Context, provider.Message) (*provider.SendResult, error) {
			attempts++
			// Operator pause lands while the send is failing transiently.
			cancel()
			return nil, &provider.SendError{StatusCode: 503, Message: "rate limited upstream", Transient: true}
		},
	}
	fx := newFixture(t, []domain.SenderSlot{
		{SenderID: "sender-a", Capacity: 30, Quota: 1},
	}, prov)

	if err := fx.sched.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if attempts != 1 {
		t.Fatalf("expected a single attempt before the pause, got %d", attempts)
	}
	// The job keeps its attempt budget and stays queued for resume; a pause
	// must never fail it early.
	if got := fx.jobs.statuses()[0]; got != domain.JobQueued {
		t.Fatalf("expected job QUEUED after pause mid-retry, got %s", got)
	}
	if got := fx.jobs.attempts["job-0"]; got != 1 {
		t.Errorf("expected attempt count preserved, got %d", got)
	}
	if fx.publisher.hasKind(queue.EventJobFailed) {
		t.Error("expected no job.failed event on pause")
	}
	if fx.campaigns.completed != 0 {
		t.Error("expected no completion on pause")
	}
}

func TestSnapshotEstimateWhileDispatchRuns(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{
		sendFn: func(_ context.Context, msg provider.Message) (*provider.SendResult, error) {
			return &provider.SendResult{StatusCode: 200, MessageID: "wamid-" + msg.JobID}, nil
		},
	}
	fx := newFixture(t, []domain.SenderSlot{
		{SenderID: "sender-a", Capacity: 30, Quota: 300},
	}, prov)

	polls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			snap := fx.sched.Snapshot()
			if seq := snap.NextSequence(); seq < 0 || seq > snap.Total {
				t.Errorf("torn sequence read: %d of %d", seq, snap.Total)
				return
			}
			if eta := planner.Estimate(snap, 0); eta.TotalSeconds < 0 || eta.TotalSeconds > 10 {
				t.Errorf("estimate out of range: %d seconds", eta.TotalSeconds)
				return
			}
			polls++
			if snap.Done() {
				return
			}
		}
	}()

	if err := fx.sched.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-done

	if polls == 0 {
		t.Fatal("expected at least one concurrent poll")
	}
	if eta := planner.Estimate(fx.sched.Snapshot(), 0); eta.TotalSeconds != 0 {
		t.Errorf("expected zero remaining after completion, got %d seconds", eta.TotalSeconds)
	}
}

func TestDispatchPermanentFailureFailsJobAndAdvances(t *testing.T) {
	t.Parallel()

	calls := 0
	prov := &fakeProvider{
		sendFn: func(_ context.Context, msg provider.Message) (*provider.SendResult, error) {
			calls++
			if calls == 1 {
				return nil, &provider.SendError{StatusCode: 400, Message: "invalid recipient"}
			}
			return &provider.SendResult{StatusCode: 200, MessageID: "wamid-" + msg.JobID}, nil
		},
	}
	fx := newFixture(t, []domain.SenderSlot{
		{SenderID: "sender-a", Capacity: 30, Quota: 2},
	}, prov)

	if err := fx.sched.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// No retry on a permanent error: two jobs, two provider calls.
	if calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", calls)
	}

	statuses := fx.jobs.statuses()
	if statuses[0] != domain.JobFailed {
		t.Errorf("expected sequence 0 FAILED, got %s", statuses[0])
	}
	if statuses[1] != domain.JobSent {
		t.Errorf("expected sequence 1 SENT, got %s", statuses[1])
	}

	if len(fx.pool.signals) != 1 || fx.pool.signals[0].Kind != domain.SignalFailed {
		t.Fatalf("expected one FAILED health signal, got %+v", fx.pool.signals)
	}
	if !fx.publisher.hasKind(queue.EventJobFailed) {
		t.Error("expected job.failed event")
	}
	if fx.campaigns.completed != 1 {
		t.Errorf("expected completion despite failed job, got %d", fx.campaigns.completed)
	}
}

func TestComputeRetryDelay(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{
		sendFn: func(context.Context, provider.Message) (*provider.SendResult, error) {
			return &provider.SendResult{StatusCode: 200}, nil
		},
	}
	fx := newFixture(t, []domain.SenderSlot{
		{SenderID: "sender-a", Capacity: 30, Quota: 1},
	}, prov)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: time.Second},
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 10, want: 30 * time.Second},
	}
	for _, tt := range tests {
		if got := fx.sched.computeRetryDelay(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}

	fx.sched.randIntn = func(n int) int { return n - 1 }
	if got := fx.sched.computeRetryDelay(1); got != time.Second+250*time.Millisecond {
		t.Errorf("expected full jitter, got %v", got)
	}
}
