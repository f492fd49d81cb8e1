package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sendwave/campaign-engine/internal/domain"
	"github.com/sendwave/campaign-engine/internal/registry"
)

// receiptJobRepo resolves one job by provider message id and records how it
// was settled.
type receiptJobRepo struct {
	fakeJobRepo
	job       *domain.DispatchJob
	delivered []string
	failed    []string
}

func (f *receiptJobRepo) GetByProviderMessageID(_ context.Context, providerMsgID string) (*domain.DispatchJob, error) {
	if f.job != nil && f.job.ProviderMessageID != nil && *f.job.ProviderMessageID == providerMsgID {
		copied := *f.job
		return &copied, nil
	}
	return nil, domain.ErrNotFound
}

func (f *receiptJobRepo) MarkDelivered(_ context.Context, id string) error {
	f.delivered = append(f.delivered, id)
	return nil
}

func (f *receiptJobRepo) MarkFailed(_ context.Context, id, _ string) error {
	f.failed = append(f.failed, id)
	return nil
}

func newSignalFixture(t *testing.T, jobs *receiptJobRepo, senders ...domain.Sender) (*SignalService, *registry.SenderRegistry) {
	t.Helper()

	pool, err := registry.NewSenderRegistry(&listSenderRepo{senders: senders}, domain.DefaultPoolConfig(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := pool.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc, err := NewSignalService(jobs, pool, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return svc, pool
}

func sentJob(senderID, providerMsgID string) *domain.DispatchJob {
	return &domain.DispatchJob{
		ID:                "job-1",
		CampaignID:        "campaign-1",
		RecipientID:       "recipient-1",
		SenderID:          senderID,
		Status:            domain.JobSent,
		ProviderMessageID: &providerMsgID,
	}
}

func TestRecordDeliveryReceiptSettlesJob(t *testing.T) {
	t.Parallel()

	jobs := &receiptJobRepo{job: sentJob("sender-1", "wamid-1")}
	svc, _ := newSignalFixture(t, jobs, poolSender("sender-1", 0, 30, 0))

	err := svc.RecordDeliveryReceipt(context.Background(), "wamid-1", "delivered", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs.delivered) != 1 || jobs.delivered[0] != "job-1" {
		t.Errorf("expected job-1 delivered, got %v", jobs.delivered)
	}

	err = svc.RecordDeliveryReceipt(context.Background(), "wamid-1", "undeliverable", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs.failed) != 1 || jobs.failed[0] != "job-1" {
		t.Errorf("expected job-1 failed, got %v", jobs.failed)
	}
}

func TestRecordDeliveryReceiptRejectsBadInput(t *testing.T) {
	t.Parallel()

	jobs := &receiptJobRepo{job: sentJob("sender-1", "wamid-1")}
	svc, _ := newSignalFixture(t, jobs, poolSender("sender-1", 0, 30, 0))

	err := svc.RecordDeliveryReceipt(context.Background(), "", "delivered", time.Time{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for empty message id, got %v", err)
	}

	err = svc.RecordDeliveryReceipt(context.Background(), "wamid-unknown", "delivered", time.Time{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown message, got %v", err)
	}

	err = svc.RecordDeliveryReceipt(context.Background(), "wamid-1", "pigeon", time.Time{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown status, got %v", err)
	}
}

func TestRecordDeliveryReceiptDropsStaleSignal(t *testing.T) {
	t.Parallel()

	// The job's sender is no longer in the pool; the receipt still settles
	// the job and the stale health signal is dropped quietly.
	jobs := &receiptJobRepo{job: sentJob("sender-gone", "wamid-1")}
	svc, _ := newSignalFixture(t, jobs, poolSender("sender-1", 0, 30, 0))

	err := svc.RecordDeliveryReceipt(context.Background(), "wamid-1", "delivered", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs.delivered) != 1 {
		t.Errorf("expected job settled despite stale signal, got %v", jobs.delivered)
	}
}

func TestRecordQualityRatingDemotesSender(t *testing.T) {
	t.Parallel()

	svc, pool := newSignalFixture(t, &receiptJobRepo{}, poolSender("sender-1", 0, 30, 0))

	err := svc.RecordQualityRating(context.Background(), "sender-1", "LOW", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state, _ := pool.StateOf("sender-1"); state != domain.SenderDegraded {
		t.Errorf("expected DEGRADED after LOW rating, got %s", state)
	}

	err = svc.RecordQualityRating(context.Background(), "sender-1", "shiny", time.Now())
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown rating, got %v", err)
	}
}
