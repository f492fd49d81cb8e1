package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sendwave/campaign-engine/internal/domain"
	"github.com/sendwave/campaign-engine/internal/transport"
	"go.uber.org/zap"
)

type fakeSenderService struct {
	registerFn     func(ctx context.Context, sender *domain.Sender) (*domain.Sender, error)
	listFn         func(ctx context.Context) []domain.Sender
	configFn       func(ctx context.Context) domain.PoolConfig
	updateConfigFn func(ctx context.Context, cfg domain.PoolConfig) (*domain.PoolConfig, error)
}

func (f *fakeSenderService) Register(ctx context.Context, sender *domain.Sender) (*domain.Sender, error) {
	return f.registerFn(ctx, sender)
}

func (f *fakeSenderService) List(ctx context.Context) []domain.Sender {
	return f.listFn(ctx)
}

func (f *fakeSenderService) Config(ctx context.Context) domain.PoolConfig {
	if f.configFn != nil {
		return f.configFn(ctx)
	}
	return domain.DefaultPoolConfig()
}

func (f *fakeSenderService) UpdateConfig(ctx context.Context, cfg domain.PoolConfig) (*domain.PoolConfig, error) {
	return f.updateConfigFn(ctx, cfg)
}

func newSenderApp(t *testing.T, svc SenderService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	if err := RegisterSenderRoutes(app, svc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return app
}

func TestRegisterSenderEndpoint(t *testing.T) {
	t.Parallel()

	var registered *domain.Sender
	svc := &fakeSenderService{
		registerFn: func(_ context.Context, sender *domain.Sender) (*domain.Sender, error) {
			sender.ID = "sender-1"
			sender.State = domain.SenderActive
			if sender.QualityTier == "" {
				sender.QualityTier = domain.QualityHigh
			}
			sender.EffectiveCapacity = sender.Capacity
			registered = sender
			return sender, nil
		},
	}
	app := newSenderApp(t, svc)

	resp, payload := doJSON(t, app, http.MethodPost, "/v1/senders", fiber.Map{
		"phoneNumber": "+15005550100",
		"displayName": "promo line",
		"capacity":    30,
		"quota":       4000,
		"qualityTier": "high",
		"tierLimit":   1000,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, payload)
	}

	var body senderResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.ID != "sender-1" || body.EffectiveCapacity != 30 || body.QualityTier != "HIGH" {
		t.Errorf("unexpected response %+v", body)
	}
	if registered.DisplayName != "promo line" || registered.TierLimit != 1000 {
		t.Errorf("unexpected sender passed to service %+v", registered)
	}

	// Unknown tier is rejected before the service sees it.
	resp, _ = doJSON(t, app, http.MethodPost, "/v1/senders", fiber.Map{
		"phoneNumber": "+15005550101",
		"capacity":    10,
		"qualityTier": "shiny",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListSendersEndpoint(t *testing.T) {
	t.Parallel()

	until := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	svc := &fakeSenderService{
		listFn: func(context.Context) []domain.Sender {
			return []domain.Sender{
				{ID: "sender-1", PhoneNumber: "+15005550100", State: domain.SenderActive, QualityTier: domain.QualityHigh, Capacity: 30, EffectiveCapacity: 30},
				{ID: "sender-2", PhoneNumber: "+15005550101", State: domain.SenderPaused, QualityTier: domain.QualityLow, Capacity: 20, EffectiveCapacity: 10, CooldownUntil: &until},
			}
		},
	}
	app := newSenderApp(t, svc)

	resp, payload := doJSON(t, app, http.MethodGet, "/v1/senders", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Data []senderResponse `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body.Data) != 2 {
		t.Fatalf("expected 2 senders, got %d", len(body.Data))
	}
	if body.Data[1].State != "PAUSED" || body.Data[1].CooldownUntil == nil {
		t.Errorf("unexpected paused sender %+v", body.Data[1])
	}
}

func TestUpdatePoolConfigOverlaysPartialRequest(t *testing.T) {
	t.Parallel()

	var applied domain.PoolConfig
	svc := &fakeSenderService{
		updateConfigFn: func(_ context.Context, cfg domain.PoolConfig) (*domain.PoolConfig, error) {
			applied = cfg
			return &cfg, nil
		},
	}
	app := newSenderApp(t, svc)

	resp, payload := doJSON(t, app, http.MethodPut, "/v1/pool/config", fiber.Map{
		"rotation":        "weighted-round-robin",
		"globalRateCap":   40,
		"cooldownMinutes": 45,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, payload)
	}

	if applied.Rotation != domain.RotationWeighted || applied.GlobalRateCap != 40 {
		t.Errorf("unexpected applied config %+v", applied)
	}
	if applied.CooldownDuration != 45*time.Minute {
		t.Errorf("expected 45m cooldown, got %v", applied.CooldownDuration)
	}
	// Omitted toggles keep their current values.
	if !applied.PauseOnFailureRate || !applied.ReheatAfterCooldown {
		t.Errorf("expected toggles preserved, got %+v", applied)
	}

	var body poolConfigResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Rotation != "weighted-round-robin" || body.CooldownMinutes != 45 {
		t.Errorf("unexpected response %+v", body)
	}

	// Unknown rotation policy is rejected.
	resp, _ = doJSON(t, app, http.MethodPut, "/v1/pool/config", fiber.Map{"rotation": "random"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetPoolConfigEndpoint(t *testing.T) {
	t.Parallel()

	svc := &fakeSenderService{
		listFn: func(context.Context) []domain.Sender { return nil },
	}
	app := newSenderApp(t, svc)

	resp, payload := doJSON(t, app, http.MethodGet, "/v1/pool/config", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body poolConfigResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Rotation != "sticky-session" || body.FailureRateThreshold != 0.10 {
		t.Errorf("unexpected defaults %+v", body)
	}
	if body.CooldownMinutes != 30 || body.FailureWindowMinutes != 15 {
		t.Errorf("unexpected durations %+v", body)
	}
}
