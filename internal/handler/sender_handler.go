package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sendwave/campaign-engine/internal/domain"
)

type SenderService interface {
	Register(ctx context.Context, sender *domain.Sender) (*domain.Sender, error)
	List(ctx context.Context) []domain.Sender
	Config(ctx context.Context) domain.PoolConfig
	UpdateConfig(ctx context.Context, cfg domain.PoolConfig) (*domain.PoolConfig, error)
}

type SenderHandler struct {
	service SenderService
}

func NewSenderHandler(service SenderService) (*SenderHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("sender service is required")
	}
	return &SenderHandler{service: service}, nil
}

func RegisterSenderRoutes(router fiber.Router, service SenderService) error {
	h, err := NewSenderHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/senders", h.RegisterSender)
	v1.Get("/senders", h.ListSenders)
	v1.Get("/pool/config", h.GetPoolConfig)
	v1.Put("/pool/config", h.UpdatePoolConfig)

	return nil
}

type registerSenderRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	DisplayName string `json:"displayName"`
	Capacity    int    `json:"capacity"`
	Quota       int    `json:"quota"`
	Position    int    `json:"position"`
	QualityTier string `json:"qualityTier"`
	TierLimit   int    `json:"tierLimit"`
}

type senderResponse struct {
	ID                string     `json:"id"`
	PhoneNumber       string     `json:"phoneNumber"`
	DisplayName       string     `json:"displayName,omitempty"`
	Position          int        `json:"position"`
	Capacity          int        `json:"capacity"`
	EffectiveCapacity int        `json:"effectiveCapacity"`
	Quota             int        `json:"quota"`
	QualityTier       string     `json:"qualityTier"`
	State             string     `json:"state"`
	TierLimit         int        `json:"tierLimit"`
	TierUsed          int        `json:"tierUsed"`
	CooldownUntil     *time.Time `json:"cooldownUntil,omitempty"`
}

type poolConfigRequest struct {
	Rotation             string  `json:"rotation"`
	GlobalRateCap        int     `json:"globalRateCap"`
	DemoteOnLowQuality   *bool   `json:"demoteOnLowQuality,omitempty"`
	ThrottleAtTierShare  *bool   `json:"throttleAtTierShare,omitempty"`
	PauseOnFailureRate   *bool   `json:"pauseOnFailureRate,omitempty"`
	ReheatAfterCooldown  *bool   `json:"reheatAfterCooldown,omitempty"`
	FailureRateThreshold float64 `json:"failureRateThreshold"`
	TierShareThreshold   float64 `json:"tierShareThreshold"`
	ThrottleFactor       float64 `json:"throttleFactor"`
	CooldownMinutes      int     `json:"cooldownMinutes"`
	FailureWindowMinutes int     `json:"failureWindowMinutes"`
}

type poolConfigResponse struct {
	Rotation             string  `json:"rotation"`
	GlobalRateCap        int     `json:"globalRateCap"`
	DemoteOnLowQuality   bool    `json:"demoteOnLowQuality"`
	ThrottleAtTierShare  bool    `json:"throttleAtTierShare"`
	PauseOnFailureRate   bool    `json:"pauseOnFailureRate"`
	ReheatAfterCooldown  bool    `json:"reheatAfterCooldown"`
	FailureRateThreshold float64 `json:"failureRateThreshold"`
	TierShareThreshold   float64 `json:"tierShareThreshold"`
	ThrottleFactor       float64 `json:"throttleFactor"`
	CooldownMinutes      int     `json:"cooldownMinutes"`
	FailureWindowMinutes int     `json:"failureWindowMinutes"`
}

func (h *SenderHandler) RegisterSender(c *fiber.Ctx) error {
	var req registerSenderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	sender := domain.Sender{
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Capacity:    req.Capacity,
		Quota:       req.Quota,
		Position:    req.Position,
		TierLimit:   req.TierLimit,
	}
	if tier := strings.TrimSpace(req.QualityTier); tier != "" {
		parsed, err := domain.ParseQualityTierFromString(tier)
		if err != nil {
			return toHTTPError(err)
		}
		sender.QualityTier = parsed
	}

	created, err := h.service.Register(c.Context(), &sender)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toSenderResponse(created))
}

func (h *SenderHandler) ListSenders(c *fiber.Ctx) error {
	senders := h.service.List(c.Context())
	responses := make([]senderResponse, 0, len(senders))
	for i := range senders {
		responses = append(responses, toSenderResponse(&senders[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *SenderHandler) GetPoolConfig(c *fiber.Ctx) error {
	cfg := h.service.Config(c.Context())
	return c.Status(fiber.StatusOK).JSON(toPoolConfigResponse(cfg))
}

func (h *SenderHandler) UpdatePoolConfig(c *fiber.Ctx) error {
	var req poolConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	cfg, err := requestToPoolConfig(req, h.service.Config(c.Context()))
	if err != nil {
		return toHTTPError(err)
	}

	updated, err := h.service.UpdateConfig(c.Context(), cfg)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toPoolConfigResponse(*updated))
}

// requestToPoolConfig overlays the request onto the current config so a PUT
// can omit rule toggles without resetting them.
func requestToPoolConfig(req poolConfigRequest, current domain.PoolConfig) (domain.PoolConfig, error) {
	cfg := current

	if rotation := strings.TrimSpace(req.Rotation); rotation != "" {
		parsed, err := domain.ParseRotationPolicyFromString(rotation)
		if err != nil {
			return domain.PoolConfig{}, err
		}
		cfg.Rotation = parsed
	}
	if req.GlobalRateCap != 0 {
		cfg.GlobalRateCap = req.GlobalRateCap
	}
	if req.DemoteOnLowQuality != nil {
		cfg.DemoteOnLowQuality = *req.DemoteOnLowQuality
	}
	if req.ThrottleAtTierShare != nil {
		cfg.ThrottleAtTierShare = *req.ThrottleAtTierShare
	}
	if req.PauseOnFailureRate != nil {
		cfg.PauseOnFailureRate = *req.PauseOnFailureRate
	}
	if req.ReheatAfterCooldown != nil {
		cfg.ReheatAfterCooldown = *req.ReheatAfterCooldown
	}
	if req.FailureRateThreshold > 0 {
		cfg.FailureRateThreshold = req.FailureRateThreshold
	}
	if req.TierShareThreshold > 0 {
		cfg.TierShareThreshold = req.TierShareThreshold
	}
	if req.ThrottleFactor > 0 {
		cfg.ThrottleFactor = req.ThrottleFactor
	}
	if req.CooldownMinutes > 0 {
		cfg.CooldownDuration = time.Duration(req.CooldownMinutes) * time.Minute
	}
	if req.FailureWindowMinutes > 0 {
		cfg.FailureWindowDuration = time.Duration(req.FailureWindowMinutes) * time.Minute
	}
	return cfg, nil
}

func toSenderResponse(sender *domain.Sender) senderResponse {
	if sender == nil {
		return senderResponse{}
	}
	return senderResponse{
		ID:                sender.ID,
		PhoneNumber:       sender.PhoneNumber,
		DisplayName:       sender.DisplayName,
		Position:          sender.Position,
		Capacity:          sender.Capacity,
		EffectiveCapacity: sender.EffectiveCapacity,
		Quota:             sender.Quota,
		QualityTier:       sender.QualityTier.String(),
		State:             sender.State.String(),
		TierLimit:         sender.TierLimit,
		TierUsed:          sender.TierUsed,
		CooldownUntil:     sender.CooldownUntil,
	}
}

func toPoolConfigResponse(cfg domain.PoolConfig) poolConfigResponse {
	return poolConfigResponse{
		Rotation:             cfg.Rotation.String(),
		GlobalRateCap:        cfg.GlobalRateCap,
		DemoteOnLowQuality:   cfg.DemoteOnLowQuality,
		ThrottleAtTierShare:  cfg.ThrottleAtTierShare,
		PauseOnFailureRate:   cfg.PauseOnFailureRate,
		ReheatAfterCooldown:  cfg.ReheatAfterCooldown,
		FailureRateThreshold: cfg.FailureRateThreshold,
		TierShareThreshold:   cfg.TierShareThreshold,
		ThrottleFactor:       cfg.ThrottleFactor,
		CooldownMinutes:      int(cfg.CooldownDuration / time.Minute),
		FailureWindowMinutes: int(cfg.FailureWindowDuration / time.Minute),
	}
}
