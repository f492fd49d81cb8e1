package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sendwave/campaign-engine/internal/domain"
	"github.com/sendwave/campaign-engine/internal/planner"
	"github.com/sendwave/campaign-engine/internal/service"
)

type CampaignService interface {
	Create(ctx context.Context, campaign *domain.Campaign) (*domain.Campaign, error)
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context) ([]domain.Campaign, error)
	Preflight(ctx context.Context, id string) (*domain.PreflightReport, error)
	Start(ctx context.Context, id string) (*service.StartResult, error)
	Pause(ctx context.Context, id string) error
	ETA(ctx context.Context, id string) (*planner.ETA, error)
	Progress(ctx context.Context, id string) (*service.CampaignProgress, error)
	ListFailovers(ctx context.Context, id string) ([]domain.FailoverEvent, error)
}

type CampaignHandler struct {
	service CampaignService
}

func NewCampaignHandler(service CampaignService) (*CampaignHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	return &CampaignHandler{service: service}, nil
}

func RegisterCampaignRoutes(router fiber.Router, service CampaignService) error {
	h, err := NewCampaignHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/campaigns", h.CreateCampaign)
	v1.Get("/campaigns", h.ListCampaigns)
	v1.Get("/campaigns/:id", h.GetCampaign)
	v1.Get("/campaigns/:id/preflight", h.PreflightCampaign)
	v1.Post("/campaigns/:id/start", h.StartCampaign)
	v1.Post("/campaigns/:id/pause", h.PauseCampaign)
	v1.Get("/campaigns/:id/eta", h.CampaignETA)
	v1.Get("/campaigns/:id/progress", h.CampaignProgress)
	v1.Get("/campaigns/:id/failovers", h.ListFailovers)

	return nil
}

type createCampaignRequest struct {
	Name       string `json:"name"`
	AudienceID string `json:"audienceId"`
	Template   string `json:"template"`
}

type campaignResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	AudienceID  string     `json:"audienceId"`
	Template    string     `json:"template"`
	Status      string     `json:"status"`
	QueuedCount int        `json:"queuedCount"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt,omitempty"`
}

type startCampaignResponse struct {
	Campaign       campaignResponse  `json:"campaign"`
	Enqueued       int64             `json:"enqueued"`
	AlreadyRunning bool              `json:"alreadyRunning"`
	Preflight      preflightResponse `json:"preflight"`
	ETA            *etaResponse      `json:"eta,omitempty"`
}

type preflightResponse struct {
	Valid     int      `json:"valid"`
	Invalid   int      `json:"invalid"`
	NoChannel int      `json:"noChannel"`
	Startable bool     `json:"startable"`
	Errors    []string `json:"errors,omitempty"`
}

type etaResponse struct {
	TotalSeconds int64               `json:"totalSeconds"`
	PerSender    []planner.SenderETA `json:"perSender"`
}

type progressResponse struct {
	Campaign campaignResponse `json:"campaign"`
	Counts   map[string]int64 `json:"counts"`
}

type failoverEventResponse struct {
	ID           string    `json:"id"`
	CampaignID   string    `json:"campaignId"`
	FromSenderID string    `json:"fromSenderId"`
	ToSenderID   string    `json:"toSenderId"`
	Sequence     int64     `json:"sequence"`
	Reason       string    `json:"reason"`
	OccurredAt   time.Time `json:"occurredAt"`
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	campaign := domain.Campaign{
		Name:       strings.TrimSpace(req.Name),
		AudienceID: strings.TrimSpace(req.AudienceID),
		Template:   strings.TrimSpace(req.Template),
	}

	created, err := h.service.Create(c.Context(), &campaign)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(created))
}

func (h *CampaignHandler) ListCampaigns(c *fiber.Ctx) error {
	campaigns, err := h.service.List(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]campaignResponse, 0, len(campaigns))
	for i := range campaigns {
		responses = append(responses, toCampaignResponse(&campaigns[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	campaign, err := h.service.Get(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) PreflightCampaign(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	report, err := h.service.Preflight(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toPreflightResponse(*report))
}

func (h *CampaignHandler) StartCampaign(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	result, err := h.service.Start(c.Context(), id)
	if err != nil {
		if result != nil && errors.Is(err, domain.ErrInsufficientCapacity) {
			// Pre-flight rejection: report what disqualified the audience.
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":     err.Error(),
				"preflight": toPreflightResponse(result.Preflight),
			})
		}
		return toHTTPError(err)
	}

	resp := startCampaignResponse{
		Campaign:       toCampaignResponse(result.Campaign),
		Enqueued:       result.Enqueued,
		AlreadyRunning: result.AlreadyRunning,
		Preflight:      toPreflightResponse(result.Preflight),
	}
	if result.ETA != nil {
		resp.ETA = &etaResponse{
			TotalSeconds: result.ETA.TotalSeconds,
			PerSender:    result.ETA.PerSender,
		}
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *CampaignHandler) PauseCampaign(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Pause(c.Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"campaignId": id,
		"status":     domain.CampaignPaused.String(),
	})
}

func (h *CampaignHandler) CampaignETA(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	eta, err := h.service.ETA(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(etaResponse{
		TotalSeconds: eta.TotalSeconds,
		PerSender:    eta.PerSender,
	})
}

func (h *CampaignHandler) CampaignProgress(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	progress, err := h.service.Progress(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	counts := make(map[string]int64, len(progress.Counts))
	for status, count := range progress.Counts {
		counts[status.String()] = count
	}
	return c.Status(fiber.StatusOK).JSON(progressResponse{
		Campaign: toCampaignResponse(progress.Campaign),
		Counts:   counts,
	})
}

func (h *CampaignHandler) ListFailovers(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	events, err := h.service.ListFailovers(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]failoverEventResponse, 0, len(events))
	for _, e := range events {
		responses = append(responses, failoverEventResponse{
			ID:           e.ID,
			CampaignID:   e.CampaignID,
			FromSenderID: e.FromSenderID,
			ToSenderID:   e.ToSenderID,
			Sequence:     e.Sequence,
			Reason:       e.Reason,
			OccurredAt:   e.OccurredAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func toCampaignResponse(campaign *domain.Campaign) campaignResponse {
	if campaign == nil {
		return campaignResponse{}
	}
	return campaignResponse{
		ID:          campaign.ID,
		Name:        campaign.Name,
		AudienceID:  campaign.AudienceID,
		Template:    campaign.Template,
		Status:      campaign.Status.String(),
		QueuedCount: campaign.QueuedCount,
		StartedAt:   campaign.StartedAt,
		CompletedAt: campaign.CompletedAt,
		CreatedAt:   campaign.CreatedAt,
		UpdatedAt:   campaign.UpdatedAt,
	}
}

func toPreflightResponse(report domain.PreflightReport) preflightResponse {
	return preflightResponse{
		Valid:     report.Valid,
		Invalid:   report.Invalid,
		NoChannel: report.NoChannel,
		Startable: report.Startable(),
		Errors:    report.Errors,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateJob):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientCapacity):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	default:
		return err
	}
}
