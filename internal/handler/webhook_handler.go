package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sendwave/campaign-engine/internal/domain"
)

type SignalService interface {
	RecordDeliveryReceipt(ctx context.Context, providerMsgID, status string, occurredAt time.Time) error
	RecordQualityRating(ctx context.Context, senderID, rating string, occurredAt time.Time) error
}

type WebhookHandler struct {
	service SignalService
}

func NewWebhookHandler(service SignalService) (*WebhookHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("signal service is required")
	}
	return &WebhookHandler{service: service}, nil
}

func RegisterWebhookRoutes(router fiber.Router, service SignalService) error {
	h, err := NewWebhookHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/webhooks/provider", h.ReceiveProviderWebhook)

	return nil
}

type providerWebhookRequest struct {
	Statuses []deliveryStatusItem `json:"statuses"`
	Quality  []qualityRatingItem  `json:"quality"`
}

type deliveryStatusItem struct {
	MessageID string    `json:"messageId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type qualityRatingItem struct {
	SenderID  string    `json:"senderId"`
	Rating    string    `json:"rating"`
	Timestamp time.Time `json:"timestamp"`
}

type providerWebhookResponse struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

// ReceiveProviderWebhook ingests a batch of delivery receipts and quality
// ratings. Unknown message IDs and replays are skipped, never errors: the
// provider retries the whole batch on anything but 200.
func (h *WebhookHandler) ReceiveProviderWebhook(c *fiber.Ctx) error {
	var req providerWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Statuses) == 0 && len(req.Quality) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "empty webhook payload")
	}

	var applied, skipped int
	for _, item := range req.Statuses {
		err := h.service.RecordDeliveryReceipt(c.Context(), item.MessageID, item.Status, item.Timestamp)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrValidation):
			skipped++
		default:
			return err
		}
	}

	for _, item := range req.Quality {
		err := h.service.RecordQualityRating(c.Context(), item.SenderID, item.Rating, item.Timestamp)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, domain.ErrValidation):
			skipped++
		default:
			return err
		}
	}

	return c.Status(fiber.StatusOK).JSON(providerWebhookResponse{
		Applied: applied,
		Skipped: skipped,
	})
}
