package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultSendTimeout = 10 * time.Second

type sendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	ClientRef string `json:"client_ref,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// WhatsAppProvider submits messages to a WhatsApp Business Cloud-compatible
// gateway. One instance serves the whole pool; the sender number rides in the
// request body.
type WhatsAppProvider struct {
	client   *resty.Client
	endpoint string
	token    string
}

func NewWhatsAppProvider(endpoint, token string) (*WhatsAppProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return NewWhatsAppProviderWithClient(endpoint, token, client)
}

func NewWhatsAppProviderWithClient(endpoint, token string, client *resty.Client) (*WhatsAppProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("provider endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid provider endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &WhatsAppProvider{
		client:   client,
		endpoint: trimmedEndpoint,
		token:    strings.TrimSpace(token),
	}, nil
}

func (p *WhatsAppProvider) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if strings.TrimSpace(msg.SenderPhone) == "" {
		return nil, fmt.Errorf("sender phone is required")
	}
	if strings.TrimSpace(msg.RecipientPhone) == "" {
		return nil, fmt.Errorf("recipient phone is required")
	}

	reqBody := sendRequest{
		From:      msg.SenderPhone,
		To:        msg.RecipientPhone,
		Type:      "text",
		ClientRef: msg.JobID,
	}
	reqBody.Text.Body = msg.Body

	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody)
	if p.token != "" {
		req.SetHeader("Authorization", "Bearer "+p.token)
	}

	var parsed sendResponse
	response, err := req.SetResult(&parsed).SetError(&parsed).Post(p.endpoint)
	if err != nil {
		return nil, &SendError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &SendError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		result := &SendResult{
			StatusCode: statusCode,
			Body:       responseBody,
		}
		if len(parsed.Messages) > 0 {
			result.MessageID = strings.TrimSpace(parsed.Messages[0].ID)
		}
		return result, nil
	}

	message := strings.TrimSpace(parsed.Error.Message)
	if message == "" {
		message = fmt.Sprintf("provider returned status %d", statusCode)
	}

	return nil, &SendError{
		StatusCode: statusCode,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
