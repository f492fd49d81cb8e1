package provider

import "context"

// Message is one outbound WhatsApp message: the rendered template for one
// recipient, sent through a specific sender number.
type Message struct {
	SenderPhone    string
	RecipientPhone string
	Body           string
	JobID          string
}

// Provider is the outbound messaging delivery port.
type Provider interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

// SendResult stores provider call metadata for audit and persistence.
type SendResult struct {
	StatusCode int
	Body       string
	MessageID  string
}
