// Package queue publishes dispatch-lifecycle events to the message broker.
// The engine only produces here: the dashboard and audit tooling consume the
// stream out-of-process.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EventKind is the routing key of a lifecycle event on the events exchange.
type EventKind string

const (
	EventCampaignStarted   EventKind = "campaign.started"
	EventCampaignPaused    EventKind = "campaign.paused"
	EventCampaignBlocked   EventKind = "campaign.blocked"
	EventCampaignCompleted EventKind = "campaign.completed"
	EventJobSent           EventKind = "job.sent"
	EventJobFailed         EventKind = "job.failed"
	EventSenderFailover    EventKind = "sender.failover"
)

func (k EventKind) String() string { return string(k) }

func (k EventKind) IsValid() bool {
	switch k {
	case EventCampaignStarted, EventCampaignPaused, EventCampaignBlocked,
		EventCampaignCompleted, EventJobSent, EventJobFailed, EventSenderFailover:
		return true
	}
	return false
}

// Event is the broker payload for one dispatch-lifecycle occurrence.
type Event struct {
	Kind       EventKind `json:"kind"`
	CampaignID string    `json:"campaignId"`
	JobID      string    `json:"jobId,omitempty"`
	SenderID   string    `json:"senderId,omitempty"`
	ToSenderID string    `json:"toSenderId,omitempty"`
	Sequence   int64     `json:"sequence,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (e Event) Validate() error {
	if !e.Kind.IsValid() {
		return fmt.Errorf("invalid event kind %q", e.Kind)
	}
	if strings.TrimSpace(e.CampaignID) == "" {
		return fmt.Errorf("campaignId is required")
	}
	return nil
}

// Publisher publishes lifecycle events. Implementations must be safe for
// concurrent use by multiple campaign loops.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher discards events; used when no broker is configured and in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
