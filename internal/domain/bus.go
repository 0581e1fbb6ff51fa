package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Backed by Go channels or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type"`

	// Channel settings
	ChannelBufferSize int `json:"channelBufferSize"`

	// NATS settings
	NATSUrl           string `json:"natsUrl,omitempty"`
	NATSToken         string `json:"-"`
	NATSMaxReconnects int    `json:"natsMaxReconnects,omitempty"`
	NATSReconnectWait int    `json:"natsReconnectWait,omitempty"` // seconds

	// NATSQueue is the queue group analysis workers join. Empty means
	// every subscriber receives every message.
	NATSQueue string `json:"natsQueue,omitempty"`
}

// Topic names for the analysis pipeline.
const (
	TopicAnalysisRequested = "rxguard.analysis.requested"
	TopicAnalysisCompleted = "rxguard.analysis.completed"
	TopicSafetyAlert       = "rxguard.safety.alert"
)

// SafetyAlert is published when an analysis contains a high dose finding
// or a major or contraindicated interaction.
type SafetyAlert struct {
	AnalysisID          string               `json:"analysisId"`
	PatientName         string               `json:"patientName,omitempty"`
	DoseFindings        []DoseFinding        `json:"doseFindings,omitempty"`
	InteractionFindings []InteractionFinding `json:"interactionFindings,omitempty"`
	Timestamp           int64                `json:"timestamp"`
}

// NewSafetyAlert collects the alerting findings of an analysis.
func NewSafetyAlert(a *Analysis) *SafetyAlert {
	alert := &SafetyAlert{
		AnalysisID:  a.ID,
		PatientName: a.PatientName,
		Timestamp:   a.CreatedAt.UnixMilli(),
	}
	for _, d := range a.Result.DoseFindings {
		if d.Level == DoseLevelHigh {
			alert.DoseFindings = append(alert.DoseFindings, d)
		}
	}
	for _, i := range a.Result.InteractionFindings {
		if i.Severity.Flagged() {
			alert.InteractionFindings = append(alert.InteractionFindings, i)
		}
	}
	return alert
}
