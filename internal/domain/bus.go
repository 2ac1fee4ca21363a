package domain

import (
	"context"
)

// EventBus moves evidence and score events between the pipeline and the
// recompute worker. Topics are scoped per tenant; subscribers of one
// tenant never see another tenant's messages.
type EventBus interface {
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe calls handler for each message on the tenant topic until
	// ctx ends or the subscription is removed.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler consumes one message. Errors are logged, not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every bus puts on the wire. Metadata carries
// the publisher's trace context.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is a live registration returned by Subscribe.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects the bus implementation.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type"`

	// ChannelBufferSize is the per-subscriber queue of the channel bus.
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds

	// NATSQueueGroup load-balances deliveries across workers sharing it.
	NATSQueueGroup string `mapstructure:"nats_queue_group"`
}

// Standard topic names for the assessment pipeline.
const (
	TopicActivityLogged     = "caretrust.activity.logged"
	TopicTestimonySubmitted = "caretrust.testimony.submitted"
	TopicScoreRequested     = "caretrust.score.requested"
	TopicScoreComputed      = "caretrust.score.computed"
	TopicRiskAssessed       = "caretrust.risk.assessed"
	TopicAlert              = "caretrust.alert"
)

// SubjectEvent is the payload carried on pipeline topics.
type SubjectEvent struct {
	SubjectID string `json:"subjectId"`
	RecordID  string `json:"recordId,omitempty"`
	Score     int    `json:"score,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
