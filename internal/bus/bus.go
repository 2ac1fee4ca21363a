// Package bus carries pipeline events between the API, the scoring
// pipeline and background workers.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/caretrust/internal/domain"
)

var (
	// ErrNoTenant is returned for operations without a tenant.
	ErrNoTenant = errors.New("tenantID is required")

	// ErrClosed is returned once the bus has been closed.
	ErrClosed = errors.New("bus is closed")
)

// New creates a new event bus based on configuration.
// "channel" keeps delivery in process; "nats" fans out across instances.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishEvent encodes a subject event and publishes it.
func PublishEvent(ctx context.Context, b domain.EventBus, tenantID, topic string, evt domain.SubjectEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

// DecodeEvent decodes the subject event carried by msg.
func DecodeEvent(msg *domain.Message) (domain.SubjectEvent, error) {
	var evt domain.SubjectEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return evt, fmt.Errorf("failed to decode %s event %s: %w", msg.Topic, msg.ID, err)
	}
	if evt.SubjectID == "" {
		return evt, fmt.Errorf("%s event %s has no subject", msg.Topic, msg.ID)
	}
	return evt, nil
}

// newMessage wraps payload in an envelope. The publisher's trace context
// rides along in Metadata so consumers continue the same trace.
func newMessage(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	md := map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(md))
	return &domain.Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  md,
		Timestamp: time.Now().UnixNano(),
	}
}

// MessageContext returns ctx joined to the trace the message was
// published under, if any.
func MessageContext(ctx context.Context, msg *domain.Message) context.Context {
	if len(msg.Metadata) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
}
