package bus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/caretrust/internal/domain"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestChannelBus(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	ctx := context.Background()
	tenantID := "agency-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, err := b.Subscribe(ctx, tenantID, domain.TopicActivityLogged, func(_ context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := b.Publish(ctx, tenantID, domain.TopicActivityLogged, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-got:
			if string(msg.Payload) != "hello" {
				t.Errorf("expected payload 'hello', got '%s'", msg.Payload)
			}
			if msg.TenantID != tenantID || msg.Topic != domain.TopicActivityLogged {
				t.Errorf("unexpected envelope %s/%s", msg.TenantID, msg.Topic)
			}
			if msg.ID == "" || msg.Timestamp == 0 {
				t.Error("expected message id and timestamp")
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var first, second atomic.Int32
		_, _ = b.Subscribe(ctx, "agency-001", "isolation.topic", func(context.Context, *domain.Message) error {
			first.Add(1)
			return nil
		})
		_, _ = b.Subscribe(ctx, "agency-002", "isolation.topic", func(context.Context, *domain.Message) error {
			second.Add(1)
			return nil
		})

		_ = b.Publish(ctx, "agency-001", "isolation.topic", []byte("msg"))
		waitFor(t, func() bool { return first.Load() == 1 })
		time.Sleep(20 * time.Millisecond)

		if second.Load() != 0 {
			t.Errorf("agency-002 should receive nothing, got %d", second.Load())
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := b.Publish(ctx, "", "topic", nil); err != ErrNoTenant {
			t.Errorf("expected ErrNoTenant, got %v", err)
		}
		_, err := b.Subscribe(ctx, "", "topic", func(context.Context, *domain.Message) error { return nil })
		if err != ErrNoTenant {
			t.Errorf("expected ErrNoTenant, got %v", err)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, _ := b.Subscribe(ctx, tenantID, "unsub.topic", func(context.Context, *domain.Message) error {
			count.Add(1)
			return nil
		})

		_ = b.Publish(ctx, tenantID, "unsub.topic", []byte("one"))
		waitFor(t, func() bool { return count.Load() == 1 })

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		_ = b.Publish(ctx, tenantID, "unsub.topic", []byte("two"))
		time.Sleep(20 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
		b.mu.RLock()
		_, still := b.subscriptions[channelKey(tenantID, "unsub.topic")]
		b.mu.RUnlock()
		if still {
			t.Error("expected subscription to be released")
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var one, two atomic.Int32
		_, _ = b.Subscribe(ctx, tenantID, "multi.topic", func(context.Context, *domain.Message) error {
			one.Add(1)
			return nil
		})
		_, _ = b.Subscribe(ctx, tenantID, "multi.topic", func(context.Context, *domain.Message) error {
			two.Add(1)
			return nil
		})

		_ = b.Publish(ctx, tenantID, "multi.topic", []byte("broadcast"))
		waitFor(t, func() bool { return one.Load() == 1 && two.Load() == 1 })
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := b.Subscribe(ctx, tenantID, domain.TopicAlert, func(context.Context, *domain.Message) error { return nil })
		if sub.Topic() != domain.TopicAlert {
			t.Errorf("expected topic %q, got %q", domain.TopicAlert, sub.Topic())
		}
	})
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	b := NewChannelBus(1)
	defer b.Close()
	ctx := context.Background()

	release := make(chan struct{})
	var handled atomic.Int32
	_, _ = b.Subscribe(ctx, "agency-001", "slow.topic", func(context.Context, *domain.Message) error {
		<-release
		handled.Add(1)
		return nil
	})

	// first message occupies the handler, second fills the buffer
	_ = b.Publish(ctx, "agency-001", "slow.topic", nil)
	waitFor(t, func() bool { return len(firstSub(b, "agency-001", "slow.topic").msgCh) == 0 })
	_ = b.Publish(ctx, "agency-001", "slow.topic", nil)
	_ = b.Publish(ctx, "agency-001", "slow.topic", nil)

	if b.Dropped() != 1 {
		t.Errorf("expected 1 dropped message, got %d", b.Dropped())
	}
	close(release)
	waitFor(t, func() bool { return handled.Load() == 2 })
}

func firstSub(b *ChannelBus, tenantID, topic string) *channelSubscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subscriptions[channelKey(tenantID, topic)] {
		return s
	}
	return nil
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(10)
	ctx := context.Background()

	_, _ = b.Subscribe(ctx, "agency-001", "close.topic", func(context.Context, *domain.Message) error { return nil })

	if err := b.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := b.Publish(ctx, "agency-001", "close.topic", nil); err != ErrClosed {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
	if err := b.Ping(ctx); err != ErrClosed {
		t.Errorf("expected ping error after close, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestEvents(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	got := make(chan *domain.Message, 1)
	_, _ = b.Subscribe(ctx, "agency-001", domain.TopicScoreComputed, func(_ context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})

	evt := domain.SubjectEvent{SubjectID: "cg-1", Score: 640, Reason: "activity"}
	if err := PublishEvent(ctx, b, "agency-001", domain.TopicScoreComputed, evt); err != nil {
		t.Fatalf("PublishEvent failed: %v", err)
	}

	select {
	case msg := <-got:
		decoded, err := DecodeEvent(msg)
		if err != nil {
			t.Fatalf("DecodeEvent failed: %v", err)
		}
		if decoded != evt {
			t.Errorf("expected %+v, got %+v", evt, decoded)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	t.Run("RejectsMissingSubject", func(t *testing.T) {
		payload, _ := json.Marshal(domain.SubjectEvent{Reason: "x"})
		if _, err := DecodeEvent(&domain.Message{ID: "m", Topic: "t", Payload: payload}); err == nil {
			t.Error("expected error for event without subject")
		}
	})

	t.Run("RejectsGarbage", func(t *testing.T) {
		if _, err := DecodeEvent(&domain.Message{ID: "m", Topic: "t", Payload: []byte("{")}); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()
		if _, ok := b.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestTraceContextPropagation(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	b := NewChannelBus(10)
	defer b.Close()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	parent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	got := make(chan trace.SpanContext, 1)
	_, _ = b.Subscribe(context.Background(), "agency-001", domain.TopicScoreRequested, func(ctx context.Context, msg *domain.Message) error {
		if msg.Metadata["traceparent"] == "" {
			t.Error("expected traceparent in message metadata")
		}
		got <- trace.SpanContextFromContext(ctx)
		return nil
	})
	if err := b.Publish(parent, "agency-001", domain.TopicScoreRequested, []byte("{}")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case sc := <-got:
		if sc.TraceID() != traceID {
			t.Errorf("expected trace %s, got %s", traceID, sc.TraceID())
		}
		if !sc.IsRemote() {
			t.Error("expected span context to be marked remote")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	t.Run("NoMetadata", func(t *testing.T) {
		ctx := MessageContext(context.Background(), &domain.Message{})
		if trace.SpanContextFromContext(ctx).IsValid() {
			t.Error("expected no span context")
		}
	})
}

func TestNATSSubject(t *testing.T) {
	if got := natsSubject("agency-001", domain.TopicAlert); got != "tenant.agency-001.caretrust.alert" {
		t.Errorf("unexpected subject %q", got)
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	b := NewChannelBus(1000)
	defer b.Close()
	ctx := context.Background()

	const messageCount = 200
	var received atomic.Int32
	_, _ = b.Subscribe(ctx, "agency-load", "load.topic", func(context.Context, *domain.Message) error {
		received.Add(1)
		return nil
	})

	for i := 0; i < messageCount; i++ {
		_ = b.Publish(ctx, "agency-load", "load.topic", []byte("msg"))
	}
	waitFor(t, func() bool { return received.Load() == messageCount })
}
