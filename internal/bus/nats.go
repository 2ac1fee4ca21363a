package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/caretrust/internal/domain"
)

// maxDialBackoff caps the wait between initial connection attempts.
const maxDialBackoff = 30 * time.Second

// NATSBus implements EventBus on NATS core subjects of the form
// tenant.<tenant>.<topic>.
type NATSBus struct {
	conn       *nats.Conn
	queueGroup string
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to NATS. The first dial is retried with doubling
// backoff up to NATSMaxReconnects attempts; afterwards the client
// reconnects on its own.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	conn, err := dialNATS(url, attempts, wait, natsOptions(cfg, attempts, wait))
	if err != nil {
		return nil, err
	}

	slog.Info("connected to NATS", "url", conn.ConnectedUrl(), "queue_group", cfg.NATSQueueGroup)
	return &NATSBus{conn: conn, queueGroup: cfg.NATSQueueGroup}, nil
}

func natsOptions(cfg domain.EventBusConfig, reconnects int, wait time.Duration) []nats.Option {
	opts := []nats.Option{
		nats.Name("caretrust"),
		nats.MaxReconnects(reconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 << 20),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS connection lost", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection restored", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				slog.Error("NATS async error", "subject", sub.Subject, "error", err)
				return
			}
			slog.Error("NATS async error", "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	return opts
}

func dialNATS(url string, attempts int, wait time.Duration, opts []nats.Option) (*nats.Conn, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := nats.Connect(url, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("NATS dial failed", "attempt", i+1, "of", attempts, "retry_in", wait, "error", err)
		if i < attempts-1 {
			time.Sleep(wait)
			wait = min(wait*2, maxDialBackoff)
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, lastErr)
}

// Publish sends payload to the tenant topic subject.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return ErrNoTenant
	}
	data, err := json.Marshal(newMessage(ctx, tenantID, topic, payload))
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", topic, err)
	}
	if err := b.conn.Publish(natsSubject(tenantID, topic), data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Subscribe registers handler for a tenant topic. With a queue group
// configured, each message reaches one member of the group.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}
	subject := natsSubject(tenantID, topic)

	deliver := func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("dropping undecodable message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(MessageContext(ctx, &msg), &msg); err != nil {
			slog.Error("handler error", "topic", msg.Topic, "message_id", msg.ID, "error", err)
		}
	}

	var (
		ns  *nats.Subscription
		err error
	)
	if b.queueGroup == "" {
		ns, err = b.conn.Subscribe(subject, deliver)
	} else {
		ns, err = b.conn.QueueSubscribe(subject, b.queueGroup, deliver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	return &natsSubscription{topic: topic, sub: ns}, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if b.conn.IsClosed() {
		return ErrClosed
	}
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected (status %v)", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains every subscription, letting in-flight deliveries finish,
// then closes the connection.
func (b *NATSBus) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}

func natsSubject(tenantID, topic string) string {
	return "tenant." + tenantID + "." + topic
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
