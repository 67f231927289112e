package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/railwatch/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url, nats.Name("railwatch"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
		})
	})
	return err
}

// Flush blocks until published messages reached the server.
func (n *NATSEventBus) Flush() error {
	return n.conn.Flush()
}

func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

// NoopBus drops every event; used when NATS_URL is not configured.
type NoopBus struct{}

func (NoopBus) Publish(context.Context, string, interface{}) error { return nil }
func (NoopBus) Subscribe(string, func(msg *Message)) error         { return nil }
func (NoopBus) Close() error                                      { return nil }

// Event subjects
const (
	GateStatusChanged = "railwatch.gate.status_changed"

	VerificationOpened    = "railwatch.verification.opened"
	VerificationCompleted = "railwatch.verification.completed"
	VerificationCanceled  = "railwatch.verification.canceled"

	NotifySend = "railwatch.notify.send"
)

// Event payloads
type GateStatusChangedEvent struct {
	GateID    string    `json:"gate_id"`
	GateName  string    `json:"gate_name"`
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

type VerificationEvent struct {
	SessionID string    `json:"session_id"`
	GateID    string    `json:"gate_id"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

type NotificationEvent struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant"`
}
