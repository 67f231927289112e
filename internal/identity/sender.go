package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/mailersend/mailersend-go"

	"github.com/diagnosis/railwatch/pkg/logger"
)

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, text string) error
}

// DevSender logs messages instead of sending them.
type DevSender struct{}

func NewDevSender() *DevSender {
	return &DevSender{}
}

func (d *DevSender) Send(ctx context.Context, phone, text string) error {
	logger.InfoContext(ctx, "[DEV SMS] Verification message", "to", phone, "text", text)
	return nil
}

type MailerSendSMS struct {
	client *mailersend.Mailersend
	from   string
}

func NewMailerSendSMS(apiKey, from string) (*MailerSendSMS, error) {
	if apiKey == "" || from == "" {
		return nil, fmt.Errorf("MailerSend SMS not configured")
	}
	return &MailerSendSMS{client: mailersend.NewMailersend(apiKey), from: from}, nil
}

func (m *MailerSendSMS) Send(ctx context.Context, phone, text string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	msg := m.client.Sms.NewMessage()
	msg.SetFrom(m.from)
	msg.SetTo([]string{phone})
	msg.SetText(text)

	if _, err := m.client.Sms.Send(ctx, msg); err != nil {
		return fmt.Errorf("mailersend sms: %w", err)
	}
	return nil
}
