// Package notify builds the user-visible notifications returned with workflow
// responses and mirrors them onto the event bus.
package notify

import (
	"context"
	"fmt"

	"github.com/diagnosis/railwatch/pkg/events"
	"github.com/diagnosis/railwatch/pkg/logger"
)

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

type Notification struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Variant     Variant `json:"variant"`
}

func OTPSent(phone string) Notification {
	return Notification{Title: "OTP Sent", Description: fmt.Sprintf("An OTP has been sent to %s.", phone), Variant: VariantDefault}
}

func OTPSendFailed(msg string) Notification {
	return Notification{Title: "OTP Send Failed", Description: msg, Variant: VariantDestructive}
}

func OTPVerified() Notification {
	return Notification{Title: "OTP Verified!", Description: "Authentication successful.", Variant: VariantDefault}
}

func OTPVerificationFailed(msg string) Notification {
	return Notification{Title: "OTP Verification Failed", Description: msg, Variant: VariantDestructive}
}

func StatusUpdated(gateName, status string) Notification {
	return Notification{Title: "Status Updated", Description: fmt.Sprintf("%s is now %s.", gateName, status), Variant: VariantDefault}
}

// Publish forwards n to the notify subject. Delivery failures are logged only.
func Publish(ctx context.Context, pub events.Publisher, n Notification) {
	if pub == nil {
		return
	}
	ev := events.NotificationEvent{Title: n.Title, Description: n.Description, Variant: string(n.Variant)}
	if err := pub.Publish(ctx, events.NotifySend, ev); err != nil {
		logger.WarnContext(ctx, "Failed to publish notification", "error", err, "title", n.Title)
	}
}
