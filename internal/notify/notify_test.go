package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/diagnosis/railwatch/pkg/events"
)

type recordingPublisher struct {
	subjects []string
	payloads []interface{}
	err      error
}

func (r *recordingPublisher) Publish(_ context.Context, subject string, data interface{}) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

func TestStatusUpdated(t *testing.T) {
	n := StatusUpdated("Main Street Crossing", "open")
	if n.Description != "Main Street Crossing is now open." {
		t.Fatalf("unexpected description %q", n.Description)
	}
	if n.Title != "Status Updated" {
		t.Fatalf("unexpected title %q", n.Title)
	}
}

func TestOTPSent(t *testing.T) {
	if got := OTPSent("+15551234567").Description; got != "An OTP has been sent to +15551234567." {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestPublish(t *testing.T) {
	pub := &recordingPublisher{}
	Publish(context.Background(), pub, OTPVerified())

	if len(pub.subjects) != 1 || pub.subjects[0] != events.NotifySend {
		t.Fatalf("unexpected subjects %v", pub.subjects)
	}
	ev, ok := pub.payloads[0].(events.NotificationEvent)
	if !ok || ev.Title != "OTP Verified!" {
		t.Fatalf("unexpected payload %#v", pub.payloads[0])
	}

	// failures are swallowed
	Publish(context.Background(), &recordingPublisher{err: errors.New("down")}, OTPVerified())
	Publish(context.Background(), nil, OTPVerified())
}
