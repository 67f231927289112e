// Package toggle coordinates verified gate status changes.
package toggle

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/railwatch/internal/identity"
	"github.com/diagnosis/railwatch/internal/notify"
	"github.com/diagnosis/railwatch/internal/registry"
	"github.com/diagnosis/railwatch/internal/verification"
	"github.com/diagnosis/railwatch/pkg/events"
	"github.com/diagnosis/railwatch/pkg/logger"
	"github.com/diagnosis/railwatch/pkg/metrics"
)

// Request is returned when a toggle is requested; the caller completes it
// through the verification workflow.
type Request struct {
	Gate    registry.GateRecord   `json:"gate"`
	Session verification.Snapshot `json:"session"`
}

// Result describes a toggle that was applied.
type Result struct {
	Gate         registry.GateRecord `json:"gate"`
	Notification notify.Notification `json:"notification"`
}

type Coordinator struct {
	registry *registry.Registry
	workflow *verification.Workflow
	pub      events.Publisher
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewCoordinator(reg *registry.Registry, provider identity.Provider, cfg verification.Config) *Coordinator {
	if cfg.Publisher == nil {
		cfg.Publisher = events.NoopBus{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Coordinator{
		registry: reg,
		pub:      cfg.Publisher,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}
	c.workflow = verification.NewWorkflow(provider, c.applyVerified, cfg)
	return c
}

func (c *Coordinator) Workflow() *verification.Workflow {
	return c.workflow
}

// RequestToggle opens a verification session for gateID instead of mutating
// the registry.
func (c *Coordinator) RequestToggle(ctx context.Context, gateID string) (Request, error) {
	gate, err := c.registry.Get(gateID)
	if err != nil {
		return Request{}, err
	}
	snap, err := c.workflow.Open(ctx, gateID)
	if err != nil {
		return Request{}, err
	}
	return Request{Gate: gate, Session: snap}, nil
}

// Confirm submits a code for sessionID and, once verified, returns the
// applied toggle.
func (c *Coordinator) Confirm(ctx context.Context, sessionID, code string) (Result, error) {
	gate, err := c.workflow.SubmitCode(ctx, sessionID, code)
	if err != nil {
		return Result{}, err
	}
	return resultFor(gate), nil
}

// ApplyToggle flips gateID's status. The registry returns the record it
// wrote, and the notification is built from that record.
func (c *Coordinator) ApplyToggle(ctx context.Context, gateID string) (Result, error) {
	gate, err := c.registry.Toggle(gateID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			logger.ErrorContext(ctx, "Toggle applied to unknown gate", "gate_id", gateID)
		}
		if c.metrics != nil {
			c.metrics.ErrorsCount.WithLabelValues("apply_toggle").Inc()
		}
		return Result{}, err
	}

	if c.metrics != nil {
		c.metrics.TogglesApplied.WithLabelValues(string(gate.Status)).Inc()
	}

	ev := events.GateStatusChangedEvent{
		GateID:    gate.ID,
		GateName:  gate.Name,
		Status:    string(gate.Status),
		ChangedAt: c.now(),
	}
	if err := c.pub.Publish(ctx, events.GateStatusChanged, ev); err != nil {
		logger.WarnContext(ctx, "Failed to publish gate status change", "error", err, "gate_id", gate.ID)
	}

	res := resultFor(gate)
	notify.Publish(ctx, c.pub, res.Notification)
	logger.InfoContext(ctx, "Gate status updated", "gate_id", gate.ID, "status", gate.Status)

	return res, nil
}

func (c *Coordinator) applyVerified(ctx context.Context, gateID string) (registry.GateRecord, error) {
	res, err := c.ApplyToggle(ctx, gateID)
	return res.Gate, err
}

func resultFor(gate registry.GateRecord) Result {
	return Result{Gate: gate, Notification: notify.StatusUpdated(gate.Name, string(gate.Status))}
}
