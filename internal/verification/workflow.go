// Package verification gates gate mutations behind a phone one-time-code
// challenge. At most one session is open at a time.
package verification

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/diagnosis/railwatch/internal/captcha"
	"github.com/diagnosis/railwatch/internal/identity"
	"github.com/diagnosis/railwatch/internal/registry"
	"github.com/diagnosis/railwatch/pkg/events"
	"github.com/diagnosis/railwatch/pkg/logger"
	"github.com/diagnosis/railwatch/pkg/metrics"
)

type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseAwaitingPhoneNumber Phase = "awaiting_phone_number"
	PhaseAwaitingCode        Phase = "awaiting_code"
)

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ApplyFunc performs the mutation a session was opened for and returns the
// record it wrote. It runs synchronously inside the Verified transition.
type ApplyFunc func(ctx context.Context, gateID string) (registry.GateRecord, error)

type Config struct {
	SessionTTL      time.Duration
	ProofDifficulty int
	Publisher       events.Publisher
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// Snapshot is a read-only view of the open session.
type Snapshot struct {
	SessionID   string             `json:"session_id"`
	GateID      string             `json:"gate_id"`
	Phase       Phase              `json:"phase"`
	PhoneNumber string             `json:"phone_number,omitempty"`
	Widget      *captcha.Challenge `json:"widget,omitempty"`
	OpenedAt    time.Time          `json:"opened_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

type session struct {
	id         string
	gateID     string
	phase      Phase
	phone      string
	handle     string
	widget     *captcha.Widget
	openedAt   time.Time
	generation uint64
	pending    bool
}

type Workflow struct {
	provider identity.Provider
	apply    ApplyFunc
	cfg      Config

	mu         sync.Mutex
	sess       *session
	generation uint64
}

func NewWorkflow(provider identity.Provider, apply ApplyFunc, cfg Config) *Workflow {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NoopBus{}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 10 * time.Minute
	}
	return &Workflow{provider: provider, apply: apply, cfg: cfg}
}

// Open starts a session for gateID and initializes its proof-of-work widget.
func (w *Workflow) Open(ctx context.Context, gateID string) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireLocked(ctx)
	if w.sess != nil {
		w.count("open", "in_progress")
		return Snapshot{}, ErrVerificationInProgress
	}

	widget, err := captcha.New(w.cfg.ProofDifficulty)
	if err != nil {
		return Snapshot{}, &ProviderError{Kind: ErrChallengeIssuance, Cause: err}
	}
	id, err := gonanoid.New()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to generate session id: %w", err)
	}

	w.generation++
	w.sess = &session{
		id:         id,
		gateID:     gateID,
		phase:      PhaseAwaitingPhoneNumber,
		widget:     widget,
		openedAt:   w.cfg.Now(),
		generation: w.generation,
	}
	w.count("open", "ok")
	w.publish(ctx, events.VerificationOpened, w.sess, "")
	logger.InfoContext(ctx, "Verification session opened", "session_id", id, "gate_id", gateID)
	return w.snapshotLocked(), nil
}

// Current returns the state of session sessionID.
func (w *Workflow) Current(ctx context.Context, sessionID string) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.lookupLocked(ctx, sessionID); err != nil {
		return Snapshot{}, err
	}
	return w.snapshotLocked(), nil
}

// SubmitPhoneNumber verifies the widget proof and asks the provider to send
// a code. On success the session moves to PhaseAwaitingCode.
func (w *Workflow) SubmitPhoneNumber(ctx context.Context, sessionID, phone, proof string) (Snapshot, error) {
	w.mu.Lock()
	s, err := w.lookupLocked(ctx, sessionID)
	if err != nil {
		w.mu.Unlock()
		return Snapshot{}, err
	}
	if s.pending {
		w.mu.Unlock()
		return Snapshot{}, ErrRequestPending
	}
	if s.phase != PhaseAwaitingPhoneNumber {
		w.mu.Unlock()
		return Snapshot{}, ErrWrongPhase
	}
	if !phonePattern.MatchString(phone) {
		w.mu.Unlock()
		w.count("phone", "invalid")
		return Snapshot{}, &ValidationError{Err: ErrInvalidPhoneNumber}
	}
	if err := s.widget.Verify(proof); err != nil {
		perr := w.resetWidgetLocked(ctx, s, err)
		w.mu.Unlock()
		w.count("phone", "proof_failed")
		return Snapshot{}, perr
	}
	gen := s.generation
	s.pending = true
	w.mu.Unlock()

	handle, issueErr := w.provider.IssueChallenge(ctx, phone)

	w.mu.Lock()
	defer w.mu.Unlock()
	s, err = w.liveLocked(gen)
	if err != nil {
		logger.DebugContext(ctx, "Discarding challenge issued for a closed session")
		return Snapshot{}, err
	}
	s.pending = false

	if issueErr != nil {
		w.count("phone", "provider_error")
		logger.WarnContext(ctx, "Challenge issuance failed", "error", issueErr, "session_id", s.id)
		return Snapshot{}, w.resetWidgetLocked(ctx, s, issueErr)
	}

	s.phone = phone
	s.handle = handle
	s.phase = PhaseAwaitingCode
	w.count("phone", "ok")
	return w.snapshotLocked(), nil
}

// SubmitCode confirms code with the provider. On success the apply hook runs
// for the session's gate and the session is torn down.
func (w *Workflow) SubmitCode(ctx context.Context, sessionID, code string) (registry.GateRecord, error) {
	w.mu.Lock()
	s, err := w.lookupLocked(ctx, sessionID)
	if err != nil {
		w.mu.Unlock()
		return registry.GateRecord{}, err
	}
	if s.pending {
		w.mu.Unlock()
		return registry.GateRecord{}, ErrRequestPending
	}
	if utf8.RuneCountInString(code) != identity.CodeLength {
		w.mu.Unlock()
		w.count("code", "invalid")
		return registry.GateRecord{}, &ValidationError{Err: ErrInvalidCode}
	}
	if s.handle == "" {
		w.mu.Unlock()
		w.count("code", "no_challenge")
		return registry.GateRecord{}, ErrNoActiveChallenge
	}
	gen, handle := s.generation, s.handle
	s.pending = true
	w.mu.Unlock()

	confirmErr := w.provider.Confirm(ctx, handle, code)

	w.mu.Lock()
	defer w.mu.Unlock()
	s, err = w.liveLocked(gen)
	if err != nil {
		logger.DebugContext(ctx, "Discarding confirmation for a closed session")
		return registry.GateRecord{}, err
	}
	s.pending = false

	if confirmErr != nil {
		if errors.Is(confirmErr, identity.ErrRejected) {
			w.count("code", "rejected")
			return registry.GateRecord{}, &ProviderError{Kind: ErrCodeRejected, Cause: confirmErr}
		}
		w.count("code", "provider_error")
		logger.WarnContext(ctx, "Code confirmation failed", "error", confirmErr, "session_id", s.id)
		return registry.GateRecord{}, &ProviderError{Kind: ErrVerificationUnavailable, Cause: confirmErr}
	}

	w.count("code", "ok")
	gate, applyErr := w.apply(ctx, s.gateID)
	w.publish(ctx, events.VerificationCompleted, s, "")
	w.teardownLocked()
	if applyErr != nil {
		return registry.GateRecord{}, fmt.Errorf("failed to apply verified change: %w", applyErr)
	}
	return gate, nil
}

// ChangeNumber returns the session to PhaseAwaitingPhoneNumber, keeping its
// target gate. Any in-flight provider call becomes stale.
func (w *Workflow) ChangeNumber(ctx context.Context, sessionID string) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.lookupLocked(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}

	w.generation++
	s.generation = w.generation
	s.pending = false
	s.phase = PhaseAwaitingPhoneNumber
	s.phone = ""
	s.handle = ""
	if err := s.widget.Reset(); err != nil {
		return Snapshot{}, &ProviderError{Kind: ErrChallengeIssuance, Cause: err}
	}
	return w.snapshotLocked(), nil
}

// Cancel dismisses the dialog and tears the session down.
func (w *Workflow) Cancel(ctx context.Context, sessionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.lookupLocked(ctx, sessionID)
	if err != nil {
		return err
	}
	w.count("cancel", "ok")
	w.publish(ctx, events.VerificationCanceled, s, "dismissed")
	w.teardownLocked()
	return nil
}

// Active reports whether a live session exists.
func (w *Workflow) Active(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expireLocked(ctx)
	return w.sess != nil
}

func (w *Workflow) lookupLocked(ctx context.Context, sessionID string) (*session, error) {
	w.expireLocked(ctx)
	if w.sess == nil || w.sess.id != sessionID {
		return nil, ErrNoSession
	}
	return w.sess, nil
}

// liveLocked re-validates a session after a provider call returned.
func (w *Workflow) liveLocked(gen uint64) (*session, error) {
	if w.sess == nil || w.sess.generation != gen {
		return nil, ErrStaleContext
	}
	return w.sess, nil
}

func (w *Workflow) expireLocked(ctx context.Context) {
	if w.sess == nil {
		return
	}
	if w.cfg.Now().Sub(w.sess.openedAt) < w.cfg.SessionTTL {
		return
	}
	logger.InfoContext(ctx, "Verification session expired", "session_id", w.sess.id)
	w.publish(ctx, events.VerificationCanceled, w.sess, "expired")
	w.teardownLocked()
}

func (w *Workflow) teardownLocked() {
	if w.sess == nil {
		return
	}
	w.sess.widget.Clear()
	w.sess.phone = ""
	w.sess.handle = ""
	w.sess = nil
	w.generation++
}

// resetWidgetLocked reinitializes the widget after a failed issuance so the
// caller can retry with a fresh proof.
func (w *Workflow) resetWidgetLocked(ctx context.Context, s *session, cause error) error {
	perr := &ProviderError{Kind: ErrChallengeIssuance, Cause: cause}
	if err := s.widget.Reset(); err != nil {
		logger.ErrorContext(ctx, "Failed to reinitialize proof-of-work widget", "error", err)
		return perr
	}
	ch := s.widget.Challenge()
	perr.Widget = &ch
	return perr
}

func (w *Workflow) snapshotLocked() Snapshot {
	s := w.sess
	snap := Snapshot{
		SessionID:   s.id,
		GateID:      s.gateID,
		Phase:       s.phase,
		PhoneNumber: s.phone,
		OpenedAt:    s.openedAt,
		ExpiresAt:   s.openedAt.Add(w.cfg.SessionTTL),
	}
	if s.phase == PhaseAwaitingPhoneNumber {
		ch := s.widget.Challenge()
		snap.Widget = &ch
	}
	return snap
}

func (w *Workflow) publish(ctx context.Context, subject string, s *session, reason string) {
	ev := events.VerificationEvent{SessionID: s.id, GateID: s.gateID, Reason: reason, At: w.cfg.Now()}
	if err := w.cfg.Publisher.Publish(ctx, subject, ev); err != nil {
		logger.WarnContext(ctx, "Failed to publish verification event", "error", err, "subject", subject)
	}
}

func (w *Workflow) count(step, outcome string) {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.VerificationAttempts.WithLabelValues(step, outcome).Inc()
	}
}
