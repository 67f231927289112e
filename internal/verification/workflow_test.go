package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/diagnosis/railwatch/internal/captcha"
	"github.com/diagnosis/railwatch/internal/identity"
	"github.com/diagnosis/railwatch/internal/registry"
	"github.com/diagnosis/railwatch/pkg/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testDifficulty = 8

type fakeProvider struct {
	mu         sync.Mutex
	code       string
	issueErr   error
	confirmErr error
	issued     int

	entered chan struct{}
	release chan struct{}
}

func (f *fakeProvider) IssueChallenge(_ context.Context, phone string) (string, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return "", f.issueErr
	}
	f.issued++
	return fmt.Sprintf("handle-%d", f.issued), nil
}

func (f *fakeProvider) Confirm(_ context.Context, handle, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return f.confirmErr
	}
	if code != f.code {
		return fmt.Errorf("%w: invalid verification code", identity.ErrRejected)
	}
	return nil
}

type applyRecorder struct {
	mu    sync.Mutex
	gates []string
	err   error
}

func (a *applyRecorder) apply(_ context.Context, gateID string) (registry.GateRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gates = append(a.gates, gateID)
	if a.err != nil {
		return registry.GateRecord{}, a.err
	}
	return registry.GateRecord{ID: gateID, Status: registry.StatusOpen}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	wf       *Workflow
	provider *fakeProvider
	applied  *applyRecorder
	clock    *clock
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		provider: &fakeProvider{code: "123456"},
		applied:  &applyRecorder{},
		clock:    &clock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		metrics:  metrics.NewMetrics("test"),
	}
	h.wf = NewWorkflow(h.provider, h.applied.apply, Config{
		SessionTTL:      10 * time.Minute,
		ProofDifficulty: testDifficulty,
		Metrics:         h.metrics,
		Now:             h.clock.Now,
	})
	return h
}

func solve(t *testing.T, snap Snapshot) string {
	t.Helper()
	require.NotNil(t, snap.Widget, "expected a widget challenge")
	return captcha.Solve(*snap.Widget)
}

func TestWorkflow_Scenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	snap, err := h.wf.Open(ctx, "gate1")
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingPhoneNumber, snap.Phase)
	assert.Equal(t, "gate1", snap.GateID)

	snap, err = h.wf.SubmitPhoneNumber(ctx, snap.SessionID, "+15551234567", solve(t, snap))
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingCode, snap.Phase)
	assert.Equal(t, "+15551234567", snap.PhoneNumber)
	assert.Nil(t, snap.Widget)

	_, err = h.wf.SubmitCode(ctx, snap.SessionID, "654321")
	assert.ErrorIs(t, err, ErrCodeRejected)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message(), "invalid verification code")

	cur, err := h.wf.Current(ctx, snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingCode, cur.Phase)
	assert.Empty(t, h.applied.gates)

	gate, err := h.wf.SubmitCode(ctx, snap.SessionID, "123456")
	require.NoError(t, err)
	assert.Equal(t, "gate1", gate.ID)
	assert.Equal(t, registry.StatusOpen, gate.Status)
	assert.Equal(t, []string{"gate1"}, h.applied.gates)

	assert.False(t, h.wf.Active(ctx))
	_, err = h.wf.Current(ctx, snap.SessionID)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestWorkflow_SubmitCodeWithoutChallenge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	snap, err := h.wf.Open(ctx, "gate2")
	require.NoError(t, err)

	_, err = h.wf.SubmitCode(ctx, snap.SessionID, "123456")
	assert.ErrorIs(t, err, ErrNoActiveChallenge)
	assert.Empty(t, h.applied.gates)
}

func TestWorkflow_InvalidPhoneNumber(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	snap, err := h.wf.Open(ctx, "gate1")
	require.NoError(t, err)

	for _, phone := range []string{"15551234567", "+0123456", "+1", "+1234567890123456", "+1 555 123", "", "  +15551234567  ", "+15551234567\n"} {
		_, err := h.wf.SubmitPhoneNumber(ctx, snap.SessionID, phone, "")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "phone %q", phone)
		assert.ErrorIs(t, err, ErrInvalidPhoneNumber)
	}

	cur, err := h.wf.Current(ctx, snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingPhoneNumber, cur.Phase)
	assert.Equal(t, snap.Widget.Nonce, cur.Widget.Nonce, "validation errors leave the widget alone")
}

func TestWorkflow_InvalidCodeLength(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	snap, err := h.wf.Open(ctx, "gate1")
	require.NoError(t, err)
	snap, err = h.wf.SubmitPhoneNumber(ctx, snap.SessionID, "+15551234567", solve(t, snap))
	require.NoError(t, err)

	for _, code := range []string{"", "12345", "1234567", " 123456 ", "123456 "} {
		_, err := h.wf.SubmitCode(ctx, snap.SessionID, code)
		assert.ErrorIs(t, err, ErrInvalidCode, "code %q", code)
	}
	assert.Empty(t, h.applied.gates)

	cur, err := h.wf.Current(ctx, snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingCode, cur.Phase)
}

func TestWorkflow_RejectsConcurrentOpen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, err := h.wf.Open(ctx, "gate1")
	require.NoError(t, err)

	_, err = h.wf.Open(ctx, "gate3")
	assert.ErrorIs(t, err, ErrVerificationInProgress)

	require.NoError(t, h.wf.Cancel(ctx, first.SessionID))

	second, err := h.wf.Open(ctx, "gate3")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
}

func TestWorkflow_ExpiredSessionDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, err := h.wf.Open(ctx, "gate1")
	require.NoError(t, err)

	h.clock.Advance(11 * time.Minute)

	_, err = h.wf.Current(ctx, first.SessionID)
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = h.wf.Open(ctx, "gate2")
	assert.NoError(t, err)
}

func TestWorkflow_IssuanceFailureResetsWidget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.provider.issueErr = errors.New("quota exceeded")

	snap, err := h.wf.Open(ctx, "gate1")
	require.NoError(t, err)

	_, err = h.wf.SubmitPhoneNumber(ctx, snap.SessionID, "+15551234567", solve(t, snap))
	assert.ErrorIs(t, err, ErrChallengeIssuance)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "quota exceeded", perr.Message())
	require.NotNil(t, perr.Widget)
	assert.NotEqual(t, snap.Widget.Nonce, perr.Widget.Nonce)

	cur, err := h.wf.Current(ctx, snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingPhoneNumber, cur.Phase)

	h.provider.issueErr = nil
	next, err := h.wf.SubmitPhoneNumber(ctx, snap.SessionID, "+15551234567", captcha.Solve(*perr.Widget))
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingCode, next.Phase)
}

func TestWorkflow_BadProofIsIssuanceError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	snap, err := h.wf.Open(ctx, "gate1")
	require.NoError(t, err)

	bad := "x"
	for captcha.Check(*snap.Widget, bad) {
		bad += "x"
	}
	_, err = h.wf.SubmitPhoneNumber(ctx, snap.SessionID, "+15551234567", bad)
	assert.ErrorIs(t, err, ErrChallengeIssuance)
	assert.ErrorIs(t, err, captcha.ErrInvalidProof)
	assert.Equal(t, 0, h.provider.issued)
}

func TestWorkflow_ChangeNumberKeepsTarget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	snap, err := h.wf.Open(ctx, "gate4")
	require.NoError(t, err)
	snap, err = h.wf.SubmitPhoneNumber(ctx, snap.SessionID, "+15551234567", solve(t, snap))
	require.NoError(t, err)

	snap, err = h.wf.ChangeNumber(ctx, snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingPhoneNumber, snap.Phase)
	assert.Equal(t, "gate4", snap.GateID)
	assert.Empty(t, snap.PhoneNumber)

	_, err = h.wf.SubmitCode(ctx, snap.SessionID, "123456")
	assert.ErrorIs(t, err, ErrNoActiveChallenge)

	snap, err = h.wf.SubmitPhoneNumber(ctx, snap.SessionID, "+447911123456", solve(t, snap))
	require.NoError(t, err)
	_, err = h.wf.SubmitCode(ctx, snap.SessionID, "123456")
	require.NoError(t, err)
	assert.Equal(t, []string{"gate4"}, h.applied.gates)
}

func TestWorkflow_ConfirmProviderUnavailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	snap, err := h.wf.Open(ctx, "gate1")
	require.NoError(t, err)
	snap, err = h.wf.SubmitPhoneNumber(ctx, snap.SessionID, "+15551234567", solve(t, snap))
	require.NoError(t, err)

	h.provider.confirmErr = errors.New("connection refused")
	_, err = h.wf.SubmitCode(ctx, snap.SessionID, "123456")
	assert.ErrorIs(t, err, ErrVerificationUnavailable)
	assert.NotErrorIs(t, err, ErrCodeRejected)

	cur, err := h.wf.Current(ctx, snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingCode, cur.Phase)
}

func TestWorkflow_WrongSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.wf.Open(ctx, "gate1")
	require.NoError(t, err)

	_, err = h.wf.SubmitPhoneNumber(ctx, "someone-else", "+15551234567", "")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, h.wf.Cancel(ctx, "someone-else"), ErrNoSession)
}

func TestWorkflow_CompletionAfterCancelIsStale(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.provider.entered = make(chan struct{})
	h.provider.release = make(chan struct{})

	snap, err := h.wf.Open(ctx, "gate1")
	require.NoError(t, err)
	proof := solve(t, snap)

	done := make(chan error, 1)
	go func() {
		_, err := h.wf.SubmitPhoneNumber(ctx, snap.SessionID, "+15551234567", proof)
		done <- err
	}()

	<-h.provider.entered
	_, err = h.wf.SubmitPhoneNumber(ctx, snap.SessionID, "+15551234567", proof)
	assert.ErrorIs(t, err, ErrRequestPending)

	require.NoError(t, h.wf.Cancel(ctx, snap.SessionID))
	close(h.provider.release)

	assert.ErrorIs(t, <-done, ErrStaleContext)
	assert.False(t, h.wf.Active(ctx))
	assert.Empty(t, h.applied.gates)
}

func TestWorkflow_CompletionAfterReplacementIsStale(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.provider.entered = make(chan struct{})
	h.provider.release = make(chan struct{})

	first, err := h.wf.Open(ctx, "gate1")
	require.NoError(t, err)
	proof := solve(t, first)

	done := make(chan error, 1)
	go func() {
		_, err := h.wf.SubmitPhoneNumber(ctx, first.SessionID, "+15551234567", proof)
		done <- err
	}()
	<-h.provider.entered

	require.NoError(t, h.wf.Cancel(ctx, first.SessionID))
	second, err := h.wf.Open(ctx, "gate2")
	require.NoError(t, err)
	close(h.provider.release)

	assert.ErrorIs(t, <-done, ErrStaleContext)

	cur, err := h.wf.Current(ctx, second.SessionID)
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingPhoneNumber, cur.Phase, "stale completion must not advance the new session")
}

func TestWorkflow_ApplyFailureStillTearsDown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.applied.err = errors.New("gate not found")

	snap, err := h.wf.Open(ctx, "ghost")
	require.NoError(t, err)
	snap, err = h.wf.SubmitPhoneNumber(ctx, snap.SessionID, "+15551234567", solve(t, snap))
	require.NoError(t, err)

	_, err = h.wf.SubmitCode(ctx, snap.SessionID, "123456")
	assert.Error(t, err)
	assert.False(t, h.wf.Active(ctx))
}
