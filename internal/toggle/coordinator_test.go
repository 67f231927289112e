package toggle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/railwatch/internal/captcha"
	"github.com/diagnosis/railwatch/internal/identity"
	"github.com/diagnosis/railwatch/internal/registry"
	"github.com/diagnosis/railwatch/internal/search"
	"github.com/diagnosis/railwatch/internal/verification"
	"github.com/diagnosis/railwatch/pkg/cache"
	"github.com/diagnosis/railwatch/pkg/events"
	"github.com/diagnosis/railwatch/pkg/metrics"
)

type recordingBus struct {
	mu       sync.Mutex
	subjects []string
}

func (b *recordingBus) Publish(_ context.Context, subject string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) has(subject string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subjects {
		if s == subject {
			return true
		}
	}
	return false
}

type nopSender struct{}

func (nopSender) Send(context.Context, string, string) error { return nil }

type fixture struct {
	reg     *registry.Registry
	coord   *Coordinator
	bus     *recordingBus
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := registry.New(registry.DefaultGates())
	require.NoError(t, err)

	provider := identity.NewOTPProvider(cache.NewMemoryStore(), nopSender{}, 5*time.Minute, 5,
		identity.WithCodeGenerator(func() (string, error) { return "123456", nil }))

	f := &fixture{reg: reg, bus: &recordingBus{}, metrics: metrics.NewMetrics("test")}
	f.coord = NewCoordinator(reg, provider, verification.Config{
		SessionTTL:      10 * time.Minute,
		ProofDifficulty: 4,
		Publisher:       f.bus,
		Metrics:         f.metrics,
	})
	return f
}

func TestCoordinator_VerifiedToggleScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req, err := f.coord.RequestToggle(ctx, "gate1")
	require.NoError(t, err)
	assert.Equal(t, "Main Street Crossing", req.Gate.Name)

	// nothing changes until verification completes
	g, _ := f.reg.Get("gate1")
	assert.Equal(t, registry.StatusClosed, g.Status)

	wf := f.coord.Workflow()
	snap, err := wf.SubmitPhoneNumber(ctx, req.Session.SessionID, "+15551234567", captcha.Solve(*req.Session.Widget))
	require.NoError(t, err)

	_, err = f.coord.Confirm(ctx, snap.SessionID, "000000")
	assert.ErrorIs(t, err, verification.ErrCodeRejected)
	cur, err := wf.Current(ctx, snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, verification.PhaseAwaitingCode, cur.Phase)

	res, err := f.coord.Confirm(ctx, snap.SessionID, "123456")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusOpen, res.Gate.Status)
	assert.Equal(t, "Main Street Crossing is now open.", res.Notification.Description)

	g, _ = f.reg.Get("gate1")
	assert.Equal(t, registry.StatusOpen, g.Status)
	assert.False(t, wf.Active(ctx))

	assert.True(t, f.bus.has(events.GateStatusChanged))
	assert.True(t, f.bus.has(events.VerificationCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TogglesApplied.WithLabelValues("open")))
}

func TestCoordinator_RequestToggleUnknownGate(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.RequestToggle(context.Background(), "gate9")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.False(t, f.coord.Workflow().Active(context.Background()))
}

func TestCoordinator_SecondRequestRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.coord.RequestToggle(ctx, "gate1")
	require.NoError(t, err)
	_, err = f.coord.RequestToggle(ctx, "gate2")
	assert.ErrorIs(t, err, verification.ErrVerificationInProgress)
}

func TestApplyToggle_TwiceRestores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.coord.ApplyToggle(ctx, "gate2")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusClosed, first.Gate.Status)
	assert.Equal(t, "Elm Avenue Gate is now closed.", first.Notification.Description)

	second, err := f.coord.ApplyToggle(ctx, "gate2")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusOpen, second.Gate.Status)
}

func TestApplyToggle_SearchProjectionAgrees(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	view := search.NewView(f.reg)
	view.Submit("Elm")

	res, err := f.coord.ApplyToggle(ctx, "gate3")
	require.NoError(t, err)

	rs := view.Current()
	require.True(t, rs.Contains("gate3"))
	for _, g := range rs.Gates {
		want, _ := f.reg.Get(g.ID)
		assert.Equal(t, want.Status, g.Status, g.ID)
	}
	assert.Equal(t, res.Gate.Status, rs.Gates[1].Status)
}

func TestApplyToggle_UnknownGate(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.ApplyToggle(context.Background(), "nope")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ErrorsCount.WithLabelValues("apply_toggle")))
}
