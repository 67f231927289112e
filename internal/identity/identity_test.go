package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/railwatch/pkg/cache"
)

type captureSender struct {
	phone string
	text  string
	err   error
}

func (c *captureSender) Send(_ context.Context, phone, text string) error {
	c.phone, c.text = phone, text
	return c.err
}

func fixedCode(code string) Option {
	return WithCodeGenerator(func() (string, error) { return code, nil })
}

func TestOTPProvider_IssueAndConfirm(t *testing.T) {
	ctx := context.Background()
	sender := &captureSender{}
	p := NewOTPProvider(cache.NewMemoryStore(), sender, 5*time.Minute, 5, fixedCode("123456"))

	handle, err := p.IssueChallenge(ctx, "+15551234567")
	require.NoError(t, err)
	assert.NotEmpty(t, handle)
	assert.Equal(t, "+15551234567", sender.phone)
	assert.Contains(t, sender.text, "123456")

	err = p.Confirm(ctx, handle, "000000")
	assert.ErrorIs(t, err, ErrRejected)

	require.NoError(t, p.Confirm(ctx, handle, "123456"))

	// a confirmed challenge cannot be replayed
	assert.ErrorIs(t, p.Confirm(ctx, handle, "123456"), ErrRejected)
}

func TestOTPProvider_MaxAttempts(t *testing.T) {
	ctx := context.Background()
	p := NewOTPProvider(cache.NewMemoryStore(), &captureSender{}, 5*time.Minute, 2, fixedCode("123456"))

	handle, err := p.IssueChallenge(ctx, "+15551234567")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, p.Confirm(ctx, handle, "999999"), ErrRejected)
	}
	err = p.Confirm(ctx, handle, "123456")
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "too many attempts")
}

func TestOTPProvider_Expired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	p := NewOTPProvider(cache.NewMemoryStore(), &captureSender{}, time.Minute, 5, fixedCode("123456"), WithClock(clock))

	handle, err := p.IssueChallenge(ctx, "+15551234567")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	err = p.Confirm(ctx, handle, "123456")
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "expired")
}

func TestOTPProvider_SendFailure(t *testing.T) {
	sender := &captureSender{err: errors.New("gateway down")}
	p := NewOTPProvider(cache.NewMemoryStore(), sender, time.Minute, 5)

	_, err := p.IssueChallenge(context.Background(), "+15551234567")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "gateway down")
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, CodeLength)
		assert.Empty(t, strings.Trim(code, "0123456789"))
	}
}

func TestNewMailerSendSMS_RequiresConfig(t *testing.T) {
	_, err := NewMailerSendSMS("", "+1555")
	assert.Error(t, err)
	s, err := NewMailerSendSMS("key", "+1555")
	require.NoError(t, err)
	assert.NotNil(t, s)
}
