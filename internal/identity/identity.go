// Package identity issues and confirms phone one-time codes.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/alexedwards/argon2id"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/diagnosis/railwatch/pkg/cache"
	"github.com/diagnosis/railwatch/pkg/logger"
)

// ErrRejected wraps every failure the user can fix by entering another code.
var ErrRejected = errors.New("verification code rejected")

// Provider is the identity provider boundary used by the verification workflow.
type Provider interface {
	IssueChallenge(ctx context.Context, phone string) (string, error)
	Confirm(ctx context.Context, handle, code string) error
}

// CodeLength is the number of digits in a one-time code.
const CodeLength = 6

type challengeRecord struct {
	Phone     string    `json:"phone"`
	CodeHash  string    `json:"code_hash"`
	Attempts  int       `json:"attempts"`
	ExpiresAt time.Time `json:"expires_at"`
}

type OTPProvider struct {
	store       cache.Store
	sender      Sender
	codeTTL     time.Duration
	maxAttempts int
	params      *argon2id.Params
	newCode     func() (string, error)
	now         func() time.Time
}

type Option func(*OTPProvider)

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(p *OTPProvider) { p.newCode = fn }
}

func WithClock(now func() time.Time) Option {
	return func(p *OTPProvider) { p.now = now }
}

// OTP codes live minutes, so hashing favours latency over memory hardness.
var codeHashParams = &argon2id.Params{
	Memory:      16 * 1024,
	Iterations:  1,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

func NewOTPProvider(store cache.Store, sender Sender, codeTTL time.Duration, maxAttempts int, opts ...Option) *OTPProvider {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	p := &OTPProvider{
		store:       store,
		sender:      sender,
		codeTTL:     codeTTL,
		maxAttempts: maxAttempts,
		params:      codeHashParams,
		newCode:     generateCode,
		now:         time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *OTPProvider) IssueChallenge(ctx context.Context, phone string) (string, error) {
	code, err := p.newCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	hash, err := argon2id.CreateHash(code, p.params)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}
	handle, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate challenge handle: %w", err)
	}

	rec := challengeRecord{Phone: phone, CodeHash: hash, ExpiresAt: p.now().Add(p.codeTTL)}
	if err := p.save(ctx, handle, rec); err != nil {
		return "", err
	}

	text := fmt.Sprintf("Your RailWatch verification code is %s. It expires in %d minutes.", code, int(p.codeTTL.Minutes()))
	if err := p.sender.Send(ctx, phone, text); err != nil {
		_ = p.store.Delete(ctx, challengeKey(handle))
		return "", fmt.Errorf("failed to deliver code: %w", err)
	}

	logger.InfoContext(ctx, "Verification code issued", "handle", handle)
	return handle, nil
}

func (p *OTPProvider) Confirm(ctx context.Context, handle, code string) error {
	raw, err := p.store.Get(ctx, challengeKey(handle))
	if errors.Is(err, cache.ErrMiss) {
		return fmt.Errorf("%w: code expired, request a new one", ErrRejected)
	}
	if err != nil {
		return fmt.Errorf("failed to load challenge: %w", err)
	}

	var rec challengeRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return fmt.Errorf("failed to decode challenge: %w", err)
	}
	if !p.now().Before(rec.ExpiresAt) {
		_ = p.store.Delete(ctx, challengeKey(handle))
		return fmt.Errorf("%w: code expired, request a new one", ErrRejected)
	}
	if rec.Attempts >= p.maxAttempts {
		_ = p.store.Delete(ctx, challengeKey(handle))
		return fmt.Errorf("%w: too many attempts, request a new code", ErrRejected)
	}

	match, err := argon2id.ComparePasswordAndHash(code, rec.CodeHash)
	if err != nil {
		return fmt.Errorf("failed to compare code: %w", err)
	}
	if !match {
		rec.Attempts++
		if err := p.save(ctx, handle, rec); err != nil {
			return err
		}
		return fmt.Errorf("%w: invalid verification code", ErrRejected)
	}

	return p.store.Delete(ctx, challengeKey(handle))
}

func (p *OTPProvider) save(ctx context.Context, handle string, rec challengeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}
	ttl := rec.ExpiresAt.Sub(p.now())
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := p.store.Set(ctx, challengeKey(handle), string(data), ttl); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

func challengeKey(handle string) string {
	return "otp:" + handle
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
