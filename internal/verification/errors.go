package verification

import (
	"errors"

	"github.com/diagnosis/railwatch/internal/captcha"
)

var (
	ErrVerificationInProgress = errors.New("a verification is already in progress")
	ErrNoSession              = errors.New("verification session not found")
	ErrWrongPhase             = errors.New("action not available in the current verification step")
	ErrRequestPending         = errors.New("a request for this verification is still pending")

	ErrInvalidPhoneNumber = errors.New("please enter a valid phone number with country code (e.g., +1234567890)")
	ErrInvalidCode        = errors.New("please enter a valid 6-digit OTP")
	ErrNoActiveChallenge  = errors.New("no active challenge, send an OTP first")

	ErrChallengeIssuance       = errors.New("failed to send OTP")
	ErrCodeRejected            = errors.New("failed to verify OTP")
	ErrVerificationUnavailable = errors.New("verification provider unavailable")

	// ErrStaleContext is returned when a provider call completes after its
	// session was torn down or replaced. Callers discard it.
	ErrStaleContext = errors.New("verification session is no longer active")
)

// ValidationError is a locally correctable input problem.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// ProviderError reports a failed call to the identity provider or the
// proof-of-work widget. Widget is set when a fresh challenge was issued.
type ProviderError struct {
	Kind   error
	Cause  error
	Widget *captcha.Challenge
}

func (e *ProviderError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Cause.Error()
}

func (e *ProviderError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Message is the provider's own description, suitable for showing verbatim.
func (e *ProviderError) Message() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return e.Cause.Error()
}
