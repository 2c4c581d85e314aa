package bridge

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected indicates the provider session is not in the ready state.
	ErrNotConnected = errors.New("provider not connected")
	// ErrInvalidCredential indicates the provider rejected the submitted credential.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrSecondFactorRequired indicates the login flow needs a second factor to proceed.
	ErrSecondFactorRequired = errors.New("second factor required")
	// ErrRateLimited indicates a transient provider rate limit; retry with backoff.
	ErrRateLimited = errors.New("rate limited")
	// ErrEntityNotResolved indicates a contact/channel/user id could not be resolved.
	ErrEntityNotResolved = errors.New("entity not resolved")
	// ErrMediaNotFound indicates the referenced message carries no retrievable media.
	ErrMediaNotFound = errors.New("media not found")
	// ErrRangeNotSatisfiable indicates a malformed or out-of-bounds byte range.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	// ErrPermissionDenied indicates the provider refused the mutation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrPushUnsupported indicates the adapter has no push channel and must be polled.
	ErrPushUnsupported = errors.New("push subscription not supported")
)

// RateLimitError carries the provider's retry hint. It matches ErrRateLimited
// under errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// ProviderError wraps an unmapped provider-transport failure with enough
// detail to log and render. Mapped taxonomy errors pass through untouched.
type ProviderError struct {
	Provider ProviderID
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapProvider wraps err as a ProviderError unless it already belongs to the
// taxonomy, in which case it is returned as-is.
func WrapProvider(provider ProviderID, op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrNotConnected, ErrInvalidCredential, ErrSecondFactorRequired,
		ErrRateLimited, ErrEntityNotResolved, ErrMediaNotFound,
		ErrRangeNotSatisfiable, ErrPermissionDenied, ErrPushUnsupported,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}
