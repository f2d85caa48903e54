package voice

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means the user has no usable voice/telephony
	// credentials; provider setup must be completed before dialing.
	ErrUnauthenticated = errors.New("voice provider credentials missing or rejected")
	// ErrProviderRejected is a per-call refusal (bad number, quota). The
	// lead fails; the job continues.
	ErrProviderRejected = errors.New("voice provider rejected the call")
	// ErrProviderUnavailable is an outage or network failure. Fatal to the
	// job once retries are exhausted.
	ErrProviderUnavailable = errors.New("voice provider unavailable")
	// ErrProviderTimeout is never retried: the call may already be placed.
	ErrProviderTimeout = fmt.Errorf("%w: request timed out", ErrProviderUnavailable)

	errTransient = errors.New("request did not reach the provider")
)

// Transient wraps err as an unavailability that is known not to have placed
// a call, so it is safe to retry.
func Transient(err error) error {
	return fmt.Errorf("%w: %w: %v", ErrProviderUnavailable, errTransient, err)
}

// IsTransient reports whether err may be retried without double-dialing.
func IsTransient(err error) bool {
	return errors.Is(err, errTransient)
}
