package tor

import (
	"errors"
	"fmt"
	"time"
)

// Session errors.
// Startup failures are returned as-is from Launch and never retried.
var (
	// ErrInvalidExitNodes is returned when the exit-node filter is not a
	// set of two-letter country codes such as "{us},{de}".
	ErrInvalidExitNodes = errors.New("invalid exit nodes: expected country codes like '{us},{de}'")

	// ErrInvalidPort is returned when a SOCKS or control port is outside 1-65535.
	ErrInvalidPort = errors.New("invalid port: must be between 1 and 65535")

	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("tor session is closed")

	// ErrNotLaunched is returned when an operation needs a running Tor process.
	ErrNotLaunched = errors.New("tor process is not launched")

	// ErrAlreadyLaunched is returned when Launch is called twice without Restart.
	ErrAlreadyLaunched = errors.New("tor process is already launched")

	// ErrProcessExited is returned when the Tor process exited while the
	// session still depended on it.
	ErrProcessExited = errors.New("tor process exited unexpectedly")

	// ErrBootstrapTimeout is returned when Tor does not report 100% bootstrap
	// within the startup timeout.
	ErrBootstrapTimeout = errors.New("timeout waiting for tor to bootstrap")

	// ErrRenewExhausted is wrapped by RenewExhaustedError.
	ErrRenewExhausted = errors.New("exhausted attempts to renew ip address")

	// ErrInvalidProxyAddress is returned when a proxy address is not "host:port".
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")
)

// SignalError reports a failure to deliver SIGNAL NEWNYM.
// Retryable failures are logged by RenewIP and the loop continues;
// anything else aborts the renewal.
type SignalError struct {
	Retryable bool
	Err       error
}

// Error implements error.
func (e *SignalError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("transient failure sending NEWNYM: %v", e.Err)
	}
	return fmt.Sprintf("failed to send NEWNYM: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *SignalError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a SignalError marked retryable.
func IsRetryable(err error) bool {
	var se *SignalError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// RenewExhaustedError is returned by RenewIP when the retry policy ran out
// before the exit address changed.
type RenewExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	LastIP   string
}

// Error implements error.
func (e *RenewExhaustedError) Error() string {
	return fmt.Sprintf("%v: ip stayed %q after %d attempts (%s)",
		ErrRenewExhausted, e.LastIP, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

// Unwrap lets errors.Is match ErrRenewExhausted.
func (e *RenewExhaustedError) Unwrap() error {
	return ErrRenewExhausted
}
