package tor

import "time"

// Renewal defaults.
const (
	// DefaultRenewDelay is the pause after NEWNYM before re-checking the IP.
	// Tor rate-limits NEWNYM, and new circuits need a moment to be used.
	DefaultRenewDelay = 1 * time.Second

	// DefaultRenewAttempts is the maximum number of NEWNYM/fetch rounds.
	DefaultRenewAttempts = 10

	// DefaultRenewMaxElapsed caps the total time spent in one RenewIP call.
	DefaultRenewMaxElapsed = 2 * time.Minute
)

// RetryPolicy bounds RenewIP. A zero field disables that bound, but at
// least one bound is always enforced: a policy with both fields zero
// falls back to DefaultRenewAttempts.
type RetryPolicy struct {
	// MaxAttempts is the number of signal/fetch rounds before giving up.
	MaxAttempts int

	// MaxElapsed is the wall-clock budget for one renewal.
	MaxElapsed time.Duration

	// Delay is the wait between sending NEWNYM and fetching the IP.
	Delay time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultRenewAttempts,
		MaxElapsed:  DefaultRenewMaxElapsed,
		Delay:       DefaultRenewDelay,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 && p.MaxElapsed <= 0 {
		p.MaxAttempts = DefaultRenewAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// exhausted reports whether another attempt is allowed after attempts
// rounds and elapsed time.
func (p RetryPolicy) exhausted(attempts int, elapsed time.Duration) bool {
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return true
	}
	if p.MaxElapsed > 0 && elapsed >= p.MaxElapsed {
		return true
	}
	return false
}
