package config

import "errors"

// Validation errors returned by Config.Validate.
var (
	// ErrInvalidPort is returned when a port of any instance falls outside 1-65535.
	ErrInvalidPort = errors.New("invalid port: must be between 1 and 65535 for every instance")

	// ErrPortConflict is returned when a SOCKS port of one instance equals a
	// control port of another (or the same) instance.
	ErrPortConflict = errors.New("port conflict: SOCKS and control ports overlap")

	// ErrInvalidInstances is returned when fewer than one instance is requested.
	ErrInvalidInstances = errors.New("invalid instances: must be positive")

	// ErrInvalidCount is returned for a negative renewal count.
	ErrInvalidCount = errors.New("invalid count: must be non-negative")

	// ErrInvalidRenewAttempts is returned when renewal attempts are not positive.
	ErrInvalidRenewAttempts = errors.New("invalid renew attempts: must be positive")

	// ErrInvalidRenewDelay is returned for a negative renewal delay or deadline.
	ErrInvalidRenewDelay = errors.New("invalid renew delay: must be non-negative")

	// ErrInvalidTimeout is returned when a startup or request timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrNoIPEchoURL is returned when the IP echo URL is empty.
	ErrNoIPEchoURL = errors.New("ip echo url is empty")

	// ErrHTTPProxyInstances is returned when an HTTP proxy is combined with
	// several instances; one proxy fronts a single tor.
	ErrHTTPProxyInstances = errors.New("an http proxy can only be used with a single instance")

	// ErrConflictingReportFormats is returned when both --json and --markdown are set.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrNoTorBinary is returned when no tor executable is configured.
	ErrNoTorBinary = errors.New("tor binary is empty")

	// ErrNoDBDir is returned when --save is set without a data directory.
	ErrNoDBDir = errors.New("database directory is empty")
)
