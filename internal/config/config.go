package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// DefaultSocksPort is the first SOCKS port; instance i uses DefaultSocksPort+2i.
	DefaultSocksPort = 9050

	// DefaultControlPort is the first control port; instance i uses DefaultControlPort+2i.
	DefaultControlPort = 9051

	// DefaultIPEchoURL answers with the caller's address as plain text.
	DefaultIPEchoURL = "http://icanhazip.com/"

	// DefaultRenewAttempts bounds NEWNYM attempts per renewal.
	DefaultRenewAttempts = 10

	// DefaultRenewDelay is the wait between NEWNYM and the next IP check.
	// Tor rate-limits NEWNYM, so going much lower only burns attempts.
	DefaultRenewDelay = 1 * time.Second

	// DefaultRenewMaxElapsed bounds the wall time of one renewal.
	DefaultRenewMaxElapsed = 2 * time.Minute

	// DefaultTorStartupTimeout bounds bootstrap to 100%.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultRequestTimeout bounds each IP-echo request.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultTorBinary is looked up in PATH.
	DefaultTorBinary = "tor"

	// DefaultCount is the number of renewals per instance.
	DefaultCount = 3

	// DefaultInstances is the number of concurrent Tor processes.
	DefaultInstances = 1

	// AppName is the application name used for XDG directory paths.
	AppName = "torrotate"

	maxPort = 65535
)

// Config holds the options of the rotate command.
//
// It is populated in three layers: NewConfig sets the defaults, a YAML
// File found by FindConfigFile overrides the fields it sets, and CLI flags
// that were given explicitly override both. Validate runs once on the
// merged result.
//
// Instance i uses the port pair returned by PortPair, so Instances
// sessions never share a port. Renewal is bounded by RenewAttempts and,
// when non-zero, RenewMaxElapsed.
type Config struct {
	// SocksPort and ControlPort are the ports of the first instance.
	SocksPort   int
	ControlPort int

	// ExitNodes is a torrc ExitNodes value such as "{us},{de}". Empty means any exit.
	ExitNodes string

	// IPEchoURL is fetched to learn the current exit address.
	IPEchoURL string

	// HTTPProxy, when set, is an HTTP proxy URL used instead of the SOCKS port
	// (e.g. a privoxy in front of tor at http://127.0.0.1:8118).
	HTTPProxy string

	RenewAttempts   int
	RenewDelay      time.Duration
	RenewMaxElapsed time.Duration

	TorStartupTimeout time.Duration
	RequestTimeout    time.Duration

	// TorBinary is the tor executable tornago starts.
	TorBinary string

	// Count is how many times each instance renews its address.
	Count int

	// Instances is how many Tor processes run side by side.
	Instances int

	// Save records observed addresses in the IP log under DBDir.
	Save  bool
	DBDir string

	Verbose bool

	// JSONLog switches log output to JSON.
	JSONLog bool

	// JSONReport and MarkdownReport select the report format; plain text
	// when neither is set.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile receives the report instead of stdout.
	ReportFile string

	// ConfigFilePath is the --config value; empty means search for .torrotate.
	ConfigFilePath string
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		SocksPort:         DefaultSocksPort,
		ControlPort:       DefaultControlPort,
		IPEchoURL:         DefaultIPEchoURL,
		RenewAttempts:     DefaultRenewAttempts,
		RenewDelay:        DefaultRenewDelay,
		RenewMaxElapsed:   DefaultRenewMaxElapsed,
		TorStartupTimeout: DefaultTorStartupTimeout,
		RequestTimeout:    DefaultRequestTimeout,
		TorBinary:         DefaultTorBinary,
		Count:             DefaultCount,
		Instances:         DefaultInstances,
		DBDir:             XDGDataDir(),
	}
}

// XDGDataDir returns the data directory holding the IP log.
// On Linux: ~/.local/share/torrotate
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the configuration directory.
// On Linux: ~/.config/torrotate
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// PortPair returns the SOCKS and control ports of instance i.
// Instances take consecutive pairs: 9050/9051, 9052/9053, ...
func (c *Config) PortPair(i int) (socks, control int) {
	return c.SocksPort + 2*i, c.ControlPort + 2*i
}

// Validate returns the first invalid setting found.
func (c *Config) Validate() error {
	if c.Instances <= 0 {
		return ErrInvalidInstances
	}

	lastSocks, lastControl := c.PortPair(c.Instances - 1)
	if c.SocksPort <= 0 || lastSocks > maxPort || c.ControlPort <= 0 || lastControl > maxPort {
		return ErrInvalidPort
	}
	if c.SocksPort == c.ControlPort {
		return ErrPortConflict
	}
	// Pairs overlap when the two bases differ by an even offset below the
	// span of all instances.
	if diff := c.SocksPort - c.ControlPort; diff%2 == 0 && abs(diff) < 2*c.Instances {
		return ErrPortConflict
	}

	if c.Count < 0 {
		return ErrInvalidCount
	}
	if c.RenewAttempts <= 0 {
		return ErrInvalidRenewAttempts
	}
	if c.RenewDelay < 0 || c.RenewMaxElapsed < 0 {
		return ErrInvalidRenewDelay
	}
	if c.TorStartupTimeout <= 0 || c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.IPEchoURL == "" {
		return ErrNoIPEchoURL
	}
	if c.HTTPProxy != "" && c.Instances > 1 {
		return ErrHTTPProxyInstances
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.TorBinary == "" {
		return ErrNoTorBinary
	}
	if c.Save && c.DBDir == "" {
		return ErrNoDBDir
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
