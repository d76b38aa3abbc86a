package tor

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// DefaultStartupTimeout is how long a launcher waits for "Bootstrapped 100%".
// Building the first circuits usually takes well under a minute, but a cold
// start without cached consensus can take several.
const DefaultStartupTimeout = 3 * time.Minute

// LaunchConfig is what a Launcher needs to start one tor process.
type LaunchConfig struct {
	// Torrc is the generated option map.
	Torrc TorConfig

	// StartupTimeout bounds the wait for bootstrap completion.
	StartupTimeout time.Duration

	// Logger receives bootstrap progress at debug level.
	Logger *slog.Logger
}

// Process is a bootstrapped tor daemon owned by a Session.
type Process interface {
	// SocksAddr returns the SOCKS5 listener in "host:port" form.
	SocksAddr() string

	// ControlAddr returns the control port listener in "host:port" form.
	ControlAddr() string

	// CookiePath returns the control auth cookie file.
	CookiePath() string

	// Done is closed when the process exits. A nil channel means the
	// launcher cannot observe exit.
	Done() <-chan struct{}

	// Kill terminates the process without a graceful shutdown and waits
	// for it to exit. Killing an exited process is not an error.
	Kill() error
}

// Launcher starts tor processes. Launch blocks until bootstrap completes
// and must not leave a running process behind when it returns an error.
type Launcher interface {
	Launch(ctx context.Context, cfg LaunchConfig) (Process, error)
}

// loopbackAddr returns the loopback address tor listens on for a port value.
func loopbackAddr(port string) string {
	return net.JoinHostPort("127.0.0.1", port)
}
