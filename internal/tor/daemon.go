package tor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/tornago"
)

// DefaultTorBinary is looked up in PATH when no binary is configured.
const DefaultTorBinary = "tor"

const (
	// bootstrapPhaseKey is the GETINFO key reporting bootstrap progress.
	bootstrapPhaseKey = "status/bootstrap-phase"

	defaultBootstrapPoll = 500 * time.Millisecond
	defaultExitPoll      = 2 * time.Second

	// maxLogProblems caps the warning lines kept for error messages.
	maxLogProblems = 3
)

// startFunc has the signature of tornago.StartTorDaemon.
type startFunc func(tornago.TorLaunchConfig) (*tornago.TorProcess, error)

// DaemonLauncher starts tor through tornago's daemon manager.
//
// tornago owns the child process. It resolves the binary, writes the
// listener and cookie options and kills the process when the start fails.
// The session configuration is handed over as the data directory plus
// extra arguments for everything tornago does not set itself (ExitRelay,
// ExitNodes, StrictNodes).
//
// StartTorDaemon returns as soon as both ports accept connections, which
// is before tor has built a single circuit. Launch therefore polls
// GETINFO status/bootstrap-phase on the control port until PROGRESS=100.
// Tor's own log lines are forwarded at debug level, and an [err] line
// aborts the launch without waiting for the startup timeout.
type DaemonLauncher struct {
	binary       string
	start        startFunc
	pollInterval time.Duration
	exitInterval time.Duration
}

// NewDaemonLauncher returns a launcher for binary, or DefaultTorBinary if empty.
func NewDaemonLauncher(binary string) *DaemonLauncher {
	if binary == "" {
		binary = DefaultTorBinary
	}
	return &DaemonLauncher{
		binary:       binary,
		start:        tornago.StartTorDaemon,
		pollInterval: defaultBootstrapPoll,
		exitInterval: defaultExitPoll,
	}
}

// Binary returns the configured tor binary.
func (l *DaemonLauncher) Binary() string {
	return l.binary
}

// Launch starts tor and blocks until it reports full bootstrap.
// It fails if the binary is missing, tor logs a fatal error (for example
// because a port is already bound), the startup timeout elapses or ctx
// is cancelled. No process is left running on failure.
func (l *DaemonLauncher) Launch(ctx context.Context, cfg LaunchConfig) (Process, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}
	deadline := time.Now().Add(timeout)

	logs := newTorLog(logger)
	launchCfg, err := tornago.NewTorLaunchConfig(l.launchOptions(cfg, timeout, logs, logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tor launch config: %w", err)
	}

	proc, err := l.startDaemon(ctx, launchCfg, logs)
	if err != nil {
		return nil, err
	}

	p := newDaemonProcess(proc, cfg.Torrc)
	if err := l.waitBootstrap(ctx, p, deadline, logs, logger); err != nil {
		_ = p.Kill() //nolint:errcheck // best effort cleanup
		return nil, err
	}
	logger.Debug("tor process bootstrapped", "pid", proc.PID(), "binary", l.binary)

	go p.watch(l.exitInterval)
	return p, nil
}

// launchOptions translates cfg into tornago launch options.
func (l *DaemonLauncher) launchOptions(cfg LaunchConfig, timeout time.Duration, logs *torLog, logger *slog.Logger) []tornago.TorLaunchOption {
	opts := []tornago.TorLaunchOption{
		tornago.WithTorBinary(l.binary),
		tornago.WithTorSocksAddr(loopbackAddr(cfg.Torrc[torrcSOCKSPort])),
		tornago.WithTorControlAddr(loopbackAddr(cfg.Torrc[torrcControlPort])),
		tornago.WithTorExtraArgs(cfg.Torrc.ExtraArgs()...),
		tornago.WithTorStartupTimeout(timeout),
		tornago.WithTorLogReporter(logs.report),
		tornago.WithTorLogger(tornago.NewSlogAdapter(logger)),
	}
	// An empty path would be cleaned to "." and put tor's state in the cwd.
	if dir := cfg.Torrc.DataDirectory(); dir != "" {
		opts = append(opts, tornago.WithTorDataDir(dir))
	}
	return opts
}

// startDaemon runs StartTorDaemon so that ctx and fatal tor log lines can
// interrupt the wait. StartTorDaemon itself cannot be interrupted, so an
// abandoned start is reaped in the background.
func (l *DaemonLauncher) startDaemon(ctx context.Context, cfg tornago.TorLaunchConfig, logs *torLog) (*tornago.TorProcess, error) {
	type result struct {
		proc *tornago.TorProcess
		err  error
	}
	done := make(chan result, 1)
	go func() {
		proc, err := l.start(cfg)
		done <- result{proc: proc, err: err}
	}()

	var abort error
	select {
	case r := <-done:
		if r.err != nil {
			return nil, startError(r.err, logs)
		}
		return r.proc, nil
	case <-ctx.Done():
		abort = ctx.Err()
	case <-logs.failed:
		abort = fmt.Errorf("%w during bootstrap: %s", ErrProcessExited, logs.problem())
	}

	go func() {
		if r := <-done; r.proc != nil {
			_ = r.proc.Stop() //nolint:errcheck // launch already failed
		}
	}()
	return nil, abort
}

// startError maps a StartTorDaemon failure onto session errors.
func startError(err error, logs *torLog) error {
	if problem := logs.problem(); problem != "" {
		return fmt.Errorf("%w during bootstrap: %s", ErrProcessExited, problem)
	}
	if errors.Is(err, &tornago.TornagoError{Kind: tornago.ErrTimeout}) {
		return fmt.Errorf("%w: %w", ErrBootstrapTimeout, err)
	}
	return fmt.Errorf("failed to start tor daemon: %w", err)
}

// waitBootstrap polls the bootstrap phase until tor reports 100%.
// A refused control connection means tor has exited, because its ports
// were reachable when StartTorDaemon returned.
func (l *DaemonLauncher) waitBootstrap(ctx context.Context, p *daemonProcess, deadline time.Time, logs *torLog, logger *slog.Logger) error {
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var ctrl *tornago.ControlClient
	defer func() {
		if ctrl != nil {
			_ = ctrl.Close() //nolint:errcheck // status connection only
		}
	}()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	last := -1
	for {
		if ctrl == nil {
			c, err := tornago.NewControlClient(p.controlAddr, tornago.ControlAuthFromCookie(p.cookiePath), l.pollInterval*4)
			switch {
			case isConnectionRefused(err):
				return fmt.Errorf("%w during bootstrap: %s", ErrProcessExited, orDefault(logs.problem(), "control port closed"))
			case err != nil:
				logger.Debug("control port not ready", "error", err)
			default:
				ctrl = c
			}
		}

		if ctrl != nil {
			status, err := ctrl.GetInfo(waitCtx, bootstrapPhaseKey)
			if err != nil {
				logger.Debug("bootstrap status unavailable", "error", err)
				_ = ctrl.Close() //nolint:errcheck // reconnect on next round
				ctrl = nil
			} else if progress, ok := parseBootstrapProgress(status); ok {
				if progress >= 100 {
					return nil
				}
				if progress != last {
					logger.Debug("tor bootstrap progress", "progress", progress)
					last = progress
				}
			}
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w (last progress %d%%)", ErrBootstrapTimeout, max(last, 0))
		case <-logs.failed:
			return fmt.Errorf("%w during bootstrap: %s", ErrProcessExited, logs.problem())
		case <-ticker.C:
		}
	}
}

// parseBootstrapProgress extracts PROGRESS from a bootstrap-phase status
// such as `NOTICE BOOTSTRAP PROGRESS=85 TAG=ap_conn_done SUMMARY="..."`.
func parseBootstrapProgress(status string) (int, bool) {
	for _, field := range strings.Fields(status) {
		v, ok := strings.CutPrefix(field, "PROGRESS=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// torLog receives tor's stdout through tornago's log reporter.
// Lines are forwarded at debug level; warnings and errors are kept for
// error messages and an [err] line closes failed.
type torLog struct {
	logger *slog.Logger

	mu       sync.Mutex
	problems []string
	failOnce sync.Once
	failed   chan struct{}
}

func newTorLog(logger *slog.Logger) *torLog {
	return &torLog{logger: logger, failed: make(chan struct{})}
}

func (t *torLog) report(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.logger.Debug("tor", "line", line)

	isErr := strings.Contains(line, "[err]")
	if !isErr && !strings.Contains(line, "[warn]") {
		return
	}

	t.mu.Lock()
	if len(t.problems) < maxLogProblems {
		t.problems = append(t.problems, line)
	}
	t.mu.Unlock()

	if isErr {
		t.failOnce.Do(func() { close(t.failed) })
	}
}

// problem returns the collected warning and error lines.
func (t *torLog) problem() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.problems, "; ")
}

type daemonProcess struct {
	proc        *tornago.TorProcess
	socksAddr   string
	controlAddr string
	cookiePath  string

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

func newDaemonProcess(proc *tornago.TorProcess, torrc TorConfig) *daemonProcess {
	return &daemonProcess{
		proc:        proc,
		socksAddr:   loopbackAddr(torrc[torrcSOCKSPort]),
		controlAddr: loopbackAddr(torrc[torrcControlPort]),
		cookiePath:  filepath.Join(torrc.DataDirectory(), controlCookieFile),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (p *daemonProcess) SocksAddr() string     { return p.socksAddr }
func (p *daemonProcess) ControlAddr() string   { return p.controlAddr }
func (p *daemonProcess) CookiePath() string    { return p.cookiePath }
func (p *daemonProcess) Done() <-chan struct{} { return p.done }

// watch closes done once the control port stops accepting connections
// twice in a row. tornago keeps the exec.Cmd to itself, so the listener
// is the only exit signal available.
func (p *daemonProcess) watch(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		conn, err := net.DialTimeout("tcp", p.controlAddr, interval)
		if err != nil {
			misses++
			if misses >= 2 {
				p.markDone()
				return
			}
			continue
		}
		_ = conn.Close() //nolint:errcheck // liveness check only
		misses = 0
	}
}

func (p *daemonProcess) markDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

// Kill stops the daemon through tornago and waits for it to be reaped.
func (p *daemonProcess) Kill() error {
	p.stopOnce.Do(func() { close(p.stop) })
	defer p.markDone()

	err := p.proc.Stop()
	// Stop reports the exit status of the killed process; that is expected.
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return fmt.Errorf("failed to stop tor daemon: %w", err)
}
