package tor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"
)

// DefaultRequestTimeout bounds every IP echo request.
const DefaultRequestTimeout = 30 * time.Second

// State is the lifecycle state of a Session.
type State int

const (
	// StateUnlaunched is the state after NewSession and during Restart.
	StateUnlaunched State = iota

	// StateLaunched means a bootstrapped process and control channel exist.
	StateLaunched

	// StateRenewing is held for the duration of RenewIP.
	StateRenewing

	// StateTerminated is reached through Close and never left.
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnlaunched:
		return "unlaunched"
	case StateLaunched:
		return "launched"
	case StateRenewing:
		return "renewing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session owns one tor process, its control channel and a private working
// directory. It is meant for a single caller; every operation blocks.
//
// A Session moves through the states Created, Launched, Renewing and
// Terminated. NewSession records the direct (untunnelled) baseline address
// and creates the working directory; Launch writes the torrc, starts tor
// through the configured Launcher and authenticates on the control port
// with the cookie tor writes into that directory. Restart tears the process
// down and launches a fresh one with a new exit filter, keeping the session.
//
// Addresses are read through tor from an IP echo service. CurrentIP and
// RenewIP append every address they see to an ordered history, available
// from UsedIPs. A proxy that refuses connections is an absent value rather
// than an error, so callers can tell "tor is not ready" from a broken echo
// service.
//
// If the tor process dies on its own the session notices through the
// Process done channel and every later operation fails with
// ErrProcessExited.
//
// Always call Close: it kills the process, closes the control channel and
// removes the working directory, also when Launch was never called or failed.
type Session struct {
	socksPort   int
	controlPort int
	workDir     string

	logger         *slog.Logger
	launcher       Launcher
	dialControl    ControlDialer
	ipEchoURL      string
	httpProxy      string
	directClient   *http.Client
	proxyClient    *http.Client
	policy         RetryPolicy
	startupTimeout time.Duration
	requestTimeout time.Duration
	workDirParent  string

	// lifecycle serializes Launch, Restart and Close.
	lifecycle sync.Mutex

	// mu guards the fields below.
	mu         sync.Mutex
	state      State
	process    Process
	control    ControlChannel
	exited     bool
	exitNodes  ExitNodes
	history    *IPHistory
	baselineIP string

	// lastIP is the most recent address seen through tor.
	lastIP string

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLauncher sets how tor is started. The default runs the tor binary.
func WithLauncher(l Launcher) Option {
	return func(s *Session) {
		if l != nil {
			s.launcher = l
		}
	}
}

// WithControlDialer replaces the control port dialer.
func WithControlDialer(d ControlDialer) Option {
	return func(s *Session) {
		if d != nil {
			s.dialControl = d
		}
	}
}

// WithIPEchoURL sets the service queried for the current address.
func WithIPEchoURL(u string) Option {
	return func(s *Session) {
		if u != "" {
			s.ipEchoURL = u
		}
	}
}

// WithHTTPProxy routes IP checks through an HTTP proxy front-end such as
// privoxy ("http://127.0.0.1:8118") instead of the SOCKS port.
func WithHTTPProxy(proxyURL string) Option {
	return func(s *Session) {
		s.httpProxy = proxyURL
	}
}

// WithDirectClient sets the unproxied client used for the baseline IP.
func WithDirectClient(c *http.Client) Option {
	return func(s *Session) {
		s.directClient = c
	}
}

// WithRetryPolicy bounds RenewIP.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Session) {
		s.policy = p.normalized()
	}
}

// WithStartupTimeout bounds the wait for tor to bootstrap.
func WithStartupTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.startupTimeout = d
		}
	}
}

// WithRequestTimeout bounds each IP echo request and control exchange.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithWorkDirParent sets where the working directory is created.
// The default is os.TempDir().
func WithWorkDirParent(dir string) Option {
	return func(s *Session) {
		s.workDirParent = dir
	}
}

// NewSession allocates a working directory and records the baseline IP
// seen without tor. A failed baseline lookup is logged and leaves
// BaselineIP empty; a cancelled ctx aborts construction.
func NewSession(ctx context.Context, socksPort, controlPort int, opts ...Option) (*Session, error) {
	if !validPort(socksPort) || !validPort(controlPort) {
		return nil, ErrInvalidPort
	}
	if socksPort == controlPort {
		return nil, fmt.Errorf("%w: socks and control port are both %d", ErrInvalidPort, socksPort)
	}

	s := &Session{
		socksPort:      socksPort,
		controlPort:    controlPort,
		logger:         slog.Default(),
		launcher:       NewDaemonLauncher(DefaultTorBinary),
		dialControl:    DialControl,
		ipEchoURL:      DefaultIPEchoURL,
		policy:         DefaultRetryPolicy(),
		startupTimeout: DefaultStartupTimeout,
		requestTimeout: DefaultRequestTimeout,
		history:        NewIPHistory(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("socksPort", socksPort)

	if s.directClient == nil {
		s.directClient = &http.Client{
			Timeout:   s.requestTimeout,
			Transport: &http.Transport{Proxy: nil, DisableKeepAlives: true},
		}
	}
	proxyClient, err := s.newProxyClient()
	if err != nil {
		return nil, err
	}
	s.proxyClient = proxyClient

	workDir, err := os.MkdirTemp(s.workDirParent, "torrotate-")
	if err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	s.workDir = workDir

	baseline, err := fetchIP(ctx, s.directClient, s.ipEchoURL)
	switch {
	case err == nil:
		s.baselineIP = baseline
		s.logger.Debug("baseline ip recorded", "ip", baseline)
	case ctx.Err() != nil:
		_ = os.RemoveAll(workDir) //nolint:errcheck // construction already failed
		return nil, ctx.Err()
	default:
		s.logger.Warn("failed to fetch baseline ip", "error", err)
	}

	return s, nil
}

func (s *Session) newProxyClient() (*http.Client, error) {
	if s.httpProxy == "" {
		c, err := NewClient(loopbackAddr(strconv.Itoa(s.socksPort)), s.requestTimeout)
		if err != nil {
			return nil, err
		}
		return c.NewHTTPClient(), nil
	}

	u, err := url.Parse(s.httpProxy)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProxyAddress, s.httpProxy)
	}
	return &http.Client{
		Timeout: s.requestTimeout,
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(u),
			DisableKeepAlives: true,
		},
	}, nil
}

// Launch validates exitNodes, starts tor with the session configuration,
// waits for bootstrap and opens the authenticated control channel.
// exitNodes may be empty; otherwise see ParseExitNodes. Invalid filters
// are rejected before any process is started. Nothing is retried.
func (s *Session) Launch(ctx context.Context, exitNodes string) error {
	nodes, err := ParseExitNodes(exitNodes)
	if err != nil {
		return err
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	switch {
	case s.state == StateTerminated:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.process != nil:
		s.mu.Unlock()
		return ErrAlreadyLaunched
	}
	s.mu.Unlock()

	return s.launchLocked(ctx, nodes)
}

// launchLocked requires s.lifecycle to be held and no process to be live.
func (s *Session) launchLocked(ctx context.Context, nodes ExitNodes) error {
	torrc, err := NewTorConfig(s.socksPort, s.controlPort, s.workDir, nodes)
	if err != nil {
		return err
	}

	if nodes.IsEmpty() {
		s.logger.Info("starting tor process with default configuration")
	} else {
		s.logger.Info("starting tor process with exit nodes",
			"exitNodes", torrc.ExitNodes(),
			"countries", nodes.Names(),
		)
	}

	proc, err := s.launcher.Launch(ctx, LaunchConfig{
		Torrc:          torrc,
		StartupTimeout: s.startupTimeout,
		Logger:         s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to launch tor: %w", err)
	}

	ctrl, err := s.dialControl(ctx, proc.ControlAddr(), proc.CookiePath(), s.requestTimeout)
	if err != nil {
		if killErr := proc.Kill(); killErr != nil {
			s.logger.Error("failed to kill tor after control failure", "error", killErr)
		}
		return fmt.Errorf("failed to open control channel: %w", err)
	}

	s.mu.Lock()
	s.process = proc
	s.control = ctrl
	s.exited = false
	s.exitNodes = nodes
	s.state = StateLaunched
	s.mu.Unlock()

	go s.watch(proc)

	s.logger.Info("tor process launched", "controlAddr", proc.ControlAddr())
	return nil
}

// watch marks the session when proc exits while it is still the live process.
func (s *Session) watch(proc Process) {
	done := proc.Done()
	if done == nil {
		return
	}
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.process != proc {
		// killed on purpose by Restart or Close
		return
	}
	s.exited = true
	s.logger.Error("tor process exited unexpectedly")
}

// Restart kills the current process, forgets the observed addresses and
// launches again. The filter is validated before anything is killed.
func (s *Session) Restart(ctx context.Context, exitNodes string) error {
	nodes, err := ParseExitNodes(exitNodes)
	if err != nil {
		return err
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	proc, ctrl := s.detachLocked()
	s.history.Reset()
	s.lastIP = ""
	s.state = StateUnlaunched
	s.mu.Unlock()

	s.logger.Info("restarting tor process")
	if err := teardown(proc, ctrl); err != nil {
		s.logger.Warn("error while stopping tor for restart", "error", err)
	}

	return s.launchLocked(ctx, nodes)
}

// detachLocked takes ownership of the live process and channel.
// The caller must hold s.mu.
func (s *Session) detachLocked() (Process, ControlChannel) {
	proc, ctrl := s.process, s.control
	s.process = nil
	s.control = nil
	s.exited = false
	return proc, ctrl
}

func teardown(proc Process, ctrl ControlChannel) error {
	var errs []error
	if ctrl != nil {
		if err := ctrl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close control channel: %w", err))
		}
	}
	if proc != nil {
		if err := proc.Kill(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CurrentIP returns the address the echo service sees through tor and
// records it in the history.
//
// If the local proxy refuses the connection the failure is logged and
// CurrentIP returns ("", false, nil). Other failures are returned.
func (s *Session) CurrentIP(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	err := s.usableLocked(false)
	s.mu.Unlock()
	if err != nil {
		return "", false, err
	}

	ip, err := fetchIP(ctx, s.proxyClient, s.ipEchoURL)
	if err != nil {
		if isConnectionRefused(err) {
			s.logger.Error("proxy refused connection", "error", err)
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to fetch current ip: %w", err)
	}

	s.mu.Lock()
	s.history.Add(ip)
	s.lastIP = ip
	s.mu.Unlock()
	return ip, true, nil
}

// usableLocked reports why the session cannot serve a request.
// needLaunched additionally requires a live process. Caller holds s.mu.
func (s *Session) usableLocked(needLaunched bool) error {
	switch {
	case s.state == StateTerminated:
		return ErrSessionClosed
	case s.exited:
		return ErrProcessExited
	case needLaunched && s.process == nil:
		return ErrNotLaunched
	}
	return nil
}

// RenewIP requests new circuits until the address seen by the echo service
// differs from the one observed before the call, and returns the new address.
//
// When the fetch at the start of the call comes back absent, the last
// address seen through tor is the reference instead; an absent fetch is
// never a change. Each round sends NEWNYM, waits the policy delay and
// re-fetches the IP.
// Retryable signal failures are logged and the round counts as an attempt;
// other failures abort. When the policy runs out a *RenewExhaustedError
// is returned.
func (s *Session) RenewIP(ctx context.Context) (string, error) {
	s.mu.Lock()
	if err := s.usableLocked(true); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.state = StateRenewing
	s.mu.Unlock()
	defer s.leaveRenewing()

	start := time.Now()
	prev, ok, err := s.CurrentIP(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		s.mu.Lock()
		prev = s.lastIP
		s.mu.Unlock()
	}

	for attempt := 1; ; attempt++ {
		if err := s.signalNewIdentity(ctx); err != nil {
			if !IsRetryable(err) {
				return "", err
			}
			s.logger.Warn("failed to request new circuit", "attempt", attempt, "error", err)
		}

		if err := sleepContext(ctx, s.policy.Delay); err != nil {
			return "", err
		}

		ip, ok, err := s.CurrentIP(ctx)
		if err != nil {
			return "", err
		}
		switch {
		case !ok:
		case prev == "":
			// Nothing observed before the call; this is the reference.
			prev = ip
		case ip != prev:
			s.logger.Info("renewed the ip address", "ip", ip, "attempts", attempt)
			return ip, nil
		}

		elapsed := time.Since(start)
		if s.policy.exhausted(attempt, elapsed) {
			return "", &RenewExhaustedError{Attempts: attempt, Elapsed: elapsed, LastIP: prev}
		}
	}
}

func (s *Session) leaveRenewing() {
	s.mu.Lock()
	if s.state == StateRenewing {
		s.state = StateLaunched
	}
	s.mu.Unlock()
}

func (s *Session) signalNewIdentity(ctx context.Context) error {
	s.mu.Lock()
	ctrl := s.control
	err := s.usableLocked(true)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return classifySignalError(ctrl.NewIdentity(ctx))
}

// Country asks tor's geoip database which country ip belongs to.
// Addresses tor cannot place yield the zero Country and a nil error.
func (s *Session) Country(ctx context.Context, ip string) (Country, error) {
	s.mu.Lock()
	ctrl := s.control
	err := s.usableLocked(true)
	s.mu.Unlock()
	if err != nil {
		return Country{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()
	code, err := ctrl.IPCountry(ctx, ip)
	if err != nil {
		return Country{}, fmt.Errorf("failed to look up country of %s: %w", ip, err)
	}
	return countryFromCode(code), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UsedIPs returns every distinct address observed since launch (or the
// last Restart), in first-observed order.
func (s *Session) UsedIPs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.List()
}

// BaselineIP returns the address observed without tor, or "" if unknown.
func (s *Session) BaselineIP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baselineIP
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ExitNodes returns the filter of the running process.
func (s *Session) ExitNodes() ExitNodes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitNodes
}

// WorkDir returns the session's private directory.
func (s *Session) WorkDir() string {
	return s.workDir
}

// SocksAddr returns the SOCKS5 address the session's tor listens on.
func (s *Session) SocksAddr() string {
	return loopbackAddr(strconv.Itoa(s.socksPort))
}

// ControlAddr returns the control port address.
func (s *Session) ControlAddr() string {
	return loopbackAddr(strconv.Itoa(s.controlPort))
}

// HTTPClient returns the client used for proxied IP checks, so callers
// can send their own requests through the session.
func (s *Session) HTTPClient() *http.Client {
	return s.proxyClient
}

// Close closes the control channel, kills tor and removes the working
// directory. It is safe to call more than once; later calls return the
// result of the first.
func (s *Session) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.closeOnce.Do(func() {
		s.mu.Lock()
		proc, ctrl := s.detachLocked()
		s.state = StateTerminated
		s.mu.Unlock()

		var errs []error
		if err := teardown(proc, ctrl); err != nil {
			errs = append(errs, err)
		}
		if err := os.RemoveAll(s.workDir); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove working directory: %w", err))
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Debug("tor session closed")
	})
	return s.closeErr
}
