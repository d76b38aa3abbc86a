package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nao1215/torrotate/internal/config"
	"github.com/nao1215/torrotate/internal/database"
	"github.com/nao1215/torrotate/internal/report"
	"github.com/nao1215/torrotate/internal/tor"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewRotateCmd creates the rotate command.
func NewRotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Launch Tor and renew the exit address",
		Long: `Rotate launches Tor, then asks for a new circuit --count times, waiting each
time until the exit address actually changes. The addresses seen are printed
at the end and, with --save, appended to the IP log.

Several instances run side by side with --instances; instance N listens on
socks-port+2N and control-port+2N.

Examples:
  # Three renewals with any exit
  torrotate rotate

  # Exits in the US or Germany only, five renewals
  torrotate rotate --exit-nodes '{us},{de}' --count 5

  # Three tor processes at once, results saved
  torrotate rotate --instances 3 --save

  # Use a tor build outside PATH
  torrotate rotate --tor-binary /opt/tor/bin/tor`,
		Args: cobra.NoArgs,
		RunE: runRotateCmd,
	}

	cmd.Flags().Int("socks-port", config.DefaultSocksPort, "SOCKS port of the first instance")
	cmd.Flags().Int("control-port", config.DefaultControlPort, "Control port of the first instance")
	cmd.Flags().StringP("exit-nodes", "x", "", "Allowed exit countries in torrc form, e.g. '{us},{de}'")
	cmd.Flags().IntP("count", "n", config.DefaultCount, "Number of renewals per instance")
	cmd.Flags().IntP("instances", "i", config.DefaultInstances, "Number of tor processes to run concurrently")
	cmd.Flags().String("tor-binary", config.DefaultTorBinary, "tor executable")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout, "Timeout for tor bootstrap")
	cmd.Flags().Int("attempts", config.DefaultRenewAttempts, "NEWNYM attempts per renewal")
	cmd.Flags().Duration("delay", config.DefaultRenewDelay, "Wait between NEWNYM and the next address check")
	cmd.Flags().String("ip-echo-url", config.DefaultIPEchoURL, "Service returning the caller's address")
	cmd.Flags().String("http-proxy", "", "HTTP proxy in front of tor used for address checks (single instance)")
	cmd.Flags().BoolP("save", "s", false, "Append observed addresses to the IP log")
	cmd.Flags().String("db-dir", "", "Directory of the IP log (default: XDG data directory)")
	cmd.Flags().StringP("config", "c", "", "Configuration file path (default: .torrotate in current or home directory)")
	cmd.Flags().BoolP("json", "j", false, "Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "", "Write report to specified file path")

	return cmd
}

func runRotateCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose, cfg.JSONLog)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newRotator(cfg, logger)
	return r.run(ctx, cmd.OutOrStdout())
}

// buildConfig layers defaults, the configuration file and the flags the
// user actually set.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	cfg.ConfigFilePath, err = flags.GetString("config")
	if err != nil {
		return nil, err
	}
	if path := config.FindConfigFile(cfg.ConfigFilePath); path != "" {
		file, err := config.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		file.ApplyTo(cfg)
	} else if cfg.ConfigFilePath != "" {
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}

	intFlags := map[string]*int{
		"socks-port":   &cfg.SocksPort,
		"control-port": &cfg.ControlPort,
		"count":        &cfg.Count,
		"instances":    &cfg.Instances,
		"attempts":     &cfg.RenewAttempts,
	}
	for name, dst := range intFlags {
		if flags.Changed(name) {
			if *dst, err = flags.GetInt(name); err != nil {
				return nil, err
			}
		}
	}

	stringFlags := map[string]*string{
		"exit-nodes":  &cfg.ExitNodes,
		"tor-binary":  &cfg.TorBinary,
		"ip-echo-url": &cfg.IPEchoURL,
		"http-proxy":  &cfg.HTTPProxy,
		"db-dir":      &cfg.DBDir,
	}
	for name, dst := range stringFlags {
		if flags.Changed(name) {
			if *dst, err = flags.GetString(name); err != nil {
				return nil, err
			}
		}
	}

	durationFlags := map[string]*time.Duration{
		"tor-timeout": &cfg.TorStartupTimeout,
		"delay":       &cfg.RenewDelay,
	}
	for name, dst := range durationFlags {
		if flags.Changed(name) {
			if *dst, err = flags.GetDuration(name); err != nil {
				return nil, err
			}
		}
	}

	if cfg.Save, err = flags.GetBool("save"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return nil, err
	}

	cfg.Verbose = getBoolFlag(cmd, "verbose")
	cfg.JSONLog = getBoolFlag(cmd, "log-json")

	return cfg, nil
}

// rotator runs one Session per configured instance.
type rotator struct {
	cfg      *config.Config
	logger   *slog.Logger
	launcher tor.Launcher

	// sessionOptions are appended after the options derived from cfg.
	sessionOptions []tor.Option
}

func newRotator(cfg *config.Config, logger *slog.Logger) *rotator {
	return &rotator{cfg: cfg, logger: logger, launcher: tor.NewDaemonLauncher(cfg.TorBinary)}
}

// run rotates every instance concurrently, writes the report and saves the
// observations. An instance failure does not stop the others; the failures
// are joined into the returned error after the report is written.
func (r *rotator) run(ctx context.Context, stdout io.Writer) error {
	rotations := make([]*report.Rotation, r.cfg.Instances)
	var observations []database.Observation
	var mu sync.Mutex

	// Closures return nil so that one failing instance never cancels gctx
	// for the others; gctx still carries the caller's cancellation.
	g, gctx := errgroup.WithContext(ctx)
	for i := range r.cfg.Instances {
		g.Go(func() error {
			rotation, obs := r.rotateInstance(gctx, i)
			rotations[i] = rotation
			mu.Lock()
			observations = append(observations, obs...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // instances report failures through their Rotation

	var errs []error
	for _, rotation := range rotations {
		if rotation.Error != "" {
			errs = append(errs, fmt.Errorf("instance %d: %s", rotation.Instance, rotation.Error))
		}
	}

	if err := r.writeReport(stdout, rotations); err != nil {
		errs = append(errs, err)
	}

	if r.cfg.Save && len(observations) > 0 {
		if err := r.save(observations); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// rotateInstance launches instance i and renews its address cfg.Count times.
// The session is always closed before returning.
func (r *rotator) rotateInstance(ctx context.Context, i int) (*report.Rotation, []database.Observation) {
	socksPort, controlPort := r.cfg.PortPair(i)
	label := strconv.Itoa(socksPort)
	logger := r.logger.With("instance", i)

	rotation := &report.Rotation{
		Instance:  i,
		SocksAddr: "127.0.0.1:" + label,
		ExitNodes: r.cfg.ExitNodes,
		StartedAt: time.Now(),
	}
	var observations []database.Observation
	observe := func(ip string) {
		observations = append(observations, database.Observation{Session: label, IP: ip, ObservedAt: time.Now()})
	}

	fail := func(err error) (*report.Rotation, []database.Observation) {
		rotation.Error = err.Error()
		rotation.FinishedAt = time.Now()
		return rotation, observations
	}

	opts := []tor.Option{
		tor.WithLogger(logger),
		tor.WithLauncher(r.launcher),
		tor.WithIPEchoURL(r.cfg.IPEchoURL),
		tor.WithRetryPolicy(tor.RetryPolicy{
			MaxAttempts: r.cfg.RenewAttempts,
			MaxElapsed:  r.cfg.RenewMaxElapsed,
			Delay:       r.cfg.RenewDelay,
		}),
		tor.WithStartupTimeout(r.cfg.TorStartupTimeout),
		tor.WithRequestTimeout(r.cfg.RequestTimeout),
	}
	if r.cfg.HTTPProxy != "" {
		opts = append(opts, tor.WithHTTPProxy(r.cfg.HTTPProxy))
	}
	opts = append(opts, r.sessionOptions...)

	session, err := tor.NewSession(ctx, socksPort, controlPort, opts...)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close tor session", "error", err)
		}
	}()
	rotation.BaselineIP = session.BaselineIP()

	if err := session.Launch(ctx, r.cfg.ExitNodes); err != nil {
		return fail(err)
	}
	rotation.ExitNodes = session.ExitNodes().String()
	r.checkProxy(ctx, session, logger)

	locate := func(ip string) {
		if _, ok := rotation.Countries[ip]; ok {
			return
		}
		country, err := session.Country(ctx, ip)
		if err != nil {
			logger.Debug("country lookup failed", "ip", ip, "error", err)
			return
		}
		if country.IsZero() {
			return
		}
		if rotation.Countries == nil {
			rotation.Countries = make(map[string]string)
		}
		rotation.Countries[ip] = country.Name
	}

	ip, ok, err := session.CurrentIP(ctx)
	switch {
	case err != nil:
		return fail(err)
	case ok:
		observe(ip)
		locate(ip)
		logger.Info("current ip", "ip", ip)
	}

	for n := range r.cfg.Count {
		ip, err := session.RenewIP(ctx)
		if err != nil {
			rotation.UsedIPs = session.UsedIPs()
			return fail(fmt.Errorf("renewal %d: %w", n+1, err))
		}
		rotation.Renewed = append(rotation.Renewed, ip)
		observe(ip)
		locate(ip)
	}

	rotation.UsedIPs = session.UsedIPs()
	rotation.FinishedAt = time.Now()
	return rotation, observations
}

// checkProxy logs whether the SOCKS port speaks SOCKS5. Checks through an
// HTTP proxy are skipped since the SOCKS port is not what carries traffic.
func (r *rotator) checkProxy(ctx context.Context, session *tor.Session, logger *slog.Logger) {
	if r.cfg.HTTPProxy != "" {
		return
	}
	client, err := tor.NewClient(session.SocksAddr(), r.cfg.RequestTimeout)
	if err != nil {
		logger.Warn("cannot check socks proxy", "error", err)
		return
	}
	if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
		logger.Warn("socks proxy check failed", "status", status.String())
		return
	}
	logger.Debug("socks proxy verified", "address", client.ProxyAddress())
}

func (r *rotator) writeReport(stdout io.Writer, rotations []*report.Rotation) error {
	output := stdout
	if r.cfg.ReportFile != "" {
		f, err := createReportFile(r.cfg.ReportFile)
		if err != nil {
			return err
		}
		defer f.Close()
		output = f
	}

	_, err := newReportWriter(output, r.cfg.JSONReport, r.cfg.MarkdownReport, r.cfg.Verbose).WriteRotations(rotations)
	return err
}

func (r *rotator) save(observations []database.Observation) error {
	ipLog, err := database.Open(r.cfg.DBDir)
	if err != nil {
		return fmt.Errorf("failed to open ip log: %w", err)
	}
	defer ipLog.Close()

	// The run context may already be cancelled; what was seen is still saved.
	if err := ipLog.Record(context.Background(), observations...); err != nil {
		return err
	}
	r.logger.Info("observations saved", "count", len(observations), "dir", r.cfg.DBDir)
	return nil
}

// newReportWriter picks the report format.
func newReportWriter(w io.Writer, jsonReport, markdownReport, verbose bool) report.Writer {
	switch {
	case jsonReport:
		return report.NewJSONWriter(w, report.WithPrettyPrint())
	case markdownReport:
		return report.NewMarkdownWriter(w)
	default:
		return report.NewSimpleWriter(w, report.WithVerbose(verbose))
	}
}

// createReportFile creates path and its parent directories with owner-only
// permissions.
func createReportFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // user-provided output path
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}
