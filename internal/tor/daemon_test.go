package tor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/tornago"
)

// writeFakeTor writes an executable shell script standing in for tor.
func writeFakeTor(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tor binary is a shell script")
	}
	path := filepath.Join(t.TempDir(), "tor")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil { //nolint:gosec // test helper must be executable
		t.Fatalf("failed to write fake tor: %v", err)
	}
	return path
}

// freePort returns a loopback port nobody listens on.
func freePort(t *testing.T) int {
	t.Helper()
	_, port, err := net.SplitHostPort(closedAddr(t))
	if err != nil {
		t.Fatal(err)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

// testTorrc builds a session configuration with a control cookie in place.
func testTorrc(t *testing.T, controlPort int, exitNodes string) TorConfig {
	t.Helper()
	nodes, err := ParseExitNodes(exitNodes)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, controlCookieFile), make([]byte, 32), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewTorConfig(freePort(t), controlPort, dir, nodes)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

// fakeControlPort speaks just enough of the control protocol to report
// bootstrap progress. Each bootstrap GETINFO returns the next value of
// progress; the last value repeats. Every address is placed in Germany.
type fakeControlPort struct {
	ln       net.Listener
	progress []int
	queries  atomic.Int32
}

func newFakeControlPort(t *testing.T, progress ...int) *fakeControlPort {
	t.Helper()
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	f := &fakeControlPort{ln: ln, progress: progress}
	t.Cleanup(func() { _ = ln.Close() })
	go f.serve()
	return f
}

func (f *fakeControlPort) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // tcp listener
}

func (f *fakeControlPort) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeControlPort) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		switch line = strings.TrimSpace(line); {
		case strings.HasPrefix(line, "AUTHENTICATE"):
			fmt.Fprint(conn, "250 OK\r\n")
		case line == "GETINFO "+bootstrapPhaseKey:
			n := int(f.queries.Add(1)) - 1
			p := f.progress[min(n, len(f.progress)-1)]
			fmt.Fprintf(conn, "250-%s=NOTICE BOOTSTRAP PROGRESS=%d TAG=test SUMMARY=\"test\"\r\n250 OK\r\n", bootstrapPhaseKey, p)
		case strings.HasPrefix(line, "GETINFO ip-to-country/"):
			key := strings.TrimPrefix(line, "GETINFO ")
			fmt.Fprintf(conn, "250-%s=de\r\n250 OK\r\n", key)
		default:
			fmt.Fprint(conn, "510 Unrecognized command\r\n")
		}
	}
}

// stubLauncher returns a launcher whose start succeeds without a process.
func stubLauncher() *DaemonLauncher {
	l := NewDaemonLauncher("")
	l.start = func(tornago.TorLaunchConfig) (*tornago.TorProcess, error) {
		return &tornago.TorProcess{}, nil
	}
	l.pollInterval = 10 * time.Millisecond
	l.exitInterval = 10 * time.Millisecond
	return l
}

func TestNewDaemonLauncher(t *testing.T) {
	t.Parallel()

	if got := NewDaemonLauncher("").Binary(); got != DefaultTorBinary {
		t.Errorf("Binary() = %q, want %q", got, DefaultTorBinary)
	}
	if got := NewDaemonLauncher("/opt/tor/bin/tor").Binary(); got != "/opt/tor/bin/tor" {
		t.Errorf("Binary() = %q", got)
	}
}

func TestDaemonLauncherOptions(t *testing.T) {
	t.Parallel()

	t.Run("session configuration reaches tornago", func(t *testing.T) {
		t.Parallel()

		torrc := testTorrc(t, 29051, "{us},{de}")
		l := NewDaemonLauncher("/opt/tor/bin/tor")
		logger := discardLogger()
		opts := l.launchOptions(LaunchConfig{Torrc: torrc}, 45*time.Second, newTorLog(logger), logger)

		cfg, err := tornago.NewTorLaunchConfig(opts...)
		if err != nil {
			t.Fatalf("NewTorLaunchConfig() error = %v", err)
		}
		if cfg.TorBinary() != "/opt/tor/bin/tor" {
			t.Errorf("TorBinary() = %q", cfg.TorBinary())
		}
		if cfg.SocksAddr() != "127.0.0.1:"+torrc["SOCKSPort"] {
			t.Errorf("SocksAddr() = %q", cfg.SocksAddr())
		}
		if cfg.ControlAddr() != "127.0.0.1:29051" {
			t.Errorf("ControlAddr() = %q", cfg.ControlAddr())
		}
		if cfg.DataDir() != torrc.DataDirectory() {
			t.Errorf("DataDir() = %q, want %q", cfg.DataDir(), torrc.DataDirectory())
		}
		want := []string{"--ExitNodes", "{us},{de}", "--ExitRelay", "0", "--StrictNodes", "1"}
		if got := cfg.ExtraArgs(); !slices.Equal(got, want) {
			t.Errorf("ExtraArgs() = %v, want %v", got, want)
		}
		if cfg.StartupTimeout() != 45*time.Second {
			t.Errorf("StartupTimeout() = %v", cfg.StartupTimeout())
		}
		if cfg.LogReporter() == nil {
			t.Error("LogReporter() is nil")
		}
	})

	t.Run("unrestricted exit only disables relaying", func(t *testing.T) {
		t.Parallel()

		torrc := testTorrc(t, 29053, "")
		logger := discardLogger()
		opts := NewDaemonLauncher("").launchOptions(LaunchConfig{Torrc: torrc}, time.Minute, newTorLog(logger), logger)
		cfg, err := tornago.NewTorLaunchConfig(opts...)
		if err != nil {
			t.Fatal(err)
		}
		if got := cfg.ExtraArgs(); !slices.Equal(got, []string{"--ExitRelay", "0"}) {
			t.Errorf("ExtraArgs() = %v", got)
		}
	})

	t.Run("no data directory leaves the choice to tornago", func(t *testing.T) {
		t.Parallel()

		logger := discardLogger()
		opts := NewDaemonLauncher("").launchOptions(LaunchConfig{Torrc: TorConfig{"SOCKSPort": "9050", "ControlPort": "9051"}},
			time.Minute, newTorLog(logger), logger)
		cfg, err := tornago.NewTorLaunchConfig(opts...)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.DataDir() != "" {
			t.Errorf("DataDir() = %q, want empty", cfg.DataDir())
		}
	})
}

func TestParseBootstrapProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status string
		want   int
		wantOK bool
	}{
		{name: "done", status: `NOTICE BOOTSTRAP PROGRESS=100 TAG=done SUMMARY="Done"`, want: 100, wantOK: true},
		{name: "partial", status: `NOTICE BOOTSTRAP PROGRESS=85 TAG=ap_conn_done SUMMARY="Connected to a relay to build circuits"`, want: 85, wantOK: true},
		{name: "warning", status: `WARN BOOTSTRAP PROGRESS=5 TAG=conn WARNING="Connection refused"`, want: 5, wantOK: true},
		{name: "missing", status: `NOTICE BOOTSTRAP TAG=starting`},
		{name: "garbled", status: `NOTICE BOOTSTRAP PROGRESS=abc`},
		{name: "empty", status: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseBootstrapProgress(tt.status)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("parseBootstrapProgress() = %d, %v, want %d, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTorLog(t *testing.T) {
	t.Parallel()

	logs := newTorLog(discardLogger())
	logs.report("Oct 19 10:00:00.000 [notice] Bootstrapped 5% (conn): Connecting to a relay")
	logs.report("")
	if logs.problem() != "" {
		t.Errorf("problem() = %q, want empty", logs.problem())
	}

	logs.report("[warn] Could not bind to 127.0.0.1:9050: Address already in use. Is Tor already running?")
	select {
	case <-logs.failed:
		t.Fatal("a warning must not fail the launch")
	default:
	}

	logs.report("[err] Reading config failed--see warnings above.")
	logs.report("[err] second error")
	logs.report("[err] dropped, over the cap")
	select {
	case <-logs.failed:
	default:
		t.Fatal("an [err] line must fail the launch")
	}

	got := logs.problem()
	if !strings.Contains(got, "Address already in use") || !strings.Contains(got, "Reading config failed") {
		t.Errorf("problem() = %q", got)
	}
	if strings.Contains(got, "dropped") {
		t.Errorf("problem() = %q, want at most %d lines", got, maxLogProblems)
	}
}

func TestDaemonLauncherLaunch(t *testing.T) {
	t.Parallel()

	t.Run("waits for full bootstrap", func(t *testing.T) {
		t.Parallel()

		ctrl := newFakeControlPort(t, 10, 50, 100)
		torrc := testTorrc(t, ctrl.port(), "")
		proc, err := stubLauncher().Launch(context.Background(), LaunchConfig{
			Torrc:          torrc,
			StartupTimeout: 10 * time.Second,
			Logger:         discardLogger(),
		})
		if err != nil {
			t.Fatalf("Launch() error = %v", err)
		}
		if n := ctrl.queries.Load(); n < 3 {
			t.Errorf("bootstrap queried %d times, want at least 3", n)
		}
		if proc.ControlAddr() != "127.0.0.1:"+strconv.Itoa(ctrl.port()) {
			t.Errorf("ControlAddr() = %q", proc.ControlAddr())
		}
		if proc.SocksAddr() != "127.0.0.1:"+torrc["SOCKSPort"] {
			t.Errorf("SocksAddr() = %q", proc.SocksAddr())
		}
		if proc.CookiePath() != filepath.Join(torrc.DataDirectory(), "control_auth_cookie") {
			t.Errorf("CookiePath() = %q", proc.CookiePath())
		}

		if err := proc.Kill(); err != nil {
			t.Errorf("Kill() error = %v", err)
		}
		select {
		case <-proc.Done():
		default:
			t.Error("Done() not closed after Kill")
		}
		if err := proc.Kill(); err != nil {
			t.Errorf("second Kill() error = %v", err)
		}
	})

	t.Run("closed control port after bootstrap closes Done", func(t *testing.T) {
		t.Parallel()

		ctrl := newFakeControlPort(t, 100)
		proc, err := stubLauncher().Launch(context.Background(), LaunchConfig{
			Torrc:          testTorrc(t, ctrl.port(), ""),
			StartupTimeout: 10 * time.Second,
			Logger:         discardLogger(),
		})
		if err != nil {
			t.Fatalf("Launch() error = %v", err)
		}
		_ = ctrl.ln.Close()

		select {
		case <-proc.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("Done() not closed after the control port went away")
		}
		if err := proc.Kill(); err != nil {
			t.Errorf("Kill() error = %v", err)
		}
	})

	t.Run("stalled bootstrap times out", func(t *testing.T) {
		t.Parallel()

		ctrl := newFakeControlPort(t, 5)
		_, err := stubLauncher().Launch(context.Background(), LaunchConfig{
			Torrc:          testTorrc(t, ctrl.port(), ""),
			StartupTimeout: 200 * time.Millisecond,
			Logger:         discardLogger(),
		})
		if !errors.Is(err, ErrBootstrapTimeout) {
			t.Fatalf("Launch() error = %v, want ErrBootstrapTimeout", err)
		}
		if !strings.Contains(err.Error(), "5%") {
			t.Errorf("error %q should carry the last progress", err)
		}
	})

	t.Run("refused control port means tor exited", func(t *testing.T) {
		t.Parallel()

		_, err := stubLauncher().Launch(context.Background(), LaunchConfig{
			Torrc:          testTorrc(t, freePort(t), ""),
			StartupTimeout: 10 * time.Second,
			Logger:         discardLogger(),
		})
		if !errors.Is(err, ErrProcessExited) {
			t.Fatalf("Launch() error = %v, want ErrProcessExited", err)
		}
	})

	t.Run("cancelled context while starting", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		l := stubLauncher()
		l.start = func(tornago.TorLaunchConfig) (*tornago.TorProcess, error) {
			<-release
			return &tornago.TorProcess{}, nil
		}
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := l.Launch(ctx, LaunchConfig{
			Torrc:          testTorrc(t, freePort(t), ""),
			StartupTimeout: 10 * time.Second,
			Logger:         discardLogger(),
		})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Launch() error = %v, want deadline exceeded", err)
		}
	})

	t.Run("fatal tor log aborts the start", func(t *testing.T) {
		t.Parallel()

		bin := writeFakeTor(t, `echo "[warn] Could not bind to 127.0.0.1:9050: Address already in use. Is Tor already running?"
echo "[err] Reading config failed--see warnings above."
exit 1`)
		start := time.Now()
		_, err := NewDaemonLauncher(bin).Launch(context.Background(), LaunchConfig{
			Torrc:          testTorrc(t, freePort(t), ""),
			StartupTimeout: 5 * time.Second,
			Logger:         discardLogger(),
		})
		if !errors.Is(err, ErrProcessExited) {
			t.Fatalf("Launch() error = %v, want ErrProcessExited", err)
		}
		if !strings.Contains(err.Error(), "Address already in use") {
			t.Errorf("error %q should carry the tor warning", err)
		}
		if time.Since(start) > 4*time.Second {
			t.Error("Launch() waited for the startup timeout instead of the tor error")
		}
	})

	t.Run("ports never open", func(t *testing.T) {
		t.Parallel()

		bin := writeFakeTor(t, `exec sleep 30`)
		_, err := NewDaemonLauncher(bin).Launch(context.Background(), LaunchConfig{
			Torrc:          testTorrc(t, freePort(t), ""),
			StartupTimeout: 300 * time.Millisecond,
			Logger:         discardLogger(),
		})
		if !errors.Is(err, ErrBootstrapTimeout) {
			t.Fatalf("Launch() error = %v, want ErrBootstrapTimeout", err)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		t.Parallel()

		_, err := NewDaemonLauncher(filepath.Join(t.TempDir(), "no-such-tor")).Launch(context.Background(), LaunchConfig{
			Torrc:  testTorrc(t, freePort(t), ""),
			Logger: discardLogger(),
		})
		if !errors.Is(err, &tornago.TornagoError{Kind: tornago.ErrTorBinaryNotFound}) {
			t.Errorf("Launch() error = %v, want tor binary not found", err)
		}
	})
}
