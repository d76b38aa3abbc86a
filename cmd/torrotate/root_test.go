package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if cmd.Use != "torrotate" {
			t.Errorf("expected use 'torrotate', got %q", cmd.Use)
		}
	})

	t.Run("has version", func(t *testing.T) {
		t.Parallel()
		if cmd.Version == "" {
			t.Error("expected non-empty version")
		}
	})

	t.Run("has persistent flags", func(t *testing.T) {
		t.Parallel()

		verbose := cmd.PersistentFlags().Lookup("verbose")
		if verbose == nil {
			t.Fatal("expected verbose flag")
		}
		if verbose.Shorthand != "v" {
			t.Errorf("expected shorthand 'v', got %q", verbose.Shorthand)
		}
		if cmd.PersistentFlags().Lookup("log-json") == nil {
			t.Error("expected log-json flag")
		}
	})

	t.Run("has subcommands", func(t *testing.T) {
		t.Parallel()

		want := map[string]bool{"rotate": false, "history": false, "init": false, "version": false}
		for _, sub := range cmd.Commands() {
			if _, ok := want[sub.Name()]; ok {
				want[sub.Name()] = true
			}
		}
		for name, found := range want {
			if !found {
				t.Errorf("expected %s subcommand", name)
			}
		}
	})
}

func TestGetBoolFlag(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	root.SetArgs([]string{"--verbose", "version"})
	root.SetOut(&bytes.Buffer{})
	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, _, err := root.Find([]string{"version"})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if !getBoolFlag(sub, "verbose") {
		t.Error("expected verbose to be read from persistent flags")
	}
	if getBoolFlag(sub, "log-json") {
		t.Error("expected log-json to be false")
	}
	if getBoolFlag(sub, "no-such-flag") {
		t.Error("expected unknown flag to read as false")
	}
}

func TestSetupLogger(t *testing.T) {
	t.Parallel()

	t.Run("text", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		setupLogger(&buf, false, false).Info("hello", "cookie", "secret-value")
		if !strings.Contains(buf.String(), "msg=hello") {
			t.Errorf("expected text output, got %q", buf.String())
		}
		if strings.Contains(buf.String(), "secret-value") {
			t.Errorf("cookie leaked: %q", buf.String())
		}
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		setupLogger(&buf, false, true).Info("hello")
		if !strings.HasPrefix(buf.String(), "{") {
			t.Errorf("expected JSON output, got %q", buf.String())
		}
	})

	t.Run("debug only when verbose", func(t *testing.T) {
		t.Parallel()

		var quiet, loud bytes.Buffer
		setupLogger(&quiet, false, false).Debug("probe")
		setupLogger(&loud, true, false).Debug("probe")
		if quiet.Len() != 0 {
			t.Errorf("debug written without verbose: %q", quiet.String())
		}
		if loud.Len() == 0 {
			t.Error("debug missing with verbose")
		}
	})
}
