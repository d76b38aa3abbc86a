package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file name searched for.
const DefaultConfigFile = ".torrotate"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// File is the YAML configuration file. Unset fields keep the value they
// had before ApplyTo.
type File struct {
	Tor   TorSection   `yaml:"tor"`
	Renew RenewSection `yaml:"renew"`

	IPEchoURL string `yaml:"ip_echo_url,omitempty"`
	DBDir     string `yaml:"db_dir,omitempty"`
	Instances *int   `yaml:"instances,omitempty"`
	Count     *int   `yaml:"count,omitempty"`
}

// TorSection configures the Tor processes.
type TorSection struct {
	SocksPort      *int          `yaml:"socks_port,omitempty"`
	ControlPort    *int          `yaml:"control_port,omitempty"`
	ExitNodes      string        `yaml:"exit_nodes,omitempty"`
	Binary         string        `yaml:"binary,omitempty"`
	StartupTimeout time.Duration `yaml:"startup_timeout,omitempty"`
	HTTPProxy      string        `yaml:"http_proxy,omitempty"`
}

// RenewSection bounds address renewal.
type RenewSection struct {
	Attempts   *int          `yaml:"attempts,omitempty"`
	Delay      time.Duration `yaml:"delay,omitempty"`
	MaxElapsed time.Duration `yaml:"max_elapsed,omitempty"`
}

// LoadConfigFile parses the YAML file at path.
// A missing file yields ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &f, nil
}

// ApplyTo copies every field set in the file onto c.
func (f *File) ApplyTo(c *Config) {
	if f.Tor.SocksPort != nil {
		c.SocksPort = *f.Tor.SocksPort
	}
	if f.Tor.ControlPort != nil {
		c.ControlPort = *f.Tor.ControlPort
	}
	if f.Tor.ExitNodes != "" {
		c.ExitNodes = f.Tor.ExitNodes
	}
	if f.Tor.Binary != "" {
		c.TorBinary = f.Tor.Binary
	}
	if f.Tor.StartupTimeout != 0 {
		c.TorStartupTimeout = f.Tor.StartupTimeout
	}
	if f.Tor.HTTPProxy != "" {
		c.HTTPProxy = f.Tor.HTTPProxy
	}

	if f.Renew.Attempts != nil {
		c.RenewAttempts = *f.Renew.Attempts
	}
	if f.Renew.Delay != 0 {
		c.RenewDelay = f.Renew.Delay
	}
	if f.Renew.MaxElapsed != 0 {
		c.RenewMaxElapsed = f.Renew.MaxElapsed
	}

	if f.IPEchoURL != "" {
		c.IPEchoURL = f.IPEchoURL
	}
	if f.DBDir != "" {
		c.DBDir = f.DBDir
	}
	if f.Instances != nil {
		c.Instances = *f.Instances
	}
	if f.Count != nil {
		c.Count = *f.Count
	}
}

// FindConfigFile returns the configuration file to load, or "" if none:
//  1. configPath, if given and it exists
//  2. .torrotate in the current directory
//  3. .torrotate in the user's home directory
//  4. config.yaml in the XDG config directory
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	candidates := make([]string, 0, 3)
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), "config.yaml"))

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
