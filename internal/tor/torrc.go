package tor

import (
	"sort"
	"strconv"
)

// Tor configuration keys written for every session.
const (
	torrcSOCKSPort            = "SOCKSPort"
	torrcControlPort          = "ControlPort"
	torrcDataDirectory        = "DataDirectory"
	torrcExitRelay            = "ExitRelay"
	torrcExitNodes            = "ExitNodes"
	torrcStrictNodes          = "StrictNodes"
	torrcCookieAuthentication = "CookieAuthentication"
)

// controlCookieFile is the name tor uses for the auth cookie inside DataDirectory.
const controlCookieFile = "control_auth_cookie"

// TorConfig is the option map handed to the tor process.
// All values are strings, exactly as they would appear in a torrc.
type TorConfig map[string]string

// launcherManaged lists the keys tornago writes on the tor command line
// itself. They stay in the map so the configuration is complete.
var launcherManaged = map[string]bool{
	torrcSOCKSPort:            true,
	torrcControlPort:          true,
	torrcDataDirectory:        true,
	torrcCookieAuthentication: true,
}

// NewTorConfig builds the configuration for one session.
// ExitRelay is always disabled. A non-empty nodes sets ExitNodes together
// with StrictNodes, so tor never falls back to an exit outside the set.
func NewTorConfig(socksPort, controlPort int, dataDir string, nodes ExitNodes) (TorConfig, error) {
	if !validPort(socksPort) || !validPort(controlPort) {
		return nil, ErrInvalidPort
	}

	cfg := TorConfig{
		torrcSOCKSPort:            strconv.Itoa(socksPort),
		torrcControlPort:          strconv.Itoa(controlPort),
		torrcDataDirectory:        dataDir,
		torrcExitRelay:            "0",
		torrcCookieAuthentication: "1",
	}
	if !nodes.IsEmpty() {
		cfg[torrcExitNodes] = nodes.String()
		cfg[torrcStrictNodes] = "1"
	}
	return cfg, nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// ExtraArgs converts the options the launcher does not manage to tor
// command line arguments ("--Key value"), sorted by key.
func (c TorConfig) ExtraArgs() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		if !launcherManaged[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, "--"+k, c[k])
	}
	return args
}

// DataDirectory returns the configured data directory.
func (c TorConfig) DataDirectory() string {
	return c[torrcDataDirectory]
}

// ExitNodes returns the raw ExitNodes value, empty when unrestricted.
func (c TorConfig) ExitNodes() string {
	return c[torrcExitNodes]
}
