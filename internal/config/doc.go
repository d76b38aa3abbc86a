// Package config holds the settings of the torrotate command: port pairs,
// renewal bounds, tor startup options and storage location. Values come from
// NewConfig defaults, an optional YAML file (.torrotate) and CLI flags, in
// that order of precedence.
package config
