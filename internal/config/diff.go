package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: the log level and
// the token revocation list. Everything else requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RevocationsChanged bool
	NewRevoked         []string
}

// Empty reports whether d carries no applicable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RevocationsChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldRevoked := slices.Clone(old.Auth.Revoked)
	newRevoked := slices.Clone(new.Auth.Revoked)
	slices.Sort(oldRevoked)
	slices.Sort(newRevoked)
	if !slices.Equal(oldRevoked, newRevoked) {
		d.RevocationsChanged = true
		d.NewRevoked = slices.Clone(new.Auth.Revoked)
	}

	return d
}
