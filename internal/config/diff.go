package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when recognizer or detector settings changed.
	// New sessions pick them up; live sessions keep their snapshot.
	SessionChanged bool

	MaxSessionsChanged bool
	NewMaxSessions     int

	// RestartRequired lists the changed settings that only take effect after
	// a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SessionChanged && !d.MaxSessionsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Recognizer != new.Recognizer || old.Detector != new.Detector {
		d.SessionChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server.log_format")
	}
	if old.Gateway.MaxSessions != new.Gateway.MaxSessions {
		d.MaxSessionsChanged = true
		d.NewMaxSessions = new.Gateway.MaxSessions
	}
	if old.Gateway.Listen != new.Gateway.Listen || old.Gateway.Network != new.Gateway.Network {
		d.RestartRequired = append(d.RestartRequired, "gateway.listen")
	}
	if old.Gateway.BreakerFailures != new.Gateway.BreakerFailures || old.Gateway.BreakerCooldown != new.Gateway.BreakerCooldown {
		d.RestartRequired = append(d.RestartRequired, "gateway.breaker")
	}
	return d
}
