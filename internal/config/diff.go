package config

// ConfigDiff describes what changed between two configs. Only the log level
// and the remote command policy are applied live; every other changed
// section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AllowRemoteCommandsChanged bool
	AllowRemoteCommands        bool

	// RestartRequired names the top-level sections whose changes take effect
	// only after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.AllowRemoteCommandsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	oc, nc := old.Control, new.Control
	if oc.AllowRemoteCommands != nc.AllowRemoteCommands {
		d.AllowRemoteCommandsChanged = true
		d.AllowRemoteCommands = nc.AllowRemoteCommands
	}
	// Compare the rest of the control section without the live field.
	oc.AllowRemoteCommands, nc.AllowRemoteCommands = false, false

	sections := []struct {
		name    string
		changed bool
	}{
		{"audio", old.Audio != new.Audio},
		{"vad", old.VAD != new.VAD},
		{"segment", old.Segment != new.Segment},
		{"asr", old.ASR != new.ASR},
		{"triggers", old.Triggers != new.Triggers},
		{"matcher", old.Matcher != new.Matcher},
		{"control", oc != nc},
		{"dispatch", old.Dispatch != new.Dispatch},
		{"admin", old.Admin != new.Admin},
	}
	for _, s := range sections {
		if s.changed {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
