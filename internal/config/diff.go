package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded without restarting active calls are tracked;
// provider and adapter changes require a process restart and are not
// reported here.
type ConfigDiff struct {
	LogLevelChanged     bool
	NewLogLevel         LogLevel
	SystemPromptChanged bool
	NewSystemPrompt     string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.SystemPrompt != new.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.SystemPrompt
	}

	return d
}
