package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	CheckpointChanged bool
	NewCheckpoint     CheckpointConfig

	LogLevelChanged bool
	NewLogLevel     string

	// Fields that only take effect on the next run (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.CheckpointChanged || d.LogLevelChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Checkpoint != new.Checkpoint {
		d.CheckpointChanged = true
		d.NewCheckpoint = new.Checkpoint
	}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}

	// Engine settings are read once at launch
	sections := []struct {
		name     string
		old, new any
	}{
		{"coordinator", old.Coordinator, new.Coordinator},
		{"monitor", old.Monitor, new.Monitor},
		{"demo", old.Demo, new.Demo},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.NonReloadable = append(d.NonReloadable, s.name)
		}
	}

	if old.Telegram != new.Telegram {
		d.NonReloadable = append(d.NonReloadable, "telegram")
	}
	if old.Web != new.Web {
		d.NonReloadable = append(d.NonReloadable, "web")
	}
	if old.NATS != new.NATS {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}

	return d
}
