package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_NoChanges(t *testing.T) {
	cfg := Defaults()
	d := Diff(&cfg, &cfg)
	assert.False(t, d.HasChanges())
	assert.Empty(t, d.NonReloadable)
}

func TestDiff_CheckpointChanged(t *testing.T) {
	old := Defaults()
	new := Defaults()
	new.Checkpoint.Schedule = "*/5 * * * *"

	d := Diff(&old, &new)
	require.True(t, d.HasChanges())
	require.True(t, d.CheckpointChanged)
	assert.Equal(t, "*/5 * * * *", d.NewCheckpoint.Schedule)
}

func TestDiff_LogLevelChanged(t *testing.T) {
	old := Defaults()
	new := Defaults()
	new.Log.Level = "debug"

	d := Diff(&old, &new)
	assert.True(t, d.LogLevelChanged)
	assert.Equal(t, "debug", d.NewLogLevel)
}

func TestDiff_NonReloadable(t *testing.T) {
	old := Defaults()
	new := Defaults()
	new.Coordinator.MajorInterval = 20 * time.Second
	new.Monitor.Thresholds.EfficiencyWarning = 60
	new.Web.Port = 9090
	new.Telegram.Token = "new-token"

	d := Diff(&old, &new)
	assert.False(t, d.HasChanges(), "non-reloadable changes are not reloadable")
	assert.Subset(t, d.NonReloadable, []string{"coordinator", "monitor", "web", "telegram"})
	assert.NotContains(t, d.NonReloadable, "demo")
}
