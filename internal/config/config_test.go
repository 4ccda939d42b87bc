package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atperry7/ffxi-manager-sub000/internal/hotkeymap"
)

const sampleTOML = `
[log]
level = "debug"
dir = "/tmp/ffximgr"
max_size_mb = 10

[[monitors]]
name = "game"
filters = ["pol", "xiloader"]
track_windows = true
track_titles = true

[[monitors]]
name = "tools"
filters = ["windower"]

[[bindings]]
slot = 0
chord = "ctrl-alt-1"

[[bindings]]
slot = 1
chord = "ctrl-alt-2"
button = 1

[[bindings]]
slot = 2
chord = "ctrl-alt-3"
enabled = false

[[bindings]]
cycle = true
chord = "ctrl-alt-grave"

[activation]
debounce = "200ms"
focus_timeout = "1s"
breaker_ceiling = 12

[input]
poll_hz = 30
controller = true

[history]
dsn = ":memory:"
retention = "168h"

[server]
enabled = true
listen = "127.0.0.1:8391"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	fc, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	require.NotNil(t, fc.Log)
	assert.Equal(t, "debug", fc.Log.Level)

	profiles := fc.Profiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, "game", profiles[0].Name)
	assert.True(t, profiles[0].TrackTitles)
	assert.Equal(t, []string{"windower"}, profiles[1].Filters)

	assert.Equal(t, 200*time.Millisecond, fc.Activation.Debounce)
	assert.Equal(t, time.Second, fc.Activation.FocusTimeout)
	assert.Equal(t, 12, fc.Orchestrator().BreakerCeiling)

	assert.Equal(t, 30, fc.PollHz())
	assert.True(t, fc.Input.Controller)
	assert.Equal(t, ":memory:", fc.History.DSN)
	assert.Equal(t, 168*time.Hour, fc.History.Retention)
	assert.Equal(t, "127.0.0.1:8391", fc.Server.Listen)
}

func TestHotkeyBindings(t *testing.T) {
	fc, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	bindings := fc.HotkeyBindings()
	require.Len(t, bindings, 3) // cycle excluded
	assert.True(t, bindings[0].Enabled)
	assert.False(t, bindings[2].Enabled)

	assert.Equal(t, hotkeymap.IDForSlot(1), fc.Bindings[1].ID())
	assert.Equal(t, hotkeymap.CycleID, fc.Bindings[3].ID())
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"monitor without filters": `
[[monitors]]
name = "empty"
`,
		"monitor without name": `
[[monitors]]
filters = ["x"]
`,
		"duplicate monitor": `
[[monitors]]
name = "a"
filters = ["x"]
[[monitors]]
name = "a"
filters = ["y"]
`,
		"duplicate slot": `
[[bindings]]
slot = 0
chord = "ctrl-alt-1"
[[bindings]]
slot = 0
chord = "ctrl-alt-2"
`,
		"binding without input": `
[[bindings]]
slot = 0
`,
		"negative slot": `
[[bindings]]
slot = -2
chord = "ctrl-alt-1"
`,
		"server without listen": `
[server]
enabled = true
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestDefaults(t *testing.T) {
	fc, err := Load(writeConfig(t, "[input]\n"))
	require.NoError(t, err)
	assert.Equal(t, 60, fc.PollHz())
	assert.Empty(t, fc.HotkeyBindings())

	// Zero knobs fall back inside the orchestrator config fill.
	oc := fc.Orchestrator()
	assert.Zero(t, oc.DebounceWindow)
}

func TestWatchReload(t *testing.T) {
	path := writeConfig(t, sampleTOML)

	var reloads atomic.Int32
	var lastHz atomic.Int32
	stop, err := Watch(path, func(fc *FileConfig) {
		reloads.Add(1)
		lastHz.Store(int32(fc.PollHz()))
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte(sampleTOML+"\n# touched\n"), 0o644))

	require.Eventually(t, func() bool { return reloads.Load() >= 1 }, 3*time.Second, 25*time.Millisecond)
	assert.EqualValues(t, 30, lastHz.Load())
}
