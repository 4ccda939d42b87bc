package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/atperry7/ffxi-manager-sub000/internal/activate"
	"github.com/atperry7/ffxi-manager-sub000/internal/hotkeymap"
	"github.com/atperry7/ffxi-manager-sub000/internal/input"
	"github.com/atperry7/ffxi-manager-sub000/internal/monitor"
)

// FileConfig represents the top-level TOML structure.

type FileConfig struct {
	Log        *LogConfig       `toml:"log" mapstructure:"log"`
	Monitors   []MonitorConfig  `toml:"monitors" mapstructure:"monitors"`
	Bindings   []BindingConfig  `toml:"bindings" mapstructure:"bindings"`
	Activation ActivationConfig `toml:"activation" mapstructure:"activation"`
	Input      InputConfig      `toml:"input" mapstructure:"input"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
	NoColor    bool   `toml:"no_color" mapstructure:"no_color"`
}

type MonitorConfig struct {
	Name         string   `toml:"name" mapstructure:"name"`
	Filters      []string `toml:"filters" mapstructure:"filters"`
	TrackWindows bool     `toml:"track_windows" mapstructure:"track_windows"`
	TrackTitles  bool     `toml:"track_titles" mapstructure:"track_titles"`
	IncludePath  bool     `toml:"include_path" mapstructure:"include_path"`
}

type BindingConfig struct {
	Slot    int    `toml:"slot" mapstructure:"slot"`
	Chord   string `toml:"chord" mapstructure:"chord"`
	Button  *int   `toml:"button" mapstructure:"button"`
	Enabled *bool  `toml:"enabled" mapstructure:"enabled"`
	Cycle   bool   `toml:"cycle" mapstructure:"cycle"`
}

func (b BindingConfig) IsEnabled() bool { return b.Enabled == nil || *b.Enabled }

// ID returns the hotkey id this binding maps to.
func (b BindingConfig) ID() int {
	if b.Cycle {
		return hotkeymap.CycleID
	}
	return hotkeymap.IDForSlot(b.Slot)
}

type ActivationConfig struct {
	Debounce        time.Duration `toml:"debounce" mapstructure:"debounce"`
	SameEntityMin   time.Duration `toml:"same_entity_min" mapstructure:"same_entity_min"`
	FocusTimeout    time.Duration `toml:"focus_timeout" mapstructure:"focus_timeout"`
	GateWait        time.Duration `toml:"gate_wait" mapstructure:"gate_wait"`
	BreakerCeiling  int           `toml:"breaker_ceiling" mapstructure:"breaker_ceiling"`
	BreakerCooldown time.Duration `toml:"breaker_cooldown" mapstructure:"breaker_cooldown"`
}

type InputConfig struct {
	PollHz     int  `toml:"poll_hz" mapstructure:"poll_hz"`
	Controller bool `toml:"controller" mapstructure:"controller"`
}

type HistoryConfig struct {
	DSN       string        `toml:"dsn" mapstructure:"dsn"`
	Retention time.Duration `toml:"retention" mapstructure:"retention"`
}

type ServerConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// Load parses and validates a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) Validate() error {
	seen := make(map[string]struct{}, len(fc.Monitors))
	for _, m := range fc.Monitors {
		if m.Name == "" {
			return fmt.Errorf("monitor requires name")
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("duplicate monitor name %q", m.Name)
		}
		seen[m.Name] = struct{}{}
		if len(m.Filters) == 0 {
			return fmt.Errorf("monitor %s must list filters", m.Name)
		}
	}
	slots := make(map[int]struct{}, len(fc.Bindings))
	for _, b := range fc.Bindings {
		if !b.Cycle && b.Slot < 0 {
			return fmt.Errorf("binding slot must be >= 0, got %d", b.Slot)
		}
		if b.Chord == "" && b.Button == nil {
			return fmt.Errorf("binding for slot %d needs a chord or a button", b.Slot)
		}
		if !b.Cycle {
			if _, dup := slots[b.Slot]; dup {
				return fmt.Errorf("duplicate binding for slot %d", b.Slot)
			}
			slots[b.Slot] = struct{}{}
		}
	}
	if fc.Server.Enabled && fc.Server.Listen == "" {
		return fmt.Errorf("server enabled but no listen address")
	}
	return nil
}

// Profiles converts the monitor sections into registry profiles.
func (fc *FileConfig) Profiles() []monitor.Profile {
	out := make([]monitor.Profile, 0, len(fc.Monitors))
	for _, m := range fc.Monitors {
		out = append(out, monitor.Profile{
			Name:         m.Name,
			Filters:      m.Filters,
			TrackWindows: m.TrackWindows,
			TrackTitles:  m.TrackTitles,
			IncludePath:  m.IncludePath,
		})
	}
	return out
}

// HotkeyBindings converts the binding sections into cache bindings. The
// cycle binding stays out of the slot table; it is a reserved action.
func (fc *FileConfig) HotkeyBindings() []hotkeymap.Binding {
	out := make([]hotkeymap.Binding, 0, len(fc.Bindings))
	for _, b := range fc.Bindings {
		if b.Cycle {
			continue
		}
		out = append(out, hotkeymap.Binding{Slot: b.Slot, Enabled: b.IsEnabled()})
	}
	return out
}

// Orchestrator converts the activation section into orchestrator knobs.
// Unset values keep their defaults.
func (fc *FileConfig) Orchestrator() activate.Config {
	a := fc.Activation
	return activate.Config{
		DebounceWindow:  a.Debounce,
		SameEntityMin:   a.SameEntityMin,
		FocusTimeout:    a.FocusTimeout,
		GateWait:        a.GateWait,
		BreakerCeiling:  a.BreakerCeiling,
		BreakerCooldown: a.BreakerCooldown,
	}
}

// PollHz returns the controller poll rate, defaulted.
func (fc *FileConfig) PollHz() int {
	if fc.Input.PollHz > 0 {
		return fc.Input.PollHz
	}
	return input.DefaultPollHz
}
