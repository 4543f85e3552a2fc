package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrOutOfRange is returned by the Runtime setters when a value falls outside
// the allowed range for its field. The prior value is retained.
var ErrOutOfRange = errors.New("value out of range")

// Runtime is the process-wide tunable parameter set. It is initialized from
// compiled-in defaults (overridable from the node YAML) and later updated
// field-by-field as deltas arrive from the central controller. It is owned by
// the controller loop; all mutation goes through the setters so range checks
// apply uniformly whether a value comes from a file or off the wire.
type Runtime struct {
	Threshold      float32       `yaml:"threshold"`        // default detection threshold
	MainPeriod     time.Duration `yaml:"main_period"`      // analysis period
	SignalVolume   float32       `yaml:"signal_volume"`    // tone output level, 0..1
	MusicVolume    float32       `yaml:"music_volume"`     // music mix level, 0..1
	FadeInitVolume float32       `yaml:"fade_init_volume"` // initial level for music fade-in
	PauseTimeout   time.Duration `yaml:"pause_timeout"`    // contact lost -> playback pause
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // no contact -> idle state
	ToneEnabled    bool          `yaml:"tone_enabled"`
	DebugMode      bool          `yaml:"debug_mode"`
}

// DefaultRuntime returns the compiled-in runtime defaults.
func DefaultRuntime() Runtime {
	return Runtime{
		Threshold:      0.01,
		MainPeriod:     150 * time.Millisecond,
		SignalVolume:   0.5,
		MusicVolume:    0.7,
		FadeInitVolume: 0.1,
		PauseTimeout:   5 * time.Second,
		IdleTimeout:    60 * time.Second,
		ToneEnabled:    true,
		DebugMode:      false,
	}
}

// ensureDefaults fills zero-valued fields from the defaults. Booleans are
// left alone: false is a valid configured value for ToneEnabled and
// DebugMode, and YAML unmarshals over the defaults anyway.
func (r *Runtime) ensureDefaults() {
	def := DefaultRuntime()

	if r.Threshold == 0 {
		r.Threshold = def.Threshold
	}
	if r.MainPeriod == 0 {
		r.MainPeriod = def.MainPeriod
	}
	if r.SignalVolume == 0 {
		r.SignalVolume = def.SignalVolume
	}
	if r.MusicVolume == 0 {
		r.MusicVolume = def.MusicVolume
	}
	if r.FadeInitVolume == 0 {
		r.FadeInitVolume = def.FadeInitVolume
	}
	if r.PauseTimeout == 0 {
		r.PauseTimeout = def.PauseTimeout
	}
	if r.IdleTimeout == 0 {
		r.IdleTimeout = def.IdleTimeout
	}
}

// SetThreshold sets the default detection threshold. Thresholds are Goertzel
// magnitudes, so anything above 1.0 could never trigger on a full-scale tone.
func (r *Runtime) SetThreshold(v float32) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("threshold %v: want (0, 1]: %w", v, ErrOutOfRange)
	}
	r.Threshold = v
	return nil
}

// SetMainPeriod sets the analysis period. The upper bound keeps a
// misconfigured fleet push from effectively freezing contact sensing.
func (r *Runtime) SetMainPeriod(d time.Duration) error {
	if d <= 0 || d > 10*time.Second {
		return fmt.Errorf("main period %v: want (0, 10s]: %w", d, ErrOutOfRange)
	}
	r.MainPeriod = d
	return nil
}

// SetSignalVolume sets the tone output level.
func (r *Runtime) SetSignalVolume(v float32) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("signal volume %v: want [0, 1]: %w", v, ErrOutOfRange)
	}
	r.SignalVolume = v
	return nil
}

// SetMusicVolume sets the music mix level.
func (r *Runtime) SetMusicVolume(v float32) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("music volume %v: want [0, 1]: %w", v, ErrOutOfRange)
	}
	r.MusicVolume = v
	return nil
}

// SetFadeInitVolume sets the starting level for music fade-in.
func (r *Runtime) SetFadeInitVolume(v float32) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("fade init volume %v: want [0, 1]: %w", v, ErrOutOfRange)
	}
	r.FadeInitVolume = v
	return nil
}

// SetPauseTimeout sets the playback pause timeout.
func (r *Runtime) SetPauseTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("pause timeout %v: want > 0: %w", d, ErrOutOfRange)
	}
	r.PauseTimeout = d
	return nil
}

// SetIdleTimeout sets the idle timeout.
func (r *Runtime) SetIdleTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("idle timeout %v: want > 0: %w", d, ErrOutOfRange)
	}
	r.IdleTimeout = d
	return nil
}
