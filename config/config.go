package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"go-stepseq/sequencer"
	"go-stepseq/transport"
)

// EngineConfig holds the engine and transport settings applied at startup
type EngineConfig struct {
	SampleRate         uint32  `json:"sampleRate,omitempty" yaml:"sampleRate,omitempty"`
	Period             uint32  `json:"period,omitempty" yaml:"period,omitempty"`
	Tempo              float64 `json:"tempo,omitempty" yaml:"tempo,omitempty"`
	BeatsPerBar        uint32  `json:"beatsPerBar,omitempty" yaml:"beatsPerBar,omitempty"`
	SequencesInBank    int     `json:"sequencesInBank,omitempty" yaml:"sequencesInBank,omitempty"`
	MaxSequencesInBank int     `json:"maxSequencesInBank,omitempty" yaml:"maxSequencesInBank,omitempty"`
	TriggerChannel     uint8   `json:"triggerChannel" yaml:"triggerChannel"`
	SyncTimeoutMs      int     `json:"syncTimeoutMs,omitempty" yaml:"syncTimeoutMs,omitempty"`
	ClockSource        string  `json:"clockSource,omitempty" yaml:"clockSource,omitempty"`
	SendClock          bool    `json:"sendClock,omitempty" yaml:"sendClock,omitempty"`
	Metronome          bool    `json:"metronome,omitempty" yaml:"metronome,omitempty"`
	MetronomeVolume    float64 `json:"metronomeVolume,omitempty" yaml:"metronomeVolume,omitempty"`
	Backup             bool    `json:"backup,omitempty" yaml:"backup,omitempty"`
}

// PortConfig names a MIDI port. Matching is exact first, then substring.
type PortConfig struct {
	Port string `json:"port,omitempty" yaml:"port,omitempty"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	LastProject string `json:"lastProject,omitempty" yaml:"lastProject,omitempty"`
	Bank        uint8  `json:"bank,omitempty" yaml:"bank,omitempty"`
	APIAddr     string `json:"apiAddr,omitempty" yaml:"apiAddr,omitempty"`
}

// ImportConfig lays tracker songs out over banks
type ImportConfig struct {
	MinRows          int   `json:"minRows,omitempty" yaml:"minRows,omitempty"`
	MaxRows          int   `json:"maxRows,omitempty" yaml:"maxRows,omitempty"`
	AutoBank         uint8 `json:"autoBank,omitempty" yaml:"autoBank,omitempty"`
	TriggerStartNote uint8 `json:"triggerStartNote,omitempty" yaml:"triggerStartNote,omitempty"`
	TriggerChannel   uint8 `json:"triggerChannel" yaml:"triggerChannel"`
	Transpositions   int   `json:"transpositions,omitempty" yaml:"transpositions,omitempty"`
}

// Config is the main configuration structure
type Config struct {
	Engine EngineConfig `json:"engine" yaml:"engine"`
	Import ImportConfig `json:"import" yaml:"import"`
	Output PortConfig   `json:"output,omitempty" yaml:"output,omitempty"`
	Input  PortConfig   `json:"input,omitempty" yaml:"input,omitempty"`
	Grid   PortConfig   `json:"grid,omitempty" yaml:"grid,omitempty"`
	UI     UIConfig     `json:"ui,omitempty" yaml:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	opts := sequencer.DefaultOptions()
	imp := sequencer.DefaultImportOptions()
	return &Config{
		Engine: EngineConfig{
			SampleRate:         opts.SampleRate,
			Period:             sequencer.DefaultPeriod,
			Tempo:              transport.DefaultTempo,
			BeatsPerBar:        transport.DefaultBeatsPerBar,
			SequencesInBank:    opts.SequencesInBank,
			MaxSequencesInBank: opts.MaxSequencesInBank,
			TriggerChannel:     opts.TriggerChannel,
			SyncTimeoutMs:      int(transport.DefaultSyncTimeout / time.Millisecond),
			ClockSource:        transport.ClockInternal.String(),
			MetronomeVolume:    0.5,
		},
		Import: ImportConfig{
			MinRows:          imp.MinRows,
			MaxRows:          imp.MaxRows,
			AutoBank:         imp.AutoBank,
			TriggerStartNote: imp.TriggerStartNote,
			TriggerChannel:   imp.TriggerChannel,
			Transpositions:   imp.Transpositions,
		},
		UI: UIConfig{Bank: 1},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-stepseq"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	cfg, err := LoadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// LoadFile reads a config file. Files ending in .yaml or .yml are YAML,
// everything else JSON. Fields missing from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Engine.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Import.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func (c *EngineConfig) validate() error {
	if _, ok := transport.ParseClockSource(c.ClockSource); c.ClockSource != "" && !ok {
		return fmt.Errorf("unknown clock source %q", c.ClockSource)
	}
	if c.Tempo != 0 && (c.Tempo < transport.MinTempo || c.Tempo > transport.MaxTempo) {
		return fmt.Errorf("tempo %v out of range", c.Tempo)
	}
	if c.TriggerChannel > 15 && c.TriggerChannel != sequencer.NoTrigger {
		return fmt.Errorf("trigger channel %d out of range", c.TriggerChannel)
	}
	return nil
}

// Options maps the config onto engine options.
func (c *EngineConfig) Options() sequencer.Options {
	return sequencer.Options{
		SampleRate:         c.SampleRate,
		SequencesInBank:    c.SequencesInBank,
		MaxSequencesInBank: c.MaxSequencesInBank,
		TriggerChannel:     c.TriggerChannel,
		SendClock:          c.SendClock,
		Backup:             c.Backup,
	}
}

// Apply sets the transport settings of e.
func (c *EngineConfig) Apply(e *sequencer.Engine) {
	tr := e.Transport()
	if c.Tempo > 0 {
		tr.SetTempo(c.Tempo)
	}
	if c.BeatsPerBar > 0 {
		tr.SetBeatsPerBar(c.BeatsPerBar)
	}
	if src, ok := transport.ParseClockSource(c.ClockSource); ok {
		tr.SetClockSource(src)
	}
	if c.SyncTimeoutMs > 0 {
		tr.SetSyncTimeout(time.Duration(c.SyncTimeoutMs) * time.Millisecond)
	}
	tr.EnableMetronome(c.Metronome)
	if c.MetronomeVolume > 0 {
		tr.SetMetronomeVolume(c.MetronomeVolume)
	}
}

func (c *ImportConfig) validate() error {
	if c.MinRows < 0 || c.MaxRows < 0 || c.MaxRows < c.MinRows {
		return fmt.Errorf("import rows %d-%d out of range", c.MinRows, c.MaxRows)
	}
	if c.TriggerStartNote > 127 {
		return fmt.Errorf("import trigger note %d out of range", c.TriggerStartNote)
	}
	if c.TriggerChannel > 15 && c.TriggerChannel != sequencer.NoTrigger {
		return fmt.Errorf("import trigger channel %d out of range", c.TriggerChannel)
	}
	return nil
}

// Options maps the config onto import options.
func (c *ImportConfig) Options() sequencer.ImportOptions {
	return sequencer.ImportOptions{
		MinRows:          c.MinRows,
		MaxRows:          c.MaxRows,
		AutoBank:         c.AutoBank,
		TriggerStartNote: c.TriggerStartNote,
		TriggerChannel:   c.TriggerChannel,
		Transpositions:   c.Transpositions,
	}
}
