package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the node-local configuration. Fleet-wide parameters
// (per-statue frequencies and thresholds) live in the cluster directory and
// arrive over the messaging channel; this file only covers what a single node
// needs before it has talked to anyone.
type Config struct {
	Broker    BrokerConfig   `yaml:"broker"`
	Statue    string         `yaml:"statue"` // fixed identity override; empty = resolve by IP
	Directory string         `yaml:"directory"`
	Audio     AudioConfig    `yaml:"audio"`
	Haptics   HapticsConfig  `yaml:"haptics"`
	Loopback  LoopbackConfig `yaml:"loopback"`
	Runtime   Runtime        `yaml:"runtime"`
}

// BrokerConfig contains the MQTT broker settings.
type BrokerConfig struct {
	URL string `yaml:"url"`
}

// AudioConfig contains the audio engine parameters.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	BlockSize  int `yaml:"block_size"`
}

// HapticsConfig contains the haptic motor driver settings.
type HapticsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

// LoopbackConfig contains the simulated audio engine settings.
type LoopbackConfig struct {
	NoiseLevel float64 `yaml:"noise_level"` // peak amplitude of injected noise
	PeerLevel  float64 `yaml:"peer_level"`  // amplitude of simulated peer tones
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL: "tcp://192.168.4.1:1883",
		},
		Audio: AudioConfig{
			SampleRate: 44100,
			BlockSize:  1024,
		},
		Haptics: HapticsConfig{
			Enabled: false,
			Port:    "/dev/ttyACM0",
		},
		Loopback: LoopbackConfig{
			NoiseLevel: 0.001,
			PeerLevel:  0.05,
		},
		Runtime: DefaultRuntime(),
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Broker.URL == "" {
		c.Broker.URL = def.Broker.URL
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = def.Audio.SampleRate
	}
	if c.Audio.BlockSize == 0 {
		c.Audio.BlockSize = def.Audio.BlockSize
	}
	if c.Haptics.Port == "" {
		c.Haptics.Port = def.Haptics.Port
	}
	if c.Loopback.NoiseLevel == 0 {
		c.Loopback.NoiseLevel = def.Loopback.NoiseLevel
	}
	if c.Loopback.PeerLevel == 0 {
		c.Loopback.PeerLevel = def.Loopback.PeerLevel
	}
	c.Runtime.ensureDefaults()
}
