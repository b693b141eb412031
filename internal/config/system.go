package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ChannelSettings is the persisted mix state of one output channel.
type ChannelSettings struct {
	GainDB float32 `json:"gain_db"`
	Muted  bool    `json:"muted"`
}

// SystemConfiguration is the persistent engine configuration, stored as
// JSON at the config path. It survives restarts and is written back on
// shutdown.
type SystemConfiguration struct {
	ClientName  string            `json:"client_name"`
	SystemName  string            `json:"system_name"`
	DeviceName  string            `json:"device_name"`
	SampleRate  int               `json:"sample_rate"`
	BufferSize  int               `json:"buffer_size"`
	NumChannels int               `json:"num_channels"`
	FrameRate   int               `json:"ltc_frame_rate"`
	Channels    []ChannelSettings `json:"channels"`
}

// DefaultSystemConfiguration returns the configuration written on first
// boot.
func DefaultSystemConfiguration() SystemConfiguration {
	sc := SystemConfiguration{
		ClientName:  "cuepilot",
		SystemName:  "system",
		DeviceName:  "default",
		SampleRate:  48000,
		BufferSize:  256,
		NumChannels: 8,
		FrameRate:   25,
	}
	sc.Channels = make([]ChannelSettings, sc.NumChannels+2)
	return sc
}

// normalize repairs out-of-range fields so a hand-edited file cannot take
// the engine down.
func (sc *SystemConfiguration) normalize() {
	def := DefaultSystemConfiguration()
	if sc.SampleRate <= 0 {
		sc.SampleRate = def.SampleRate
	}
	if sc.BufferSize <= 0 {
		sc.BufferSize = def.BufferSize
	}
	if sc.NumChannels <= 0 {
		sc.NumChannels = def.NumChannels
	}
	if sc.FrameRate != 24 && sc.FrameRate != 25 && sc.FrameRate != 30 {
		sc.FrameRate = def.FrameRate
	}
	if sc.ClientName == "" {
		sc.ClientName = def.ClientName
	}
	if sc.SystemName == "" {
		sc.SystemName = def.SystemName
	}
	// One settings entry per source: metronome, timecode, then channels.
	want := sc.NumChannels + 2
	for len(sc.Channels) < want {
		sc.Channels = append(sc.Channels, ChannelSettings{})
	}
	sc.Channels = sc.Channels[:want]
}

// LoadSystemConfiguration reads the configuration file, writing defaults
// first when it is missing. A malformed file is an error; a missing one is
// self-healed.
func LoadSystemConfiguration(path string) (SystemConfiguration, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		def := DefaultSystemConfiguration()
		if err := WriteSystemConfiguration(path, def); err != nil {
			return def, fmt.Errorf("writing default configuration: %w", err)
		}
		return def, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSystemConfiguration(), fmt.Errorf("reading configuration: %w", err)
	}
	var sc SystemConfiguration
	if err := json.Unmarshal(data, &sc); err != nil {
		return DefaultSystemConfiguration(), fmt.Errorf("decoding configuration: %w", err)
	}
	sc.normalize()
	return sc, nil
}

// WriteSystemConfiguration persists the configuration, creating parent
// directories as needed.
func WriteSystemConfiguration(path string, sc SystemConfiguration) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing configuration: %w", err)
	}
	return nil
}
