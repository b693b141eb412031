// Package config holds runtime configuration for the cuepilot engine.
// Precedence: CLI flags > env vars > defaults. The persistent
// SystemConfiguration file lives in system.go.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds the process-level runtime options.
type Config struct {
	DataDir    string // show data, playback media, logs
	ConfigPath string // SystemConfiguration file
	BinaryPort int    // binary request/notification endpoint
	OSCPort    int    // OSC endpoint
	LogLevel   string
	LogFormat  string // "text" or "json"
	Headless   bool   // run without a real audio device (manual driver)
}

// defaults
const (
	defaultDataDir    = "./program_memory"
	defaultConfigPath = ".config/cuepilot/cuepilot.conf"
	defaultBinaryPort = 8081
	defaultOSCPort    = 8082
	defaultLogLevel   = "info"
	defaultLogFormat  = "text"
)

// envPrefix is the prefix for all cuepilot environment variables.
const envPrefix = "CUEPILOT_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("cuepilot", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "directory for show data, playback media and logs")
	fs.StringVar(&cfg.ConfigPath, "config", defaultConfigPath, "path of the system configuration file")
	fs.IntVar(&cfg.BinaryPort, "binary-port", defaultBinaryPort, "UDP port of the binary request endpoint")
	fs.IntVar(&cfg.OSCPort, "osc-port", defaultOSCPort, "UDP port of the OSC endpoint")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.BoolVar(&cfg.Headless, "headless", false, "run without opening an audio device")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line, preserving the precedence
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":    envPrefix + "DATA_DIR",
		"config":      envPrefix + "CONFIG",
		"binary-port": envPrefix + "BINARY_PORT",
		"osc-port":    envPrefix + "OSC_PORT",
		"log-level":   envPrefix + "LOG_LEVEL",
		"log-format":  envPrefix + "LOG_FORMAT",
		"headless":    envPrefix + "HEADLESS",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "config":
			cfg.ConfigPath = val
		case "binary-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.BinaryPort = v
			}
		case "osc-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.OSCPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "headless":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.Headless = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.BinaryPort < 1 || c.BinaryPort > 65535 {
		return fmt.Errorf("binary-port must be between 1 and 65535, got %d", c.BinaryPort)
	}
	if c.OSCPort < 1 || c.OSCPort > 65535 {
		return fmt.Errorf("osc-port must be between 1 and 65535, got %d", c.OSCPort)
	}
	if c.BinaryPort == c.OSCPort {
		return fmt.Errorf("binary-port and osc-port must differ, both are %d", c.BinaryPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)
	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// and level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
