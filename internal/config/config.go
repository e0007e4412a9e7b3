// Package config holds the runtime configuration for the mixerd server.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mixerd/mixerd/internal/sample"
)

// Config holds all runtime configuration for the mixerd server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir  string
	HTTPPort int

	// Default sample spec applied to modules that don't override it.
	Format   string
	Rate     int
	Channels int

	// SinkArgs is the module argument string the null sink is loaded
	// with (e.g. "sink_name=null rate=48000").
	SinkArgs string

	LogLevel  string
	LogFormat string // "text" or "json"
}

// defaults
const (
	defaultDataDir   = "./data"
	defaultHTTPPort  = 8080
	defaultFormat    = "s16ne"
	defaultRate      = 44100
	defaultChannels  = 2
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// envPrefix is the prefix for all mixerd environment variables.
const envPrefix = "MIXERD_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("mixerd", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the state database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "admin HTTP server listen port")
	fs.StringVar(&cfg.Format, "format", defaultFormat, "default sample format (u8, s16le, s16be, s16ne, float32ne, alaw, ulaw)")
	fs.IntVar(&cfg.Rate, "rate", defaultRate, "default sample rate in Hz")
	fs.IntVar(&cfg.Channels, "channels", defaultChannels, "default channel count")
	fs.StringVar(&cfg.SinkArgs, "sink-args", "", "module arguments for the null sink (key=value pairs)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was
// not explicitly provided on the command line.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":   envPrefix + "DATA_DIR",
		"http-port":  envPrefix + "HTTP_PORT",
		"format":     envPrefix + "FORMAT",
		"rate":       envPrefix + "RATE",
		"channels":   envPrefix + "CHANNELS",
		"sink-args":  envPrefix + "SINK_ARGS",
		"log-level":  envPrefix + "LOG_LEVEL",
		"log-format": envPrefix + "LOG_FORMAT",
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
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "format":
			cfg.Format = val
		case "rate":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.Rate = v
			}
		case "channels":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.Channels = v
			}
		case "sink-args":
			cfg.SinkArgs = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	if _, err := sample.ParseFormat(c.Format); err != nil {
		return err
	}
	if c.Rate < 1 || c.Rate > 192000*8 {
		return fmt.Errorf("rate must be between 1 and %d, got %d", 192000*8, c.Rate)
	}
	if c.Channels < 1 || c.Channels > sample.MaxChannels {
		return fmt.Errorf("channels must be between 1 and %d, got %d", sample.MaxChannels, c.Channels)
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

// DefaultSampleSpec returns the configured default sample spec.
func (c *Config) DefaultSampleSpec() (sample.Spec, error) {
	f, err := sample.ParseFormat(c.Format)
	if err != nil {
		return sample.Spec{}, err
	}
	spec := sample.Spec{Format: f, Channels: uint8(c.Channels), Rate: uint32(c.Rate)}
	if err := spec.Valid(); err != nil {
		return sample.Spec{}, err
	}
	return spec, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate
// format (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log
// level.
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
