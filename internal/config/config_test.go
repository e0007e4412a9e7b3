package config

import (
	"testing"

	"github.com/mixerd/mixerd/internal/sample"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.Format != defaultFormat {
		t.Errorf("Format = %q, want %q", cfg.Format, defaultFormat)
	}
	if cfg.Rate != defaultRate {
		t.Errorf("Rate = %d, want %d", cfg.Rate, defaultRate)
	}

	spec, err := cfg.DefaultSampleSpec()
	if err != nil {
		t.Fatalf("DefaultSampleSpec: %v", err)
	}
	if spec.Format != sample.S16NE || spec.Channels != 2 || spec.Rate != 44100 {
		t.Errorf("default spec = %v, want s16ne 2ch 44100Hz", spec)
	}
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := load([]string{"-rate", "48000", "-channels", "1", "-log-level", "debug"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Rate != 48000 || cfg.Channels != 1 {
		t.Errorf("spec flags not applied: rate=%d channels=%d", cfg.Rate, cfg.Channels)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestEnvOverridesDefaultsButNotFlags(t *testing.T) {
	t.Setenv("MIXERD_RATE", "96000")
	t.Setenv("MIXERD_HTTP_PORT", "9999")

	// Env applies when the flag is absent.
	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Rate != 96000 {
		t.Errorf("Rate = %d, want env override 96000", cfg.Rate)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("HTTPPort = %d, want env override 9999", cfg.HTTPPort)
	}

	// A CLI flag beats the env var.
	cfg, err = load([]string{"-rate", "22050"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Rate != 22050 {
		t.Errorf("Rate = %d, want flag value 22050", cfg.Rate)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := [][]string{
		{"-http-port", "0"},
		{"-format", "dsd"},
		{"-channels", "0"},
		{"-channels", "64"},
		{"-rate", "0"},
		{"-log-level", "verbose"},
		{"-log-format", "xml"},
	}
	for _, args := range cases {
		if _, err := load(args); err == nil {
			t.Errorf("load(%v) succeeded, want error", args)
		}
	}
}

func TestSlogLevelMapping(t *testing.T) {
	cfg, err := load([]string{"-log-level", "warn", "-log-format", "json"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SlogLevel().String() != "WARN" {
		t.Errorf("SlogLevel = %v, want WARN", cfg.SlogLevel())
	}
}
