package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tomgalvin.uk/luckprint/internal/bitmap"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults should validate: %v", err)
	}
	if cfg.Printer.ConnectTimeout != 2*time.Second || cfg.Queue.JobTimeout != 30*time.Second {
		t.Errorf("Unexpected default timeouts %+v %+v", cfg.Printer, cfg.Queue)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "luckprint.yaml")
	data := `
server:
  port: 9000
printer:
  wire_format: raw
  write_timeout: 3s
encoder:
  strategy: diffusion
  matrix: atkinson
queue:
  health_interval: 0s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9000 || cfg.Printer.WireFormat != "raw" || cfg.Printer.WriteTimeout != 3*time.Second {
		t.Errorf("File values not applied: %+v", cfg)
	}
	if cfg.Queue.HealthInterval != 0 {
		t.Errorf("Expecting health checks disabled, got %v", cfg.Queue.HealthInterval)
	}
	// untouched sections keep their defaults
	if cfg.Printer.NamePrefix != "LuckP_D1" {
		t.Errorf("Unexpected prefix %s", cfg.Printer.NamePrefix)
	}

	opts, err := cfg.EncoderOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Strategy != bitmap.Diffusion || opts.Contrast != 3.55 || opts.Matrix != "atkinson" {
		t.Errorf("Unexpected encoder options %+v", opts)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LUCKPRINT_PORT", "6000")
	t.Setenv("LUCKPRINT_WEBHOOK_SECRET", "s3cret")
	t.Setenv("LUCKPRINT_LOG_LEVEL", "debug")
	t.Setenv("LUCKPRINT_IMAGE_DIR", "/srv/photos")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 6000 || cfg.Webhook.Secret != "s3cret" || cfg.Logging.Level != "debug" || cfg.Server.ImageDir != "/srv/photos" {
		t.Errorf("Environment not applied: %+v", cfg)
	}
}

func TestBadEnvPort(t *testing.T) {
	t.Setenv("LUCKPRINT_PORT", "eighty")
	if _, err := Load(""); err == nil {
		t.Error("Expecting an error for a non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"port":        func(c *Config) { c.Server.Port = 0 },
		"wire format": func(c *Config) { c.Printer.WireFormat = "base64" },
		"strategy":    func(c *Config) { c.Encoder.Strategy = "halftone" },
		"brightness":  func(c *Config) { c.Encoder.Brightness = 1.5 },
		"matrix":      func(c *Config) { c.Encoder.Matrix = "nope" },
		"capacity":    func(c *Config) { c.Queue.Capacity = 0 },
		"timeout":     func(c *Config) { c.Printer.ConnectTimeout = 0 },
		"log format":  func(c *Config) { c.Logging.Format = "xml" },
		"font size":   func(c *Config) { c.Font.Size = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := defaults()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expecting a validation error")
			}
		})
	}
}
