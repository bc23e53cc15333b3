package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"tomgalvin.uk/luckprint/internal/bitmap"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Printer PrinterConfig `yaml:"printer"`
	Encoder EncoderConfig `yaml:"encoder"`
	Queue   QueueConfig   `yaml:"queue"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
	Webhook WebhookConfig `yaml:"webhook"`
	Font    FontConfig    `yaml:"font"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// Advertise the API over mDNS under this instance name; empty disables it
	MDNSName string `yaml:"mdns_name"`
	// image_path requests must point inside this directory; empty refuses them
	ImageDir string `yaml:"image_dir"`
}

type PrinterConfig struct {
	NamePrefix     string        `yaml:"name_prefix"`
	WireFormat     string        `yaml:"wire_format"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

type EncoderConfig struct {
	Strategy   string  `yaml:"strategy"`
	Brightness float64 `yaml:"brightness"`
	// Zero picks the default for the strategy
	Contrast float64 `yaml:"contrast"`
	Matrix   string  `yaml:"matrix"`
}

type QueueConfig struct {
	Capacity       int           `yaml:"capacity"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

type HistoryConfig struct {
	// Empty disables the history log
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WebhookConfig struct {
	// GitHub webhook secret; when set every delivery must carry a valid signature
	Secret string `yaml:"secret"`
}

type FontConfig struct {
	Builtin string  `yaml:"builtin"`
	Path    string  `yaml:"path"`
	Size    float64 `yaml:"size"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         5444,
			Host:         "127.0.0.1",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Printer: PrinterConfig{
			NamePrefix:     "LuckP_D1",
			WireFormat:     "hex",
			ScanTimeout:    10 * time.Second,
			ConnectTimeout: 2 * time.Second,
			ProbeTimeout:   1 * time.Second,
			WriteTimeout:   5 * time.Second,
		},
		Encoder: EncoderConfig{
			Strategy:   "threshold",
			Brightness: bitmap.DefaultBrightness,
			Matrix:     bitmap.DefaultMatrix,
		},
		Queue: QueueConfig{
			Capacity:       16,
			JobTimeout:     30 * time.Second,
			HealthInterval: 10 * time.Second,
		},
		History: HistoryConfig{
			Path:      "./data/history.db",
			Retention: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Font: FontConfig{
			Builtin: "goregular",
			Size:    24,
		},
	}
}

// Reads the config file, falling back to defaults if it doesn't exist, then
// applies any LUCKPRINT_* environment overrides
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LUCKPRINT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LUCKPRINT_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}

	if v := os.Getenv("LUCKPRINT_HOST"); v != "" {
		c.Server.Host = v
	}

	if v := os.Getenv("LUCKPRINT_PRINTER_PREFIX"); v != "" {
		c.Printer.NamePrefix = v
	}

	if v := os.Getenv("LUCKPRINT_WIRE_FORMAT"); v != "" {
		c.Printer.WireFormat = v
	}

	if v := os.Getenv("LUCKPRINT_STRATEGY"); v != "" {
		c.Encoder.Strategy = v
	}

	if v := os.Getenv("LUCKPRINT_IMAGE_DIR"); v != "" {
		c.Server.ImageDir = v
	}

	if v := os.Getenv("LUCKPRINT_HISTORY_PATH"); v != "" {
		c.History.Path = v
	}

	if v := os.Getenv("LUCKPRINT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("LUCKPRINT_WEBHOOK_SECRET"); v != "" {
		c.Webhook.Secret = v
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}

	if c.Printer.NamePrefix == "" {
		return fmt.Errorf("printer name prefix is required")
	}

	if _, err := bitmap.ParseWireFormat(c.Printer.WireFormat); err != nil {
		return err
	}

	if c.Printer.ScanTimeout <= 0 || c.Printer.ConnectTimeout <= 0 || c.Printer.ProbeTimeout <= 0 || c.Printer.WriteTimeout <= 0 {
		return fmt.Errorf("printer timeouts must be positive")
	}

	if _, err := bitmap.ParseStrategy(c.Encoder.Strategy); err != nil {
		return err
	}

	if c.Encoder.Brightness < 0 || c.Encoder.Brightness > 1 {
		return fmt.Errorf("encoder brightness must be between 0 and 1, got %v", c.Encoder.Brightness)
	}

	if c.Encoder.Contrast < 0 {
		return fmt.Errorf("encoder contrast must be non-negative")
	}

	if _, ok := bitmap.Matrices[c.Encoder.Matrix]; !ok {
		return fmt.Errorf("unknown diffusion matrix %q", c.Encoder.Matrix)
	}

	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue capacity must be at least 1")
	}

	if c.Queue.JobTimeout < 0 || c.Queue.HealthInterval < 0 {
		return fmt.Errorf("queue durations must be non-negative")
	}

	if c.History.Retention < 0 {
		return fmt.Errorf("history retention must be non-negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Logging.Format)
	}

	if c.Font.Size <= 0 {
		return fmt.Errorf("font size must be positive")
	}

	return nil
}

// Encoder options with the strategy default filled in for an unset contrast
func (c *Config) EncoderOptions() (bitmap.EncoderOptions, error) {
	s, err := bitmap.ParseStrategy(c.Encoder.Strategy)
	if err != nil {
		return bitmap.EncoderOptions{}, err
	}
	opts := bitmap.DefaultEncoderOptions(s)
	opts.Brightness = c.Encoder.Brightness
	if c.Encoder.Contrast > 0 {
		opts.Contrast = c.Encoder.Contrast
	}
	opts.Matrix = c.Encoder.Matrix
	return opts, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
