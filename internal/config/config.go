// Package config loads the monitor configuration: built-in defaults, then an
// optional TOML file, then TRIMMER_* environment variables. Command-line
// flags are applied on top by the caller before Validate.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// SampleConfig returns an annotated example config file.
func SampleConfig() string {
	return sampleConfig
}

// DefaultPath is read when no config file is given and it exists.
const DefaultPath = "/etc/trimmer-monitor/config.toml"

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "TRIMMER_"

// Database selects the shared plant database.
type Database struct {
	Driver    string `toml:"driver" env:"DRIVER"`
	DSN       string `toml:"dsn" env:"DSN"`
	TimeoutMs int    `toml:"timeout_ms" env:"TIMEOUT_MS"`
}

// Camera selects where frames come from.
type Camera struct {
	// Source is one of "synthetic", "file" or "http".
	Source    string `toml:"source" env:"SOURCE"`
	Dir       string `toml:"dir" env:"DIR"`
	URL       string `toml:"url" env:"URL"`
	TimeoutMs int    `toml:"timeout_ms" env:"TIMEOUT_MS"`
	Width     int    `toml:"width" env:"WIDTH"`
	Height    int    `toml:"height" env:"HEIGHT"`
}

// MQTT configures the event mirror. An empty broker disables it.
type MQTT struct {
	Broker      string `toml:"broker" env:"BROKER"`
	TopicPrefix string `toml:"topic_prefix" env:"TOPIC_PREFIX"`
	ClientID    string `toml:"client_id" env:"CLIENT_ID"`
	BufferSize  int    `toml:"buffer_size" env:"BUFFER_SIZE"`
}

// HTTP configures the calibration server. An empty address disables it.
type HTTP struct {
	Addr string `toml:"addr" env:"ADDR"`
}

// Loop contains the monitor timing.
type Loop struct {
	PollMs           int `toml:"poll_ms" env:"POLL_MS"`
	DwellMs          int `toml:"dwell_ms" env:"DWELL_MS"`
	TelemetrySeconds int `toml:"telemetry_seconds" env:"TELEMETRY_SECONDS"`
	BackoffMs        int `toml:"backoff_ms" env:"BACKOFF_MS"`
	JPEGQuality      int `toml:"jpeg_quality" env:"JPEG_QUALITY"`
	SpoolSize        int `toml:"spool_size" env:"SPOOL_SIZE"`
}

// GPIO configures the stack light.
type GPIO struct {
	Enabled bool `toml:"enabled" env:"ENABLED"`
	Red     int  `toml:"red" env:"RED"`
	Yellow  int  `toml:"yellow" env:"YELLOW"`
	Green   int  `toml:"green" env:"GREEN"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
}

// Config is the full monitor configuration.
type Config struct {
	MachineID int    `toml:"machine_id" env:"MACHINE_ID"`
	DeviceID  string `toml:"device_id" env:"DEVICE_ID"`
	LockDir   string `toml:"lock_dir" env:"LOCK_DIR"`

	Database Database `toml:"database" envPrefix:"DB_"`
	Camera   Camera   `toml:"camera" envPrefix:"CAMERA_"`
	MQTT     MQTT     `toml:"mqtt" envPrefix:"MQTT_"`
	HTTP     HTTP     `toml:"http" envPrefix:"HTTP_"`
	Loop     Loop     `toml:"loop" envPrefix:"LOOP_"`
	GPIO     GPIO     `toml:"gpio" envPrefix:"GPIO_"`
	Logging  Logging  `toml:"logging" envPrefix:"LOG_"`
}

// Load returns the defaults overlaid with the TOML file at path and the
// environment. An empty path reads DefaultPath if it exists. The result is
// not validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(c); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("parse config %s: %s", path, strict.String())
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Poll returns the loop period.
func (c *Config) Poll() time.Duration { return ms(c.Loop.PollMs) }

// Dwell returns the dwell threshold.
func (c *Config) Dwell() time.Duration { return ms(c.Loop.DwellMs) }

// Backoff returns the pause after a failed iteration.
func (c *Config) Backoff() time.Duration { return ms(c.Loop.BackoffMs) }

// TelemetryInterval returns the telemetry period.
func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.Loop.TelemetrySeconds) * time.Second
}

// DBTimeout returns the per-call database timeout.
func (c *Config) DBTimeout() time.Duration { return ms(c.Database.TimeoutMs) }

// CameraTimeout returns the HTTP snapshot timeout.
func (c *Config) CameraTimeout() time.Duration { return ms(c.Camera.TimeoutMs) }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
