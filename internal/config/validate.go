package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sweeney/trimmer-monitor/internal/store"
)

// Camera sources.
const (
	SourceSynthetic = "synthetic"
	SourceFile      = "file"
	SourceHTTP      = "http"
)

// ErrMachineIDRequired is returned when no machine identity is configured.
var ErrMachineIDRequired = errors.New("machine_id is required")

// Validate checks the configuration. Every problem is reported.
func (c *Config) Validate() error {
	var errs []error
	if c.MachineID <= 0 {
		errs = append(errs, ErrMachineIDRequired)
	}

	switch c.Database.Driver {
	case store.DriverMySQL, store.DriverSQLite:
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, errors.New("database.dsn is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported value %q", c.Database.Driver))
	}

	switch c.Camera.Source {
	case SourceSynthetic:
	case SourceFile:
		if c.Camera.Dir == "" {
			errs = append(errs, errors.New("camera.dir is required for the file source"))
		}
	case SourceHTTP:
		if c.Camera.URL == "" {
			errs = append(errs, errors.New("camera.url is required for the http source"))
		}
	default:
		errs = append(errs, fmt.Errorf("camera.source: unsupported value %q", c.Camera.Source))
	}

	positive := []struct {
		name string
		v    int
	}{
		{"loop.poll_ms", c.Loop.PollMs},
		{"loop.dwell_ms", c.Loop.DwellMs},
		{"loop.telemetry_seconds", c.Loop.TelemetrySeconds},
		{"loop.backoff_ms", c.Loop.BackoffMs},
		{"database.timeout_ms", c.Database.TimeoutMs},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.v))
		}
	}
	if q := c.Loop.JPEGQuality; q < 1 || q > 100 {
		errs = append(errs, fmt.Errorf("loop.jpeg_quality must be between 1 and 100, got %d", q))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}
