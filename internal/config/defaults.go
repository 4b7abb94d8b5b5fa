package config

import (
	"github.com/sweeney/trimmer-monitor/internal/gpio"
	"github.com/sweeney/trimmer-monitor/internal/mqtt"
	"github.com/sweeney/trimmer-monitor/internal/store"
	"github.com/sweeney/trimmer-monitor/internal/vision"
)

// Default returns the built-in configuration. MachineID has no default.
func Default() Config {
	return Config{
		LockDir: "/run/trimmer-monitor",
		Database: Database{
			Driver:    store.DriverMySQL,
			TimeoutMs: int(store.DefaultTimeout.Milliseconds()),
		},
		Camera: Camera{
			Source:    SourceHTTP,
			URL:       "http://127.0.0.1:8081/snapshot.jpg",
			TimeoutMs: 2000,
		},
		MQTT: MQTT{
			TopicPrefix: mqtt.DefaultTopicPrefix,
			BufferSize:  mqtt.DefaultBufferSize,
		},
		HTTP: HTTP{Addr: ":5000"},
		Loop: Loop{
			PollMs:           100,
			DwellMs:          1000,
			TelemetrySeconds: 60,
			BackoffMs:        1000,
			JPEGQuality:      vision.DefaultJPEGQuality,
			SpoolSize:        store.DefaultSpoolCapacity,
		},
		GPIO: GPIO{
			Red:    gpio.DefaultPinRed,
			Yellow: gpio.DefaultPinYellow,
			Green:  gpio.DefaultPinGreen,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
	}
}
