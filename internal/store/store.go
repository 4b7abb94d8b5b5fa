// Package store persists trimmer events, telemetry and detection config to
// the shared plant database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sweeney/trimmer-monitor/internal/vision"
)

// ErrNotFound is returned when the machine row does not exist.
var ErrNotFound = errors.New("machine not found")

// Telemetry status values.
const (
	StatusOnline   = "ONLINE"
	StatusDegraded = "DEGRADED"
	StatusOffline  = "OFFLINE"
)

// MachineConfig is the stored vision config of one trimmer.
type MachineConfig struct {
	MachineID int
	Name      string
	Detection vision.DetectionConfig
}

// EventRecord is one row of the event log.
type EventRecord struct {
	MachineID int
	// CycleID is 0 when the event belongs to no cycle.
	CycleID int64
	Type    string
	Lot     string
	Area    *int
	Detail  string
	At      time.Time
}

// Telemetry is one periodic liveness report.
type Telemetry struct {
	MachineID      int
	CyclesLastHour int
	UptimeSeconds  int64
	Status         string
	ErrorCode      string
	ErrorText      string
}

// Device identifies the Pi attached to a machine.
type Device struct {
	MachineID int
	DeviceID  string
	Hostname  string
	IP        string
}

// EventSink receives lifecycle events.
type EventSink interface {
	// LogEvent appends an event and returns its id.
	LogEvent(ctx context.Context, rec EventRecord) (int64, error)
}

// TelemetrySink receives periodic telemetry.
type TelemetrySink interface {
	LogTelemetry(ctx context.Context, t Telemetry) error
}

// ConfigStore supplies and persists detection config.
type ConfigStore interface {
	// LoadConfig returns ErrNotFound if the machine has no row.
	LoadConfig(ctx context.Context, machineID int) (MachineConfig, error)
	SaveConfig(ctx context.Context, machineID int, cfg vision.DetectionConfig) error
	// ActiveLot returns "" when no lot is assigned.
	ActiveLot(ctx context.Context, machineID int) (string, error)
}

// Store is the full backend used by the monitor.
type Store interface {
	EventSink
	TelemetrySink
	ConfigStore
	RegisterDevice(ctx context.Context, d Device) error
	Ping(ctx context.Context) error
	Close() error
}

// detailsJSON folds area, lot and free-text detail into the JSON blob stored
// in the details column. A bare detail is stored as-is.
func detailsJSON(area *int, lot, detail string) string {
	if area == nil && lot == "" {
		return detail
	}
	d := struct {
		Area    *int   `json:"area,omitempty"`
		ReqLot  string `json:"reqLot,omitempty"`
		Details string `json:"details,omitempty"`
	}{area, lot, detail}
	data, _ := json.Marshal(d)
	return string(data)
}
