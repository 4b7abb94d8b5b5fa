package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/sweeney/trimmer-monitor/internal/vision"
)

// Fake is an in-memory Store for testing. Set the *Err fields to inject
// failures. Event and telemetry writes fail on a cancelled context, as a
// database driver would.
type Fake struct {
	mu sync.Mutex

	Machines  map[int]MachineConfig
	Lots      map[int]string
	Events    []EventRecord
	Telemetry []Telemetry
	Devices   []Device
	Saves     int
	Closed    bool

	EventErr     error
	TelemetryErr error
	LoadErr      error
	SaveErr      error
	LotErr       error
	PingErr      error

	nextID int64
}

// NewFake creates a Fake holding the given machines.
func NewFake(machines ...MachineConfig) *Fake {
	f := &Fake{
		Machines: make(map[int]MachineConfig),
		Lots:     make(map[int]string),
	}
	for _, m := range machines {
		f.Machines[m.MachineID] = m
	}
	return f
}

func (f *Fake) LogEvent(ctx context.Context, rec EventRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EventErr != nil {
		return 0, f.EventErr
	}
	f.nextID++
	f.Events = append(f.Events, rec)
	return f.nextID, nil
}

func (f *Fake) LogTelemetry(ctx context.Context, t Telemetry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TelemetryErr != nil {
		return f.TelemetryErr
	}
	f.Telemetry = append(f.Telemetry, t)
	return nil
}

func (f *Fake) LoadConfig(ctx context.Context, machineID int) (MachineConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LoadErr != nil {
		return MachineConfig{}, f.LoadErr
	}
	m, ok := f.Machines[machineID]
	if !ok {
		return MachineConfig{}, fmt.Errorf("load config for machine %d: %w", machineID, ErrNotFound)
	}
	return m, nil
}

func (f *Fake) SaveConfig(ctx context.Context, machineID int, cfg vision.DetectionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SaveErr != nil {
		return f.SaveErr
	}
	m, ok := f.Machines[machineID]
	if !ok {
		return fmt.Errorf("save config for machine %d: %w", machineID, ErrNotFound)
	}
	m.Detection = cfg
	f.Machines[machineID] = m
	f.Saves++
	return nil
}

func (f *Fake) ActiveLot(ctx context.Context, machineID int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LotErr != nil {
		return "", f.LotErr
	}
	return f.Lots[machineID], nil
}

func (f *Fake) RegisterDevice(ctx context.Context, d Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Devices = append(f.Devices, d)
	return nil
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PingErr
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// SetEventErr changes the LogEvent failure under the lock.
func (f *Fake) SetEventErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EventErr = err
}

// SetLot sets the active lot for a machine.
func (f *Fake) SetLot(machineID int, lot string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Lots[machineID] = lot
}

// GetEvents returns a copy of the logged events.
func (f *Fake) GetEvents() []EventRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]EventRecord, len(f.Events))
	copy(out, f.Events)
	return out
}

// GetTelemetry returns a copy of the logged telemetry.
func (f *Fake) GetTelemetry() []Telemetry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Telemetry, len(f.Telemetry))
	copy(out, f.Telemetry)
	return out
}

// Machine returns the stored row for machineID.
func (f *Fake) Machine(machineID int) MachineConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Machines[machineID]
}
