// Package status holds the state shared between the monitor loop and its
// readers: the latest published status and frame, the live detection config
// and a short log of recent events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/trimmer-monitor/internal/logic"
	"github.com/sweeney/trimmer-monitor/internal/vision"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Info is the static identity and configuration of the running monitor.
type Info struct {
	MachineID   int
	MachineName string
	SessionID   string
	DeviceID    string
	StoreDriver string
	Broker      string
	HTTPAddr    string
	PollMs      int64
	TelemetryMs int64
}

// Frame is what the monitor loop publishes after each iteration.
type Frame struct {
	Present       bool
	Area          int
	Phase         logic.Phase
	CycleID       int64
	Lot           string
	TotalCycles   int
	CyclesPerHour int
	Counts        logic.Counts
	Detection     vision.DetectionConfig
	JPEG          []byte
	Time          time.Time
}

// Health is the loop's failure state.
type Health struct {
	Degraded            bool
	ConsecutiveFailures int
	LastError           string
}

// Snapshot is a point-in-time view of monitor state.
// It is a value type and safe to use after the lock is released. JPEG is
// shared between snapshots and must not be modified.
type Snapshot struct {
	Frame
	Health
	Info           Info
	Seq            uint64
	StoreConnected bool
	MQTTConnected  bool
	Network        *NetworkInfo
	StartTime      time.Time
	Now            time.Time
}

// Uptime returns the duration since the monitor started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds the published snapshot behind an RWMutex. Every update
// replaces fields under the lock, so readers only ever see whole snapshots.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	changed chan struct{}
	now     func() time.Time
}

// NewTracker creates a Tracker with the given start time and identity.
func NewTracker(startTime time.Time, info Info) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Info:      info,
			Frame:     Frame{Phase: logic.PhaseEmpty},
		},
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// Publish swaps in the frame and the loop health together and wakes
// waiting readers. Called from the monitor loop once per iteration.
func (t *Tracker) Publish(f Frame, h Health) {
	t.mu.Lock()
	t.snap.Frame = f
	t.snap.Health = h
	t.snap.Seq++
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()
}

// Changed returns a channel that is closed by the next Publish.
func (t *Tracker) Changed() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.changed
}

// SetHealth sets the loop failure state for an iteration that produced no
// frame.
func (t *Tracker) SetHealth(h Health) {
	t.mu.Lock()
	t.snap.Health = h
	t.mu.Unlock()
}

// SetStoreConnected sets the database reachability.
func (t *Tracker) SetStoreConnected(connected bool) {
	t.mu.Lock()
	t.snap.StoreConnected = connected
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// SetMachineName updates the display name after a config reload.
func (t *Tracker) SetMachineName(name string) {
	t.mu.Lock()
	t.snap.Info.MachineName = name
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the monitor state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
