// Package logic contains the pure business logic for trimmer cycle tracking.
// This package has NO external dependencies (no camera, database, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Phase represents where the chuck is in a work cycle.
type Phase string

const (
	PhaseEmpty      Phase = "EMPTY"
	PhasePartPlaced Phase = "PART_PLACED"
	PhaseTrimming   Phase = "TRIMMING"
)

// EventType represents a lifecycle event written to the event sink.
type EventType string

const (
	EventPlacedIn      EventType = "placed_in"
	EventPushedOut     EventType = "pushed_out"
	EventCycleComplete EventType = "cycle_complete"
)

// DefaultDwell is how long a part must stay present before the cycle is
// considered to be trimming rather than a transient detection.
const DefaultDwell = time.Second

// Event is a lifecycle event produced by a state transition.
type Event struct {
	Timestamp time.Time
	Type      EventType
	CycleID   int64
	// Lot is the active lot for the cycle ("" when none is assigned).
	Lot string
	// Area is the measured area at the sample that produced the event.
	// Zero for cycle_complete.
	Area int
	// Duration is the time spent trimming; zero for placed_in.
	Duration time.Duration
}

// State is the full cycle state. It is a value type; Next never mutates
// its argument.
type State struct {
	Phase      Phase
	PhaseStart time.Time
	// CycleID is non-zero iff Phase != PhaseEmpty.
	CycleID int64
	Lot     string
	// LastCycleID is the most recent id handed out, kept so ids stay unique
	// even when two cycles start within the same millisecond.
	LastCycleID int64
}

// Input represents a single presence sample.
type Input struct {
	Present bool
	Area    int
	Time    time.Time
}

// Counts tracks transition outcomes since startup.
type Counts struct {
	Placed      int
	FalseStarts int
	Completed   int
}

// TelemetrySnapshot is the periodic liveness report.
type TelemetrySnapshot struct {
	Timestamp     time.Time
	CyclesPerHour int
	TotalCycles   int
	Uptime        time.Duration
}
