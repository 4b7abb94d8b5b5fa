package logic

import "time"

// TelemetryWindowSize is the trailing window used for cycles per hour.
const TelemetryWindowSize = time.Hour

// DefaultTelemetryInterval is how often telemetry is reported.
const DefaultTelemetryInterval = 60 * time.Second

// Telemetry aggregates completed cycles over a sliding one-hour window.
// Not safe for concurrent use; owned by the monitor loop.
type Telemetry struct {
	bootTime    time.Time
	completions []time.Time
	total       int
	interval    time.Duration
	lastReport  time.Time
}

// NewTelemetry creates an aggregator. bootTime is the uptime origin; the
// first report is due one interval after it.
func NewTelemetry(bootTime time.Time, interval time.Duration) *Telemetry {
	if interval <= 0 {
		interval = DefaultTelemetryInterval
	}
	return &Telemetry{
		bootTime:   bootTime,
		interval:   interval,
		lastReport: bootTime,
	}
}

// RecordCompletion appends a completed cycle.
func (t *Telemetry) RecordCompletion(ts time.Time) {
	t.completions = append(t.completions, ts)
	t.total++
}

// Snapshot prunes completions at or before now-1h and reports the rest.
func (t *Telemetry) Snapshot(now time.Time) TelemetrySnapshot {
	t.prune(now)
	return TelemetrySnapshot{
		Timestamp:     now,
		CyclesPerHour: len(t.completions),
		TotalCycles:   t.total,
		Uptime:        now.Sub(t.bootTime),
	}
}

// CyclesPerHour counts completions in (now-1h, now] without pruning.
func (t *Telemetry) CyclesPerHour(now time.Time) int {
	cutoff := now.Add(-TelemetryWindowSize)
	n := 0
	for _, ts := range t.completions {
		if ts.After(cutoff) && !ts.After(now) {
			n++
		}
	}
	return n
}

// TotalCycles returns the number of completions since boot.
func (t *Telemetry) TotalCycles() int {
	return t.total
}

// BootTime returns the uptime origin.
func (t *Telemetry) BootTime() time.Time {
	return t.bootTime
}

// CheckReport returns a snapshot if the report interval has elapsed since
// the last report, otherwise nil.
func (t *Telemetry) CheckReport(now time.Time) *TelemetrySnapshot {
	if now.Sub(t.lastReport) < t.interval {
		return nil
	}
	t.lastReport = now
	snap := t.Snapshot(now)
	return &snap
}

func (t *Telemetry) prune(now time.Time) {
	cutoff := now.Add(-TelemetryWindowSize)
	i := 0
	for i < len(t.completions) && !t.completions[i].After(cutoff) {
		i++
	}
	if i > 0 {
		t.completions = append(t.completions[:0], t.completions[i:]...)
	}
}
