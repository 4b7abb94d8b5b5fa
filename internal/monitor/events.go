package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/trimmer-monitor/internal/logic"
	"github.com/sweeney/trimmer-monitor/internal/mqtt"
	"github.com/sweeney/trimmer-monitor/internal/status"
	"github.com/sweeney/trimmer-monitor/internal/store"
)

// Error code written with DEGRADED telemetry.
const errCodeLoopFailures = "LOOP_FAILURES"

// record converts a lifecycle event into its event log row.
func record(machineID int, ev logic.Event) store.EventRecord {
	rec := store.EventRecord{
		MachineID: machineID,
		CycleID:   ev.CycleID,
		Type:      string(ev.Type),
		Lot:       ev.Lot,
		At:        ev.Timestamp,
	}
	switch ev.Type {
	case logic.EventPlacedIn:
		area := ev.Area
		rec.Area = &area
	case logic.EventPushedOut:
		area := ev.Area
		rec.Area = &area
		rec.Detail = fmt.Sprintf("duration_sec:%.2f", ev.Duration.Seconds())
	case logic.EventCycleComplete:
		rec.Detail = fmt.Sprintf("cycle_time_sec:%.2f", ev.Duration.Seconds())
	}
	return rec
}

// emit hands an event to the sink and the MQTT mirror. Failures are logged
// and never undo the transition.
func (s *Session) emit(ctx context.Context, ev logic.Event) {
	s.log.Info("cycle event", "event", ev.Type, "cycle_id", ev.CycleID, "lot", ev.Lot, "area", ev.Area)

	if id, err := s.events.LogEvent(ctx, record(s.machineID, ev)); err != nil {
		s.log.Warn("event write failed", "event", ev.Type, "cycle_id", ev.CycleID, "error", err)
		s.tracker.SetStoreConnected(false)
	} else {
		s.log.Debug("event written", "event", ev.Type, "id", id)
		s.tracker.SetStoreConnected(true)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ev); err != nil {
			s.log.Warn("mqtt publish failed", "event", ev.Type, "error", err)
		}
	}
}

// noteTransition writes the human-readable event log and flags false starts.
func (s *Session) noteTransition(prev, cur logic.State, events []logic.Event, now time.Time) {
	for _, ev := range events {
		switch ev.Type {
		case logic.EventPlacedIn:
			lot := ev.Lot
			if lot == "" {
				lot = "N/A"
			}
			s.eventLog.Add(now, fmt.Sprintf("PLACED - Cycle %d (Lot: %s)", ev.CycleID, lot))
		case logic.EventCycleComplete:
			s.eventLog.Add(now, fmt.Sprintf("PUSHED - Cycle complete (%.1fs)", ev.Duration.Seconds()))
		}
	}

	switch {
	case prev.Phase == logic.PhasePartPlaced && cur.Phase == logic.PhaseTrimming:
		s.log.Info("trimming", "cycle_id", cur.CycleID)
		s.eventLog.Add(now, fmt.Sprintf("TRIMMING - Cycle %d", cur.CycleID))
	case prev.Phase == logic.PhasePartPlaced && cur.Phase == logic.PhaseEmpty:
		s.log.Warn("part removed before dwell elapsed", "cycle_id", prev.CycleID,
			"dwell", s.machine.Dwell(), "held", now.Sub(prev.PhaseStart))
		s.eventLog.Add(now, fmt.Sprintf("WARNING: Part removed too quickly (Cycle %d)", prev.CycleID))
	}
}

// reportTelemetry writes the periodic telemetry row, retries spooled events
// and publishes a heartbeat.
func (s *Session) reportTelemetry(ctx context.Context, snap logic.TelemetrySnapshot) {
	t := store.Telemetry{
		MachineID:      s.machineID,
		CyclesLastHour: snap.CyclesPerHour,
		UptimeSeconds:  int64(snap.Uptime / time.Second),
		Status:         store.StatusOnline,
	}
	if s.degraded {
		t.Status = store.StatusDegraded
		t.ErrorCode = errCodeLoopFailures
		t.ErrorText = s.lastErr
	}
	s.log.Info("telemetry", "status", t.Status, "cycles_last_hour", t.CyclesLastHour,
		"total_cycles", snap.TotalCycles, "uptime_seconds", t.UptimeSeconds)

	if err := s.backend.LogTelemetry(ctx, t); err != nil {
		s.log.Warn("telemetry write failed", "error", err)
		s.tracker.SetStoreConnected(false)
	} else {
		s.tracker.SetStoreConnected(true)
	}

	s.flushEvents(ctx)
	s.publishSystem("HEARTBEAT", "", false)
}

// flusher is implemented by event sinks that hold events for resend.
type flusher interface {
	Flush(ctx context.Context) error
	Pending() int
}

// flushEvents retries events the sink is holding.
func (s *Session) flushEvents(ctx context.Context) {
	f, ok := s.events.(flusher)
	if !ok || f.Pending() == 0 {
		return
	}
	if err := f.Flush(ctx); err != nil {
		s.log.Warn("event resend failed", "pending", f.Pending(), "error", err)
		return
	}
	s.tracker.SetStoreConnected(true)
}

// publishSystem publishes a status snapshot as an MQTT system event.
func (s *Session) publishSystem(event, reason string, retained bool) {
	if s.publisher == nil {
		return
	}
	if s.mqtt != nil {
		s.tracker.SetMQTTConnected(s.mqtt.IsConnected())
	}
	if s.network != nil {
		if n := s.network(); n != nil {
			s.tracker.SetNetwork(n)
		}
	}
	snap := s.tracker.Snapshot()
	err := s.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  s.now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		s.log.Warn("mqtt system publish failed", "event", event, "error", err)
	}
}
