package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/trimmer-monitor/internal/gpio"
	"github.com/sweeney/trimmer-monitor/internal/logic"
	"github.com/sweeney/trimmer-monitor/internal/store"
)

// Start registers the device and announces the session. Failures are logged;
// nothing here stops the monitor from running.
func (s *Session) Start(ctx context.Context, dev store.Device) {
	if dev.DeviceID != "" {
		dev.MachineID = s.machineID
		if err := s.backend.RegisterDevice(ctx, dev); err != nil {
			s.log.Warn("device registration failed", "device_id", dev.DeviceID, "error", err)
			s.tracker.SetStoreConnected(false)
		} else {
			s.log.Info("device registered", "device_id", dev.DeviceID, "ip", dev.IP)
			s.tracker.SetStoreConnected(true)
		}
	}

	s.showSignal(gpio.SignalIdle)
	s.eventLog.Add(s.now(), fmt.Sprintf("Monitor started: %s", s.machineName))
	s.publishSystem("STARTUP", "", true)
	s.log.Info("monitor started", "machine", s.machineName)
}

// Shutdown resends any spooled events, writes OFFLINE telemetry, announces
// the shutdown and releases the camera and stack light. Call it after Run has
// returned. The store and MQTT publisher are owned by the caller.
func (s *Session) Shutdown(ctx context.Context, reason string) error {
	now := s.now()
	if st := s.machine.State(); st.Phase != logic.PhaseEmpty {
		s.log.Warn("shutting down mid-cycle", "cycle_id", st.CycleID, "phase", st.Phase)
	}

	s.flushEvents(ctx)

	snap := s.telemetry.Snapshot(now)
	err := s.backend.LogTelemetry(ctx, store.Telemetry{
		MachineID:      s.machineID,
		CyclesLastHour: snap.CyclesPerHour,
		UptimeSeconds:  int64(snap.Uptime / time.Second),
		Status:         store.StatusOffline,
	})
	if err != nil {
		s.log.Warn("offline telemetry failed", "error", err)
	}

	s.publishSystem("SHUTDOWN", reason, true)

	var errs []error
	if err := s.indicator.Show(gpio.SignalOff); err != nil {
		errs = append(errs, fmt.Errorf("clear stack light: %w", err))
	}
	if err := s.indicator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stack light: %w", err))
	}
	if err := s.camera.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close camera: %w", err))
	}
	s.log.Info("monitor stopped", "reason", reason, "total_cycles", snap.TotalCycles)
	return errors.Join(errs...)
}
