package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/trimmer-monitor/internal/vision"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event               string       `json:"event,omitempty"`
	Reason              string       `json:"reason,omitempty"`
	MachineID           int          `json:"machine_id"`
	MachineName         string       `json:"machine_name"`
	SessionID           string       `json:"session_id,omitempty"`
	Present             bool         `json:"present"`
	Area                int          `json:"area"`
	Phase               string       `json:"phase"`
	CycleID             int64        `json:"cycle_id,omitempty"`
	ActiveLot           *string      `json:"active_lot"`
	TotalCycles         int          `json:"total_cycles"`
	CyclesPerHour       int          `json:"cycles_per_hour"`
	Degraded            bool         `json:"degraded"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastError           string       `json:"last_error,omitempty"`
	UptimeSeconds       int64        `json:"uptime_seconds"`
	StartTime           string       `json:"start_time"`
	Timestamp           string       `json:"timestamp"`
	Store               StoreStatus  `json:"store"`
	MQTT                MQTTStatus   `json:"mqtt"`
	Counts              CountsJSON   `json:"counts"`
	Network             *NetworkJSON `json:"network,omitempty"`
	Config              ConfigJSON   `json:"config"`
}

// StoreStatus reports database reachability.
type StoreStatus struct {
	Connected bool   `json:"connected"`
	Driver    string `json:"driver"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// CountsJSON is the JSON representation of transition counts.
type CountsJSON struct {
	Placed      int `json:"placed"`
	FalseStarts int `json:"false_starts"`
	Completed   int `json:"completed"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of the live detection config and
// loop settings.
type ConfigJSON struct {
	ROI         vision.Region `json:"roi"`
	Threshold   int           `json:"threshold"`
	MinArea     int           `json:"min_area"`
	PollMs      int64         `json:"poll_ms"`
	TelemetryMs int64         `json:"telemetry_ms"`
}

func buildInner(snap Snapshot) StatusInner {
	phase := string(snap.Phase)
	if phase == "" {
		phase = "UNKNOWN"
	}

	inner := StatusInner{
		MachineID:           snap.Info.MachineID,
		MachineName:         snap.Info.MachineName,
		SessionID:           snap.Info.SessionID,
		Present:             snap.Present,
		Area:                snap.Area,
		Phase:               phase,
		CycleID:             snap.CycleID,
		TotalCycles:         snap.TotalCycles,
		CyclesPerHour:       snap.CyclesPerHour,
		Degraded:            snap.Degraded,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		LastError:           snap.LastError,
		UptimeSeconds:       int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:           snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:           snap.Now.UTC().Format(time.RFC3339),
		Store:               StoreStatus{Connected: snap.StoreConnected, Driver: snap.Info.StoreDriver},
		MQTT:                MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Info.Broker},
		Counts: CountsJSON{
			Placed:      snap.Counts.Placed,
			FalseStarts: snap.Counts.FalseStarts,
			Completed:   snap.Counts.Completed,
		},
		Config: ConfigJSON{
			ROI:         snap.Detection.Region,
			Threshold:   snap.Detection.Threshold,
			MinArea:     snap.Detection.MinArea,
			PollMs:      snap.Info.PollMs,
			TelemetryMs: snap.Info.TelemetryMs,
		},
	}
	if snap.Lot != "" {
		lot := snap.Lot
		inner.ActiveLot = &lot
	}
	if n := snap.Network; n != nil {
		inner.Network = &NetworkJSON{
			Type:       n.Type,
			IP:         n.IP,
			Status:     n.Status,
			Gateway:    n.Gateway,
			WifiStatus: n.WifiStatus,
			SSID:       n.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
