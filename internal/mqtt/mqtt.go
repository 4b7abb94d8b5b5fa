// Package mqtt mirrors trimmer events to an MQTT broker, with an abstraction
// for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/sweeney/trimmer-monitor/internal/logic"
)

// DefaultTopicPrefix is the root under which each machine publishes.
const DefaultTopicPrefix = "factory/trimmer"

// Topics holds the per-machine topic names.
type Topics struct {
	Events string
	System string
}

// NewTopics builds the topics for one machine: <prefix>/<id>/events and
// <prefix>/<id>/system.
func NewTopics(prefix string, machineID int) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	base := fmt.Sprintf("%s/%d", prefix, machineID)
	return Topics{
		Events: base + "/events",
		System: base + "/system",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a lifecycle event to the broker.
	// Returns error if publishing fails (should not stop the monitor).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a lifecycle event.
type Payload struct {
	Trimmer TrimmerPayload `json:"trimmer"`
}

// TrimmerPayload contains the lifecycle event details.
type TrimmerPayload struct {
	Timestamp   string   `json:"timestamp"`
	Event       string   `json:"event"`
	CycleID     int64    `json:"cycle_id"`
	Lot         string   `json:"lot,omitempty"`
	Area        *int     `json:"area,omitempty"`
	DurationSec *float64 `json:"duration_sec,omitempty"`
}

// FormatPayload creates the JSON payload for a lifecycle event.
func FormatPayload(event logic.Event) ([]byte, error) {
	p := TrimmerPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Event:     string(event.Type),
		CycleID:   event.CycleID,
		Lot:       event.Lot,
	}
	if event.Type != logic.EventCycleComplete {
		area := event.Area
		p.Area = &area
	}
	if event.Type != logic.EventPlacedIn {
		sec := math.Round(event.Duration.Seconds()*100) / 100
		p.DurationSec = &sec
	}
	return json.Marshal(Payload{Trimmer: p})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
