// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/lockbox/internal/logic"
)

// TopicEvents is the MQTT topic for lock lifecycle events.
const TopicEvents = "lockbox/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "lockbox/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a lock event to the broker.
	// Returns error if publishing fails (should not crash the process).
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

// SystemEvent represents a system lifecycle event (startup, heartbeat, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g. "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // pre-formatted JSON; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// Payload is the MQTT message body for a lock event.
type Payload struct {
	Lockbox EventPayload `json:"lockbox"`
}

// EventPayload carries one controller event.
type EventPayload struct {
	Timestamp       string `json:"timestamp"`
	Event           string `json:"event"`
	Mode            string `json:"mode"`
	State           string `json:"state"`
	Session         string `json:"session,omitempty"`
	Reason          string `json:"reason,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	Progress        int    `json:"progress"`
	Earned          int    `json:"earned,omitempty"`
	ChildLock       bool   `json:"child_lock"`
	Detail          string `json:"detail,omitempty"`
}

// FormatPayload creates the JSON payload for a lock event. Timestamps are
// on the controller's simulated timeline.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Lockbox: EventPayload{
			Timestamp:       event.Timestamp.UTC().Format(time.RFC3339),
			Event:           string(event.Type),
			Mode:            string(event.Mode),
			State:           string(event.State),
			Session:         event.Session,
			Reason:          string(event.Reason),
			DurationSeconds: int64(event.Duration / time.Second),
			Progress:        event.Progress,
			Earned:          event.Earned,
			ChildLock:       event.ChildLock,
			Detail:          event.Detail,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the body for simple system events (LWT) that don't carry
// a status snapshot.
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
// If event.RawPayload is set, it is returned directly.
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

// Discard is a Publisher for running without a broker. It is never connected.
type Discard struct{}

func (Discard) Publish(logic.Event) error       { return nil }
func (Discard) PublishSystem(SystemEvent) error { return nil }
func (Discard) Close() error                    { return nil }
func (Discard) IsConnected() bool               { return false }
