// Package mqtt exposes the appliance switch over MQTT: status changes and
// lifecycle events are published, set commands are received.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/hc-state/internal/logic"
)

// DefaultTopicPrefix is the root of every topic.
const DefaultTopicPrefix = "home/appliance"

// Lifecycle events published on the system topic.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventReconnected = "RECONNECTED"
)

// ReasonMQTTDisconnect is the will reason set by the broker on a lost session.
const ReasonMQTTDisconnect = "MQTT_DISCONNECT"

// Topics names the topics of one device.
type Topics struct {
	base string
}

// NewTopics builds topics as <prefix>/<device>, with the device name
// lower-cased and spaces replaced by dashes.
func NewTopics(prefix, name string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	slug := strings.ToLower(strings.Join(strings.Fields(name), "-"))
	return Topics{base: strings.TrimSuffix(prefix, "/") + "/" + slug}
}

// State carries retained status changes.
func (t Topics) State() string { return t.base + "/state" }

// System carries lifecycle events.
func (t Topics) System() string { return t.base + "/system" }

// Set receives on/off commands.
func (t Topics) Set() string { return t.base + "/set" }

// Publisher publishes device events.
type Publisher interface {
	// PublishState sends a status change. Failures are returned, never fatal.
	PublishState(change logic.Change) error

	// PublishSystem sends a lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event (STARTUP, SHUTDOWN, RECONNECTED).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // shutdown only
	RawPayload []byte // pre-formatted payload; returned as is by FormatSystemPayload
	Retained   bool
}

// StatePayload is the JSON body of the state topic.
type StatePayload struct {
	Status    string `json:"status"`
	On        bool   `json:"on"`
	From      string `json:"from"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// FormatStatePayload creates the JSON payload for a status change.
func FormatStatePayload(change logic.Change) ([]byte, error) {
	return json.Marshal(StatePayload{
		Status:    change.To.String(),
		On:        change.On(),
		From:      change.From.String(),
		Source:    string(change.Source),
		Timestamp: change.Timestamp.UTC().Format(time.RFC3339),
	})
}

// SystemPayload is used for events that carry no status snapshot (will, RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

// WillPayload is registered as the last will at connect time. It carries no
// timestamp: the broker sends it whenever the session is lost, long after
// it was registered.
func WillPayload() []byte {
	data, _ := FormatSystemPayload(SystemEvent{
		Event:  EventShutdown,
		Reason: ReasonMQTTDisconnect,
	})
	return data
}

// ParseSetCommand accepts ON/OFF, true/false and 1/0, case-insensitively.
func ParseSetCommand(payload []byte) (on bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "on", "true", "1":
		return true, true
	case "off", "false", "0":
		return false, true
	}
	return false, false
}
