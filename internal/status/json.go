package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string      `json:"event,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	Name          string      `json:"name"`
	HaID          string      `json:"ha_id"`
	State         string      `json:"state"`
	On            bool        `json:"on"`
	LastChange    string      `json:"last_change,omitempty"`
	LastSource    string      `json:"last_source,omitempty"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     string      `json:"start_time"`
	Timestamp     string      `json:"timestamp"`
	Stream        StreamJSON  `json:"stream"`
	Token         TokenJSON   `json:"token"`
	Commands      CommandJSON `json:"commands"`
	MQTT          MQTTStatus  `json:"mqtt"`
	Counts        CountsJSON  `json:"transition_counts"`
	Config        ConfigJSON  `json:"config"`
}

// StreamJSON reports the event stream connection.
type StreamJSON struct {
	Connected bool `json:"connected"`
	Connects  int  `json:"connects"`
}

// TokenJSON reports credential refresh activity.
type TokenJSON struct {
	ExpiresAt string `json:"expires_at,omitempty"`
	Refreshed int    `json:"refreshed"`
	Failed    int    `json:"failed"`
}

// CommandJSON reports power commands.
type CommandJSON struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// CountsJSON is the JSON representation of transition counts.
type CountsJSON struct {
	Inactive     int `json:"inactive"`
	Running      int `json:"running"`
	Disconnected int `json:"disconnected"`
	WakingUp     int `json:"waking_up"`
	ShuttingDown int `json:"shutting_down"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	BaseURL           string `json:"base_url"`
	HTTPAddr          string `json:"http_addr,omitempty"`
	RefreshIntervalMs int64  `json:"refresh_interval_ms"`
	RestartIntervalMs int64  `json:"restart_interval_ms"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		Name:          snap.Config.Name,
		HaID:          snap.Config.HaID,
		State:         snap.Status.String(),
		On:            snap.On(),
		LastChange:    formatTime(snap.LastChange),
		LastSource:    string(snap.LastSource),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		Timestamp:     formatTime(snap.Now),
		Stream:        StreamJSON{Connected: snap.Stream.Connected, Connects: snap.Stream.Connects},
		Token: TokenJSON{
			ExpiresAt: formatTime(snap.Token.Deadline),
			Refreshed: snap.Token.Refreshed,
			Failed:    snap.Token.Failed,
		},
		Commands: CommandJSON{Sent: snap.Commands.Sent, Failed: snap.Commands.Failed},
		MQTT:     MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Inactive:     snap.Counts.Inactive,
			Running:      snap.Counts.Running,
			Disconnected: snap.Counts.Disconnected,
			WakingUp:     snap.Counts.WakingUp,
			ShuttingDown: snap.Counts.ShuttingDown,
		},
		Config: ConfigJSON{
			BaseURL:           snap.Config.BaseURL,
			HTTPAddr:          snap.Config.HTTPAddr,
			RefreshIntervalMs: snap.Config.RefreshInterval.Milliseconds(),
			RestartIntervalMs: snap.Config.RestartInterval.Milliseconds(),
		},
	}
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
