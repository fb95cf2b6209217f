// Package logic contains the pure status model for a Home Connect appliance.
// This package has NO I/O: no HTTP, MQTT, files or timers.
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Status is the operational status of the appliance.
type Status int

const (
	StatusInactive Status = iota
	StatusRunning
	StatusDisconnected
	StatusWakingUp
	StatusShuttingDown
)

var statusNames = [...]string{
	StatusInactive:     "Inactive",
	StatusRunning:      "Running",
	StatusDisconnected: "Disconnected",
	StatusWakingUp:     "Waking Up",
	StatusShuttingDown: "Shutting Down",
}

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusInactive,
	StatusRunning,
	StatusDisconnected,
	StatusWakingUp,
	StatusShuttingDown,
}

// String returns the human readable name of the status.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Unknown"
	}
	return statusNames[s]
}

// On reports the host-visible switch value: true iff Running or WakingUp.
func (s Status) On() bool {
	return s == StatusRunning || s == StatusWakingUp
}

// Transitional reports whether the status is only ever entered from the
// event stream and resolves on its own (WakingUp, ShuttingDown).
func (s Status) Transitional() bool {
	return s == StatusWakingUp || s == StatusShuttingDown
}

// Source identifies the producer of a transition intent.
type Source string

const (
	SourceStream Source = "stream"
	SourcePoll   Source = "poll"
	// SourceSettle is the delayed ShuttingDown -> Inactive resolution.
	SourceSettle Source = "settle"
)

// Intent asks the state machine to move to Target.
type Intent struct {
	Target Status
	Source Source
}

// Change is an accepted transition, as delivered to observers.
type Change struct {
	Timestamp time.Time
	From      Status
	To        Status
	Source    Source
}

// On is the switch value after the change.
func (c Change) On() bool {
	return c.To.On()
}
