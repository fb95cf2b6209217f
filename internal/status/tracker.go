// Package status owns the appliance status: the state machine that decides it
// and a thread-safe tracker that records daemon state for the HTTP page,
// MQTT lifecycle events and metrics.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/hc-state/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Name            string
	HaID            string
	BaseURL         string
	Broker          string
	HTTPAddr        string
	RefreshInterval time.Duration
	RestartInterval time.Duration
}

// TransitionCounts counts accepted transitions by target status.
type TransitionCounts struct {
	Inactive     int
	Running      int
	Disconnected int
	WakingUp     int
	ShuttingDown int
}

func (c *TransitionCounts) add(s logic.Status) {
	switch s {
	case logic.StatusInactive:
		c.Inactive++
	case logic.StatusRunning:
		c.Running++
	case logic.StatusDisconnected:
		c.Disconnected++
	case logic.StatusWakingUp:
		c.WakingUp++
	case logic.StatusShuttingDown:
		c.ShuttingDown++
	}
}

// TokenInfo summarizes credential refresh activity.
type TokenInfo struct {
	Deadline  time.Time
	Refreshed int
	Failed    int
}

// StreamInfo summarizes the event stream connection.
type StreamInfo struct {
	Connected bool
	Connects  int
}

// CommandInfo counts power commands sent to the appliance.
type CommandInfo struct {
	Sent   int
	Failed int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Status        logic.Status
	LastChange    time.Time
	LastSource    logic.Source
	Counts        TransitionCounts
	Token         TokenInfo
	Stream        StreamInfo
	Commands      CommandInfo
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// On returns the host-visible switch value for the snapshot.
func (s Snapshot) On() bool {
	return s.Status.On()
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
// The status starts as Inactive, matching a fresh Machine.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Status:    logic.StatusInactive,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// RecordChange is a Machine observer.
func (t *Tracker) RecordChange(c logic.Change) {
	t.mu.Lock()
	t.snap.Status = c.To
	t.snap.LastChange = c.Timestamp
	t.snap.LastSource = c.Source
	t.snap.Counts.add(c.To)
	t.mu.Unlock()
}

// TokenRefreshed records the outcome of a token exchange.
func (t *Tracker) TokenRefreshed(deadline time.Time, err error) {
	t.mu.Lock()
	if err != nil {
		t.snap.Token.Failed++
	} else {
		t.snap.Token.Refreshed++
		t.snap.Token.Deadline = deadline
	}
	t.mu.Unlock()
}

// SetTokenDeadline records the deadline of the loaded credential.
func (t *Tracker) SetTokenDeadline(deadline time.Time) {
	t.mu.Lock()
	t.snap.Token.Deadline = deadline
	t.mu.Unlock()
}

// SetStreamConnected records the stream state; each connect is counted.
func (t *Tracker) SetStreamConnected(connected bool) {
	t.mu.Lock()
	if connected && !t.snap.Stream.Connected {
		t.snap.Stream.Connects++
	}
	t.snap.Stream.Connected = connected
	t.mu.Unlock()
}

// CommandSent records a power command and whether it failed.
func (t *Tracker) CommandSent(err error) {
	t.mu.Lock()
	t.snap.Commands.Sent++
	if err != nil {
		t.snap.Commands.Failed++
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
