package status

import (
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/sweeney/hc-state/internal/logic"
)

// DefaultSettleDelay is how long ShuttingDown lasts before resolving to Inactive.
const DefaultSettleDelay = 10 * time.Second

// Observer is told about every accepted transition, synchronously and in order.
// Observers must not call Apply from the same goroutine.
type Observer func(change logic.Change)

// Timer is the subset of *time.Timer the machine uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it via a wrapper.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Machine is the single authority over the appliance status.
//
// Apply calls are serialized: each intent is compared against the current
// status, applied, and delivered to observers before the next one is looked at.
// Current and On may be called from any goroutine, including observers.
type Machine struct {
	applyMu sync.Mutex // serializes Apply, including observer delivery

	mu         sync.RWMutex
	current    logic.Status
	generation uint64
	settle     Timer

	settleDelay time.Duration
	afterFunc   AfterFunc
	now         func() time.Time
	observers   []Observer
	log         logr.Logger
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) MachineOption {
	return func(m *Machine) { m.settleDelay = d }
}

// WithAfterFunc replaces the timer source. Used by tests.
func WithAfterFunc(f AfterFunc) MachineOption {
	return func(m *Machine) { m.afterFunc = f }
}

// WithClock replaces time.Now for change timestamps.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a machine in StatusInactive.
func NewMachine(log logr.Logger, opts ...MachineOption) *Machine {
	m := &Machine{
		current:     logic.StatusInactive,
		settleDelay: DefaultSettleDelay,
		afterFunc:   realAfterFunc,
		now:         time.Now,
		log:         log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe registers an observer. Call before any producer starts.
func (m *Machine) Observe(o Observer) {
	m.applyMu.Lock()
	m.observers = append(m.observers, o)
	m.applyMu.Unlock()
}

// Current returns the current status.
func (m *Machine) Current() logic.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// On returns the host-visible switch value.
func (m *Machine) On() bool {
	return m.Current().On()
}

// Apply moves the machine to intent.Target. It returns false, without
// notifying anyone, when the target equals the current status.
func (m *Machine) Apply(intent logic.Intent) bool {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	return m.apply(intent, 0)
}

// apply runs with applyMu held. A non-zero gen restricts the intent to the
// transition generation that scheduled it.
func (m *Machine) apply(intent logic.Intent, gen uint64) bool {
	m.mu.Lock()
	if gen != 0 && gen != m.generation {
		m.mu.Unlock()
		return false
	}
	from := m.current
	if intent.Target == from {
		m.mu.Unlock()
		return false
	}

	m.current = intent.Target
	m.generation++
	if m.settle != nil {
		m.settle.Stop()
		m.settle = nil
	}
	if intent.Target == logic.StatusShuttingDown {
		armed := m.generation
		m.settle = m.afterFunc(m.settleDelay, func() { m.settleFired(armed) })
	}
	m.mu.Unlock()

	change := logic.Change{
		Timestamp: m.now(),
		From:      from,
		To:        intent.Target,
		Source:    intent.Source,
	}
	m.log.Info("status changed", "from", from.String(), "to", intent.Target.String(), "source", string(intent.Source))
	if intent.Target == logic.StatusShuttingDown {
		m.log.V(1).Info("waiting before settling to inactive", "delay", m.settleDelay)
	}

	for _, o := range m.observers {
		o(change)
	}
	return true
}

func (m *Machine) settleFired(gen uint64) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	m.apply(logic.Intent{Target: logic.StatusInactive, Source: logic.SourceSettle}, gen)
}
