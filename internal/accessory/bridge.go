// Package accessory is the boundary a host uses to read and set the appliance
// as a single boolean switch.
package accessory

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/sourcegraph/conc"

	"github.com/sweeney/hc-state/internal/logic"
)

// StatusSource exposes the current status. *status.Machine satisfies it.
type StatusSource interface {
	Current() logic.Status
}

// Commander turns a desired value into an API call.
// *homeconnect.Commander satisfies it.
type Commander interface {
	SetDesired(ctx context.Context, on bool) error
}

// Notifier is told about every accepted status change.
type Notifier func(change logic.Change)

// Bridge implements the get/set/notify contract on top of the state machine
// and the command issuer.
type Bridge struct {
	ctx       context.Context
	status    StatusSource
	commander Commander
	log       logr.Logger

	inflight conc.WaitGroup

	mu        sync.RWMutex
	notifiers []Notifier
}

// New creates a bridge. Commands run under ctx, so cancelling it aborts
// commands still in flight.
func New(ctx context.Context, status StatusSource, commander Commander, log logr.Logger) *Bridge {
	return &Bridge{
		ctx:       ctx,
		status:    status,
		commander: commander,
		log:       log,
	}
}

// Status returns the current appliance status.
func (b *Bridge) Status() logic.Status {
	return b.status.Current()
}

// GetOn is true iff the appliance is Running or WakingUp.
func (b *Bridge) GetOn() bool {
	on := b.status.Current().On()
	b.log.V(1).Info("get on", "on", on)
	return on
}

// SetOn hands the request to the command issuer and returns at once.
// It always succeeds: the outcome shows up later as a status change.
func (b *Bridge) SetOn(on bool) {
	b.log.Info("set on requested", "on", on, "status", b.status.Current().String())
	b.inflight.Go(func() {
		// Errors are logged and counted by the commander.
		_ = b.commander.SetDesired(b.ctx, on)
	})
}

// Subscribe registers a host notifier.
func (b *Bridge) Subscribe(n Notifier) {
	b.mu.Lock()
	b.notifiers = append(b.notifiers, n)
	b.mu.Unlock()
}

// StatusChanged fans a change out to every notifier. Register it as a
// state machine observer.
func (b *Bridge) StatusChanged(change logic.Change) {
	b.mu.RLock()
	notifiers := b.notifiers
	b.mu.RUnlock()

	for _, n := range notifiers {
		n(change)
	}
}

// Wait blocks until every command started by SetOn has returned.
func (b *Bridge) Wait() {
	b.inflight.Wait()
}
