// Package device wires one appliance: credentials, the API client, the status
// machine and its producers, and the accessory bridge hosts talk to.
package device

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/hc-state/internal/accessory"
	"github.com/sweeney/hc-state/internal/config"
	"github.com/sweeney/hc-state/internal/homeconnect"
	"github.com/sweeney/hc-state/internal/logic"
	"github.com/sweeney/hc-state/internal/status"
	"github.com/sweeney/hc-state/internal/token"
)

// errStreamEnded is returned when the server closes the event stream.
var errStreamEnded = errors.New("device: event stream closed by server")

// Device is one appliance and everything that keeps its status current.
type Device struct {
	cfg *config.Config
	log logr.Logger

	tracker    *status.Tracker
	store      *token.Store
	refresher  *token.Refresher
	client     *homeconnect.Client
	machine    *status.Machine
	reconciler *homeconnect.Reconciler
	commander  *homeconnect.Commander
	bridge     *accessory.Bridge
}

type options struct {
	transport http.RoundTripper
	start     time.Time
	afterFunc status.AfterFunc
}

// Option configures a Device.
type Option func(*options)

// WithTransport routes token, REST and stream calls through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithStartTime sets the start time shown by the tracker.
func WithStartTime(t time.Time) Option {
	return func(o *options) { o.start = t }
}

// WithAfterFunc replaces the settle timer source.
func WithAfterFunc(f status.AfterFunc) Option {
	return func(o *options) { o.afterFunc = f }
}

// New builds the device. It fails when the identity is incomplete or the
// credential file cannot be read. Commands issued through the bridge run
// under ctx.
func New(ctx context.Context, cfg *config.Config, log logr.Logger, opts ...Option) (*Device, error) {
	var errs []error
	if cfg.Device.HaID == "" {
		errs = append(errs, config.ErrMissingHaID)
	}
	if cfg.Device.TokenPath == "" {
		errs = append(errs, config.ErrMissingTokenPath)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	o := options{start: time.Now()}
	for _, opt := range opts {
		opt(&o)
	}

	file := token.File{Path: cfg.Device.TokenPath}
	cred, err := file.Load()
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	log = log.WithValues("device", cfg.Device.Name)
	d := &Device{cfg: cfg, log: log}

	broker := ""
	if cfg.MQTT.Enabled {
		broker = cfg.MQTT.Broker
	}
	d.tracker = status.NewTracker(o.start, status.Config{
		Name:            cfg.Device.Name,
		HaID:            cfg.Device.HaID,
		BaseURL:         cfg.API.BaseURL,
		Broker:          broker,
		HTTPAddr:        cfg.HTTP.Addr,
		RefreshInterval: cfg.Schedule.TokenRefresh,
		RestartInterval: cfg.Schedule.StreamRestart,
	})
	d.tracker.SetTokenDeadline(cred.Deadline())

	d.store = token.NewStore(cred, file, log.WithName("token"))

	refresherOpts := []token.RefresherOption{token.WithObserver(d.tracker)}
	clientOpts := []homeconnect.Option{
		homeconnect.WithTimeout(cfg.API.Timeout),
		homeconnect.WithLanguages(cfg.API.RESTLanguage, cfg.API.StreamLanguage),
	}
	if o.transport != nil {
		refresherOpts = append(refresherOpts, token.WithHTTPClient(&http.Client{Transport: o.transport, Timeout: cfg.API.Timeout}))
		clientOpts = append(clientOpts, homeconnect.WithTransport(o.transport))
	}
	d.refresher = token.NewRefresher(d.store, cfg.API.TokenURL, log.WithName("token"), refresherOpts...)
	d.client = homeconnect.New(cfg.API.BaseURL, cfg.Device.HaID, d.refresher, log.WithName("api"), clientOpts...)

	machineOpts := []status.MachineOption{status.WithSettleDelay(cfg.Schedule.SettleDelay)}
	if o.afterFunc != nil {
		machineOpts = append(machineOpts, status.WithAfterFunc(o.afterFunc))
	}
	d.machine = status.NewMachine(log.WithName("status"), machineOpts...)
	d.reconciler = homeconnect.NewReconciler(d.client, d.machine, log.WithName("reconcile"))
	d.commander = homeconnect.NewCommander(d.client, d.machine, log.WithName("command"),
		homeconnect.WithSentHook(d.tracker.CommandSent))
	d.bridge = accessory.New(ctx, d.machine, d.commander, log.WithName("accessory"))

	d.machine.Observe(d.tracker.RecordChange)
	d.machine.Observe(d.bridge.StatusChanged)

	log.Info("device configured", "ha_id", cfg.Device.HaID, "token_deadline", cred.Deadline())
	return d, nil
}

// Tracker returns the daemon snapshot tracker.
func (d *Device) Tracker() *status.Tracker { return d.tracker }

// Bridge returns the accessory bridge hosts register with.
func (d *Device) Bridge() *accessory.Bridge { return d.bridge }

// Status returns the current appliance status.
func (d *Device) Status() logic.Status { return d.machine.Current() }

// Run keeps the credential fresh and the event stream open until ctx is done.
// Steady-state failures are logged and retried; Run returns nil on cancellation.
func (d *Device) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.refresher.Run(ctx, d.cfg.Schedule.TokenRefresh)
	})
	g.Go(func() error {
		return d.streamLoop(ctx)
	})
	err := g.Wait()
	d.bridge.Wait()
	return err
}

// PrintState reconciles once and returns the resulting status.
func (d *Device) PrintState(ctx context.Context) (logic.Status, error) {
	if err := d.reconciler.Reconcile(ctx); err != nil {
		return d.machine.Current(), fmt.Errorf("reconcile: %w", err)
	}
	return d.machine.Current(), nil
}

func (d *Device) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.Schedule.BackoffInitial
	b.MaxInterval = d.cfg.Schedule.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (d *Device) streamLoop(ctx context.Context) error {
	b := d.newBackOff()
	for {
		connected, err := d.runStream(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
		}
		if err == nil {
			d.log.Info("restarting event stream", "interval", d.cfg.Schedule.StreamRestart)
			continue
		}

		wait := b.NextBackOff()
		d.log.Error(err, "event stream down, reconnecting", "in", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// runStream reconciles, then consumes one stream session. It returns a nil
// error when the session reached its restart interval.
func (d *Device) runStream(ctx context.Context) (connected bool, err error) {
	// Failures are logged by the reconciler; the stream still opens.
	_ = d.reconciler.Reconcile(ctx)

	sctx, cancel := context.WithTimeout(ctx, d.cfg.Schedule.StreamRestart)
	defer cancel()

	stream, err := d.client.OpenStream(sctx)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	d.tracker.SetStreamConnected(true)
	defer d.tracker.SetStreamConnected(false)

	for stream.Next() {
		intent, ok := logic.Interpret(stream.Chunk())
		if !ok {
			d.log.V(1).Info("status chunk without known marker", "bytes", len(stream.Chunk()))
			continue
		}
		d.machine.Apply(intent)
	}

	if ctx.Err() == nil && sctx.Err() != nil {
		return true, nil
	}
	if err := stream.Err(); err != nil {
		return true, fmt.Errorf("read event stream: %w", err)
	}
	return true, errStreamEnded
}
