// Command hc-state tracks the power status of a Home Connect appliance and
// exposes it as an on/off switch over MQTT and HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/sweeney/hc-state/internal/config"
	"github.com/sweeney/hc-state/internal/device"
	"github.com/sweeney/hc-state/internal/logging"
	"github.com/sweeney/hc-state/internal/logic"
	"github.com/sweeney/hc-state/internal/metrics"
	"github.com/sweeney/hc-state/internal/mqtt"
	"github.com/sweeney/hc-state/internal/status"
	"github.com/sweeney/hc-state/internal/web"
)

// mqttStatusInterval is how often the tracker samples the MQTT connection.
const mqttStatusInterval = 30 * time.Second

type flags struct {
	configPath string
	haID       string
	tokenPath  string
	name       string
	httpAddr   string
	broker     string
	debug      bool
	printState bool
}

func main() {
	_ = godotenv.Load() // .env is optional

	if err := newRootCmd(&flags{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "hc-state",
		Short:         "Track a Home Connect appliance and expose it as an on/off switch",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			if !service.Interactive() && !f.printState {
				return runService(cfg, f)
			}
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sig)
			return run(cfg, f, sig)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	pf.BoolVarP(&f.debug, "debug", "d", false, "Enable debug logging")

	fl := cmd.Flags()
	fl.StringVar(&f.haID, "ha-id", "", "Appliance identifier (haId)")
	fl.StringVar(&f.tokenPath, "token-path", "", "Credential file")
	fl.StringVar(&f.name, "name", "", "Display name")
	fl.StringVar(&f.httpAddr, "http", "", `HTTP status address ("" disables)`)
	fl.StringVar(&f.broker, "broker", "", "MQTT broker address (enables MQTT)")
	fl.BoolVar(&f.printState, "print-state", false, "Reconcile once, print the status and exit")

	cmd.AddCommand(newInstallCmd(f), newUninstallCmd(f))
	return cmd
}

// loadConfig applies only the flags given on the command line, so unset
// flags never mask the file or the environment.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	fl := cmd.Flags()
	return config.Load(f.configPath, func(c *config.Config) {
		if fl.Changed("ha-id") {
			c.Device.HaID = f.haID
		}
		if fl.Changed("token-path") {
			c.Device.TokenPath = f.tokenPath
		}
		if fl.Changed("name") {
			c.Device.Name = f.name
		}
		if fl.Changed("http") {
			c.HTTP.Addr = f.httpAddr
		}
		if fl.Changed("broker") {
			c.MQTT.Broker = f.broker
			c.MQTT.Enabled = f.broker != ""
		}
	})
}

// daemon is a constructed device plus the logger that outlives it.
type daemon struct {
	cfg      *config.Config
	f        *flags
	log      logr.Logger
	closeLog func() error
	ctx      context.Context
	cancel   context.CancelFunc
	dev      *device.Device
}

// newDaemon builds logging and the device. Construction errors are logged
// and returned; nothing is left running.
func newDaemon(cfg *config.Config, f *flags) (*daemon, error) {
	log, closeLog := logging.New(cfg.Logging, f.debug)
	ctx, cancel := context.WithCancel(context.Background())

	dev, err := device.New(ctx, cfg, log)
	if err != nil {
		err = fmt.Errorf("configure device: %w", err)
		log.Error(err, "startup failed")
		cancel()
		closeLog()
		return nil, err
	}
	return &daemon{cfg: cfg, f: f, log: log, closeLog: closeLog, ctx: ctx, cancel: cancel, dev: dev}, nil
}

func run(cfg *config.Config, f *flags, sig <-chan os.Signal) error {
	d, err := newDaemon(cfg, f)
	if err != nil {
		return err
	}
	if f.printState {
		defer d.close()
		return d.printState()
	}
	return d.serve(sig)
}

func (d *daemon) close() {
	d.cancel()
	d.closeLog()
}

func (d *daemon) printState() error {
	ctx, cancel := context.WithTimeout(d.ctx, 2*d.cfg.API.Timeout)
	defer cancel()
	st, err := d.dev.PrintState(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Status: %s (on=%t)\n", st, st.On())
	return nil
}

// serve starts the host adapters and runs the device until a signal arrives.
func (d *daemon) serve(sig <-chan os.Signal) error {
	defer d.close()
	cfg, log, dev, ctx, cancel := d.cfg, d.log, d.dev, d.ctx, d.cancel

	tracker := dev.Tracker()
	bridge := dev.Bridge()

	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Enabled {
		var pub *mqtt.RealPublisher
		pub = mqtt.NewRealPublisher(mqtt.Options{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Topics:     mqtt.NewTopics(cfg.MQTT.TopicPrefix, cfg.Device.Name),
			BufferSize: cfg.MQTT.BufferSize,
			OnSet:      bridge.SetOn,
			OnReconnect: func() {
				tracker.SetMQTTConnected(true)
				publishSystem(pub, tracker, mqtt.EventReconnected, "", log)
			},
		}, log.WithName("mqtt"))
		defer pub.Close()
		publisher, mqttStatus = pub, pub

		bridge.Subscribe(func(change logic.Change) {
			if err := pub.PublishState(change); err != nil {
				log.Error(err, "publish state failed", "status", change.To.String())
			}
		})
		publishSystem(publisher, tracker, mqtt.EventStartup, "", log)
	}

	if cfg.HTTP.Addr != "" {
		reg := metrics.NewRegistry(tracker, cfg.Device.HaID)
		srv := web.New(cfg.HTTP.Addr, tracker, bridge, metrics.Handler(reg), log.WithName("http"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "http server failed")
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			srv.Shutdown(sctx)
		}()
		log.Info("http status server listening", "addr", cfg.HTTP.Addr)

		if cfg.HTTP.Advertise {
			if port, err := web.PortOf(cfg.HTTP.Addr); err != nil {
				log.Error(err, "mdns not advertised")
			} else {
				defer web.Advertise(cfg.Device.Name, cfg.Device.HaID, port, log.WithName("mdns"))()
			}
		}
	}

	log.Info("started", "ha_id", cfg.Device.HaID, "mqtt", cfg.MQTT.Enabled, "http", cfg.HTTP.Addr)
	ticker := time.NewTicker(mqttStatusInterval)
	defer ticker.Stop()
	return runLoop(ctx, cancel, dev, publisher, mqttStatus, tracker, sig, ticker.C, log)
}

// runner is satisfied by *device.Device.
type runner interface {
	Run(ctx context.Context) error
}

// runLoop runs the device until a signal arrives or the device fails, then
// publishes SHUTDOWN. publisher and mqttStatus may be nil.
func runLoop(ctx context.Context, cancel context.CancelFunc, dev runner, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, sig <-chan os.Signal, tick <-chan time.Time, log logr.Logger) error {
	done := make(chan error, 1)
	go func() { done <- dev.Run(ctx) }()

	for {
		select {
		case s := <-sig:
			reason := signalName(s)
			log.Info("shutting down", "signal", reason)
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			if publisher != nil {
				publishSystem(publisher, tracker, mqtt.EventShutdown, reason, log)
			}
			cancel()
			return <-done

		case err := <-done:
			if err != nil {
				log.Error(err, "device stopped")
			}
			return err

		case <-tick:
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
		}
	}
}

func publishSystem(p mqtt.Publisher, tracker *status.Tracker, event, reason string, log logr.Logger) {
	snap := tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := p.PublishSystem(ev); err != nil {
		log.Error(err, "publish system event failed", "event", event)
		return
	}
	log.Info("published system event", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
