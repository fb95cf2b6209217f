package main

import (
	"os"
	"sync/atomic"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/sweeney/hc-state/internal/config"
)

const serviceName = "hc-state"

// program adapts run to the service manager. Stop is delivered as SIGTERM so
// the daemon shuts down exactly as it does interactively.
type program struct {
	cfg  *config.Config
	f    *flags
	exit func(code int)

	sig      chan os.Signal
	done     chan error
	stopping atomic.Bool
}

// Start builds the device before returning so a bad config or token file
// fails the service start instead of vanishing in a goroutine.
func (p *program) Start(service.Service) error {
	d, err := newDaemon(p.cfg, p.f)
	if err != nil {
		return err
	}
	p.sig = make(chan os.Signal, 1)
	p.done = make(chan error, 1)
	go func() {
		err := d.serve(p.sig)
		p.exited(d.log, err)
		p.done <- err
	}()
	return nil
}

// exited handles serve returning. Outside Stop the service manager would
// otherwise keep reporting a running service with nothing behind it.
func (p *program) exited(log logr.Logger, err error) {
	if p.stopping.Load() {
		return
	}
	code := 0
	if err != nil {
		code = 1
		log.Error(err, "daemon exited")
	} else {
		log.Info("daemon exited")
	}
	exit := p.exit
	if exit == nil {
		exit = os.Exit
	}
	exit(code)
}

func (p *program) Stop(service.Service) error {
	p.stopping.Store(true)
	p.sig <- syscall.SIGTERM
	return <-p.done
}

// serviceArgs are passed to the installed service so it starts with the
// same config as the install command.
func serviceArgs(f *flags) []string {
	var args []string
	if f.configPath != "" {
		args = append(args, "--config", f.configPath)
	}
	if f.debug {
		args = append(args, "--debug")
	}
	return args
}

func newService(cfg *config.Config, f *flags) (service.Service, error) {
	return service.New(&program{cfg: cfg, f: f}, &service.Config{
		Name:        serviceName,
		DisplayName: "Home Connect state",
		Description: "Tracks a Home Connect appliance and exposes it as an on/off switch",
		Arguments:   serviceArgs(f),
	})
}

func runService(cfg *config.Config, f *flags) error {
	s, err := newService(cfg, f)
	if err != nil {
		return err
	}
	return s.Run()
}

func newInstallCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install hc-state as a " + service.Platform() + " service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newService(nil, f)
			if err != nil {
				return err
			}
			return s.Install()
		},
	}
}

func newUninstallCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the hc-state " + service.Platform() + " service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newService(nil, f)
			if err != nil {
				return err
			}
			return s.Uninstall()
		},
	}
}
