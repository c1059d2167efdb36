package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kidguard/internal/config"
	"github.com/eliteGoblin/focusd/kidguard/internal/daemon"
	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
	"github.com/eliteGoblin/focusd/kidguard/internal/infra"
	"github.com/eliteGoblin/focusd/kidguard/internal/scheduler"
	"github.com/eliteGoblin/focusd/kidguard/internal/usecase"
)

// stopTimeout bounds how long the service manager waits for a clean shutdown.
const stopTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the enforcement daemon in the foreground",
	Long: `Connects to the device over adb and enforces kid mode until interrupted.
This is what the installed service runs.`,
	RunE: runDaemon,
}

var serviceCmd = &cobra.Command{
	Use:       "service <install|uninstall|start|stop|restart>",
	Short:     "Manage the kidguard OS service",
	Long:      `Installs kidguard as a system service when run as root, otherwise as a per-user service.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: service.ControlAction[:],
	RunE:      runServiceControl,
}

// program adapts the enforcer to the service manager's Start/Stop calls.
type program struct {
	run    func(ctx context.Context) error
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		err := p.run(ctx)
		if err != nil {
			p.logger.Error("enforcer exited", zap.Error(err))
		}
		p.done <- err
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case err := <-p.done:
		return err
	case <-time.After(stopTimeout):
		return fmt.Errorf("enforcer did not stop within %s", stopTimeout)
	}
}

func newService(prg service.Interface, cfgPath string) (service.Service, error) {
	args := []string{"run"}
	if cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}

	svcConfig := &service.Config{
		Name:        "kidguard",
		DisplayName: "kidguard",
		Description: "Keeps a child's Android device inside the kid-safe launcher",
		Arguments:   args,
		Option: service.KeyValue{
			"UserService": !infra.DetectExecMode().IsRoot,
			"Restart":     "always",
		},
	}
	return service.New(prg, svcConfig)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	logger := createLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	run := func(ctx context.Context) error { return runEnforcer(ctx, cfg, logger) }

	if service.Interactive() {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	}

	prg := &program{run: run, logger: logger}
	s, err := newService(prg, cfgFile)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return s.Run()
}

// runEnforcer wires the store, device and engine and blocks until ctx is canceled.
func runEnforcer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := openStore(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	clock := scheduler.SystemClock{}
	device := infra.NewADBDevice(cfg.ADBConfig(), clock, logger)
	if err := device.WaitForDevice(ctx); err != nil {
		return fmt.Errorf("device not available: %w", err)
	}

	loop := scheduler.NewLoop()
	engine := usecase.NewEngine(cfg.EngineConfig(), loop, clock, store, device, device, logger)

	d := domain.Daemon{
		PID:        os.Getpid(),
		Role:       domain.RoleEnforcer,
		StartedAt:  time.Now(),
		AppVersion: Version,
	}
	status := daemon.NewStatusServer(engine, store, d, clock, logger)

	supervisor := daemon.NewSupervisor(
		daemon.SupervisorConfig{
			HeartbeatInterval: cfg.Daemon.HeartbeatInterval,
			ReconcileInterval: cfg.Daemon.ReconcileInterval,
			SignalRetryDelay:  cfg.Daemon.SignalRetryDelay,
			StatusAddr:        cfg.Daemon.StatusAddr,
			WatchDir:          cfg.DataDir,
		},
		engine,
		loop,
		store,
		device,
		store,
		status,
		d,
		logger,
	)
	return supervisor.Run(ctx)
}

func runServiceControl(cmd *cobra.Command, args []string) error {
	s, err := newService(&program{logger: zap.NewNop()}, cfgFile)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	if err := service.Control(s, args[0]); err != nil {
		return fmt.Errorf("service %s failed: %w", args[0], err)
	}

	mode := infra.DetectExecMode()
	fmt.Printf("kidguard %s: %s done\n", mode.Mode.ServiceScope(), args[0])
	return nil
}
