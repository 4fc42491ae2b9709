// Package app wires configuration, logging, the scraper, the lifecycle
// service and the signal coordinator into one runnable process.
package app

import (
	"context"
	"errors"
	"os"

	"tgscraper/internal/config"
	"tgscraper/internal/cycle"
	"tgscraper/internal/eventbus"
	"tgscraper/internal/metrics"
	"tgscraper/internal/ops"
	"tgscraper/internal/runtime/lifecycle"
	"tgscraper/internal/runtime/supervisor"
	"tgscraper/internal/scrape"
	"tgscraper/internal/service"
	"tgscraper/internal/transport/telegram"
	logx "tgscraper/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	state *lifecycle.RunState
	coord *lifecycle.Coordinator
	exec  *scrape.Executor
	svc   *service.Service
}

type options struct {
	exit     func(code int)
	notifier service.Notifier
}

type Option func(*options)

// WithExit replaces os.Exit on the escalated shutdown path.
func WithExit(fn func(code int)) Option { return func(o *options) { o.exit = fn } }

// WithNotifier replaces the systemd notifier.
func WithNotifier(n service.Notifier) Option { return func(o *options) { o.notifier = n } }

// New loads the config at cfgPath and builds every component. It starts
// nothing; a returned error is a fatal startup error.
func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{exit: os.Exit}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(cfg.Logging.Logx(), nil)
	log := root.With(logx.String("comp", "service"))
	if cfg.Logging.Telegram.Enabled {
		alerter, err := telegram.New(telegram.Config{
			Token:    cfg.Telegram.Token,
			ChatID:   cfg.Telegram.AlertChatID,
			ThreadID: cfg.Telegram.ThreadID,
		})
		if err != nil {
			log.Error("telegram alerts unavailable", logx.Err(err))
			_ = logSvc.Close()
			return nil, err
		}
		logSvc.SetSender(alerter)
	}
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	metrics.Init()
	bus := eventbus.New()
	state := lifecycle.NewRunState()

	exec := scrape.New(mapScrapeConfig(cfg), root.With(logx.String("comp", "scrape")))

	coord := lifecycle.NewCoordinator(state,
		lifecycle.WithLogger(root.With(logx.String("comp", "signals"))),
		lifecycle.WithExit(o.exit),
	)
	coord.OnShutdown(exec.ShutdownHint)
	coord.OnShutdown(metrics.MarkShutdownRequested)

	notifier := o.notifier
	if notifier == nil {
		notifier = service.NewSystemdNotifier(root.With(logx.String("comp", "systemd")))
	}

	cycleLog := root.With(logx.String("comp", "cycle"))
	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithBus(bus),
		service.WithNotifier(notifier),
		service.WithWatchdog(service.WatchdogInterval(log)),
		service.WithRunnerOptions(
			cycle.WithLogger(cycleLog),
			cycle.WithSettings(service.SettingsFrom(cfgm.Get, cycleLog)),
			cycle.WithRecorder(exec),
		),
	}
	for _, h := range service.ConfigHelpers(cfgm, logSvc, root.With(logx.String("comp", "config"))) {
		svcOpts = append(svcOpts, service.WithHelper(h))
	}

	a := &App{cfgm: cfgm, logs: logSvc, log: log, bus: bus, state: state, coord: coord, exec: exec}
	if cfg.Ops.Enabled {
		srv := ops.New(ops.Config{
			Addr:  cfg.Ops.Addr,
			Token: cfg.Ops.Token,
			Pprof: cfg.Ops.Pprof,
		}, root.With(logx.String("comp", "ops")), a.readiness)
		svcOpts = append(svcOpts, service.WithHelper(service.Helper{Name: "ops.http", Run: serveOps(srv), Restart: true}))
	}
	a.svc = service.New(state, cfgm, exec, svcOpts...)
	return a, nil
}

// serveOps keeps transient listen errors restartable; a refused bind is not.
func serveOps(srv *ops.Server) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := srv.Serve(ctx)
		if errors.Is(err, ops.ErrInsecureBind) {
			return supervisor.Permanent(err)
		}
		return err
	}
}

func (a *App) readiness() ops.Readiness { return a.svc.Readiness() }

// Run installs the signal handlers and runs the service to completion.
func (a *App) Run(ctx context.Context) error {
	a.coord.Start()
	defer a.coord.Stop()

	err := a.svc.Run(ctx)
	a.log.Info("exiting", logx.String("reason", string(a.state.Reason())))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// ExitCode maps Run's result to the process status: 0 for a clean stop or an
// empty registry, 1 for anything else.
func ExitCode(err error) int {
	if err == nil || errors.Is(err, service.ErrNoChannels) {
		return 0
	}
	return 1
}
