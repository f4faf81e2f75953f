// Package app wires the daemon together: config, logging, store, registry,
// executor, scheduler and notifier, with lifecycle owned by the caller.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jobtick/internal/config"
	"jobtick/internal/eventbus"
	"jobtick/internal/executor"
	"jobtick/internal/notifier"
	"jobtick/internal/registry"
	rtsup "jobtick/internal/runtime/supervisor"
	"jobtick/internal/scheduler"
	"jobtick/internal/store"
	"jobtick/internal/trigger"
	logx "jobtick/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	bus   eventbus.Bus
	store store.Store
	reg   *registry.Registry

	sched *scheduler.Service
	notif *notifier.Service

	sup *rtsup.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New()
	reg := registry.New()

	schedCfg, err := schedulerConfig(cfg.Scheduler)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			_ = st.Close()
			_ = logSvc.Close()
			return nil, fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	exec := executor.New(st, reg, trigger.New(loc), log.With(logx.String("comp", "executor")), bus)
	sched := scheduler.New(schedCfg, st, exec, log.With(logx.String("comp", "scheduler")), bus)

	notif, err := buildNotifier(cfg.Notifier, log, bus)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   st,
		reg:     reg,
		sched:   sched,
		notif:   notif,
	}, nil
}

// Registry exposes handler registration; main registers the built-in job
// types before Start, and embedders add their own.
func (a *App) Registry() *registry.Registry { return a.reg }

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Store() store.Store { return a.store }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app's run context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Validate() already ran in Parse; reject reloads that change
		// immutable wiring rather than silently ignoring them.
		current := a.cfgm.Get()
		if current != nil && (cfg.Store.Driver != current.Store.Driver || cfg.Store.Path != current.Store.Path) {
			return fmt.Errorf("store.driver/store.path cannot change without a restart")
		}
		return nil
	})

	if a.notif != nil {
		a.notif.Start(a.sup.Context())
	}
	a.sched.Start(a.sup.Context())

	// Hot reload: log level and scheduler knobs apply live; everything else
	// waits for a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the newest config matters.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, newCfg)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) applyReload(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	schedCfg, err := schedulerConfig(cfg.Scheduler)
	if err != nil {
		a.log.Warn("scheduler config not applied", logx.Err(err))
		return
	}
	wasRunning := a.sched.Running()
	a.sched.Apply(schedCfg)
	if wasRunning && !schedCfg.Enabled {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	} else if !wasRunning && schedCfg.Enabled {
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Scheduler first so in-flight runs drain before their observers go away.
	a.sched.Stop(ctx)
	if a.notif != nil {
		a.notif.Stop(ctx)
	}

	a.sup.Cancel()
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := a.sup.Wait(waitCtx)
	cancel()

	if cerr := a.store.Close(); cerr != nil {
		a.log.Warn("store close failed", logx.Err(cerr))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

func schedulerConfig(sc config.SchedulerConfig) (scheduler.Config, error) {
	checkInterval, err := config.ParseDurationOrDefault("scheduler.check_interval", sc.CheckInterval, 60*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	drainTimeout, err := config.ParseDurationOrDefault("scheduler.drain_timeout", sc.DrainTimeout, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	defaultTimeout, err := config.ParseDurationField("scheduler.default_timeout", sc.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:        sc.Enabled,
		CheckInterval:  checkInterval,
		DrainTimeout:   drainTimeout,
		DefaultTimeout: defaultTimeout,
		Timezone:       sc.Timezone,
	}, nil
}

func buildNotifier(nc *config.NotifierConfig, log logx.Logger, bus eventbus.Bus) (*notifier.Service, error) {
	if nc == nil || !nc.Enabled {
		return nil, nil
	}
	sink, err := notifier.NewTelegramSink(nc.Token, nc.ChatID)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	dedup, err := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
	if err != nil {
		return nil, err
	}
	// An explicit "0s" in the file turns suppression off; an unset field
	// keeps the notifier default.
	if dedup == 0 && strings.TrimSpace(nc.DedupWindow) != "" {
		dedup = -1
	}
	return notifier.New(notifier.Config{
		Enabled:     true,
		RatePerSec:  nc.RatePerSec,
		DedupWindow: dedup,
	}, sink, log.With(logx.String("comp", "notifier")), bus), nil
}
