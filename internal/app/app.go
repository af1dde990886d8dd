// Package app wires the resilience core together: config, logging, the
// failure dispatcher, the health monitor with its probe set, the resource
// registry, diagnostics, and background maintenance.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"voxagent/internal/config"
	"voxagent/internal/core/diagnostics"
	"voxagent/internal/core/errorhandler"
	"voxagent/internal/core/failure"
	"voxagent/internal/core/health"
	"voxagent/internal/core/resources"
	"voxagent/internal/notify"
	"voxagent/internal/probes"
	"voxagent/internal/runtime/supervisor"
	"voxagent/internal/services/maintenance"
	logx "voxagent/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	errors   *errorhandler.Handler
	monitor  *health.Monitor
	registry *resources.Registry
	sampler  *probes.ProcSampler

	collector *diagnostics.Collector
	store     *diagnostics.Store
	maint     *maintenance.Service

	healthInterval time.Duration
	sampleInterval time.Duration

	started bool

	// terminate flips once the dispatcher's shutdown sequence fires; main
	// observes Done() and exits.
	doneOnce sync.Once
	done     chan struct{}
}

func New(cfgPath string) (*App, error) {
	a := &App{cfgPath: cfgPath, done: make(chan struct{})}

	a.cfgm = config.NewManager(cfgPath)
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := a.build(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	// Logging first; everything else logs through it. The desktop sink is
	// optional: without notify-send we simply run without popups.
	var notifier logx.Notifier
	if cfg.Logging.Notify.Enabled {
		if d, err := notify.NewDesktop("voxagent"); err == nil {
			notifier = d
		}
	}
	logSvc, log := logx.New(mapLoggingConfig(cfg), notifier)
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	a.cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sampler, err := probes.NewProcSampler(cfg.Speech.DiskPath)
	if err != nil {
		return fmt.Errorf("init sampler: %w", err)
	}
	a.sampler = sampler

	ecfg, err := mapErrorsConfig(cfg)
	if err != nil {
		return err
	}
	a.errors = errorhandler.New(ecfg, log.With(logx.String("comp", "errors")))

	hcfg, interval, err := mapHealthConfig(cfg)
	if err != nil {
		return err
	}
	a.healthInterval = interval
	a.monitor = health.NewMonitor(hcfg, log.With(logx.String("comp", "health")))

	rcfg, sampleEvery, err := mapResourcesConfig(cfg)
	if err != nil {
		return err
	}
	a.sampleInterval = sampleEvery
	a.registry = resources.NewRegistry(rcfg, sampler, log.With(logx.String("comp", "resources")))

	// Diagnostics store is optional persistence for failure/health history.
	scfg, err := mapStoreConfig(cfg)
	if err != nil {
		return err
	}
	store, err := diagnostics.OpenStore(scfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return fmt.Errorf("open diagnostics store: %w", err)
	}
	a.store = store

	a.collector = diagnostics.NewCollector(a.errors, a.monitor, a.registry, log.With(logx.String("comp", "diagnostics")))

	a.wire(cfg)

	mcfg := maintenance.Config{
		Enabled:      cfg.Maintenance.Enabled,
		SnapshotSpec: cfg.Maintenance.SnapshotSpec,
		CleanupSpec:  cfg.Maintenance.CleanupSpec,
		PruneSpec:    cfg.Maintenance.PruneSpec,
	}
	a.maint = maintenance.New(mcfg, a.maintenanceJobs(cfg), log.With(logx.String("comp", "maintenance")))
	return nil
}

// wire connects the components: probe failures feed the dispatcher, the
// dispatcher's shutdown path drains the registry, memory pressure gets a
// remediator, and every record/result is persisted when the store is open.
func (a *App) wire(cfg *config.Config) {
	probes.Install(a.monitor, probes.Config{
		ServiceUnit:     cfg.Health.ServiceUnit,
		SpeechBinary:    cfg.Speech.Binary,
		SpeechModelPath: cfg.Speech.ModelPath,
		DiskPath:        cfg.Speech.DiskPath,
	}, a.sampler)

	a.monitor.SetRaise(a.errors.Handle)

	a.errors.SetShutdown(a.registry.ReleaseAll, a.terminate)
	a.errors.SetSnapshot(a.snapshot)

	// Memory pressure remediation releases idle resources and returns
	// freed heap to the OS, mirroring the sampler's own ceiling response.
	a.monitor.RegisterRemediator(health.ComponentMemory, func(ctx context.Context, r health.Result) error {
		a.registry.CleanupNow()
		return nil
	})

	// System-kind failures restart nothing by themselves; degrade instead.
	a.errors.RegisterRecovery(failure.KindConfig, func(err error, scope string) error {
		if _, rerr := a.cfgm.Load(); rerr != nil {
			return fmt.Errorf("config reload failed: %w", rerr)
		}
		a.log.Info("config reloaded after configuration failure", logx.String("scope", scope))
		return nil
	})

	if a.store != nil {
		a.errors.SetObserver(a.store.ObserveFailure)
		a.monitor.SetObserver(a.store.ObserveHealth)
	}
}

func (a *App) maintenanceJobs(cfg *config.Config) maintenance.Jobs {
	dir := cfg.Diagnostics.Dir
	if dir == "" {
		dir = "./diagnostics"
	}
	retention, _ := config.ParseDurationOrDefault("diagnostics.retention", cfg.Diagnostics.Retention, 7*24*time.Hour)

	jobs := maintenance.Jobs{
		Snapshot: func(ctx context.Context) error {
			_, err := a.collector.Export(dir)
			return err
		},
		Cleanup: func(ctx context.Context) error {
			_, err := a.collector.CleanupOld(dir, retention)
			return err
		},
	}
	if a.store != nil {
		jobs.Prune = func(ctx context.Context) error {
			return a.store.Prune(ctx, retention)
		}
	}
	return jobs
}

// snapshot adapts the process sampler to the dispatcher's failure records.
func (a *App) snapshot() errorhandler.Snapshot {
	u, err := a.sampler.Sample()
	if err != nil {
		return errorhandler.Snapshot{}
	}
	return errorhandler.Snapshot{MemoryMB: u.MemoryMB, CPUPct: u.CPUPct, DiskUsedPct: u.DiskUsedPct}
}

func (a *App) terminate() {
	a.log.Error("termination requested by failure dispatcher")
	a.doneOnce.Do(func() { close(a.done) })
}

// Done is closed when the dispatcher's shutdown sequence has run.
func (a *App) Done() <-chan struct{} { return a.done }

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.started = true

	a.monitor.Start(ctx, a.healthInterval)
	a.registry.Start(ctx, a.sampleInterval)
	if err := a.maint.Start(ctx); err != nil {
		return err
	}

	// Hot reload: logging level and sink changes apply without restart.
	a.sup.Go("config-watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(1)
	a.sup.Go0("config-apply", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(mapLoggingConfig(cfg))
				a.log.Info("applied updated logging config")
			}
		}
	})

	a.log.Info("voxagent resilience core started",
		logx.Duration("health_interval", a.healthInterval),
		logx.Duration("sample_interval", a.sampleInterval),
		logx.Int("pid", os.Getpid()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	a.maint.Stop(ctx)
	a.monitor.Stop(ctx)
	a.registry.Stop(ctx)

	if a.sup != nil {
		_ = a.sup.Stop(ctx)
		a.sup = nil
	}

	// Final snapshot before resources go away; best-effort. One-shot modes
	// that never started the loops skip it.
	if dir := a.diagnosticsDir(); a.started && dir != "" {
		if _, err := a.collector.Export(dir); err != nil {
			a.log.Warn("final diagnostic export failed", logx.Err(err))
		}
	}

	a.registry.ReleaseAll()
	if err := a.store.Close(); err != nil {
		a.log.Warn("diagnostics store close failed", logx.Err(err))
	}

	a.log.Info("voxagent resilience core stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) diagnosticsDir() string {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return ""
	}
	if cfg.Diagnostics.Dir != "" {
		return cfg.Diagnostics.Dir
	}
	return "./diagnostics"
}

// CheckOnce runs a single health pass and returns the aggregate report.
// Used by the -check command line mode.
func (a *App) CheckOnce(ctx context.Context) health.Report {
	a.monitor.Check(ctx)
	return a.monitor.Report()
}

func (a *App) Errors() *errorhandler.Handler     { return a.errors }
func (a *App) Monitor() *health.Monitor          { return a.monitor }
func (a *App) Registry() *resources.Registry     { return a.registry }
func (a *App) Collector() *diagnostics.Collector { return a.collector }
