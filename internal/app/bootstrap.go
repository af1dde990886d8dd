package app

import (
	"time"

	"voxagent/internal/config"
	"voxagent/internal/core/diagnostics"
	"voxagent/internal/core/errorhandler"
	"voxagent/internal/core/health"
	"voxagent/internal/core/resources"
	logx "voxagent/pkg/logx"
)

// Mapping helpers: config sections hold duration strings and omit defaults;
// component configs want concrete values.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Notify: logx.NotifyConfig{
			Enabled:    cfg.Logging.Notify.Enabled,
			MinLevel:   cfg.Logging.Notify.MinLevel,
			RatePerSec: cfg.Logging.Notify.RatePerSec,
		},
	}
}

func mapErrorsConfig(cfg *config.Config) (errorhandler.Config, error) {
	window, err := config.ParseDurationField("errors.window", cfg.Errors.Window)
	if err != nil {
		return errorhandler.Config{}, err
	}
	retryDelay, err := config.ParseDurationField("errors.retry_delay", cfg.Errors.RetryDelay)
	if err != nil {
		return errorhandler.Config{}, err
	}
	return errorhandler.Config{
		Threshold:    cfg.Errors.Threshold,
		Window:       window,
		HistoryLimit: cfg.Errors.HistoryLimit,
		MaxRetries:   cfg.Errors.MaxRetries,
		RetryDelay:   retryDelay,
	}, nil
}

func mapHealthConfig(cfg *config.Config) (health.Config, time.Duration, error) {
	interval, err := config.ParseDurationOrDefault("health.check_interval", cfg.Health.CheckInterval, 30*time.Second)
	if err != nil {
		return health.Config{}, 0, err
	}
	cooldown, err := config.ParseDurationField("health.remediation_cooldown", cfg.Health.RemediationCooldown)
	if err != nil {
		return health.Config{}, 0, err
	}
	probeTimeout, err := config.ParseDurationField("health.probe_timeout", cfg.Health.ProbeTimeout)
	if err != nil {
		return health.Config{}, 0, err
	}

	th := health.DefaultThresholds()
	if cfg.Health.MemoryWarnMB > 0 {
		th.MemoryWarnMB = cfg.Health.MemoryWarnMB
	}
	if cfg.Health.MemoryCritMB > 0 {
		th.MemoryCritMB = cfg.Health.MemoryCritMB
	}
	if cfg.Health.CPUWarnPct > 0 {
		th.CPUWarnPct = cfg.Health.CPUWarnPct
	}
	if cfg.Health.CPUCritPct > 0 {
		th.CPUCritPct = cfg.Health.CPUCritPct
	}
	if cfg.Health.DiskWarnPct > 0 {
		th.DiskWarnPct = cfg.Health.DiskWarnPct
	}
	if cfg.Health.DiskCritPct > 0 {
		th.DiskCritPct = cfg.Health.DiskCritPct
	}
	if probeTimeout > 0 {
		th.ProbeTimeout = probeTimeout
	}

	return health.Config{
		Cooldown:     cooldown,
		HistoryLimit: cfg.Health.HistoryLimit,
		Thresholds:   th,
	}, interval, nil
}

func mapResourcesConfig(cfg *config.Config) (resources.Config, time.Duration, error) {
	sampleEvery, err := config.ParseDurationOrDefault("resources.sample_interval", cfg.Resources.SampleInterval, 30*time.Second)
	if err != nil {
		return resources.Config{}, 0, err
	}
	idleAfter, err := config.ParseDurationField("resources.idle_after", cfg.Resources.IdleAfter)
	if err != nil {
		return resources.Config{}, 0, err
	}
	staleAge, err := config.ParseDurationField("resources.stale_age", cfg.Resources.StaleAge)
	if err != nil {
		return resources.Config{}, 0, err
	}
	staleIdle, err := config.ParseDurationField("resources.stale_idle", cfg.Resources.StaleIdle)
	if err != nil {
		return resources.Config{}, 0, err
	}
	return resources.Config{
		MemoryCeilingMB: cfg.Resources.MemoryCeilingMB,
		IdleAfter:       idleAfter,
		StaleAge:        staleAge,
		StaleIdle:       staleIdle,
		CPUWarnPct:      cfg.Resources.CPUWarnPct,
		FDWarn:          cfg.Resources.FDWarn,
		ThreadWarn:      cfg.Resources.ThreadWarn,
	}, sampleEvery, nil
}

func mapStoreConfig(cfg *config.Config) (diagnostics.StoreConfig, error) {
	busy, err := config.ParseDurationField("diagnostics.store_busy_timeout", cfg.Diagnostics.StoreBusyTimeout)
	if err != nil {
		return diagnostics.StoreConfig{}, err
	}
	retention, err := config.ParseDurationOrDefault("diagnostics.retention", cfg.Diagnostics.Retention, 7*24*time.Hour)
	if err != nil {
		return diagnostics.StoreConfig{}, err
	}
	return diagnostics.StoreConfig{
		Path:        cfg.Diagnostics.StorePath,
		BusyTimeout: busy,
		Retention:   retention,
	}, nil
}
