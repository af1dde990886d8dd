package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the full agent configuration. Durations are Go duration strings
// (e.g. "500ms", "30s", "5m").
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Errors      ErrorsConfig      `json:"errors"`
	Health      HealthConfig      `json:"health"`
	Resources   ResourcesConfig   `json:"resources"`
	Diagnostics DiagnosticsConfig `json:"diagnostics,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Speech      SpeechConfig      `json:"speech,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Notify  LoggingNotify `json:"notify"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingNotify mirrors the desktop-notification log sink: warnings and
// errors surfaced to the user, rate limited.
type LoggingNotify struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ErrorsConfig tunes the failure dispatcher.
type ErrorsConfig struct {
	// Threshold failures of the same (kind, context) key within Window
	// trigger the critical escalation path.
	Threshold int    `json:"threshold,omitempty"`
	Window    string `json:"window,omitempty"`

	HistoryLimit int    `json:"history_limit,omitempty"`
	MaxRetries   int    `json:"max_retries,omitempty"`
	RetryDelay   string `json:"retry_delay,omitempty"`
}

// HealthConfig tunes the periodic health monitor.
type HealthConfig struct {
	CheckInterval       string `json:"check_interval,omitempty"`
	RemediationCooldown string `json:"remediation_cooldown,omitempty"`
	ProbeTimeout        string `json:"probe_timeout,omitempty"`
	HistoryLimit        int    `json:"history_limit,omitempty"`

	MemoryWarnMB float64 `json:"memory_warn_mb,omitempty"`
	MemoryCritMB float64 `json:"memory_crit_mb,omitempty"`
	CPUWarnPct   float64 `json:"cpu_warn_pct,omitempty"`
	CPUCritPct   float64 `json:"cpu_crit_pct,omitempty"`
	DiskWarnPct  float64 `json:"disk_warn_pct,omitempty"`
	DiskCritPct  float64 `json:"disk_crit_pct,omitempty"`

	// ServiceUnit is the systemd user unit probed for the service component.
	// Empty means no managed unit.
	ServiceUnit string `json:"service_unit,omitempty"`
}

// ResourcesConfig tunes the resource registry and its sampler loop.
type ResourcesConfig struct {
	MemoryCeilingMB float64 `json:"memory_ceiling_mb,omitempty"`
	SampleInterval  string  `json:"sample_interval,omitempty"`
	IdleAfter       string  `json:"idle_after,omitempty"`
	StaleAge        string  `json:"stale_age,omitempty"`
	StaleIdle       string  `json:"stale_idle,omitempty"`

	// Advisory (log-only) thresholds.
	CPUWarnPct float64 `json:"cpu_warn_pct,omitempty"`
	FDWarn     int     `json:"fd_warn,omitempty"`
	ThreadWarn int     `json:"thread_warn,omitempty"`
}

// DiagnosticsConfig controls report export and the persistence store.
type DiagnosticsConfig struct {
	Dir       string `json:"dir,omitempty"`
	Retention string `json:"retention,omitempty"`

	// StorePath enables the sqlite history store when non-empty.
	StorePath        string `json:"store_path,omitempty"`
	StoreBusyTimeout string `json:"store_busy_timeout,omitempty"`
}

// MaintenanceConfig holds cron-style schedules for background jobs.
// Specs accept standard 5-field cron lines or "@every <duration>".
type MaintenanceConfig struct {
	Enabled      bool   `json:"enabled"`
	SnapshotSpec string `json:"snapshot_spec,omitempty"`
	CleanupSpec  string `json:"cleanup_spec,omitempty"`
	PruneSpec    string `json:"prune_spec,omitempty"`
}

type SpeechConfig struct {
	Binary    string `json:"binary,omitempty"`
	ModelPath string `json:"model_path,omitempty"`
	DiskPath  string `json:"disk_path,omitempty"`
}

// Validate checks fields that would otherwise fail deep inside a component
// at runtime. It does not mutate the config.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if lv := strings.TrimSpace(c.Logging.Level); lv != "" {
		switch strings.ToLower(lv) {
		case "trace", "debug", "info", "warn", "warning", "error":
		default:
			return fmt.Errorf("logging.level: unknown level %q", lv)
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"errors.window", c.Errors.Window},
		{"errors.retry_delay", c.Errors.RetryDelay},
		{"health.check_interval", c.Health.CheckInterval},
		{"health.remediation_cooldown", c.Health.RemediationCooldown},
		{"health.probe_timeout", c.Health.ProbeTimeout},
		{"resources.sample_interval", c.Resources.SampleInterval},
		{"resources.idle_after", c.Resources.IdleAfter},
		{"resources.stale_age", c.Resources.StaleAge},
		{"resources.stale_idle", c.Resources.StaleIdle},
		{"diagnostics.retention", c.Diagnostics.Retention},
		{"diagnostics.store_busy_timeout", c.Diagnostics.StoreBusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Health.MemoryWarnMB > 0 && c.Health.MemoryCritMB > 0 && c.Health.MemoryWarnMB >= c.Health.MemoryCritMB {
		return errors.New("health: memory_warn_mb must be below memory_crit_mb")
	}
	if c.Health.CPUWarnPct > 0 && c.Health.CPUCritPct > 0 && c.Health.CPUWarnPct >= c.Health.CPUCritPct {
		return errors.New("health: cpu_warn_pct must be below cpu_crit_pct")
	}
	if c.Health.DiskWarnPct > 0 && c.Health.DiskCritPct > 0 && c.Health.DiskWarnPct >= c.Health.DiskCritPct {
		return errors.New("health: disk_warn_pct must be below disk_crit_pct")
	}
	return nil
}
