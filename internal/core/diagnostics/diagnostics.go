// Package diagnostics assembles point-in-time snapshots of the engine's
// state (error statistics, health labels, recent failures, resource usage)
// and exports them as JSON for postmortem analysis.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"voxagent/internal/core/errorhandler"
	"voxagent/internal/core/health"
	"voxagent/internal/core/resources"
	logx "voxagent/pkg/logx"
)

const reportPrefix = "diagnostic_report_"

type Collector struct {
	log      logx.Logger
	errors   *errorhandler.Handler
	monitor  *health.Monitor
	registry *resources.Registry

	recordLimit int
	startedAt   time.Time
}

// SystemInfo is the static process/host context attached to every report.
type SystemInfo struct {
	Hostname  string  `json:"hostname"`
	OS        string  `json:"os"`
	Arch      string  `json:"arch"`
	NumCPU    int     `json:"num_cpu"`
	GoVersion string  `json:"go_version"`
	PID       int     `json:"pid"`
	UptimeSec float64 `json:"uptime_sec"`
}

// Report is the serializable diagnostic snapshot. Parsed back, it reproduces
// the same counts the live statistics calls reported at export time.
type Report struct {
	Timestamp    time.Time             `json:"timestamp"`
	System       SystemInfo            `json:"system"`
	Errors       errorhandler.Stats    `json:"error_statistics"`
	HealthLabels map[string]string     `json:"component_health"`
	Health       health.Report         `json:"health_report"`
	Failures     []errorhandler.Record `json:"recent_failures"`
	Resources    resources.Stats       `json:"resources"`
}

func NewCollector(errors *errorhandler.Handler, monitor *health.Monitor, registry *resources.Registry, log logx.Logger) *Collector {
	return &Collector{
		log:         log,
		errors:      errors,
		monitor:     monitor,
		registry:    registry,
		recordLimit: 50,
		startedAt:   time.Now(),
	}
}

// Collect builds a point-in-time report from the live components.
func (c *Collector) Collect() Report {
	now := time.Now()
	host, _ := os.Hostname()
	return Report{
		Timestamp: now,
		System: SystemInfo{
			Hostname:  host,
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			NumCPU:    runtime.NumCPU(),
			GoVersion: runtime.Version(),
			PID:       os.Getpid(),
			UptimeSec: now.Sub(c.startedAt).Seconds(),
		},
		Errors:       c.errors.Stats(),
		HealthLabels: c.errors.HealthLabels(),
		Health:       c.monitor.Report(),
		Failures:     c.errors.History(c.recordLimit),
		Resources:    c.registry.Stats(),
	}
}

// WriteFile exports a report as indented JSON. The write goes through a
// temp file and rename so a crash mid-write never leaves a torn report.
func (c *Collector) WriteFile(path string) error {
	b, err := json.MarshalIndent(c.Collect(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	c.log.Info("diagnostic report written", logx.String("path", path))
	return nil
}

// Export writes a timestamped report into dir and returns its path.
func (c *Collector) Export(dir string) (string, error) {
	name := fmt.Sprintf("%s%s.json", reportPrefix, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := c.WriteFile(path); err != nil {
		return "", err
	}
	return path, nil
}

// CleanupOld removes exported reports older than the retention cutoff.
func (c *Collector) CleanupOld(dir string, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), reportPrefix) {
			continue
		}
		info, ierr := e.Info()
		if ierr != nil || info.ModTime().After(cutoff) {
			continue
		}
		if rerr := os.Remove(filepath.Join(dir, e.Name())); rerr == nil {
			removed++
		}
	}
	if removed > 0 {
		c.log.Info("cleaned up old diagnostic reports", logx.Int("removed", removed))
	}
	return removed, nil
}
