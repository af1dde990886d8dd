package probes

import (
	"context"
	"fmt"
	"time"

	"voxagent/internal/core/health"
	"voxagent/internal/core/resources"
)

// Config names the few knobs the boundary probes need.
type Config struct {
	// ServiceUnit is the systemd user unit managed alongside the agent.
	// Empty disables the service probe (reported healthy, nothing to manage).
	ServiceUnit string

	// Speech backend: recognizer binary on PATH and model file on disk.
	SpeechBinary    string
	SpeechModelPath string

	DiskPath string
}

// Install registers the full fixed probe set on a monitor.
func Install(m *health.Monitor, cfg Config, sampler *ProcSampler) {
	th := m.Thresholds()
	m.RegisterProbe(health.ComponentMemory, MemoryProbe(sampler, th))
	m.RegisterProbe(health.ComponentCPU, CPUProbe(sampler, th))
	m.RegisterProbe(health.ComponentDisk, DiskProbe(sampler, th))
	m.RegisterProbe(health.ComponentAudio, AudioProbe())
	m.RegisterProbe(health.ComponentSpeech, SpeechProbe(cfg.SpeechBinary, cfg.SpeechModelPath))
	m.RegisterProbe(health.ComponentGUI, GUIProbe())
	m.RegisterProbe(health.ComponentInput, InputProbe())
	m.RegisterProbe(health.ComponentService, ServiceProbe(cfg.ServiceUnit))
}

// MemoryProbe grades resident memory against the warning and critical
// thresholds.
func MemoryProbe(s *ProcSampler, th health.Thresholds) health.Probe {
	return func(ctx context.Context) health.Result {
		u, err := s.Sample()
		if err != nil {
			return unknown(health.ComponentMemory, "memory check failed", err)
		}
		r := health.Result{
			Component: health.ComponentMemory,
			At:        time.Now(),
			Details: map[string]any{
				"memory_mb":          u.MemoryMB,
				"threshold_warning":  th.MemoryWarnMB,
				"threshold_critical": th.MemoryCritMB,
			},
		}
		switch {
		case u.MemoryMB >= th.MemoryCritMB:
			r.Status = health.StatusCritical
			r.Message = fmt.Sprintf("critical memory usage: %.1fMB", u.MemoryMB)
		case u.MemoryMB >= th.MemoryWarnMB:
			r.Status = health.StatusWarning
			r.Message = fmt.Sprintf("high memory usage: %.1fMB", u.MemoryMB)
		default:
			r.Status = health.StatusHealthy
			r.Message = fmt.Sprintf("memory usage normal: %.1fMB", u.MemoryMB)
		}
		return r
	}
}

// CPUProbe grades process CPU consumption. The sampler derives percent from
// the delta since the previous sample.
func CPUProbe(s *ProcSampler, th health.Thresholds) health.Probe {
	return func(ctx context.Context) health.Result {
		u, err := s.Sample()
		if err != nil {
			return unknown(health.ComponentCPU, "cpu check failed", err)
		}
		r := health.Result{
			Component: health.ComponentCPU,
			At:        time.Now(),
			Details: map[string]any{
				"cpu_pct":            u.CPUPct,
				"num_threads":        u.Threads,
				"threshold_warning":  th.CPUWarnPct,
				"threshold_critical": th.CPUCritPct,
			},
		}
		switch {
		case u.CPUPct >= th.CPUCritPct:
			r.Status = health.StatusCritical
			r.Message = fmt.Sprintf("critical cpu usage: %.1f%%", u.CPUPct)
		case u.CPUPct >= th.CPUWarnPct:
			r.Status = health.StatusWarning
			r.Message = fmt.Sprintf("high cpu usage: %.1f%%", u.CPUPct)
		default:
			r.Status = health.StatusHealthy
			r.Message = fmt.Sprintf("cpu usage normal: %.1f%%", u.CPUPct)
		}
		return r
	}
}

// DiskProbe grades disk usage of the sampler's configured path.
func DiskProbe(s *ProcSampler, th health.Thresholds) health.Probe {
	return func(ctx context.Context) health.Result {
		u, err := s.Sample()
		if err != nil {
			return unknown(health.ComponentDisk, "disk check failed", err)
		}
		r := health.Result{
			Component: health.ComponentDisk,
			At:        time.Now(),
			Details: map[string]any{
				"used_percent":       u.DiskUsedPct,
				"free_gb":            u.DiskFreeGB,
				"threshold_warning":  th.DiskWarnPct,
				"threshold_critical": th.DiskCritPct,
			},
		}
		switch {
		case u.DiskUsedPct >= th.DiskCritPct:
			r.Status = health.StatusCritical
			r.Message = fmt.Sprintf("critical disk usage: %.1f%%", u.DiskUsedPct)
		case u.DiskUsedPct >= th.DiskWarnPct:
			r.Status = health.StatusWarning
			r.Message = fmt.Sprintf("high disk usage: %.1f%%", u.DiskUsedPct)
		default:
			r.Status = health.StatusHealthy
			r.Message = fmt.Sprintf("disk usage normal: %.1f%%", u.DiskUsedPct)
		}
		return r
	}
}

func unknown(c health.Component, msg string, err error) health.Result {
	return health.Result{
		Component: c,
		Status:    health.StatusUnknown,
		Message:   fmt.Sprintf("%s: %v", msg, err),
		At:        time.Now(),
	}
}

var _ resources.Sampler = (*ProcSampler)(nil)
