//go:build !linux

package probes

import (
	"context"
	"time"

	"voxagent/internal/core/health"
)

// ServiceProbe reports Unknown off-linux; unit supervision is systemd-only.
func ServiceProbe(unit string) health.Probe {
	return func(ctx context.Context) health.Result {
		r := health.Result{Component: health.ComponentService, At: time.Now()}
		if unit == "" {
			r.Status = health.StatusHealthy
			r.Message = "no managed unit configured"
			return r
		}
		r.Status = health.StatusUnknown
		r.Message = "systemd probe unsupported on this OS"
		return r
	}
}
