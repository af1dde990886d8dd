//go:build linux

package probes

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"

	"voxagent/internal/core/health"
)

// ServiceProbe checks the managed systemd unit's ActiveState over D-Bus.
// The user bus is tried first (the agent installs as a user service), then
// the system bus.
func ServiceProbe(unit string) health.Probe {
	return func(ctx context.Context) health.Result {
		r := health.Result{Component: health.ComponentService, At: time.Now()}

		if unit == "" {
			r.Status = health.StatusHealthy
			r.Message = "no managed unit configured"
			return r
		}
		r.Details = map[string]any{"unit": unit}

		conn, err := dbus.NewUserConnectionContext(ctx)
		if err != nil {
			conn, err = dbus.NewSystemConnectionContext(ctx)
		}
		if err != nil {
			r.Status = health.StatusUnknown
			r.Message = "cannot reach systemd: " + err.Error()
			return r
		}
		defer conn.Close()

		props, err := conn.GetUnitPropertiesContext(ctx, unit)
		if err != nil {
			r.Status = health.StatusUnknown
			r.Message = "unit query failed: " + err.Error()
			return r
		}

		load, _ := props["LoadState"].(string)
		active, _ := props["ActiveState"].(string)
		sub, _ := props["SubState"].(string)
		r.Details["load_state"] = load
		r.Details["active_state"] = active
		r.Details["sub_state"] = sub

		switch {
		case load == "not-found":
			r.Status = health.StatusWarning
			r.Message = "managed unit not found: " + unit
		case active == "active":
			r.Status = health.StatusHealthy
			r.Message = "managed unit active"
		case active == "failed":
			r.Status = health.StatusCritical
			r.Message = "managed unit failed: " + unit
		default:
			r.Status = health.StatusWarning
			r.Message = "managed unit " + active + "/" + sub
		}
		return r
	}
}
