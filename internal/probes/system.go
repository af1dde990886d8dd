package probes

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"voxagent/internal/core/health"
)

// inputTools are the supported input-injection backends, in preference order.
var inputTools = []string{"xdotool", "ydotool", "wtype", "dotool"}

// AudioProbe detects a working audio backend: a responding PulseAudio or
// PipeWire server first, raw ALSA as a last resort. No backend at all is
// Critical; the agent cannot capture speech without one.
func AudioProbe() health.Probe {
	return func(ctx context.Context) health.Result {
		r := health.Result{Component: health.ComponentAudio, At: time.Now()}

		if out, err := exec.CommandContext(ctx, "pactl", "info").Output(); err == nil {
			backend := "pulseaudio"
			if strings.Contains(string(out), "PipeWire") {
				backend = "pipewire"
			}
			r.Status = health.StatusHealthy
			r.Message = backend + " server responding"
			r.Details = map[string]any{"audio_backend": backend}
			return r
		}

		if err := exec.CommandContext(ctx, "pipewire", "--version").Run(); err == nil {
			r.Status = health.StatusHealthy
			r.Message = "pipewire detected"
			r.Details = map[string]any{"audio_backend": "pipewire"}
			return r
		}

		if out, err := exec.CommandContext(ctx, "aplay", "-l").Output(); err == nil && strings.Contains(string(out), "card") {
			cards := strings.Count(string(out), "card")
			r.Status = health.StatusHealthy
			r.Message = "alsa detected"
			r.Details = map[string]any{"audio_backend": "alsa", "card_count": cards}
			return r
		}

		r.Status = health.StatusCritical
		r.Message = "no audio backend detected"
		return r
	}
}

// GUIProbe checks for a display server. Absence is Critical: the tray and
// any visual feedback are unreachable.
func GUIProbe() health.Probe {
	return func(ctx context.Context) health.Result {
		r := health.Result{Component: health.ComponentGUI, At: time.Now()}

		if d := os.Getenv("WAYLAND_DISPLAY"); d != "" {
			r.Status = health.StatusHealthy
			r.Message = "wayland display available"
			r.Details = map[string]any{"display_server": "wayland", "display": d}
			return r
		}
		if d := os.Getenv("DISPLAY"); d != "" {
			r.Status = health.StatusHealthy
			r.Message = "x11 display available"
			r.Details = map[string]any{"display_server": "x11", "display": d}
			return r
		}

		r.Status = health.StatusCritical
		r.Message = "no display server detected"
		return r
	}
}

// InputProbe looks for an input-injection tool. Absence is only Warning: the
// clipboard fallback still delivers recognized text.
func InputProbe() health.Probe {
	return func(ctx context.Context) health.Result {
		r := health.Result{Component: health.ComponentInput, At: time.Now()}

		var found []string
		for _, tool := range inputTools {
			if _, err := exec.LookPath(tool); err == nil {
				found = append(found, tool)
			}
		}
		r.Details = map[string]any{"input_tools": found}

		if len(found) > 0 {
			r.Status = health.StatusHealthy
			r.Message = "input tools available: " + strings.Join(found, ", ")
			return r
		}
		r.Status = health.StatusWarning
		r.Message = "no input injection tool detected, clipboard fallback in use"
		return r
	}
}

// SpeechProbe verifies the recognizer binary and model file are reachable.
// A missing backend is Warning, matching the input probe: the agent keeps
// running in degraded mode until the backend appears.
func SpeechProbe(binary, modelPath string) health.Probe {
	if binary == "" {
		binary = "whisper"
	}
	return func(ctx context.Context) health.Result {
		r := health.Result{Component: health.ComponentSpeech, At: time.Now()}
		details := map[string]any{"binary": binary}
		r.Details = details

		if _, err := exec.LookPath(binary); err != nil {
			r.Status = health.StatusWarning
			r.Message = "speech recognizer binary not found: " + binary
			return r
		}
		if modelPath != "" {
			details["model_path"] = modelPath
			if _, err := os.Stat(modelPath); err != nil {
				r.Status = health.StatusWarning
				r.Message = "speech model missing: " + modelPath
				return r
			}
		}

		r.Status = health.StatusHealthy
		r.Message = "speech backend available"
		return r
	}
}
