// Package notify surfaces important log events to the desktop session via
// freedesktop notifications.
package notify

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	logx "voxagent/pkg/logx"
)

// Desktop sends notifications through notify-send. It satisfies the logx
// notifier hook; the logging service handles level filtering and rate
// limiting before anything reaches here.
type Desktop struct {
	bin     string
	appName string
}

var _ logx.Notifier = (*Desktop)(nil)

// NewDesktop locates notify-send. Returns an error when the binary is not
// on PATH; callers then run without the notification sink.
func NewDesktop(appName string) (*Desktop, error) {
	bin, err := exec.LookPath("notify-send")
	if err != nil {
		return nil, errors.New("notify-send not found in PATH")
	}
	if strings.TrimSpace(appName) == "" {
		appName = "voxagent"
	}
	return &Desktop{bin: bin, appName: appName}, nil
}

func (d *Desktop) Notify(ctx context.Context, level, message string) error {
	urgency := "normal"
	switch strings.ToLower(level) {
	case "error", "fatal", "panic":
		urgency = "critical"
	case "debug", "trace":
		urgency = "low"
	}
	cmd := exec.CommandContext(ctx, d.bin,
		"--app-name", d.appName,
		"--urgency", urgency,
		d.appName+" "+strings.ToLower(level),
		message,
	)
	return cmd.Run()
}
