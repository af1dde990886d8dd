// Package health runs the fixed-interval probe loop that independently
// re-derives the status of each monitored subsystem, aggregates to one
// overall status, and attempts cooldown-gated remediation for components
// found unhealthy.
package health

import (
	"fmt"
	"time"
)

// Status of a single component or of the whole system. Ordered so that a
// numerically larger status is worse; aggregation takes the maximum.
type Status int

const (
	StatusHealthy Status = iota
	StatusUnknown
	StatusWarning
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "healthy":
		*s = StatusHealthy
	case "warning":
		*s = StatusWarning
	case "critical":
		*s = StatusCritical
	case "unknown":
		*s = StatusUnknown
	default:
		return fmt.Errorf("unknown health status %q", b)
	}
	return nil
}

// Worse returns the more severe of two statuses.
func Worse(a, b Status) Status {
	if a > b {
		return a
	}
	return b
}

// Component identifies a monitored subsystem. The set is fixed.
type Component string

const (
	ComponentMemory  Component = "memory"
	ComponentCPU     Component = "cpu"
	ComponentDisk    Component = "disk"
	ComponentAudio   Component = "audio"
	ComponentSpeech  Component = "speech"
	ComponentGUI     Component = "gui"
	ComponentInput   Component = "input"
	ComponentService Component = "service"
)

// Components lists the monitored set in check order.
func Components() []Component {
	return []Component{
		ComponentMemory,
		ComponentCPU,
		ComponentDisk,
		ComponentAudio,
		ComponentSpeech,
		ComponentGUI,
		ComponentInput,
		ComponentService,
	}
}

// Result is one probe outcome for one check cycle.
type Result struct {
	Component            Component      `json:"component"`
	Status               Status         `json:"status"`
	Message              string         `json:"message"`
	Details              map[string]any `json:"details,omitempty"`
	At                   time.Time      `json:"at"`
	RemediationAttempted bool           `json:"remediation_attempted"`
	RemediationOK        bool           `json:"remediation_successful"`
}

// Thresholds are echoed back in reports so clients can interpret raw values.
type Thresholds struct {
	MemoryWarnMB float64       `json:"memory_warning_mb"`
	MemoryCritMB float64       `json:"memory_critical_mb"`
	CPUWarnPct   float64       `json:"cpu_warning_percent"`
	CPUCritPct   float64       `json:"cpu_critical_percent"`
	DiskWarnPct  float64       `json:"disk_warning_percent"`
	DiskCritPct  float64       `json:"disk_critical_percent"`
	ProbeTimeout time.Duration `json:"-"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MemoryWarnMB: 400,
		MemoryCritMB: 600,
		CPUWarnPct:   70,
		CPUCritPct:   90,
		DiskWarnPct:  85,
		DiskCritPct:  95,
		ProbeTimeout: 5 * time.Second,
	}
}

// Report is the point-in-time health view returned to callers.
type Report struct {
	Overall          Status               `json:"overall_status"`
	LastCheck        time.Time            `json:"last_check"`
	CheckCount       int                  `json:"check_count"`
	RemediationCount int                  `json:"remediation_count"`
	Components       map[Component]Result `json:"components"`
	Thresholds       Thresholds           `json:"thresholds"`
}
