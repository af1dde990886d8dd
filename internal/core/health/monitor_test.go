package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "voxagent/pkg/logx"
)

func newTestMonitor(cfg Config) *Monitor {
	return NewMonitor(cfg, logx.Nop())
}

// installAllHealthy fills every component slot so aggregation tests are not
// skewed by "no probe registered" results.
func installAllHealthy(m *Monitor) {
	for _, c := range Components() {
		c := c
		m.RegisterProbe(c, func(ctx context.Context) Result {
			return Result{Component: c, Status: StatusHealthy, Message: "ok"}
		})
	}
}

func TestWorseOrdering(t *testing.T) {
	cases := []struct {
		a, b, want Status
	}{
		{StatusHealthy, StatusUnknown, StatusUnknown},
		{StatusUnknown, StatusWarning, StatusWarning},
		{StatusWarning, StatusCritical, StatusCritical},
		{StatusCritical, StatusHealthy, StatusCritical},
		{StatusHealthy, StatusHealthy, StatusHealthy},
	}
	for _, c := range cases {
		if got := Worse(c.a, c.b); got != c.want {
			t.Fatalf("Worse(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestStatusTextRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusHealthy, StatusUnknown, StatusWarning, StatusCritical} {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatalf("marshal %v: %v", s, err)
		}
		var back Status
		if err := back.UnmarshalText(b); err != nil {
			t.Fatalf("unmarshal %q: %v", b, err)
		}
		if back != s {
			t.Fatalf("round trip %v -> %q -> %v", s, b, back)
		}
	}
	var s Status
	if err := s.UnmarshalText([]byte("degraded")); err == nil {
		t.Fatalf("expected error for unknown status text")
	}
}

func TestOverallUnknownBeforeFirstCheck(t *testing.T) {
	m := newTestMonitor(Config{})
	if got := m.Overall(); got != StatusUnknown {
		t.Fatalf("expected unknown before any check, got %v", got)
	}
}

func TestOverallTakesWorstComponent(t *testing.T) {
	m := newTestMonitor(Config{})
	installAllHealthy(m)
	m.RegisterProbe(ComponentDisk, func(ctx context.Context) Result {
		return Result{Status: StatusWarning, Message: "disk filling up"}
	})
	m.RegisterProbe(ComponentAudio, func(ctx context.Context) Result {
		return Result{Status: StatusCritical, Message: "no audio server"}
	})

	m.Check(context.Background())
	if got := m.Overall(); got != StatusCritical {
		t.Fatalf("expected critical overall, got %v", got)
	}

	rep := m.Report()
	if rep.Overall != StatusCritical || rep.CheckCount != 1 {
		t.Fatalf("unexpected report: overall=%v checks=%d", rep.Overall, rep.CheckCount)
	}
	if rep.Components[ComponentDisk].Status != StatusWarning {
		t.Fatalf("disk result lost: %+v", rep.Components[ComponentDisk])
	}
}

func TestMissingProbeReportsUnknown(t *testing.T) {
	m := newTestMonitor(Config{})
	m.Check(context.Background())
	if got := m.Overall(); got != StatusUnknown {
		t.Fatalf("expected unknown with no probes, got %v", got)
	}
}

func TestProbePanicBecomesUnknown(t *testing.T) {
	m := newTestMonitor(Config{})
	installAllHealthy(m)
	m.RegisterProbe(ComponentGUI, func(ctx context.Context) Result {
		panic("probe bug")
	})

	results := m.Check(context.Background())
	if results[ComponentGUI].Status != StatusUnknown {
		t.Fatalf("panicking probe must yield unknown, got %v", results[ComponentGUI].Status)
	}
	if m.Overall() != StatusUnknown {
		t.Fatalf("overall should degrade to unknown, got %v", m.Overall())
	}
}

func TestRemediationCooldown(t *testing.T) {
	m := newTestMonitor(Config{Cooldown: time.Hour})
	installAllHealthy(m)
	m.RegisterProbe(ComponentMemory, func(ctx context.Context) Result {
		return Result{Status: StatusWarning, Message: "high memory"}
	})

	var attempts atomic.Int32
	m.RegisterRemediator(ComponentMemory, func(ctx context.Context, r Result) error {
		attempts.Add(1)
		return nil
	})

	// First check remediates (no prior stamp); the next two are inside the
	// cooldown and must be skipped.
	for i := 0; i < 3; i++ {
		m.Check(context.Background())
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("cooldown must allow exactly one attempt, got %d", got)
	}
}

func TestRemediationStampedEvenOnFailure(t *testing.T) {
	m := newTestMonitor(Config{Cooldown: time.Hour})
	installAllHealthy(m)
	m.RegisterProbe(ComponentAudio, func(ctx context.Context) Result {
		return Result{Status: StatusCritical, Message: "audio gone"}
	})

	var attempts atomic.Int32
	m.RegisterRemediator(ComponentAudio, func(ctx context.Context, r Result) error {
		attempts.Add(1)
		return errors.New("restart failed")
	})

	m.Check(context.Background())
	m.Check(context.Background())
	if got := attempts.Load(); got != 1 {
		t.Fatalf("failed attempt must still start the cooldown, got %d attempts", got)
	}
}

func TestRemediationSuccessReprobed(t *testing.T) {
	m := newTestMonitor(Config{Cooldown: time.Hour})
	installAllHealthy(m)

	var fixed atomic.Bool
	m.RegisterProbe(ComponentSpeech, func(ctx context.Context) Result {
		if fixed.Load() {
			return Result{Status: StatusHealthy, Message: "recognizer back"}
		}
		return Result{Status: StatusCritical, Message: "recognizer missing"}
	})
	m.RegisterRemediator(ComponentSpeech, func(ctx context.Context, r Result) error {
		fixed.Store(true)
		return nil
	})

	results := m.Check(context.Background())
	got := results[ComponentSpeech]
	if !got.RemediationAttempted || !got.RemediationOK {
		t.Fatalf("expected successful remediation, got %+v", got)
	}
	if got.Status != StatusHealthy {
		t.Fatalf("re-probe after remediation must show the new status, got %v", got.Status)
	}
	if m.Report().RemediationCount != 1 {
		t.Fatalf("remediation counter not bumped")
	}
}

func TestRemediatorPanicIsolated(t *testing.T) {
	m := newTestMonitor(Config{Cooldown: time.Hour})
	installAllHealthy(m)
	m.RegisterProbe(ComponentInput, func(ctx context.Context) Result {
		return Result{Status: StatusWarning, Message: "no input tool"}
	})
	m.RegisterRemediator(ComponentInput, func(ctx context.Context, r Result) error {
		panic("remediator bug")
	})

	results := m.Check(context.Background())
	got := results[ComponentInput]
	if !got.RemediationAttempted || got.RemediationOK {
		t.Fatalf("panicking remediator must count as a failed attempt, got %+v", got)
	}
}

func TestCriticalResultsRaised(t *testing.T) {
	m := newTestMonitor(Config{})
	installAllHealthy(m)
	m.RegisterProbe(ComponentAudio, func(ctx context.Context) Result {
		return Result{Status: StatusCritical, Message: "no audio server"}
	})
	m.RegisterProbe(ComponentDisk, func(ctx context.Context) Result {
		return Result{Status: StatusWarning, Message: "disk filling up"}
	})

	raised := map[string]error{}
	m.SetRaise(func(err error, scope string) bool {
		raised[scope] = err
		return true
	})

	m.Check(context.Background())
	if len(raised) != 1 {
		t.Fatalf("only critical results must be raised, got %d", len(raised))
	}
	if _, ok := raised["health:audio"]; !ok {
		t.Fatalf("expected health:audio raise, got %v", raised)
	}
}

func TestHistoryFilter(t *testing.T) {
	m := newTestMonitor(Config{})
	installAllHealthy(m)
	m.Check(context.Background())
	m.Check(context.Background())

	all := m.History("", time.Time{})
	if len(all) != 2*len(Components()) {
		t.Fatalf("expected %d results, got %d", 2*len(Components()), len(all))
	}
	cpu := m.History(ComponentCPU, time.Time{})
	if len(cpu) != 2 {
		t.Fatalf("expected 2 cpu results, got %d", len(cpu))
	}
	none := m.History("", time.Now().Add(time.Hour))
	if len(none) != 0 {
		t.Fatalf("future cutoff must return nothing, got %d", len(none))
	}
}

func TestStartStopLoop(t *testing.T) {
	m := newTestMonitor(Config{StopTimeout: time.Second})
	installAllHealthy(m)

	ctx := context.Background()
	m.Start(ctx, 10*time.Millisecond)
	defer m.Stop(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Report().CheckCount > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("loop never performed a check")
}
