package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voxagent/internal/core/failure"
	"voxagent/internal/runtime/supervisor"
	logx "voxagent/pkg/logx"
)

// Probe independently determines the status of one component by inspecting
// live system state. Probes must bound their own blocking with the context.
type Probe func(ctx context.Context) Result

// Remediator attempts an automatic corrective action for a component found
// unhealthy. Distinct from failure recovery, which reacts to raised failures.
type Remediator func(ctx context.Context, r Result) error

type Config struct {
	// Cooldown is the minimum gap between two remediation attempts for the
	// same component, no matter how many unhealthy probes occur in between.
	Cooldown     time.Duration
	HistoryLimit int
	StopTimeout  time.Duration
	Thresholds   Thresholds
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 1000
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	z := Thresholds{}
	if c.Thresholds == z {
		c.Thresholds = DefaultThresholds()
	}
	if c.Thresholds.ProbeTimeout <= 0 {
		c.Thresholds.ProbeTimeout = 5 * time.Second
	}
	return c
}

type Monitor struct {
	cfg Config
	log logx.Logger

	mu              sync.Mutex
	probes          map[Component]Probe
	remediators     map[Component]Remediator
	lastRemediation map[Component]time.Time
	current         map[Component]Result
	history         []Result
	checkCount      int
	remediations    int
	lastCheck       time.Time

	// raise feeds probe failures back into the error handler.
	raise    func(err error, scope string) bool
	onResult func(Result)

	runMu sync.Mutex
	sup   *supervisor.Supervisor
}

func NewMonitor(cfg Config, log logx.Logger) *Monitor {
	return &Monitor{
		cfg:             cfg.withDefaults(),
		log:             log,
		probes:          map[Component]Probe{},
		remediators:     map[Component]Remediator{},
		lastRemediation: map[Component]time.Time{},
		current:         map[Component]Result{},
	}
}

func (m *Monitor) Thresholds() Thresholds { return m.cfg.Thresholds }

// RegisterProbe installs the probe for a component.
func (m *Monitor) RegisterProbe(c Component, p Probe) {
	m.mu.Lock()
	m.probes[c] = p
	m.mu.Unlock()
}

// RegisterRemediator installs the remediation strategy for a component.
func (m *Monitor) RegisterRemediator(c Component, r Remediator) {
	m.mu.Lock()
	m.remediators[c] = r
	m.mu.Unlock()
	m.log.Debug("registered remediator", logx.String("component", string(c)))
}

// SetRaise installs the failure-reporting hook (the error handler's Handle).
func (m *Monitor) SetRaise(fn func(err error, scope string) bool) {
	m.mu.Lock()
	m.raise = fn
	m.mu.Unlock()
}

// SetObserver installs a callback invoked (outside the lock) for every
// result appended to history. Used to persist results best-effort.
func (m *Monitor) SetObserver(fn func(Result)) {
	m.mu.Lock()
	m.onResult = fn
	m.mu.Unlock()
}

func (m *Monitor) observe(r Result) {
	m.mu.Lock()
	fn := m.onResult
	m.mu.Unlock()
	if fn == nil {
		return
	}
	defer func() { _ = recover() }()
	fn(r)
}

// Start launches the periodic check loop. No-op if already monitoring.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.sup != nil {
		m.log.Warn("health monitoring already active")
		return
	}
	m.sup = supervisor.New(ctx, supervisor.WithLogger(m.log))
	m.sup.GoLoop("health-check", interval, func(ctx context.Context) error {
		m.Check(ctx)
		return nil
	})
	m.log.Info("health monitoring started", logx.Duration("interval", interval))
}

// Stop halts the loop, waiting a bounded time for an in-flight check.
func (m *Monitor) Stop(ctx context.Context) {
	m.runMu.Lock()
	sup := m.sup
	m.sup = nil
	m.runMu.Unlock()
	if sup == nil {
		return
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.StopTimeout)
		defer cancel()
	}
	if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
		m.log.Warn("health monitor stop timed out")
		return
	}
	m.log.Info("health monitoring stopped")
}

// Check probes every component once, updates the current snapshot and
// history, attempts cooldown-gated remediation, and raises critical results
// into the error handler.
func (m *Monitor) Check(ctx context.Context) map[Component]Result {
	results := make(map[Component]Result, len(Components()))
	for _, c := range Components() {
		results[c] = m.runProbe(ctx, c)
	}

	now := time.Now()
	m.mu.Lock()
	for c, r := range results {
		m.current[c] = r
		m.appendHistoryLocked(r)
	}
	m.checkCount++
	m.lastCheck = now
	m.mu.Unlock()

	for _, c := range Components() {
		m.observe(results[c])
	}

	m.attemptRemediations(ctx, results)
	m.raiseCritical(results)

	m.log.Debug("health check completed", logx.String("overall", m.Overall().String()))
	return results
}

func (m *Monitor) runProbe(ctx context.Context, c Component) (res Result) {
	m.mu.Lock()
	p := m.probes[c]
	m.mu.Unlock()

	if p == nil {
		return Result{Component: c, Status: StatusUnknown, Message: "no probe registered", At: time.Now()}
	}

	pctx, cancel := context.WithTimeout(ctx, m.cfg.Thresholds.ProbeTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Component: c,
				Status:    StatusUnknown,
				Message:   fmt.Sprintf("probe panicked: %v", r),
				At:        time.Now(),
			}
		}
	}()

	res = p(pctx)
	res.Component = c
	if res.At.IsZero() {
		res.At = time.Now()
	}
	return res
}

func (m *Monitor) attemptRemediations(ctx context.Context, results map[Component]Result) {
	now := time.Now()
	for _, c := range Components() {
		r, ok := results[c]
		if !ok || (r.Status != StatusWarning && r.Status != StatusCritical) {
			continue
		}

		m.mu.Lock()
		rem := m.remediators[c]
		last := m.lastRemediation[c]
		m.mu.Unlock()

		if rem == nil || now.Sub(last) <= m.cfg.Cooldown {
			continue
		}

		// Stamp the cooldown up front so an immediate re-failure cannot
		// trigger a remediation storm.
		m.mu.Lock()
		m.lastRemediation[c] = now
		m.mu.Unlock()

		m.log.Info("attempting remediation", logx.String("component", string(c)), logx.String("status", r.Status.String()))
		err := safeRemediate(ctx, rem, r)
		if err != nil {
			m.log.Warn("remediation failed", logx.String("component", string(c)), logx.Err(err))
		}

		// Re-probe just this component to judge the remediation.
		after := m.runProbe(ctx, c)
		after.RemediationAttempted = true
		after.RemediationOK = err == nil && after.Status == StatusHealthy

		m.mu.Lock()
		m.current[c] = after
		m.appendHistoryLocked(after)
		if after.RemediationOK {
			m.remediations++
		}
		m.mu.Unlock()

		results[c] = after
		m.observe(after)
		if after.RemediationOK {
			m.log.Info("remediation successful", logx.String("component", string(c)))
		}
	}
}

func safeRemediate(ctx context.Context, rem Remediator, r Result) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("remediator panicked: %v", p)
		}
	}()
	return rem(ctx, r)
}

func (m *Monitor) raiseCritical(results map[Component]Result) {
	m.mu.Lock()
	raise := m.raise
	m.mu.Unlock()
	if raise == nil {
		return
	}
	for _, c := range Components() {
		r, ok := results[c]
		if !ok || r.Status != StatusCritical {
			continue
		}
		raise(probeFailure(c, r), "health:"+string(c))
	}
}

// probeFailure maps a critical probe result to a classified failure so the
// dispatcher counts and records it under the right kind.
func probeFailure(c Component, r Result) error {
	kind := failure.KindSystem
	switch c {
	case ComponentAudio:
		kind = failure.KindAudio
	case ComponentSpeech:
		kind = failure.KindRecognition
	}
	return failure.New(kind, r.Message, failure.SeverityHigh, failure.ActionDegrade)
}

func (m *Monitor) appendHistoryLocked(r Result) {
	m.history = append(m.history, r)
	if len(m.history) > m.cfg.HistoryLimit {
		m.history = m.history[len(m.history)-m.cfg.HistoryLimit:]
	}
}

// Overall aggregates the current snapshot to the worst individual status.
// With no checks performed yet, the system is Unknown.
func (m *Monitor) Overall() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.current) == 0 {
		return StatusUnknown
	}
	overall := StatusHealthy
	for _, r := range m.current {
		overall = Worse(overall, r.Status)
	}
	return overall
}

// Report returns the aggregate status, counters, and per-component snapshot.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	comps := make(map[Component]Result, len(m.current))
	overall := StatusHealthy
	if len(m.current) == 0 {
		overall = StatusUnknown
	}
	for c, r := range m.current {
		comps[c] = r
		overall = Worse(overall, r.Status)
	}
	return Report{
		Overall:          overall,
		LastCheck:        m.lastCheck,
		CheckCount:       m.checkCount,
		RemediationCount: m.remediations,
		Components:       comps,
		Thresholds:       m.cfg.Thresholds,
	}
}

// History returns results since the cutoff, optionally filtered to one
// component. Pass "" for all components.
func (m *Monitor) History(c Component, since time.Time) []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Result, 0, len(m.history))
	for _, r := range m.history {
		if r.At.Before(since) {
			continue
		}
		if c != "" && r.Component != c {
			continue
		}
		out = append(out, r)
	}
	return out
}
