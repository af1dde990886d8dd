// Package errorhandler implements the failure classifier and recovery
// dispatcher: it rate-limits failures per (kind, context) key inside a
// sliding time window, escalates to a critical path past a threshold, and
// dispatches typed recovery strategies while keeping a bounded failure
// history and per-component health labels.
package errorhandler

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"voxagent/internal/core/failure"
	logx "voxagent/pkg/logx"
)

// Strategy attempts to recover from a failure. A nil return means the
// situation was fully recovered. Panics are caught by the dispatcher and
// treated as recovery failure.
type Strategy func(err error, scope string) error

// Snapshot is the process state captured alongside each failure record.
type Snapshot struct {
	MemoryMB    float64 `json:"memory_mb"`
	CPUPct      float64 `json:"cpu_pct"`
	DiskUsedPct float64 `json:"disk_used_pct"`
}

type Config struct {
	// Threshold breaches the critical path once a (kind, context) key has
	// been seen this many times inside Window.
	Threshold int
	// Window is a sliding reset: a gap longer than this resets the counter
	// to 1 on the next occurrence.
	Window time.Duration

	HistoryLimit int

	// Back-off policy used by Retry/RunCritical.
	MaxRetries int
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Window <= 0 {
		c.Window = 5 * time.Minute
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// Health label values written for components as operations fail and recover.
const (
	LabelHealthy   = "healthy"
	LabelUnhealthy = "unhealthy"
	LabelCritical  = "critical"
)

type Handler struct {
	cfg Config
	log logx.Logger

	mu       sync.Mutex
	counts   map[string]int
	lastSeen map[string]time.Time
	history  []Record
	labels   map[string]string

	recovery  map[failure.Kind]Strategy
	fallbacks map[string]Strategy
	restarts  map[string]Strategy

	// Collaborator hooks. Invoked outside the handler lock.
	degrade    func() error
	releaseAll func()
	terminate  func()
	snapshot   func() Snapshot
	observer   func(Record)
}

func New(cfg Config, log logx.Logger) *Handler {
	return &Handler{
		cfg:       cfg.withDefaults(),
		log:       log,
		counts:    map[string]int{},
		lastSeen:  map[string]time.Time{},
		labels:    map[string]string{},
		recovery:  map[failure.Kind]Strategy{},
		fallbacks: map[string]Strategy{},
		restarts:  map[string]Strategy{},
	}
}

// SetDegrade installs the feature-flag callback used by graceful degradation
// to disable non-essential features.
func (h *Handler) SetDegrade(fn func() error) {
	h.mu.Lock()
	h.degrade = fn
	h.mu.Unlock()
}

// SetShutdown installs the resource-release and process-termination hooks
// used by the shutdown action and the critical path.
func (h *Handler) SetShutdown(releaseAll func(), terminate func()) {
	h.mu.Lock()
	h.releaseAll = releaseAll
	h.terminate = terminate
	h.mu.Unlock()
}

// SetSnapshot installs the sampler used to capture process state on each
// failure record.
func (h *Handler) SetSnapshot(fn func() Snapshot) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// SetObserver installs a callback invoked (outside the lock) for every
// appended failure record. Used to persist records best-effort.
func (h *Handler) SetObserver(fn func(Record)) {
	h.mu.Lock()
	h.observer = fn
	h.mu.Unlock()
}

// RegisterRecovery installs a strategy dispatched for an exact failure kind.
func (h *Handler) RegisterRecovery(kind failure.Kind, s Strategy) {
	h.mu.Lock()
	h.recovery[kind] = s
	h.mu.Unlock()
	h.log.Debug("registered recovery strategy", logx.String("kind", string(kind)))
}

// RegisterFallback installs a component-named fallback strategy.
func (h *Handler) RegisterFallback(component string, s Strategy) {
	h.mu.Lock()
	h.fallbacks[component] = s
	h.mu.Unlock()
	h.log.Debug("registered fallback strategy", logx.String("component", component))
}

// RegisterRestart installs caller-supplied restart logic for a component.
func (h *Handler) RegisterRestart(component string, s Strategy) {
	h.mu.Lock()
	h.restarts[component] = s
	h.mu.Unlock()
	h.log.Debug("registered restart strategy", logx.String("component", component))
}

// Handle classifies err, updates the sliding-window counter for its
// (kind, scope) key, and attempts recovery. It reports whether the situation
// was fully recovered. It never panics and never re-raises: failures are
// swallowed after classification and reflected in statistics and labels.
func (h *Handler) Handle(err error, scope string) bool {
	if err == nil {
		return true
	}
	if strings.TrimSpace(scope) == "" {
		scope = callerScope()
	}

	kind, sev, action := failure.Classify(err)
	key := string(kind) + ":" + scope
	now := time.Now()

	h.mu.Lock()
	breached := h.bumpLocked(key, now)
	h.mu.Unlock()

	if breached {
		h.log.Error("failure threshold exceeded", logx.String("key", key), logx.Int("threshold", h.cfg.Threshold))
		recovered := h.handleCritical(scope)
		h.appendRecord(kind, sev, action, err, scope, recovered, now)
		return recovered
	}

	h.logFailure(err, sev, scope)

	recovered := h.attemptRecovery(err, kind, action, scope)
	h.appendRecord(kind, sev, action, err, scope, recovered, now)
	h.setLabel(scope, recovered)
	return recovered
}

// bumpLocked applies the sliding-reset rule: a gap beyond the window resets
// the counter to 1 instead of incrementing.
func (h *Handler) bumpLocked(key string, now time.Time) bool {
	last, seen := h.lastSeen[key]
	if seen && now.Sub(last) > h.cfg.Window {
		h.counts[key] = 1
	} else {
		h.counts[key]++
	}
	h.lastSeen[key] = now
	return h.counts[key] >= h.cfg.Threshold
}

// handleCritical is the escalation path: graceful degradation first, full
// shutdown sequence if degradation fails. Reports false when shutdown was
// required.
func (h *Handler) handleCritical(scope string) bool {
	if h.degradeNow() {
		h.log.Warn("degraded after threshold breach", logx.String("scope", scope))
		h.setLabelValue(scope, LabelCritical)
		return true
	}

	h.log.Error("graceful degradation failed, shutting down", logx.String("scope", scope))
	h.shutdownSequence()
	h.setLabelValue(scope, LabelCritical)
	return false
}

// degradeNow invokes the feature-flag callback, isolating panics. An absent
// callback counts as success: there is simply nothing to disable.
func (h *Handler) degradeNow() bool {
	h.mu.Lock()
	fn := h.degrade
	h.mu.Unlock()
	if fn == nil {
		return true
	}
	if err := invoke(func() error { return fn() }); err != nil {
		h.log.Error("degradation callback failed", logx.Err(err))
		return false
	}
	return true
}

func (h *Handler) shutdownSequence() {
	h.mu.Lock()
	release := h.releaseAll
	terminate := h.terminate
	h.mu.Unlock()

	if release != nil {
		if err := invoke(func() error { release(); return nil }); err != nil {
			h.log.Error("resource release during shutdown failed", logx.Err(err))
		}
	}
	if terminate != nil {
		terminate()
	}
}

func (h *Handler) attemptRecovery(err error, kind failure.Kind, action failure.Action, scope string) bool {
	h.mu.Lock()
	strat := h.recovery[kind]
	h.mu.Unlock()

	// Exact-kind strategy wins.
	if strat != nil {
		serr := invoke(func() error { return strat(err, scope) })
		if serr == nil {
			return true
		}
		h.log.Error("recovery strategy failed", logx.String("kind", string(kind)), logx.Err(serr))
	}

	// Fall back to the action embedded in the failure.
	if h.executeAction(action, scope) {
		return true
	}
	if action == failure.ActionDegrade || action == failure.ActionShutdown {
		// The embedded action was already terminal; don't degrade twice.
		return false
	}

	// Default recovery: degrade non-essential features.
	h.log.Warn("no recovery strategy matched, degrading", logx.String("kind", string(kind)), logx.String("scope", scope))
	return h.degradeNow()
}

func (h *Handler) executeAction(action failure.Action, scope string) bool {
	switch action {
	case failure.ActionRetry:
		// Advisory only: retries are the caller's responsibility (see Retry).
		h.log.Info("retry suggested", logx.String("scope", scope))
		return false
	case failure.ActionFallback:
		return h.runNamed(h.fallbacks, "fallback", scope)
	case failure.ActionRestartComponent:
		return h.runNamed(h.restarts, "restart", scope)
	case failure.ActionDegrade:
		ok := h.degradeNow()
		if !ok {
			h.log.Warn("degradation callback errored, reporting degraded anyway", logx.String("scope", scope))
		}
		// Degradation always reports success: disabled features are a valid
		// end state, not a failure to recover.
		return true
	case failure.ActionShutdown:
		h.shutdownSequence()
		return false
	default:
		h.log.Warn("unknown recovery action", logx.String("action", string(action)))
		return false
	}
}

func (h *Handler) runNamed(m map[string]Strategy, what, scope string) bool {
	h.mu.Lock()
	s := m[scope]
	h.mu.Unlock()
	if s == nil {
		h.log.Warn("no strategy registered", logx.String("type", what), logx.String("component", scope))
		return false
	}
	if err := invoke(func() error { return s(nil, scope) }); err != nil {
		h.log.Error("strategy failed", logx.String("type", what), logx.String("component", scope), logx.Err(err))
		return false
	}
	h.log.Info("strategy succeeded", logx.String("type", what), logx.String("component", scope))
	return true
}

func (h *Handler) logFailure(err error, sev failure.Severity, scope string) {
	msg := fmt.Sprintf("failure in %s", scope)
	switch sev {
	case failure.SeverityCritical, failure.SeverityHigh:
		h.log.Error(msg, logx.Err(err), logx.String("severity", sev.String()))
	case failure.SeverityMedium:
		h.log.Warn(msg, logx.Err(err), logx.String("severity", sev.String()))
	default:
		h.log.Info(msg, logx.Err(err), logx.String("severity", sev.String()))
	}
}

// MarkHealthy records a successful operation for a component.
func (h *Handler) MarkHealthy(component string) { h.setLabelValue(component, LabelHealthy) }

func (h *Handler) setLabel(scope string, recovered bool) {
	if recovered {
		h.setLabelValue(scope, LabelHealthy)
	} else {
		h.setLabelValue(scope, LabelUnhealthy)
	}
}

func (h *Handler) setLabelValue(scope, v string) {
	h.mu.Lock()
	h.labels[scope] = v
	h.mu.Unlock()
}

// HealthLabels returns a copy of the per-component health labels.
func (h *Handler) HealthLabels() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.labels))
	for k, v := range h.labels {
		out[k] = v
	}
	return out
}

// ResetCounts clears failure tracking (counters and last-seen stamps).
// History and labels are kept.
func (h *Handler) ResetCounts() {
	h.mu.Lock()
	h.counts = map[string]int{}
	h.lastSeen = map[string]time.Time{}
	h.mu.Unlock()
	h.log.Info("failure counters reset")
}

// invoke runs fn, converting panics into errors so a misbehaving strategy
// never propagates out of the dispatcher.
func invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()
	return fn()
}

func callerScope() string {
	pc, file, _, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	if f := runtime.FuncForPC(pc); f != nil {
		name := f.Name()
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		return name
	}
	return filepath.Base(file)
}
