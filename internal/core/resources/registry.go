// Package resources tracks named, owned resources and their release
// functions, and runs the periodic sampler that watches process memory, CPU,
// thread, and descriptor usage, triggering cleanup on memory pressure.
package resources

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"voxagent/internal/runtime/supervisor"
	logx "voxagent/pkg/logx"
)

// ReleaseFunc frees one registered handle. Invoked at most once per handle.
type ReleaseFunc func(handle any) error

// Usage is one sample of process-level resource consumption.
type Usage struct {
	MemoryMB    float64 `json:"memory_mb"`
	CPUPct      float64 `json:"cpu_pct"`
	Threads     int     `json:"threads"`
	FDs         int     `json:"fds"`
	DiskUsedPct float64 `json:"disk_used_pct"`
	DiskFreeGB  float64 `json:"disk_free_gb"`
}

// Sampler reports current process usage. The procfs-backed implementation
// lives with the other probes; tests substitute fakes.
type Sampler interface {
	Sample() (Usage, error)
}

type Config struct {
	// MemoryCeilingMB triggers a cleanup pass when resident memory crosses it.
	MemoryCeilingMB float64
	// IdleAfter marks a resource sweepable under memory pressure once it has
	// not been accessed for this long.
	IdleAfter time.Duration
	// StaleAge/StaleIdle: resources older than StaleAge and unaccessed for
	// StaleIdle are swept on every tick, pressure or not.
	StaleAge  time.Duration
	StaleIdle time.Duration

	// Advisory (log-only) thresholds.
	CPUWarnPct float64
	FDWarn     int
	ThreadWarn int

	StopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MemoryCeilingMB <= 0 {
		c.MemoryCeilingMB = 500
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = 10 * time.Minute
	}
	if c.StaleAge <= 0 {
		c.StaleAge = time.Hour
	}
	if c.StaleIdle <= 0 {
		c.StaleIdle = 30 * time.Minute
	}
	if c.CPUWarnPct <= 0 {
		c.CPUWarnPct = 80
	}
	if c.FDWarn <= 0 {
		c.FDWarn = 100
	}
	if c.ThreadWarn <= 0 {
		c.ThreadWarn = 32
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	return c
}

type entry struct {
	name       string
	handle     any
	release    ReleaseFunc
	createdAt  time.Time
	lastAccess time.Time
}

// Stats is the registry's point-in-time view for reports and diagnostics.
type Stats struct {
	Usage           Usage    `json:"usage"`
	MemoryCeilingMB float64  `json:"memory_ceiling_mb"`
	ActiveResources int      `json:"active_resources"`
	ResourceNames   []string `json:"resource_names"`
}

type Registry struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	entries map[string]*entry
	hooks   []func()

	sampler Sampler

	runMu sync.Mutex
	sup   *supervisor.Supervisor
}

func NewRegistry(cfg Config, sampler Sampler, log logx.Logger) *Registry {
	return &Registry{
		cfg:     cfg.withDefaults(),
		log:     log,
		entries: map[string]*entry{},
		sampler: sampler,
	}
}

// Register takes ownership of a handle. Registering under an existing name
// releases the prior handle first, then overwrites; silently dropping the old
// owner would leak it.
func (r *Registry) Register(name string, handle any, release ReleaseFunc) {
	now := time.Now()
	e := &entry{name: name, handle: handle, release: release, createdAt: now, lastAccess: now}

	r.mu.Lock()
	old := r.entries[name]
	r.entries[name] = e
	r.mu.Unlock()

	if old != nil {
		r.log.Warn("resource re-registered, releasing previous handle", logx.String("name", name))
		r.releaseEntry(old)
	}
	r.log.Debug("registered resource", logx.String("name", name))
}

// Unregister removes a resource without invoking its release function.
// The caller takes ownership back.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	_, ok := r.entries[name]
	delete(r.entries, name)
	r.mu.Unlock()
	if ok {
		r.log.Debug("unregistered resource", logx.String("name", name))
	}
	return ok
}

// Touch refreshes a resource's last-access time so sweeps skip it.
func (r *Registry) Touch(name string) {
	r.mu.Lock()
	if e, ok := r.entries[name]; ok {
		e.lastAccess = time.Now()
	}
	r.mu.Unlock()
}

// Release releases one resource by name. The entry is removed whether or not
// its release function fails, so a second call reports false. Reports true
// only when the release ran cleanly.
func (r *Registry) Release(name string) bool {
	r.mu.Lock()
	e, ok := r.entries[name]
	delete(r.entries, name)
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := r.releaseEntry(e); err != nil {
		return false
	}
	r.log.Debug("released resource", logx.String("name", name))
	return true
}

// ReleaseAll releases every registered resource, each attempt isolated so one
// failing release never prevents the others, then clears the registry and
// runs the shutdown hooks with the same isolation. A second consecutive call
// is a no-op.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = map[string]*entry{}
	hooks := r.hooks
	r.hooks = nil
	r.mu.Unlock()

	if len(entries) == 0 && len(hooks) == 0 {
		return
	}
	r.log.Info("releasing all resources", logx.Int("count", len(entries)))

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	for _, e := range entries {
		_ = r.releaseEntry(e)
	}
	for _, h := range hooks {
		r.runHook(h)
	}
	r.log.Info("resource cleanup completed")
}

// AddShutdownHook registers fn to run after ReleaseAll has released every
// resource. Hooks are consumed by the ReleaseAll that runs them.
func (r *Registry) AddShutdownHook(fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Names returns the currently registered resource names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// Stats samples current usage and pairs it with the active resource set.
func (r *Registry) Stats() Stats {
	var u Usage
	if r.sampler != nil {
		if got, err := r.sampler.Sample(); err == nil {
			u = got
		} else {
			r.log.Warn("resource sample failed", logx.Err(err))
		}
	}
	return Stats{
		Usage:           u,
		MemoryCeilingMB: r.cfg.MemoryCeilingMB,
		ActiveResources: len(r.Names()),
		ResourceNames:   r.Names(),
	}
}

func (r *Registry) releaseEntry(e *entry) (err error) {
	if e == nil || e.release == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("release panicked: %v", p)
		}
		if err != nil {
			r.log.Error("failed to release resource", logx.String("name", e.name), logx.Err(err))
		}
	}()
	return e.release(e.handle)
}

func (r *Registry) runHook(h func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("shutdown hook panicked", logx.Any("panic", p))
		}
	}()
	h()
}

// ---- monitoring loop ----

// Start launches the periodic usage sampler. No-op if already running.
func (r *Registry) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.sup != nil {
		r.log.Warn("resource monitoring already active")
		return
	}
	r.sup = supervisor.New(ctx, supervisor.WithLogger(r.log))
	r.sup.GoLoop("resource-sampler", interval, func(ctx context.Context) error {
		r.tick()
		return nil
	})
	r.log.Info("resource monitoring started", logx.Duration("interval", interval))
}

// Stop halts the sampler with a bounded wait.
func (r *Registry) Stop(ctx context.Context) {
	r.runMu.Lock()
	sup := r.sup
	r.sup = nil
	r.runMu.Unlock()
	if sup == nil {
		return
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.StopTimeout)
		defer cancel()
	}
	if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
		r.log.Warn("resource monitor stop timed out")
		return
	}
	r.log.Info("resource monitoring stopped")
}

// tick is one sampler pass: staleness sweep, memory-pressure cleanup, and
// advisory warnings for CPU, descriptor, and thread counts.
func (r *Registry) tick() {
	r.sweepStale()

	if r.sampler == nil {
		return
	}
	u, err := r.sampler.Sample()
	if err != nil {
		r.log.Warn("resource sample failed", logx.Err(err))
		return
	}

	if u.MemoryMB > r.cfg.MemoryCeilingMB {
		r.log.Warn("memory ceiling exceeded",
			logx.Float64("memory_mb", u.MemoryMB),
			logx.Float64("ceiling_mb", r.cfg.MemoryCeilingMB))
		r.cleanupPass(u)
	}

	if u.CPUPct > r.cfg.CPUWarnPct {
		r.log.Warn("high cpu usage", logx.Float64("cpu_pct", u.CPUPct))
	}
	if u.FDs > r.cfg.FDWarn {
		r.log.Warn("high file descriptor count", logx.Int("fds", u.FDs))
	}
	if u.Threads > r.cfg.ThreadWarn {
		r.log.Warn("high thread count", logx.Int("threads", u.Threads))
	}
}

// cleanupPass releases idle resources, forces memory back to the OS, and
// logs the post-cleanup measurement so the delta is visible.
func (r *Registry) cleanupPass(before Usage) {
	swept := r.sweepIdle(r.cfg.IdleAfter)
	debug.FreeOSMemory()

	after, err := r.sampler.Sample()
	if err != nil {
		r.log.Warn("post-cleanup sample failed", logx.Err(err))
		return
	}
	r.log.Info("memory cleanup completed",
		logx.Int("swept", swept),
		logx.Float64("before_mb", before.MemoryMB),
		logx.Float64("after_mb", after.MemoryMB),
		logx.Float64("freed_mb", before.MemoryMB-after.MemoryMB))
}

// CleanupNow forces one cleanup pass as if the memory ceiling had been
// crossed. The health monitor's memory remediator calls this.
func (r *Registry) CleanupNow() {
	if r.sampler == nil {
		r.sweepIdle(r.cfg.IdleAfter)
		debug.FreeOSMemory()
		return
	}
	u, err := r.sampler.Sample()
	if err != nil {
		r.log.Warn("resource sample failed", logx.Err(err))
		u = Usage{}
	}
	r.cleanupPass(u)
}

func (r *Registry) sweepStale() {
	now := time.Now()
	for _, name := range r.staleNames(now) {
		r.log.Info("releasing stale resource", logx.String("name", name))
		r.Release(name)
	}
}

func (r *Registry) staleNames(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, e := range r.entries {
		if now.Sub(e.createdAt) > r.cfg.StaleAge && now.Sub(e.lastAccess) > r.cfg.StaleIdle {
			out = append(out, name)
		}
	}
	return out
}

func (r *Registry) sweepIdle(idleAfter time.Duration) int {
	now := time.Now()
	r.mu.Lock()
	var idle []string
	for name, e := range r.entries {
		if now.Sub(e.lastAccess) > idleAfter {
			idle = append(idle, name)
		}
	}
	r.mu.Unlock()

	for _, name := range idle {
		r.log.Debug("releasing idle resource", logx.String("name", name))
		r.Release(name)
	}
	return len(idle)
}
