package resources

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "voxagent/pkg/logx"
)

// fakeSampler returns scripted usage values in order, repeating the last one.
type fakeSampler struct {
	mu      sync.Mutex
	samples []Usage
	idx     int
}

func (f *fakeSampler) Sample() (Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.samples) == 0 {
		return Usage{}, errors.New("no samples")
	}
	u := f.samples[f.idx]
	if f.idx < len(f.samples)-1 {
		f.idx++
	}
	return u, nil
}

func newTestRegistry(cfg Config, s Sampler) *Registry {
	return NewRegistry(cfg, s, logx.Nop())
}

func TestReleaseRemovesEntryEvenOnError(t *testing.T) {
	r := newTestRegistry(Config{}, nil)

	var calls atomic.Int32
	r.Register("buf1", []byte("data"), func(handle any) error {
		calls.Add(1)
		return errors.New("device busy")
	})

	if r.Release("buf1") {
		t.Fatalf("failing release must report false")
	}
	if calls.Load() != 1 {
		t.Fatalf("release function must run once, got %d", calls.Load())
	}
	// Entry is gone: a second release finds nothing and must not re-invoke.
	if r.Release("buf1") {
		t.Fatalf("second release must report false")
	}
	if calls.Load() != 1 {
		t.Fatalf("release function must never run twice, got %d", calls.Load())
	}
}

func TestReleaseCleanReportsTrue(t *testing.T) {
	r := newTestRegistry(Config{}, nil)
	r.Register("conn", struct{}{}, func(handle any) error { return nil })
	if !r.Release("conn") {
		t.Fatalf("clean release must report true")
	}
	if len(r.Names()) != 0 {
		t.Fatalf("released resource still listed: %v", r.Names())
	}
}

func TestDuplicateRegisterReleasesOldHandle(t *testing.T) {
	r := newTestRegistry(Config{}, nil)

	var released []any
	rel := func(handle any) error {
		released = append(released, handle)
		return nil
	}
	r.Register("model", "v1", rel)
	r.Register("model", "v2", rel)

	if len(released) != 1 || released[0] != "v1" {
		t.Fatalf("old handle must be released on overwrite, got %v", released)
	}
	if !r.Release("model") {
		t.Fatalf("new handle must still be releasable")
	}
	if len(released) != 2 || released[1] != "v2" {
		t.Fatalf("expected v2 released second, got %v", released)
	}
}

func TestUnregisterSkipsRelease(t *testing.T) {
	r := newTestRegistry(Config{}, nil)
	var calls atomic.Int32
	r.Register("owned", struct{}{}, func(handle any) error {
		calls.Add(1)
		return nil
	})
	if !r.Unregister("owned") {
		t.Fatalf("unregister of existing resource must report true")
	}
	if calls.Load() != 0 {
		t.Fatalf("unregister must not invoke release")
	}
	if r.Unregister("owned") {
		t.Fatalf("second unregister must report false")
	}
}

func TestReleaseAllIsolatesFailures(t *testing.T) {
	r := newTestRegistry(Config{}, nil)

	var released []string
	r.Register("a", nil, func(handle any) error {
		released = append(released, "a")
		return nil
	})
	r.Register("b", nil, func(handle any) error {
		released = append(released, "b")
		panic("release bug")
	})
	r.Register("c", nil, func(handle any) error {
		released = append(released, "c")
		return errors.New("busy")
	})

	r.ReleaseAll()
	if len(released) != 3 {
		t.Fatalf("every release must be attempted, got %v", released)
	}
	if len(r.Names()) != 0 {
		t.Fatalf("registry must be empty after ReleaseAll: %v", r.Names())
	}
}

func TestReleaseAllIdempotentAndConsumesHooks(t *testing.T) {
	r := newTestRegistry(Config{}, nil)

	var hooks atomic.Int32
	r.AddShutdownHook(func() { hooks.Add(1) })
	r.AddShutdownHook(func() { panic("hook bug") })

	var calls atomic.Int32
	r.Register("x", nil, func(handle any) error {
		calls.Add(1)
		return nil
	})

	r.ReleaseAll()
	r.ReleaseAll()
	if calls.Load() != 1 {
		t.Fatalf("resource released more than once: %d", calls.Load())
	}
	if hooks.Load() != 1 {
		t.Fatalf("hooks must run exactly once: %d", hooks.Load())
	}
}

func TestTouchDefersIdleSweep(t *testing.T) {
	r := newTestRegistry(Config{IdleAfter: 50 * time.Millisecond}, nil)

	r.Register("hot", nil, func(handle any) error { return nil })
	r.Register("cold", nil, func(handle any) error { return nil })

	time.Sleep(60 * time.Millisecond)
	r.Touch("hot")

	swept := r.sweepIdle(r.cfg.IdleAfter)
	if swept != 1 {
		t.Fatalf("expected 1 idle resource swept, got %d", swept)
	}
	names := r.Names()
	if len(names) != 1 || names[0] != "hot" {
		t.Fatalf("touched resource must survive the sweep: %v", names)
	}
}

func TestMemoryCeilingTriggersCleanup(t *testing.T) {
	// Ceiling 50MB: first sample 80MB (over), post-cleanup sample 30MB.
	fs := &fakeSampler{samples: []Usage{
		{MemoryMB: 80},
		{MemoryMB: 30},
	}}
	r := newTestRegistry(Config{MemoryCeilingMB: 50, IdleAfter: time.Nanosecond}, fs)

	var released atomic.Int32
	r.Register("cache", nil, func(handle any) error {
		released.Add(1)
		return nil
	})
	time.Sleep(time.Millisecond) // make the entry idle

	r.tick()
	if released.Load() != 1 {
		t.Fatalf("ceiling breach must sweep idle resources, got %d", released.Load())
	}
	if len(r.Names()) != 0 {
		t.Fatalf("swept resource still registered: %v", r.Names())
	}
}

func TestBelowCeilingNoCleanup(t *testing.T) {
	fs := &fakeSampler{samples: []Usage{{MemoryMB: 30}}}
	r := newTestRegistry(Config{MemoryCeilingMB: 50, IdleAfter: time.Nanosecond}, fs)

	var released atomic.Int32
	r.Register("cache", nil, func(handle any) error {
		released.Add(1)
		return nil
	})
	time.Sleep(time.Millisecond)

	r.tick()
	if released.Load() != 0 {
		t.Fatalf("no cleanup expected below the ceiling, got %d", released.Load())
	}
}

func TestStaleSweepIgnoresPressure(t *testing.T) {
	r := newTestRegistry(Config{
		StaleAge:  10 * time.Millisecond,
		StaleIdle: 10 * time.Millisecond,
	}, nil)

	var released atomic.Int32
	r.Register("old", nil, func(handle any) error {
		released.Add(1)
		return nil
	})
	time.Sleep(20 * time.Millisecond)

	r.tick()
	if released.Load() != 1 {
		t.Fatalf("stale resource must be swept without memory pressure, got %d", released.Load())
	}
}

func TestStatsReflectsSamplerAndEntries(t *testing.T) {
	fs := &fakeSampler{samples: []Usage{{MemoryMB: 42, Threads: 7}}}
	r := newTestRegistry(Config{MemoryCeilingMB: 500}, fs)
	r.Register("b", nil, nil)
	r.Register("a", nil, nil)

	st := r.Stats()
	if st.Usage.MemoryMB != 42 || st.Usage.Threads != 7 {
		t.Fatalf("unexpected usage: %+v", st.Usage)
	}
	if st.ActiveResources != 2 {
		t.Fatalf("expected 2 active resources, got %d", st.ActiveResources)
	}
	if len(st.ResourceNames) != 2 || st.ResourceNames[0] != "a" {
		t.Fatalf("names must be sorted: %v", st.ResourceNames)
	}
}
