package logx

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"loud":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatNotifyJSON(t *testing.T) {
	line := `{"level":"error","time":"2026-01-01T00:00:00Z","message":"probe failed","component":"audio"}`
	got := formatNotifyJSON([]byte(line))
	if !strings.HasPrefix(got, "probe failed") {
		t.Fatalf("message not first: %q", got)
	}
	if !strings.Contains(got, "component=audio") {
		t.Fatalf("field missing: %q", got)
	}
	if strings.Contains(got, "time=") || strings.Contains(got, "level=") {
		t.Fatalf("noise fields not stripped: %q", got)
	}

	raw := formatNotifyJSON([]byte("  not json at all \n"))
	if raw != "not json at all" {
		t.Fatalf("raw fallback broken: %q", raw)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 500); got != "short" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("x", 600)
	got := truncate(long, 500)
	if len(got) != 500 || !strings.HasSuffix(got, "...") {
		t.Fatalf("bad truncation: len=%d", len(got))
	}
}

type fakeNotifier struct {
	calls atomic.Int32
}

func (f *fakeNotifier) Notify(ctx context.Context, level, message string) error {
	f.calls.Add(1)
	return nil
}

func TestNotifySinkFiltersAndRateLimits(t *testing.T) {
	fn := &fakeNotifier{}
	svc, log := New(Config{
		Level:   "debug",
		Console: false,
		Notify: NotifyConfig{
			Enabled:    true,
			MinLevel:   "warn",
			RatePerSec: 1,
		},
	}, fn)
	defer svc.Close()

	// Below min level: never forwarded.
	log.Info("routine", String("k", "v"))
	// At/above min level: first passes, the burst is rate limited.
	for i := 0; i < 5; i++ {
		log.Error("bad thing happened")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && fn.calls.Load() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	got := fn.calls.Load()
	if got < 1 || got > 2 {
		t.Fatalf("expected 1-2 notifications after limiting, got %d", got)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger must report IsZero")
	}
	l.Info("dropped")
	l.With(String("k", "v")).Error("also dropped")
}

func TestApplySwapsLevel(t *testing.T) {
	svc, log := New(Config{Level: "error", Console: false}, nil)
	defer svc.Close()

	if log.Enabled(LevelDebug) {
		t.Fatalf("debug must be disabled at error level")
	}
	svc.Apply(Config{Level: "debug", Console: false})
	if !log.Enabled(LevelDebug) {
		t.Fatalf("debug must be enabled after apply")
	}
}
