package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voxagent/internal/core/errorhandler"
	"voxagent/internal/core/failure"
	"voxagent/internal/core/health"
	"voxagent/internal/core/resources"
	logx "voxagent/pkg/logx"
)

func newTestCollector(t *testing.T) (*Collector, *errorhandler.Handler) {
	t.Helper()
	h := errorhandler.New(errorhandler.Config{}, logx.Nop())
	m := health.NewMonitor(health.Config{}, logx.Nop())
	r := resources.NewRegistry(resources.Config{}, nil, logx.Nop())
	return NewCollector(h, m, r, logx.Nop()), h
}

func TestExportRoundTripMatchesLiveStats(t *testing.T) {
	c, h := newTestCollector(t)

	h.Handle(failure.New(failure.KindAudio, "a", failure.SeverityLow, failure.ActionRetry), "mic")
	h.Handle(failure.New(failure.KindAudio, "b", failure.SeverityLow, failure.ActionRetry), "mic")
	h.Handle(errors.New("plain"), "gui")

	live := h.Stats()

	path := filepath.Join(t.TempDir(), "report.json")
	if err := c.WriteFile(path); err != nil {
		t.Fatalf("write: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var rep Report
	if err := json.Unmarshal(b, &rep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if rep.Errors.Total != live.Total {
		t.Fatalf("total mismatch: file %d live %d", rep.Errors.Total, live.Total)
	}
	if rep.Errors.ByKind[string(failure.KindAudio)] != 2 {
		t.Fatalf("by-kind mismatch: %+v", rep.Errors.ByKind)
	}
	if len(rep.Failures) != 3 {
		t.Fatalf("expected 3 failure records, got %d", len(rep.Failures))
	}
	if rep.System.PID != os.Getpid() {
		t.Fatalf("system info missing: %+v", rep.System)
	}
}

func TestExportUsesTimestampedName(t *testing.T) {
	c, _ := newTestCollector(t)
	dir := t.TempDir()

	path, err := c.Export(dir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, reportPrefix) || !strings.HasSuffix(base, ".json") {
		t.Fatalf("unexpected report name %q", base)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("report not on disk: %v", err)
	}
}

func TestCleanupOldRemovesOnlyExpiredReports(t *testing.T) {
	c, _ := newTestCollector(t)
	dir := t.TempDir()

	old := filepath.Join(dir, reportPrefix+"20200101_000000.json")
	if err := os.WriteFile(old, []byte("{}"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	fresh, err := c.Export(dir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	unrelated := filepath.Join(dir, "notes.json")
	if err := os.WriteFile(unrelated, []byte("{}"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := os.Chtimes(unrelated, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := c.CleanupOld(dir, 24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expired report survived")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh report removed: %v", err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
}

func TestCleanupOldMissingDir(t *testing.T) {
	c, _ := newTestCollector(t)
	removed, err := c.CleanupOld(filepath.Join(t.TempDir(), "nope"), time.Hour)
	if err != nil || removed != 0 {
		t.Fatalf("missing dir must be a no-op: %d %v", removed, err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	st, err := OpenStore(StoreConfig{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	recs := []errorhandler.Record{
		{Kind: "audio", Scope: "mic", Severity: "low", Action: "retry", Message: "first", At: now.Add(-time.Minute), Recovered: true, Snapshot: errorhandler.Snapshot{MemoryMB: 100}},
		{Kind: "system", Scope: "pipe", Severity: "high", Action: "graceful_degradation", Message: "second", At: now, Recovered: false},
	}
	for _, r := range recs {
		if err := st.AppendFailure(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := st.RecentFailures(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Message != "first" || got[1].Message != "second" {
		t.Fatalf("records out of order: %q, %q", got[0].Message, got[1].Message)
	}
	if got[0].Snapshot.MemoryMB != 100 || !got[0].Recovered {
		t.Fatalf("record fields lost: %+v", got[0])
	}

	if err := st.AppendHealth(ctx, health.Result{
		Component: health.ComponentAudio,
		Status:    health.StatusCritical,
		Message:   "no audio server",
		At:        now,
	}); err != nil {
		t.Fatalf("append health: %v", err)
	}
}

func TestStorePrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	st, err := OpenStore(StoreConfig{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	old := errorhandler.Record{Kind: "audio", Scope: "s", Severity: "low", Action: "retry", Message: "old", At: time.Now().Add(-48 * time.Hour)}
	fresh := errorhandler.Record{Kind: "audio", Scope: "s", Severity: "low", Action: "retry", Message: "fresh", At: time.Now()}
	if err := st.AppendFailure(ctx, old); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.AppendFailure(ctx, fresh); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := st.Prune(ctx, 24*time.Hour); err != nil {
		t.Fatalf("prune: %v", err)
	}
	got, err := st.RecentFailures(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].Message != "fresh" {
		t.Fatalf("prune kept the wrong rows: %+v", got)
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var st *Store
	if err := st.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
	if err := st.AppendFailure(context.Background(), errorhandler.Record{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	st.ObserveFailure(errorhandler.Record{})
	st.ObserveHealth(health.Result{})
}

func TestOpenStoreEmptyPathDisabled(t *testing.T) {
	st, err := OpenStore(StoreConfig{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("empty path must disable the store: %v %v", st, err)
	}
}
