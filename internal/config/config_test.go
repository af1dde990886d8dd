package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
  notify:
    enabled: true
    min_level: warn
    rate_per_sec: 1
errors:
  threshold: 5
  window: 5m
health:
  check_interval: 30s
  remediation_cooldown: 5m
  memory_warn_mb: 400
  memory_crit_mb: 600
resources:
  memory_ceiling_mb: 500
  sample_interval: 30s
`

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Notify.Enabled {
		t.Fatalf("logging section lost: %+v", cfg.Logging)
	}
	if cfg.Errors.Threshold != 5 || cfg.Errors.Window != "5m" {
		t.Fatalf("errors section lost: %+v", cfg.Errors)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get must return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""},"notify":{"enabled":false,"min_level":"","rate_per_sec":0}},"errors":{},"health":{},"resources":{}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("unexpected level %q", cfg.Logging.Level)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML+"\nno_such_section:\n  x: 1\n")
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("unknown top-level key must be rejected")
	}
}

func TestBadDurationRejected(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
  console: true
  file: {enabled: false, path: ""}
  notify: {enabled: false, min_level: "", rate_per_sec: 0}
errors:
  window: "five minutes"
health: {}
resources: {}
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("unparseable duration must be rejected")
	}
}

func TestThresholdOrderingValidated(t *testing.T) {
	cfg := &Config{}
	cfg.Health.MemoryWarnMB = 700
	cfg.Health.MemoryCritMB = 600
	if err := cfg.Validate(); err == nil {
		t.Fatalf("warning above critical must be rejected")
	}
}

func TestBadLogLevelRejected(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown log level must be rejected")
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", "  90s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty must parse to zero: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative duration must be rejected")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatalf("garbage must be rejected")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("empty must fall back to default: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "5s", time.Minute); err != nil || d != 5*time.Second {
		t.Fatalf("explicit value must win: %v %v", d, err)
	}
}

func TestSubscribePublishDropsOldest(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{}
	second.Logging.Level = "debug"

	m.publish(first)
	m.publish(second) // buffer full: first is dropped, second delivered

	got := <-ch
	if got != second {
		t.Fatalf("expected the latest config to be delivered")
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher time to attach before writing.
	time.Sleep(200 * time.Millisecond)
	updated := []byte(strings.Replace(validYAML, "level: debug", "level: warn", 1))
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "warn" {
			t.Fatalf("stale config published: %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher never published the update")
	}
}
