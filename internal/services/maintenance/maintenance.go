// Package maintenance runs the background housekeeping jobs: periodic
// diagnostic snapshots, cleanup of old report files, and pruning of the
// persisted history.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "voxagent/pkg/logx"
)

type Config struct {
	Enabled bool

	// Specs accept standard 5-field cron lines or "@every <duration>".
	// An empty spec disables that job.
	SnapshotSpec string
	CleanupSpec  string
	PruneSpec    string

	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SnapshotSpec == "" {
		c.SnapshotSpec = "@every 1h"
	}
	if c.CleanupSpec == "" {
		c.CleanupSpec = "@every 24h"
	}
	if c.PruneSpec == "" {
		c.PruneSpec = "@every 24h"
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = time.Minute
	}
	return c
}

// Jobs are the housekeeping actions wired in by the app layer.
type Jobs struct {
	Snapshot func(ctx context.Context) error
	Cleanup  func(ctx context.Context) error
	Prune    func(ctx context.Context) error
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	jobs Jobs

	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, jobs Jobs, log logx.Logger) *Service {
	return &Service{
		cfg:    cfg.withDefaults(),
		jobs:   jobs,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}

	c := cron.New(cron.WithParser(s.parser))
	registered := 0
	for _, j := range []struct {
		name string
		spec string
		fn   func(ctx context.Context) error
	}{
		{"snapshot", s.cfg.SnapshotSpec, s.jobs.Snapshot},
		{"cleanup", s.cfg.CleanupSpec, s.jobs.Cleanup},
		{"prune", s.cfg.PruneSpec, s.jobs.Prune},
	} {
		if j.fn == nil || strings.TrimSpace(j.spec) == "" {
			continue
		}
		name, fn := j.name, j.fn
		if _, err := c.AddFunc(j.spec, func() { s.runJob(ctx, name, fn) }); err != nil {
			return fmt.Errorf("maintenance %s: bad spec %q: %w", j.name, j.spec, err)
		}
		registered++
	}

	s.c = c
	c.Start()
	s.log.Info("maintenance started", logx.Int("jobs", registered))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	// Wait for in-flight jobs, bounded by the caller's context.
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("maintenance stop timed out")
		return
	}
	s.log.Info("maintenance stopped")
}

func (s *Service) runJob(ctx context.Context, name string, fn func(ctx context.Context) error) {
	jctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return fn(jctx)
	}()

	if err != nil {
		s.log.Warn("maintenance job failed", logx.String("job", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	s.log.Debug("maintenance job completed", logx.String("job", name), logx.Duration("took", time.Since(start)))
}
