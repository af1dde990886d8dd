package diagnostics

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"voxagent/internal/core/errorhandler"
	"voxagent/internal/core/health"
	logx "voxagent/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

var ErrDisabled = errors.New("diagnostics store disabled")

// StoreConfig configures persistence of failure records and health results.
// An empty Path disables the store.
type StoreConfig struct {
	Path        string
	BusyTimeout time.Duration
	Retention   time.Duration
}

// Store persists failure records and health probe results so diagnostics
// survive a process restart. All writes are best-effort from the caller's
// point of view; a nil *Store is a safe no-op.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

// OpenStore initializes the sqlite-backed store. It returns (nil, nil) when
// no path is configured.
func OpenStore(cfg StoreConfig, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendFailure persists one handled failure record.
func (s *Store) AppendFailure(ctx context.Context, r errorhandler.Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failures(at, kind, scope, severity, action, message, recovered, memory_mb, cpu_pct, disk_used_pct)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.At.Format(time.RFC3339Nano), r.Kind, r.Scope, r.Severity, r.Action,
		r.Message, boolInt(r.Recovered), r.Snapshot.MemoryMB, r.Snapshot.CPUPct, r.Snapshot.DiskUsedPct,
	)
	return err
}

// AppendHealth persists one probe result.
func (s *Store) AppendHealth(ctx context.Context, r health.Result) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO health(at, component, status, message, remediation_attempted, remediation_ok)
		 VALUES(?,?,?,?,?,?)`,
		r.At.Format(time.RFC3339Nano), string(r.Component), r.Status.String(),
		r.Message, boolInt(r.RemediationAttempted), boolInt(r.RemediationOK),
	)
	return err
}

// RecentFailures returns up to n most recent failure records, oldest first.
func (s *Store) RecentFailures(ctx context.Context, n int) ([]errorhandler.Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, kind, scope, severity, action, message, recovered, memory_mb, cpu_pct, disk_used_pct
		 FROM failures ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []errorhandler.Record
	for rows.Next() {
		var (
			rec       errorhandler.Record
			at        string
			recovered int
		)
		if err := rows.Scan(&at, &rec.Kind, &rec.Scope, &rec.Severity, &rec.Action,
			&rec.Message, &recovered, &rec.Snapshot.MemoryMB, &rec.Snapshot.CPUPct, &rec.Snapshot.DiskUsedPct); err != nil {
			return nil, err
		}
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		rec.Recovered = recovered != 0
		out = append(out, rec)
	}
	// Newest-first from the query; flip to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// Prune deletes rows older than the retention cutoff from both tables.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	cutoff := time.Now().Add(-olderThan).Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM failures WHERE at < ?`, cutoff); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM health WHERE at < ?`, cutoff)
	return err
}

// ObserveFailure adapts the store to the handler's observer hook.
func (s *Store) ObserveFailure(r errorhandler.Record) {
	if s == nil || s.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.AppendFailure(ctx, r); err != nil {
		s.log.Warn("failed to persist failure record", logx.Err(err))
	}
}

// ObserveHealth adapts the store to the monitor's observer hook.
func (s *Store) ObserveHealth(r health.Result) {
	if s == nil || s.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.AppendHealth(ctx, r); err != nil {
		s.log.Warn("failed to persist health result", logx.Err(err))
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
