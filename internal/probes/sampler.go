// Package probes holds the engine's boundary with the OS: the process usage
// sampler and the per-component health probes. Everything here is a thin,
// timeout-bounded inspection; policy lives in the core packages.
package probes

import (
	"os"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"voxagent/internal/core/resources"
)

// ProcSampler reads process usage from /proc and disk usage from statfs.
// CPU percent is derived from the utime+stime delta between samples, so the
// first sample always reports zero.
type ProcSampler struct {
	proc     procfs.Proc
	diskPath string

	mu      sync.Mutex
	lastCPU float64
	lastAt  time.Time
}

func NewProcSampler(diskPath string) (*ProcSampler, error) {
	proc, err := procfs.Self()
	if err != nil {
		return nil, err
	}
	if diskPath == "" {
		if home, herr := os.UserHomeDir(); herr == nil {
			diskPath = home
		} else {
			diskPath = "/"
		}
	}
	return &ProcSampler{proc: proc, diskPath: diskPath}, nil
}

func (s *ProcSampler) Sample() (resources.Usage, error) {
	var u resources.Usage

	st, err := s.proc.Stat()
	if err != nil {
		return u, err
	}
	u.MemoryMB = float64(st.ResidentMemory()) / (1 << 20)
	u.Threads = st.NumThreads

	if fds, ferr := s.proc.FileDescriptorsLen(); ferr == nil {
		u.FDs = fds
	}

	now := time.Now()
	cpu := st.CPUTime()
	s.mu.Lock()
	if !s.lastAt.IsZero() {
		if elapsed := now.Sub(s.lastAt).Seconds(); elapsed > 0 {
			u.CPUPct = (cpu - s.lastCPU) / elapsed * 100
		}
	}
	s.lastCPU = cpu
	s.lastAt = now
	s.mu.Unlock()

	var fs unix.Statfs_t
	if serr := unix.Statfs(s.diskPath, &fs); serr == nil {
		total := float64(fs.Blocks) * float64(fs.Bsize)
		avail := float64(fs.Bavail) * float64(fs.Bsize)
		if total > 0 {
			u.DiskUsedPct = (total - avail) / total * 100
		}
		u.DiskFreeGB = avail / (1 << 30)
	}

	return u, nil
}
