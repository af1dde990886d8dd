package errorhandler

import (
	"strings"
	"time"

	"voxagent/internal/core/failure"
)

// Record is an immutable account of one handled failure.
type Record struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Scope     string    `json:"context"`
	Severity  string    `json:"severity"`
	Action    string    `json:"action"`
	At        time.Time `json:"at"`
	Recovered bool      `json:"recovered"`
	Snapshot  Snapshot  `json:"snapshot"`
}

// Stats is the aggregate failure view consumed by diagnostics.
type Stats struct {
	Counts   map[string]int `json:"counts"`
	ByKind   map[string]int `json:"by_kind"`
	Total    int            `json:"total_errors"`
	Recent   map[string]int `json:"recent"`
	Distinct int            `json:"distinct_keys"`
}

func (h *Handler) appendRecord(kind failure.Kind, sev failure.Severity, action failure.Action, err error, scope string, recovered bool, at time.Time) {
	// Capture the process snapshot outside the lock; the sampler may do I/O.
	var snap Snapshot
	h.mu.Lock()
	sampler := h.snapshot
	h.mu.Unlock()
	if sampler != nil {
		snap = sampler()
	}

	rec := Record{
		Kind:      string(kind),
		Message:   err.Error(),
		Scope:     scope,
		Severity:  sev.String(),
		Action:    string(action),
		At:        at,
		Recovered: recovered,
		Snapshot:  snap,
	}

	h.mu.Lock()
	h.history = append(h.history, rec)
	if len(h.history) > h.cfg.HistoryLimit {
		h.history = h.history[len(h.history)-h.cfg.HistoryLimit:]
	}
	observer := h.observer
	h.mu.Unlock()

	if observer != nil {
		_ = invoke(func() error { observer(rec); return nil })
	}
}

// History returns up to n most recent failure records, oldest first.
func (h *Handler) History(n int) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.history) {
		n = len(h.history)
	}
	out := make([]Record, n)
	copy(out, h.history[len(h.history)-n:])
	return out
}

// Stats returns aggregate failure statistics. Recent holds only keys seen
// inside the sliding window.
func (h *Handler) Stats() Stats {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Stats{
		Counts: make(map[string]int, len(h.counts)),
		ByKind: map[string]int{},
		Recent: map[string]int{},
	}
	for k, c := range h.counts {
		st.Counts[k] = c
		st.Total += c
		if kind, _, found := strings.Cut(k, ":"); found {
			st.ByKind[kind] += c
		}
		if last, ok := h.lastSeen[k]; ok && now.Sub(last) <= h.cfg.Window {
			st.Recent[k] = c
		}
	}
	st.Distinct = len(st.Counts)
	return st
}
