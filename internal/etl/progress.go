package etl

import (
	"sync"
	"time"
)

// Stage names reported in Progress.
const (
	StageIdle   = "idle"
	StageRepair = "repair"
	StageSchema = "schema"
	StageLoad   = "load"
	StageDone   = "done"
	StageFailed = "failed"
)

// Progress is a point-in-time view of a run.
type Progress struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Loaded    int       `json:"loaded"`
	Failed    int       `json:"failed"`
	Issues    int       `json:"issues"`
	Commits   int       `json:"commits"`
	Errors    []string  `json:"errors,omitempty"`
	Err       string    `json:"error,omitempty"`
	Started   time.Time `json:"started"`
	Updated   time.Time `json:"updated"`
}

// Percent is the share of records processed, 0 when the total is unknown.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

// Reporter receives progress snapshots. Implementations must not block.
type Reporter interface {
	Report(Progress)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Progress)

func (f ReporterFunc) Report(p Progress) { f(p) }

// Tracker holds the current Progress. The pipeline writes it; the status
// server and reporters read it.
type Tracker struct {
	mu        sync.RWMutex
	progress  Progress
	reporters []Reporter
}

// NewTracker creates a tracker that forwards every update to reporters.
func NewTracker(reporters ...Reporter) *Tracker {
	return &Tracker{
		progress:  Progress{Stage: StageIdle},
		reporters: reporters,
	}
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress.copy()
}

func (t *Tracker) update(fn func(*Progress)) {
	t.mu.Lock()
	fn(&t.progress)
	t.progress.Updated = time.Now()
	snap := t.progress.copy()
	t.mu.Unlock()

	for _, r := range t.reporters {
		r.Report(snap)
	}
}

func (p Progress) copy() Progress {
	p.Errors = append([]string(nil), p.Errors...)
	return p
}
