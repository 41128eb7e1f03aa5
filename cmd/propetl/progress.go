package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/property-etl/internal/etl"
)

const redrawInterval = 100 * time.Millisecond

// progressPrinter renders pipeline progress. On a terminal it redraws a
// single status line; otherwise it prints one line per stage change.
type progressPrinter struct {
	mu        sync.Mutex
	out       io.Writer
	tty       bool
	stage     string
	lastDraw  time.Time
	drawnLine bool
}

func newProgressPrinter(f *os.File) *progressPrinter {
	return &progressPrinter{out: f, tty: term.IsTerminal(int(f.Fd()))}
}

// Report implements etl.Reporter.
func (p *progressPrinter) Report(pr etl.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stageChanged := pr.Stage != p.stage
	p.stage = pr.Stage

	if !p.tty {
		if stageChanged {
			fmt.Fprintf(p.out, "[%s] %s\n", pr.RunID, pr.Stage)
		}
		return
	}

	final := pr.Stage == etl.StageDone || pr.Stage == etl.StageFailed
	if !stageChanged && !final && time.Since(p.lastDraw) < redrawInterval {
		return
	}
	p.lastDraw = time.Now()

	fmt.Fprintf(p.out, "\r\033[K%s", formatProgress(pr))
	p.drawnLine = true
	if final {
		fmt.Fprintln(p.out)
		p.drawnLine = false
	}
}

// Done ends a partially drawn status line.
func (p *progressPrinter) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawnLine {
		fmt.Fprintln(p.out)
		p.drawnLine = false
	}
}

func formatProgress(pr etl.Progress) string {
	switch pr.Stage {
	case etl.StageLoad, etl.StageDone:
		return fmt.Sprintf("%-6s %d/%d (%.1f%%) loaded=%d failed=%d issues=%d commits=%d",
			pr.Stage, pr.Processed, pr.Total, pr.Percent(), pr.Loaded, pr.Failed, pr.Issues, pr.Commits)
	case etl.StageFailed:
		return fmt.Sprintf("%-6s %s", pr.Stage, pr.Err)
	default:
		return fmt.Sprintf("%-6s ...", pr.Stage)
	}
}
