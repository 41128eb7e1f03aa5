package etl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/property-etl/internal/db"
	"github.com/property-etl/internal/debug"
	"github.com/property-etl/internal/document"
	"github.com/property-etl/internal/logger"
	"github.com/property-etl/internal/normalize"
	"github.com/property-etl/internal/repair"
	"github.com/property-etl/internal/store"
)

// Options controls a pipeline run.
type Options struct {
	BatchSize       int
	MaxErrors       int
	GenericFallback bool
	Debug           bool
}

// LoadSummary is the outcome of loading one document.
type LoadSummary struct {
	Stats    store.LoadStats    `json:"stats"`
	Issues   int                `json:"issues"`
	Tables   []store.TableCount `json:"tables"`
	Duration time.Duration      `json:"duration"`
}

// RunSummary is the outcome of a full repair, schema and load run.
type RunSummary struct {
	Repair repair.Report       `json:"repair"`
	Schema *store.SchemaResult `json:"schema"`
	Load   *LoadSummary        `json:"load"`
}

// Pipeline repairs export documents and loads them into the database.
type Pipeline struct {
	conn    *db.Connection
	docs    *document.Store
	opts    Options
	tracker *Tracker
}

// NewPipeline creates a pipeline. conn may be nil for repair-only use.
func NewPipeline(conn *db.Connection, docs *document.Store, opts Options, tracker *Tracker) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = store.DefaultBatchSize
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = store.DefaultMaxErrors
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Pipeline{conn: conn, docs: docs, opts: opts, tracker: tracker}
}

// Tracker returns the progress tracker the pipeline reports to.
func (p *Pipeline) Tracker() *Tracker {
	return p.tracker
}

func (p *Pipeline) repairer() *repair.Repairer {
	if p.opts.GenericFallback {
		return repair.New(repair.WithGenericFallback())
	}
	return repair.New()
}

// RepairFile repairs the export at input and writes the clean document to
// output. Both may be file paths or s3:// targets.
func (p *Pipeline) RepairFile(ctx context.Context, input, output string) (*repair.Document, error) {
	ctx = logger.WithStage(ctx, StageRepair)
	defer debug.DebugTiming(ctx, p.opts.Debug, "repair "+input)()
	p.setStage(ctx, StageRepair)

	raw, err := p.docs.Read(ctx, input)
	if err != nil {
		return nil, p.fail(ctx, err)
	}
	logger.Info(ctx, "read export", "input", input, "bytes", len(raw))

	doc, err := p.repairer().Repair(string(raw))
	if err != nil {
		var failure *repair.Failure
		if errors.As(err, &failure) {
			logger.Error(ctx, "export still not valid JSON",
				"stage", failure.Stage, "line", failure.Line, "column", failure.Column, "near", failure.Snippet)
		}
		return nil, p.fail(ctx, err)
	}

	for _, pass := range doc.Report.Passes {
		debug.DebugOutput(ctx, p.opts.Debug, "pass %s: %d changes", pass.Name, pass.Changes)
	}
	for _, d := range doc.Report.Dropped {
		logger.Warn(ctx, "dropped line", "line", d.Line, "text", d.Text, "reason", d.Reason)
	}
	if len(doc.Report.SkippedElements) > 0 {
		logger.Warn(ctx, "skipped non-object elements", "indexes", doc.Report.SkippedElements)
	}

	var buf bytes.Buffer
	if err := repair.Encode(&buf, doc.Records); err != nil {
		return nil, p.fail(ctx, err)
	}
	if err := p.docs.Write(ctx, output, buf.Bytes()); err != nil {
		return nil, p.fail(ctx, err)
	}

	logger.Info(ctx, "wrote clean document", "output", output, "records", len(doc.Records))
	return doc, nil
}

// ResetSchema drops and recreates the property tables.
func (p *Pipeline) ResetSchema(ctx context.Context) (*store.SchemaResult, error) {
	ctx = logger.WithStage(ctx, StageSchema)
	if p.conn == nil {
		return nil, errors.New("no database connection")
	}
	p.setStage(ctx, StageSchema)

	res, err := store.Reset(ctx, p.conn)
	if err != nil {
		return nil, p.fail(ctx, err)
	}
	logger.Info(ctx, "schema reset", "version", res.Version, "applied", len(res.Applied))
	return res, nil
}

// LoadFile reads a clean document and loads it.
func (p *Pipeline) LoadFile(ctx context.Context, input string) (*LoadSummary, error) {
	raw, err := p.docs.Read(ctx, input)
	if err != nil {
		return nil, p.fail(ctx, err)
	}

	records, err := repair.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, p.fail(ctx, err)
	}
	logger.Info(ctx, "extracted records", "input", input, "records", len(records))

	return p.Load(ctx, records)
}

// Load normalizes and inserts records. Record-level failures are tallied
// and skipped; only database-level failures abort the load.
func (p *Pipeline) Load(ctx context.Context, records []map[string]any) (*LoadSummary, error) {
	ctx = logger.WithStage(ctx, StageLoad)
	if p.conn == nil {
		return nil, errors.New("no database connection")
	}
	defer debug.DebugTiming(ctx, p.opts.Debug, "load")()

	start := time.Now()
	p.setStage(ctx, StageLoad)
	p.tracker.update(func(pr *Progress) {
		pr.Total = len(records)
		pr.Processed, pr.Loaded, pr.Failed, pr.Issues, pr.Commits = 0, 0, 0, 0, 0
		pr.Errors = nil
	})

	loader := store.NewLoader(p.conn, store.LoaderOptions{
		BatchSize: p.opts.BatchSize,
		MaxErrors: p.opts.MaxErrors,
	})

	issues := 0
	for _, raw := range records {
		if err := ctx.Err(); err != nil {
			loader.Abort()
			return nil, p.fail(ctx, err)
		}

		rec := normalize.Normalize(raw)
		issues += len(rec.Issues)
		for _, is := range rec.Issues {
			debug.DebugOutput(ctx, p.opts.Debug, "record %d: %s", loader.Stats().Processed+1, is)
		}

		err := loader.Append(ctx, rec)
		var recErr *store.RecordError
		switch {
		case errors.As(err, &recErr):
			if loader.Stats().Failed <= p.opts.MaxErrors {
				logger.Warn(ctx, "record skipped", "error", recErr)
			}
		case err != nil:
			loader.Abort()
			return nil, p.fail(ctx, err)
		}

		stats := loader.Stats()
		p.tracker.update(func(pr *Progress) {
			pr.Processed = stats.Processed
			pr.Loaded = stats.Loaded
			pr.Failed = stats.Failed
			pr.Commits = stats.Commits
			pr.Errors = stats.Errors
			pr.Issues = issues
		})
		if stats.Processed%p.opts.BatchSize == 0 {
			logger.Info(ctx, "progress", "processed", stats.Processed, "total", len(records))
		}
	}

	if err := loader.Finish(ctx); err != nil {
		return nil, p.fail(ctx, err)
	}

	stats := loader.Stats()
	tables, err := store.CountTables(ctx, p.conn)
	if err != nil {
		return nil, p.fail(ctx, err)
	}

	p.tracker.update(func(pr *Progress) {
		pr.Stage = StageDone
		pr.Commits = stats.Commits
	})

	summary := &LoadSummary{
		Stats:    stats,
		Issues:   issues,
		Tables:   tables,
		Duration: time.Since(start),
	}
	logger.Info(ctx, "load complete",
		"loaded", stats.Loaded, "failed", stats.Failed, "issues", issues, "took", summary.Duration)
	return summary, nil
}

// Run repairs input, writes the clean document to output, resets the schema
// and loads the repaired records.
func (p *Pipeline) Run(ctx context.Context, input, output string) (*RunSummary, error) {
	doc, err := p.RepairFile(ctx, input, output)
	if err != nil {
		return nil, err
	}

	schema, err := p.ResetSchema(ctx)
	if err != nil {
		return nil, err
	}

	load, err := p.Load(ctx, doc.Records)
	if err != nil {
		return nil, err
	}

	return &RunSummary{Repair: doc.Report, Schema: schema, Load: load}, nil
}

func (p *Pipeline) setStage(ctx context.Context, stage string) {
	p.tracker.update(func(pr *Progress) {
		if pr.RunID == "" {
			pr.RunID = logger.RunID(ctx)
			pr.Started = time.Now()
		}
		pr.Stage = stage
	})
}

func (p *Pipeline) fail(ctx context.Context, err error) error {
	p.tracker.update(func(pr *Progress) {
		pr.Stage = StageFailed
		pr.Err = err.Error()
	})
	return err
}

// String renders the summary the way the load command prints it.
func (s *LoadSummary) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Success: %d records\n", s.Stats.Loaded)
	fmt.Fprintf(&b, "Errors: %d records\n", s.Stats.Failed)
	for _, e := range s.Stats.Errors {
		fmt.Fprintf(&b, "  %s\n", e)
	}
	if s.Issues > 0 {
		fmt.Fprintf(&b, "Normalization issues: %d values discarded\n", s.Issues)
	}
	for _, t := range s.Tables {
		fmt.Fprintf(&b, "   %-15s : %d records\n", t.Table, t.Rows)
	}
	return b.String()
}
