// Package repair turns the near-JSON property export into a parsed document.
//
// The export is almost JSON: square footage is written as a bare `1200 sqft`,
// bedroom counts as bare number words, some values are stranded on their own
// lines, commas are missing or dangling, and nulls are spelled None. A fixed
// sequence of text passes (see DefaultPasses) rewrites those tokens and the
// result is parsed exactly once.
package repair

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// StageGenericFallback names the optional last-resort pass in reports and
// failures.
const StageGenericFallback = "generic-fallback"

// Document is the parsed, repaired export.
type Document struct {
	Records []map[string]any
	Report  Report
}

// Report describes what the passes changed. Nothing is removed from the input
// without appearing here.
type Report struct {
	InputBytes      int           `json:"input_bytes"`
	InputLines      int           `json:"input_lines"`
	Passes          []PassSummary `json:"passes"`
	Dropped         []DroppedLine `json:"dropped,omitempty"`
	SkippedElements []int         `json:"skipped_elements,omitempty"`
	FallbackUsed    bool          `json:"fallback_used"`
	Records         int           `json:"records"`
}

// PassSummary is the number of rewrites one pass performed.
type PassSummary struct {
	Name    string `json:"name"`
	Changes int    `json:"changes"`
}

// Failure is returned when the repaired text still does not parse. Stage is
// the last pass applied before the failing parse; Offset, Line and Column
// locate the first error the parser reported.
type Failure struct {
	Stage   string
	Offset  int64
	Line    int
	Column  int
	Snippet string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("repair failed after %s: line %d, column %d (offset %d): %v",
		f.Stage, f.Line, f.Column, f.Offset, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Repairer applies an ordered list of passes and parses the result.
type Repairer struct {
	passes          []Pass
	genericFallback bool
}

// Option configures a Repairer.
type Option func(*Repairer)

// WithPasses replaces the default pass list. Intended for tests and for
// deliberately extending the pipeline.
func WithPasses(passes ...Pass) Option {
	return func(r *Repairer) {
		r.passes = passes
	}
}

// WithGenericFallback enables a general-purpose JSON repair as a last resort
// when the heuristic passes are not enough. Off by default.
func WithGenericFallback() Option {
	return func(r *Repairer) {
		r.genericFallback = true
	}
}

// New creates a Repairer using DefaultPasses.
func New(opts ...Option) *Repairer {
	r := &Repairer{passes: DefaultPasses()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fix runs every pass in order and returns the rewritten text without
// parsing it.
func (r *Repairer) Fix(text string) (string, Report) {
	report := Report{
		InputBytes: len(text),
		InputLines: strings.Count(text, "\n"),
	}
	for _, p := range r.passes {
		res := p.Apply(text)
		text = res.Text
		report.Passes = append(report.Passes, PassSummary{Name: p.Name, Changes: res.Changes})
		report.Dropped = append(report.Dropped, res.Dropped...)
	}
	return text, report
}

// Repair rewrites text and parses it as a JSON array of records.
func (r *Repairer) Repair(text string) (*Document, error) {
	fixed, report := r.Fix(text)

	stage := "input"
	if len(r.passes) > 0 {
		stage = r.passes[len(r.passes)-1].Name
	}

	elems, ferr := parseArray(fixed, stage)
	if ferr != nil && r.genericFallback {
		if generic, err := jsonrepair.JSONRepair(fixed); err == nil {
			report.FallbackUsed = true
			report.Passes = append(report.Passes, PassSummary{Name: StageGenericFallback, Changes: 1})
			elems, ferr = parseArray(generic, StageGenericFallback)
		}
	}
	if ferr != nil {
		return nil, ferr
	}

	doc := &Document{Records: make([]map[string]any, 0, len(elems))}
	for i, e := range elems {
		rec, ok := e.(map[string]any)
		if !ok {
			report.SkippedElements = append(report.SkippedElements, i)
			continue
		}
		doc.Records = append(doc.Records, rec)
	}
	report.Records = len(doc.Records)
	doc.Report = report
	return doc, nil
}

// Repair runs the default pipeline.
func Repair(text string) (*Document, error) {
	return New().Repair(text)
}

func parseArray(text, stage string) ([]any, *Failure) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, newFailure(text, stage, errorOffset(err, dec), err)
	}
	// Anything after the top-level value is an error, as for json.Unmarshal.
	if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return nil, newFailure(text, stage, errorOffset(err, dec), err)
	}

	elems, ok := v.([]any)
	if !ok {
		return nil, newFailure(text, stage, 0, fmt.Errorf("top-level value is %T, want array", v))
	}
	return elems, nil
}

func errorOffset(err error, dec *json.Decoder) int64 {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return syn.Offset
	}
	return dec.InputOffset()
}

func newFailure(text, stage string, offset int64, err error) *Failure {
	if offset > int64(len(text)) {
		offset = int64(len(text))
	}
	if offset < 0 {
		offset = 0
	}
	head := text[:offset]
	line := strings.Count(head, "\n") + 1
	lineStart := strings.LastIndexByte(head, '\n') + 1
	lineEnd := strings.IndexByte(text[lineStart:], '\n')
	if lineEnd < 0 {
		lineEnd = len(text) - lineStart
	}
	return &Failure{
		Stage:   stage,
		Offset:  offset,
		Line:    line,
		Column:  int(offset) - lineStart + 1,
		Snippet: strings.TrimSpace(text[lineStart : lineStart+lineEnd]),
		Err:     err,
	}
}

// Encode writes records as indented JSON, the format the loader reads back.
func Encode(w io.Writer, records []map[string]any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Decode parses an already-clean document produced by Encode.
func Decode(r io.Reader) ([]map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode clean document: %w", err)
	}
	return records, nil
}
