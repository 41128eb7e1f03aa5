package etl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/property-etl/internal/config"
	"github.com/property-etl/internal/db"
	"github.com/property-etl/internal/document"
	"github.com/property-etl/internal/logger"
	"github.com/property-etl/internal/repair"
	"github.com/property-etl/internal/store"
)

const brokenExport = `[
  {
    "Property_Title": "Maple Duplex",
    "City": "Tulsa",
    "SQFT_Total": 1850 sqfts,
    "Bed": Three,
    "HOA_Flag": "Y",
    "Kitchen_Flag": "maybe",
    "Valuation": [
      {"List_Price": "185000", "ARV": None},
      {"List_Price": "190000"},
    ],
    "Taxes": "2150.40"
  },
  {
    "Property_Title": "Oak Ranch",
    "City": "Austin",
    "Year_Built": "1987"
    "Valuation": null
  }
]
`

func newTestPipeline(t *testing.T, opts Options, reporters ...Reporter) (*Pipeline, *db.Connection, string) {
	t.Helper()
	dir := t.TempDir()

	conn, err := db.NewConnection(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(dir, "etl.db"),
	})
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	p := NewPipeline(conn, document.NewStore(config.MinioConfig{}), opts, NewTracker(reporters...))
	return p, conn, dir
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	var mu sync.Mutex
	var stages []string
	reporter := ReporterFunc(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		if len(stages) == 0 || stages[len(stages)-1] != p.Stage {
			stages = append(stages, p.Stage)
		}
	})

	p, _, dir := newTestPipeline(t, Options{BatchSize: 1}, reporter)
	input := filepath.Join(dir, "property_data.json")
	output := filepath.Join(dir, "out", "property_data_clean.json")
	writeFile(t, input, brokenExport)

	ctx := logger.WithRunID(context.Background())
	summary, err := p.Run(ctx, input, output)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Repair.Records != 2 {
		t.Errorf("repaired records = %d, want 2", summary.Repair.Records)
	}
	if summary.Schema.Version != 1 {
		t.Errorf("schema version = %d, want 1", summary.Schema.Version)
	}
	if summary.Load.Stats.Loaded != 2 || summary.Load.Stats.Failed != 0 {
		t.Errorf("load stats = %+v", summary.Load.Stats)
	}
	if summary.Load.Stats.Commits != 2 {
		t.Errorf("commits = %d, want 2", summary.Load.Stats.Commits)
	}
	// Bed "Three" and Kitchen_Flag "maybe" are discarded
	if summary.Load.Issues != 2 {
		t.Errorf("issues = %d, want 2", summary.Load.Issues)
	}

	want := map[string]int64{
		store.TableProperty: 2, store.TableLeads: 2, store.TableLeadsInfo: 2,
		store.TableValuation: 3, store.TableHOA: 2, store.TableRehab: 2, store.TableTaxes: 2,
	}
	for _, tc := range summary.Load.Tables {
		if tc.Rows != want[tc.Table] {
			t.Errorf("%s rows = %d, want %d", tc.Table, tc.Rows, want[tc.Table])
		}
	}

	clean, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("clean document not written: %v", err)
	}
	records, err := repair.Decode(strings.NewReader(string(clean)))
	if err != nil {
		t.Fatalf("clean document does not decode: %v", err)
	}
	if len(records) != 2 || records[0]["SQFT_Total"] != "1850 sqfts" {
		t.Errorf("clean records = %v", records)
	}

	snap := p.Tracker().Snapshot()
	if snap.Stage != StageDone || snap.Processed != 2 || snap.Total != 2 {
		t.Errorf("final progress = %+v", snap)
	}
	if snap.RunID != logger.RunID(ctx) {
		t.Errorf("progress run id = %q, want %q", snap.RunID, logger.RunID(ctx))
	}
	if snap.Percent() != 100 {
		t.Errorf("Percent() = %v, want 100", snap.Percent())
	}

	mu.Lock()
	got := strings.Join(stages, ",")
	mu.Unlock()
	if got != "repair,schema,load,done" {
		t.Errorf("stages = %s", got)
	}
}

func TestLoadFileAfterRepair(t *testing.T) {
	p, conn, dir := newTestPipeline(t, Options{})
	ctx := context.Background()

	input := filepath.Join(dir, "in.json")
	output := filepath.Join(dir, "clean.json")
	writeFile(t, input, brokenExport)

	if _, err := p.RepairFile(ctx, input, output); err != nil {
		t.Fatalf("RepairFile() error = %v", err)
	}
	if _, err := store.Migrate(ctx, conn); err != nil {
		t.Fatal(err)
	}

	summary, err := p.LoadFile(ctx, output)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if summary.Stats.Loaded != 2 {
		t.Errorf("loaded = %d, want 2", summary.Stats.Loaded)
	}

	out := summary.String()
	for _, want := range []string{"Success: 2 records", "Errors: 0 records", "property", "valuation       : 3 records"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestRepairFileFailure(t *testing.T) {
	p, _, dir := newTestPipeline(t, Options{})
	input := filepath.Join(dir, "bad.json")
	writeFile(t, input, "[\n  {\"a\": @}\n]\n")

	_, err := p.RepairFile(context.Background(), input, filepath.Join(dir, "clean.json"))
	var failure *repair.Failure
	if !errors.As(err, &failure) {
		t.Fatalf("RepairFile() error = %v, want *repair.Failure", err)
	}
	if failure.Line != 2 {
		t.Errorf("failure line = %d, want 2", failure.Line)
	}

	snap := p.Tracker().Snapshot()
	if snap.Stage != StageFailed || snap.Err == "" {
		t.Errorf("progress after failure = %+v", snap)
	}
	if _, err := os.Stat(filepath.Join(dir, "clean.json")); !os.IsNotExist(err) {
		t.Error("clean document written despite failure")
	}
}

func TestLoadCancelled(t *testing.T) {
	p, conn, _ := newTestPipeline(t, Options{})
	if _, err := store.Migrate(context.Background(), conn); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Load(ctx, []map[string]any{{"Property_Title": "x"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
}

func TestLoadWithoutConnection(t *testing.T) {
	p := NewPipeline(nil, document.NewStore(config.MinioConfig{}), Options{}, nil)
	if _, err := p.Load(context.Background(), nil); err == nil {
		t.Error("Load() without connection error = nil")
	}
	if _, err := p.ResetSchema(context.Background()); err == nil {
		t.Error("ResetSchema() without connection error = nil")
	}
}

func TestTrackerSnapshotIsCopy(t *testing.T) {
	tr := NewTracker()
	tr.update(func(p *Progress) { p.Errors = []string{"first"} })

	snap := tr.Snapshot()
	snap.Errors[0] = "changed"

	if got := tr.Snapshot().Errors[0]; got != "first" {
		t.Errorf("tracker error mutated through snapshot: %q", got)
	}
	if (Progress{}).Percent() != 0 {
		t.Error("Percent() with zero total should be 0")
	}
}
