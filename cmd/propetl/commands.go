package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/property-etl/internal/db"
	"github.com/property-etl/internal/debug"
	"github.com/property-etl/internal/document"
	"github.com/property-etl/internal/etl"
	"github.com/property-etl/internal/logger"
	"github.com/property-etl/internal/repair"
	"github.com/property-etl/internal/store"
	"github.com/property-etl/internal/web"
)

const (
	sampleFields     = 10
	validateSamples  = 3
	sampleValueWidth = 60
)

func createRepairCmd() *cobra.Command {
	var input, output string

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair the export and write the clean JSON document",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in, out := orDefault(input, cfg.ETL.Input), orDefault(output, cfg.ETL.Output)

			debug.DebugHeader(ctx, flagDebug)
			defer debug.DebugFooter(ctx, flagDebug)

			p := newPipeline(nil, nil)
			doc, err := p.RepairFile(ctx, in, out)
			if err != nil {
				return err
			}

			printRepairReport(os.Stdout, in, out, doc)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Export to repair (path or s3://bucket/key)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Where to write the clean document")
	return cmd
}

func createSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Drop and recreate the property tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			res, err := newPipeline(conn, nil).ResetSchema(ctx)
			if err != nil {
				return err
			}
			printSchema(os.Stdout, res)
			return nil
		},
	}
}

func createLoadCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a clean JSON document into the database",
		Long: `Normalizes every record of a repaired document and inserts it. The
schema is migrated up first but existing rows are kept; use "schema" to start
from empty tables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in := orDefault(input, cfg.ETL.Output)

			conn, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			if _, err := store.Migrate(ctx, conn); err != nil {
				return err
			}

			printer := newProgressPrinter(os.Stderr)
			p := newPipeline(conn, printer)
			stopStatus := startStatusServer(ctx, conn, p.Tracker())
			defer stopStatus()

			summary, err := p.LoadFile(ctx, in)
			printer.Done()
			if err != nil {
				return err
			}

			fmt.Print(summary.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Clean document to load (path or s3://bucket/key)")
	return cmd
}

func createRunCmd() *cobra.Command {
	var input, output string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Repair, reset the schema and load in one go",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in, out := orDefault(input, cfg.ETL.Input), orDefault(output, cfg.ETL.Output)

			debug.DebugHeader(ctx, flagDebug)
			defer debug.DebugFooter(ctx, flagDebug)

			conn, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			printer := newProgressPrinter(os.Stderr)
			p := newPipeline(conn, printer)
			stopStatus := startStatusServer(ctx, conn, p.Tracker())
			defer stopStatus()

			summary, err := p.Run(ctx, in, out)
			printer.Done()
			if err != nil {
				return err
			}

			printRepairReport(os.Stdout, in, out, &repair.Document{Report: summary.Repair})
			printSchema(os.Stdout, summary.Schema)
			fmt.Print(summary.Load.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Export to repair (path or s3://bucket/key)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Where to write the clean document")
	return cmd
}

func createValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Report table counts, sample properties and link coverage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			report, err := store.BuildReport(ctx, conn, validateSamples)
			if err != nil {
				return err
			}
			printValidation(os.Stdout, report)
			return nil
		},
	}
}

// createPingCmd creates a command to test database connectivity
func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			fmt.Printf("Database connection successful! (%s)\n", conn.Dialect)

			counts, err := store.CountTables(ctx, conn)
			if err != nil {
				logger.Warn(ctx, "property tables not readable", "error", err)
				fmt.Println("Property tables not created yet; run \"propetl schema\"")
				return nil
			}
			for _, tc := range counts {
				fmt.Printf("%-15s : %d records\n", tc.Table, tc.Rows)
			}
			return nil
		},
	}
}

func connect(ctx context.Context) (*db.Connection, error) {
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

func newPipeline(conn *db.Connection, reporter etl.Reporter) *etl.Pipeline {
	var tracker *etl.Tracker
	if reporter != nil {
		tracker = etl.NewTracker(reporter)
	}
	return etl.NewPipeline(conn, document.NewStore(cfg.Minio), etl.Options{
		BatchSize:       cfg.ETL.BatchSize,
		MaxErrors:       cfg.ETL.MaxErrors,
		GenericFallback: cfg.Repair.GenericFallback,
		Debug:           flagDebug,
	}, tracker)
}

// startStatusServer serves progress while the command runs. The returned
// func stops the server and waits for it.
func startStatusServer(ctx context.Context, conn *db.Connection, tracker *etl.Tracker) func() {
	if cfg.Status.Addr == "" {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	server := web.NewServer(web.ConfigFrom(cfg.Status), conn, tracker)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Start(ctx); err != nil {
			logger.Error(ctx, "status server failed", "error", err)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func printRepairReport(w io.Writer, input, output string, doc *repair.Document) {
	r := doc.Report
	fmt.Fprintf(w, "Input: %s (%d bytes, %d lines)\n", input, r.InputBytes, r.InputLines)
	for _, pass := range r.Passes {
		fmt.Fprintf(w, "   %-22s : %d changes\n", pass.Name, pass.Changes)
	}
	if len(r.Dropped) > 0 {
		fmt.Fprintf(w, "Dropped %d lines:\n", len(r.Dropped))
		for _, d := range r.Dropped {
			fmt.Fprintf(w, "   line %d (%s): %s\n", d.Line, d.Reason, d.Text)
		}
	}
	if len(r.SkippedElements) > 0 {
		fmt.Fprintf(w, "Skipped non-object elements at %v\n", r.SkippedElements)
	}
	if r.FallbackUsed {
		fmt.Fprintln(w, "Generic repair fallback was used")
	}
	fmt.Fprintf(w, "Records: %d\n", r.Records)
	fmt.Fprintf(w, "Output: %s\n", output)

	if len(doc.Records) > 0 {
		fmt.Fprintln(w, "First record:")
		printSample(w, doc.Records[0])
	}
}

// printSample prints the first fields of a record in key order, since the
// decoded record does not keep the export's field order.
func printSample(w io.Writer, rec map[string]any) {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > sampleFields {
		keys = keys[:sampleFields]
	}
	for _, k := range keys {
		v := fmt.Sprint(rec[k])
		if len([]rune(v)) > sampleValueWidth {
			v = string([]rune(v)[:sampleValueWidth]) + "..."
		}
		fmt.Fprintf(w, "   %s: %s\n", k, v)
	}
}

func printSchema(w io.Writer, res *store.SchemaResult) {
	fmt.Fprintf(w, "Schema version %d (%s)\n", res.Version, strings.Join(store.Tables, ", "))
	for _, path := range res.Applied {
		fmt.Fprintf(w, "   applied %s\n", path)
	}
}

func printValidation(w io.Writer, report *store.Report) {
	fmt.Fprintln(w, "Table counts:")
	for _, tc := range report.Tables {
		fmt.Fprintf(w, "   %-15s : %d records\n", tc.Table, tc.Rows)
	}

	fmt.Fprintln(w, "Sample properties:")
	for _, s := range report.Samples {
		fmt.Fprintf(w, "   %d | %s | %s | %s | %s\n",
			s.ID, strOrNull(s.Title), strOrNull(s.City), strOrNull(s.State), intOrNull(s.YearBuilt))
	}

	fmt.Fprintln(w, "Relationships:")
	fmt.Fprintf(w, "   properties with leads      : %d of %d\n", report.Links.LinkedLeads, report.Links.Properties)
	fmt.Fprintf(w, "   properties with valuations : %d of %d\n", report.Links.LinkedValuations, report.Links.Properties)
	if report.Orphaned() {
		fmt.Fprintln(w, "WARNING: some properties have no leads or valuation rows")
	}
}

func strOrNull(s *string) string {
	if s == nil {
		return "NULL"
	}
	return *s
}

func intOrNull(i *int64) string {
	if i == nil {
		return "NULL"
	}
	return fmt.Sprint(*i)
}
