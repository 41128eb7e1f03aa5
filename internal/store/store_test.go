package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/property-etl/internal/config"
	"github.com/property-etl/internal/db"
	"github.com/property-etl/internal/normalize"
)

func newTestConn(t *testing.T) *db.Connection {
	t.Helper()
	ctx := context.Background()

	conn, err := db.NewConnection(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "store.db"),
	})
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := Migrate(ctx, conn); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return conn
}

func record(title string, valuations ...normalize.Valuation) normalize.Record {
	rec := normalize.Record{
		Property: normalize.Property{
			PropertyTitle: &title,
			City:          strPtr("Tulsa"),
			State:         strPtr("OK"),
			YearBuilt:     int64Ptr(1962),
			SQFTTotal:     strPtr("1850"),
			Bath:          floatPtr(1.5),
		},
		Lead:     normalize.Lead{Source: strPtr("MLS"), IRR: floatPtr(11.2)},
		LeadInfo: normalize.LeadInfo{SellingReason: strPtr("Relocation")},
		HOA:      normalize.HOA{Amount: floatPtr(35), Flag: normalize.True},
		Rehab:    normalize.Rehab{Roof: normalize.False, Kitchen: normalize.True},
		Taxes:    normalize.Taxes{Amount: floatPtr(2150.4)},
	}
	if len(valuations) > 0 {
		rec.ValuationShape = normalize.ValuationMany
		rec.Valuations = valuations
	}
	return rec
}

func countRows(t *testing.T, conn *db.Connection, table string) int64 {
	t.Helper()
	var n int64
	if err := conn.DB.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestMigrateAndReset(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)

	for _, table := range Tables {
		if got := countRows(t, conn, table); got != 0 {
			t.Errorf("%s has %d rows after migrate", table, got)
		}
	}

	loader := NewLoader(conn, LoaderOptions{})
	if err := loader.Append(ctx, record("Before reset")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := loader.Finish(ctx); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	res, err := Reset(ctx, conn)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if res.Version != 1 {
		t.Errorf("Version = %d, want 1", res.Version)
	}
	if len(res.Applied) != 1 || !strings.HasSuffix(res.Applied[0], "00001_create_property_tables.sql") {
		t.Errorf("Applied = %v", res.Applied)
	}
	if got := countRows(t, conn, TableProperty); got != 0 {
		t.Errorf("property has %d rows after reset, want 0", got)
	}

	res, err = Migrate(ctx, conn)
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if len(res.Applied) != 0 {
		t.Errorf("second Migrate applied %v, want nothing", res.Applied)
	}
}

func TestLoaderWritesAllTables(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)

	loader := NewLoader(conn, LoaderOptions{BatchSize: 10})
	recs := []normalize.Record{
		record("No valuation"),
		record("Two valuations",
			normalize.Valuation{ListPrice: floatPtr(185000)},
			normalize.Valuation{ARV: floatPtr(240000)}),
	}
	for _, rec := range recs {
		if err := loader.Append(ctx, rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := loader.Finish(ctx); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	want := map[string]int64{
		TableProperty:  2,
		TableLeads:     2,
		TableLeadsInfo: 2,
		TableValuation: 3,
		TableHOA:       2,
		TableRehab:     2,
		TableTaxes:     2,
	}
	for table, n := range want {
		if got := countRows(t, conn, table); got != n {
			t.Errorf("%s rows = %d, want %d", table, got, n)
		}
	}

	stats := loader.Stats()
	if stats.Processed != 2 || stats.Loaded != 2 || stats.Failed != 0 || stats.Commits != 1 {
		t.Errorf("stats = %+v", stats)
	}
	for table, n := range want {
		if stats.Rows[table] != n {
			t.Errorf("stats.Rows[%s] = %d, want %d", table, stats.Rows[table], n)
		}
	}

	var allNull int64
	err := conn.DB.QueryRow(`
		SELECT COUNT(*) FROM valuation v JOIN property p ON p.property_id = v.property_id
		WHERE p.property_title = 'No valuation' AND v.list_price IS NULL AND v.arv IS NULL`).Scan(&allNull)
	if err != nil {
		t.Fatal(err)
	}
	if allNull != 1 {
		t.Errorf("all-null valuation rows for absent Valuation = %d, want 1", allNull)
	}
}

func TestLoaderFlagsAndNulls(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)

	loader := NewLoader(conn, LoaderOptions{})
	if err := loader.Append(ctx, record("Flags")); err != nil {
		t.Fatal(err)
	}
	if err := loader.Finish(ctx); err != nil {
		t.Fatal(err)
	}

	var hoaFlag, roof, kitchen, hvac sql.NullBool
	if err := conn.DB.QueryRow("SELECT hoa_flag FROM hoa").Scan(&hoaFlag); err != nil {
		t.Fatal(err)
	}
	if err := conn.DB.QueryRow("SELECT roof_flag, kitchen_flag, hvac_flag FROM rehab").Scan(&roof, &kitchen, &hvac); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		got  sql.NullBool
		want sql.NullBool
	}{
		{"hoa_flag true", hoaFlag, sql.NullBool{Bool: true, Valid: true}},
		{"roof_flag false", roof, sql.NullBool{Bool: false, Valid: true}},
		{"kitchen_flag true", kitchen, sql.NullBool{Bool: true, Valid: true}},
		{"hvac_flag unknown is null", hvac, sql.NullBool{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %+v, want %+v", tt.got, tt.want)
			}
		})
	}

	var market sql.NullString
	var sqft string
	if err := conn.DB.QueryRow("SELECT market, sqft_total FROM property").Scan(&market, &sqft); err != nil {
		t.Fatal(err)
	}
	if market.Valid {
		t.Errorf("market = %q, want NULL", market.String)
	}
	if sqft != "1850" {
		t.Errorf("sqft_total = %q, want 1850", sqft)
	}
}

// rejectTitle installs a trigger that makes inserts into table fail for the
// property with the given title.
func rejectTitle(t *testing.T, conn *db.Connection, table, title string) {
	t.Helper()
	var when string
	if table == TableProperty {
		when = "NEW.property_title = '" + title + "'"
	} else {
		when = "(SELECT property_title FROM property WHERE property_id = NEW.property_id) = '" + title + "'"
	}
	_, err := conn.DB.Exec("CREATE TRIGGER reject_" + table + " BEFORE INSERT ON " + table +
		" WHEN " + when + " BEGIN SELECT RAISE(ABORT, 'rejected by test'); END")
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}
}

func TestLoaderIsolatesFailingRecord(t *testing.T) {
	for _, table := range []string{TableProperty, TableValuation, TableTaxes} {
		t.Run(table, func(t *testing.T) {
			ctx := context.Background()
			conn := newTestConn(t)
			rejectTitle(t, conn, table, "Bad")

			loader := NewLoader(conn, LoaderOptions{BatchSize: 2})
			titles := []string{"Good 1", "Bad", "Good 2", "Good 3"}
			var recErrs []*RecordError
			for _, title := range titles {
				err := loader.Append(ctx, record(title))
				var recErr *RecordError
				switch {
				case errors.As(err, &recErr):
					recErrs = append(recErrs, recErr)
				case err != nil:
					t.Fatalf("Append(%s) fatal error = %v", title, err)
				}
			}
			if err := loader.Finish(ctx); err != nil {
				t.Fatalf("Finish() error = %v", err)
			}

			if len(recErrs) != 1 {
				t.Fatalf("record errors = %v, want 1", recErrs)
			}
			if recErrs[0].Index != 2 || recErrs[0].Title != "Bad" || recErrs[0].Table != table {
				t.Errorf("record error = %+v", recErrs[0])
			}

			if got := countRows(t, conn, TableProperty); got != 3 {
				t.Errorf("property rows = %d, want 3", got)
			}
			for _, child := range Tables[1:] {
				if got := countRows(t, conn, child); got != 3 {
					t.Errorf("%s rows = %d, want 3 (partial record left behind)", child, got)
				}
			}

			stats := loader.Stats()
			if stats.Processed != 4 || stats.Loaded != 3 || stats.Failed != 1 {
				t.Errorf("stats = %+v", stats)
			}
			if stats.Commits != 2 {
				t.Errorf("commits = %d, want 2", stats.Commits)
			}
			if len(stats.Errors) != 1 || !strings.Contains(stats.Errors[0], "rejected by test") {
				t.Errorf("errors = %v", stats.Errors)
			}
		})
	}
}

func TestLoaderKeepsFirstErrors(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	rejectTitle(t, conn, TableProperty, "Bad")

	loader := NewLoader(conn, LoaderOptions{MaxErrors: 2})
	for i := 0; i < 5; i++ {
		if err := loader.Append(ctx, record("Bad")); err == nil {
			t.Fatal("Append(Bad) error = nil")
		}
	}
	if err := loader.Finish(ctx); err != nil {
		t.Fatal(err)
	}

	stats := loader.Stats()
	if stats.Failed != 5 {
		t.Errorf("Failed = %d, want 5", stats.Failed)
	}
	if len(stats.Errors) != 2 {
		t.Errorf("kept %d errors, want 2", len(stats.Errors))
	}
	if !strings.HasPrefix(stats.Errors[0], "record 1 (Bad): insert into property") {
		t.Errorf("first error = %q", stats.Errors[0])
	}
}

func TestLoaderAbort(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)

	loader := NewLoader(conn, LoaderOptions{BatchSize: 100})
	if err := loader.Append(ctx, record("Uncommitted")); err != nil {
		t.Fatal(err)
	}
	if err := loader.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if got := countRows(t, conn, TableProperty); got != 0 {
		t.Errorf("property rows after abort = %d, want 0", got)
	}
	if rows := loader.Stats().Rows[TableProperty]; rows != 0 {
		t.Errorf("stats rows after abort = %d, want 0", rows)
	}
}

func TestBuildReport(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)

	loader := NewLoader(conn, LoaderOptions{})
	long := strings.Repeat("x", 45)
	for _, title := range []string{long, "Second", "Third", "Fourth"} {
		if err := loader.Append(ctx, record(title)); err != nil {
			t.Fatal(err)
		}
	}
	if err := loader.Finish(ctx); err != nil {
		t.Fatal(err)
	}

	report, err := BuildReport(ctx, conn, 3)
	if err != nil {
		t.Fatalf("BuildReport() error = %v", err)
	}

	if len(report.Tables) != len(Tables) {
		t.Fatalf("tables = %d, want %d", len(report.Tables), len(Tables))
	}
	if report.Tables[0].Table != TableProperty || report.Tables[0].Rows != 4 {
		t.Errorf("first table = %+v", report.Tables[0])
	}
	if len(report.Samples) != 3 {
		t.Fatalf("samples = %d, want 3", len(report.Samples))
	}
	if got := *report.Samples[0].Title; got != strings.Repeat("x", 40) {
		t.Errorf("sample title = %q, want 40 characters", got)
	}
	if report.Samples[1].YearBuilt == nil || *report.Samples[1].YearBuilt != 1962 {
		t.Errorf("sample year built = %v", report.Samples[1].YearBuilt)
	}
	if report.Links != (Links{Properties: 4, LinkedLeads: 4, LinkedValuations: 4}) {
		t.Errorf("links = %+v", report.Links)
	}
	if report.Orphaned() {
		t.Error("Orphaned() = true, want false")
	}
}

func TestInsertSQL(t *testing.T) {
	tests := []struct {
		dialect db.Dialect
		table   string
		want    string
	}{
		{db.SQLite, TableTaxes, "INSERT INTO taxes (property_id, taxes) VALUES (?, ?)"},
		{db.Postgres, TableHOA, "INSERT INTO hoa (property_id, hoa, hoa_flag) VALUES ($1, $2, $3)"},
	}
	for _, tt := range tests {
		t.Run(string(tt.dialect)+"/"+tt.table, func(t *testing.T) {
			if got := insertSQL(tt.dialect, tt.table); got != tt.want {
				t.Errorf("insertSQL() = %q, want %q", got, tt.want)
			}
		})
	}

	pg := insertSQL(db.PGX, TableProperty)
	if !strings.HasSuffix(pg, "RETURNING property_id") || !strings.Contains(pg, "$32") {
		t.Errorf("postgres property insert = %q", pg)
	}
	if strings.Contains(insertSQL(db.MySQL, TableProperty), "RETURNING") {
		t.Error("mysql property insert uses RETURNING")
	}
}

func TestArgsMatchColumns(t *testing.T) {
	rec := record("Shape")
	args := map[string][]any{
		TableProperty:  propertyArgs(rec.Property),
		TableLeads:     leadArgs(rec.Lead),
		TableLeadsInfo: leadInfoArgs(rec.LeadInfo),
		TableValuation: valuationArgs(normalize.Valuation{}),
		TableHOA:       hoaArgs(rec.HOA),
		TableRehab:     rehabArgs(rec.Rehab),
		TableTaxes:     taxesArgs(rec.Taxes),
	}
	for _, table := range Tables {
		if len(args[table]) != len(columns[table]) {
			t.Errorf("%s: %d args for %d columns", table, len(args[table]), len(columns[table]))
		}
	}
}

func TestFlagArgsUseTernaryValuer(t *testing.T) {
	tests := []struct {
		name string
		arg  any
		want driver.Value
	}{
		{"hoa flag true", hoaArgs(normalize.HOA{Flag: normalize.True})[1], true},
		{"hoa flag unknown", hoaArgs(normalize.HOA{})[1], nil},
		{"roof false", rehabArgs(normalize.Rehab{Roof: normalize.False})[5], false},
		{"trashout unknown", rehabArgs(normalize.Rehab{})[12], nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := tt.arg.(driver.Valuer)
			if !ok {
				t.Fatalf("arg %T is not a driver.Valuer", tt.arg)
			}
			got, err := v.Value()
			if err != nil {
				t.Fatalf("Value() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Value() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoaderValuationRowsByShape(t *testing.T) {
	tests := []struct {
		name  string
		shape normalize.ValuationShape
		vals  []normalize.Valuation
		want  int64
	}{
		{"absent gets a null row", normalize.ValuationAbsent, nil, 1},
		{"single", normalize.ValuationSingle, []normalize.Valuation{{ARV: floatPtr(1)}}, 1},
		{"list of only non-objects", normalize.ValuationMany, nil, 0},
		{"scalar value", normalize.ValuationInvalid, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			conn := newTestConn(t)

			rec := record(tt.name)
			rec.ValuationShape = tt.shape
			rec.Valuations = tt.vals

			loader := NewLoader(conn, LoaderOptions{})
			if err := loader.Append(ctx, rec); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
			if err := loader.Finish(ctx); err != nil {
				t.Fatalf("Finish() error = %v", err)
			}
			if got := countRows(t, conn, TableValuation); got != tt.want {
				t.Errorf("valuation rows = %d, want %d", got, tt.want)
			}
			if got := countRows(t, conn, TableProperty); got != 1 {
				t.Errorf("property rows = %d, want 1", got)
			}
		})
	}
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func int64Ptr(i int64) *int64     { return &i }
