package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/property-etl/internal/db"
	"github.com/property-etl/internal/normalize"
)

const (
	DefaultBatchSize = 500
	DefaultMaxErrors = 5
)

// LoaderOptions tunes commit cadence and error retention.
type LoaderOptions struct {
	// BatchSize is the number of records per transaction.
	BatchSize int
	// MaxErrors is how many record errors are kept verbatim in LoadStats.
	MaxErrors int
}

// RecordError is a failure confined to one record. The record's rows were
// rolled back; the batch carries on.
type RecordError struct {
	Index int
	Title string
	Table string
	Err   error
}

func (e *RecordError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("record %d (%s): insert into %s: %v", e.Index, e.Title, e.Table, e.Err)
	}
	return fmt.Sprintf("record %d: insert into %s: %v", e.Index, e.Table, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// LoadStats tallies a load.
type LoadStats struct {
	Processed int              `json:"processed"`
	Loaded    int              `json:"loaded"`
	Failed    int              `json:"failed"`
	Commits   int              `json:"commits"`
	Rows      map[string]int64 `json:"rows"`
	Errors    []string         `json:"errors,omitempty"`
}

func (s LoadStats) clone() LoadStats {
	out := s
	out.Rows = make(map[string]int64, len(s.Rows))
	for k, v := range s.Rows {
		out.Rows[k] = v
	}
	out.Errors = append([]string(nil), s.Errors...)
	return out
}

// Loader inserts normalized records one at a time, committing every
// BatchSize records. A failing record is rolled back to its savepoint so
// earlier records in the same transaction survive.
type Loader struct {
	conn      *db.Connection
	batchSize int
	maxErrors int

	tx      *sql.Tx
	stmts   map[string]*sql.Stmt
	pending int
	rows    map[string]int64
	stats   LoadStats
}

// NewLoader creates a loader writing through conn.
func NewLoader(conn *db.Connection, opts LoaderOptions) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	return &Loader{
		conn:      conn,
		batchSize: opts.BatchSize,
		maxErrors: opts.MaxErrors,
		rows:      make(map[string]int64),
		stats:     LoadStats{Rows: make(map[string]int64)},
	}
}

// Append inserts rec and its child rows. A *RecordError means only this
// record was skipped; any other error leaves the loader unusable.
func (l *Loader) Append(ctx context.Context, rec normalize.Record) error {
	if l.tx == nil {
		if err := l.begin(ctx); err != nil {
			return err
		}
	}

	l.stats.Processed++
	index := l.stats.Processed

	if _, err := l.tx.ExecContext(ctx, "SAVEPOINT record"); err != nil {
		return fmt.Errorf("failed to set savepoint for record %d: %w", index, err)
	}

	counts, table, err := l.insert(ctx, rec)
	if err != nil {
		if _, rbErr := l.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT record"); rbErr != nil {
			return fmt.Errorf("failed to roll back record %d: %w", index, errors.Join(err, rbErr))
		}
		if _, relErr := l.tx.ExecContext(ctx, "RELEASE SAVEPOINT record"); relErr != nil {
			return fmt.Errorf("failed to release savepoint for record %d: %w", index, relErr)
		}

		recErr := &RecordError{Index: index, Table: table, Err: err}
		if rec.Property.PropertyTitle != nil {
			recErr.Title = *rec.Property.PropertyTitle
		}
		l.stats.Failed++
		if len(l.stats.Errors) < l.maxErrors {
			l.stats.Errors = append(l.stats.Errors, recErr.Error())
		}
		l.pending++
		if err := l.maybeCommit(ctx); err != nil {
			return err
		}
		return recErr
	}

	if _, err := l.tx.ExecContext(ctx, "RELEASE SAVEPOINT record"); err != nil {
		return fmt.Errorf("failed to release savepoint for record %d: %w", index, err)
	}

	l.stats.Loaded++
	for t, n := range counts {
		l.rows[t] += n
	}
	l.pending++
	return l.maybeCommit(ctx)
}

// Finish commits whatever is pending.
func (l *Loader) Finish(ctx context.Context) error {
	if l.tx == nil {
		return nil
	}
	return l.commit()
}

// Abort rolls back the open transaction, discarding uncommitted records.
func (l *Loader) Abort() error {
	if l.tx == nil {
		return nil
	}
	l.closeStmts()
	err := l.tx.Rollback()
	l.tx = nil
	l.pending = 0
	l.rows = make(map[string]int64)
	return err
}

// Stats returns a copy of the running tally. Rows only counts committed
// rows.
func (l *Loader) Stats() LoadStats {
	return l.stats.clone()
}

func (l *Loader) maybeCommit(ctx context.Context) error {
	if l.pending < l.batchSize {
		return nil
	}
	return l.commit()
}

func (l *Loader) begin(ctx context.Context) error {
	tx, err := l.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmts := make(map[string]*sql.Stmt, len(Tables))
	for _, table := range Tables {
		stmt, err := tx.PrepareContext(ctx, insertSQL(l.conn.Dialect, table))
		if err != nil {
			for _, s := range stmts {
				s.Close()
			}
			tx.Rollback()
			return fmt.Errorf("failed to prepare %s insert: %w", table, err)
		}
		stmts[table] = stmt
	}

	l.tx = tx
	l.stmts = stmts
	return nil
}

func (l *Loader) commit() error {
	l.closeStmts()
	err := l.tx.Commit()
	l.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	for t, n := range l.rows {
		l.stats.Rows[t] += n
	}
	l.rows = make(map[string]int64)
	l.pending = 0
	l.stats.Commits++
	return nil
}

func (l *Loader) closeStmts() {
	for _, s := range l.stmts {
		s.Close()
	}
	l.stmts = nil
}

// insert writes one record. On failure it reports the table that failed.
func (l *Loader) insert(ctx context.Context, rec normalize.Record) (map[string]int64, string, error) {
	counts := make(map[string]int64, len(Tables))

	propertyID, err := l.insertProperty(ctx, rec.Property)
	if err != nil {
		return nil, TableProperty, err
	}
	counts[TableProperty] = 1

	exec := func(table string, args ...any) error {
		_, err := l.stmts[table].ExecContext(ctx, append([]any{propertyID}, args...)...)
		if err != nil {
			return err
		}
		counts[table]++
		return nil
	}

	if err := exec(TableLeads, leadArgs(rec.Lead)...); err != nil {
		return nil, TableLeads, err
	}
	if err := exec(TableLeadsInfo, leadInfoArgs(rec.LeadInfo)...); err != nil {
		return nil, TableLeadsInfo, err
	}

	valuations := rec.Valuations
	if rec.ValuationShape == normalize.ValuationAbsent {
		// absent or empty Valuation still gets one row of nulls
		valuations = []normalize.Valuation{{}}
	}
	for _, v := range valuations {
		if err := exec(TableValuation, valuationArgs(v)...); err != nil {
			return nil, TableValuation, err
		}
	}

	if err := exec(TableHOA, hoaArgs(rec.HOA)...); err != nil {
		return nil, TableHOA, err
	}
	if err := exec(TableRehab, rehabArgs(rec.Rehab)...); err != nil {
		return nil, TableRehab, err
	}
	if err := exec(TableTaxes, taxesArgs(rec.Taxes)...); err != nil {
		return nil, TableTaxes, err
	}
	return counts, "", nil
}

func (l *Loader) insertProperty(ctx context.Context, p normalize.Property) (int64, error) {
	stmt := l.stmts[TableProperty]
	args := propertyArgs(p)

	if l.conn.Dialect.IsPostgres() {
		var id int64
		if err := stmt.QueryRowContext(ctx, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// insertSQL builds the INSERT for table. Child tables take property_id as
// their first parameter.
func insertSQL(dialect db.Dialect, table string) string {
	cols := columns[table]
	if table != TableProperty {
		cols = append([]string{"property_id"}, cols...)
	}

	params := make([]string, len(cols))
	for i := range cols {
		params[i] = dialect.Placeholder(i + 1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(params, ", "))
	if table == TableProperty && dialect.IsPostgres() {
		query += " RETURNING property_id"
	}
	return query
}
