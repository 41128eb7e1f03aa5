package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/property-etl/internal/db"
)

const sampleTitleWidth = 40

// TableCount is the row count of one table.
type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// PropertySample is a short view of one loaded property.
type PropertySample struct {
	ID        int64   `json:"property_id"`
	Title     *string `json:"title"`
	City      *string `json:"city"`
	State     *string `json:"state"`
	YearBuilt *int64  `json:"year_built"`
}

// Links counts how many properties are referenced from the child tables
// that are expected to cover every property.
type Links struct {
	Properties       int64 `json:"properties"`
	LinkedLeads      int64 `json:"linked_leads"`
	LinkedValuations int64 `json:"linked_valuations"`
}

// Report summarizes the contents of the schema after a load.
type Report struct {
	Tables  []TableCount     `json:"tables"`
	Samples []PropertySample `json:"samples"`
	Links   Links            `json:"links"`
}

// Orphaned reports whether some property lacks a leads or valuation row.
func (r *Report) Orphaned() bool {
	return r.Links.LinkedLeads != r.Links.Properties || r.Links.LinkedValuations != r.Links.Properties
}

// CountTables returns the row count of every schema table.
func CountTables(ctx context.Context, conn *db.Connection) ([]TableCount, error) {
	counts := make([]TableCount, 0, len(Tables))
	for _, table := range Tables {
		var n int64
		if err := conn.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts = append(counts, TableCount{Table: table, Rows: n})
	}
	return counts, nil
}

// BuildReport collects table counts, the first samples properties by id
// and the link counts.
func BuildReport(ctx context.Context, conn *db.Connection, samples int) (*Report, error) {
	tables, err := CountTables(ctx, conn)
	if err != nil {
		return nil, err
	}
	report := &Report{Tables: tables}

	rows, err := conn.DB.QueryContext(ctx, fmt.Sprintf(
		"SELECT property_id, property_title, city, state, year_built FROM property ORDER BY property_id LIMIT %d",
		samples))
	if err != nil {
		return nil, fmt.Errorf("failed to query sample properties: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s                  PropertySample
			title, city, state sql.NullString
			yearBuilt          sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &title, &city, &state, &yearBuilt); err != nil {
			return nil, fmt.Errorf("failed to scan sample property: %w", err)
		}
		s.Title = truncate(fromNullString(title), sampleTitleWidth)
		s.City = fromNullString(city)
		s.State = fromNullString(state)
		if yearBuilt.Valid {
			s.YearBuilt = &yearBuilt.Int64
		}
		report.Samples = append(report.Samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sample properties: %w", err)
	}

	err = conn.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM property),
			(SELECT COUNT(DISTINCT property_id) FROM leads),
			(SELECT COUNT(DISTINCT property_id) FROM valuation)
	`).Scan(&report.Links.Properties, &report.Links.LinkedLeads, &report.Links.LinkedValuations)
	if err != nil {
		return nil, fmt.Errorf("failed to count property links: %w", err)
	}

	return report, nil
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// truncate shortens s to at most width runes.
func truncate(s *string, width int) *string {
	if s == nil {
		return nil
	}
	r := []rune(*s)
	if len(r) <= width {
		return s
	}
	out := string(r[:width])
	return &out
}
