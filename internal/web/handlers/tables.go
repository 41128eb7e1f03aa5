package handlers

import (
	"net/http"
	"strconv"

	"github.com/property-etl/internal/db"
	"github.com/property-etl/internal/logger"
	"github.com/property-etl/internal/store"
)

const (
	defaultSamples = 3
	maxSamples     = 50
)

// TablesHandler serves the validation report for the loaded tables
type TablesHandler struct {
	Conn *db.Connection
}

// TablesResponse wraps the report with the derived orphan flag
type TablesResponse struct {
	*store.Report
	Orphaned bool `json:"orphaned"`
}

// GetTables returns row counts, sample properties and link counts.
// ?samples=N controls how many properties are sampled.
func (h *TablesHandler) GetTables(w http.ResponseWriter, r *http.Request) {
	samples := parseIntParam(r.URL.Query().Get("samples"), defaultSamples)
	if samples < 0 {
		samples = 0
	}
	if samples > maxSamples {
		samples = maxSamples
	}

	report, err := store.BuildReport(r.Context(), h.Conn, samples)
	if err != nil {
		logger.Error(r.Context(), "failed to build table report", "error", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, TablesResponse{Report: report, Orphaned: report.Orphaned()})
}

// parseIntParam parses a string parameter as int with default value
func parseIntParam(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return defaultVal
}
