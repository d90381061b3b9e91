// Package reporter aggregates per-table results into a Report,
// classifies severity, generates deterministic recommendations, and
// renders the result as JSON, CSV, or console text, per spec.md §4.9.
//
// Grounded on original_source/src/reconciliation/report/generator.py
// (severity thresholds, summary/recommendation rules, the
// NO_DATA/PASS/FAIL status rule) and formatters.py (serialization
// shapes), re-expressed as a pure function over
// []*reconciler.TableResult rather than a list of dicts.
package reporter

import (
	"fmt"

	"github.com/dbsync/reconcile/pkg/reconciler"
)

// Status classifies the overall outcome of a reconciliation run.
type Status string

const (
	StatusPass   Status = "PASS"
	StatusFail   Status = "FAIL"
	StatusNoData Status = "NO_DATA"
)

// IssueType classifies a Discrepancy.
type IssueType string

const (
	IssueRowCountMismatch IssueType = "ROW_COUNT_MISMATCH"
	IssueChecksumMismatch IssueType = "CHECKSUM_MISMATCH"
)

// Severity classifies how serious a Discrepancy is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Discrepancy is one table-level issue surfaced in a Report.
type Discrepancy struct {
	Table    string         `json:"table"`
	Issue    IssueType      `json:"issue_type"`
	Severity Severity       `json:"severity"`
	Details  map[string]any `json:"details"`
	Timestamp int64         `json:"timestamp"`
}

// Report is the aggregated outcome of reconciling a set of tables, per
// spec.md §3.
type Report struct {
	Status            Status        `json:"status"`
	Timestamp         int64         `json:"timestamp"`
	TotalTables       int           `json:"total_tables"`
	TablesMatched     int           `json:"tables_matched"`
	TablesMismatched  int           `json:"tables_mismatched"`
	SourceTotalRows   int64         `json:"source_total_rows"`
	TargetTotalRows   int64         `json:"target_total_rows"`
	Discrepancies     []Discrepancy `json:"discrepancies"`
	Recommendations   []string      `json:"recommendations"`
	Summary           string        `json:"summary"`
	FailedTables      []string      `json:"failed_tables,omitempty"`
	Partial           bool          `json:"partial,omitempty"`
	PartialReason     string        `json:"partial_reason,omitempty"`
}

// Generate builds a Report from a set of table results, per
// spec.md §4.9. status = PASS iff tables_mismatched == 0 and there is at
// least one result; NO_DATA iff results is empty.
func Generate(results []*reconciler.TableResult, timestampUnix int64) *Report {
	if len(results) == 0 {
		return &Report{
			Status:          StatusNoData,
			Timestamp:       timestampUnix,
			Summary:         "No comparison data available",
			Recommendations: []string{},
			Discrepancies:   []Discrepancy{},
		}
	}

	var (
		matched, mismatched             int
		sourceTotal, targetTotal        int64
		discrepancies                   []Discrepancy
	)

	for _, r := range results {
		sourceTotal += r.SourceCount
		targetTotal += r.TargetCount

		checksumMatch := true
		if r.ChecksumMatch != nil {
			checksumMatch = *r.ChecksumMatch
		}
		rowCountMatch := r.Difference == 0

		if rowCountMatch && checksumMatch {
			matched++
			continue
		}
		mismatched++

		if !rowCountMatch {
			discrepancies = append(discrepancies, rowCountDiscrepancy(r))
		}
		if !checksumMatch {
			discrepancies = append(discrepancies, checksumDiscrepancy(r))
		}
	}

	status := StatusPass
	if mismatched > 0 {
		status = StatusFail
	}

	return &Report{
		Status:           status,
		Timestamp:        timestampUnix,
		TotalTables:      len(results),
		TablesMatched:    matched,
		TablesMismatched: mismatched,
		SourceTotalRows:  sourceTotal,
		TargetTotalRows:  targetTotal,
		Discrepancies:    discrepancies,
		Summary:          summary(len(results), matched, mismatched),
		Recommendations:  recommendations(discrepancies),
	}
}

func rowCountDiscrepancy(r *reconciler.TableResult) Discrepancy {
	diff := r.Difference
	missing, extra := int64(0), int64(0)
	if diff < 0 {
		missing = -diff
	} else if diff > 0 {
		extra = diff
	}
	return Discrepancy{
		Table:    r.Table,
		Issue:    IssueRowCountMismatch,
		Severity: rowCountSeverity(r.SourceCount, abs64(diff)),
		Details: map[string]any{
			"source_count":  r.SourceCount,
			"target_count":  r.TargetCount,
			"missing_rows":  missing,
			"extra_rows":    extra,
		},
		Timestamp: r.TimestampUnix,
	}
}

func checksumDiscrepancy(r *reconciler.TableResult) Discrepancy {
	return Discrepancy{
		Table:    r.Table,
		Issue:    IssueChecksumMismatch,
		Severity: SeverityCritical,
		Details: map[string]any{
			"source_checksum": r.SourceChecksum,
			"target_checksum": r.TargetChecksum,
			"description":     "data corruption or modification detected",
		},
		Timestamp: r.TimestampUnix,
	}
}

// rowCountSeverity classifies a row-count mismatch, per spec.md §4.9.
func rowCountSeverity(sourceCount, difference int64) Severity {
	if sourceCount == 0 {
		if difference == 0 {
			return SeverityLow
		}
		return SeverityCritical
	}
	pct := float64(difference) / float64(sourceCount)
	switch {
	case pct < 0.001:
		return SeverityLow
	case pct < 0.01:
		return SeverityMedium
	case pct < 0.10:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func summary(total, matched, mismatched int) string {
	if mismatched == 0 {
		return fmt.Sprintf("All %d tables passed reconciliation. Data is consistent.", total)
	}
	return fmt.Sprintf("Reconciliation found discrepancies in %d of %d tables. %d tables are consistent.", mismatched, total, matched)
}

// recommendations generates deterministic, rule-based advice from the
// discrepancy set, per spec.md §4.9. Same input always yields the same
// output.
func recommendations(discrepancies []Discrepancy) []string {
	if len(discrepancies) == 0 {
		return []string{"Data is consistent. Continue monitoring replication lag and pipeline health."}
	}

	var recs []string
	var missingRows, extraRows int64
	var rowCountIssues, checksumIssues int
	for _, d := range discrepancies {
		switch d.Issue {
		case IssueRowCountMismatch:
			rowCountIssues++
			if v, ok := d.Details["missing_rows"].(int64); ok {
				missingRows += v
			}
			if v, ok := d.Details["extra_rows"].(int64); ok {
				extraRows += v
			}
		case IssueChecksumMismatch:
			checksumIssues++
		}
	}

	if rowCountIssues > 0 {
		if missingRows > 0 {
			recs = append(recs, fmt.Sprintf("Target database is missing %d rows. Check replication lag and connector status.", missingRows))
			recs = append(recs, "Review the CDC pipeline logs for errors or backpressure.")
		}
		if extraRows > 0 {
			recs = append(recs, fmt.Sprintf("Target database has %d extra rows. Investigate for duplicate inserts or data quality issues.", extraRows))
		}
	}

	if checksumIssues > 0 {
		recs = append(recs, fmt.Sprintf("Data corruption detected in %d table(s). Run a row-level comparison to identify corrupted records.", checksumIssues))
		recs = append(recs, "Check for schema evolution or type conversion issues in the CDC pipeline.")
	}

	if len(discrepancies) > 5 {
		recs = append(recs, "Multiple tables affected. Consider pausing replication and performing a full resync.")
	}

	recs = append(recs, "Consult the troubleshooting runbook for detailed resolution steps.")
	return recs
}
