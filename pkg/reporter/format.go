package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// WriteJSON serializes rep as indented JSON to path, using the same
// temp-file-then-rename atomic write pattern as pkg/incremental's state
// store, per spec.md §4.9 and §8's round-trip guarantee.
func WriteJSON(rep *Report, path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("reporter: marshaling report: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("reporter: creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return fmt.Errorf("reporter: creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("reporter: writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("reporter: closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("reporter: renaming %s to %s: %w", tmpName, path, err)
	}
	return nil
}

// LoadReport reads back a report written by WriteJSON, for the report
// subcommand's re-render feature (spec.md §6).
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reporter: reading %s: %w", path, err)
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("reporter: parsing %s: %w", path, err)
	}
	return &rep, nil
}

// WriteCSV writes one row per discrepancy to path, per spec.md §4.9.
// Missing/extra row counts are summed into a single Difference column,
// mirroring the Python formatter's combined "missing_rows + extra_rows"
// column.
func WriteCSV(rep *Report, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("reporter: creating %s: %w", dir, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reporter: creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"Table", "Status", "Source Count", "Target Count", "Difference", "Issue Type", "Severity"}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, d := range rep.Discrepancies {
		sourceCount := detailString(d.Details, "source_count")
		targetCount := detailString(d.Details, "target_count")
		difference := detailInt64(d.Details, "missing_rows") + detailInt64(d.Details, "extra_rows")

		row := []string{
			d.Table,
			"FAIL",
			sourceCount,
			targetCount,
			strconv.FormatInt(difference, 10),
			string(d.Issue),
			string(d.Severity),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

func detailString(details map[string]any, key string) string {
	v, ok := details[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case int64:
		return strconv.FormatInt(t, 10)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func detailInt64(details map[string]any, key string) int64 {
	v, ok := details[key].(int64)
	if !ok {
		return 0
	}
	return v
}

// FormatConsole renders rep as ruled text for terminal output, per
// spec.md §4.9.
func FormatConsole(rep *Report) string {
	var b strings.Builder
	rule := strings.Repeat("=", 80)
	sub := strings.Repeat("-", 80)

	b.WriteString(rule + "\n")
	b.WriteString("RECONCILIATION REPORT\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Status: %s\n", rep.Status)
	fmt.Fprintf(&b, "Timestamp: %d\n", rep.Timestamp)
	fmt.Fprintf(&b, "Total Tables: %d\n", rep.TotalTables)
	fmt.Fprintf(&b, "Tables Matched: %d\n", rep.TablesMatched)
	fmt.Fprintf(&b, "Tables Mismatched: %d\n", rep.TablesMismatched)
	fmt.Fprintf(&b, "Source Total Rows: %s\n", commaInt(rep.SourceTotalRows))
	fmt.Fprintf(&b, "Target Total Rows: %s\n", commaInt(rep.TargetTotalRows))
	b.WriteString("\n")

	b.WriteString("SUMMARY\n")
	b.WriteString(sub + "\n")
	b.WriteString(rep.Summary + "\n")
	b.WriteString("\n")

	if len(rep.Discrepancies) > 0 {
		b.WriteString("DISCREPANCIES\n")
		b.WriteString(sub + "\n")
		for _, d := range rep.Discrepancies {
			fmt.Fprintf(&b, "Table: %s\n", d.Table)
			fmt.Fprintf(&b, "  Issue: %s\n", d.Issue)
			fmt.Fprintf(&b, "  Severity: %s\n", d.Severity)
			fmt.Fprintf(&b, "  Details: %s\n", formatDetails(d.Details))
			b.WriteString("\n")
		}
	}

	if len(rep.Recommendations) > 0 {
		b.WriteString("RECOMMENDATIONS\n")
		b.WriteString(sub + "\n")
		for i, rec := range rep.Recommendations {
			fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
		}
		b.WriteString("\n")
	}

	b.WriteString(rule)
	return b.String()
}

func formatDetails(details map[string]any) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, details[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func commaInt(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
