package rowdiffer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dbsync/reconcile/pkg/dialect"
	"github.com/dbsync/reconcile/pkg/safesql"
)

// RenderRepairScript emits a transactional SQL script in the target
// dialect that would bring target into agreement with source, per
// spec.md §6 "Repair script". Discrepancies are emitted in Missing, then
// Extra, then Modified order, regardless of the order they appear in
// discrepancies. Each statement is preceded by a comment line naming its
// primary key (and, for updates, the modified columns), and the script
// opens with a header comment block, following
// original_source/src/reconciliation/row_level/repair.py's
// generate_repair_script. The script is never executed by this package.
func RenderRepairScript(d dialect.Dialect, table string, pkColumns []string, discrepancies []RowDiscrepancy, generatedAt time.Time) (string, error) {
	quotedTable, err := safesql.QuoteIdentifier(d, table)
	if err != nil {
		return "", err
	}

	missing, extra, modified := groupForRepair(discrepancies)

	var b strings.Builder
	writeHeader(&b, table, len(discrepancies), d, generatedAt)
	writeTxBegin(&b, d)
	b.WriteString("\n")

	if len(missing) > 0 {
		fmt.Fprintf(&b, "-- Insert %d missing rows\n\n", len(missing))
		for _, disc := range missing {
			fmt.Fprintf(&b, "-- Missing row: %s\n", formatPrimaryKey(pkColumns, disc.PrimaryKey))
			stmt, err := renderInsert(d, quotedTable, disc)
			if err != nil {
				return "", err
			}
			b.WriteString(stmt)
			b.WriteString("\n\n")
		}
	}

	if len(extra) > 0 {
		fmt.Fprintf(&b, "-- Delete %d extra rows\n\n", len(extra))
		for _, disc := range extra {
			fmt.Fprintf(&b, "-- Extra row: %s\n", formatPrimaryKey(pkColumns, disc.PrimaryKey))
			stmt, err := renderDelete(d, quotedTable, pkColumns, disc)
			if err != nil {
				return "", err
			}
			b.WriteString(stmt)
			b.WriteString("\n\n")
		}
	}

	if len(modified) > 0 {
		fmt.Fprintf(&b, "-- Update %d modified rows\n\n", len(modified))
		for _, disc := range modified {
			fmt.Fprintf(&b, "-- Modified row: %s\n", formatPrimaryKey(pkColumns, disc.PrimaryKey))
			fmt.Fprintf(&b, "-- Modified columns: %s\n", strings.Join(disc.ModifiedColumns, ", "))
			stmt, err := renderUpdate(d, quotedTable, pkColumns, disc)
			if err != nil {
				return "", err
			}
			b.WriteString(stmt)
			b.WriteString("\n\n")
		}
	}

	writeTxCommit(&b, d)
	return b.String(), nil
}

// writeHeader emits the leading comment block spec.md §6 and
// repair.py's generate_repair_script both require: table name,
// generation timestamp, discrepancy count, and database type.
func writeHeader(b *strings.Builder, table string, total int, d dialect.Dialect, generatedAt time.Time) {
	fmt.Fprintf(b, "-- Repair script for %s\n", table)
	fmt.Fprintf(b, "-- Generated: %s\n", generatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(b, "-- Total discrepancies: %d\n", total)
	fmt.Fprintf(b, "-- Database type: %s\n\n", d.Kind().String())
}

// formatPrimaryKey renders a discrepancy's primary key as "col=value,
// ..." in pkColumns order, for the per-statement comment lines.
func formatPrimaryKey(pkColumns []string, pk map[string]any) string {
	parts := make([]string, len(pkColumns))
	for i, c := range pkColumns {
		parts[i] = fmt.Sprintf("%s=%v", c, pk[c])
	}
	return strings.Join(parts, ", ")
}

// groupForRepair splits discrepancies into Missing, Extra, Modified
// groups, per spec.md §4.5, preserving each group's relative order.
func groupForRepair(discrepancies []RowDiscrepancy) (missing, extra, modified []RowDiscrepancy) {
	for _, d := range discrepancies {
		switch d.Kind {
		case Missing:
			missing = append(missing, d)
		case Extra:
			extra = append(extra, d)
		case Modified:
			modified = append(modified, d)
		}
	}
	return missing, extra, modified
}

func writeTxBegin(b *strings.Builder, d dialect.Dialect) {
	switch d.Kind() {
	case dialect.SQLServer:
		b.WriteString("BEGIN TRANSACTION;\n")
	default:
		b.WriteString("BEGIN;\n")
	}
}

func writeTxCommit(b *strings.Builder, d dialect.Dialect) {
	b.WriteString("COMMIT;\n")
}

func renderInsert(d dialect.Dialect, quotedTable string, disc RowDiscrepancy) (string, error) {
	cols := sortedKeys(disc.SourceRow)
	quotedCols := make([]string, len(cols))
	literals := make([]string, len(cols))
	for i, c := range cols {
		q, err := safesql.QuoteIdentifier(d, c)
		if err != nil {
			return "", err
		}
		quotedCols[i] = q
		literals[i] = renderLiteral(d, disc.SourceRow[c])
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);", quotedTable, strings.Join(quotedCols, ", "), strings.Join(literals, ", ")), nil
}

func renderDelete(d dialect.Dialect, quotedTable string, pkColumns []string, disc RowDiscrepancy) (string, error) {
	where, err := renderPKPredicate(d, pkColumns, disc.PrimaryKey)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s;", quotedTable, where), nil
}

func renderUpdate(d dialect.Dialect, quotedTable string, pkColumns []string, disc RowDiscrepancy) (string, error) {
	sets := make([]string, len(disc.ModifiedColumns))
	for i, c := range disc.ModifiedColumns {
		q, err := safesql.QuoteIdentifier(d, c)
		if err != nil {
			return "", err
		}
		sets[i] = fmt.Sprintf("%s = %s", q, renderLiteral(d, disc.SourceRow[c]))
	}
	where, err := renderPKPredicate(d, pkColumns, disc.PrimaryKey)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s;", quotedTable, strings.Join(sets, ", "), where), nil
}

func renderPKPredicate(d dialect.Dialect, pkColumns []string, pk map[string]any) (string, error) {
	clauses := make([]string, len(pkColumns))
	for i, c := range pkColumns {
		q, err := safesql.QuoteIdentifier(d, c)
		if err != nil {
			return "", err
		}
		clauses[i] = fmt.Sprintf("%s = %s", q, renderLiteral(d, pk[c]))
	}
	return strings.Join(clauses, " AND "), nil
}

// renderLiteral renders v as a SQL literal in d's dialect, per spec.md
// §4.5: NULL for nil, single-quoted-doubled for strings, TRUE/FALSE or
// 1/0 for booleans by dialect, decimal for numbers, and a dialect-native
// timestamp format for time.Time.
func renderLiteral(d dialect.Dialect, v any) string {
	if v == nil {
		return "NULL"
	}
	switch val := v.(type) {
	case bool:
		if d.Kind() == dialect.SQLServer {
			if val {
				return "1"
			}
			return "0"
		}
		if val {
			return "TRUE"
		}
		return "FALSE"
	case []byte:
		return quoteStringLiteral(string(val))
	case string:
		return quoteStringLiteral(val)
	case time.Time:
		return renderTimestampLiteral(d, val)
	case int, int32, int64:
		return fmt.Sprintf("%d", val)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 64)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return quoteStringLiteral(fmt.Sprintf("%v", val))
	}
}

func quoteStringLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func renderTimestampLiteral(d dialect.Dialect, t time.Time) string {
	if d.Kind() == dialect.SQLServer {
		return quoteStringLiteral(t.Format("2006-01-02 15:04:05"))
	}
	return quoteStringLiteral(t.Format(time.RFC3339))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
