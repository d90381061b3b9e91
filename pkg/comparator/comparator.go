// Package comparator implements the three core comparison operations over
// a single (connection, table) pair: row count, full checksum, and
// chunked checksum. It generalizes the teacher's checksum.Checker
// (block-spirit/pkg/checksum/checker_test.go — constructor validation,
// NewCheckerDefaultConfig convention) and the row encoding rule from
// original_source/src/reconciliation/compare/checksum.py
// ("|".join(str(val) if val is not None else "NULL" ...) + sha256) from a
// single-database binlog-aware checker into a stateless, dialect-agnostic
// comparator used identically against both the source and the target.
package comparator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/dbsync/reconcile/pkg/dbconn"
	"github.com/dbsync/reconcile/pkg/dialect"
	"github.com/dbsync/reconcile/pkg/metrics"
	"github.com/dbsync/reconcile/pkg/retry"
	"github.com/dbsync/reconcile/pkg/safesql"
)

// DefaultChunkSize is the page size used by ChunkedChecksum, per
// spec.md §4.3.
const DefaultChunkSize = 10000

// EmptyChecksum is the checksum of a table with zero rows: the SHA-256
// digest of the empty byte string.
var EmptyChecksum = hex.EncodeToString(sha256.New().Sum(nil))

// Comparator performs row-count and checksum operations against one
// database connection for one table at a time. A Reconciler holds two
// Comparators, one per side of the table pair.
type Comparator struct {
	Exec      dbconn.QueryExecutor
	Dialect   dialect.Dialect
	Retry     *retry.Config
	ChunkSize int
}

// New returns a Comparator with DefaultChunkSize and retry.DefaultConfig.
// The retry config's OnRetry reports every retried attempt to
// metrics.RetriesTotal, so backoff activity is visible without every
// caller having to supply its own hook.
func New(exec dbconn.QueryExecutor, d dialect.Dialect) *Comparator {
	cfg := retry.DefaultConfig()
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		metrics.Get().RetriesTotal.Inc()
	}
	return &Comparator{
		Exec:      exec,
		Dialect:   d,
		Retry:     cfg,
		ChunkSize: DefaultChunkSize,
	}
}

// RowCount issues SELECT COUNT(*) FROM <quoted table>, wrapped in Retry.
// On any failure not classified as transient it propagates the original
// error.
func (c *Comparator) RowCount(ctx context.Context, table string) (int64, error) {
	quoted, err := safesql.QuoteIdentifier(c.Dialect, table)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoted)
	var count int64
	err = retry.Do(ctx, c.Retry, func(ctx context.Context) error {
		return c.Exec.QueryRowContext(ctx, query).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("comparator: row count for %s: %w", table, err)
	}
	return count, nil
}

// columnList validates and quotes an explicit column list, or returns
// "*" when none is supplied.
func (c *Comparator) columnList(columns []string) (string, error) {
	if len(columns) == 0 {
		return "*", nil
	}
	quoted := make([]string, len(columns))
	for i, col := range columns {
		q, err := safesql.QuoteIdentifier(c.Dialect, col)
		if err != nil {
			return "", err
		}
		quoted[i] = q
	}
	return strings.Join(quoted, ", "), nil
}

// FullChecksum streams every row of table (ordered by orderBy, typically
// the primary key) through the §4.3 row encoding and a single SHA-256
// hasher, returning the final 64-hex digest.
func (c *Comparator) FullChecksum(ctx context.Context, table string, columns []string, orderBy string) (string, error) {
	quotedTable, err := safesql.QuoteIdentifier(c.Dialect, table)
	if err != nil {
		return "", err
	}
	cols, err := c.columnList(columns)
	if err != nil {
		return "", err
	}
	orderExpr, err := c.orderByExpr(orderBy)
	if err != nil {
		return "", err
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", cols, quotedTable, orderExpr)

	hasher := sha256.New()
	err = retry.Do(ctx, c.Retry, func(ctx context.Context) error {
		hasher.Reset()
		rows, err := c.Exec.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		return hashRows(rows, hasher)
	})
	if err != nil {
		return "", fmt.Errorf("comparator: full checksum for %s: %w", table, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// orderByExpr validates an explicit order-by column, falling back to
// ordinal position 1 when none is given (e.g. no primary key found).
func (c *Comparator) orderByExpr(orderBy string) (string, error) {
	if orderBy == "" {
		return "1", nil
	}
	return safesql.QuoteIdentifier(c.Dialect, orderBy)
}

// ChunkedChecksum computes the same hash as FullChecksum but fetches rows
// in pages of c.ChunkSize using the dialect pagination clause, ordered by
// pkColumns (or ordinal 1 if pkColumns is empty). Memory is bounded to one
// page: each page is hashed and discarded before the next is fetched.
func (c *Comparator) ChunkedChecksum(ctx context.Context, table string, columns []string, pkColumns []string) (string, int64, error) {
	quotedTable, err := safesql.QuoteIdentifier(c.Dialect, table)
	if err != nil {
		return "", 0, err
	}
	cols, err := c.columnList(columns)
	if err != nil {
		return "", 0, err
	}
	orderExpr, err := c.orderByList(pkColumns)
	if err != nil {
		return "", 0, err
	}
	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if err := safesql.ValidateNonNegativeInt("chunk_size", chunkSize); err != nil {
		return "", 0, err
	}

	hasher := sha256.New()
	var total int64
	offset := 0
	for {
		base := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", cols, quotedTable, orderExpr)
		if err := safesql.ValidateNonNegativeInt("offset", offset); err != nil {
			return "", 0, err
		}
		query := c.Dialect.Paginate(base, chunkSize, offset)

		var pageRows int64
		var page bytes.Buffer
		err = retry.Do(ctx, c.Retry, func(ctx context.Context) error {
			page.Reset()
			rows, err := c.Exec.QueryContext(ctx, query)
			if err != nil {
				return err
			}
			defer rows.Close()
			n, err := hashRowsCounting(rows, &page)
			pageRows = n
			return err
		})
		if err == nil {
			hasher.Write(page.Bytes())
		}
		if err != nil {
			return "", 0, fmt.Errorf("comparator: chunked checksum for %s at offset %d: %w", table, offset, err)
		}
		total += pageRows
		if pageRows < int64(chunkSize) {
			break
		}
		offset += chunkSize
	}
	return hex.EncodeToString(hasher.Sum(nil)), total, nil
}

func (c *Comparator) orderByList(pkColumns []string) (string, error) {
	if len(pkColumns) == 0 {
		return "1", nil
	}
	quoted := make([]string, len(pkColumns))
	for i, col := range pkColumns {
		q, err := safesql.QuoteIdentifier(c.Dialect, col)
		if err != nil {
			return "", err
		}
		quoted[i] = q
	}
	return strings.Join(quoted, ", "), nil
}

// DiscoverPrimaryKey looks up the primary-key columns for table via the
// dialect-native system catalog. It returns (nil, nil) when no primary
// key is found, signaling callers to fall back to ordinal position 1.
func (c *Comparator) DiscoverPrimaryKey(ctx context.Context, table string) ([]string, error) {
	segments, err := safesql.Validate(table)
	if err != nil {
		return nil, err
	}
	schema, name := "", segments[0]
	if len(segments) == 2 {
		schema, name = segments[0], segments[1]
	}

	var query string
	var args []any
	switch c.Dialect.Kind() {
	case dialect.Postgres:
		if schema == "" {
			schema = "public"
		}
		query = `
			SELECT a.attname
			FROM pg_index i
			JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
			JOIN pg_class c ON c.oid = i.indrelid
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE i.indisprimary AND c.relname = $1 AND n.nspname = $2
			ORDER BY array_position(i.indkey, a.attnum)`
		args = []any{name, schema}
	case dialect.SQLServer:
		if schema == "" {
			schema = "dbo"
		}
		query = `
			SELECT c.name
			FROM sys.indexes i
			JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
			JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
			JOIN sys.tables t ON t.object_id = i.object_id
			JOIN sys.schemas s ON s.schema_id = t.schema_id
			WHERE i.is_primary_key = 1 AND t.name = ? AND s.name = ?
			ORDER BY ic.key_ordinal`
		args = []any{name, schema}
	default:
		return nil, fmt.Errorf("comparator: unsupported dialect for primary key discovery")
	}

	var cols []string
	err = retry.Do(ctx, c.Retry, func(ctx context.Context) error {
		cols = nil
		rows, err := c.Exec.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var col string
			if err := rows.Scan(&col); err != nil {
				return err
			}
			cols = append(cols, col)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("comparator: primary key discovery for %s: %w", table, err)
	}
	return cols, nil
}

// CountResult is produced by a row-count comparison between source and
// target.
type CountResult struct {
	Table          string
	SourceCount    int64
	TargetCount    int64
	Difference     int64
	Match          bool
	TimestampUnix  int64
}

// CompareRowCounts computes the {difference, match} pair from two already
// obtained counts, per spec.md Invariant 1: difference = target - source,
// match iff difference == 0.
func CompareRowCounts(table string, sourceCount, targetCount int64, timestampUnix int64) CountResult {
	diff := targetCount - sourceCount
	return CountResult{
		Table:         table,
		SourceCount:   sourceCount,
		TargetCount:   targetCount,
		Difference:    diff,
		Match:         diff == 0,
		TimestampUnix: timestampUnix,
	}
}

// ChecksumResult is produced by comparing two already-computed checksums.
type ChecksumResult struct {
	Table           string
	SourceChecksum  string
	TargetChecksum  string
	Match           bool
	TimestampUnix   int64
}

// CompareChecksums reports whether two 64-hex checksums match.
func CompareChecksums(table, sourceChecksum, targetChecksum string, timestampUnix int64) ChecksumResult {
	return ChecksumResult{
		Table:          table,
		SourceChecksum: sourceChecksum,
		TargetChecksum: targetChecksum,
		Match:          sourceChecksum == targetChecksum,
		TimestampUnix:  timestampUnix,
	}
}
