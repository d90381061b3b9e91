package incremental

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dbsync/reconcile/pkg/comparator"
	"github.com/dbsync/reconcile/pkg/dialect"
	"github.com/dbsync/reconcile/pkg/retry"
	"github.com/dbsync/reconcile/pkg/safesql"
)

// DefaultChangeTrackingColumn is the column name assumed to hold a
// per-row change timestamp when the caller does not specify one.
const DefaultChangeTrackingColumn = "updated_at"

// Delta computes (and persists) a checksum scoped to rows newer than the
// last recorded run, per spec.md §4.4:
//
//   - If no prior state exists, a full checksum is computed and persisted
//     with Mode=full.
//   - Otherwise only rows where changeTrackingColumn > last_run are
//     hashed, and state is persisted with Mode=incremental.
//
// The returned checksum is only comparable to another side's delta
// checksum computed over the same aligned last_run; it is not comparable
// to a prior full checksum.
func Delta(ctx context.Context, store *Store, cmp *comparator.Comparator, table, changeTrackingColumn string, pkColumns []string, now time.Time) (checksum string, rowsScanned int64, mode Mode, err error) {
	if changeTrackingColumn == "" {
		changeTrackingColumn = DefaultChangeTrackingColumn
	}

	prior, err := store.Load(table)
	if err != nil {
		return "", 0, "", err
	}
	if prior == nil {
		sum, _, ferr := cmp.ChunkedChecksum(ctx, table, nil, pkColumns)
		if ferr != nil {
			return "", 0, "", ferr
		}
		count, cerr := cmp.RowCount(ctx, table)
		if cerr != nil {
			return "", 0, "", cerr
		}
		if serr := store.Save(table, sum, count, ModeFull, now); serr != nil {
			return "", 0, "", serr
		}
		return sum, count, ModeFull, nil
	}

	sum, count, err := deltaChecksum(ctx, cmp, table, changeTrackingColumn, pkColumns, prior.LastRun)
	if err != nil {
		return "", 0, "", err
	}
	if err := store.Save(table, sum, count, ModeIncremental, now); err != nil {
		return "", 0, "", err
	}
	return sum, count, ModeIncremental, nil
}

// deltaChecksum hashes rows where changeTrackingColumn > since, using a
// bound parameter for since (never string-interpolated), ordered by
// pkColumns.
func deltaChecksum(ctx context.Context, cmp *comparator.Comparator, table, changeTrackingColumn string, pkColumns []string, since time.Time) (string, int64, error) {
	quotedTable, err := safesql.QuoteIdentifier(cmp.Dialect, table)
	if err != nil {
		return "", 0, err
	}
	quotedCol, err := safesql.QuoteIdentifier(cmp.Dialect, changeTrackingColumn)
	if err != nil {
		return "", 0, err
	}
	order := "1"
	if len(pkColumns) > 0 {
		order, err = quoteList(cmp.Dialect, pkColumns)
		if err != nil {
			return "", 0, err
		}
	}
	placeholder := cmp.Dialect.Placeholder(1)
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s > %s ORDER BY %s", quotedTable, quotedCol, placeholder, order)

	hasher := sha256.New()
	var n int64
	err = retry.Do(ctx, cmp.Retry, func(ctx context.Context) error {
		hasher.Reset()
		n = 0
		rows, err := cmp.Exec.QueryContext(ctx, query, since)
		if err != nil {
			return err
		}
		defer rows.Close()
		cnt, err := comparator.HashRows(rows, hasher)
		n = cnt
		return err
	})
	if err != nil {
		return "", 0, fmt.Errorf("incremental: delta checksum for %s: %w", table, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

func quoteList(d dialect.Dialect, cols []string) (string, error) {
	out := make([]string, len(cols))
	for i, c := range cols {
		q, err := safesql.QuoteIdentifier(d, c)
		if err != nil {
			return "", err
		}
		out[i] = q
	}
	s := out[0]
	for _, o := range out[1:] {
		s += ", " + o
	}
	return s, nil
}
