package comparator

import (
	"database/sql"
	"hash"
	"io"
	"strings"
	"unicode/utf8"
)

// encodeRow renders one row as "v1|v2|...|vN", where each value is either
// the literal "NULL" for a SQL NULL or the driver's text rendering of the
// value otherwise. sql.RawBytes distinguishes a NULL (nil slice) from an
// empty string (non-nil, zero-length slice), which is exactly the
// distinction spec.md §4.3 requires.
func encodeRow(values []sql.RawBytes) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte('|')
		}
		if v == nil {
			b.WriteString("NULL")
			continue
		}
		b.Write(sanitizeUTF8(v))
	}
	return b.String()
}

// sanitizeUTF8 replaces invalid UTF-8 byte sequences with the Unicode
// replacement character, per spec.md §4.3's tie-break for non-UTF8 bytes
// in text columns.
func sanitizeUTF8(v []byte) []byte {
	if utf8.Valid(v) {
		return v
	}
	return []byte(strings.ToValidUTF8(string(v), "�"))
}

// hashRows streams every row in rows through the §4.3 encoding into
// hasher.
func hashRows(rows *sql.Rows, hasher hash.Hash) error {
	_, err := hashRowsCounting(rows, hasher)
	return err
}

// HashRows streams every row in rows through the §4.3 encoding into
// hasher and returns the number of rows consumed. It is exported so
// pkg/incremental can hash a delta page using the identical encoding
// rule, per spec.md §4.4.
func HashRows(rows *sql.Rows, hasher hash.Hash) (int64, error) {
	return hashRowsCounting(rows, hasher)
}

// hashRowsCounting is hashRows but also returns the number of rows
// consumed, used by ChunkedChecksum to detect a short final page. w need
// only satisfy io.Writer: callers that retry a page write into a
// scratch buffer first and only forward it to the real hasher once the
// page succeeds, so a retried attempt never double-writes into the
// accumulated digest.
func hashRowsCounting(rows *sql.Rows, w io.Writer) (int64, error) {
	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}
	values := make([]sql.RawBytes, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	var n int64
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return n, err
		}
		w.Write([]byte(encodeRow(values)))
		w.Write([]byte{'\n'})
		n++
	}
	return n, rows.Err()
}
