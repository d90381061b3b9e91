package comparator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"math/bits"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dbsync/reconcile/pkg/dialect"
)

func TestEmptyChecksumIsSHA256OfEmptyString(t *testing.T) {
	want := hex.EncodeToString(sha256.New().Sum(nil))
	if EmptyChecksum != want {
		t.Fatalf("EmptyChecksum = %q, want %q", EmptyChecksum, want)
	}
}

func TestEncodeRowDistinguishesNullFromEmptyString(t *testing.T) {
	nullRow := []sql.RawBytes{nil, []byte("2"), []byte("3")}
	emptyRow := []sql.RawBytes{[]byte(""), []byte("2"), []byte("3")}
	if encodeRow(nullRow) == encodeRow(emptyRow) {
		t.Fatal("NULL and empty-string encodings must differ")
	}
	if encodeRow(nullRow) != "NULL|2|3" {
		t.Errorf("encodeRow(null) = %q", encodeRow(nullRow))
	}
	if encodeRow(emptyRow) != "|2|3" {
		t.Errorf("encodeRow(empty) = %q", encodeRow(emptyRow))
	}
}

func TestChecksumDeterministic(t *testing.T) {
	rows1 := [][]sql.RawBytes{{[]byte("1"), []byte("a")}, {[]byte("2"), []byte("b")}}
	rows2 := [][]sql.RawBytes{{[]byte("1"), []byte("a")}, {[]byte("2"), []byte("b")}}
	if hashOf(rows1) != hashOf(rows2) {
		t.Fatal("identical row sequences must produce identical checksums")
	}
}

func TestChecksumOrderSensitive(t *testing.T) {
	rows := [][]sql.RawBytes{{[]byte("1"), []byte("a")}, {[]byte("2"), []byte("b")}}
	reordered := [][]sql.RawBytes{{[]byte("2"), []byte("b")}, {[]byte("1"), []byte("a")}}
	if hashOf(rows) == hashOf(reordered) {
		t.Fatal("reordered rows must produce a different checksum")
	}
}

func TestChecksumAvalanche(t *testing.T) {
	rows := [][]sql.RawBytes{{[]byte("1"), []byte("hello world")}}
	flipped := [][]sql.RawBytes{{[]byte("1"), []byte("hdllo world")}}
	h1 := rawHash(rows)
	h2 := rawHash(flipped)
	diffBits := 0
	for i := range h1 {
		diffBits += bits.OnesCount8(h1[i] ^ h2[i])
	}
	total := len(h1) * 8
	if float64(diffBits)/float64(total) < 0.30 {
		t.Fatalf("single-bit input flip changed only %d/%d digest bits, want >=30%%", diffBits, total)
	}
}

func TestCompareRowCounts(t *testing.T) {
	r := CompareRowCounts("t", 100, 100, 0)
	if !r.Match || r.Difference != 0 {
		t.Errorf("expected match for equal counts, got %+v", r)
	}
	r = CompareRowCounts("t", 1000, 950, 0)
	if r.Match || r.Difference != -50 {
		t.Errorf("expected mismatch difference=-50, got %+v", r)
	}
}

func TestCompareChecksums(t *testing.T) {
	r := CompareChecksums("t", "abc", "abc", 0)
	if !r.Match {
		t.Error("expected match for identical checksums")
	}
	r = CompareChecksums("t", "abc", "def", 0)
	if r.Match {
		t.Error("expected mismatch for differing checksums")
	}
}

func hashOf(rows [][]sql.RawBytes) string {
	return hex.EncodeToString(rawHash(rows))
}

func rawHash(rows [][]sql.RawBytes) []byte {
	h := sha256.New()
	for _, row := range rows {
		h.Write([]byte(encodeRow(row)))
		h.Write([]byte{'\n'})
	}
	return h.Sum(nil)
}

// TestChunkedChecksumRetriedPageDoesNotDoubleHash guards against a page
// retry re-writing already-hashed rows into the running digest: a
// transient failure on the first attempt at a page must not leave any
// trace in the final checksum once the retried attempt succeeds.
func TestChunkedChecksumRetriedPageDoesNotDoubleHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	pg, err := dialect.New(dialect.Postgres)
	if err != nil {
		t.Fatal(err)
	}

	c := New(db, pg)
	c.ChunkSize = 10
	c.Retry.Sleep = func(context.Context, time.Duration) {}

	mock.ExpectQuery(`SELECT \* FROM "t" ORDER BY 1`).
		WillReturnError(errSimulatedConnectionReset{})
	mock.ExpectQuery(`SELECT \* FROM "t" ORDER BY 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("1").AddRow("2"))

	got, rows, err := c.ChunkedChecksum(context.Background(), "t", nil, nil)
	if err != nil {
		t.Fatalf("ChunkedChecksum: %v", err)
	}
	if rows != 2 {
		t.Fatalf("rows = %d, want 2", rows)
	}

	want := hashOf([][]sql.RawBytes{{[]byte("1")}, {[]byte("2")}})
	if got != want {
		t.Errorf("checksum = %q, want %q (retry must not double-hash the page)", got, want)
	}
}

type errSimulatedConnectionReset struct{}

func (errSimulatedConnectionReset) Error() string { return "connection reset by peer" }

func TestSanitizeUTF8ReplacesInvalidBytes(t *testing.T) {
	invalid := []byte{0xff, 0xfe, 'a'}
	out := sanitizeUTF8(invalid)
	if bytes.Equal(out, invalid) {
		t.Fatal("expected invalid UTF-8 bytes to be replaced")
	}
}
