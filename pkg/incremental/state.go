// Package incremental implements the per-table checksum state store and
// the delta-checksum operation that amortizes checksum work across runs
// using a per-row change-tracking column.
//
// Grounded on original_source/src/reconciliation/incremental/state.py
// (state shape {table, checksum, row_count, last_run, mode}, full-on-
// first-run then delta-thereafter) and on the teacher's construct-then-
// persist idiom. Per spec.md §9 Open Question (a), only the stricter of
// the source's two historical filename-sanitization variants is kept.
package incremental

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Mode identifies whether a ChecksumState was produced by a full or
// incremental (delta) checksum run.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// ChecksumState is the persisted record for one table.
type ChecksumState struct {
	Table     string    `json:"table"`
	Checksum  string    `json:"checksum"`
	RowCount  int64     `json:"row_count"`
	LastRun   time.Time `json:"last_run"`
	Mode      Mode      `json:"mode"`
}

// filesystemHostile is the set of characters spec.md §3 requires mapped
// to "_" in a state file name.
const filesystemHostile = `/\:*?"<>|`

// sanitizeFilename maps every filesystem-hostile character in table to
// "_". This is the stricter of the original implementation's two
// historical sanitizers (spec.md §9(a)).
func sanitizeFilename(table string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(filesystemHostile, r) {
			return '_'
		}
		return r
	}, table)
}

// Store is a directory of per-table checksum-state files.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir. dir is created if it does not
// exist.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("incremental: creating state dir %s: %w", dir, err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(table string) string {
	return filepath.Join(s.Dir, sanitizeFilename(table)+".json")
}

// Load returns the persisted state for table, or (nil, nil) if there is
// none. A missing file, a file that cannot be read, and a file that does
// not parse as JSON all yield (nil, nil), so callers treat each as "no
// prior state". Load does not tell these cases apart and logs nothing.
func (s *Store) Load(table string) (*ChecksumState, error) {
	data, err := os.ReadFile(s.path(table))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil //nolint:nilerr // IO failure degrades to "no prior state", per spec.md §7 IO taxonomy
	}
	var st ChecksumState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, nil //nolint:nilerr // malformed file treated as absent, per spec.md §4.4
	}
	return &st, nil
}

// Save writes state for table atomically: write to a temp file in the
// same directory, then rename over the destination. A write failure
// raises and no partial file is left, per spec.md §4.4.
func (s *Store) Save(table, checksum string, rowCount int64, mode Mode, lastRun time.Time) error {
	st := ChecksumState{
		Table:    table,
		Checksum: checksum,
		RowCount: rowCount,
		LastRun:  lastRun,
		Mode:     mode,
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("incremental: marshaling state for %s: %w", table, err)
	}

	dest := s.path(table)
	tmp, err := os.CreateTemp(s.Dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("incremental: creating temp state file for %s: %w", table, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("incremental: writing temp state file for %s: %w", table, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("incremental: closing temp state file for %s: %w", table, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("incremental: renaming state file for %s: %w", table, err)
	}
	return nil
}

// LastRunTimestamp returns the ISO-second-precision last-run time
// recorded for table, satisfying the save/load idempotence property of
// spec.md §8.
func (s *Store) LastRunTimestamp(table string) (time.Time, bool, error) {
	st, err := s.Load(table)
	if err != nil {
		return time.Time{}, false, err
	}
	if st == nil {
		return time.Time{}, false, nil
	}
	return st.LastRun.Truncate(time.Second), true, nil
}
