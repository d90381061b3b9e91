package reconciler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// filesystemHostile mirrors pkg/incremental's character set for mapping
// a table name into a safe file name component.
const filesystemHostile = `/\:*?"<>|`

func sanitizeScriptName(table string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(filesystemHostile, r) {
			return '_'
		}
		return r
	}, table)
}

// writeFileAtomic writes data to path via a temp-file-then-rename, the
// same pattern pkg/incremental uses for checksum state.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("reconciler: creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("reconciler: writing temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("reconciler: closing temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("reconciler: renaming temp file to %s: %w", path, err)
	}
	return nil
}
