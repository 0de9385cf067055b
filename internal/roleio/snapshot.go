// Package roleio persists an external role's local recovery snapshot
// (§4.9, §6 "Persisted state layout") as a single JSON document written
// atomically via write-then-rename, so a crash mid-write never leaves a
// corrupt file behind for the next --recover startup to trip over.
package roleio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save atomically writes v as indented JSON to path: it writes to a
// temp file in the same directory first, then renames over path, so a
// reader never observes a partially written snapshot.
func Save(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("roleio: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("roleio: create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("roleio: write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("roleio: sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("roleio: close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("roleio: rename snapshot into place: %w", err)
	}
	return nil
}

// Load reads and decodes the snapshot at path into v. Corrupt JSON is a
// fatal condition per §7 ("corrupt snapshot on recovery") — the caller is
// expected to log and exit rather than guess at partial recovery.
func Load(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("roleio: read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("roleio: corrupt snapshot: %w", err)
	}
	return nil
}

// Exists reports whether a snapshot file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
