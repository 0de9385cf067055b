package roleio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type requesterSnapshot struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	RequestID int    `json:"request_id"`
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requester.json")
	want := requesterSnapshot{ID: 1, Name: "alice", RequestID: 7}

	require.NoError(t, Save(path, want))
	require.True(t, Exists(path))

	var got requesterSnapshot
	require.NoError(t, Load(path, &got))
	require.Equal(t, want, got)
}

func TestSaveLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "provider.json")
	require.NoError(t, Save(path, requesterSnapshot{ID: 2}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "provider.json", entries[0].Name())
}

func TestExistsFalseForMissingFile(t *testing.T) {
	require.False(t, Exists(filepath.Join(t.TempDir(), "nope.json")))
}

func TestLoadCorruptSnapshotErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var got requesterSnapshot
	err := Load(path, &got)
	require.Error(t, err)
}

func TestSaveOverwritesExistingSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requester.json")
	require.NoError(t, Save(path, requesterSnapshot{ID: 1, Name: "alice"}))
	require.NoError(t, Save(path, requesterSnapshot{ID: 1, Name: "alice2"}))

	var got requesterSnapshot
	require.NoError(t, Load(path, &got))
	require.Equal(t, "alice2", got.Name)
}
