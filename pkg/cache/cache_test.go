package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	Email string
	Name  string
}

func TestDetectorRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.json")

	d := NewDetector(path)
	require.True(t, d.HasChanged("user", "alice", record{Email: "a@example.com", Name: "Alice"}))
	require.False(t, d.HasChanged("user", "alice", record{Email: "a@example.com", Name: "Alice"}))
	require.True(t, d.HasChanged("user", "alice", record{Email: "new@example.com", Name: "Alice"}))
	require.NoError(t, d.Commit())

	// a fresh detector loads the persisted hashes
	d2 := NewDetector(path)
	require.False(t, d2.HasChanged("user", "alice", record{Email: "new@example.com", Name: "Alice"}))
	require.True(t, d2.HasChanged("user", "bob", record{Email: "b@example.com"}))
}

func TestMarkDeletedForgetsObject(t *testing.T) {
	d := NewDetector(filepath.Join(t.TempDir(), "hashes.json"))
	require.True(t, d.HasChanged("user", "alice", record{Name: "Alice"}))
	d.MarkDeleted("user", "alice")
	require.True(t, d.HasChanged("user", "alice", record{Name: "Alice"}))
}

func TestClear(t *testing.T) {
	d := NewDetector(filepath.Join(t.TempDir(), "hashes.json"))
	require.True(t, d.HasChanged("course", "c1", record{Name: "X"}))
	d.Clear()
	require.True(t, d.HasChanged("course", "c1", record{Name: "X"}))
}

func TestMissingFileStartsEmpty(t *testing.T) {
	d := NewDetector(filepath.Join(t.TempDir(), "does", "not", "exist.json"))
	require.True(t, d.HasChanged("user", "x", record{}))
	require.NoError(t, d.Commit())
}
