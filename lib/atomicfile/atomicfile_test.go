package atomicfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	f, err := New(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("new contents"))
	require.NoError(t, err)
	require.NoError(t, f.Commit())
	require.NoError(t, f.Close())

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new contents", string(blob))
}

func TestCloseDiscards(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out")
	f, err := New(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("junk"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	// the temporary file is cleaned up as well
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCommitAfterClose(t *testing.T) {
	f, err := New(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Error(t, f.Commit())
}
