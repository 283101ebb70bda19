package fsutil

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("weights"), 0o600))

	o := Default()
	dst := filepath.Join(dir, "nested", "dst.bin")
	require.NoError(t, o.CreateFolder(filepath.Dir(dst)))
	require.NoError(t, o.CopyFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(got))
}

func TestCopyFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := Default().CopyFile(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestDeleteFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "extract")
	o := &OS{Retries: 1}
	require.NoError(t, o.CreateFolder(filepath.Join(dir, "variables")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "variables", "x"), nil, 0o600))

	require.NoError(t, o.DeleteFolder(context.Background(), dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// Deleting a folder that no longer exists is not an error.
	require.NoError(t, o.DeleteFolder(context.Background(), dir))
}

// dotPath returns a path ending in ".", which RemoveAll always rejects.
func dotPath(t *testing.T) string {
	t.Helper()
	return t.TempDir() + string(filepath.Separator) + "."
}

func TestDeleteFolderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := &OS{Retries: 3, Backoff: time.Hour}
	err := o.DeleteFolder(ctx, dotPath(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeleteFolderGivesUpAfterRetries(t *testing.T) {
	o := &OS{Retries: 2, Backoff: time.Millisecond}
	err := o.DeleteFolder(context.Background(), dotPath(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.Canceled)
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b", "a"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o750))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}, files)
}

func TestIsDir(t *testing.T) {
	dir := t.TempDir()
	ok, err := IsDir(dir)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = IsDir(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}
