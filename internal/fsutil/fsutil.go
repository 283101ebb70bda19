// Package fsutil provides the folder capability used when extracting,
// archiving and replacing model files.
package fsutil

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/born-ml/tftransform/internal/ctxlog"
)

// Folders is the file management capability the persistence layer depends on.
type Folders interface {
	CreateFolder(path string) error
	DeleteFolder(ctx context.Context, path string) error
	CopyFile(src, dst string) error
}

// OS implements Folders on the local file system.
type OS struct {
	// Retries is how many extra attempts DeleteFolder makes after a failure.
	Retries int
	// Backoff is the delay before the first retry; it doubles on each attempt.
	Backoff time.Duration
}

// Default returns the OS capability with the retry policy used for temp folders.
func Default() *OS {
	return &OS{Retries: 3, Backoff: 50 * time.Millisecond}
}

// CreateFolder creates path and any missing parents.
func (o *OS) CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

// DeleteFolder removes path recursively, retrying on failure since files may
// still be held open by the engine for a short while after a session closes.
// Cancelling ctx stops the retries and returns the context's error.
func (o *OS) DeleteFolder(ctx context.Context, path string) error {
	logger := ctxlog.FromContext(ctx)
	delay := o.Backoff
	var err error
	for attempt := 0; attempt <= o.Retries; attempt++ {
		if err = os.RemoveAll(path); err == nil {
			return nil
		}
		logger.Debug("Folder deletion failed, retrying.", "path", path, "attempt", attempt+1, "error", err)
		if attempt == o.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to delete folder %s: %w", path, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("failed to delete folder %s: %w", path, err)
}

// CopyFile copies src to dst, creating or truncating dst.
func (o *OS) CopyFile(src, dst string) (err error) {
	//nolint:gosec // G304: paths come from the model location, which is caller supplied
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	//nolint:gosec // G304: see above
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}

// ListFiles returns the regular files directly inside dir, sorted by name.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
		}
		return false, err
	}
	return info.IsDir(), nil
}
