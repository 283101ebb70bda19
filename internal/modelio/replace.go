package modelio

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/born-ml/tftransform/internal/ctxlog"
	"github.com/born-ml/tftransform/internal/engine"
	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/fsutil"
)

// ArchivePrefix starts the name of the folder holding replaced variables.
const ArchivePrefix = "variables-"

// ReplaceVariables installs the checkpoint written under prefix as the
// variables of the saved model in dir. The current variable files are first
// copied into a new dir/variables-<uuid> folder, whose path is returned.
// Each file is replaced by renaming a sibling copy over it. When a later file
// fails, the files already replaced are restored from the archive.
func ReplaceVariables(ctx context.Context, dir, prefix string, folders fsutil.Folders) (string, error) {
	varsDir := filepath.Join(dir, engine.VariablesDir)
	archive := filepath.Join(dir, ArchivePrefix+uuid.NewString())

	current, err := fsutil.ListFiles(varsDir)
	if err != nil {
		return "", errs.Wrap(errs.ErrIO, "replace variables", varsDir, err)
	}
	if err := folders.CreateFolder(archive); err != nil {
		return "", errs.Wrap(errs.ErrIO, "replace variables", archive, err)
	}
	for _, f := range current {
		if err := folders.CopyFile(f, filepath.Join(archive, filepath.Base(f))); err != nil {
			return "", errs.Wrap(errs.ErrIO, "archive variables", f, err)
		}
	}

	replacements := []struct{ src, dst string }{
		{prefix + engine.IndexSuffix, filepath.Join(varsDir, engine.VariablesIndexFile)},
		{prefix + engine.DataSuffix, filepath.Join(varsDir, engine.VariablesDataFile)},
	}
	for i, r := range replacements {
		if err := install(r.src, r.dst, folders); err != nil {
			for _, done := range replacements[:i] {
				restore(ctx, archive, done.dst, folders)
			}
			return "", errs.Wrap(errs.ErrIO, "replace variables", r.dst, err)
		}
	}

	ctxlog.FromContext(ctx).Info("Replaced model variables.", "model", dir, "archive", archive)
	return archive, nil
}

// install copies src next to dst and renames the copy over dst.
func install(src, dst string, folders fsutil.Folders) error {
	tmp := dst + ".tmp-" + uuid.NewString()
	if err := folders.CopyFile(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// restore puts back the archived copy of dst, or removes dst when it had none.
func restore(ctx context.Context, archive, dst string, folders fsutil.Folders) {
	logger := ctxlog.FromContext(ctx)
	saved := filepath.Join(archive, filepath.Base(dst))
	if _, err := os.Stat(saved); err != nil {
		if rerr := os.Remove(dst); rerr != nil {
			logger.Error("Failed to roll back variable file.", "path", dst, "error", rerr)
		}
		return
	}
	if err := install(saved, dst, folders); err != nil {
		logger.Error("Failed to roll back variable file.", "path", dst, "archive", archive, "error", err)
	}
}
