package main

import (
	"os"
	"path/filepath"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"

	"github.com/born-ml/tftransform/internal/ctxlog"
	"github.com/born-ml/tftransform/internal/engine"
	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/fsutil"
	"github.com/born-ml/tftransform/internal/modelio"
	"github.com/born-ml/tftransform/internal/serialization"
)

func (a *app) unpackCmd() *commander.Command {
	var out string
	cmd := &commander.Command{
		UsageLine: "unpack <options> <container>",
		Short:     "extracts the model stored in a container",
		Long: `
extracts a container into a directory: a saved model is written with its
variables layout, a frozen graph as graph.pb

	$ tftransform unpack -o <dir> model.tfxm

`,
		Flag: *flag.NewFlagSet("unpack", flag.ContinueOnError),
	}
	cmd.Flag.StringVar(&out, "o", "", "Output directory")
	cmd.Run = func(_ *commander.Command, args []string) error {
		if len(args) != 1 || out == "" {
			return errs.New(errs.ErrConfig, "unpack", "", "usage: unpack -o <dir> <container>")
		}
		ctx := a.context()
		folders := fsutil.Default()

		loaded, err := modelio.LoadFile(ctx, args[0], folders)
		if err != nil {
			return err
		}
		if loaded.Temp {
			defer func() {
				if err := folders.DeleteFolder(ctx, loaded.Dir); err != nil {
					ctxlog.FromContext(ctx).Warn("Failed to delete model folder.", "path", loaded.Dir, "error", err)
				}
			}()
		}

		if err := folders.CreateFolder(out); err != nil {
			return errs.Wrap(errs.ErrIO, "unpack", out, err)
		}
		var written []string
		if loaded.Frozen {
			dst := filepath.Join(out, serialization.GraphEntry)
			if err := os.WriteFile(dst, loaded.GraphDef, 0o600); err != nil {
				return errs.Wrap(errs.ErrIO, "unpack", dst, err)
			}
			written = append(written, dst)
		} else {
			for _, rel := range engine.SavedModelFiles() {
				dst := filepath.Join(out, filepath.FromSlash(rel))
				if err := folders.CreateFolder(filepath.Dir(dst)); err != nil {
					return errs.Wrap(errs.ErrIO, "unpack", dst, err)
				}
				if err := folders.CopyFile(filepath.Join(loaded.Dir, filepath.FromSlash(rel)), dst); err != nil {
					return errs.Wrap(errs.ErrIO, "unpack", dst, err)
				}
				written = append(written, dst)
			}
		}

		for _, p := range written {
			a.printf("%s\n", p)
		}
		ctxlog.FromContext(ctx).Info("Unpacked model.", "container", args[0], "dir", out, "frozen", loaded.Frozen,
			"inputs", loaded.Inputs, "outputs", loaded.Outputs)
		return nil
	}
	return cmd
}
