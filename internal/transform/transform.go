// Package transform runs a TensorFlow graph as a row-wise pipeline transform.
//
// A Transform owns the engine session and the binding of the configured
// input and output tensors. Mappers created from it bind those inputs to a
// concrete input schema and expose the outputs as new columns, running the
// graph once per row. Fit optionally re-trains the graph on the input rows
// before the transform is returned.
package transform

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/born-ml/tftransform/internal/binder"
	"github.com/born-ml/tftransform/internal/config"
	"github.com/born-ml/tftransform/internal/ctxlog"
	"github.com/born-ml/tftransform/internal/dataview"
	"github.com/born-ml/tftransform/internal/engine"
	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/fsutil"
	"github.com/born-ml/tftransform/internal/modelio"
	"github.com/born-ml/tftransform/internal/training"
)

// Option configures a Transform.
type Option func(*options)

type options struct {
	folders  fsutil.Folders
	progress func(training.EpochReport)
}

// WithFolders sets the folder capability used for temporary extractions and
// variable replacement. The default is fsutil.Default().
func WithFolders(f fsutil.Folders) Option {
	return func(o *options) {
		o.folders = f
	}
}

// WithProgress sets a callback invoked after every training epoch.
func WithProgress(fn func(training.EpochReport)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.folders == nil {
		o.folders = fsutil.Default()
	}
	return o
}

// Transform is a loaded graph bound to its configured inputs and outputs.
// Close must be called to release the session.
type Transform struct {
	opts    config.Options
	sess    engine.Session
	binding *binder.GraphBinding
	model   modelio.Model
	// temp reports that model.Dir was extracted from a container and is owned here.
	temp     bool
	folders  fsutil.Folders
	progress func(training.EpochReport)
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Load loads the model at opts.ModelLocation, a frozen graph file or a
// saved-model directory, and binds the configured tensors. No training is
// done; see Fit.
func Load(ctx context.Context, eng engine.Engine, opts config.Options, options ...Option) (*Transform, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	dir, err := fsutil.IsDir(opts.ModelLocation)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Wrap(errs.ErrConfig, "load", opts.ModelLocation, err)
		}
		return nil, errs.Wrap(errs.ErrIO, "load", opts.ModelLocation, err)
	}

	m := modelio.Model{Inputs: opts.InputColumns, Outputs: opts.OutputColumns}
	if dir {
		m.Dir = opts.ModelLocation
	} else {
		//nolint:gosec // G304: model location is user configuration
		def, err := os.ReadFile(opts.ModelLocation)
		if err != nil {
			return nil, errs.Wrap(errs.ErrIO, "load", opts.ModelLocation, err)
		}
		m.Frozen, m.GraphDef = true, def
	}
	return open(ctx, eng, opts, m, false, newOptions(options))
}

// LoadContainer restores a transform saved with Save. The input and output
// names stored in the container replace those of opts; ModelLocation is set
// to path. A saved model is extracted into a temporary directory that Close
// deletes.
func LoadContainer(ctx context.Context, eng engine.Engine, path string, opts config.Options, options ...Option) (*Transform, error) {
	o := newOptions(options)
	loaded, err := modelio.LoadFile(ctx, path, o.folders)
	if err != nil {
		return nil, err
	}

	opts.ModelLocation = path
	opts.InputColumns = loaded.Inputs
	opts.OutputColumns = loaded.Outputs
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		discard(ctx, o.folders, loaded)
		return nil, err
	}
	return open(ctx, eng, opts, loaded.Model, loaded.Temp, o)
}

func discard(ctx context.Context, folders fsutil.Folders, loaded *modelio.Loaded) {
	if !loaded.Temp {
		return
	}
	if err := folders.DeleteFolder(ctx, loaded.Dir); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to delete model folder.", "path", loaded.Dir, "error", err)
	}
}

// open starts a session on m and binds the configured tensors. On failure
// the session and any temporary directory are released.
func open(ctx context.Context, eng engine.Engine, opts config.Options, m modelio.Model, temp bool, o *options) (*Transform, error) {
	logger := ctxlog.FromContext(ctx)
	t := &Transform{
		opts:     opts,
		model:    m,
		temp:     temp,
		folders:  o.folders,
		progress: o.progress,
		logger:   logger,
	}

	var err error
	if m.Frozen {
		t.sess, err = eng.LoadFrozen(m.GraphDef)
	} else {
		t.sess, err = eng.LoadSavedModel(m.Dir)
	}
	if err != nil {
		t.release()
		return nil, errs.Wrap(errs.ErrEngine, "load", opts.ModelLocation, err)
	}

	t.binding, err = binder.NewGraphBinding(t.sess, opts.InputColumns, opts.OutputColumns, binder.Options{
		BatchDimension:    opts.BatchDimension,
		AddBatchDimension: opts.AddBatchDimensionInputs,
	})
	if err != nil {
		_ = t.Close()
		return nil, err
	}

	logger.Info("Loaded model.",
		"location", opts.ModelLocation,
		"frozen", m.Frozen,
		"inputs", opts.InputColumns,
		"outputs", opts.OutputColumns)
	return t, nil
}

// Fit loads the model like Load and, when opts.ReTrain is set, re-trains it
// on the rows of view before returning. The training report is nil when no
// training was requested.
//
// When training completes but the variable files cannot be replaced, Fit
// returns the trained Transform with the report and an errs.ErrIO. The
// caller owns the Transform and may retry with SaveVariables.
func Fit(ctx context.Context, eng engine.Engine, opts config.Options, view dataview.View, options ...Option) (*Transform, *training.Report, error) {
	t, err := Load(ctx, eng, opts, options...)
	if err != nil {
		return nil, nil, err
	}
	if !t.opts.ReTrain {
		return t, nil, nil
	}
	report, err := t.Train(ctx, view)
	if err != nil {
		if report != nil && errors.Is(err, errs.ErrIO) {
			return t, report, err
		}
		_ = t.Close()
		return nil, report, err
	}
	return t, report, nil
}

// Train re-trains the graph on the rows of view and replaces the variable
// files of the model directory. Frozen graphs cannot be trained.
func (t *Transform) Train(ctx context.Context, view dataview.View) (*training.Report, error) {
	return training.Train(ctx, view, t.params())
}

// SaveVariables writes the session's current variables over those of the
// model directory, archiving the previous files, and returns the archive
// folder. Frozen graphs have no variables to save.
func (t *Transform) SaveVariables(ctx context.Context) (string, error) {
	return training.SaveVariables(ctx, t.params())
}

func (t *Transform) params() training.Params {
	return training.Params{
		Session:  t.sess,
		Binding:  t.binding,
		Options:  t.opts,
		ModelDir: t.model.Dir,
		Folders:  t.folders,
		Progress: t.progress,
	}
}

// Options returns the effective options, defaults applied.
func (t *Transform) Options() config.Options {
	return t.opts
}

// Binding returns the resolved graph inputs and outputs.
func (t *Transform) Binding() *binder.GraphBinding {
	return t.binding
}

// Frozen reports whether the graph has its parameters baked in.
func (t *Transform) Frozen() bool {
	return t.model.Frozen
}

// Save writes the model and its input and output names to w.
func (t *Transform) Save(w io.Writer) error {
	return modelio.Save(w, &t.model)
}

// SaveFile writes the model container to path.
func (t *Transform) SaveFile(path string) error {
	return modelio.SaveFile(path, &t.model)
}

// Close releases the session and deletes a temporary model directory.
// Only the first call has an effect. Failing to delete the directory is
// logged, not returned.
func (t *Transform) Close() error {
	t.closeOnce.Do(func() {
		if t.sess != nil {
			if err := t.sess.Close(); err != nil {
				t.closeErr = errs.Wrap(errs.ErrEngine, "close", t.opts.ModelLocation, err)
			}
		}
		t.release()
	})
	return t.closeErr
}

func (t *Transform) release() {
	if !t.temp {
		return
	}
	if err := t.folders.DeleteFolder(context.Background(), t.model.Dir); err != nil {
		t.logger.Warn("Failed to delete model folder.", "path", t.model.Dir, "error", err)
		return
	}
	t.logger.Debug("Deleted model folder.", "path", t.model.Dir)
}
