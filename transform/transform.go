// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package transform runs TensorFlow graphs as row-wise transforms over
// columnar data.
//
// Each input row's columns are marshalled into tensors, fed through a loaded
// session, and the output tensors are unpacked back into new columns.
// Un-frozen (saved model) graphs can also be re-trained on the input rows.
//
// # Example Usage
//
//	opts := transform.Options{
//	    ModelLocation: "models/mnist",
//	    InputColumns:  []string{"pixels"},
//	    OutputColumns: []string{"probs"},
//	}
//
//	tr, err := transform.Load(ctx, eng, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tr.Close()
//
//	mapped, err := tr.Apply(rows) // rows is any transform.View
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cur, _ := mapped.Open(nil)
//	defer cur.Close()
//	probs, _ := mapped.Schema().Lookup("probs")
//	var p []float32
//	for cur.Next() {
//	    if err := cur.Scan(probs, &p); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Shapes
//
// The leading dimension of every graph input is the batch axis. Inference
// feeds one row at a time; a flat vector column is reshaped to the declared
// input shape, inferring unknown dimensions from the column's value count.
// Output columns drop an unknown batch axis and become variable-length
// vectors when another dimension is unknown.
//
// # Re-training
//
// With Options.ReTrain set, Fit runs Options.Epochs passes over the rows in
// batches of Options.BatchSize, then replaces the model's variable files,
// archiving the previous ones. Rows that do not fill a last batch are
// discarded with a warning. When only the file replacement fails, Fit still
// returns the trained Transform together with an ErrIO, and
// (*Transform).SaveVariables retries it without training again.
package transform

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/born-ml/tftransform/internal/config"
	"github.com/born-ml/tftransform/internal/dataview"
	"github.com/born-ml/tftransform/internal/dataview/arrowview"
	"github.com/born-ml/tftransform/internal/engine"
	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/fsutil"
	internal "github.com/born-ml/tftransform/internal/transform"
	"github.com/born-ml/tftransform/internal/training"
)

// Transform is a loaded graph bound to its configured inputs and outputs.
type Transform = internal.Transform

// Mapper binds a Transform to one input schema.
type Mapper = internal.Mapper

// MappedView is an input view with the output columns appended.
type MappedView = internal.MappedView

// Option configures a Transform.
type Option = internal.Option

// Options configures a transform. See config.Options for every field.
type Options = config.Options

// Engine loads graphs into sessions.
type Engine = engine.Engine

// View is a source of rows; Cursor iterates them.
type (
	View   = dataview.View
	Cursor = dataview.Cursor
)

// Report and EpochReport summarize a training run.
type (
	Report      = training.Report
	EpochReport = training.EpochReport
)

// Folders is the file management capability used for model files.
type Folders = fsutil.Folders

// Error kinds. Use errors.Is to classify an error returned by this package.
var (
	ErrConfig        = errs.ErrConfig
	ErrSchema        = errs.ErrSchema
	ErrTypeMismatch  = errs.ErrTypeMismatch
	ErrShapeMismatch = errs.ErrShapeMismatch
	ErrUnsupported   = errs.ErrUnsupported
	ErrDecode        = errs.ErrDecode
	ErrIO            = errs.ErrIO
	ErrEngine        = errs.ErrEngine
)

// DefaultOptions returns Options with every default applied.
func DefaultOptions() Options {
	return config.Default()
}

// LoadOptions reads Options from an HCL file.
//
// Example:
//
//	model_location = "${env.MODEL_DIR}/mnist"
//	input_columns  = ["pixels"]
//	output_columns = ["probs"]
func LoadOptions(path string) (Options, error) {
	return config.LoadFile(path)
}

// Load loads the model at opts.ModelLocation, a frozen graph file or a
// saved-model directory, and binds the configured tensors.
func Load(ctx context.Context, eng Engine, opts Options, options ...Option) (*Transform, error) {
	return internal.Load(ctx, eng, opts, options...)
}

// LoadContainer restores a transform written with (*Transform).SaveFile.
func LoadContainer(ctx context.Context, eng Engine, path string, opts Options, options ...Option) (*Transform, error) {
	return internal.LoadContainer(ctx, eng, path, opts, options...)
}

// Fit loads the model and, when opts.ReTrain is set, re-trains it on view.
func Fit(ctx context.Context, eng Engine, opts Options, view View, options ...Option) (*Transform, *Report, error) {
	return internal.Fit(ctx, eng, opts, view, options...)
}

// WithProgress sets a callback invoked after every training epoch.
func WithProgress(fn func(EpochReport)) Option {
	return internal.WithProgress(fn)
}

// WithFolders replaces the folder capability used for model files.
func WithFolders(f Folders) Option {
	return internal.WithFolders(f)
}

// ArrowView is a View over Apache Arrow records.
type ArrowView = arrowview.View

// NewArrowView returns a View over records sharing schema. Release it when done.
func NewArrowView(schema *arrow.Schema, records ...arrow.Record) (*ArrowView, error) {
	return arrowview.New(schema, records...)
}

// NewMockEngine returns the pure-Go reference engine used in tests and examples.
func NewMockEngine() *engine.MockEngine {
	return engine.NewMockEngine()
}
