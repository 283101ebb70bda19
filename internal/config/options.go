// Package config holds the options that bind a TensorFlow graph to pipeline
// columns, and loads them from HCL files.
package config

import (
	"fmt"
	"strings"

	"github.com/born-ml/tftransform/internal/errs"
)

// Defaults.
const (
	DefaultBatchSize             = 64
	DefaultBatchDimension        = 1
	DefaultEpochs                = 5
	DefaultLearningRate          = 0.01
	DefaultSaveLocationOperation = "save/Const"
	DefaultSaveOperation         = "save/control_dependency"
)

// Options configures a transform. It is passed explicitly at construction,
// so no setting is shared between transform instances.
type Options struct {
	// ModelLocation is a frozen graph file or a saved-model directory.
	ModelLocation string
	// InputColumns are the graph input tensor names, bound 1:1 and in order to pipeline columns.
	InputColumns []string
	// SourceColumns optionally names the pipeline columns feeding InputColumns.
	// When empty each input reads the column with the same name as its tensor.
	SourceColumns []string
	// OutputColumns are the graph output tensor names, each exposed as an output column.
	OutputColumns []string

	// BatchSize is the training batch boundary.
	BatchSize int
	// BatchDimension replaces an unknown leading input dimension when describing
	// graph inputs. Inference feeds one row per run, so only 1 is accepted.
	BatchDimension int
	// AddBatchDimensionInputs prepends an unknown batch axis to declared input shapes.
	AddBatchDimensionInputs bool

	// ReTrain selects the training path before the transform is returned.
	ReTrain bool
	// Epochs bounds the training outer loop.
	Epochs int
	// LabelColumn is the pipeline column holding the supervised target.
	LabelColumn string
	// TensorFlowLabel is the graph operation the label is fed to.
	TensorFlowLabel string
	// OptimizationOperation is the training step target. Required for training.
	OptimizationOperation string
	// LossOperation and MetricOperation are fetched on each step when set.
	LossOperation   string
	MetricOperation string
	// LearningRateOperation receives LearningRate as a scalar float32 when set.
	LearningRateOperation string
	LearningRate          float32
	// SaveLocationOperation and SaveOperation persist the graph variables.
	SaveLocationOperation string
	SaveOperation         string
}

// Default returns Options with every default applied.
func Default() Options {
	return Options{}.WithDefaults()
}

// WithDefaults returns a copy of o with zero-valued settings replaced by their defaults.
func (o Options) WithDefaults() Options {
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchDimension == 0 {
		o.BatchDimension = DefaultBatchDimension
	}
	if o.Epochs == 0 {
		o.Epochs = DefaultEpochs
	}
	if o.LearningRate == 0 {
		o.LearningRate = DefaultLearningRate
	}
	if o.SaveLocationOperation == "" {
		o.SaveLocationOperation = DefaultSaveLocationOperation
	}
	if o.SaveOperation == "" {
		o.SaveOperation = DefaultSaveOperation
	}
	if o.LabelColumn != "" && o.TensorFlowLabel == "" {
		o.TensorFlowLabel = o.LabelColumn
	}
	return o
}

// Source returns the pipeline column name feeding input i.
func (o Options) Source(i int) string {
	if i < len(o.SourceColumns) && o.SourceColumns[i] != "" {
		return o.SourceColumns[i]
	}
	return o.InputColumns[i]
}

// Validate checks the settings needed to bind the graph for inference.
func (o Options) Validate() error {
	if strings.TrimSpace(o.ModelLocation) == "" {
		return errs.New(errs.ErrConfig, "validate", "model_location", "model location is required")
	}
	if err := checkNames("input_columns", o.InputColumns); err != nil {
		return err
	}
	if err := checkNames("output_columns", o.OutputColumns); err != nil {
		return err
	}
	if len(o.SourceColumns) > 0 && len(o.SourceColumns) != len(o.InputColumns) {
		return errs.New(errs.ErrConfig, "validate", "source_columns",
			"got %d source columns for %d inputs", len(o.SourceColumns), len(o.InputColumns))
	}
	if o.BatchSize < 0 {
		return errs.New(errs.ErrConfig, "validate", "batch_size", "must be positive, got %d", o.BatchSize)
	}
	if o.BatchDimension < 0 || o.BatchDimension > 1 {
		return errs.New(errs.ErrConfig, "validate", "batch_dimension", "inference feeds one row per run, got %d", o.BatchDimension)
	}
	return nil
}

// ValidateTraining checks the additional settings needed by the training path.
func (o Options) ValidateTraining() error {
	if err := o.Validate(); err != nil {
		return err
	}
	required := []struct{ key, value string }{
		{"label_column", o.LabelColumn},
		{"tensorflow_label", o.TensorFlowLabel},
		{"optimization_operation", o.OptimizationOperation},
		{"save_location_operation", o.SaveLocationOperation},
		{"save_operation", o.SaveOperation},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return errs.New(errs.ErrConfig, "validate", r.key, "required for training")
		}
	}
	if o.BatchSize <= 0 {
		return errs.New(errs.ErrConfig, "validate", "batch_size", "must be positive, got %d", o.BatchSize)
	}
	if o.Epochs <= 0 {
		return errs.New(errs.ErrConfig, "validate", "epochs", "must be positive, got %d", o.Epochs)
	}
	return nil
}

func checkNames(key string, names []string) error {
	if len(names) == 0 {
		return errs.New(errs.ErrConfig, "validate", key, "at least one name is required")
	}
	seen := make(map[string]bool, len(names))
	for i, n := range names {
		if strings.TrimSpace(n) == "" {
			return errs.New(errs.ErrConfig, "validate", key, "name at index %d is blank", i)
		}
		if seen[n] {
			return errs.New(errs.ErrConfig, "validate", key, "duplicate name %q", n)
		}
		seen[n] = true
	}
	return nil
}

// String summarizes the binding for logs.
func (o Options) String() string {
	return fmt.Sprintf("model=%s inputs=%v outputs=%v retrain=%t", o.ModelLocation, o.InputColumns, o.OutputColumns, o.ReTrain)
}
