package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/born-ml/tftransform/internal/errs"
)

// hclFile represents the top-level structure of a transform file for decoding.
//
//	model_location = "${env.MODEL_DIR}/mnist"
//	input_columns  = ["pixels"]
//	output_columns = ["probs"]
//
//	training {
//	  epochs                 = 5
//	  label_column           = "label"
//	  optimization_operation = "train_op"
//	}
type hclFile struct {
	ModelLocation           string       `hcl:"model_location"`
	InputColumns            []string     `hcl:"input_columns"`
	SourceColumns           []string     `hcl:"source_columns,optional"`
	OutputColumns           []string     `hcl:"output_columns"`
	BatchSize               int          `hcl:"batch_size,optional"`
	BatchDimension          int          `hcl:"batch_dimension,optional"`
	AddBatchDimensionInputs bool         `hcl:"add_batch_dimension_inputs,optional"`
	Training                *hclTraining `hcl:"training,block"`
}

type hclTraining struct {
	Enabled               *bool   `hcl:"enabled,optional"`
	Epochs                int     `hcl:"epochs,optional"`
	LabelColumn           string  `hcl:"label_column"`
	TensorFlowLabel       string  `hcl:"tensorflow_label,optional"`
	OptimizationOperation string  `hcl:"optimization_operation"`
	LossOperation         string  `hcl:"loss_operation,optional"`
	MetricOperation       string  `hcl:"metric_operation,optional"`
	LearningRateOperation string  `hcl:"learning_rate_operation,optional"`
	LearningRate          float64 `hcl:"learning_rate,optional"`
	SaveLocationOperation string  `hcl:"save_location_operation,optional"`
	SaveOperation         string  `hcl:"save_operation,optional"`
}

// LoadFile parses a single HCL file into Options with defaults applied.
func LoadFile(path string) (Options, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return Options{}, errs.Wrap(errs.ErrConfig, "load config", path, diags)
	}
	return decode(file, path)
}

// Parse parses HCL source into Options; filename is only used in diagnostics.
func Parse(src []byte, filename string) (Options, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Options{}, errs.Wrap(errs.ErrConfig, "load config", filename, diags)
	}
	return decode(file, filename)
}

func decode(file *hcl.File, filename string) (Options, error) {
	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &parsed); diags.HasErrors() {
		return Options{}, errs.Wrap(errs.ErrConfig, "load config", filename, diags)
	}

	opts := Options{
		ModelLocation:           parsed.ModelLocation,
		InputColumns:            parsed.InputColumns,
		SourceColumns:           parsed.SourceColumns,
		OutputColumns:           parsed.OutputColumns,
		BatchSize:               parsed.BatchSize,
		BatchDimension:          parsed.BatchDimension,
		AddBatchDimensionInputs: parsed.AddBatchDimensionInputs,
	}
	if tr := parsed.Training; tr != nil {
		opts.ReTrain = tr.Enabled == nil || *tr.Enabled
		opts.Epochs = tr.Epochs
		opts.LabelColumn = tr.LabelColumn
		opts.TensorFlowLabel = tr.TensorFlowLabel
		opts.OptimizationOperation = tr.OptimizationOperation
		opts.LossOperation = tr.LossOperation
		opts.MetricOperation = tr.MetricOperation
		opts.LearningRateOperation = tr.LearningRateOperation
		opts.LearningRate = float32(tr.LearningRate)
		opts.SaveLocationOperation = tr.SaveLocationOperation
		opts.SaveOperation = tr.SaveOperation
	}
	opts = opts.WithDefaults()

	validate := opts.Validate
	if opts.ReTrain {
		validate = opts.ValidateTraining
	}
	if err := validate(); err != nil {
		return Options{}, fmt.Errorf("%s: %w", filename, err)
	}
	return opts, nil
}

// evalContext exposes the process environment as the env object.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		vars[name] = cty.StringVal(value)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}
