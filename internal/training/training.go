// Package training re-trains a saved-model graph on pipeline rows.
//
// Train buffers each row's input and label cells into fixed-size batches,
// runs one optimization step per full batch, accumulates the fetched loss
// and metric per epoch, and finally checkpoints the variables and installs
// them into the model directory. A trailing partial batch is discarded.
package training

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/born-ml/tftransform/internal/binder"
	"github.com/born-ml/tftransform/internal/config"
	"github.com/born-ml/tftransform/internal/ctxlog"
	"github.com/born-ml/tftransform/internal/dataview"
	"github.com/born-ml/tftransform/internal/engine"
	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/fsutil"
	"github.com/born-ml/tftransform/internal/getter"
	"github.com/born-ml/tftransform/internal/modelio"
	"github.com/born-ml/tftransform/internal/tensor"
)

// Params are the collaborators of a training run.
type Params struct {
	Session engine.Session
	Binding *binder.GraphBinding
	Options config.Options
	// ModelDir is the saved-model directory whose variables are replaced.
	ModelDir string
	Folders  fsutil.Folders
	// Progress, when set, is called after every epoch.
	Progress func(EpochReport)
}

// EpochReport summarizes one epoch.
type EpochReport struct {
	Epoch   int
	Batches int
	// Rows counts every row read, DiscardedRows those of the trailing partial batch.
	Rows          int
	DiscardedRows int
	// Loss and Metric are the means over the epoch's batches; zero when not fetched.
	Loss   float64
	Metric float64
}

// Report summarizes a training run.
type Report struct {
	Epochs []EpochReport
	// Batches is the number of optimization steps executed.
	Batches int
	// LossSum and MetricSum accumulate the fetched values over every step.
	LossSum   float64
	MetricSum float64
	// Archive is the folder holding the variables the run replaced.
	Archive string
}

// run is the per-invocation state.
type run struct {
	p       Params
	logger  *slog.Logger
	cols    []int
	inputs  []*binder.ColumnBinding
	buffers []getter.Buffering
	fetches []string
	lr      *tensor.Tensor
}

// Train runs the configured epochs over view, then persists the updated
// variables. Configuration problems are reported before any row is read.
// A failure while writing the model files is an errs.ErrIO returned with
// the full report; the session keeps the trained variables and
// SaveVariables retries persistence.
func Train(ctx context.Context, view dataview.View, p Params) (*Report, error) {
	r, err := prepare(ctx, view, p)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{}
	for epoch := 0; epoch < p.Options.Epochs; epoch++ {
		er, loss, metric, err := r.epoch(view, epoch)
		if err != nil {
			return nil, err
		}
		report.Epochs = append(report.Epochs, er)
		report.Batches += er.Batches
		report.LossSum += loss
		report.MetricSum += metric
		if p.Progress != nil {
			p.Progress(er)
		}
	}

	archive, err := save(ctx, r.p, r.logger)
	if err != nil {
		return report, err
	}
	report.Archive = archive
	return report, nil
}

// prepare checks preconditions and binds every training input.
func prepare(ctx context.Context, view dataview.View, p Params) (*run, error) {
	opts := p.Options
	if err := opts.ValidateTraining(); err != nil {
		return nil, err
	}
	if p.ModelDir == "" {
		return nil, errs.New(errs.ErrConfig, "train", opts.ModelLocation, "re-training needs a saved model directory, not a frozen graph")
	}
	if p.Binding == nil || p.Session == nil {
		return nil, errs.New(errs.ErrConfig, "train", "", "no bound session")
	}
	if p.Folders == nil {
		p.Folders = fsutil.Default()
	}

	required := []string{opts.OptimizationOperation, opts.TensorFlowLabel, opts.SaveLocationOperation, opts.SaveOperation}
	for _, name := range []string{opts.LossOperation, opts.MetricOperation, opts.LearningRateOperation} {
		if name != "" {
			required = append(required, name)
		}
	}
	for _, name := range required {
		if _, ok := p.Session.Operation(engine.OpName(name)); !ok {
			return nil, errs.New(errs.ErrConfig, "train", name, "operation does not exist in the graph")
		}
	}

	r := &run{p: p, logger: ctxlog.FromContext(ctx)}
	schema := view.Schema()
	for i, in := range p.Binding.Inputs {
		b, err := binder.BindColumn(schema, opts.Source(i), in, binder.Training)
		if err != nil {
			return nil, err
		}
		r.inputs = append(r.inputs, b)
	}

	label, err := binder.DescribeInput(p.Session, opts.TensorFlowLabel, binder.Options{AddBatchDimension: opts.AddBatchDimensionInputs})
	if err != nil {
		return nil, err
	}
	lb, err := binder.BindColumn(schema, opts.LabelColumn, label, binder.Training)
	if err != nil {
		return nil, err
	}
	r.inputs = append(r.inputs, lb)

	for _, b := range r.inputs {
		buf, err := getter.NewBuffering(b, opts.BatchSize)
		if err != nil {
			return nil, err
		}
		r.buffers = append(r.buffers, buf)
		r.cols = append(r.cols, b.Column)
		r.logger.Debug("Bound training input.", "column", b.Name, "tensor", b.Tensor, "shape", b.Shape.String())
	}

	if opts.LossOperation != "" {
		r.fetches = append(r.fetches, opts.LossOperation)
	}
	if opts.MetricOperation != "" {
		r.fetches = append(r.fetches, opts.MetricOperation)
	}
	if opts.LearningRateOperation != "" {
		r.lr = tensor.Scalar(opts.LearningRate)
	}
	return r, nil
}

// epoch makes one pass over view and returns the summed loss and metric.
func (r *run) epoch(view dataview.View, epoch int) (EpochReport, float64, float64, error) {
	er := EpochReport{Epoch: epoch}
	var lossSum, metricSum float64

	cur, err := view.Open(r.cols)
	if err != nil {
		return er, 0, 0, err
	}
	defer func() { _ = cur.Close() }()

	batch := r.p.Options.BatchSize
	for cur.Next() {
		for _, buf := range r.buffers {
			if err := buf.Append(cur); err != nil {
				return er, 0, 0, err
			}
		}
		er.Rows++
		if er.Rows%batch != 0 {
			continue
		}
		loss, metric, err := r.step()
		if err != nil {
			return er, 0, 0, err
		}
		lossSum += loss
		metricSum += metric
		er.Batches++
	}
	if err := cur.Err(); err != nil {
		return er, 0, 0, err
	}

	if left := r.buffers[0].Len(); left > 0 {
		er.DiscardedRows = left
		r.logger.Warn("Discarding rows that do not fill a batch.",
			"epoch", epoch, "rows", left, "batch_size", batch)
		for _, buf := range r.buffers {
			buf.Reset()
		}
	}

	if er.Batches > 0 {
		er.Loss = lossSum / float64(er.Batches)
		er.Metric = metricSum / float64(er.Batches)
	}
	r.logger.Info("Finished epoch.", "epoch", epoch, "batches", er.Batches, "rows", er.Rows, "loss", er.Loss, "metric", er.Metric)
	return er, lossSum, metricSum, nil
}

// step flushes every buffer and runs one optimization step.
func (r *run) step() (loss, metric float64, err error) {
	opts := r.p.Options
	feeds := make(map[string]*tensor.Tensor, len(r.buffers)+1)
	for i, buf := range r.buffers {
		t, err := buf.Flush()
		if err != nil {
			return 0, 0, err
		}
		feeds[r.inputs[i].Tensor] = t
	}
	if r.lr != nil {
		feeds[engine.OpName(opts.LearningRateOperation)] = r.lr
	}

	out, err := r.p.Session.Run(feeds, []string{opts.OptimizationOperation}, r.fetches)
	if err != nil {
		return 0, 0, errs.Wrap(errs.ErrEngine, "train step", opts.OptimizationOperation, err)
	}
	if len(out) != len(r.fetches) {
		return 0, 0, errs.New(errs.ErrEngine, "train step", opts.OptimizationOperation,
			"engine returned %d tensors for %d fetches", len(out), len(r.fetches))
	}

	i := 0
	if opts.LossOperation != "" {
		if loss, err = mean(out[i]); err != nil {
			return 0, 0, errs.Wrap(errs.ErrTypeMismatch, "train step", opts.LossOperation, err)
		}
		i++
	}
	if opts.MetricOperation != "" {
		if metric, err = mean(out[i]); err != nil {
			return 0, 0, errs.Wrap(errs.ErrTypeMismatch, "train step", opts.MetricOperation, err)
		}
	}
	return loss, metric, nil
}

func mean(t *tensor.Tensor) (float64, error) {
	v, err := t.Float64s()
	if err != nil || len(v) == 0 {
		return 0, err
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v)), nil
}

// SaveVariables checkpoints the variables of p.Session and installs them
// into p.ModelDir without training. It returns the archive folder of the
// replaced files. Use it to retry persistence after Train returned an
// errs.ErrIO.
func SaveVariables(ctx context.Context, p Params) (string, error) {
	opts := p.Options
	if p.ModelDir == "" {
		return "", errs.New(errs.ErrConfig, "save variables", opts.ModelLocation, "a frozen graph has no variable files")
	}
	if p.Session == nil {
		return "", errs.New(errs.ErrConfig, "save variables", "", "no bound session")
	}
	if p.Folders == nil {
		p.Folders = fsutil.Default()
	}
	for _, name := range []string{opts.SaveLocationOperation, opts.SaveOperation} {
		if _, ok := p.Session.Operation(engine.OpName(name)); !ok {
			return "", errs.New(errs.ErrConfig, "save variables", name, "operation does not exist in the graph")
		}
	}
	return save(ctx, p, ctxlog.FromContext(ctx))
}

// save checkpoints the session variables to a temporary prefix and installs
// them into the model directory.
func save(ctx context.Context, p Params, logger *slog.Logger) (string, error) {
	opts := p.Options
	tmp, err := os.MkdirTemp("", "tftransform-ckpt-")
	if err != nil {
		return "", errs.Wrap(errs.ErrIO, "save variables", "", err)
	}
	defer func() {
		if err := p.Folders.DeleteFolder(ctx, tmp); err != nil {
			logger.Warn("Failed to delete checkpoint folder.", "path", tmp, "error", err)
		}
	}()

	prefix := filepath.Join(tmp, engine.VariablesDir)
	feeds := map[string]*tensor.Tensor{engine.OpName(opts.SaveLocationOperation): tensor.Scalar(prefix)}
	if _, err := p.Session.Run(feeds, []string{opts.SaveOperation}, nil); err != nil {
		return "", errs.Wrap(errs.ErrIO, "save variables", opts.SaveOperation, err)
	}
	logger.Info("Saved checkpoint.", "prefix", prefix)

	return modelio.ReplaceVariables(ctx, p.ModelDir, prefix, p.Folders)
}
