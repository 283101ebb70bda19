package training

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tftransform/internal/binder"
	"github.com/born-ml/tftransform/internal/config"
	"github.com/born-ml/tftransform/internal/dataview/arrowview"
	"github.com/born-ml/tftransform/internal/engine"
	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/fsutil"
	"github.com/born-ml/tftransform/internal/tensor"
)

// rows returns a view of n rows with x in [0, 1) and label = 2x + 1.
func rows(t *testing.T, n int, labelType arrow.DataType) *arrowview.View {
	t.Helper()
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	t.Cleanup(func() { mem.AssertSize(t, 0) })

	schema := arrow.NewSchema([]arrow.Field{
		arrowview.VectorField("x", arrow.PrimitiveTypes.Float32, 1),
		{Name: "label", Type: labelType},
	}, nil)
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for i := 0; i < n; i++ {
		x := float32(i) / float32(n)
		var label any = 2*x + 1
		if labelType.ID() == arrow.INT64 {
			label = int64(i)
		}
		require.NoError(t, arrowview.AppendRow(b, []float32{x}, label))
	}
	rec := b.NewRecord()
	defer rec.Release()

	v, err := arrowview.New(schema, rec)
	require.NoError(t, err)
	t.Cleanup(v.Release)
	return v
}

type fixture struct {
	engine *engine.MockEngine
	sess   *engine.MockSession
	params Params
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, engine.WriteMockSavedModel(dir, engine.LinearGraph(1)))

	e := engine.NewMockEngine()
	sess, err := e.LoadSavedModel(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	opts := config.Options{
		ModelLocation:         dir,
		InputColumns:          []string{"x"},
		OutputColumns:         []string{"pred"},
		LabelColumn:           "label",
		OptimizationOperation: "train",
		LossOperation:         "loss",
		MetricOperation:       "mae",
		LearningRateOperation: "lr",
		LearningRate:          0.1,
		ReTrain:               true,
	}.WithDefaults()

	binding, err := binder.NewGraphBinding(sess, opts.InputColumns, opts.OutputColumns, binder.Options{BatchDimension: opts.BatchDimension})
	require.NoError(t, err)

	return &fixture{
		engine: e,
		sess:   sess.(*engine.MockSession),
		params: Params{Session: sess, Binding: binding, Options: opts, ModelDir: dir, Folders: fsutil.Default()},
	}
}

func TestTrainDiscardsPartialBatch(t *testing.T) {
	f := newFixture(t)
	var progress []EpochReport
	f.params.Progress = func(r EpochReport) { progress = append(progress, r) }

	report, err := Train(context.Background(), rows(t, 70, arrow.PrimitiveTypes.Float32), f.params)
	require.NoError(t, err)

	require.Len(t, report.Epochs, 5)
	assert.Equal(t, report.Epochs, progress)
	assert.Equal(t, 5, report.Batches)
	for i, er := range report.Epochs {
		assert.Equal(t, i, er.Epoch)
		assert.Equal(t, 1, er.Batches)
		assert.Equal(t, 70, er.Rows)
		assert.Equal(t, 6, er.DiscardedRows)
		assert.Positive(t, er.Loss)
		assert.Positive(t, er.Metric)
	}
	assert.Less(t, report.Epochs[4].Loss, report.Epochs[0].Loss)

	var sum float64
	for _, er := range report.Epochs {
		sum += er.Loss
	}
	assert.InDelta(t, sum, report.LossSum, 1e-9)

	// Five optimization steps and one save.
	assert.Equal(t, int64(6), f.engine.Runs())
}

func TestTrainReplacesVariables(t *testing.T) {
	f := newFixture(t)
	report, err := Train(context.Background(), rows(t, 128, arrow.PrimitiveTypes.Float32), f.params)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Batches)

	trained := f.sess.Variable("w")
	assert.NotEqual(t, []float64{1}, trained)

	require.NotEmpty(t, report.Archive)
	archived, err := os.ReadFile(filepath.Join(report.Archive, engine.VariablesDataFile))
	require.NoError(t, err)
	assert.Contains(t, string(archived), `"w":[1]`)

	reloaded, err := engine.NewMockEngine().LoadSavedModel(f.params.ModelDir)
	require.NoError(t, err)
	defer reloaded.Close()
	assert.Equal(t, trained, reloaded.(*engine.MockSession).Variable("w"))
}

func TestTrainFewerRowsThanBatch(t *testing.T) {
	f := newFixture(t)
	f.params.Options.Epochs = 2
	report, err := Train(context.Background(), rows(t, 10, arrow.PrimitiveTypes.Float32), f.params)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Batches)
	for _, er := range report.Epochs {
		assert.Equal(t, 10, er.DiscardedRows)
		assert.Zero(t, er.Loss)
	}
	assert.Equal(t, []float64{1}, f.sess.Variable("w"))
	assert.Equal(t, int64(1), f.engine.Runs(), "only the save runs")
}

func TestTrainPreconditions(t *testing.T) {
	view := rows(t, 70, arrow.PrimitiveTypes.Float32)
	tests := []struct {
		name   string
		modify func(p *Params)
		kind   error
	}{
		{"missing optimizer", func(p *Params) { p.Options.OptimizationOperation = "adam" }, errs.ErrConfig},
		{"missing loss", func(p *Params) { p.Options.LossOperation = "xent" }, errs.ErrConfig},
		{"missing save", func(p *Params) { p.Options.SaveOperation = "save/restore_all" }, errs.ErrConfig},
		{"missing label op", func(p *Params) { p.Options.TensorFlowLabel = "y" }, errs.ErrConfig},
		{"blank optimizer", func(p *Params) { p.Options.OptimizationOperation = "" }, errs.ErrConfig},
		{"zero epochs", func(p *Params) { p.Options.Epochs = 0 }, errs.ErrConfig},
		{"frozen model", func(p *Params) { p.ModelDir = "" }, errs.ErrConfig},
		{"missing label column", func(p *Params) { p.Options.LabelColumn = "target" }, errs.ErrSchema},
		{"missing source column", func(p *Params) { p.Options.SourceColumns = []string{"pixels"} }, errs.ErrSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.modify(&f.params)
			_, err := Train(context.Background(), view, f.params)
			assert.ErrorIs(t, err, tt.kind)
			assert.Zero(t, f.engine.Runs(), "no step may run before setup succeeds")
		})
	}
}

func TestTrainLabelTypeMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := Train(context.Background(), rows(t, 70, arrow.PrimitiveTypes.Int64), f.params)
	assert.ErrorIs(t, err, errs.ErrTypeMismatch)
}

func TestTrainPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.RemoveAll(filepath.Join(f.params.ModelDir, engine.VariablesDir)))

	report, err := Train(context.Background(), rows(t, 64, arrow.PrimitiveTypes.Float32), f.params)
	assert.ErrorIs(t, err, errs.ErrIO)
	require.NotNil(t, report)
	assert.Equal(t, 5, report.Batches)
	trained := f.sess.Variable("w")
	assert.NotEqual(t, []float64{1}, trained, "the session keeps the trained variables")

	require.NoError(t, os.MkdirAll(filepath.Join(f.params.ModelDir, engine.VariablesDir), 0o750))
	archive, err := SaveVariables(context.Background(), f.params)
	require.NoError(t, err)
	assert.DirExists(t, archive)

	reloaded, err := f.engine.LoadSavedModel(f.params.ModelDir)
	require.NoError(t, err)
	defer func() { _ = reloaded.Close() }()
	assert.Equal(t, trained, reloaded.(*engine.MockSession).Variable("w"))
}

func TestSaveVariablesPreconditions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *Params)
	}{
		{"frozen model", func(p *Params) { p.ModelDir = "" }},
		{"no session", func(p *Params) { p.Session = nil }},
		{"missing save op", func(p *Params) { p.Options.SaveOperation = "save/restore_all" }},
		{"missing save location", func(p *Params) { p.Options.SaveLocationOperation = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.modify(&f.params)
			_, err := SaveVariables(context.Background(), f.params)
			assert.ErrorIs(t, err, errs.ErrConfig)
			assert.Zero(t, f.engine.Runs())
		})
	}
}

// truncating drops every fetched tensor from a run's result.
type truncating struct {
	engine.Session
}

func (s truncating) Run(inputs map[string]*tensor.Tensor, targets, fetches []string) ([]*tensor.Tensor, error) {
	out, err := s.Session.Run(inputs, targets, fetches)
	if len(fetches) > 0 {
		return out[:0], err
	}
	return out, err
}

func TestTrainShortEngineResult(t *testing.T) {
	f := newFixture(t)
	f.params.Session = truncating{f.sess}

	report, err := Train(context.Background(), rows(t, 64, arrow.PrimitiveTypes.Float32), f.params)
	assert.ErrorIs(t, err, errs.ErrEngine)
	assert.Nil(t, report)
}
