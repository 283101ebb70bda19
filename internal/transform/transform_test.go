package transform

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tftransform/internal/config"
	"github.com/born-ml/tftransform/internal/dataview"
	"github.com/born-ml/tftransform/internal/dataview/arrowview"
	"github.com/born-ml/tftransform/internal/engine"
	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/fsutil"
	"github.com/born-ml/tftransform/internal/tensor"
	"github.com/born-ml/tftransform/internal/training"
)

// Column layout of the test views.
const (
	colX = iota
	colY
	colID
	colPred   // first output
	colDouble // second output
)

// rows returns a view of (x [2]float32, y float32, id int64) with x = (i/n, 1)
// and y = 3i/n + 1.
func rows(t *testing.T, n int) *arrowview.View {
	t.Helper()
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	t.Cleanup(func() { mem.AssertSize(t, 0) })

	schema := arrow.NewSchema([]arrow.Field{
		arrowview.VectorField("x", arrow.PrimitiveTypes.Float32, 2),
		{Name: "y", Type: arrow.PrimitiveTypes.Float32},
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for i := 0; i < n; i++ {
		x := float32(i) / float32(n)
		require.NoError(t, arrowview.AppendRow(b, []float32{x, 1}, 3*x+1, int64(i)))
	}
	rec := b.NewRecord()
	defer rec.Release()

	v, err := arrowview.New(schema, rec)
	require.NoError(t, err)
	t.Cleanup(v.Release)
	return v
}

func frozenModel(t *testing.T, g engine.MockGraph) string {
	t.Helper()
	def, err := g.Marshal()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "frozen.pb")
	require.NoError(t, os.WriteFile(path, def, 0o600))
	return path
}

func savedModel(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, engine.WriteMockSavedModel(dir, engine.LinearGraph(2)))
	return dir
}

func inferenceOptions(location string) config.Options {
	return config.Options{
		ModelLocation: location,
		InputColumns:  []string{"x"},
		OutputColumns: []string{"pred", "double"},
	}
}

func retrainOptions(location string) config.Options {
	opts := inferenceOptions(location)
	opts.ReTrain = true
	opts.LabelColumn = "y"
	opts.TensorFlowLabel = "label"
	opts.OptimizationOperation = "train"
	opts.LossOperation = "loss"
	opts.LearningRateOperation = "lr"
	opts.LearningRate = 0.1
	return opts
}

// variable reads a variable of the saved model in dir from a fresh session.
func variable(t *testing.T, e *engine.MockEngine, dir, name string) []float64 {
	t.Helper()
	sess, err := e.LoadSavedModel(dir)
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()
	return sess.(*engine.MockSession).Variable(name)
}

// brokenCopy fails every file copy while fail is set.
type brokenCopy struct {
	*fsutil.OS
	fail bool
}

func (b *brokenCopy) CopyFile(src, dst string) error {
	if b.fail {
		return errors.New("no space left on device")
	}
	return b.OS.CopyFile(src, dst)
}

func load(t *testing.T, e *engine.MockEngine, opts config.Options) *Transform {
	t.Helper()
	tr, err := Load(context.Background(), e, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestMapFrozenGraph(t *testing.T) {
	e := engine.NewMockEngine()
	tr := load(t, e, inferenceOptions(frozenModel(t, engine.LinearGraph(2))))
	assert.True(t, tr.Frozen())

	view, err := tr.Apply(rows(t, 4))
	require.NoError(t, err)
	outs := view.Mapper().OutputColumns()
	require.Len(t, outs, 2)
	assert.Equal(t, dataview.Column{Name: "pred", Type: dataview.VectorOf(tensor.Float32, 1)}, outs[0])
	assert.Equal(t, dataview.Column{Name: "double", Type: dataview.VectorOf(tensor.Float32, 2)}, outs[1])

	idx, ok := view.Schema().Lookup("double")
	require.True(t, ok)
	assert.Equal(t, colDouble, idx)

	cur, err := view.Open(nil)
	require.NoError(t, err)
	defer cur.Close()

	var x, pred, double []float32
	for cur.Next() {
		require.NoError(t, cur.Scan(colX, &x))
		require.NoError(t, cur.Scan(colPred, &pred))
		require.NoError(t, cur.Scan(colDouble, &double))
		assert.InDeltaSlice(t, []float32{x[0] + x[1]}, pred, 1e-6)
		assert.InDeltaSlice(t, []float32{2 * x[0], 2 * x[1]}, double, 1e-6)
	}
	require.NoError(t, cur.Err())
	assert.Equal(t, int64(4), e.Runs(), "one run per row for both outputs")
}

func TestOutputCacheSharedAcrossGetters(t *testing.T) {
	e := engine.NewMockEngine()
	tr := load(t, e, inferenceOptions(frozenModel(t, engine.LinearGraph(2))))
	view := rows(t, 3)
	m, err := tr.NewMapper(view.Schema())
	require.NoError(t, err)

	cur, err := view.Open(m.InputColumns())
	require.NoError(t, err)
	defer cur.Close()
	r, err := m.Rows(cur, nil)
	require.NoError(t, err)
	pred, err := r.Getter(0)
	require.NoError(t, err)
	double, err := r.Getter(1)
	require.NoError(t, err)

	var dst []float32
	for cur.Next() {
		for range 3 {
			require.NoError(t, pred.Scan(&dst))
			require.NoError(t, double.Scan(&dst))
		}
		assert.Equal(t, cur.Position()+1, e.Runs())
	}
	assert.Equal(t, int64(3), e.Runs())
}

func TestDemandedOutputsOnly(t *testing.T) {
	e := engine.NewMockEngine()
	tr := load(t, e, inferenceOptions(frozenModel(t, engine.LinearGraph(2))))
	view, err := tr.Apply(rows(t, 2))
	require.NoError(t, err)

	cur, err := view.Open([]int{colID, colPred})
	require.NoError(t, err)
	defer cur.Close()
	require.True(t, cur.Next())

	var pred, double []float32
	require.NoError(t, cur.Scan(colPred, &pred))
	assert.ErrorIs(t, cur.Scan(colDouble, &double), errs.ErrSchema)
	var y float32
	assert.ErrorIs(t, cur.Scan(colY, &y), errs.ErrSchema)

	inputsOnly, err := view.Open([]int{colID})
	require.NoError(t, err)
	defer inputsOnly.Close()
	for inputsOnly.Next() {
		var id int64
		require.NoError(t, inputsOnly.Scan(colID, &id))
	}
	assert.Equal(t, int64(1), e.Runs(), "rows without scanned outputs never run")

	_, err = view.Open([]int{99})
	assert.ErrorIs(t, err, errs.ErrSchema)
}

func TestRowsErrors(t *testing.T) {
	tr := load(t, engine.NewMockEngine(), inferenceOptions(frozenModel(t, engine.LinearGraph(2))))
	view := rows(t, 1)
	m, err := tr.NewMapper(view.Schema())
	require.NoError(t, err)
	cur, err := view.Open(m.InputColumns())
	require.NoError(t, err)
	defer cur.Close()

	_, err = m.Rows(cur, []int{2})
	assert.ErrorIs(t, err, errs.ErrConfig)

	r, err := m.Rows(cur, []int{1})
	require.NoError(t, err)
	_, err = r.Getter(0)
	assert.ErrorIs(t, err, errs.ErrConfig)

	g, err := r.Getter(1)
	require.NoError(t, err)
	var dst []float32
	assert.ErrorIs(t, g.Scan(&dst), errs.ErrConfig, "cursor not positioned yet")

	require.True(t, cur.Next())
	var wrong []int64
	assert.ErrorIs(t, g.Scan(&wrong), errs.ErrTypeMismatch)
}

func TestVariableLengthOutput(t *testing.T) {
	g := engine.LinearGraph(2)
	g.Ops = append(g.Ops, engine.MockOp{Name: "flat", Type: engine.OpIdentity, DType: "float32", Shape: []int{-1, -1}, Inputs: []string{"x"}})
	opts := inferenceOptions(frozenModel(t, g))
	opts.OutputColumns = []string{"flat"}
	tr := load(t, engine.NewMockEngine(), opts)

	view, err := tr.Apply(rows(t, 2))
	require.NoError(t, err)
	assert.Equal(t, dataview.VarVector, view.Mapper().OutputColumns()[0].Type.Kind)

	cur, err := view.Open(nil)
	require.NoError(t, err)
	defer cur.Close()
	dst := make([]float32, 10)
	require.True(t, cur.Next())
	require.NoError(t, cur.Scan(colPred, &dst))
	assert.Equal(t, []float32{0, 1}, dst)
}

func TestNewMapperErrors(t *testing.T) {
	tr := load(t, engine.NewMockEngine(), inferenceOptions(frozenModel(t, engine.LinearGraph(2))))
	x := arrowview.VectorField("x", arrow.PrimitiveTypes.Float32, 2)

	tests := []struct {
		name   string
		fields []arrow.Field
		kind   error
	}{
		{"missing column", []arrow.Field{{Name: "pixels", Type: arrow.PrimitiveTypes.Float32}}, errs.ErrSchema},
		{"scalar column", []arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Float32}}, errs.ErrUnsupported},
		{"ragged column", []arrow.Field{{Name: "x", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)}}, errs.ErrUnsupported},
		{"element type", []arrow.Field{arrowview.VectorField("x", arrow.PrimitiveTypes.Float64, 2)}, errs.ErrTypeMismatch},
		{"value count", []arrow.Field{arrowview.VectorField("x", arrow.PrimitiveTypes.Float32, 3)}, errs.ErrShapeMismatch},
		{"ok", []arrow.Field{x}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := arrowview.New(arrow.NewSchema(tt.fields, nil))
			require.NoError(t, err)
			_, err = tr.NewMapper(v.Schema())
			if tt.kind == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	e := engine.NewMockEngine()
	frozen := frozenModel(t, engine.LinearGraph(2))

	_, err := Load(context.Background(), e, inferenceOptions(filepath.Join(t.TempDir(), "missing.pb")))
	assert.ErrorIs(t, err, errs.ErrConfig)

	opts := inferenceOptions(frozen)
	opts.OutputColumns = []string{"pred", "logits"}
	_, err = Load(context.Background(), e, opts)
	assert.ErrorIs(t, err, errs.ErrConfig)
	assert.Zero(t, e.OpenSessions(), "a failed bind closes the session")

	opts = inferenceOptions(frozen)
	opts.OutputColumns = nil
	_, err = Load(context.Background(), e, opts)
	assert.ErrorIs(t, err, errs.ErrConfig)

	opts = inferenceOptions(frozen)
	opts.BatchDimension = 8
	_, err = Load(context.Background(), e, opts)
	assert.ErrorIs(t, err, errs.ErrConfig, "inference feeds one row per run")

	garbage := filepath.Join(t.TempDir(), "garbage.pb")
	require.NoError(t, os.WriteFile(garbage, []byte("not a graph"), 0o600))
	_, err = Load(context.Background(), e, inferenceOptions(garbage))
	assert.ErrorIs(t, err, errs.ErrEngine)
}

func TestFitRetrainsAndMaps(t *testing.T) {
	dir := savedModel(t)
	e := engine.NewMockEngine()
	opts := retrainOptions(dir)

	var epochs []training.EpochReport
	view := rows(t, 70)
	tr, report, err := Fit(context.Background(), e, opts, view, WithProgress(func(r training.EpochReport) {
		epochs = append(epochs, r)
	}))
	require.NoError(t, err)
	defer tr.Close()

	require.NotNil(t, report)
	assert.Equal(t, 5, report.Batches)
	assert.Len(t, epochs, 5)
	assert.Equal(t, int64(6), e.Runs())

	w := variable(t, e, dir, "w")
	b := variable(t, e, dir, "b")
	assert.NotEqual(t, []float64{1, 1}, w, "variables on disk are replaced")

	mapped, err := tr.Apply(view)
	require.NoError(t, err)
	cur, err := mapped.Open([]int{colPred})
	require.NoError(t, err)
	defer cur.Close()
	require.True(t, cur.Next())
	var pred []float32
	require.NoError(t, cur.Scan(colPred, &pred))
	assert.InDelta(t, w[1]+b[0], float64(pred[0]), 1e-5, "first row has x = (0, 1)")
}

func TestFitKeepsTrainedSessionWhenVariablesCannotBeReplaced(t *testing.T) {
	dir := savedModel(t)
	e := engine.NewMockEngine()
	initial := variable(t, e, dir, "w")
	folders := &brokenCopy{OS: fsutil.Default(), fail: true}

	tr, report, err := Fit(context.Background(), e, retrainOptions(dir), rows(t, 70), WithFolders(folders))
	require.ErrorIs(t, err, errs.ErrIO)
	require.NotNil(t, tr, "the trained transform is returned")
	defer tr.Close()
	require.NotNil(t, report)
	assert.Equal(t, 5, report.Batches)
	assert.Empty(t, report.Archive)
	assert.Equal(t, int64(1), e.OpenSessions())

	trained := tr.sess.(*engine.MockSession).Variable("w")
	assert.NotEqual(t, initial, trained)
	assert.Equal(t, initial, variable(t, e, dir, "w"), "files on disk are untouched")

	folders.fail = false
	archive, err := tr.SaveVariables(context.Background())
	require.NoError(t, err)
	assert.DirExists(t, archive)
	assert.Equal(t, trained, variable(t, e, dir, "w"))
	assert.Equal(t, int64(7), e.Runs(), "five steps and two saves, no retraining")
}

func TestSaveVariablesFrozen(t *testing.T) {
	tr := load(t, engine.NewMockEngine(), inferenceOptions(frozenModel(t, engine.LinearGraph(2))))
	_, err := tr.SaveVariables(context.Background())
	assert.ErrorIs(t, err, errs.ErrConfig)
}

func TestFitWithoutRetrain(t *testing.T) {
	e := engine.NewMockEngine()
	tr, report, err := Fit(context.Background(), e, inferenceOptions(savedModel(t)), rows(t, 3))
	require.NoError(t, err)
	defer tr.Close()
	assert.Nil(t, report)
	assert.Zero(t, e.Runs())
}

func TestFitFrozenCannotRetrain(t *testing.T) {
	e := engine.NewMockEngine()
	opts := inferenceOptions(frozenModel(t, engine.LinearGraph(2)))
	opts.ReTrain = true
	opts.LabelColumn = "y"
	opts.TensorFlowLabel = "label"
	opts.OptimizationOperation = "train"

	_, _, err := Fit(context.Background(), e, opts, rows(t, 70))
	assert.ErrorIs(t, err, errs.ErrConfig)
	assert.Zero(t, e.OpenSessions())
}

func TestContainerRoundTrip(t *testing.T) {
	e := engine.NewMockEngine()
	tr := load(t, e, inferenceOptions(savedModel(t)))
	path := filepath.Join(t.TempDir(), "model.tfxm")
	require.NoError(t, tr.SaveFile(path))

	restored, err := LoadContainer(context.Background(), e, path, config.Options{})
	require.NoError(t, err)
	assert.False(t, restored.Frozen())
	assert.Equal(t, []string{"x"}, restored.Options().InputColumns)
	assert.Equal(t, []string{"pred", "double"}, restored.Options().OutputColumns)

	extracted := restored.model.Dir
	require.DirExists(t, extracted)

	view, err := restored.Apply(rows(t, 1))
	require.NoError(t, err)
	cur, err := view.Open(nil)
	require.NoError(t, err)
	require.True(t, cur.Next())
	var pred []float32
	require.NoError(t, cur.Scan(colPred, &pred))
	assert.Equal(t, []float32{1}, pred)
	require.NoError(t, cur.Close())

	require.NoError(t, restored.Close())
	require.NoError(t, restored.Close())
	assert.NoDirExists(t, extracted)
}

func TestSaveFrozen(t *testing.T) {
	e := engine.NewMockEngine()
	tr := load(t, e, inferenceOptions(frozenModel(t, engine.LinearGraph(2))))
	var buf bytes.Buffer
	require.NoError(t, tr.Save(&buf))

	path := filepath.Join(t.TempDir(), "frozen.tfxm")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	restored, err := LoadContainer(context.Background(), e, path, config.Options{})
	require.NoError(t, err)
	assert.True(t, restored.Frozen())
	require.NoError(t, restored.Close())

	_, err = LoadContainer(context.Background(), e, filepath.Join(t.TempDir(), "none.tfxm"), config.Options{})
	assert.ErrorIs(t, err, errs.ErrIO)
}

func TestCloseReleasesSession(t *testing.T) {
	e := engine.NewMockEngine()
	tr, err := Load(context.Background(), e, inferenceOptions(savedModel(t)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.OpenSessions())
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Zero(t, e.OpenSessions())
}
