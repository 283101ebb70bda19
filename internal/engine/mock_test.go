package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tftransform/internal/tensor"
)

func loadLinear(t *testing.T, e *MockEngine, features int) *MockSession {
	t.Helper()
	def, err := LinearGraph(features).Marshal()
	require.NoError(t, err)
	sess, err := e.LoadFrozen(def)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess.(*MockSession)
}

func TestOpName(t *testing.T) {
	assert.Equal(t, "pred", OpName("pred:0"))
	assert.Equal(t, "save/Const", OpName("save/Const"))
}

func TestOperationShapes(t *testing.T) {
	sess := loadLinear(t, NewMockEngine(), 3)

	x, ok := sess.Operation("x:0")
	require.True(t, ok)
	assert.Equal(t, tensor.Float32, x.DType)
	assert.Equal(t, tensor.Shape{tensor.Unknown, 3}, x.Shape)

	loss, ok := sess.Operation("loss")
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{}, loss.Shape, "scalar shape must survive the JSON round trip")

	w, ok := sess.Operation("w")
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{3}, w.Shape)

	_, ok = sess.Operation("missing")
	assert.False(t, ok)
}

func TestRunLinear(t *testing.T) {
	e := NewMockEngine()
	sess := loadLinear(t, e, 2)

	x, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	require.NoError(t, err)
	out, err := sess.Run(map[string]*tensor.Tensor{"x": x}, nil, []string{"pred", "double:0"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{3, 7}, out[0].AsFloat32())
	assert.Equal(t, []float32{2, 4, 6, 8}, out[1].AsFloat32())
	assert.Equal(t, tensor.Shape{2, 2}, out[1].Shape())
	assert.EqualValues(t, 1, e.Runs())
}

func TestRunErrors(t *testing.T) {
	sess := loadLinear(t, NewMockEngine(), 2)

	_, err := sess.Run(nil, nil, []string{"pred"})
	require.ErrorContains(t, err, "must be fed")

	_, err = sess.Run(map[string]*tensor.Tensor{"nope": tensor.Scalar(float32(1))}, nil, nil)
	require.Error(t, err)

	_, err = sess.Run(nil, nil, []string{"train"})
	require.ErrorContains(t, err, "no output")
}

func TestSGDReducesLoss(t *testing.T) {
	sess := loadLinear(t, NewMockEngine(), 1)

	// y = 3x
	x, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{4, 1})
	require.NoError(t, err)
	y, err := tensor.FromSlice([]float32{3, 6, 9, 12}, tensor.Shape{4})
	require.NoError(t, err)
	feeds := map[string]*tensor.Tensor{"x": x, "label": y, "lr": tensor.Scalar(float32(0.05))}

	first, err := sess.Run(feeds, []string{"train"}, []string{"loss"})
	require.NoError(t, err)
	var last []*tensor.Tensor
	for i := 0; i < 50; i++ {
		last, err = sess.Run(feeds, []string{"train"}, []string{"loss"})
		require.NoError(t, err)
	}
	assert.Less(t, last[0].AsFloat32()[0], first[0].AsFloat32()[0])
	assert.InDelta(t, 3.0, sess.Variable("w")[0], 0.3)
}

func TestSaveAndReload(t *testing.T) {
	e := NewMockEngine()
	dir := t.TempDir()
	require.NoError(t, WriteMockSavedModel(dir, LinearGraph(2)))
	for _, rel := range SavedModelFiles() {
		_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
		require.NoError(t, err, rel)
	}

	sess, err := e.LoadSavedModel(dir)
	require.NoError(t, err)
	ms := sess.(*MockSession)
	ms.vars["w"][0] = 5

	prefix := filepath.Join(t.TempDir(), "ckpt", "model")
	_, err = sess.Run(map[string]*tensor.Tensor{"save/Const": tensor.Scalar(prefix)}, []string{"save/control_dependency"}, nil)
	require.NoError(t, err)
	require.NoError(t, sess.Close())
	assert.EqualValues(t, 0, e.OpenSessions())

	// Move the checkpoint into place and reload.
	require.NoError(t, os.Rename(prefix+DataSuffix, filepath.Join(dir, VariablesDir, VariablesDataFile)))
	reloaded, err := e.LoadSavedModel(dir)
	require.NoError(t, err)
	defer reloaded.Close()
	assert.Equal(t, []float64{5, 1}, reloaded.(*MockSession).Variable("w"))
}

func TestRunAfterClose(t *testing.T) {
	sess := loadLinear(t, NewMockEngine(), 1)
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	_, err := sess.Run(nil, nil, nil)
	require.Error(t, err)
}

func TestInvalidGraphs(t *testing.T) {
	e := NewMockEngine()
	_, err := e.LoadFrozen([]byte("not json"))
	require.Error(t, err)

	dup, err := MockGraph{Ops: []MockOp{{Name: "a", Type: OpPlaceholder}, {Name: "a", Type: OpPlaceholder}}}.Marshal()
	require.NoError(t, err)
	_, err = e.LoadFrozen(dup)
	require.ErrorContains(t, err, "duplicate")

	dangling, err := MockGraph{Ops: []MockOp{{Name: "a", Type: OpIdentity, Inputs: []string{"b"}}}}.Marshal()
	require.NoError(t, err)
	_, err = e.LoadFrozen(dangling)
	require.ErrorContains(t, err, "unknown input")
}
