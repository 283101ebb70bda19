package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/born-ml/tftransform/internal/tensor"
)

// Verify that the mocks implement the engine contract.
var (
	_ Engine  = (*MockEngine)(nil)
	_ Session = (*MockSession)(nil)
)

// Mock operation types.
const (
	OpPlaceholder = "Placeholder"
	OpConst       = "Const"
	OpVariable    = "Variable"
	OpIdentity    = "Identity"
	OpScale       = "Scale"
	OpLinear      = "Linear"
	OpMSE         = "MSE"
	OpMAE         = "MAE"
	OpSGD         = "SGD"
	OpSave        = "Save"
)

// MockOp is one node of a MockGraph.
type MockOp struct {
	Name   string    `json:"name"`
	Type   string    `json:"type"`
	DType  string    `json:"dtype,omitempty"`
	Shape  []int     `json:"shape"` // nil means unknown rank
	Inputs []string  `json:"inputs,omitempty"`
	Value  []float64 `json:"value,omitempty"` // Const data, Variable init, Scale factor, SGD rate
}

// MockGraph is the graph definition understood by MockEngine.
type MockGraph struct {
	Ops []MockOp `json:"ops"`
}

// Marshal serializes the graph definition.
func (g MockGraph) Marshal() ([]byte, error) {
	return json.Marshal(g)
}

// MockEngine is a small pure-Go engine for tests and examples.
// It interprets MockGraph definitions and counts every session run.
type MockEngine struct {
	runs atomic.Int64
	open atomic.Int64
}

// NewMockEngine creates a new MockEngine.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// Runs returns the number of Run calls made on all sessions so far.
func (e *MockEngine) Runs() int64 {
	return e.runs.Load()
}

// OpenSessions returns the number of sessions not yet closed.
func (e *MockEngine) OpenSessions() int64 {
	return e.open.Load()
}

// LoadFrozen parses a JSON-encoded MockGraph.
func (e *MockEngine) LoadFrozen(graphDef []byte) (Session, error) {
	var g MockGraph
	if err := json.Unmarshal(graphDef, &g); err != nil {
		return nil, fmt.Errorf("failed to parse graph definition: %w", err)
	}
	return e.newSession(g, nil)
}

// LoadSavedModel reads saved_model.pb and, when present, the variables data file.
func (e *MockEngine) LoadSavedModel(dir string) (Session, error) {
	//nolint:gosec // G304: model directory is caller supplied
	def, err := os.ReadFile(filepath.Join(dir, SavedModelFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read graph definition: %w", err)
	}
	var g MockGraph
	if err := json.Unmarshal(def, &g); err != nil {
		return nil, fmt.Errorf("failed to parse graph definition: %w", err)
	}

	var vars map[string][]float64
	//nolint:gosec // G304: see above
	data, err := os.ReadFile(filepath.Join(dir, VariablesDir, VariablesDataFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &vars); err != nil {
			return nil, fmt.Errorf("failed to parse variables: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read variables: %w", err)
	}
	return e.newSession(g, vars)
}

func (e *MockEngine) newSession(g MockGraph, vars map[string][]float64) (*MockSession, error) {
	s := &MockSession{
		engine: e,
		ops:    make(map[string]*MockOp, len(g.Ops)),
		vars:   make(map[string][]float64),
	}
	for i := range g.Ops {
		op := &g.Ops[i]
		if _, dup := s.ops[op.Name]; dup {
			return nil, fmt.Errorf("duplicate operation %q", op.Name)
		}
		if op.DType != "" {
			if _, err := tensor.ParseDataType(op.DType); err != nil {
				return nil, fmt.Errorf("operation %q: %w", op.Name, err)
			}
		}
		s.ops[op.Name] = op
		if op.Type == OpVariable {
			s.vars[op.Name] = append([]float64(nil), op.Value...)
		}
	}
	for name, op := range s.ops {
		for _, in := range op.Inputs {
			if _, ok := s.ops[OpName(in)]; !ok {
				return nil, fmt.Errorf("operation %q: unknown input %q", name, in)
			}
		}
	}
	for name, v := range vars {
		if _, ok := s.vars[name]; ok {
			s.vars[name] = v
		}
	}
	e.open.Add(1)
	return s, nil
}

// MockSession is a session over a MockGraph.
type MockSession struct {
	engine *MockEngine
	ops    map[string]*MockOp
	vars   map[string][]float64
	closed bool
}

// Operation describes the named operation's output.
func (s *MockSession) Operation(name string) (OpInfo, bool) {
	op, ok := s.ops[OpName(name)]
	if !ok {
		return OpInfo{}, false
	}
	info := OpInfo{Name: op.Name, DType: tensor.Float32}
	if op.DType != "" {
		info.DType, _ = tensor.ParseDataType(op.DType)
	}
	switch {
	case op.Shape != nil:
		info.Shape = tensor.Shape(op.Shape).Clone()
		for i, d := range info.Shape {
			if d < 0 {
				info.Shape[i] = tensor.Unknown
			}
		}
	case op.Type == OpVariable || op.Type == OpConst:
		info.Shape = tensor.Shape{len(op.Value)}
	}
	return info, true
}

// Variable returns the current value of a variable, for inspection in tests.
func (s *MockSession) Variable(name string) []float64 {
	return append([]float64(nil), s.vars[name]...)
}

// Run evaluates fetches, then runs targets, so fetched losses reflect the
// variables before this step's update.
func (s *MockSession) Run(inputs map[string]*tensor.Tensor, targets, fetches []string) ([]*tensor.Tensor, error) {
	if s.closed {
		return nil, errors.New("session is closed")
	}
	s.engine.runs.Add(1)

	r := &mockRun{s: s, feeds: make(map[string]*tensor.Tensor, len(inputs)), memo: make(map[string]*tensor.Tensor)}
	for name, t := range inputs {
		opName := OpName(name)
		if _, ok := s.ops[opName]; !ok {
			return nil, fmt.Errorf("feed %q: no such operation", name)
		}
		r.feeds[opName] = t
	}

	out := make([]*tensor.Tensor, len(fetches))
	for i, name := range fetches {
		t, err := r.eval(OpName(name))
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	for _, name := range targets {
		if err := r.target(OpName(name)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Close releases the session. Closing twice is a no-op.
func (s *MockSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.engine.open.Add(-1)
	return nil
}

type mockRun struct {
	s     *MockSession
	feeds map[string]*tensor.Tensor
	memo  map[string]*tensor.Tensor
}

//nolint:gocyclo // one case per operation type
func (r *mockRun) eval(name string) (*tensor.Tensor, error) {
	if t, ok := r.feeds[name]; ok {
		return t, nil
	}
	if t, ok := r.memo[name]; ok {
		return t, nil
	}
	op, ok := r.s.ops[name]
	if !ok {
		return nil, fmt.Errorf("no operation %q in graph", name)
	}
	info, _ := r.s.Operation(name)

	var (
		t   *tensor.Tensor
		err error
	)
	switch op.Type {
	case OpPlaceholder:
		return nil, fmt.Errorf("placeholder %q must be fed", name)
	case OpConst:
		t, err = fromFloat64(info.DType, op.Value, tensor.Shape{len(op.Value)})
	case OpVariable:
		v := r.s.vars[name]
		t, err = fromFloat64(tensor.Float32, v, tensor.Shape{len(v)})
	case OpIdentity:
		t, err = r.input(op, 0)
	case OpScale:
		t, err = r.scale(op, info.DType)
	case OpLinear:
		t, err = r.linear(op, info.DType)
	case OpMSE, OpMAE:
		t, err = r.loss(op)
	case OpSGD, OpSave:
		return nil, fmt.Errorf("operation %q has no output to fetch", name)
	default:
		return nil, fmt.Errorf("operation %q: unknown type %q", name, op.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("operation %q: %w", name, err)
	}
	r.memo[name] = t
	return t, nil
}

func (r *mockRun) input(op *MockOp, i int) (*tensor.Tensor, error) {
	if i >= len(op.Inputs) {
		return nil, fmt.Errorf("missing input %d", i)
	}
	return r.eval(OpName(op.Inputs[i]))
}

func (r *mockRun) numbers(op *MockOp, i int) ([]float64, *tensor.Tensor, error) {
	t, err := r.input(op, i)
	if err != nil {
		return nil, nil, err
	}
	v, err := t.Float64s()
	if err != nil {
		return nil, nil, err
	}
	return v, t, nil
}

func (r *mockRun) scale(op *MockOp, dt tensor.DataType) (*tensor.Tensor, error) {
	x, xt, err := r.numbers(op, 0)
	if err != nil {
		return nil, err
	}
	factor := 1.0
	if len(op.Value) > 0 {
		factor = op.Value[0]
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * factor
	}
	return fromFloat64(dt, out, xt.Shape())
}

// linear computes x·w + b per batch row.
func (r *mockRun) linear(op *MockOp, dt tensor.DataType) (*tensor.Tensor, error) {
	x, xt, err := r.numbers(op, 0)
	if err != nil {
		return nil, err
	}
	w, _, err := r.numbers(op, 1)
	if err != nil {
		return nil, err
	}
	b, _, err := r.numbers(op, 2)
	if err != nil {
		return nil, err
	}
	rows, features, err := rowsOf(xt, len(x))
	if err != nil {
		return nil, err
	}
	if features != len(w) || len(b) != 1 {
		return nil, fmt.Errorf("linear: %d features against %d weights", features, len(w))
	}
	out := make([]float64, rows)
	for i := range out {
		out[i] = b[0]
		for j := 0; j < features; j++ {
			out[i] += x[i*features+j] * w[j]
		}
	}
	return fromFloat64(dt, out, tensor.Shape{rows})
}

func (r *mockRun) loss(op *MockOp) (*tensor.Tensor, error) {
	p, _, err := r.numbers(op, 0)
	if err != nil {
		return nil, err
	}
	l, _, err := r.numbers(op, 1)
	if err != nil {
		return nil, err
	}
	if len(p) != len(l) || len(p) == 0 {
		return nil, fmt.Errorf("loss: %d predictions against %d labels", len(p), len(l))
	}
	var sum float64
	for i := range p {
		d := p[i] - l[i]
		if op.Type == OpMSE {
			sum += d * d
		} else {
			sum += math.Abs(d)
		}
	}
	return tensor.Scalar(float32(sum / float64(len(p)))), nil
}

func (r *mockRun) target(name string) error {
	op, ok := r.s.ops[name]
	if !ok {
		return fmt.Errorf("no operation %q in graph", name)
	}
	switch op.Type {
	case OpSGD:
		return r.sgd(op)
	case OpSave:
		return r.save(op)
	default:
		_, err := r.eval(name)
		return err
	}
}

// sgd applies one gradient step of mean squared error to a Linear model.
// Inputs: x, label, weights variable, bias variable, optional learning rate.
func (r *mockRun) sgd(op *MockOp) error {
	if len(op.Inputs) < 4 {
		return fmt.Errorf("operation %q: SGD needs x, label, weights and bias", op.Name)
	}
	x, xt, err := r.numbers(op, 0)
	if err != nil {
		return err
	}
	y, _, err := r.numbers(op, 1)
	if err != nil {
		return err
	}
	w, ok := r.s.vars[OpName(op.Inputs[2])]
	if !ok {
		return fmt.Errorf("operation %q: %q is not a variable", op.Name, op.Inputs[2])
	}
	b, ok := r.s.vars[OpName(op.Inputs[3])]
	if !ok || len(b) != 1 {
		return fmt.Errorf("operation %q: %q is not a scalar variable", op.Name, op.Inputs[3])
	}
	rows, features, err := rowsOf(xt, len(x))
	if err != nil {
		return err
	}
	if rows != len(y) || features != len(w) {
		return fmt.Errorf("operation %q: batch of %dx%d against %d labels and %d weights", op.Name, rows, features, len(y), len(w))
	}

	lr := 0.01
	if len(op.Value) > 0 {
		lr = op.Value[0]
	}
	if len(op.Inputs) > 4 {
		if t, ok := r.feeds[OpName(op.Inputs[4])]; ok {
			v, err := t.Float64s()
			if err != nil || len(v) != 1 {
				return fmt.Errorf("operation %q: learning rate must be a numeric scalar", op.Name)
			}
			lr = v[0]
		}
	}

	gradW := make([]float64, features)
	var gradB float64
	for i := 0; i < rows; i++ {
		pred := b[0]
		for j := 0; j < features; j++ {
			pred += w[j] * x[i*features+j]
		}
		diff := 2 * (pred - y[i]) / float64(rows)
		for j := 0; j < features; j++ {
			gradW[j] += diff * x[i*features+j]
		}
		gradB += diff
	}
	for j := range w {
		w[j] -= lr * gradW[j]
	}
	b[0] -= lr * gradB
	return nil
}

// save writes the variables to <prefix>.index and <prefix>.data-00000-of-00001.
func (r *mockRun) save(op *MockOp) error {
	loc, err := r.input(op, 0)
	if err != nil {
		return err
	}
	paths, err := tensor.Values[string](loc)
	if err != nil || len(paths) != 1 {
		return fmt.Errorf("operation %q: save location must be a string scalar", op.Name)
	}
	prefix := paths[0]
	if err := os.MkdirAll(filepath.Dir(prefix), 0o750); err != nil {
		return fmt.Errorf("operation %q: %w", op.Name, err)
	}
	names := make([]string, 0, len(r.s.vars))
	for name := range r.s.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return writeVariables(prefix, names, r.s.vars)
}

func writeVariables(prefix string, names []string, vars map[string][]float64) error {
	index, err := json.Marshal(names)
	if err != nil {
		return err
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return err
	}
	if err := os.WriteFile(prefix+IndexSuffix, index, 0o600); err != nil {
		return fmt.Errorf("failed to write variables index: %w", err)
	}
	if err := os.WriteFile(prefix+DataSuffix, data, 0o600); err != nil {
		return fmt.Errorf("failed to write variables data: %w", err)
	}
	return nil
}

func rowsOf(t *tensor.Tensor, n int) (rows, features int, err error) {
	rows = 1
	if s := t.Shape(); len(s) > 0 {
		rows = s[0]
	}
	if rows == 0 || n%rows != 0 {
		return 0, 0, fmt.Errorf("cannot split %d values into %d rows", n, rows)
	}
	return rows, n / rows, nil
}

func fromFloat64(dt tensor.DataType, v []float64, shape tensor.Shape) (*tensor.Tensor, error) {
	switch dt {
	case tensor.Float32:
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return tensor.FromSlice(out, shape)
	case tensor.Float64:
		return tensor.FromSlice(append([]float64(nil), v...), shape)
	case tensor.Int32:
		out := make([]int32, len(v))
		for i, x := range v {
			out[i] = int32(x)
		}
		return tensor.FromSlice(out, shape)
	case tensor.Int64:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		return tensor.FromSlice(out, shape)
	default:
		return nil, fmt.Errorf("mock engine cannot produce %s", dt)
	}
}

// WriteMockSavedModel lays out g as a saved-model directory, with the
// variables initialized from the Variable ops.
func WriteMockSavedModel(dir string, g MockGraph) error {
	def, err := g.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, VariablesDir), 0o750); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, SavedModelFile), def, 0o600); err != nil {
		return err
	}
	vars := make(map[string][]float64)
	var names []string
	for _, op := range g.Ops {
		if op.Type == OpVariable {
			vars[op.Name] = op.Value
			names = append(names, op.Name)
		}
	}
	sort.Strings(names)
	return writeVariables(filepath.Join(dir, VariablesDir, "variables"), names, vars)
}

// LinearGraph builds a linear regression graph over a [?, features] float32
// input "x" with ops: "pred" = x·w + b, "double" = 2x, "loss" (MSE),
// "mae", "train" (SGD, learning rate fed through "lr"), and the conventional
// "save/Const" / "save/control_dependency" checkpoint pair.
// Weights start at 1 and the bias at 0, so pred is the row sum.
func LinearGraph(features int) MockGraph {
	w := make([]float64, features)
	for i := range w {
		w[i] = 1
	}
	return MockGraph{Ops: []MockOp{
		{Name: "x", Type: OpPlaceholder, DType: "float32", Shape: []int{-1, features}},
		{Name: "label", Type: OpPlaceholder, DType: "float32", Shape: []int{-1}},
		{Name: "lr", Type: OpPlaceholder, DType: "float32", Shape: []int{}},
		{Name: "w", Type: OpVariable, Value: w},
		{Name: "b", Type: OpVariable, Value: []float64{0}},
		{Name: "pred", Type: OpLinear, DType: "float32", Shape: []int{-1}, Inputs: []string{"x", "w", "b"}},
		{Name: "double", Type: OpScale, DType: "float32", Shape: []int{-1, features}, Inputs: []string{"x"}, Value: []float64{2}},
		{Name: "loss", Type: OpMSE, DType: "float32", Shape: []int{}, Inputs: []string{"pred", "label"}},
		{Name: "mae", Type: OpMAE, DType: "float32", Shape: []int{}, Inputs: []string{"pred", "label"}},
		{Name: "train", Type: OpSGD, Inputs: []string{"x", "label", "w", "b", "lr"}, Value: []float64{0.01}},
		{Name: "save/Const", Type: OpPlaceholder, DType: "string", Shape: []int{}},
		{Name: "save/control_dependency", Type: OpSave, Inputs: []string{"save/Const"}},
	}}
}
