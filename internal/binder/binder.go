// Package binder maps pipeline columns onto graph tensors.
//
// A GraphBinding describes the configured inputs and outputs of a loaded
// graph. A ColumnBinding ties one input to one column of a concrete schema
// with a fully specified per-example shape, resolved once per mapper.
package binder

import (
	"strings"

	"github.com/born-ml/tftransform/internal/dataview"
	"github.com/born-ml/tftransform/internal/engine"
	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/tensor"
)

// TensorInfo describes one configured graph tensor.
type TensorInfo struct {
	// Name is the configured tensor name, e.g. "images" or "images:0".
	Name string
	// Op is Name without its output index; feeds and fetches use it.
	Op    string
	DType tensor.DataType
	// Declared is the shape declared by the graph, including a prepended
	// batch axis when one is added. Nil means unknown rank.
	Declared tensor.Shape
	// Shape is Declared with an unknown input batch axis replaced by the
	// default batch dimension.
	Shape tensor.Shape
}

// Options controls how declared input shapes are read.
type Options struct {
	// BatchDimension replaces an unknown leading input dimension. Zero means 1.
	BatchDimension int
	// AddBatchDimension prepends an unknown batch axis to every declared input shape.
	AddBatchDimension bool
}

// GraphBinding is the immutable description of a transform's inputs and outputs.
type GraphBinding struct {
	Inputs  []TensorInfo
	Outputs []TensorInfo
}

// NewGraphBinding resolves inputs and outputs against sess. Every name must
// exist in the graph and output names must be distinct.
func NewGraphBinding(sess engine.Session, inputs, outputs []string, opts Options) (*GraphBinding, error) {
	if len(inputs) == 0 {
		return nil, errs.New(errs.ErrConfig, "bind graph", "", "no input tensors configured")
	}
	if len(outputs) == 0 {
		return nil, errs.New(errs.ErrConfig, "bind graph", "", "no output tensors configured")
	}

	g := &GraphBinding{}
	seen := make(map[string]bool, len(inputs))
	for _, name := range inputs {
		info, err := DescribeInput(sess, name, opts)
		if err != nil {
			return nil, err
		}
		if seen[info.Op] {
			return nil, errs.New(errs.ErrConfig, "bind graph", name, "input tensor is listed twice")
		}
		seen[info.Op] = true
		g.Inputs = append(g.Inputs, info)
	}

	seen = make(map[string]bool, len(outputs))
	for _, name := range outputs {
		info, err := describe(sess, name)
		if err != nil {
			return nil, err
		}
		if seen[info.Op] {
			return nil, errs.New(errs.ErrConfig, "bind graph", name, "output names must be distinct")
		}
		seen[info.Op] = true
		g.Outputs = append(g.Outputs, info)
	}
	return g, nil
}

// DescribeInput resolves name as a graph input, applying the batch axis rules of opts.
func DescribeInput(sess engine.Session, name string, opts Options) (TensorInfo, error) {
	if opts.BatchDimension <= 0 {
		opts.BatchDimension = 1
	}
	info, err := describe(sess, name)
	if err != nil {
		return TensorInfo{}, err
	}
	if opts.AddBatchDimension && info.Declared != nil {
		info.Declared = append(tensor.Shape{tensor.Unknown}, info.Declared...)
	}
	info.Shape = info.Declared.Clone()
	if len(info.Shape) > 0 && info.Shape[0] <= 0 {
		info.Shape[0] = opts.BatchDimension
	}
	return info, nil
}

func describe(sess engine.Session, name string) (TensorInfo, error) {
	if strings.TrimSpace(name) == "" {
		return TensorInfo{}, errs.New(errs.ErrConfig, "bind graph", "", "blank tensor name")
	}
	op, ok := sess.Operation(engine.OpName(name))
	if !ok {
		return TensorInfo{}, errs.New(errs.ErrConfig, "bind graph", name, "operation does not exist in the graph")
	}
	return TensorInfo{Name: name, Op: op.Name, DType: op.DType, Declared: op.Shape.Clone(), Shape: op.Shape.Clone()}, nil
}

// Input returns the input tensor with the given configured name or op name.
func (g *GraphBinding) Input(name string) (TensorInfo, bool) {
	return find(g.Inputs, name)
}

// Output returns the output tensor with the given configured name or op name.
func (g *GraphBinding) Output(name string) (TensorInfo, bool) {
	return find(g.Outputs, name)
}

func find(infos []TensorInfo, name string) (TensorInfo, bool) {
	op := engine.OpName(name)
	for _, info := range infos {
		if info.Name == name || info.Op == op {
			return info, true
		}
	}
	return TensorInfo{}, false
}

// OutputColumnType returns the column type exposed for an output tensor.
// An unknown leading batch dimension is dropped. When any other dimension is
// unknown the column is a variable-length vector.
func OutputColumnType(out TensorInfo) (dataview.ColumnType, error) {
	if !out.DType.Valid() {
		return dataview.ColumnType{}, errs.New(errs.ErrUnsupported, "output column", out.Name, "tensor type %s", out.DType)
	}
	if out.Shape == nil {
		return dataview.ColumnType{Kind: dataview.VarVector, Elem: out.DType}, nil
	}
	dims := out.Shape
	if len(dims) > 0 && dims[0] <= 0 {
		dims = dims[1:]
	}
	if dims.NumUnknown() > 0 {
		return dataview.ColumnType{Kind: dataview.VarVector, Elem: out.DType}, nil
	}
	if len(dims) == 0 {
		return dataview.VectorOf(out.DType, 1), nil
	}
	return dataview.VectorOf(out.DType, dims...), nil
}

// Mode selects which column kinds a binding accepts.
type Mode int

const (
	// Inference accepts fixed-size vector columns only.
	Inference Mode = iota
	// Training also accepts scalar columns.
	Training
)

// ColumnBinding ties a graph input to a column of a concrete schema.
type ColumnBinding struct {
	// Column is the resolved column index.
	Column int
	Name   string
	// Tensor is the input's op name, used as the feed key.
	Tensor string
	Vector bool
	Elem   tensor.DataType
	// Shape is the fully specified per-example shape.
	Shape tensor.Shape
}

// BindColumn binds the named column of schema to input.
func BindColumn(schema dataview.Schema, column string, input TensorInfo, mode Mode) (*ColumnBinding, error) {
	idx, ok := schema.Lookup(column)
	if !ok {
		return nil, errs.New(errs.ErrSchema, "bind column", column, "column not found in input schema")
	}
	ct := schema.Column(idx).Type

	var dims []int
	switch ct.Kind {
	case dataview.Vector:
		dims = ct.Dims
	case dataview.Scalar:
		if mode != Training {
			return nil, errs.New(errs.ErrUnsupported, "bind column", column, "scalar columns cannot feed inference inputs, use a vector column")
		}
		dims = []int{1}
	default:
		return nil, errs.New(errs.ErrUnsupported, "bind column", column, "%s columns cannot feed graph inputs", ct.Kind)
	}

	if ct.Elem != input.DType {
		return nil, errs.New(errs.ErrTypeMismatch, "bind column", column,
			"column holds %s, tensor %q expects %s", ct.Elem, input.Name, input.DType)
	}

	shape, err := ReconcileShape(input.Declared, dims)
	if err != nil {
		e := errs.Wrap(errs.ErrShapeMismatch, "bind column", column, err)
		e.Msg = "tensor " + input.Name
		return nil, e
	}
	return &ColumnBinding{
		Column: idx,
		Name:   column,
		Tensor: input.Op,
		Vector: ct.Kind != dataview.Scalar,
		Elem:   ct.Elem,
		Shape:  shape,
	}, nil
}

// BatchShape returns the shape of a batch of n examples.
func (b *ColumnBinding) BatchShape(n int) tensor.Shape {
	if len(b.Shape) == 0 {
		return tensor.Shape{n}
	}
	return b.Shape.WithBatch(n)
}

// Size returns the number of values in one example.
func (b *ColumnBinding) Size() int {
	return b.Shape.NumElements()
}
