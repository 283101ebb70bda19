// Package getter converts pipeline cells into tensors.
//
// A Getter reads one cell into a tensor shaped as a single example. A
// Buffering getter accumulates cells into a pre-sized batch buffer and wraps
// it as one batch tensor on Flush. Implementations are generic over the
// element type; New and NewBuffering select one from the binding's element
// type and cardinality.
package getter

import (
	"github.com/born-ml/tftransform/internal/binder"
	"github.com/born-ml/tftransform/internal/dataview"
	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/tensor"
)

// Getter reads the current row of a cursor as a single-example tensor.
// Getters are called once per row, in row order, from one goroutine.
type Getter interface {
	Tensor(cur dataview.Cursor) (*tensor.Tensor, error)
}

// Buffering accumulates rows into a batch tensor.
type Buffering interface {
	// Append reads the current row into the next buffer slot.
	Append(cur dataview.Cursor) error
	// Len returns the number of buffered examples.
	Len() int
	// Flush wraps a full buffer as a batch tensor and resets the fill cursor.
	// The tensor aliases the buffer and is valid until the next Append.
	Flush() (*tensor.Tensor, error)
	// Reset drops the buffered examples.
	Reset()
}

// New returns the single-example getter for b.
//
//nolint:gocyclo // one case per element type
func New(b *binder.ColumnBinding) (Getter, error) {
	switch b.Elem {
	case tensor.Float32:
		return &single[float32]{reader: newReader[float32](b)}, nil
	case tensor.Float64:
		return &single[float64]{reader: newReader[float64](b)}, nil
	case tensor.Int8:
		return &single[int8]{reader: newReader[int8](b)}, nil
	case tensor.Int16:
		return &single[int16]{reader: newReader[int16](b)}, nil
	case tensor.Int32:
		return &single[int32]{reader: newReader[int32](b)}, nil
	case tensor.Int64:
		return &single[int64]{reader: newReader[int64](b)}, nil
	case tensor.Uint8:
		return &single[uint8]{reader: newReader[uint8](b)}, nil
	case tensor.Uint16:
		return &single[uint16]{reader: newReader[uint16](b)}, nil
	case tensor.Bool:
		return &single[bool]{reader: newReader[bool](b)}, nil
	case tensor.String:
		return &single[string]{reader: newReader[string](b)}, nil
	default:
		return nil, errs.New(errs.ErrUnsupported, "new getter", b.Name, "element type %s", b.Elem)
	}
}

// NewBuffering returns a getter buffering batchSize examples of b.
//
//nolint:gocyclo // one case per element type
func NewBuffering(b *binder.ColumnBinding, batchSize int) (Buffering, error) {
	if batchSize <= 0 {
		return nil, errs.New(errs.ErrConfig, "new getter", b.Name, "batch size must be positive, got %d", batchSize)
	}
	switch b.Elem {
	case tensor.Float32:
		return newBuffering[float32](b, batchSize), nil
	case tensor.Float64:
		return newBuffering[float64](b, batchSize), nil
	case tensor.Int8:
		return newBuffering[int8](b, batchSize), nil
	case tensor.Int16:
		return newBuffering[int16](b, batchSize), nil
	case tensor.Int32:
		return newBuffering[int32](b, batchSize), nil
	case tensor.Int64:
		return newBuffering[int64](b, batchSize), nil
	case tensor.Uint8:
		return newBuffering[uint8](b, batchSize), nil
	case tensor.Uint16:
		return newBuffering[uint16](b, batchSize), nil
	case tensor.Bool:
		return newBuffering[bool](b, batchSize), nil
	case tensor.String:
		return newBuffering[string](b, batchSize), nil
	default:
		return nil, errs.New(errs.ErrUnsupported, "new getter", b.Name, "element type %s", b.Elem)
	}
}

// reader scans one cell of a bound column, scalar or vector.
type reader[T tensor.Element] struct {
	b       *binder.ColumnBinding
	size    int
	scratch []T
}

func newReader[T tensor.Element](b *binder.ColumnBinding) reader[T] {
	return reader[T]{b: b, size: b.Size()}
}

// read returns the current cell's values. The slice is reused by the next read.
func (r *reader[T]) read(cur dataview.Cursor) ([]T, error) {
	if r.b.Vector {
		if err := cur.Scan(r.b.Column, &r.scratch); err != nil {
			return nil, err
		}
	} else {
		var v T
		if err := cur.Scan(r.b.Column, &v); err != nil {
			return nil, err
		}
		r.scratch = append(r.scratch[:0], v)
	}
	if len(r.scratch) != r.size {
		return nil, errs.New(errs.ErrShapeMismatch, "read cell", r.b.Name,
			"row %d has %d values, shape %s needs %d", cur.Position(), len(r.scratch), r.b.Shape, r.size)
	}
	return r.scratch, nil
}

type single[T tensor.Element] struct {
	reader reader[T]
}

func (g *single[T]) Tensor(cur dataview.Cursor) (*tensor.Tensor, error) {
	vals, err := g.reader.read(cur)
	if err != nil {
		return nil, err
	}
	return tensor.FromSlice(append([]T(nil), vals...), g.reader.b.Shape)
}

type buffering[T tensor.Element] struct {
	reader reader[T]
	batch  int
	buf    []T
	n      int
}

func newBuffering[T tensor.Element](b *binder.ColumnBinding, batchSize int) *buffering[T] {
	return &buffering[T]{
		reader: newReader[T](b),
		batch:  batchSize,
		buf:    make([]T, batchSize*b.Size()),
	}
}

func (g *buffering[T]) Append(cur dataview.Cursor) error {
	if g.n == g.batch {
		return errs.New(errs.ErrConfig, "buffer row", g.reader.b.Name, "buffer already holds %d examples", g.batch)
	}
	vals, err := g.reader.read(cur)
	if err != nil {
		return err
	}
	copy(g.buf[g.n*g.reader.size:], vals)
	g.n++
	return nil
}

func (g *buffering[T]) Len() int { return g.n }

func (g *buffering[T]) Flush() (*tensor.Tensor, error) {
	if g.n != g.batch {
		return nil, errs.New(errs.ErrConfig, "flush batch", g.reader.b.Name, "buffer holds %d of %d examples", g.n, g.batch)
	}
	g.n = 0
	return tensor.FromSlice(g.buf, g.reader.b.BatchShape(g.batch))
}

func (g *buffering[T]) Reset() { g.n = 0 }
