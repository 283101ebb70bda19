package arrowview

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"

	"github.com/born-ml/tftransform/internal/dataview"
	"github.com/born-ml/tftransform/internal/errs"
)

// cursor walks the records of a View in order.
type cursor struct {
	v      *View
	active map[int]bool // nil means every column
	rec    int
	row    int
	pos    int64
	closed bool
}

func (c *cursor) Next() bool {
	if c.closed {
		return false
	}
	c.row++
	for c.rec < len(c.v.records) && int64(c.row) >= c.v.records[c.rec].NumRows() {
		c.rec++
		c.row = 0
	}
	if c.rec >= len(c.v.records) {
		c.closed = true
		return false
	}
	c.pos++
	return true
}

func (c *cursor) Position() int64 { return c.pos }

func (c *cursor) Err() error { return nil }

func (c *cursor) Close() error {
	c.closed = true
	return nil
}

func (c *cursor) Scan(col int, dst any) error {
	if c.closed || c.pos < 0 {
		return errs.New(errs.ErrConfig, "scan", "", "cursor is not positioned on a row")
	}
	if c.active != nil && !c.active[col] {
		return errs.New(errs.ErrSchema, "scan", c.v.schema.Column(col).Name, "column is not active")
	}
	name := c.v.schema.Column(col).Name
	arr := c.v.records[c.rec].Column(col)
	if arr.IsNull(c.row) {
		return errs.New(errs.ErrSchema, "scan", name, "null value at row %d", c.pos)
	}

	var err error
	if c.v.schema.Column(col).Type.Kind == dataview.Scalar {
		err = scanScalar(arr, c.row, dst)
	} else {
		l, ok := arr.(array.ListLike)
		if !ok {
			return errs.New(errs.ErrUnsupported, "scan", name, "array type %s", arr.DataType())
		}
		start, end := l.ValueOffsets(c.row)
		err = scanVector(l.ListValues(), int(start), int(end), dst)
	}
	if err != nil {
		return errs.Wrap(errs.ErrTypeMismatch, "scan", name, err)
	}
	return nil
}

func scanScalar(arr arrow.Array, row int, dst any) error {
	switch a := arr.(type) {
	case *array.Float32:
		return set(dst, a.Value(row))
	case *array.Float64:
		return set(dst, a.Value(row))
	case *array.Int8:
		return set(dst, a.Value(row))
	case *array.Int16:
		return set(dst, a.Value(row))
	case *array.Int32:
		return set(dst, a.Value(row))
	case *array.Int64:
		return set(dst, a.Value(row))
	case *array.Uint8:
		return set(dst, a.Value(row))
	case *array.Uint16:
		return set(dst, a.Value(row))
	case *array.Boolean:
		return set(dst, a.Value(row))
	case *array.String:
		return set(dst, a.Value(row))
	default:
		return errs.New(errs.ErrUnsupported, "scan", "", "array type %s", arr.DataType())
	}
}

func scanVector(values arrow.Array, start, end int, dst any) error {
	switch a := values.(type) {
	case *array.Float32:
		return assign(dst, a.Float32Values()[start:end])
	case *array.Float64:
		return assign(dst, a.Float64Values()[start:end])
	case *array.Int8:
		return assign(dst, a.Int8Values()[start:end])
	case *array.Int16:
		return assign(dst, a.Int16Values()[start:end])
	case *array.Int32:
		return assign(dst, a.Int32Values()[start:end])
	case *array.Int64:
		return assign(dst, a.Int64Values()[start:end])
	case *array.Uint8:
		return assign(dst, a.Uint8Values()[start:end])
	case *array.Uint16:
		return assign(dst, a.Uint16Values()[start:end])
	case *array.Boolean:
		return assign(dst, collect(start, end, a.Value))
	case *array.String:
		return assign(dst, collect(start, end, a.Value))
	default:
		return errs.New(errs.ErrUnsupported, "scan", "", "value array type %s", values.DataType())
	}
}

func set[T any](dst any, v T) error {
	d, ok := dst.(*T)
	if !ok {
		return errs.New(errs.ErrTypeMismatch, "scan", "", "cannot scan %T into %T", v, dst)
	}
	*d = v
	return nil
}

func assign[T any](dst any, src []T) error {
	d, ok := dst.(*[]T)
	if !ok {
		return errs.New(errs.ErrTypeMismatch, "scan", "", "cannot scan %T into %T", src, dst)
	}
	*d = append((*d)[:0], src...)
	return nil
}

func collect[T any](start, end int, at func(int) T) []T {
	out := make([]T, end-start)
	for i := range out {
		out[i] = at(start + i)
	}
	return out
}
