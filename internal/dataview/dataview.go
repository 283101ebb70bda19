// Package dataview defines the pipeline's data-view contract: a schema of
// named, typed columns and a forward-only row cursor.
package dataview

import (
	"fmt"

	"github.com/born-ml/tftransform/internal/tensor"
)

// Kind distinguishes scalar cells from vector cells.
type Kind int

// Column kinds.
const (
	Scalar Kind = iota
	Vector      // fixed-size vector, Dims fully known
	VarVector   // vector whose length varies by row
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Vector:
		return "vector"
	case VarVector:
		return "var-vector"
	default:
		return "unknown"
	}
}

// ColumnType is the type of a column.
type ColumnType struct {
	Kind Kind
	Elem tensor.DataType
	// Dims are the logical dimensions of a Vector cell. A flat vector has one dimension.
	Dims []int
}

// ScalarOf returns the type of a scalar column.
func ScalarOf(elem tensor.DataType) ColumnType {
	return ColumnType{Kind: Scalar, Elem: elem}
}

// VectorOf returns the type of a fixed-size vector column with the given dimensions.
func VectorOf(elem tensor.DataType, dims ...int) ColumnType {
	return ColumnType{Kind: Vector, Elem: elem, Dims: append([]int(nil), dims...)}
}

// IsVector reports whether cells hold more than one value.
func (c ColumnType) IsVector() bool {
	return c.Kind == Vector || c.Kind == VarVector
}

// Size returns the number of values in a cell: 1 for scalars, 0 for variable-length vectors.
func (c ColumnType) Size() int {
	switch c.Kind {
	case Scalar:
		return 1
	case Vector:
		return tensor.Shape(c.Dims).NumElements()
	default:
		return 0
	}
}

// String formats the type as e.g. vector<float32>[224,224,3].
func (c ColumnType) String() string {
	if c.Kind == Scalar {
		return c.Elem.String()
	}
	return fmt.Sprintf("%s<%s>%s", c.Kind, c.Elem, tensor.Shape(c.Dims))
}

// Column is a named, typed column.
type Column struct {
	Name string
	Type ColumnType
}

// Schema describes the columns of a view.
type Schema interface {
	Len() int
	Column(i int) Column
	// Lookup returns the index of the named column.
	Lookup(name string) (int, bool)
}

// View is a source of rows.
type View interface {
	Schema() Schema
	// RowCount returns the number of rows when it is known without a scan.
	RowCount() (int64, bool)
	// Open returns a cursor over the view. Only the listed columns need to be
	// readable through the cursor; a nil list means every column.
	Open(columns []int) (Cursor, error)
}

// Cursor is a forward-only iterator over the rows of a View.
// A Cursor is used by one goroutine at a time.
type Cursor interface {
	// Next advances to the next row.
	Next() bool
	// Position is the zero-based index of the current row.
	Position() int64
	// Scan copies the current row's cell of column col into dst. For scalar
	// columns dst is a *T; for vector columns it is a *[]T, resized as needed.
	// T must match the column's element type.
	Scan(col int, dst any) error
	// Err returns the error, if any, that stopped iteration.
	Err() error
	Close() error
}

// schema is a slice-backed Schema.
type schema struct {
	cols  []Column
	index map[string]int
}

// NewSchema returns a Schema over cols. When names repeat the last column wins
// lookups, matching how pipelines shadow columns.
func NewSchema(cols ...Column) Schema {
	s := &schema{cols: append([]Column(nil), cols...), index: make(map[string]int, len(cols))}
	for i, c := range s.cols {
		s.index[c.Name] = i
	}
	return s
}

func (s *schema) Len() int { return len(s.cols) }

func (s *schema) Column(i int) Column { return s.cols[i] }

func (s *schema) Lookup(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Columns returns every column of s in order.
func Columns(s Schema) []Column {
	out := make([]Column, s.Len())
	for i := range out {
		out[i] = s.Column(i)
	}
	return out
}
