// Package arrowview exposes Apache Arrow record batches as a dataview.View.
//
// Column mapping:
//   - primitive fields are scalar columns
//   - fixed_size_list fields are vector columns; their logical dimensions
//     are read from the field metadata key "shape" ("224,224,3"), defaulting
//     to the flat list size
//   - list fields are variable-length vector columns
package arrowview

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"

	"github.com/born-ml/tftransform/internal/dataview"
	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/tensor"
)

// ShapeKey is the field metadata key holding a vector column's dimensions.
const ShapeKey = "shape"

// Verify that View implements dataview.View.
var _ dataview.View = (*View)(nil)

// View is a dataview.View over a sequence of records sharing one schema.
type View struct {
	schema  dataview.Schema
	records []arrow.Record
	rows    int64
}

// New returns a view over records, retaining each of them. Call Release when done.
func New(schema *arrow.Schema, records ...arrow.Record) (*View, error) {
	cols := make([]dataview.Column, schema.NumFields())
	for i, f := range schema.Fields() {
		ct, err := ColumnTypeOf(f)
		if err != nil {
			return nil, err
		}
		cols[i] = dataview.Column{Name: f.Name, Type: ct}
	}

	v := &View{schema: dataview.NewSchema(cols...)}
	for i, rec := range records {
		if !rec.Schema().Equal(schema) {
			return nil, errs.New(errs.ErrSchema, "arrow view", "", "record %d has schema %s, want %s", i, rec.Schema(), schema)
		}
	}
	for _, rec := range records {
		rec.Retain()
		v.records = append(v.records, rec)
		v.rows += rec.NumRows()
	}
	return v, nil
}

// Release releases the retained records.
func (v *View) Release() {
	for _, rec := range v.records {
		rec.Release()
	}
	v.records = nil
}

// Schema returns the column schema.
func (v *View) Schema() dataview.Schema {
	return v.schema
}

// RowCount returns the total number of rows across records.
func (v *View) RowCount() (int64, bool) {
	return v.rows, true
}

// Open returns a cursor reading the listed columns.
func (v *View) Open(columns []int) (dataview.Cursor, error) {
	c := &cursor{v: v, row: -1, pos: -1}
	if columns != nil {
		c.active = make(map[int]bool, len(columns))
		for _, col := range columns {
			if col < 0 || col >= v.schema.Len() {
				return nil, errs.New(errs.ErrSchema, "open cursor", "", "column index %d out of range", col)
			}
			c.active[col] = true
		}
	}
	return c, nil
}

// ColumnTypeOf maps an Arrow field to a column type.
func ColumnTypeOf(f arrow.Field) (dataview.ColumnType, error) {
	switch dt := f.Type.(type) {
	case *arrow.FixedSizeListType:
		elem, ok := elemOf(dt.Elem())
		if !ok {
			return dataview.ColumnType{}, errs.New(errs.ErrUnsupported, "arrow view", f.Name, "element type %s", dt.Elem())
		}
		dims, err := dimsOf(f, int(dt.Len()))
		if err != nil {
			return dataview.ColumnType{}, err
		}
		return dataview.VectorOf(elem, dims...), nil
	case *arrow.ListType:
		elem, ok := elemOf(dt.Elem())
		if !ok {
			return dataview.ColumnType{}, errs.New(errs.ErrUnsupported, "arrow view", f.Name, "element type %s", dt.Elem())
		}
		return dataview.ColumnType{Kind: dataview.VarVector, Elem: elem}, nil
	default:
		elem, ok := elemOf(f.Type)
		if !ok {
			return dataview.ColumnType{}, errs.New(errs.ErrUnsupported, "arrow view", f.Name, "field type %s", f.Type)
		}
		return dataview.ScalarOf(elem), nil
	}
}

func elemOf(dt arrow.DataType) (tensor.DataType, bool) {
	switch dt.ID() {
	case arrow.FLOAT32:
		return tensor.Float32, true
	case arrow.FLOAT64:
		return tensor.Float64, true
	case arrow.INT8:
		return tensor.Int8, true
	case arrow.INT16:
		return tensor.Int16, true
	case arrow.INT32:
		return tensor.Int32, true
	case arrow.INT64:
		return tensor.Int64, true
	case arrow.UINT8:
		return tensor.Uint8, true
	case arrow.UINT16:
		return tensor.Uint16, true
	case arrow.BOOL:
		return tensor.Bool, true
	case arrow.STRING:
		return tensor.String, true
	default:
		return tensor.Invalid, false
	}
}

func dimsOf(f arrow.Field, size int) ([]int, error) {
	i := f.Metadata.FindKey(ShapeKey)
	if i < 0 {
		return []int{size}, nil
	}
	parts := strings.Split(f.Metadata.Values()[i], ",")
	dims := make([]int, len(parts))
	for j, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || d <= 0 {
			return nil, errs.New(errs.ErrSchema, "arrow view", f.Name, "invalid shape metadata %q", f.Metadata.Values()[i])
		}
		dims[j] = d
	}
	if n := tensor.Shape(dims).NumElements(); n != size {
		return nil, errs.New(errs.ErrSchema, "arrow view", f.Name, "shape %v holds %d values, list size is %d", dims, n, size)
	}
	return dims, nil
}

// VectorField returns a fixed-size-list field whose metadata records dims.
func VectorField(name string, elem arrow.DataType, dims ...int) arrow.Field {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.Itoa(d)
	}
	return arrow.Field{
		Name:     name,
		Type:     arrow.FixedSizeListOf(int32(tensor.Shape(dims).NumElements()), elem),
		Metadata: arrow.NewMetadata([]string{ShapeKey}, []string{strings.Join(parts, ",")}),
	}
}

// AppendRow appends one row to b. Each value is a scalar for primitive
// fields or a slice for list fields, of the field's element type.
func AppendRow(b *array.RecordBuilder, values ...any) error {
	if len(values) != len(b.Fields()) {
		return fmt.Errorf("got %d values for %d fields", len(values), len(b.Fields()))
	}
	for i, v := range values {
		var err error
		switch fb := b.Field(i).(type) {
		case *array.FixedSizeListBuilder:
			fb.Append(true)
			err = appendValues(fb.ValueBuilder(), v)
		case *array.ListBuilder:
			fb.Append(true)
			err = appendValues(fb.ValueBuilder(), v)
		default:
			err = appendValue(fb, v)
		}
		if err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
	}
	return nil
}

//nolint:gocyclo // one case per element type
func appendValues(b array.Builder, v any) error {
	switch vb := b.(type) {
	case *array.Float32Builder:
		if x, ok := v.([]float32); ok {
			vb.AppendValues(x, nil)
			return nil
		}
	case *array.Float64Builder:
		if x, ok := v.([]float64); ok {
			vb.AppendValues(x, nil)
			return nil
		}
	case *array.Int8Builder:
		if x, ok := v.([]int8); ok {
			vb.AppendValues(x, nil)
			return nil
		}
	case *array.Int16Builder:
		if x, ok := v.([]int16); ok {
			vb.AppendValues(x, nil)
			return nil
		}
	case *array.Int32Builder:
		if x, ok := v.([]int32); ok {
			vb.AppendValues(x, nil)
			return nil
		}
	case *array.Int64Builder:
		if x, ok := v.([]int64); ok {
			vb.AppendValues(x, nil)
			return nil
		}
	case *array.Uint8Builder:
		if x, ok := v.([]uint8); ok {
			vb.AppendValues(x, nil)
			return nil
		}
	case *array.Uint16Builder:
		if x, ok := v.([]uint16); ok {
			vb.AppendValues(x, nil)
			return nil
		}
	case *array.BooleanBuilder:
		if x, ok := v.([]bool); ok {
			vb.AppendValues(x, nil)
			return nil
		}
	case *array.StringBuilder:
		if x, ok := v.([]string); ok {
			vb.AppendValues(x, nil)
			return nil
		}
	}
	return fmt.Errorf("cannot append %T to %T", v, b)
}

//nolint:gocyclo // one case per element type
func appendValue(b array.Builder, v any) error {
	switch vb := b.(type) {
	case *array.Float32Builder:
		if x, ok := v.(float32); ok {
			vb.Append(x)
			return nil
		}
	case *array.Float64Builder:
		if x, ok := v.(float64); ok {
			vb.Append(x)
			return nil
		}
	case *array.Int8Builder:
		if x, ok := v.(int8); ok {
			vb.Append(x)
			return nil
		}
	case *array.Int16Builder:
		if x, ok := v.(int16); ok {
			vb.Append(x)
			return nil
		}
	case *array.Int32Builder:
		if x, ok := v.(int32); ok {
			vb.Append(x)
			return nil
		}
	case *array.Int64Builder:
		if x, ok := v.(int64); ok {
			vb.Append(x)
			return nil
		}
	case *array.Uint8Builder:
		if x, ok := v.(uint8); ok {
			vb.Append(x)
			return nil
		}
	case *array.Uint16Builder:
		if x, ok := v.(uint16); ok {
			vb.Append(x)
			return nil
		}
	case *array.BooleanBuilder:
		if x, ok := v.(bool); ok {
			vb.Append(x)
			return nil
		}
	case *array.StringBuilder:
		if x, ok := v.(string); ok {
			vb.Append(x)
			return nil
		}
	}
	return fmt.Errorf("cannot append %T to %T", v, b)
}
