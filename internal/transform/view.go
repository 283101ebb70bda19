package transform

import (
	"github.com/born-ml/tftransform/internal/dataview"
	"github.com/born-ml/tftransform/internal/errs"
)

// Verify that MappedView implements dataview.View.
var _ dataview.View = (*MappedView)(nil)

// MappedView is an input view with the transform's output columns appended.
// Output cells are computed lazily, once per row, when first scanned.
type MappedView struct {
	input  dataview.View
	mapper *Mapper
	schema dataview.Schema
	width  int
}

// Apply binds t to the schema of input and returns the mapped view.
func (t *Transform) Apply(input dataview.View) (*MappedView, error) {
	m, err := t.NewMapper(input.Schema())
	if err != nil {
		return nil, err
	}
	cols := append(dataview.Columns(input.Schema()), m.OutputColumns()...)
	return &MappedView{
		input:  input,
		mapper: m,
		schema: dataview.NewSchema(cols...),
		width:  input.Schema().Len(),
	}, nil
}

// Mapper returns the mapper bound to the input schema.
func (v *MappedView) Mapper() *Mapper {
	return v.mapper
}

// Schema returns the input columns followed by the output columns.
func (v *MappedView) Schema() dataview.Schema {
	return v.schema
}

// RowCount returns the input row count.
func (v *MappedView) RowCount() (int64, bool) {
	return v.input.RowCount()
}

// Open returns a cursor over the listed columns. The graph runs only for
// rows whose output columns are scanned, and fetches only the outputs listed.
func (v *MappedView) Open(columns []int) (dataview.Cursor, error) {
	var inputs, outputs []int
	if columns != nil {
		inputs, outputs = []int{}, []int{}
		seen := make(map[int]bool)
		for _, col := range columns {
			switch {
			case col < 0 || col >= v.schema.Len():
				return nil, errs.New(errs.ErrSchema, "open cursor", "", "column index %d out of range", col)
			case col < v.width:
				if !seen[col] {
					inputs = append(inputs, col)
					seen[col] = true
				}
			default:
				outputs = append(outputs, col-v.width)
			}
		}
		if len(outputs) > 0 {
			for _, col := range v.mapper.InputColumns() {
				if !seen[col] {
					inputs = append(inputs, col)
					seen[col] = true
				}
			}
		}
	}

	cur, err := v.input.Open(inputs)
	if err != nil {
		return nil, err
	}
	c := &mappedCursor{Cursor: cur, width: v.width}
	if columns != nil && len(outputs) == 0 {
		return c, nil
	}
	rows, err := v.mapper.Rows(cur, outputs)
	if err != nil {
		_ = cur.Close()
		return nil, err
	}
	c.getters = make(map[int]*OutputGetter, len(rows.slot))
	for i := range rows.slot {
		g, err := rows.Getter(i)
		if err != nil {
			_ = cur.Close()
			return nil, err
		}
		c.getters[i] = g
	}
	return c, nil
}

// mappedCursor reads input columns from the wrapped cursor and output
// columns from the shared output getters.
type mappedCursor struct {
	dataview.Cursor
	width   int
	getters map[int]*OutputGetter
}

func (c *mappedCursor) Scan(col int, dst any) error {
	if col < c.width {
		return c.Cursor.Scan(col, dst)
	}
	g, ok := c.getters[col-c.width]
	if !ok {
		return errs.New(errs.ErrSchema, "scan", "", "output column %d is not active", col)
	}
	return g.Scan(dst)
}
