package transform

import (
	"github.com/born-ml/tftransform/internal/binder"
	"github.com/born-ml/tftransform/internal/dataview"
	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/getter"
	"github.com/born-ml/tftransform/internal/tensor"
)

// Mapper binds a transform to one input schema. Bindings are resolved once
// here and reused for every row.
type Mapper struct {
	t       *Transform
	schema  dataview.Schema
	inputs  []*binder.ColumnBinding
	getters []getter.Getter
	outputs []dataview.Column
}

// NewMapper binds every configured input to its column in schema.
func (t *Transform) NewMapper(schema dataview.Schema) (*Mapper, error) {
	m := &Mapper{t: t, schema: schema}
	for i, in := range t.binding.Inputs {
		b, err := binder.BindColumn(schema, t.opts.Source(i), in, binder.Inference)
		if err != nil {
			return nil, err
		}
		g, err := getter.New(b)
		if err != nil {
			return nil, err
		}
		m.inputs = append(m.inputs, b)
		m.getters = append(m.getters, g)
		t.logger.Debug("Bound input column.", "column", b.Name, "tensor", in.Name, "shape", b.Shape.String())
	}

	for _, out := range t.binding.Outputs {
		ct, err := binder.OutputColumnType(out)
		if err != nil {
			return nil, err
		}
		m.outputs = append(m.outputs, dataview.Column{Name: out.Name, Type: ct})
	}
	return m, nil
}

// Inputs returns the resolved input bindings in configuration order.
func (m *Mapper) Inputs() []*binder.ColumnBinding {
	return m.inputs
}

// InputColumns returns the indices of the input schema columns read per row.
func (m *Mapper) InputColumns() []int {
	cols := make([]int, len(m.inputs))
	for i, b := range m.inputs {
		cols[i] = b.Column
	}
	return cols
}

// OutputColumns returns the columns the mapper produces, one per configured
// output in order.
func (m *Mapper) OutputColumns() []dataview.Column {
	return append([]dataview.Column(nil), m.outputs...)
}

// Rows returns the per-cursor executor for the given outputs, by index into
// OutputColumns. A nil list demands every output. cur must have the columns
// listed by InputColumns active.
func (m *Mapper) Rows(cur dataview.Cursor, outputs []int) (*Rows, error) {
	if outputs == nil {
		outputs = make([]int, len(m.outputs))
		for i := range outputs {
			outputs[i] = i
		}
	}
	r := &Rows{m: m, cur: cur, slot: make(map[int]int, len(outputs))}
	for _, i := range outputs {
		if i < 0 || i >= len(m.outputs) {
			return nil, errs.New(errs.ErrConfig, "rows", "", "output index %d out of range", i)
		}
		if _, ok := r.slot[i]; ok {
			continue
		}
		r.slot[i] = len(r.fetches)
		r.fetches = append(r.fetches, m.t.binding.Outputs[i].Op)
	}
	r.cache.reset()
	return r, nil
}

// outputCache holds the fetched outputs of the last row executed.
type outputCache struct {
	position int64
	values   []*tensor.Tensor
}

func (c *outputCache) reset() {
	c.position = -1
	c.values = nil
}

// Rows runs the graph for the rows of one cursor. Every output getter of a
// Rows shares its cache, so a row is executed at most once however many of
// its outputs are read. A Rows is used by one goroutine at a time.
type Rows struct {
	m       *Mapper
	cur     dataview.Cursor
	fetches []string
	slot    map[int]int // output index -> position in fetches
	cache   outputCache
}

// Getter returns the getter of output column i, which must be demanded.
func (r *Rows) Getter(i int) (*OutputGetter, error) {
	s, ok := r.slot[i]
	if !ok {
		return nil, errs.New(errs.ErrConfig, "output getter", "", "output %d is not demanded by this cursor", i)
	}
	return &OutputGetter{rows: r, slot: s, column: r.m.outputs[i]}, nil
}

// fetch returns the outputs of the cursor's current row, executing the graph
// when the row differs from the cached one.
func (r *Rows) fetch() ([]*tensor.Tensor, error) {
	pos := r.cur.Position()
	if pos < 0 {
		return nil, errs.New(errs.ErrConfig, "run", "", "cursor is not positioned on a row")
	}
	if r.cache.values != nil && r.cache.position == pos {
		return r.cache.values, nil
	}

	feeds := make(map[string]*tensor.Tensor, len(r.m.getters))
	for i, g := range r.m.getters {
		x, err := g.Tensor(r.cur)
		if err != nil {
			return nil, err
		}
		feeds[r.m.inputs[i].Tensor] = x
	}
	out, err := r.m.t.sess.Run(feeds, nil, r.fetches)
	if err != nil {
		r.cache.reset()
		return nil, errs.Wrap(errs.ErrEngine, "run", "", err)
	}
	if len(out) != len(r.fetches) {
		r.cache.reset()
		return nil, errs.New(errs.ErrEngine, "run", "", "engine returned %d tensors for %d fetches", len(out), len(r.fetches))
	}
	r.cache.position, r.cache.values = pos, out
	return out, nil
}

// OutputGetter reads one output column of the current row.
type OutputGetter struct {
	rows   *Rows
	slot   int
	column dataview.Column
}

// Column returns the output column read by g.
func (g *OutputGetter) Column() dataview.Column {
	return g.column
}

// Tensor returns the output tensor of the current row. The tensor is shared
// with the other getters and must not be modified.
func (g *OutputGetter) Tensor() (*tensor.Tensor, error) {
	out, err := g.rows.fetch()
	if err != nil {
		return nil, err
	}
	return out[g.slot], nil
}

// Scan copies the output of the current row into dst, a *[]T matching the
// column's element type. dst is resized to the tensor's element count.
func (g *OutputGetter) Scan(dst any) error {
	x, err := g.Tensor()
	if err != nil {
		return err
	}
	ct := g.column.Type
	if x.DType() != ct.Elem {
		return errs.New(errs.ErrTypeMismatch, "unpack", g.column.Name, "tensor holds %s, column %s", x.DType(), ct.Elem)
	}
	if ct.Kind == dataview.Vector && x.NumElements() != ct.Size() {
		return errs.New(errs.ErrShapeMismatch, "unpack", g.column.Name,
			"tensor of shape %s holds %d values, column holds %d", x.Shape(), x.NumElements(), ct.Size())
	}
	if err := unpack(x, dst); err != nil {
		return errs.Wrap(errs.ErrTypeMismatch, "unpack", g.column.Name, err)
	}
	return nil
}
