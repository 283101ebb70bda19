package tensor

import "fmt"

// Tensor is a typed, shaped value. Its data is a flat row-major slice whose
// element type matches DType.
type Tensor struct {
	shape Shape
	dtype DataType
	data  any
}

// New allocates a zero-valued tensor of the given type and fully specified shape.
func New(dtype DataType, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	n := shape.NumElements()
	var data any
	switch dtype {
	case Float32:
		data = make([]float32, n)
	case Float64:
		data = make([]float64, n)
	case Int8:
		data = make([]int8, n)
	case Int16:
		data = make([]int16, n)
	case Int32:
		data = make([]int32, n)
	case Int64:
		data = make([]int64, n)
	case Uint8:
		data = make([]uint8, n)
	case Uint16:
		data = make([]uint16, n)
	case Bool:
		data = make([]bool, n)
	case String:
		data = make([]string, n)
	default:
		return nil, fmt.Errorf("unsupported data type %s", dtype)
	}
	return &Tensor{shape: shape.Clone(), dtype: dtype, data: data}, nil
}

// FromSlice wraps data as a tensor of the given shape without copying.
// The caller must not modify data while the tensor is in use.
func FromSlice[T Element](data []T, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if n := shape.NumElements(); n != len(data) {
		return nil, fmt.Errorf("shape %s needs %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{shape: shape.Clone(), dtype: DataTypeOf[T](), data: data}, nil
}

// Scalar wraps a single value as a rank-0 tensor.
func Scalar[T Element](v T) *Tensor {
	return &Tensor{shape: Shape{}, dtype: DataTypeOf[T](), data: []T{v}}
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return t.shape.NumElements()
}

// Data returns the flat element slice as an untyped value.
func (t *Tensor) Data() any {
	return t.data
}

// Values returns the flat element slice of t as []T.
func Values[T Element](t *Tensor) ([]T, error) {
	v, ok := t.data.([]T)
	if !ok {
		var zero T
		return nil, fmt.Errorf("tensor dtype is %s, not %T", t.dtype, zero)
	}
	return v, nil
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (t *Tensor) AsFloat32() []float32 {
	return mustValues[float32](t)
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (t *Tensor) AsFloat64() []float64 {
	return mustValues[float64](t)
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (t *Tensor) AsInt32() []int32 {
	return mustValues[int32](t)
}

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (t *Tensor) AsInt64() []int64 {
	return mustValues[int64](t)
}

// AsString interprets the data as []string.
// Panics if the tensor's dtype is not String.
func (t *Tensor) AsString() []string {
	return mustValues[string](t)
}

// Float64s converts numeric tensor data to float64, which is how losses and
// metrics are accumulated regardless of the graph's element type.
func (t *Tensor) Float64s() ([]float64, error) {
	switch v := t.data.(type) {
	case []float32:
		return convert(v), nil
	case []float64:
		return v, nil
	case []int8:
		return convert(v), nil
	case []int16:
		return convert(v), nil
	case []int32:
		return convert(v), nil
	case []int64:
		return convert(v), nil
	case []uint8:
		return convert(v), nil
	case []uint16:
		return convert(v), nil
	default:
		return nil, fmt.Errorf("tensor dtype %s is not numeric", t.dtype)
	}
}

// Reshape returns a tensor sharing t's data with a new shape of equal size.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if shape.NumElements() != t.NumElements() {
		return nil, fmt.Errorf("cannot reshape %s to %s", t.shape, shape)
	}
	return &Tensor{shape: shape.Clone(), dtype: t.dtype, data: t.data}, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%s, %s)", t.dtype, t.shape)
}

func mustValues[T Element](t *Tensor) []T {
	v, err := Values[T](t)
	if err != nil {
		panic(err.Error())
	}
	return v
}

type number interface {
	~float32 | ~float64 | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16
}

func convert[T number](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
