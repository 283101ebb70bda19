package tensor

import "fmt"

// Unknown marks a dimension whose size is not declared by the graph.
const Unknown = -1

// Shape represents the dimensions of a tensor. A dimension may be Unknown.
// A nil Shape means the rank itself is unknown.
type Shape []int

// NumElements returns the total number of elements in a fully specified shape.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// KnownProduct returns the product of the positive dimensions, skipping unknown ones.
func (s Shape) KnownProduct() int {
	n := 1
	for _, dim := range s {
		if dim > 0 {
			n *= dim
		}
	}
	return n
}

// NumUnknown returns how many dimensions are Unknown.
func (s Shape) NumUnknown() int {
	n := 0
	for _, dim := range s {
		if dim <= 0 {
			n++
		}
	}
	return n
}

// IsFullyDefined reports whether every dimension is a concrete positive size.
func (s Shape) IsFullyDefined() bool {
	return s != nil && s.NumUnknown() == 0
}

// Validate checks if the shape is valid (all dimensions > 0).
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// WithBatch returns a copy of s whose leading dimension is replaced by n.
func (s Shape) WithBatch(n int) Shape {
	out := s.Clone()
	if len(out) > 0 {
		out[0] = n
	}
	return out
}

// String formats the shape as [d0,d1,...] with ? for unknown dimensions.
func (s Shape) String() string {
	if s == nil {
		return "<unknown>"
	}
	buf := []byte{'['}
	for i, dim := range s {
		if i > 0 {
			buf = append(buf, ',')
		}
		if dim <= 0 {
			buf = append(buf, '?')
			continue
		}
		buf = fmt.Appendf(buf, "%d", dim)
	}
	return string(append(buf, ']'))
}

// FromInt64 converts engine-style int64 dimensions, mapping negative sizes to Unknown.
func FromInt64(dims []int64) Shape {
	if dims == nil {
		return nil
	}
	s := make(Shape, len(dims))
	for i, d := range dims {
		if d < 0 {
			s[i] = Unknown
			continue
		}
		s[i] = int(d)
	}
	return s
}
