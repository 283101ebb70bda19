package transform

import (
	"fmt"

	"github.com/born-ml/tftransform/internal/tensor"
)

// unpack copies the flat values of x into dst, a *[]T of x's element type.
func unpack(x *tensor.Tensor, dst any) error {
	switch d := dst.(type) {
	case *[]float32:
		return fill(x, d)
	case *[]float64:
		return fill(x, d)
	case *[]int8:
		return fill(x, d)
	case *[]int16:
		return fill(x, d)
	case *[]int32:
		return fill(x, d)
	case *[]int64:
		return fill(x, d)
	case *[]uint8:
		return fill(x, d)
	case *[]uint16:
		return fill(x, d)
	case *[]bool:
		return fill(x, d)
	case *[]string:
		return fill(x, d)
	default:
		return fmt.Errorf("cannot unpack %s tensor into %T", x.DType(), dst)
	}
}

func fill[T tensor.Element](x *tensor.Tensor, dst *[]T) error {
	v, err := tensor.Values[T](x)
	if err != nil {
		return err
	}
	*dst = append((*dst)[:0], v...)
	return nil
}
