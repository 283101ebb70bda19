package binder

import (
	"math"

	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/tensor"
)

// ReconcileShape resolves a declared tensor shape against the dimensions of
// one column cell and returns the fully specified per-example shape.
//
// The leading declared dimension is the batch axis and resolves to 1 when
// unknown. A nil declared shape (unknown rank) becomes [1, colDims...].
// For a flat column (a single dimension) the known declared dimensions must
// divide the value count, and the remaining unknown dimensions share one
// inferred size d with known*d^k equal to the value count. For a
// multi-dimensional column each declared dimension after the batch axis must
// be unknown or equal the matching column dimension.
//
// The element count of the result always equals the column's value count.
func ReconcileShape(declared tensor.Shape, colDims []int) (tensor.Shape, error) {
	count := tensor.Shape(colDims).NumElements()
	if count <= 0 {
		return nil, errs.New(errs.ErrShapeMismatch, "reconcile shape", "", "column dimensions %v are not fully known", colDims)
	}

	if declared == nil {
		return append(tensor.Shape{1}, colDims...), nil
	}
	if len(declared) > 0 && declared[0] > 1 {
		return nil, errs.New(errs.ErrShapeMismatch, "reconcile shape", "",
			"declared batch dimension %d cannot hold a single example", declared[0])
	}

	if len(colDims) > 1 {
		return reconcileDims(declared, colDims)
	}
	return reconcileFlat(declared, count)
}

func reconcileFlat(declared tensor.Shape, count int) (tensor.Shape, error) {
	out := declared.Clone()
	if len(out) > 0 && out[0] <= 0 {
		out[0] = 1
	}

	known := out.KnownProduct()
	free := out.NumUnknown()
	if free == 0 {
		if known != count {
			return nil, errs.New(errs.ErrShapeMismatch, "reconcile shape", "",
				"declared shape %s holds %d values, column has %d", declared, known, count)
		}
		return out, nil
	}
	if count%known != 0 {
		return nil, errs.New(errs.ErrShapeMismatch, "reconcile shape", "",
			"column value count %d is not divisible by %d, the product of the known dimensions of %s", count, known, declared)
	}

	d, ok := intRoot(count/known, free)
	if !ok {
		return nil, errs.New(errs.ErrShapeMismatch, "reconcile shape", "",
			"cannot split %d values into %d equal unknown dimensions of %s", count/known, free, declared)
	}
	for i := range out {
		if out[i] <= 0 {
			out[i] = d
		}
	}
	return out, nil
}

func reconcileDims(declared tensor.Shape, colDims []int) (tensor.Shape, error) {
	if len(declared) != len(colDims)+1 {
		return nil, errs.New(errs.ErrShapeMismatch, "reconcile shape", "",
			"declared shape %s has rank %d, column dimensions %v need rank %d", declared, len(declared), colDims, len(colDims)+1)
	}
	for i, dim := range colDims {
		if want := declared[i+1]; want > 0 && want != dim {
			return nil, errs.New(errs.ErrShapeMismatch, "reconcile shape", "",
				"dimension %d is %d in declared shape %s, %d in column", i+1, want, declared, dim)
		}
	}
	return append(tensor.Shape{1}, colDims...), nil
}

// intRoot returns d with d^k == n when such an integer exists.
func intRoot(n, k int) (int, bool) {
	if k == 1 {
		return n, true
	}
	d := int(math.Round(math.Pow(float64(n), 1/float64(k))))
	if d < 1 {
		return 0, false
	}
	p := 1
	for range k {
		p *= d
	}
	return d, p == n
}
