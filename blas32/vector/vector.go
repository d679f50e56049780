package vector

import (
	"fmt"
	"gonum.org/v1/gonum/blas/blas32"
	"slices"
)

func NewZeros(n int) blas32.Vector {
	return blas32.Vector{
		N:    n,
		Inc:  1,
		Data: make([]float32, n),
	}
}

func NewZerosLike(vec blas32.Vector) blas32.Vector {
	return NewZeros(vec.N)
}

func Clone(vec blas32.Vector) blas32.Vector {
	return blas32.Vector{
		N:    vec.N,
		Inc:  vec.Inc,
		Data: slices.Clone(vec.Data),
	}
}

// CopyInto は形状が一致する場合のみ src を dst へ書き込む。
func CopyInto(dst, src blas32.Vector) error {
	if dst.N != src.N {
		return fmt.Errorf("vector.CopyInto: dst.N = %d, src.N = %d", dst.N, src.N)
	}
	if dst.N == 0 {
		return nil
	}
	blas32.Copy(src, dst)
	return nil
}
