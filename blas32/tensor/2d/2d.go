package tensor2d

import (
	"fmt"
	"github.com/sw965/ganbert/mathx/randx"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"math"
	"math/rand/v2"
	"slices"
)

func NewZeros(rows, cols int) blas32.General {
	return blas32.General{
		Rows:   rows,
		Cols:   cols,
		Stride: cols,
		Data:   make([]float32, rows*cols),
	}
}

func NewZerosLike(gen blas32.General) blas32.General {
	return NewZeros(gen.Rows, gen.Cols)
}

func NewHe(rows, cols int, rng *rand.Rand) blas32.General {
	gen := NewZeros(rows, cols)
	fanIn := float64(rows)
	std := math.Sqrt(2.0 / fanIn)
	for i := range gen.Data {
		gen.Data[i] = float32(rng.NormFloat64() * std)
	}
	return gen
}

func NewUniform(rows, cols int, low, high float32, rng *rand.Rand) blas32.General {
	gen := NewZeros(rows, cols)
	for i := range gen.Data {
		gen.Data[i] = randx.Uniform(low, high, rng)
	}
	return gen
}

func N(gen blas32.General) int {
	return gen.Rows * gen.Cols
}

func Clone(gen blas32.General) blas32.General {
	return blas32.General{
		Rows:   gen.Rows,
		Cols:   gen.Cols,
		Stride: gen.Stride,
		Data:   slices.Clone(gen.Data),
	}
}

func At(gen blas32.General, row, col int) int {
	return row*gen.Stride + col
}

func Row(gen blas32.General, row int) []float32 {
	offset := row * gen.Stride
	return gen.Data[offset : offset+gen.Cols]
}

func ToVector(gen blas32.General) blas32.Vector {
	return blas32.Vector{
		N:    N(gen),
		Inc:  1,
		Data: gen.Data,
	}
}

func Axpy(alpha float32, x, y blas32.General) {
	if N(x) == 0 {
		return
	}
	xv := ToVector(x)
	yv := ToVector(y)
	blas32.Axpy(alpha, xv, yv)
}

func SameShape(a, b blas32.General) bool {
	return a.Rows == b.Rows && a.Cols == b.Cols
}

// CopyInto は形状が一致する場合のみ src を dst へ書き込む。
func CopyInto(dst, src blas32.General) error {
	if !SameShape(dst, src) {
		return fmt.Errorf("tensor2d.CopyInto: dst is %dx%d, src is %dx%d", dst.Rows, dst.Cols, src.Rows, src.Cols)
	}
	for r := 0; r < src.Rows; r++ {
		copy(Row(dst, r), Row(src, r))
	}
	return nil
}

// Sum0 は行方向(バッチ軸)の総和を返す。
func Sum0(gen blas32.General) blas32.Vector {
	sums := make([]float32, gen.Cols)
	for r := 0; r < gen.Rows; r++ {
		for c, e := range Row(gen, r) {
			sums[c] += e
		}
	}

	return blas32.Vector{
		N:    gen.Cols,
		Inc:  1,
		Data: sums,
	}
}

func Mean0(gen blas32.General) blas32.Vector {
	mean := Sum0(gen)
	if gen.Rows != 0 {
		blas32.Scal(1.0/float32(gen.Rows), mean)
	}
	return mean
}

func Dot(tA, tB blas.Transpose, a, b blas32.General) blas32.General {
	rows := a.Rows
	if tA == blas.Trans {
		rows = a.Cols
	}
	cols := b.Cols
	if tB == blas.Trans {
		cols = b.Rows
	}
	y := NewZeros(rows, cols)
	blas32.Gemm(tA, tB, 1.0, a, b, 0.0, y)
	return y
}

// AddRowVector は全ての行に vec を加算する。
func AddRowVector(gen blas32.General, vec blas32.Vector) {
	for r := 0; r < gen.Rows; r++ {
		row := Row(gen, r)
		for c := range row {
			row[c] += vec.Data[c]
		}
	}
}

// VStack はバッチ軸で行列を連結する。引数の順序がそのまま行の順序になる。
func VStack(gens ...blas32.General) (blas32.General, error) {
	if len(gens) == 0 {
		return blas32.General{}, fmt.Errorf("tensor2d.VStack: no input")
	}
	cols := gens[0].Cols
	rows := 0
	for _, g := range gens {
		if g.Cols != cols {
			return blas32.General{}, fmt.Errorf("tensor2d.VStack: cols %d != %d", g.Cols, cols)
		}
		rows += g.Rows
	}

	y := NewZeros(rows, cols)
	offset := 0
	for _, g := range gens {
		for r := 0; r < g.Rows; r++ {
			copy(Row(y, offset+r), Row(g, r))
		}
		offset += g.Rows
	}
	return y, nil
}

// SplitRows は先頭 n 行とそれ以降に分割する。どちらもコピーを返す。
func SplitRows(gen blas32.General, n int) (blas32.General, blas32.General, error) {
	if n < 0 || n > gen.Rows {
		return blas32.General{}, blas32.General{}, fmt.Errorf("tensor2d.SplitRows: n = %d, rows = %d", n, gen.Rows)
	}
	head, err := SliceRows(gen, 0, n)
	if err != nil {
		return blas32.General{}, blas32.General{}, err
	}
	tail, err := SliceRows(gen, n, gen.Rows)
	return head, tail, err
}

func SliceRows(gen blas32.General, start, end int) (blas32.General, error) {
	if start < 0 || end > gen.Rows || start > end {
		return blas32.General{}, fmt.Errorf("tensor2d.SliceRows: [%d:%d] out of %d rows", start, end, gen.Rows)
	}
	y := NewZeros(end-start, gen.Cols)
	for r := start; r < end; r++ {
		copy(Row(y, r-start), Row(gen, r))
	}
	return y, nil
}

// SliceCols は列 [start:end) をコピーして返す。
func SliceCols(gen blas32.General, start, end int) (blas32.General, error) {
	if start < 0 || end > gen.Cols || start > end {
		return blas32.General{}, fmt.Errorf("tensor2d.SliceCols: [%d:%d] out of %d cols", start, end, gen.Cols)
	}
	y := NewZeros(gen.Rows, end-start)
	for r := 0; r < gen.Rows; r++ {
		copy(Row(y, r), Row(gen, r)[start:end])
	}
	return y, nil
}

func ArgMaxRows(gen blas32.General) []int {
	idxs := make([]int, gen.Rows)
	for r := range idxs {
		row := Row(gen, r)
		best := 0
		for c, e := range row {
			if e > row[best] {
				best = c
			}
		}
		idxs[r] = best
	}
	return idxs
}
