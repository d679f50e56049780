package mathx

import (
	"golang.org/x/exp/constraints"
)

func CentralDifference[X constraints.Float](plusY, minusY, h X) X {
	return (plusY - minusY) / (2.0 * h)
}

// NumericalGradient は中心差分で f の勾配を求める。xs は評価中に書き換えられるが、戻る時には元に戻る。
func NumericalGradient[X constraints.Float](xs []X, h X, f func([]X) X) []X {
	grad := make([]X, len(xs))
	for i := range xs {
		tmp := xs[i]
		xs[i] = tmp + h
		y1 := f(xs)

		xs[i] = tmp - h
		y2 := f(xs)

		grad[i] = CentralDifference(y1, y2, h)
		xs[i] = tmp
	}
	return grad
}
