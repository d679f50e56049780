// Package nn provides batched layers in forward/backward closure form.
//
// A Forward returns its output together with a Backward that captures
// whatever activations it needs. A Backward may be called any number of
// times; it never mutates the activations it closed over.
package nn

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/ganbert/blas32/tensor/2d"
	"github.com/sw965/ganbert/mathx/randx"
	"github.com/sw965/ganbert/model"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"math/rand/v2"
	"slices"
)

// Mode は Forward の実行条件。Grad が false の場合、Forward は Backward を作らずに nil を返す。
type Mode struct {
	Training bool
	Grad     bool
}

type Forward func(blas32.General, *model.Parameter, Mode) (blas32.General, Backward, error)
type Forwards []Forward

// Propagate は mode.Grad が false なら nil の Backwards を返す。
func (fs Forwards) Propagate(x blas32.General, params model.Parameters, mode Mode) (blas32.General, Backwards, error) {
	if len(fs) != len(params) {
		return blas32.General{}, nil, fmt.Errorf("Forwards.Propagate: %d layers, %d parameters", len(fs), len(params))
	}
	var err error
	var backward Backward
	var backwards Backwards
	if mode.Grad {
		backwards = make(Backwards, len(fs))
	}
	for i, f := range fs {
		x, backward, err = f(x, &params[i], mode)
		if err != nil {
			return blas32.General{}, nil, err
		}
		if mode.Grad {
			backwards[i] = backward
		}
	}
	y := x
	slices.Reverse(backwards)
	return y, backwards, nil
}

type Backward func(blas32.General) (blas32.General, model.GradBuffer, error)
type Backwards []Backward

func (bs Backwards) Propagate(chain blas32.General) (blas32.General, model.GradBuffers, error) {
	grads := make(model.GradBuffers, len(bs))
	var grad model.GradBuffer
	var err error
	for i, b := range bs {
		chain, grad, err = b(chain)
		if err != nil {
			return blas32.General{}, nil, err
		}
		grads[i] = grad
	}
	dx := chain
	slices.Reverse(grads)
	return dx, grads, nil
}

func AffineForward(x blas32.General, param *model.Parameter, mode Mode) (blas32.General, Backward, error) {
	if x.Cols != param.Weight.Rows {
		return blas32.General{}, nil, fmt.Errorf("AffineForward: x.Cols = %d, w.Rows = %d", x.Cols, param.Weight.Rows)
	}
	y := tensor2d.Dot(blas.NoTrans, blas.NoTrans, x, param.Weight)
	tensor2d.AddRowVector(y, param.Bias)
	if !mode.Grad {
		return y, nil, nil
	}

	var backward Backward
	backward = func(chain blas32.General) (blas32.General, model.GradBuffer, error) {
		if !tensor2d.SameShape(chain, y) {
			return blas32.General{}, model.GradBuffer{}, fmt.Errorf("AffineForward backward: chain is %dx%d, want %dx%d", chain.Rows, chain.Cols, y.Rows, y.Cols)
		}
		dx := tensor2d.Dot(blas.NoTrans, blas.Trans, chain, param.Weight)
		grad := model.GradBuffer{
			Weight: tensor2d.Dot(blas.Trans, blas.NoTrans, x, chain),
			Bias:   tensor2d.Sum0(chain),
		}
		return dx, grad, nil
	}
	return y, backward, nil
}

// elementwise は要素毎の活性化関数の共通部分。df は入力 x における微分係数。
func elementwise(x blas32.General, f, df func(float32) float32, grad bool) (blas32.General, Backward) {
	y := tensor2d.NewZerosLike(x)
	for r := 0; r < x.Rows; r++ {
		yr := tensor2d.Row(y, r)
		for c, e := range tensor2d.Row(x, r) {
			yr[c] = f(e)
		}
	}
	if !grad {
		return y, nil
	}

	var backward Backward
	backward = func(chain blas32.General) (blas32.General, model.GradBuffer, error) {
		if !tensor2d.SameShape(chain, x) {
			return blas32.General{}, model.GradBuffer{}, fmt.Errorf("elementwise backward: chain is %dx%d, want %dx%d", chain.Rows, chain.Cols, x.Rows, x.Cols)
		}
		dx := tensor2d.NewZerosLike(x)
		for r := 0; r < x.Rows; r++ {
			dxr := tensor2d.Row(dx, r)
			cr := tensor2d.Row(chain, r)
			for c, e := range tensor2d.Row(x, r) {
				dxr[c] = df(e) * cr[c]
			}
		}
		return dx, model.GradBuffer{}, nil
	}
	return y, backward
}

func NewLeakyReLUForward(alpha float32) Forward {
	f := func(e float32) float32 {
		if e > 0 {
			return e
		}
		return alpha * e
	}
	df := func(e float32) float32 {
		if e > 0 {
			return 1
		}
		return alpha
	}
	return func(x blas32.General, _ *model.Parameter, mode Mode) (blas32.General, Backward, error) {
		y, backward := elementwise(x, f, df, mode.Grad)
		return y, backward, nil
	}
}

func TanhForward(x blas32.General, _ *model.Parameter, mode Mode) (blas32.General, Backward, error) {
	df := func(e float32) float32 {
		t := math32.Tanh(e)
		return 1 - t*t
	}
	y, backward := elementwise(x, math32.Tanh, df, mode.Grad)
	return y, backward, nil
}

// NewDropoutForward は学習時のみ確率 p で要素を落とし、残りを 1/(1-p) 倍する(inverted dropout)。
func NewDropoutForward(p float32, rng *rand.Rand) Forward {
	return func(x blas32.General, _ *model.Parameter, mode Mode) (blas32.General, Backward, error) {
		if !mode.Training || p <= 0 {
			if !mode.Grad {
				return x, nil, nil
			}
			var backward Backward
			backward = func(chain blas32.General) (blas32.General, model.GradBuffer, error) {
				return chain, model.GradBuffer{}, nil
			}
			return x, backward, nil
		}

		scale := 1.0 / (1.0 - p)
		mask := tensor2d.NewZerosLike(x)
		for i := range mask.Data {
			if !randx.Bernoulli(p, rng) {
				mask.Data[i] = scale
			}
		}

		apply := func(a blas32.General) blas32.General {
			y := tensor2d.NewZerosLike(a)
			for r := 0; r < a.Rows; r++ {
				yr := tensor2d.Row(y, r)
				mr := tensor2d.Row(mask, r)
				for c, e := range tensor2d.Row(a, r) {
					yr[c] = e * mr[c]
				}
			}
			return y
		}

		if !mode.Grad {
			return apply(x), nil, nil
		}
		var backward Backward
		backward = func(chain blas32.General) (blas32.General, model.GradBuffer, error) {
			if !tensor2d.SameShape(chain, mask) {
				return blas32.General{}, model.GradBuffer{}, fmt.Errorf("dropout backward: chain is %dx%d, want %dx%d", chain.Rows, chain.Cols, mask.Rows, mask.Cols)
			}
			return apply(chain), model.GradBuffer{}, nil
		}
		return apply(x), backward, nil
	}
}

// Softmax は行毎のソフトマックス。
func Softmax(x blas32.General) blas32.General {
	y := tensor2d.NewZerosLike(x)
	for r := 0; r < x.Rows; r++ {
		xr := tensor2d.Row(x, r)
		yr := tensor2d.Row(y, r)
		maxX := xr[0] // オーバーフロー対策
		for _, e := range xr[1:] {
			maxX = math32.Max(maxX, e)
		}
		var sum float32
		for c, e := range xr {
			yr[c] = math32.Exp(e - maxX)
			sum += yr[c]
		}
		for c := range yr {
			yr[c] /= sum
		}
	}
	return y
}

// LogSoftmax は行毎の log-softmax。
func LogSoftmax(x blas32.General) blas32.General {
	y := tensor2d.NewZerosLike(x)
	for r := 0; r < x.Rows; r++ {
		xr := tensor2d.Row(x, r)
		yr := tensor2d.Row(y, r)
		maxX := xr[0]
		for _, e := range xr[1:] {
			maxX = math32.Max(maxX, e)
		}
		var sum float32
		for _, e := range xr {
			sum += math32.Exp(e - maxX)
		}
		logSum := maxX + math32.Log(sum)
		for c, e := range xr {
			yr[c] = e - logSum
		}
	}
	return y
}

// SoftmaxBackward は dL/dprobs を dL/dlogits に変換する。probs = Softmax(logits) が前提。
func SoftmaxBackward(probs, dProbs blas32.General) (blas32.General, error) {
	if !tensor2d.SameShape(probs, dProbs) {
		return blas32.General{}, fmt.Errorf("SoftmaxBackward: probs is %dx%d, dProbs is %dx%d", probs.Rows, probs.Cols, dProbs.Rows, dProbs.Cols)
	}
	dLogits := tensor2d.NewZerosLike(probs)
	for r := 0; r < probs.Rows; r++ {
		pr := tensor2d.Row(probs, r)
		dpr := tensor2d.Row(dProbs, r)
		var dot float32
		for c := range pr {
			dot += pr[c] * dpr[c]
		}
		dlr := tensor2d.Row(dLogits, r)
		for c := range pr {
			dlr[c] = pr[c] * (dpr[c] - dot)
		}
	}
	return dLogits, nil
}
