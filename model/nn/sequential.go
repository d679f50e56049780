package nn

import (
	"github.com/sw965/ganbert/blas32/tensor/2d"
	"github.com/sw965/ganbert/blas32/vector"
	"github.com/sw965/ganbert/model"
	"gonum.org/v1/gonum/blas/blas32"
	"math/rand/v2"
)

// Sequential は層を順に適用するモデル。Forward が返す backward は呼ばれる度に勾配を grads へ加算する。
type Sequential struct {
	Params   model.Parameters
	Forwards Forwards

	grads    model.GradBuffers
	training bool
	noGrad   bool
}

func (s *Sequential) append(param model.Parameter, f Forward) {
	s.Params = append(s.Params, param)
	s.grads = append(s.grads, param.NewGradZerosLike())
	s.Forwards = append(s.Forwards, f)
}

func (s *Sequential) AppendAffine(xn, yn int, rng *rand.Rand) {
	param := model.Parameter{
		Weight: tensor2d.NewHe(xn, yn, rng),
		Bias:   vector.NewZeros(yn),
	}
	s.append(param, AffineForward)
}

func (s *Sequential) AppendLeakyReLU(alpha float32) {
	s.append(model.Parameter{}, NewLeakyReLUForward(alpha))
}

func (s *Sequential) AppendTanh() {
	s.append(model.Parameter{}, TanhForward)
}

func (s *Sequential) AppendDropout(p float32, rng *rand.Rand) {
	s.append(model.Parameter{}, NewDropoutForward(p, rng))
}

func (s *Sequential) Train() {
	s.training = true
}

func (s *Sequential) Eval() {
	s.training = false
}

func (s *Sequential) Training() bool {
	return s.training
}

// SetGradEnabled(false) の間、Forward は逆伝播用のクロージャも活性値も保持しない。
func (s *Sequential) SetGradEnabled(enabled bool) {
	s.noGrad = !enabled
}

func (s *Sequential) GradEnabled() bool {
	return !s.noGrad
}

func (s *Sequential) Parameters() model.Parameters {
	return s.Params
}

func (s *Sequential) Grads() model.GradBuffers {
	return s.grads
}

func (s *Sequential) ZeroGrad() {
	s.grads.Zero()
}

// Forward は勾配が無効な場合 nil の backward を返す。
func (s *Sequential) Forward(x blas32.General) (blas32.General, func(blas32.General) (blas32.General, error), error) {
	y, backwards, err := s.Forwards.Propagate(x, s.Params, Mode{Training: s.training, Grad: s.GradEnabled()})
	if err != nil {
		return blas32.General{}, nil, err
	}
	if backwards == nil {
		return y, nil, nil
	}

	backward := func(chain blas32.General) (blas32.General, error) {
		dx, grads, err := backwards.Propagate(chain)
		if err != nil {
			return blas32.General{}, err
		}
		s.grads.Axpy(1.0, grads)
		return dx, nil
	}
	return y, backward, nil
}

func (s *Sequential) Predict(x blas32.General) (blas32.General, error) {
	y, _, err := s.Forwards.Propagate(x, s.Params, Mode{Training: s.training})
	return y, err
}
