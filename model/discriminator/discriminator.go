// Package discriminator classifies representations into the real labels
// plus one extra fake class.
package discriminator

import (
	"fmt"
	"github.com/sw965/ganbert/blas32/tensor/2d"
	"github.com/sw965/ganbert/model"
	"github.com/sw965/ganbert/model/nn"
	"gonum.org/v1/gonum/blas/blas32"
	"math/rand/v2"
	"slices"
)

type Discriminator struct {
	Body nn.Sequential
	Head nn.Sequential
}

// New の出力ロジットは numLabels+1 列で、最後の列が fake クラス。
func New(inputSize, hiddenSize, numLabels int, dropout float32, rng *rand.Rand) *Discriminator {
	d := &Discriminator{}
	d.Body.AppendDropout(dropout, rng)
	d.Body.AppendAffine(inputSize, hiddenSize, rng)
	d.Body.AppendLeakyReLU(0.2)
	d.Body.AppendDropout(dropout, rng)
	d.Head.AppendAffine(hiddenSize, numLabels+1, rng)
	return d
}

func (d *Discriminator) Train() {
	d.Body.Train()
	d.Head.Train()
}

func (d *Discriminator) Eval() {
	d.Body.Eval()
	d.Head.Eval()
}

func (d *Discriminator) Training() bool {
	return d.Body.Training()
}

func (d *Discriminator) SetGradEnabled(enabled bool) {
	d.Body.SetGradEnabled(enabled)
	d.Head.SetGradEnabled(enabled)
}

func (d *Discriminator) Parameters() model.Parameters {
	return slices.Concat(d.Body.Parameters(), d.Head.Parameters())
}

func (d *Discriminator) Grads() model.GradBuffers {
	return slices.Concat(d.Body.Grads(), d.Head.Grads())
}

func (d *Discriminator) ZeroGrad() {
	d.Body.ZeroGrad()
	d.Head.ZeroGrad()
}

func (d *Discriminator) Discriminate(x blas32.General) (model.DiscriminatorOutput, model.DiscriminatorBackward, error) {
	features, bodyBackward, err := d.Body.Forward(x)
	if err != nil {
		return model.DiscriminatorOutput{}, nil, err
	}
	logits, headBackward, err := d.Head.Forward(features)
	if err != nil {
		return model.DiscriminatorOutput{}, nil, err
	}
	out := model.DiscriminatorOutput{
		Features: features,
		Logits:   logits,
		Probs:    nn.Softmax(logits),
	}
	if bodyBackward == nil || headBackward == nil {
		return out, nil, nil
	}

	var backward model.DiscriminatorBackward
	backward = func(dFeatures, dLogits blas32.General) (blas32.General, error) {
		if !tensor2d.SameShape(dFeatures, features) {
			return blas32.General{}, fmt.Errorf("discriminator backward: dFeatures is %dx%d, want %dx%d", dFeatures.Rows, dFeatures.Cols, features.Rows, features.Cols)
		}
		chain, err := headBackward(dLogits)
		if err != nil {
			return blas32.General{}, err
		}
		tensor2d.Axpy(1.0, dFeatures, chain)
		return bodyBackward(chain)
	}
	return out, backward, nil
}
