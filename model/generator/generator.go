// Package generator maps uniform noise to fake encoder representations.
package generator

import (
	"github.com/sw965/ganbert/model"
	"github.com/sw965/ganbert/model/nn"
	"gonum.org/v1/gonum/blas/blas32"
	"math/rand/v2"
)

type Generator struct {
	nn.Sequential
	noiseSize int
}

// New は noise -> Affine -> LeakyReLU -> Dropout -> Affine の構成で生成器を作る。
func New(noiseSize, hiddenSize, outputSize int, dropout float32, rng *rand.Rand) *Generator {
	g := &Generator{noiseSize: noiseSize}
	g.AppendAffine(noiseSize, hiddenSize, rng)
	g.AppendLeakyReLU(0.2)
	g.AppendDropout(dropout, rng)
	g.AppendAffine(hiddenSize, outputSize, rng)
	return g
}

func (g *Generator) NoiseSize() int {
	return g.noiseSize
}

func (g *Generator) Generate(noise blas32.General) (blas32.General, model.GeneratorBackward, error) {
	y, backward, err := g.Forward(noise)
	if err != nil {
		return blas32.General{}, nil, err
	}
	if backward == nil {
		return y, nil, nil
	}
	var gb model.GeneratorBackward
	gb = func(chain blas32.General) error {
		_, err := backward(chain)
		return err
	}
	return y, gb, nil
}
