// Package noise draws the generator's input noise.
package noise

import (
	"github.com/sw965/ganbert/blas32/tensor/2d"
	"github.com/sw965/ganbert/mathx/randx"
	"gonum.org/v1/gonum/blas/blas32"
	"math/rand/v2"
)

// Source は [0, 1) の一様ノイズを生成する。
type Source struct {
	Size int
	rng  *rand.Rand
}

func NewSource(size int, rng *rand.Rand) *Source {
	return &Source{Size: size, rng: rng}
}

// NewSeededSource は seed から MT19937 を作る。seed が 0 の場合はグローバルシード由来。
func NewSeededSource(size int, seed int64) *Source {
	return NewSource(size, randx.NewMt19937(seed))
}

// Generate returns a fresh [batchSize, Size] matrix.
func (s *Source) Generate(batchSize int) blas32.General {
	return tensor2d.NewUniform(batchSize, s.Size, 0, 1, s.rng)
}
