package randx

import (
	"math/rand/v2"

	"github.com/seehuhn/mt19937"
	"github.com/sw965/omw/mathx/randx"
)

// NewMt19937 は seed が 0 の場合はグローバルシード由来の PCG を返す。
func NewMt19937(seed int64) *rand.Rand {
	if seed == 0 {
		return randx.NewPCGFromGlobalSeed()
	}
	mt := mt19937.New()
	mt.Seed(seed)
	return rand.New(mt)
}

// Uniform は [low, high) の一様乱数を返す。
func Uniform(low, high float32, rng *rand.Rand) float32 {
	return low + (high-low)*rng.Float32()
}

func Bernoulli(p float32, rng *rand.Rand) bool {
	return rng.Float32() < p
}
