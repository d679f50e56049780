// Package model defines the roles the trainer composes: an encoder, a
// generator and a discriminator. The trainer only depends on these
// interfaces, never on a concrete architecture.
package model

import (
	"github.com/sw965/ganbert/blas32/tensor/3d"
	"gonum.org/v1/gonum/blas/blas32"
)

// Module is the part every trainable role shares.
//
// Backward closures returned by a role add into the buffers returned by
// Grads; nothing is cleared until ZeroGrad is called.
type Module interface {
	Train()
	Eval()
	Training() bool
	// SetGradEnabled(false) makes forwards return nil backward closures.
	SetGradEnabled(enabled bool)
	Parameters() Parameters
	Grads() GradBuffers
	ZeroGrad()
}

// EncoderBackward receives dL/d(last hidden state), shaped like the forward
// output, and accumulates parameter gradients.
type EncoderBackward func(chain tensor3d.General) error

type Encoder interface {
	Module
	// Encode returns the last hidden state [B, T, H].
	Encode(inputIDs, attentionMask [][]int) (tensor3d.General, EncoderBackward, error)
}

type GeneratorBackward func(chain blas32.General) error

type Generator interface {
	Module
	NoiseSize() int
	// Generate maps noise [B, N] to a representation [B, H].
	Generate(noise blas32.General) (blas32.General, GeneratorBackward, error)
}

// DiscriminatorOutput holds one row per input row. Probs is the row softmax
// of Logits; the last column is the fake class.
type DiscriminatorOutput struct {
	Features blas32.General
	Logits   blas32.General
	Probs    blas32.General
}

// DiscriminatorBackward takes gradients with respect to Features and Logits
// and returns the gradient with respect to the discriminator input.
type DiscriminatorBackward func(features, logits blas32.General) (blas32.General, error)

type Discriminator interface {
	Module
	Discriminate(x blas32.General) (DiscriminatorOutput, DiscriminatorBackward, error)
}

func StateDict(m Module) Parameters {
	return m.Parameters().Clone()
}

func LoadStateDict(m Module, state Parameters) error {
	return m.Parameters().CopyFrom(state)
}
