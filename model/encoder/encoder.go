// Package encoder is a small text encoder producing a [B, T, H] last hidden
// state. Each position sees its own token, its position and the masked mean
// of the whole sequence, so position 0 summarises the input.
package encoder

import (
	"fmt"
	"github.com/sw965/ganbert/blas32/tensor/2d"
	"github.com/sw965/ganbert/blas32/tensor/3d"
	"github.com/sw965/ganbert/model"
	"github.com/sw965/ganbert/model/nn"
	"gonum.org/v1/gonum/blas/blas32"
	"math/rand/v2"
	"slices"
)

type Encoder struct {
	Embedding model.Parameter
	Position  model.Parameter
	Body      nn.Sequential

	embeddingGrad model.GradBuffer
	positionGrad  model.GradBuffer
}

func New(vocabSize, maxSeqLen, hiddenSize int, dropout float32, rng *rand.Rand) *Encoder {
	e := &Encoder{
		Embedding: model.Parameter{Weight: tensor2d.NewUniform(vocabSize, hiddenSize, -0.1, 0.1, rng)},
		Position:  model.Parameter{Weight: tensor2d.NewUniform(maxSeqLen, hiddenSize, -0.1, 0.1, rng)},
	}
	e.embeddingGrad = e.Embedding.NewGradZerosLike()
	e.positionGrad = e.Position.NewGradZerosLike()
	e.Body.AppendAffine(hiddenSize, hiddenSize, rng)
	e.Body.AppendTanh()
	e.Body.AppendDropout(dropout, rng)
	return e
}

func (e *Encoder) Train() {
	e.Body.Train()
}

func (e *Encoder) Eval() {
	e.Body.Eval()
}

func (e *Encoder) Training() bool {
	return e.Body.Training()
}

func (e *Encoder) SetGradEnabled(enabled bool) {
	e.Body.SetGradEnabled(enabled)
}

func (e *Encoder) Parameters() model.Parameters {
	return slices.Concat(model.Parameters{e.Embedding, e.Position}, e.Body.Parameters())
}

func (e *Encoder) Grads() model.GradBuffers {
	return slices.Concat(model.GradBuffers{e.embeddingGrad, e.positionGrad}, e.Body.Grads())
}

func (e *Encoder) ZeroGrad() {
	e.embeddingGrad.Zero()
	e.positionGrad.Zero()
	e.Body.ZeroGrad()
}

func (e *Encoder) HiddenSize() int {
	return e.Embedding.Weight.Cols
}

func (e *Encoder) validate(inputIDs, attentionMask [][]int) (int, error) {
	if len(inputIDs) == 0 {
		return 0, fmt.Errorf("encoder: empty batch")
	}
	if len(inputIDs) != len(attentionMask) {
		return 0, fmt.Errorf("encoder: %d input rows, %d mask rows", len(inputIDs), len(attentionMask))
	}
	seqLen := len(inputIDs[0])
	if seqLen == 0 || seqLen > e.Position.Weight.Rows {
		return 0, fmt.Errorf("encoder: sequence length %d outside [1, %d]", seqLen, e.Position.Weight.Rows)
	}
	vocabSize := e.Embedding.Weight.Rows
	for b, ids := range inputIDs {
		if len(ids) != seqLen || len(attentionMask[b]) != seqLen {
			return 0, fmt.Errorf("encoder: row %d has %d ids and %d mask entries, want %d", b, len(ids), len(attentionMask[b]), seqLen)
		}
		for _, id := range ids {
			if id < 0 || id >= vocabSize {
				return 0, fmt.Errorf("encoder: token id %d outside vocabulary of %d", id, vocabSize)
			}
		}
	}
	return seqLen, nil
}

func (e *Encoder) Encode(inputIDs, attentionMask [][]int) (tensor3d.General, model.EncoderBackward, error) {
	seqLen, err := e.validate(inputIDs, attentionMask)
	if err != nil {
		return tensor3d.General{}, nil, err
	}
	batchSize := len(inputIDs)
	hidden := e.HiddenSize()

	// 文脈ベクトル: マスクされたトークン埋め込みの平均
	contexts := tensor2d.NewZeros(batchSize, hidden)
	counts := make([]float32, batchSize)
	for b, ids := range inputIDs {
		ctx := tensor2d.Row(contexts, b)
		for t, id := range ids {
			if attentionMask[b][t] == 0 {
				continue
			}
			counts[b]++
			for c, w := range tensor2d.Row(e.Embedding.Weight, id) {
				ctx[c] += w
			}
		}
		if counts[b] > 0 {
			for c := range ctx {
				ctx[c] /= counts[b]
			}
		}
	}

	pre := tensor2d.NewZeros(batchSize*seqLen, hidden)
	for b, ids := range inputIDs {
		ctx := tensor2d.Row(contexts, b)
		for t, id := range ids {
			row := tensor2d.Row(pre, b*seqLen+t)
			emb := tensor2d.Row(e.Embedding.Weight, id)
			pos := tensor2d.Row(e.Position.Weight, t)
			for c := range row {
				row[c] = emb[c] + pos[c] + ctx[c]
			}
		}
	}

	y, bodyBackward, err := e.Body.Forward(pre)
	if err != nil {
		return tensor3d.General{}, nil, err
	}
	lastHiddenState := tensor3d.General{
		Channels:      batchSize,
		Rows:          seqLen,
		Cols:          hidden,
		ChannelStride: seqLen * hidden,
		RowStride:     hidden,
		Data:          y.Data,
	}
	if bodyBackward == nil {
		return lastHiddenState, nil, nil
	}

	var backward model.EncoderBackward
	backward = func(chain tensor3d.General) error {
		if chain.Channels != batchSize || chain.Rows != seqLen || chain.Cols != hidden {
			return fmt.Errorf("encoder backward: chain is [%d,%d,%d], want [%d,%d,%d]", chain.Channels, chain.Rows, chain.Cols, batchSize, seqLen, hidden)
		}
		flat := blas32.General{Rows: batchSize * seqLen, Cols: hidden, Stride: hidden, Data: chain.Data}
		dPre, err := bodyBackward(flat)
		if err != nil {
			return err
		}

		dEmb := e.embeddingGrad.Weight
		dPos := e.positionGrad.Weight
		for b, ids := range inputIDs {
			dCtx := make([]float32, hidden)
			for t, id := range ids {
				d := tensor2d.Row(dPre, b*seqLen+t)
				de := tensor2d.Row(dEmb, id)
				dp := tensor2d.Row(dPos, t)
				for c, g := range d {
					de[c] += g
					dp[c] += g
					dCtx[c] += g
				}
			}
			if counts[b] == 0 {
				continue
			}
			for t, id := range ids {
				if attentionMask[b][t] == 0 {
					continue
				}
				de := tensor2d.Row(dEmb, id)
				for c, g := range dCtx {
					de[c] += g / counts[b]
				}
			}
		}
		return nil
	}
	return lastHiddenState, backward, nil
}
