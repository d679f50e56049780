// Package loss holds the loss terms of semi-supervised GAN training. Every
// term returns its value together with the gradient with respect to its
// inputs, so callers can chain them into a model's backward pass.
package loss

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/ganbert/blas32/tensor/2d"
	"github.com/sw965/ganbert/model/nn"
	"gonum.org/v1/gonum/blas/blas32"
)

// FeatureMatching is mean((mean(real, axis=0) - mean(fake, axis=0))^2).
func FeatureMatching(real, fake blas32.General) (float32, blas32.General, blas32.General, error) {
	if real.Cols != fake.Cols {
		return 0, blas32.General{}, blas32.General{}, fmt.Errorf("FeatureMatching: real has %d cols, fake has %d", real.Cols, fake.Cols)
	}
	if real.Rows == 0 || fake.Rows == 0 {
		return 0, blas32.General{}, blas32.General{}, fmt.Errorf("FeatureMatching: empty batch")
	}

	realMean := tensor2d.Mean0(real)
	fakeMean := tensor2d.Mean0(fake)
	cols := float32(real.Cols)

	diff := make([]float32, real.Cols)
	var value float32
	for c := range diff {
		diff[c] = realMean.Data[c] - fakeMean.Data[c]
		value += diff[c] * diff[c]
	}
	value /= cols

	dReal := tensor2d.NewZerosLike(real)
	dFake := tensor2d.NewZerosLike(fake)
	realScale := 2.0 / (cols * float32(real.Rows))
	fakeScale := -2.0 / (cols * float32(fake.Rows))
	for r := 0; r < real.Rows; r++ {
		row := tensor2d.Row(dReal, r)
		for c := range row {
			row[c] = realScale * diff[c]
		}
	}
	for r := 0; r < fake.Rows; r++ {
		row := tensor2d.Row(dFake, r)
		for c := range row {
			row[c] = fakeScale * diff[c]
		}
	}
	return value, dReal, dFake, nil
}

func checkColumn(name string, probs blas32.General, col int) error {
	if probs.Rows == 0 {
		return fmt.Errorf("%s: empty batch", name)
	}
	if col < 0 || col >= probs.Cols {
		return fmt.Errorf("%s: column %d out of %d", name, col, probs.Cols)
	}
	return nil
}

// NegLogOneMinus is -mean(log(1 - probs[:, col] + eps)).
func NegLogOneMinus(probs blas32.General, col int, eps float32) (float32, blas32.General, error) {
	if err := checkColumn("NegLogOneMinus", probs, col); err != nil {
		return 0, blas32.General{}, err
	}
	n := float32(probs.Rows)
	dProbs := tensor2d.NewZerosLike(probs)
	var value float32
	for r := 0; r < probs.Rows; r++ {
		q := 1 - probs.Data[tensor2d.At(probs, r, col)] + eps
		value -= math32.Log(q)
		dProbs.Data[tensor2d.At(dProbs, r, col)] = 1.0 / (n * q)
	}
	return value / n, dProbs, nil
}

// NegLog is -mean(log(probs[:, col] + eps)).
func NegLog(probs blas32.General, col int, eps float32) (float32, blas32.General, error) {
	if err := checkColumn("NegLog", probs, col); err != nil {
		return 0, blas32.General{}, err
	}
	n := float32(probs.Rows)
	dProbs := tensor2d.NewZerosLike(probs)
	var value float32
	for r := 0; r < probs.Rows; r++ {
		q := probs.Data[tensor2d.At(probs, r, col)] + eps
		value -= math32.Log(q)
		dProbs.Data[tensor2d.At(dProbs, r, col)] = -1.0 / (n * q)
	}
	return value / n, dProbs, nil
}

func checkLabels(name string, logits blas32.General, labels []int) error {
	if len(labels) != logits.Rows {
		return fmt.Errorf("%s: %d labels for %d rows", name, len(labels), logits.Rows)
	}
	for i, label := range labels {
		if label < 0 || label >= logits.Cols {
			return fmt.Errorf("%s: label[%d] = %d outside [0, %d)", name, i, label, logits.Cols)
		}
	}
	return nil
}

// MaskedNLL is the negative log-likelihood of labels under softmax(logits),
// averaged over the rows where mask is true. It is exactly 0, with a zero
// gradient, when no row is masked in. count is the number of rows used.
func MaskedNLL(logits blas32.General, labels []int, mask []bool) (value float32, dLogits blas32.General, count int, err error) {
	if err := checkLabels("MaskedNLL", logits, labels); err != nil {
		return 0, blas32.General{}, 0, err
	}
	if len(mask) != logits.Rows {
		return 0, blas32.General{}, 0, fmt.Errorf("MaskedNLL: %d mask entries for %d rows", len(mask), logits.Rows)
	}

	dLogits = tensor2d.NewZerosLike(logits)
	for _, m := range mask {
		if m {
			count++
		}
	}
	if count == 0 {
		return 0, dLogits, 0, nil
	}

	logProbs := nn.LogSoftmax(logits)
	n := float32(count)
	for r, label := range labels {
		if !mask[r] {
			continue
		}
		lp := tensor2d.Row(logProbs, r)
		value -= lp[label]
		dr := tensor2d.Row(dLogits, r)
		for c, e := range lp {
			dr[c] = math32.Exp(e) / n
		}
		dr[label] -= 1.0 / n
	}
	return value / n, dLogits, count, nil
}

// MaskedCrossEntropy is the value of MaskedNLL without the gradient. It is
// 0 when no row is masked in.
func MaskedCrossEntropy(logits blas32.General, labels []int, mask []bool) (float32, int, error) {
	if err := checkLabels("MaskedCrossEntropy", logits, labels); err != nil {
		return 0, 0, err
	}
	if len(mask) != logits.Rows {
		return 0, 0, fmt.Errorf("MaskedCrossEntropy: %d mask entries for %d rows", len(mask), logits.Rows)
	}
	logProbs := nn.LogSoftmax(logits)
	var value float32
	count := 0
	for r, label := range labels {
		if !mask[r] {
			continue
		}
		value -= logProbs.Data[tensor2d.At(logProbs, r, label)]
		count++
	}
	if count == 0 {
		return 0, 0, nil
	}
	return value / float32(count), count, nil
}
