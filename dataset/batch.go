// Package dataset turns labeled and unlabeled text examples into
// fixed-length token batches for the trainer.
package dataset

import (
	"github.com/pkg/errors"
)

var (
	ErrShapeMismatch = errors.New("dataset: batch shape mismatch")
	ErrLabelRange    = errors.New("dataset: label out of range")
)

// Batch は1ミニバッチ分の入力。Labels が nil の場合はラベル無し (推論専用) のバッチ。
// ラベル無しの例は Labels が 0 で LabelMask が false になる。
type Batch struct {
	InputIDs      [][]int
	AttentionMask [][]int
	Labels        []int
	LabelMask     []bool
}

func (b *Batch) Size() int {
	return len(b.InputIDs)
}

func (b *Batch) HasLabels() bool {
	return b.Labels != nil
}

// Validate checks that every field shares the leading dimension, that rows
// share one sequence length and that labels index one of numLabels classes.
func (b *Batch) Validate(numLabels int) error {
	n := len(b.InputIDs)
	if n == 0 {
		return errors.Wrap(ErrShapeMismatch, "empty batch")
	}
	if len(b.AttentionMask) != n {
		return errors.Wrapf(ErrShapeMismatch, "input_ids has %d rows, attention_mask has %d", n, len(b.AttentionMask))
	}

	seqLen := len(b.InputIDs[0])
	for i := range b.InputIDs {
		if len(b.InputIDs[i]) != seqLen || len(b.AttentionMask[i]) != seqLen {
			return errors.Wrapf(ErrShapeMismatch, "row %d: lengths %d/%d, want %d", i, len(b.InputIDs[i]), len(b.AttentionMask[i]), seqLen)
		}
	}

	if !b.HasLabels() {
		return nil
	}
	if len(b.Labels) != n || len(b.LabelMask) != n {
		return errors.Wrapf(ErrShapeMismatch, "%d rows, %d labels, %d label mask entries", n, len(b.Labels), len(b.LabelMask))
	}
	for i, label := range b.Labels {
		if label < 0 || label >= numLabels {
			return errors.Wrapf(ErrLabelRange, "labels[%d] = %d, want [0, %d)", i, label, numLabels)
		}
	}
	return nil
}
