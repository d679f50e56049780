// Package metrics computes evaluation metrics over a whole epoch.
package metrics

import (
	"github.com/pkg/errors"
	omath "github.com/sw965/omw/mathx"
	"github.com/sw965/omw/parallel"
)

var (
	ErrLengthMismatch = errors.New("metrics: predictions and ground truths differ in length")
	ErrEmpty          = errors.New("metrics: no predictions")
)

// Accuracy は一致した割合を返す。p は並列数。
func Accuracy(predictions, groundTruths []int, p int) (float64, error) {
	n := len(predictions)
	if n != len(groundTruths) {
		return 0, errors.Wrapf(ErrLengthMismatch, "%d predictions, %d ground truths", n, len(groundTruths))
	}
	if n == 0 {
		return 0, ErrEmpty
	}
	if p < 1 {
		p = 1
	}

	correctCounts := make([]int, p)
	err := parallel.For(n, p, func(workerId, idx int) error {
		if predictions[idx] == groundTruths[idx] {
			correctCounts[workerId]++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return float64(omath.Sum(correctCounts...)) / float64(n), nil
}
