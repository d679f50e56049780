package trainer

import (
	"github.com/pkg/errors"
	"github.com/sw965/ganbert/blas32/tensor/2d"
	"github.com/sw965/ganbert/dataset"
	"github.com/sw965/ganbert/metrics"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/stat"
	"io"
	"slices"
)

var ErrEmptyLoader = errors.New("trainer: loader produced no batches")

// Loader is a finite, restartable sequence of batches. Next returns io.EOF
// once the pass is over.
type Loader interface {
	Len() int
	Reset()
	Next() (*dataset.Batch, error)
}

type Mode int

const (
	Training Mode = iota
	// Inference は予測値・正解・確率を結果へ含める。
	Inference
)

type ValOptions struct {
	Mode Mode
	// KeepProbs は Training モードでも予測値と確率を保持する。
	KeepProbs bool
}

type TrainSummary struct {
	GeneratorLoss     float64
	DiscriminatorLoss float64
}

type InferenceExtras struct {
	Predictions []int
	// GroundTruths はラベルを持つバッチが1つも無ければ nil。ラベル無しの行は NoLabel。
	GroundTruths []int
	// Probs は [N, C+1]。
	Probs blas32.General
}

type ValSummary struct {
	Loss     float64
	Accuracy float64
	Extras   *InferenceExtras
}

func (s ValSummary) HasExtras() bool {
	return s.Extras != nil
}

// each は loader を先頭から最後まで回す。
func each(loader Loader, progress *ProgressBar, f func(*dataset.Batch) (map[string]float64, error)) (int, error) {
	loader.Reset()
	n := 0
	for {
		batch, err := loader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, errors.Wrapf(err, "batch %d", n)
		}
		stats, err := f(batch)
		if err != nil {
			return n, errors.Wrapf(err, "batch %d", n)
		}
		n++
		if progress != nil {
			progress.Update(n, stats)
		}
	}
	if progress != nil {
		progress.Finish()
	}
	if n == 0 {
		return 0, ErrEmptyLoader
	}
	return n, nil
}

// TrainEpoch は1エポック分訓練し、バッチ毎の損失の平均を返す。
func (t *Trainer) TrainEpoch(loader Loader) (TrainSummary, error) {
	var genLosses, discLosses []float64
	_, err := each(loader, t.newProgress("train", loader.Len()), func(batch *dataset.Batch) (map[string]float64, error) {
		losses, err := t.TrainStep(batch)
		if err != nil {
			return nil, err
		}
		genLosses = append(genLosses, losses.Generator)
		discLosses = append(discLosses, losses.Discriminator)
		return map[string]float64{"g_loss": losses.Generator, "d_loss": losses.Discriminator}, nil
	})
	if err != nil {
		return TrainSummary{}, err
	}
	return TrainSummary{
		GeneratorLoss:     stat.Mean(genLosses, nil),
		DiscriminatorLoss: stat.Mean(discLosses, nil),
	}, nil
}

// ValEpoch は label_mask が true の行だけで損失と正解率を求める。損失はラベル付きの行を含むバッチの平均。
func (t *Trainer) ValEpoch(loader Loader, opts ValOptions) (ValSummary, error) {
	keep := opts.Mode == Inference || opts.KeepProbs
	var losses []float64
	var predictions, groundTruths []int
	var labeledPredictions, labeledGroundTruths []int
	var probs []blas32.General
	labeled := false

	_, err := each(loader, t.newProgress("val", loader.Len()), func(batch *dataset.Batch) (map[string]float64, error) {
		result, err := t.ValStep(batch)
		if err != nil {
			return nil, err
		}
		if result.LabeledCount > 0 {
			losses = append(losses, result.Loss)
		}
		predictions = append(predictions, result.Predictions...)
		if result.GroundTruths == nil {
			groundTruths = append(groundTruths, slices.Repeat([]int{NoLabel}, len(result.Predictions))...)
		} else {
			labeled = true
			groundTruths = append(groundTruths, result.GroundTruths...)
			for i, truth := range result.GroundTruths {
				if truth != NoLabel {
					labeledPredictions = append(labeledPredictions, result.Predictions[i])
					labeledGroundTruths = append(labeledGroundTruths, truth)
				}
			}
		}
		if keep {
			probs = append(probs, result.Probs)
		}
		return map[string]float64{"loss": result.Loss}, nil
	})
	if err != nil {
		return ValSummary{}, err
	}

	summary := ValSummary{}
	if len(losses) > 0 {
		summary.Loss = stat.Mean(losses, nil)
		summary.Accuracy, err = metrics.Accuracy(labeledPredictions, labeledGroundTruths, t.parallelism())
		if err != nil {
			return ValSummary{}, err
		}
	}
	if !labeled {
		groundTruths = nil
	}

	if keep {
		stacked, err := tensor2d.VStack(probs...)
		if err != nil {
			return ValSummary{}, err
		}
		summary.Extras = &InferenceExtras{
			Predictions:  predictions,
			GroundTruths: groundTruths,
			Probs:        stacked,
		}
	}
	return summary, nil
}
