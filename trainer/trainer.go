// Package trainer runs semi-supervised GAN training: an encoder and a
// discriminator learn to classify text while a generator supplies fake
// representations the discriminator must tell apart from real ones.
package trainer

import (
	"fmt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sw965/ganbert/config"
	"github.com/sw965/ganbert/dataset"
	"github.com/sw965/ganbert/device"
	"github.com/sw965/ganbert/mathx/randx"
	"github.com/sw965/ganbert/model"
	"github.com/sw965/ganbert/noise"
	"github.com/sw965/ganbert/optimizer"
	"golang.org/x/exp/maps"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
)

// Printer receives one human-readable message at a time.
type Printer func(string)

type Option func(*Trainer)

func WithPrinter(p Printer) Option {
	return func(t *Trainer) {
		t.print = p
	}
}

// WithProgress はバッチ毎の進捗バーを w へ描画する。
func WithProgress(w io.Writer) Option {
	return func(t *Trainer) {
		t.progress = w
	}
}

type Trainer struct {
	config config.Config
	device device.Device
	runID  string

	encoder       model.Encoder
	generator     model.Generator
	discriminator model.Discriminator
	noise         *noise.Source

	GeneratorOptimizer     optimizer.Optimizer
	DiscriminatorOptimizer optimizer.Optimizer
	coordinator            *optimizer.Coordinator

	trainLoader Loader
	valLoader   Loader
	shuffleRng  *rand.Rand

	checkpoints CheckpointWriter
	nextEpoch   int

	print    Printer
	progress io.Writer
}

func New(cfg config.Config, enc model.Encoder, gen model.Generator, disc model.Discriminator, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if gen.NoiseSize() != cfg.GeneratorNoiseSize {
		return nil, errors.Errorf("trainer: generator takes noise of size %d, config says %d", gen.NoiseSize(), cfg.GeneratorNoiseSize)
	}

	t := &Trainer{
		config:        cfg,
		encoder:       enc,
		generator:     gen,
		discriminator: disc,
		print:         func(s string) { log.Println(s) },
		runID:         uuid.New().String(),
		checkpoints:   CheckpointWriter{Dir: cfg.ArtifactPath},
	}
	for _, opt := range opts {
		opt(t)
	}

	t.device = device.Select(cfg.Device, t.print)
	t.print(fmt.Sprintf("Parameters: encoder=%d generator=%d discriminator=%d",
		enc.Parameters().N(), gen.Parameters().N(), disc.Parameters().N()))
	if err := os.MkdirAll(cfg.ArtifactPath, 0755); err != nil {
		return nil, errors.Wrapf(err, "trainer: create artifact path %s", cfg.ArtifactPath)
	}

	t.noise = noise.NewSeededSource(cfg.GeneratorNoiseSize, cfg.Seed)
	// seed が 0 の場合はどちらもグローバルシード由来になる
	shuffleSeed := cfg.Seed
	if shuffleSeed != 0 {
		shuffleSeed++
	}
	t.shuffleRng = randx.NewMt19937(shuffleSeed)

	t.ConfigureOptimizer()
	return t, nil
}

// ConfigureOptimizer は2つの最適化器を作り直す。識別器側は encoder と discriminator の両方を更新する。
func (t *Trainer) ConfigureOptimizer() {
	c := t.config
	switch c.Optimizer {
	case "momentum":
		t.DiscriminatorOptimizer = optimizer.NewMomentum(c.LearningRateDiscriminator, c.Momentum, t.encoder, t.discriminator)
		t.GeneratorOptimizer = optimizer.NewMomentum(c.LearningRateGenerator, c.Momentum, t.generator)
	default:
		t.DiscriminatorOptimizer = optimizer.NewAdamW(c.LearningRateDiscriminator, c.WeightDecay, t.encoder, t.discriminator)
		t.GeneratorOptimizer = optimizer.NewAdamW(c.LearningRateGenerator, c.WeightDecay, t.generator)
	}
	t.coordinator = optimizer.NewCoordinator(t.GeneratorOptimizer, t.DiscriminatorOptimizer)
}

func (t *Trainer) Config() config.Config {
	return t.config
}

func (t *Trainer) Device() device.Device {
	return t.device
}

func (t *Trainer) RunID() string {
	return t.runID
}

func (t *Trainer) parallelism() int {
	if t.config.Parallelism > 0 {
		return t.config.Parallelism
	}
	return t.device.Parallelism()
}

func (t *Trainer) NextEpoch() int {
	return t.nextEpoch
}

func (t *Trainer) SetTrainDataloader(ds *dataset.Dataset) error {
	l, err := dataset.NewDataLoader(ds, t.config.TrainBatchSize, t.config.Shuffle, t.shuffleRng)
	if err != nil {
		return err
	}
	t.SetTrainLoader(l)
	return nil
}

func (t *Trainer) SetValDataloader(ds *dataset.Dataset) error {
	l, err := dataset.NewDataLoader(ds, t.config.ValBatchSize, false, nil)
	if err != nil {
		return err
	}
	t.SetValLoader(l)
	return nil
}

// SetTrainLoader は任意の Loader を訓練に使う。
func (t *Trainer) SetTrainLoader(l Loader) {
	t.trainLoader = l
}

func (t *Trainer) SetValLoader(l Loader) {
	t.valLoader = l
}

func (t *Trainer) newProgress(description string, total int) *ProgressBar {
	if t.progress == nil {
		return nil
	}
	return NewProgressBar(t.progress, description, total)
}

// Train runs epochs up to (but excluding) epochs, starting after the last
// restored checkpoint. Each epoch trains, validates, saves a checkpoint and
// prints a summary.
func (t *Trainer) Train(epochs int) error {
	if t.trainLoader == nil || t.valLoader == nil {
		return errors.New("trainer: train and validation loaders must be set")
	}

	for epoch := t.nextEpoch; epoch < epochs; epoch++ {
		train, err := t.TrainEpoch(t.trainLoader)
		if err != nil {
			return errors.Wrapf(err, "epoch %d: train", epoch)
		}
		val, err := t.ValEpoch(t.valLoader, ValOptions{Mode: Training, KeepProbs: t.config.KeepProbs})
		if err != nil {
			return errors.Wrapf(err, "epoch %d: validation", epoch)
		}
		if _, err := t.Save(epoch, train, val); err != nil {
			return err
		}
		t.nextEpoch = epoch + 1

		t.verbose(
			fmt.Sprintf("Training Epoch: %d/%d", epoch, epochs),
			summaryLine("Train:", train.Scalars()),
			summaryLine("Validation:", val.Scalars()),
		)
	}
	return nil
}

// Predict は推論モードで loader 全体を評価する。ラベル無しのローダーでは損失と正解率は 0。
func (t *Trainer) Predict(loader Loader) (ValSummary, error) {
	return t.ValEpoch(loader, ValOptions{Mode: Inference})
}

func (t *Trainer) verbose(lines ...string) {
	t.print(strings.Join(lines, "\n"))
}

func (s TrainSummary) Scalars() map[string]float64 {
	return map[string]float64{
		"generator_loss":     s.GeneratorLoss,
		"discriminator_loss": s.DiscriminatorLoss,
	}
}

// Scalars は配列 (Extras) を含めない。
func (s ValSummary) Scalars() map[string]float64 {
	return map[string]float64{
		"validation_accuracy": s.Accuracy,
		"validation_loss":     s.Loss,
	}
}

func summaryLine(head string, scalars map[string]float64) string {
	keys := maps.Keys(scalars)
	slices.Sort(keys)
	fields := []string{head}
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s_%.5f", k, scalars[k]))
	}
	return strings.Join(fields, "\t")
}
