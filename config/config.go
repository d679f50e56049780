// Package config holds the run configuration of a training session.
package config

import (
	"github.com/pkg/errors"
	"github.com/sw965/omw/encoding/jsonx"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	LearningRateDiscriminator float32  `json:"learning_rate_discriminator"`
	LearningRateGenerator     float32  `json:"learning_rate_generator"`
	GeneratorNoiseSize        int      `json:"generator_noise_size"`
	Epsilon                   float32  `json:"epsilon"`
	LabelList                 []string `json:"label_list"`
	TrainBatchSize            int      `json:"train_batch_size"`
	ValBatchSize              int      `json:"val_batch_size"`
	ArtifactPath              string   `json:"artifact_path"`

	Device string `json:"device"`
	// Seed が 0 の場合はグローバルシード由来の乱数を使う。
	Seed                    int64   `json:"seed"`
	Epochs                  int     `json:"epochs"`
	MaxSeqLen               int     `json:"max_seq_len"`
	HiddenSize              int     `json:"hidden_size"`
	GeneratorHiddenSize     int     `json:"generator_hidden_size"`
	DiscriminatorHiddenSize int     `json:"discriminator_hidden_size"`
	Dropout                 float32 `json:"dropout"`
	WeightDecay             float32 `json:"weight_decay"`
	// Optimizer is "adamw" or "momentum".
	Optimizer      string  `json:"optimizer"`
	Momentum       float32 `json:"momentum"`
	UnlabeledLabel string  `json:"unlabeled_label"`
	// KeepProbs keeps validation probabilities outside inference mode.
	KeepProbs bool `json:"keep_probs"`
	Shuffle   bool `json:"shuffle"`
	// Parallelism が 0 の場合はデバイスの論理コア数を使う。
	Parallelism int `json:"parallelism"`
}

func Default() Config {
	return Config{
		LearningRateDiscriminator: 1e-3,
		LearningRateGenerator:     1e-3,
		GeneratorNoiseSize:        100,
		Epsilon:                   1e-8,
		TrainBatchSize:            32,
		ValBatchSize:              32,
		ArtifactPath:              "artifact/checkpoint",
		Device:                    "cpu",
		Seed:                      42,
		Epochs:                    10,
		MaxSeqLen:                 64,
		HiddenSize:                64,
		GeneratorHiddenSize:       64,
		DiscriminatorHiddenSize:   64,
		Dropout:                   0.1,
		WeightDecay:               0.01,
		Optimizer:                 "adamw",
		Momentum:                  0.9,
		UnlabeledLabel:            "UNK",
		Shuffle:                   true,
	}
}

// Load はJSONを読み込み、ゼロ値が無効なフィールドだけを既定値で埋める。
// dropout, weight_decay, seed, keep_probs, shuffle は書かれた値 (省略時はゼロ値) をそのまま使う。
func Load(path string) (Config, error) {
	c, err := jsonx.Load[Config](path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: load %s", path)
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Save(path string) error {
	return jsonx.Save(c, path)
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.LearningRateDiscriminator == 0 {
		c.LearningRateDiscriminator = d.LearningRateDiscriminator
	}
	if c.LearningRateGenerator == 0 {
		c.LearningRateGenerator = d.LearningRateGenerator
	}
	if c.GeneratorNoiseSize == 0 {
		c.GeneratorNoiseSize = d.GeneratorNoiseSize
	}
	if c.Epsilon == 0 {
		c.Epsilon = d.Epsilon
	}
	if c.TrainBatchSize == 0 {
		c.TrainBatchSize = d.TrainBatchSize
	}
	if c.ValBatchSize == 0 {
		c.ValBatchSize = d.ValBatchSize
	}
	if c.ArtifactPath == "" {
		c.ArtifactPath = d.ArtifactPath
	}
	if c.Device == "" {
		c.Device = d.Device
	}
	if c.Epochs == 0 {
		c.Epochs = d.Epochs
	}
	if c.MaxSeqLen == 0 {
		c.MaxSeqLen = d.MaxSeqLen
	}
	if c.HiddenSize == 0 {
		c.HiddenSize = d.HiddenSize
	}
	if c.GeneratorHiddenSize == 0 {
		c.GeneratorHiddenSize = d.GeneratorHiddenSize
	}
	if c.DiscriminatorHiddenSize == 0 {
		c.DiscriminatorHiddenSize = d.DiscriminatorHiddenSize
	}
	if c.Optimizer == "" {
		c.Optimizer = d.Optimizer
	}
	if c.Momentum == 0 {
		c.Momentum = d.Momentum
	}
	if c.UnlabeledLabel == "" {
		c.UnlabeledLabel = d.UnlabeledLabel
	}
}

func (c Config) NumLabels() int {
	return len(c.LabelList)
}

func (c Config) Validate() error {
	switch {
	case c.LearningRateDiscriminator <= 0 || c.LearningRateGenerator <= 0:
		return errors.Wrap(ErrInvalid, "learning rates must be positive")
	case c.GeneratorNoiseSize <= 0:
		return errors.Wrap(ErrInvalid, "generator_noise_size must be positive")
	case c.Epsilon <= 0:
		return errors.Wrap(ErrInvalid, "epsilon must be positive")
	case len(c.LabelList) == 0:
		return errors.Wrap(ErrInvalid, "label_list is empty")
	case c.TrainBatchSize <= 0 || c.ValBatchSize <= 0:
		return errors.Wrap(ErrInvalid, "batch sizes must be positive")
	case c.ArtifactPath == "":
		return errors.Wrap(ErrInvalid, "artifact_path is empty")
	case c.Epochs < 0:
		return errors.Wrap(ErrInvalid, "epochs must not be negative")
	case c.MaxSeqLen <= 0 || c.HiddenSize <= 0 || c.GeneratorHiddenSize <= 0 || c.DiscriminatorHiddenSize <= 0:
		return errors.Wrap(ErrInvalid, "model sizes must be positive")
	case c.Dropout < 0 || c.Dropout >= 1:
		return errors.Wrapf(ErrInvalid, "dropout %f outside [0, 1)", c.Dropout)
	case c.WeightDecay < 0:
		return errors.Wrap(ErrInvalid, "weight_decay must not be negative")
	case c.Parallelism < 0:
		return errors.Wrap(ErrInvalid, "parallelism must not be negative")
	case c.Optimizer != "adamw" && c.Optimizer != "momentum":
		return errors.Wrapf(ErrInvalid, "unknown optimizer %q", c.Optimizer)
	}

	seen := make(map[string]struct{}, len(c.LabelList))
	for _, label := range c.LabelList {
		if _, ok := seen[label]; ok {
			return errors.Wrapf(ErrInvalid, "duplicate label %q", label)
		}
		seen[label] = struct{}{}
	}
	if len(c.LabelList) == 1 && c.LabelList[0] == c.UnlabeledLabel {
		return errors.Wrapf(ErrInvalid, "label_list holds only unlabeled_label %q", c.UnlabeledLabel)
	}
	return nil
}
