package trainer

import (
	"fmt"
	"github.com/pkg/errors"
	"github.com/sw965/ganbert/model"
	"github.com/sw965/ganbert/optimizer"
	"github.com/sw965/omw/encoding/gobx"
	"path/filepath"
	"time"
)

// Checkpoint はエポック毎に1ファイル保存される。ファイルは上書きも削除もしない。
type Checkpoint struct {
	RunID string
	Epoch int

	Encoder       model.Parameters
	Generator     model.Parameters
	Discriminator model.Parameters

	GeneratorOptim     optimizer.State
	DiscriminatorOptim optimizer.State

	Train     TrainSummary
	Val       ValSummary
	CreatedAt time.Time
}

type CheckpointWriter struct {
	Dir string
}

func (w CheckpointWriter) Path(epoch int, valLoss float64) string {
	return filepath.Join(w.Dir, fmt.Sprintf("epoch_%d_%.5f.gob", epoch, valLoss))
}

func (w CheckpointWriter) Save(ckpt *Checkpoint) (string, error) {
	path := w.Path(ckpt.Epoch, ckpt.Val.Loss)
	if err := gobx.Save(ckpt, path); err != nil {
		return "", errors.Wrapf(err, "trainer: save checkpoint %s", path)
	}
	return path, nil
}

func LoadCheckpoint(path string) (*Checkpoint, error) {
	ckpt, err := gobx.Load[Checkpoint](path)
	if err != nil {
		return nil, errors.Wrapf(err, "trainer: load checkpoint %s", path)
	}
	return &ckpt, nil
}

// Checkpoint snapshots the models and optimizers. The parameters are copies.
func (t *Trainer) Checkpoint(epoch int, train TrainSummary, val ValSummary) *Checkpoint {
	return &Checkpoint{
		RunID:              t.runID,
		Epoch:              epoch,
		Encoder:            model.StateDict(t.encoder),
		Generator:          model.StateDict(t.generator),
		Discriminator:      model.StateDict(t.discriminator),
		GeneratorOptim:     t.GeneratorOptimizer.State(),
		DiscriminatorOptim: t.DiscriminatorOptimizer.State(),
		Train:              train,
		Val:                val,
		CreatedAt:          time.Now(),
	}
}

func (t *Trainer) Save(epoch int, train TrainSummary, val ValSummary) (string, error) {
	return t.checkpoints.Save(t.Checkpoint(epoch, train, val))
}

// Restore loads every model and optimizer from ckpt. Training continues
// from the epoch after ckpt.Epoch.
func (t *Trainer) Restore(ckpt *Checkpoint) error {
	if err := model.LoadStateDict(t.encoder, ckpt.Encoder); err != nil {
		return errors.Wrap(err, "trainer: restore encoder")
	}
	if err := model.LoadStateDict(t.generator, ckpt.Generator); err != nil {
		return errors.Wrap(err, "trainer: restore generator")
	}
	if err := model.LoadStateDict(t.discriminator, ckpt.Discriminator); err != nil {
		return errors.Wrap(err, "trainer: restore discriminator")
	}
	if err := t.GeneratorOptimizer.LoadState(ckpt.GeneratorOptim); err != nil {
		return errors.Wrap(err, "trainer: restore generator optimizer")
	}
	if err := t.DiscriminatorOptimizer.LoadState(ckpt.DiscriminatorOptim); err != nil {
		return errors.Wrap(err, "trainer: restore discriminator optimizer")
	}
	t.nextEpoch = ckpt.Epoch + 1
	return nil
}
