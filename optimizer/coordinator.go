package optimizer

import (
	"github.com/pkg/errors"
)

// Backwarder is a scalar loss that can push its gradient into the modules it
// was computed from. With retainGraph false the underlying graph is freed.
type Backwarder interface {
	Backward(retainGraph bool) error
}

// Coordinator steps the generator and discriminator optimizers from one
// shared forward graph.
type Coordinator struct {
	Generator     Optimizer
	Discriminator Optimizer
}

func NewCoordinator(gen, disc Optimizer) *Coordinator {
	return &Coordinator{Generator: gen, Discriminator: disc}
}

// Step の順序: 両方の勾配をゼロ → 生成器損失の逆伝播 (グラフ保持) → 識別器損失の逆伝播 → 両方を更新。
func (c *Coordinator) Step(genLoss, discLoss Backwarder) error {
	c.Generator.ZeroGrad()
	c.Discriminator.ZeroGrad()

	if err := genLoss.Backward(true); err != nil {
		return errors.Wrap(err, "generator backward")
	}
	if err := discLoss.Backward(false); err != nil {
		return errors.Wrap(err, "discriminator backward")
	}

	if err := c.Generator.Step(); err != nil {
		return errors.Wrap(err, "generator step")
	}
	if err := c.Discriminator.Step(); err != nil {
		return errors.Wrap(err, "discriminator step")
	}
	return nil
}
