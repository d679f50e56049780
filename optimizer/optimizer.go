// Package optimizer updates the parameters of model.Module groups from the
// gradients their backward closures accumulated.
package optimizer

import (
	"github.com/pkg/errors"
	"github.com/sw965/ganbert/model"
)

var ErrStateMismatch = errors.New("optimizer: state does not match the parameter groups")

type Optimizer interface {
	// ZeroGrad clears the gradients of every module in the group.
	ZeroGrad()
	Step() error
	State() State
	LoadState(State) error
}

// State is what a checkpoint needs to resume an optimizer. Buffers is keyed
// by buffer name and holds one GradBuffers per module.
type State struct {
	Step         int
	LearningRate float32
	Buffers      map[string][]model.GradBuffers
}

type group struct {
	modules []model.Module
}

func (g group) zeroGrad() {
	for _, m := range g.modules {
		m.ZeroGrad()
	}
}

func (g group) newBuffers() []model.GradBuffers {
	buffers := make([]model.GradBuffers, len(g.modules))
	for i, m := range g.modules {
		buffers[i] = m.Parameters().NewGradsZerosLike()
	}
	return buffers
}

// each は全パラメーターの (重み, 勾配, バッファ...) を平坦なスライスとして渡す。
func (g group) each(buffers [][]model.GradBuffers, f func(w, grad []float32, bufs [][]float32)) error {
	for i, m := range g.modules {
		params := m.Parameters()
		grads := m.Grads()
		if len(params) != len(grads) {
			return errors.Errorf("optimizer: module %d has %d parameters but %d gradients", i, len(params), len(grads))
		}
		for j := range params {
			p := &params[j]
			gr := &grads[j]
			if len(p.Weight.Data) != len(gr.Weight.Data) || len(p.Bias.Data) != len(gr.Bias.Data) {
				return errors.Errorf("optimizer: module %d layer %d gradient shape differs from parameter", i, j)
			}
			ws := make([][]float32, len(buffers))
			bs := make([][]float32, len(buffers))
			for k := range buffers {
				ws[k] = buffers[k][i][j].Weight.Data
				bs[k] = buffers[k][i][j].Bias.Data
			}
			f(p.Weight.Data, gr.Weight.Data, ws)
			f(p.Bias.Data, gr.Bias.Data, bs)
		}
	}
	return nil
}

func checkBuffers(name string, want, got []model.GradBuffers) error {
	if len(want) != len(got) {
		return errors.Wrapf(ErrStateMismatch, "%s: %d modules, state has %d", name, len(want), len(got))
	}
	for i := range want {
		if len(want[i]) != len(got[i]) {
			return errors.Wrapf(ErrStateMismatch, "%s: module %d has %d layers, state has %d", name, i, len(want[i]), len(got[i]))
		}
		for j := range want[i] {
			if len(want[i][j].Weight.Data) != len(got[i][j].Weight.Data) || len(want[i][j].Bias.Data) != len(got[i][j].Bias.Data) {
				return errors.Wrapf(ErrStateMismatch, "%s: module %d layer %d", name, i, j)
			}
		}
	}
	return nil
}

func cloneBuffers(buffers []model.GradBuffers) []model.GradBuffers {
	clone := make([]model.GradBuffers, len(buffers))
	for i, b := range buffers {
		clone[i] = b.Clone()
	}
	return clone
}

// Momentum は v ← μv − lr·g, w ← w + v で更新する。
type Momentum struct {
	group
	LearningRate float32
	Momentum     float32
	step         int
	velocity     []model.GradBuffers
}

func NewMomentum(lr, momentum float32, modules ...model.Module) *Momentum {
	g := group{modules: modules}
	return &Momentum{group: g, LearningRate: lr, Momentum: momentum, velocity: g.newBuffers()}
}

func (opt *Momentum) ZeroGrad() {
	opt.zeroGrad()
}

func (opt *Momentum) Step() error {
	lr := opt.LearningRate
	mu := opt.Momentum
	err := opt.each([][]model.GradBuffers{opt.velocity}, func(w, grad []float32, bufs [][]float32) {
		v := bufs[0]
		for i := range w {
			v[i] = (mu * v[i]) - (lr * grad[i])
			w[i] += v[i]
		}
	})
	if err != nil {
		return err
	}
	opt.step++
	return nil
}

func (opt *Momentum) State() State {
	return State{
		Step:         opt.step,
		LearningRate: opt.LearningRate,
		Buffers:      map[string][]model.GradBuffers{"velocity": cloneBuffers(opt.velocity)},
	}
}

func (opt *Momentum) LoadState(state State) error {
	velocity, ok := state.Buffers["velocity"]
	if !ok {
		return errors.Wrap(ErrStateMismatch, "Momentum: missing velocity")
	}
	if err := checkBuffers("Momentum", opt.velocity, velocity); err != nil {
		return err
	}
	opt.step = state.Step
	opt.LearningRate = state.LearningRate
	opt.velocity = cloneBuffers(velocity)
	return nil
}
